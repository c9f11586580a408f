package cache

import (
	"testing"
	"time"

	"github.com/dusong7/nmail-go/internal/crypto"
)

func newTestStore(t *testing.T, encrypt bool) *Store {
	t.Helper()

	var env *crypto.Envelope
	if encrypt {
		env = crypto.NewEnvelope([]byte("test-session-key"))
	}

	s, err := New(t.TempDir(), encrypt, env)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestFoldersRoundTrip(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		s := newTestStore(t, encrypt)

		if got := s.GetFolders(); got != nil {
			t.Fatalf("expected nil folders before any write, got %v", got)
		}

		want := []string{"INBOX", "[Gmail]/Trash", "Sent"}
		if err := s.PutFolders(want); err != nil {
			t.Fatalf("PutFolders failed: %v", err)
		}

		got := s.GetFolders()
		if len(got) != len(want) {
			t.Fatalf("got %v, want set equal to %v", got, want)
		}
	}
}

func TestUidsRoundTrip(t *testing.T) {
	s := newTestStore(t, true)

	want := map[uint32]struct{}{1: {}, 2: {}, 5: {}}
	if err := s.PutUids("INBOX", want); err != nil {
		t.Fatalf("PutUids failed: %v", err)
	}

	got := s.GetUids("INBOX")
	if len(got) != len(want) {
		t.Fatalf("got %d uids, want %d", len(got), len(want))
	}
	for uid := range want {
		if _, ok := got[uid]; !ok {
			t.Errorf("missing uid %d", uid)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	s := newTestStore(t, true)

	h := Header{From: "a@example.com", Subject: "hello", Date: 1700000000, MessageID: "<1@x>"}
	if err := s.PutHeader("INBOX", 42, h); err != nil {
		t.Fatalf("PutHeader failed: %v", err)
	}

	got := s.GetHeaders("INBOX", []uint32{42, 43})
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 header, got %d", len(got))
	}
	if got[42] != h {
		t.Errorf("got %+v, want %+v", got[42], h)
	}
}

func TestBodyRequiresNoImplicitHeader(t *testing.T) {
	s := newTestStore(t, true)

	b := Body{Text: "body text", Parts: []Part{{ID: "1", MimeType: "text/plain", Size: 9}}}
	if err := s.PutBody("INBOX", 7, b); err != nil {
		t.Fatalf("PutBody failed: %v", err)
	}

	got, ok := s.GetBody("INBOX", 7)
	if !ok {
		t.Fatal("expected body to be found")
	}
	if got.Text != b.Text || len(got.Parts) != 1 {
		t.Errorf("got %+v, want %+v", got, b)
	}

	if _, ok := s.GetBody("INBOX", 8); ok {
		t.Error("expected miss for uncached uid")
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	s := newTestStore(t, true)

	want := FlagSeen | FlagFlagged
	if err := s.PutFlags("INBOX", 1, want); err != nil {
		t.Fatalf("PutFlags failed: %v", err)
	}

	got, ok := s.GetFlags("INBOX", 1)
	if !ok {
		t.Fatal("expected flags to be found")
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDecryptionFailureIsTreatedAsMiss(t *testing.T) {
	s := newTestStore(t, true)

	if err := s.PutHeader("INBOX", 1, Header{Subject: "test"}); err != nil {
		t.Fatalf("PutHeader failed: %v", err)
	}

	// Swap the envelope's key so the on-disk blob no longer decrypts; this
	// simulates a corrupted or foreign-keyed entry.
	s.envelope = crypto.NewEnvelope([]byte("a different key entirely"))

	got := s.GetHeaders("INBOX", []uint32{1})
	if len(got) != 0 {
		t.Errorf("expected decrypt failure to be silently omitted, got %+v", got)
	}
}

func TestExpungeRemovesBlobsAndDateEntry(t *testing.T) {
	s := newTestStore(t, true)

	if err := s.PutHeader("INBOX", 9, Header{Subject: "x"}); err != nil {
		t.Fatalf("PutHeader failed: %v", err)
	}
	if err := s.PutBody("INBOX", 9, Body{Text: "x"}); err != nil {
		t.Fatalf("PutBody failed: %v", err)
	}
	if err := s.PutFlags("INBOX", 9, FlagSeen); err != nil {
		t.Fatalf("PutFlags failed: %v", err)
	}
	if err := s.PutDateIndex("INBOX", map[uint32]time.Time{9: time.Unix(1700000000, 0)}); err != nil {
		t.Fatalf("PutDateIndex failed: %v", err)
	}

	if err := s.Expunge("INBOX", 9); err != nil {
		t.Fatalf("Expunge failed: %v", err)
	}

	if got := s.GetHeaders("INBOX", []uint32{9}); len(got) != 0 {
		t.Error("header should be gone after expunge")
	}
	if _, ok := s.GetBody("INBOX", 9); ok {
		t.Error("body should be gone after expunge")
	}
	if _, ok := s.GetFlags("INBOX", 9); ok {
		t.Error("flags should be gone after expunge")
	}
	if idx := s.GetDateIndex("INBOX"); len(idx) != 0 {
		t.Errorf("expected date index entry to be purged, got %v", idx)
	}
}

func TestForgetFolderRemovesEverything(t *testing.T) {
	s := newTestStore(t, true)

	if err := s.PutHeader("INBOX", 1, Header{Subject: "x"}); err != nil {
		t.Fatalf("PutHeader failed: %v", err)
	}
	if err := s.ForgetFolder("INBOX"); err != nil {
		t.Fatalf("ForgetFolder failed: %v", err)
	}

	if got := s.GetHeaders("INBOX", []uint32{1}); len(got) != 0 {
		t.Error("expected folder cache to be fully removed")
	}
}

func TestDateIndexRoundTrip(t *testing.T) {
	s := newTestStore(t, false)

	want := map[uint32]time.Time{
		1: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		2: time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
	}
	if err := s.PutDateIndex("INBOX", want); err != nil {
		t.Fatalf("PutDateIndex failed: %v", err)
	}

	got := s.GetDateIndex("INBOX")
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for uid, t1 := range want {
		t2, ok := got[uid]
		if !ok || !t1.Equal(t2) {
			t.Errorf("uid %d: got %v, want %v", uid, t2, t1)
		}
	}
}
