package smtp

import (
	"bytes"
	"strings"
	"testing"
)

func TestToRFC822PlainTextOnly(t *testing.T) {
	msg := &ComposeMessage{
		From:     Address{Name: "Alice", Address: "alice@example.com"},
		To:       []Address{{Address: "bob@example.com"}},
		Subject:  "hello",
		TextBody: "just saying hi",
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}

	s := string(raw)
	for _, want := range []string{
		"From: Alice <alice@example.com>\r\n",
		"To: bob@example.com\r\n",
		"Subject: hello\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"MIME-Version: 1.0\r\n",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("missing header %q in:\n%s", want, s)
		}
	}
	if !strings.Contains(s, "just saying hi") {
		t.Errorf("missing body text")
	}
	if strings.Contains(s, "multipart") {
		t.Errorf("plain-only message should not be multipart")
	}
}

func TestToRFC822HTMLOnly(t *testing.T) {
	msg := &ComposeMessage{
		From:     Address{Address: "alice@example.com"},
		To:       []Address{{Address: "bob@example.com"}},
		Subject:  "hi",
		HTMLBody: "<p>hi</p>",
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}
	if !strings.Contains(string(raw), "Content-Type: text/html; charset=utf-8") {
		t.Errorf("expected html content type, got:\n%s", raw)
	}
}

func TestToRFC822MultipartAlternative(t *testing.T) {
	msg := &ComposeMessage{
		From:     Address{Address: "alice@example.com"},
		To:       []Address{{Address: "bob@example.com"}},
		Subject:  "both",
		TextBody: "plain",
		HTMLBody: "<p>html</p>",
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, "multipart/alternative") {
		t.Fatalf("expected multipart/alternative, got:\n%s", s)
	}
	if !strings.Contains(s, "text/plain") || !strings.Contains(s, "text/html") {
		t.Errorf("expected both text and html parts")
	}
}

func TestToRFC822MultipartMixedWithAttachment(t *testing.T) {
	msg := &ComposeMessage{
		From:     Address{Address: "alice@example.com"},
		To:       []Address{{Address: "bob@example.com"}},
		Subject:  "report",
		TextBody: "see attached",
		Attachments: []Attachment{
			{Filename: "report.csv", ContentType: "text/csv", Content: []byte("a,b,c\n1,2,3\n")},
		},
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, "multipart/mixed") {
		t.Fatalf("expected multipart/mixed, got:\n%s", s)
	}
	if !strings.Contains(s, `filename="report.csv"`) {
		t.Errorf("expected attachment filename header")
	}
	if !strings.Contains(s, "Content-Transfer-Encoding: base64") {
		t.Errorf("expected base64 attachment encoding")
	}
}

func TestToRFC822InlineAttachmentInRelatedPart(t *testing.T) {
	msg := &ComposeMessage{
		From:     Address{Address: "alice@example.com"},
		To:       []Address{{Address: "bob@example.com"}},
		Subject:  "inline image",
		HTMLBody: `<img src="cid:logo">`,
		Attachments: []Attachment{
			{Filename: "logo.png", ContentID: "logo", Inline: true, Content: []byte{0x89, 0x50, 0x4e, 0x47}},
		},
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, "multipart/related") {
		t.Fatalf("expected multipart/related for inline attachment, got:\n%s", s)
	}
	if !strings.Contains(s, "Content-ID: <logo>") {
		t.Errorf("expected Content-ID header")
	}
}

func TestToRFC822ThreadingHeaders(t *testing.T) {
	msg := &ComposeMessage{
		From:       Address{Address: "alice@example.com"},
		To:         []Address{{Address: "bob@example.com"}},
		Subject:    "Re: hello",
		TextBody:   "replying",
		InReplyTo:  "<abc@example.com>",
		References: []string{"<abc@example.com>", "<def@example.com>"},
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, "In-Reply-To: <abc@example.com>\r\n") {
		t.Errorf("missing In-Reply-To header")
	}
	if !strings.Contains(s, "References: <abc@example.com> <def@example.com>\r\n") {
		t.Errorf("missing References header")
	}
}

func TestToRFC822SubjectEncodingForNonASCII(t *testing.T) {
	msg := &ComposeMessage{
		From:     Address{Address: "alice@example.com"},
		To:       []Address{{Address: "bob@example.com"}},
		Subject:  "héllo",
		TextBody: "x",
	}

	raw, err := msg.ToRFC822()
	if err != nil {
		t.Fatalf("ToRFC822: %v", err)
	}
	if !bytes.Contains(raw, []byte("=?utf-8?")) {
		t.Errorf("expected QEncoding for non-ASCII subject, got:\n%s", raw)
	}
}

func TestBase64LineWrapperWrapsAt76Chars(t *testing.T) {
	var buf bytes.Buffer
	w := &base64LineWrapper{Writer: &buf}
	data := bytes.Repeat([]byte("A"), 200)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, line := range strings.Split(buf.String(), "\r\n") {
		if len(line) > 76 {
			t.Errorf("line exceeds 76 chars: %d", len(line))
		}
	}
}
