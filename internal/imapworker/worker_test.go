package imapworker

import (
	"sync"
	"testing"
	"time"
)

func newTestWorker(t *testing.T) (*Worker, *sync.Mutex, *[]Response, *[]StatusUpdate) {
	t.Helper()
	store, err := newTestStore(t)
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}

	var mu sync.Mutex
	var responses []Response
	var statuses []StatusUpdate

	cfg := DefaultConfig()
	cfg.Online = false

	w := New(store, cfg,
		func(r Response) {
			mu.Lock()
			responses = append(responses, r)
			mu.Unlock()
		},
		func(Result) {},
		func(s StatusUpdate) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	)
	return w, &mu, &responses, &statuses
}

func waitForCount(t *testing.T, mu *sync.Mutex, n *[]Response, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(*n)
		mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d responses", want)
}

func TestInteractiveDrainsBeforePrefetch(t *testing.T) {
	w, mu, responses, _ := newTestWorker(t)

	w.Submit(Request{Kind: ListFolders, Priority: Prefetch})
	w.Submit(Request{Kind: ListUids, Folder: "INBOX", Priority: Interactive})
	w.Start()
	defer func() {
		w.SubmitAction(Action{Kind: LogoutAndExit})
		w.Wait()
	}()

	waitForCount(t, mu, responses, 2)

	mu.Lock()
	first := (*responses)[0]
	mu.Unlock()

	if first.Request.Kind != ListUids {
		t.Errorf("expected interactive ListUids to be served first, got kind %v", first.Request.Kind)
	}
}

func TestPrefetchDedup(t *testing.T) {
	w, mu, responses, _ := newTestWorker(t)

	req := Request{Kind: ListUids, Folder: "INBOX", Priority: Prefetch}
	w.Submit(req)
	w.Submit(req)
	w.Start()
	defer func() {
		w.SubmitAction(Action{Kind: LogoutAndExit})
		w.Wait()
	}()

	// Each processed ListUids request yields two responses offline
	// (from_cache, then OfflineMiss). A deduped queue produces exactly two.
	waitForCount(t, mu, responses, 2)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := len(*responses)
	mu.Unlock()
	if got != 2 {
		t.Errorf("expected exactly 2 responses from a deduped prefetch pair, got %d", got)
	}
}

func TestStalePrefetchDroppedOnGenerationBump(t *testing.T) {
	w, mu, responses, _ := newTestWorker(t)

	w.Submit(Request{Kind: ListUids, Folder: "INBOX", Priority: Prefetch})
	w.BumpGeneration()
	w.Start()
	defer func() {
		w.SubmitAction(Action{Kind: LogoutAndExit})
		w.Wait()
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := len(*responses)
	mu.Unlock()
	if got != 0 {
		t.Errorf("expected stale prefetch entry to be dropped, got %d responses", got)
	}
}

func TestLogoutAndExitStopsLoop(t *testing.T) {
	w, mu, _, statuses := newTestWorker(t)

	w.Start()
	w.SubmitAction(Action{Kind: LogoutAndExit})

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down after LogoutAndExit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*statuses) == 0 {
		t.Fatal("expected a status update on shutdown")
	}
	last := (*statuses)[len(*statuses)-1]
	if last.Connected {
		t.Errorf("expected final status to report disconnected")
	}
}

func TestOfflineFetchHeadersReportsOfflineMiss(t *testing.T) {
	w, mu, responses, _ := newTestWorker(t)

	w.Submit(Request{Kind: FetchHeaders, Folder: "INBOX", UIDs: []uint32{1, 2}, Priority: Interactive})
	w.Start()
	defer func() {
		w.SubmitAction(Action{Kind: LogoutAndExit})
		w.Wait()
	}()

	waitForCount(t, mu, responses, 2)

	mu.Lock()
	defer mu.Unlock()
	if (*responses)[0].FromCache != true {
		t.Errorf("first response should be from cache")
	}
	if (*responses)[1].Status != OfflineMiss {
		t.Errorf("second response should be OfflineMiss, got %v", (*responses)[1].Status)
	}
}
