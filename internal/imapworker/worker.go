// Package imapworker is the background worker that services mail
// fetch/update requests against a remote IMAP endpoint, using a CacheStore
// as a write-through/serve-from layer. It owns the only long-lived IMAP
// connection the process holds (plus a second one for IDLE) and runs its
// request queue on a single goroutine.
package imapworker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dusong7/nmail-go/internal/cache"
	"github.com/dusong7/nmail-go/internal/imap"
	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
)

// Config configures a Worker.
type Config struct {
	Client       imap.ClientConfig
	Online       bool
	InboxFolder  string
	BackoffStart time.Duration
	BackoffMax   time.Duration
}

// DefaultConfig returns the backoff defaults spec §4.3 documents (1s
// start, 60s cap).
func DefaultConfig() Config {
	return Config{
		InboxFolder:  "INBOX",
		BackoffStart: time.Second,
		BackoffMax:   60 * time.Second,
	}
}

type item struct {
	req *Request
	act *Action
}

// Worker is the ImapWorker described by spec §4.3: two priority FIFOs
// (Interactive drains completely before Prefetch), a connection state
// machine with lazy SELECT and exponential backoff, and an IDLE watch
// loop for new-mail notification.
type Worker struct {
	cfg   Config
	store *cache.Store
	log   zerolog.Logger

	onResponse ResponseHandler
	onResult   ResultHandler
	onStatus   StatusHandler

	mu              sync.Mutex
	interactive     []item
	prefetchQ       []item
	pendingPrefetch map[string]struct{}
	generation      uint64

	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	client         *imap.Client
	state          ConnState
	selectedFolder string
	backoff        time.Duration
	nextAttempt    time.Time

	idle       *imap.IdleWatcher
	idleEvents chan imap.MailEvent
}

// New constructs a Worker. Call Start to begin processing.
func New(store *cache.Store, cfg Config, onResponse ResponseHandler, onResult ResultHandler, onStatus StatusHandler) *Worker {
	if cfg.BackoffStart == 0 {
		cfg.BackoffStart = time.Second
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	return &Worker{
		cfg:             cfg,
		store:           store,
		log:             logging.WithComponent("imap-worker"),
		onResponse:      onResponse,
		onResult:        onResult,
		onStatus:        onStatus,
		pendingPrefetch: make(map[string]struct{}),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		backoff:         cfg.BackoffStart,
		idleEvents:      make(chan imap.MailEvent, 16),
	}
}

// Start begins the worker's run loop and, if online, the IDLE watcher.
func (w *Worker) Start() {
	if w.cfg.Online {
		w.idle = imap.NewIdleWatcher(w.cfg.InboxFolder, imap.DefaultIdleConfig(), func(ctx context.Context, onEvent func(imap.MailEvent)) (*imapclient.Client, error) {
			return imap.ConnectWithHandler(w.cfg.Client, onEvent)
		})
		w.idle.Start(context.Background(), w.idleEvents)
	}
	go w.run()
}

func (w *Worker) wakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues a read-only Request. Non-blocking.
func (w *Worker) Submit(r Request) {
	w.mu.Lock()
	if r.Priority == Prefetch {
		key := prefetchKey(r)
		if _, dup := w.pendingPrefetch[key]; dup {
			w.mu.Unlock()
			return
		}
		if r.Generation == 0 {
			r.Generation = w.generation
		}
		w.pendingPrefetch[key] = struct{}{}
		w.prefetchQ = append(w.prefetchQ, item{req: &r})
	} else {
		w.interactive = append(w.interactive, item{req: &r})
	}
	w.mu.Unlock()
	w.wakeUp()
}

// SubmitAction enqueues a mutating Action onto the Interactive lane.
func (w *Worker) SubmitAction(a Action) {
	w.mu.Lock()
	w.interactive = append(w.interactive, item{act: &a})
	w.mu.Unlock()
	w.wakeUp()
}

// BumpGeneration invalidates queued Prefetch entries from earlier
// generations (folder change, offline toggle).
func (w *Worker) BumpGeneration() uint64 {
	w.mu.Lock()
	w.generation++
	gen := w.generation
	w.mu.Unlock()
	return gen
}

func prefetchKey(r Request) string {
	uids := append([]uint32(nil), r.UIDs...)
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return fmt.Sprintf("%d|%s|%v", r.Kind, r.Folder, uids)
}

func (w *Worker) popNext() (item, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.interactive) > 0 {
		it := w.interactive[0]
		w.interactive = w.interactive[1:]
		return it, true
	}

	for len(w.prefetchQ) > 0 {
		it := w.prefetchQ[0]
		w.prefetchQ = w.prefetchQ[1:]
		if it.req != nil {
			delete(w.pendingPrefetch, prefetchKey(*it.req))
			if it.req.Generation < w.generation {
				continue
			}
		}
		return it, true
	}
	return item{}, false
}

// Wait blocks until the worker has fully shut down (after LogoutAndExit).
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)

	for {
		it, ok := w.popNext()
		if ok {
			if w.handle(it) {
				return
			}
			continue
		}

		select {
		case <-w.wake:
		case ev := <-w.idleEvents:
			w.handleIdleEvent(ev)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) handle(it item) (exit bool) {
	if it.act != nil {
		return w.handleAction(*it.act)
	}
	w.handleRequest(*it.req)
	return false
}

func (w *Worker) emitStatus(s StatusUpdate) {
	if w.onStatus != nil {
		w.onStatus(s)
	}
}

func (w *Worker) emitResponse(r Response) {
	if w.onResponse != nil {
		w.onResponse(r)
	}
}

func (w *Worker) emitResult(r Result) {
	if w.onResult != nil {
		w.onResult(r)
	}
}

// ensureConnected dials and authenticates if Disconnected, honoring the
// exponential backoff window between attempts.
func (w *Worker) ensureConnected() error {
	if w.state != Disconnected {
		return nil
	}
	if time.Now().Before(w.nextAttempt) {
		return fmt.Errorf("imapworker: backing off until %s", w.nextAttempt.Format(time.RFC3339))
	}

	client := imap.NewClient(w.cfg.Client)
	if err := client.Connect(); err != nil {
		w.scheduleRetry(err)
		return err
	}
	if err := client.Login(); err != nil {
		client.Close()
		w.scheduleRetry(err)
		return err
	}

	w.client = client
	w.state = Authenticated
	w.backoff = w.cfg.BackoffStart
	w.emitStatus(StatusUpdate{Connected: true, State: Authenticated})
	return nil
}

func (w *Worker) scheduleRetry(err error) {
	w.state = Disconnected
	w.selectedFolder = ""
	w.nextAttempt = time.Now().Add(w.backoff)
	w.emitStatus(StatusUpdate{Connected: false, State: Disconnected, Error: err})
	w.backoff *= 2
	if w.backoff > w.cfg.BackoffMax {
		w.backoff = w.cfg.BackoffMax
	}
}

// ensureSelected performs a lazy SELECT: only when folder differs from
// the currently selected one.
func (w *Worker) ensureSelected(folder string) error {
	if w.state == Selected && w.selectedFolder == folder {
		return nil
	}
	if _, err := w.client.SelectMailbox(context.Background(), folder); err != nil {
		w.scheduleRetry(err)
		return err
	}
	w.state = Selected
	w.selectedFolder = folder
	w.emitStatus(StatusUpdate{Connected: true, State: Selected, Folder: folder})
	return nil
}

func (w *Worker) handleIdleEvent(ev imap.MailEvent) {
	folder := ev.Folder
	if folder == "" {
		folder = w.cfg.InboxFolder
	}
	w.refreshFolderAndNotify(folder)
}

// refreshFolderAndNotify re-lists UIDs for folder, reconciles expunged
// entries out of the cache, and surfaces newly arrived UIDs.
func (w *Worker) refreshFolderAndNotify(folder string) {
	if err := w.ensureConnected(); err != nil {
		return
	}
	if err := w.ensureSelected(folder); err != nil {
		return
	}

	oldSet := w.store.GetUids(folder)
	remoteUIDs, err := listUIDsRemote(w.client.RawClient())
	if err != nil {
		w.scheduleRetry(err)
		return
	}

	newSet := make(map[uint32]struct{}, len(remoteUIDs))
	var newUIDs []uint32
	for _, uid := range remoteUIDs {
		newSet[uid] = struct{}{}
		if _, existed := oldSet[uid]; !existed {
			newUIDs = append(newUIDs, uid)
		}
	}
	for uid := range oldSet {
		if _, stillThere := newSet[uid]; !stillThere {
			w.store.Expunge(folder, uid)
		}
	}
	w.store.PutUids(folder, newSet)

	if len(newUIDs) > 0 {
		w.emitStatus(StatusUpdate{Connected: true, State: w.state, Folder: folder, NewUIDs: newUIDs})
	}
}
