package imap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
)

// IdleConfig configures the IDLE watch loop.
type IdleConfig struct {
	// IdleTimeout is how long to stay in IDLE before restarting the
	// command (RFC 2177 recommends well under 29 minutes).
	IdleTimeout time.Duration

	// EventSendTimeout bounds how long sendEvent waits before dropping an
	// event when the receiver is stuck.
	EventSendTimeout time.Duration

	// HealthCheckEnabled runs a NOOP before entering IDLE to detect a
	// half-dead connection before committing to a long-lived command.
	HealthCheckEnabled bool

	// ShutdownTimeout bounds how long Stop waits for the loop to exit
	// before force-closing the underlying connection.
	ShutdownTimeout time.Duration
}

// DefaultIdleConfig returns the watch-loop defaults.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		IdleTimeout:        10 * time.Minute,
		EventSendTimeout:   2 * time.Second,
		HealthCheckEnabled: true,
		ShutdownTimeout:    5 * time.Second,
	}
}

// MailEventType distinguishes the two unilateral notifications IDLE
// surfaces: new messages (EXISTS) and removals (EXPUNGE).
type MailEventType int

const (
	EventNewMail MailEventType = iota
	EventExpunge
)

func (t MailEventType) String() string {
	switch t {
	case EventNewMail:
		return "new-mail"
	case EventExpunge:
		return "expunge"
	default:
		return "unknown"
	}
}

// MailEvent is a unilateral notification observed while idling on Folder.
type MailEvent struct {
	Type   MailEventType
	Folder string
	Count  uint32 // total message count, for EventNewMail
	SeqNum uint32 // sequence number, for EventExpunge
}

// IdleWatcher runs a single IDLE loop on its own connection, independent
// of the worker's main request/response connection, so a long-lived IDLE
// command never blocks interactive operations (spec §4.3: "idle/notify
// thread internal to the IMAP worker").
type IdleWatcher struct {
	config IdleConfig
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	folder  string
	client  *imapclient.Client
	events  chan<- MailEvent

	// connect dials and authenticates a fresh IMAP connection for IDLE use,
	// wiring onEvent as the unilateral data handler for EXISTS/EXPUNGE.
	connect func(ctx context.Context, onEvent func(MailEvent)) (*imapclient.Client, error)
}

// NewIdleWatcher returns a watcher for folder (typically "INBOX"), using
// connect to establish each underlying connection.
func NewIdleWatcher(folder string, config IdleConfig, connect func(ctx context.Context, onEvent func(MailEvent)) (*imapclient.Client, error)) *IdleWatcher {
	return &IdleWatcher{
		config:  config,
		log:     logging.WithComponent("imap-idle"),
		folder:  folder,
		connect: connect,
	}
}

func (w *IdleWatcher) sendEvent(event MailEvent) {
	select {
	case w.events <- event:
	case <-time.After(w.config.EventSendTimeout):
		w.log.Warn().Str("type", event.Type.String()).Msg("event channel full, dropping event")
	case <-w.stopCh:
	}
}

// Start begins the watch loop in a background goroutine. Events are
// delivered on events until Stop is called or ctx is canceled.
func (w *IdleWatcher) Start(ctx context.Context, events chan<- MailEvent) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.events = events
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop ends the watch loop, waiting up to ShutdownTimeout for a clean
// exit before forcing the connection closed.
func (w *IdleWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	timeout := w.config.ShutdownTimeout
	w.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		w.log.Warn().Msg("idle shutdown timed out, forcing close")
		w.mu.Lock()
		if w.client != nil {
			w.client.Close()
			w.client = nil
		}
		w.mu.Unlock()
	}
}

func (w *IdleWatcher) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		if w.client != nil {
			w.client.Close()
			w.client = nil
		}
		close(w.doneCh)
		w.mu.Unlock()
	}()

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		if err := w.ensureConnected(ctx); err != nil {
			w.log.Warn().Err(err).Dur("backoff", backoff).Msg("idle connect failed, retrying")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
				continue
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}

		backoff = time.Second

		if err := w.idleCycle(ctx); err != nil {
			w.log.Warn().Err(err).Msg("idle cycle failed")
			w.mu.Lock()
			if w.client != nil {
				w.client.Close()
				w.client = nil
			}
			w.mu.Unlock()
		}
	}
}

func (w *IdleWatcher) ensureConnected(ctx context.Context) error {
	w.mu.Lock()
	if w.client != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	client, err := w.connect(ctx, func(ev MailEvent) {
		ev.Folder = w.folder
		w.sendEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("connect for idle: %w", err)
	}

	if !client.Caps().Has("IDLE") {
		client.Close()
		return fmt.Errorf("server does not support IDLE")
	}

	if _, err := client.Select(w.folder, nil).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("select %s: %w", w.folder, err)
	}

	w.mu.Lock()
	w.client = client
	w.mu.Unlock()

	w.log.Info().Str("folder", w.folder).Msg("idle connection established")
	return nil
}

func (w *IdleWatcher) idleCycle(ctx context.Context) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil {
		return nil
	}

	if w.config.HealthCheckEnabled {
		if err := client.Noop().Wait(); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
	}

	idleCmd, err := client.Idle()
	if err != nil {
		return fmt.Errorf("start idle: %w", err)
	}

	timer := time.NewTimer(w.config.IdleTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		idleCmd.Close()
		return nil
	case <-w.stopCh:
		idleCmd.Close()
		return nil
	case <-timer.C:
		return idleCmd.Close()
	}
}
