// Package smtpworker is the background worker described by spec §4.4: a
// single FIFO of outbound messages delivered over one reused SMTP
// connection, with no automatic retry and an error queue the UI drains on
// its own schedule.
package smtpworker

import (
	"errors"
	"net"
	"sync"

	"github.com/dusong7/nmail-go/internal/imapworker"
	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/dusong7/nmail-go/internal/smtp"
	"github.com/rs/zerolog"
)

// ActionSubmitter is the subset of imapworker.Worker that StoreSent needs.
// Satisfied by *imapworker.Worker; an interface here avoids forcing every
// caller to wire a real one in tests.
type ActionSubmitter interface {
	SubmitAction(imapworker.Action)
}

// Config configures a Worker.
type Config struct {
	Client      smtp.ClientConfig
	SentFolder  string
	AppendDraft ActionSubmitter // required when an Outbound sets StoreSent
}

// Worker is the SmtpWorker of spec §4.4.
type Worker struct {
	cfg Config
	log zerolog.Logger

	onResult ResultHandler

	mu       sync.Mutex
	queue    []Outbound
	errQueue []SmtpResult

	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	client *smtp.Client
}

// New constructs a Worker. Call Start to begin processing.
func New(cfg Config, onResult ResultHandler) *Worker {
	return &Worker{
		cfg:      cfg,
		log:      logging.WithComponent("smtp-worker"),
		onResult: onResult,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the worker's run loop.
func (w *Worker) Start() {
	go w.run()
}

// Stop drains the queue and closes the connection, then returns once the
// run loop has exited.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Worker) wakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues an Outbound. Non-blocking. Returns the ref that will
// appear on the matching SmtpResult (Outbound.Ref if set, else a fresh
// one).
func (w *Worker) Submit(o Outbound) string {
	if o.Ref == "" {
		o.Ref = newRef()
	}
	w.mu.Lock()
	w.queue = append(w.queue, o)
	w.mu.Unlock()
	w.wakeUp()
	return o.Ref
}

// DrainErrors returns and clears the accumulated failed-send queue, for
// the UI to surface once it leaves whatever modal state it was in.
func (w *Worker) DrainErrors() []SmtpResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	errs := w.errQueue
	w.errQueue = nil
	return errs
}

func (w *Worker) popNext() (Outbound, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Outbound{}, false
	}
	o := w.queue[0]
	w.queue = w.queue[1:]
	return o, true
}

func (w *Worker) run() {
	defer close(w.doneCh)
	defer w.closeClient()

	for {
		o, ok := w.popNext()
		if ok {
			w.deliver(o)
			continue
		}

		select {
		case <-w.wake:
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) closeClient() {
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
}

func (w *Worker) ensureConnected() error {
	if w.client != nil {
		return nil
	}
	client := smtp.NewClient(w.cfg.Client)
	if err := client.Connect(); err != nil {
		return err
	}
	if err := client.Login(); err != nil {
		client.Close()
		return err
	}
	w.client = client
	return nil
}

func (w *Worker) deliver(o Outbound) {
	if err := w.ensureConnected(); err != nil {
		w.fail(o, classifyErr(err), err)
		return
	}

	if err := w.client.SendMail(o.EnvelopeFrom, o.EnvelopeTo, o.RFC822); err != nil {
		w.closeClient() // connection is suspect after a mid-dialog failure
		w.fail(o, classifyErr(err), err)
		return
	}

	if o.StoreSent && w.cfg.AppendDraft != nil && w.cfg.SentFolder != "" {
		w.cfg.AppendDraft.SubmitAction(imapworker.Action{
			Kind:   imapworker.UploadDraft,
			Folder: w.cfg.SentFolder,
			RFC822: o.RFC822,
		})
	}

	res := SmtpResult{OutboundRef: o.Ref, OK: true}
	w.log.Debug().Str("ref", o.Ref).Msg("message delivered")
	if w.onResult != nil {
		w.onResult(res)
	}
}

func (w *Worker) fail(o Outbound, kind ErrorKind, err error) {
	res := SmtpResult{OutboundRef: o.Ref, OK: false, Kind: kind, Err: err}
	w.log.Warn().Err(err).Str("ref", o.Ref).Str("kind", kind.String()).Msg("delivery failed")

	w.mu.Lock()
	w.errQueue = append(w.errQueue, res)
	w.mu.Unlock()

	if w.onResult != nil {
		w.onResult(res)
	}
}

func classifyErr(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}
	if errors.Is(err, smtp.ErrAuthFailed) {
		return ErrAuth
	}
	return ErrProtocol
}
