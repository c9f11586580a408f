package smtpworker

import "github.com/google/uuid"

// ErrorKind classifies why an Outbound failed, so the UI can phrase the
// failure without inspecting error strings.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrNetwork
	ErrTimeout
	ErrAuth
	ErrProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrTimeout:
		return "timeout"
	case ErrAuth:
		return "auth"
	case ErrProtocol:
		return "protocol"
	default:
		return "none"
	}
}

// Outbound is one message queued for delivery.
type Outbound struct {
	Ref          string // caller-assigned correlation id, defaults to a fresh UUID if empty
	RFC822       []byte
	EnvelopeFrom string
	EnvelopeTo   []string
	StoreSent    bool // APPEND to SentFolder through ImapWorker on success
}

// SmtpResult answers an Outbound once delivery is attempted.
type SmtpResult struct {
	OutboundRef string
	OK          bool
	Kind        ErrorKind
	Err         error
}

// ResultHandler is invoked from the worker's own goroutine, never the
// submitting one.
type ResultHandler func(SmtpResult)

func newRef() string {
	return uuid.NewString()
}
