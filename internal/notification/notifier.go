// Package notification delivers a best-effort OS desktop notification when
// new mail arrives. Failures are logged and swallowed — a missing D-Bus
// session or disabled notification center should never interrupt mail
// delivery.
package notification

import (
	"fmt"

	"github.com/dusong7/nmail-go/internal/imapworker"
	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/rs/zerolog"
)

// Notifier shows a single desktop notification.
type Notifier interface {
	Show(title, body string) error
}

// New returns the platform-appropriate Notifier.
func New() Notifier {
	return newPlatformNotifier()
}

// Sink adapts a Notifier to an imapworker.StatusHandler, firing one
// notification per StatusUpdate that carries newly-arrived UIDs.
type Sink struct {
	notifier Notifier
	log      zerolog.Logger
}

// NewSink wraps n for use as (or alongside) an imapworker.StatusHandler.
func NewSink(n Notifier) *Sink {
	return &Sink{notifier: n, log: logging.WithComponent("notification")}
}

// OnStatusUpdate is an imapworker.StatusHandler.
func (s *Sink) OnStatusUpdate(u imapworker.StatusUpdate) {
	if len(u.NewUIDs) == 0 {
		return
	}
	title := "New mail"
	body := fmt.Sprintf("%d new message(s) in %s", len(u.NewUIDs), u.Folder)
	if err := s.notifier.Show(title, body); err != nil {
		s.log.Debug().Err(err).Msg("failed to show new-mail notification")
	}
}
