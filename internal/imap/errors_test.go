package imap

import (
	"errors"
	"testing"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "eof", err: errors.New("unexpected EOF"), want: true},
		{name: "timeout", err: errors.New("i/o timeout"), want: true},
		{name: "bad login", err: errors.New("authentication failed: invalid credentials"), want: false},
		{name: "no such mailbox", err: errors.New("NO [TRYCREATE] mailbox does not exist"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMailEventTypeString(t *testing.T) {
	if got := EventNewMail.String(); got != "new-mail" {
		t.Errorf("got %q, want new-mail", got)
	}
	if got := EventExpunge.String(); got != "expunge" {
		t.Errorf("got %q, want expunge", got)
	}
	if got := MailEventType(99).String(); got != "unknown" {
		t.Errorf("got %q, want unknown", got)
	}
}
