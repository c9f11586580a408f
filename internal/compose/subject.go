// Package compose normalizes subject lines when replying to or forwarding
// a message.
package compose

import "strings"

var replyPrefixes = map[string]struct{}{
	"re:": {},
	"sv:": {},
}

var forwardPrefixes = map[string]struct{}{
	"fw":  {},
	"fwd": {},
	"vb":  {},
}

// MakeReplySubject prepends "Re: " unless subject already carries a
// recognized reply prefix (case-insensitive).
func MakeReplySubject(subject string) string {
	prefix := strings.ToLower(firstN(subject, 3))
	if _, ok := replyPrefixes[prefix]; ok {
		return subject
	}
	return "Re: " + subject
}

// MakeForwardSubject prepends "Fwd: " unless subject's portion before its
// first colon is a recognized forward prefix (case-insensitive).
func MakeForwardSubject(subject string) string {
	parts := strings.SplitN(subject, ":", 2)
	if len(parts) > 1 {
		if _, ok := forwardPrefixes[strings.ToLower(parts[0])]; ok {
			return subject
		}
	}
	return "Fwd: " + subject
}

func firstN(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
