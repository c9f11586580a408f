package imapworker

import (
	"errors"
	"time"

	"github.com/emersion/go-imap/v2"
)

var errOffline = errors.New("imapworker: worker is offline")

var timeZero = time.Time{}

func uidListToIMAP(uids []uint32) ([]imap.UID, error) {
	result := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		if uid == 0 {
			return nil, errors.New("imapworker: zero is not a valid UID")
		}
		result = append(result, imap.UID(uid))
	}
	return result, nil
}
