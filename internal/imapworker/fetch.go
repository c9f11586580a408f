package imapworker

import (
	"fmt"
	"io"

	"github.com/dusong7/nmail-go/internal/cache"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

func listFoldersRemote(client *imapclient.Client) ([]string, error) {
	mailboxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	names := make([]string, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		names = append(names, mbox.Mailbox)
	}
	return names, nil
}

func listUIDsRemote(client *imapclient.Client) ([]uint32, error) {
	data, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	uids := make([]uint32, 0, len(data.AllUIDs()))
	for _, uid := range data.AllUIDs() {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func fetchHeadersRemote(client *imapclient.Client, uids []uint32) (map[uint32]cache.Header, error) {
	if len(uids) == 0 {
		return map[uint32]cache.Header{}, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(imap.UID(uid))
	}

	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		Flags:    true,
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)
	result := make(map[uint32]cache.Header)

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid imap.UID
		var envelope *imap.Envelope

		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataEnvelope:
				envelope = data.Envelope
			}
		}

		if uid == 0 || envelope == nil {
			continue
		}

		result[uint32(uid)] = headerFromEnvelope(envelope)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch headers: %w", err)
	}
	return result, nil
}

func headerFromEnvelope(envelope *imap.Envelope) cache.Header {
	h := cache.Header{
		Subject:   envelope.Subject,
		MessageID: envelope.MessageID,
		Date:      NormalizeDate(envelope.Date),
	}
	if len(envelope.From) > 0 {
		h.From = addressString(envelope.From[0])
	}
	h.To = addressListString(envelope.To)
	h.Cc = addressListString(envelope.Cc)
	h.Bcc = addressListString(envelope.Bcc)
	if len(envelope.InReplyTo) > 0 {
		h.InReplyTo = envelope.InReplyTo[0]
	}
	return h
}

func addressString(addr imap.Address) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Addr())
	}
	return addr.Addr()
}

func addressListString(addrs []imap.Address) string {
	s := ""
	for i, a := range addrs {
		if i > 0 {
			s += ", "
		}
		s += addressString(a)
	}
	return s
}

func fetchFlagsRemote(client *imapclient.Client, uids []uint32) (map[uint32]cache.Flags, error) {
	if len(uids) == 0 {
		return map[uint32]cache.Flags{}, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(imap.UID(uid))
	}

	fetchOptions := &imap.FetchOptions{UID: true, Flags: true}
	fetchCmd := client.Fetch(uidSet, fetchOptions)
	result := make(map[uint32]cache.Flags)

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		var uid imap.UID
		var flags []imap.Flag
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataFlags:
				flags = data.Flags
			}
		}
		if uid == 0 {
			continue
		}
		result[uint32(uid)] = flagsFromIMAP(flags)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch flags: %w", err)
	}
	return result, nil
}

func flagsFromIMAP(flags []imap.Flag) cache.Flags {
	var f cache.Flags
	for _, flag := range flags {
		switch flag {
		case imap.FlagSeen:
			f |= cache.FlagSeen
		case imap.FlagAnswered:
			f |= cache.FlagAnswered
		case imap.FlagFlagged:
			f |= cache.FlagFlagged
		case imap.FlagDeleted:
			f |= cache.FlagDeleted
		case imap.FlagDraft:
			f |= cache.FlagDraft
		}
	}
	return f
}

func flagsToIMAP(f cache.Flags) []imap.Flag {
	var flags []imap.Flag
	if f.Has(cache.FlagSeen) {
		flags = append(flags, imap.FlagSeen)
	}
	if f.Has(cache.FlagAnswered) {
		flags = append(flags, imap.FlagAnswered)
	}
	if f.Has(cache.FlagFlagged) {
		flags = append(flags, imap.FlagFlagged)
	}
	if f.Has(cache.FlagDeleted) {
		flags = append(flags, imap.FlagDeleted)
	}
	if f.Has(cache.FlagDraft) {
		flags = append(flags, imap.FlagDraft)
	}
	return flags
}

const maxMessageBytes = 64 << 20

func fetchBodyRemote(client *imapclient.Client, uid uint32) (*cache.Body, cache.Header, error) {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, cache.Header{}, fmt.Errorf("uid %d not found", uid)
	}

	var envelope *imap.Envelope
	var raw []byte

	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataEnvelope:
			envelope = data.Envelope
		case imapclient.FetchItemDataBodySection:
			if data.Literal != nil {
				raw, _ = io.ReadAll(io.LimitReader(data.Literal, maxMessageBytes))
			}
		}
	}

	body, err := parseBody(raw)
	if err != nil {
		return nil, cache.Header{}, err
	}

	var header cache.Header
	if envelope != nil {
		header = headerFromEnvelope(envelope)
	}
	return body, header, nil
}
