// Package imap wraps github.com/emersion/go-imap/v2 with the connection,
// authentication, and folder/message operations the mail sync core needs:
// dial, LOGIN/AUTHENTICATE fallback, folder listing and selection, UID
// fetch, flag mutation, copy, and expunge.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"
)

// deadlineConn wraps a net.Conn to automatically set read/write deadlines
// before each operation. This prevents indefinite blocking on slow or dead
// connections that go-imap v2 doesn't handle with built-in timeouts.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// SecurityType represents the connection security method.
type SecurityType string

const (
	SecurityNone     SecurityType = "none"
	SecurityTLS      SecurityType = "tls"
	SecurityStartTLS SecurityType = "starttls"
)

// ClientConfig holds the configuration for connecting to an IMAP server.
type ClientConfig struct {
	Host     string
	Port     int
	Security SecurityType
	Username string
	Password string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TLSConfig is optional and lets callers pin or relax certificate
	// verification; nil uses the Go default with ServerName set to Host.
	TLSConfig *tls.Config
}

// DefaultConfig returns a ClientConfig with the timeouts spec §5 documents
// (per-command timeout default 30s; body fetches may run longer).
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Port:           993,
		Security:       SecurityTLS,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// Client wraps the go-imap client with the subset of operations the mail
// sync core drives.
type Client struct {
	config ClientConfig
	client *imapclient.Client
	caps   imap.CapSet
	log    zerolog.Logger
}

// NewClient creates a new IMAP client but does not connect.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		log:    logging.WithComponent("imap"),
	}
}

// Connect dials the server per config.Security and waits for the greeting.
func (c *Client) Connect() error {
	c.log.Debug().
		Str("host", c.config.Host).
		Int("port", c.config.Port).
		Str("security", string(c.config.Security)).
		Msg("connecting to IMAP server")

	client, err := dial(c.config, &imapclient.Options{})
	if err != nil {
		return err
	}
	c.client = client
	c.caps = c.client.Caps()

	c.log.Debug().Strs("caps", capsToStrings(c.caps)).Msg("server capabilities")
	c.log.Info().Str("host", c.config.Host).Msg("connected to IMAP server")

	return nil
}

// dial opens a connection per config.Security, applying options (used to
// attach a UnilateralDataHandler for the IDLE connection), and waits for
// the server greeting.
func dial(config ClientConfig, options *imapclient.Options) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	dialer := &net.Dialer{Timeout: config.ConnectTimeout}

	var client *imapclient.Client
	var err error

	switch config.Security {
	case SecurityTLS:
		tlsConfig := config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: config.Host}
		}
		rawConn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if dialErr != nil {
			return nil, fmt.Errorf("connect with TLS: %w", dialErr)
		}
		client = imapclient.New(&deadlineConn{
			Conn:         rawConn,
			readTimeout:  config.ReadTimeout,
			writeTimeout: config.WriteTimeout,
		}, options)

	case SecurityStartTLS:
		if config.TLSConfig != nil {
			options.TLSConfig = config.TLSConfig
		}
		client, err = imapclient.DialStartTLS(addr, options)
		if err != nil {
			return nil, fmt.Errorf("connect with STARTTLS: %w", err)
		}

	case SecurityNone:
		rawConn, dialErr := dialer.Dial("tcp", addr)
		if dialErr != nil {
			return nil, fmt.Errorf("connect: %w", dialErr)
		}
		client = imapclient.New(&deadlineConn{
			Conn:         rawConn,
			readTimeout:  config.ReadTimeout,
			writeTimeout: config.WriteTimeout,
		}, options)

	default:
		return nil, fmt.Errorf("unknown security type %q", config.Security)
	}

	if err := client.WaitGreeting(); err != nil {
		client.Close()
		return nil, fmt.Errorf("receive greeting: %w", err)
	}

	return client, nil
}

// loginRaw authenticates client with config's credentials, using LOGIN or
// falling back to AUTHENTICATE PLAIN when the server advertises
// LOGINDISABLED.
func loginRaw(client *imapclient.Client, config ClientConfig) error {
	if client.Caps().Has(imap.CapLoginDisabled) {
		saslClient := sasl.NewPlainClient("", config.Username, config.Password)
		if err := client.Authenticate(saslClient); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return nil
	}

	if err := client.Login(config.Username, config.Password).Wait(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

// ConnectWithHandler dials and authenticates a connection with a
// UnilateralDataHandler that translates EXISTS/EXPUNGE notifications into
// MailEvents, for use by IdleWatcher.
func ConnectWithHandler(config ClientConfig, onEvent func(MailEvent)) (*imapclient.Client, error) {
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					onEvent(MailEvent{Type: EventNewMail, Count: *data.NumMessages})
				}
			},
			Expunge: func(seqNum uint32) {
				onEvent(MailEvent{Type: EventExpunge, SeqNum: seqNum})
			},
		},
	}

	client, err := dial(config, options)
	if err != nil {
		return nil, err
	}

	if err := loginRaw(client, config); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func capsToStrings(caps imap.CapSet) []string {
	var result []string
	for cap := range caps {
		result = append(result, string(cap))
	}
	return result
}

// Login authenticates using LOGIN, or AUTHENTICATE PLAIN when the server
// advertises LOGINDISABLED.
func (c *Client) Login() error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	c.log.Debug().Str("username", c.config.Username).Msg("logging in")

	if err := loginRaw(c.client, c.config); err != nil {
		return err
	}

	c.caps = c.client.Caps()
	c.log.Info().Str("username", c.config.Username).Msg("logged in")

	return nil
}

// Close logs out and closes the underlying connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.log.Debug().Msg("closing IMAP connection")

	if err := c.client.Logout().Wait(); err != nil {
		c.log.Warn().Err(err).Msg("logout failed, closing anyway")
	}

	return c.client.Close()
}

// Caps returns the server capabilities observed at connect/login time.
func (c *Client) Caps() imap.CapSet { return c.caps }

// HasCap reports whether the server advertised cap.
func (c *Client) HasCap(cap imap.Cap) bool { return c.caps.Has(cap) }

// SupportsIdle reports whether the server advertised the IDLE extension.
func (c *Client) SupportsIdle() bool { return c.caps.Has(imap.CapIdle) }

// SupportsCondStore reports whether the server advertised CONDSTORE.
func (c *Client) SupportsCondStore() bool { return c.caps.Has(imap.CapCondStore) }

// Mailbox is a listed or selected IMAP folder.
type Mailbox struct {
	Name       string
	Delimiter  string
	Attributes []string

	UIDValidity   uint32
	UIDNext       uint32
	Messages      uint32
	Unseen        uint32
	HighestModSeq uint64
}

// ListMailboxes returns every folder the server reports.
func (c *Client) ListMailboxes() ([]*Mailbox, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	c.log.Debug().Msg("listing mailboxes")

	listCmd := c.client.List("", "*", nil)

	var mailboxes []*Mailbox
	for {
		mbox := listCmd.Next()
		if mbox == nil {
			break
		}

		mb := &Mailbox{
			Name:       mbox.Mailbox,
			Delimiter:  string(mbox.Delim),
			Attributes: make([]string, len(mbox.Attrs)),
		}
		for i, attr := range mbox.Attrs {
			mb.Attributes[i] = string(attr)
		}

		mailboxes = append(mailboxes, mb)
	}

	if err := listCmd.Close(); err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	c.log.Debug().Int("count", len(mailboxes)).Msg("listed mailboxes")

	return mailboxes, nil
}

// SelectMailbox selects name, honoring ctx cancellation since Wait blocks
// indefinitely otherwise.
func (c *Client) SelectMailbox(ctx context.Context, name string) (*Mailbox, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	c.log.Debug().Str("mailbox", name).Msg("selecting mailbox")

	type selectResult struct {
		data *imap.SelectData
		err  error
	}
	resultCh := make(chan selectResult, 1)
	go func() {
		data, err := c.client.Select(name, nil).Wait()
		resultCh <- selectResult{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("select mailbox: %w", result.err)
		}

		mb := &Mailbox{
			Name:        name,
			UIDValidity: result.data.UIDValidity,
			UIDNext:     uint32(result.data.UIDNext),
			Messages:    result.data.NumMessages,
		}
		if result.data.HighestModSeq != 0 {
			mb.HighestModSeq = result.data.HighestModSeq
		}

		c.log.Debug().
			Str("mailbox", name).
			Uint32("messages", result.data.NumMessages).
			Msg("selected mailbox")

		return mb, nil
	}
}

// RawClient returns the underlying imapclient.Client for operations (IDLE,
// streaming fetch) that need the unwrapped type.
func (c *Client) RawClient() *imapclient.Client { return c.client }

// AppendMessage appends msg to mailbox and returns the assigned UID.
func (c *Client) AppendMessage(mailbox string, flags []imap.Flag, date time.Time, msg []byte) (imap.UID, error) {
	if c.client == nil {
		return 0, fmt.Errorf("not connected")
	}

	c.log.Debug().Str("mailbox", mailbox).Int("size", len(msg)).Msg("appending message")

	options := &imap.AppendOptions{Flags: flags}
	if !date.IsZero() {
		options.Time = date
	}

	appendCmd := c.client.Append(mailbox, int64(len(msg)), options)
	if _, err := appendCmd.Write(msg); err != nil {
		return 0, fmt.Errorf("write message data: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return 0, fmt.Errorf("close append command: %w", err)
	}

	data, err := appendCmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}

	c.log.Debug().Str("mailbox", mailbox).Uint32("uid", uint32(data.UID)).Msg("message appended")

	return data.UID, nil
}

// StoreFlags adds (add=true) or removes (add=false) flags on uids. The
// mailbox must already be selected.
func (c *Client) StoreFlags(uids []imap.UID, flags []imap.Flag, add bool) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{Op: op, Flags: flags, Silent: true}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store flags: %w", err)
	}

	return nil
}

// CopyMessages copies uids to destMailbox. The source mailbox must already
// be selected.
func (c *Client) CopyMessages(uids []imap.UID, destMailbox string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	if _, err := c.client.Copy(uidSet, destMailbox).Wait(); err != nil {
		return fmt.Errorf("copy messages: %w", err)
	}

	return nil
}

// DeleteMessagesByUID marks uids \Deleted and expunges them, preferring
// UID EXPUNGE (RFC 4315) when the server supports UIDPLUS so that only the
// targeted UIDs are removed rather than every \Deleted message.
func (c *Client) DeleteMessagesByUID(uids []imap.UID) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagDeleted},
		Silent: true,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("mark messages deleted: %w", err)
	}

	if c.caps.Has(imap.CapUIDPlus) {
		if err := c.client.UIDExpunge(uidSet).Close(); err != nil {
			return fmt.Errorf("uid expunge: %w", err)
		}
	} else if err := c.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}

	return nil
}
