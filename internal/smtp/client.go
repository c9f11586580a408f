package smtp

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"
)

// ErrAuthFailed marks an AUTH PLAIN rejection, distinct from transport
// errors so callers can tell bad credentials from a dead connection.
var ErrAuthFailed = errors.New("smtp: authentication failed")

// SecurityType mirrors internal/imap's connection security options, since
// the wire-level concern (plain/implicit-TLS/STARTTLS) is the same for
// SMTP submission ports.
type SecurityType string

const (
	SecurityNone     SecurityType = "none"
	SecurityTLS      SecurityType = "tls"
	SecurityStartTLS SecurityType = "starttls"
)

// ClientConfig holds the configuration for connecting to an SMTP server.
type ClientConfig struct {
	Host     string
	Port     int
	Security SecurityType
	Username string
	Password string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	TLSConfig *tls.Config
}

// DefaultConfig returns the submission-port defaults (587/STARTTLS).
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Port:           587,
		Security:       SecurityStartTLS,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    2 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// Client speaks the SMTP submission dialog (EHLO, optional STARTTLS, AUTH,
// MAIL FROM/RCPT TO/DATA) over net/textproto, the same layer imapclient
// itself is built on.
type Client struct {
	config ClientConfig
	conn   net.Conn
	text   *textproto.Conn
	exts   map[string]string
	log    zerolog.Logger
}

// NewClient creates a new SMTP client but does not connect.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		log:    logging.WithComponent("smtp"),
	}
}

// Connect dials the server, performs EHLO (and STARTTLS if configured), and
// records the extensions the server advertised.
func (c *Client) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}

	c.log.Debug().Str("host", c.config.Host).Int("port", c.config.Port).
		Str("security", string(c.config.Security)).Msg("connecting to SMTP server")

	var conn net.Conn
	var err error
	if c.config.Security == SecurityTLS {
		tlsConfig := c.config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: c.config.Host}
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.conn = conn
	c.text = textproto.NewConn(&deadlineConn{
		Conn:         conn,
		readTimeout:  c.config.ReadTimeout,
		writeTimeout: c.config.WriteTimeout,
	})

	if _, _, err := c.text.ReadResponse(220); err != nil {
		c.text.Close()
		return fmt.Errorf("read greeting: %w", err)
	}

	if err := c.ehlo(); err != nil {
		c.text.Close()
		return err
	}

	if c.config.Security == SecurityStartTLS {
		if err := c.startTLS(); err != nil {
			c.text.Close()
			return err
		}
		if err := c.ehlo(); err != nil {
			c.text.Close()
			return err
		}
	}

	c.log.Info().Str("host", c.config.Host).Msg("connected to SMTP server")
	return nil
}

func (c *Client) ehlo() error {
	id, err := c.text.Cmd("EHLO localhost")
	if err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	_, msg, err := c.text.ReadResponse(250)
	if err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}

	exts := make(map[string]string)
	for _, line := range strings.Split(msg, "\n")[1:] {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		ext := strings.ToUpper(parts[0])
		arg := ""
		if len(parts) > 1 {
			arg = parts[1]
		}
		exts[ext] = arg
	}
	c.exts = exts
	return nil
}

func (c *Client) startTLS() error {
	id, err := c.text.Cmd("STARTTLS")
	if err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	c.text.StartResponse(id)
	_, _, err = c.text.ReadResponse(220)
	c.text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("starttls: %w", err)
	}

	tlsConfig := c.config.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: c.config.Host}
	}
	tlsConn := tls.Client(c.conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("starttls handshake: %w", err)
	}
	c.conn = tlsConn
	c.text = textproto.NewConn(&deadlineConn{
		Conn:         tlsConn,
		readTimeout:  c.config.ReadTimeout,
		writeTimeout: c.config.WriteTimeout,
	})
	return nil
}

// Login authenticates using AUTH PLAIN, the only mechanism spec §6
// requires (OAuth2/XOAUTH2 is out of scope).
func (c *Client) Login() error {
	if _, ok := c.exts["AUTH"]; !ok {
		return fmt.Errorf("server does not advertise AUTH")
	}

	saslClient := sasl.NewPlainClient("", c.config.Username, c.config.Password)
	_, resp, err := saslClient.Start()
	if err != nil {
		return fmt.Errorf("sasl start: %w", err)
	}

	id, err := c.text.Cmd("AUTH PLAIN %s", base64.StdEncoding.EncodeToString(resp))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	c.text.StartResponse(id)
	_, _, err = c.text.ReadResponse(235)
	c.text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return nil
}

// SendMail sends a single message from envelope-from to envelope-to
// recipients using the raw RFC822 bytes produced by ComposeMessage.ToRFC822.
func (c *Client) SendMail(from string, to []string, data []byte) error {
	if err := c.cmdExpect(250, "MAIL FROM:<%s>", from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.cmdExpect(250, "RCPT TO:<%s>", rcpt); err != nil {
			return err
		}
	}

	id, err := c.text.Cmd("DATA")
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	c.text.StartResponse(id)
	_, _, err = c.text.ReadResponse(354)
	c.text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	w := c.text.DotWriter()
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if _, _, err := c.text.ReadResponse(250); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return nil
}

func (c *Client) cmdExpect(code int, format string, args ...interface{}) error {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", format, err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	if _, _, err := c.text.ReadResponse(code); err != nil {
		return fmt.Errorf("%s: %w", format, err)
	}
	return nil
}

// Close sends QUIT and closes the underlying connection.
func (c *Client) Close() error {
	if c.text == nil {
		return nil
	}
	id, err := c.text.Cmd("QUIT")
	if err == nil {
		c.text.StartResponse(id)
		c.text.ReadResponse(221)
		c.text.EndResponse(id)
	}
	return c.text.Close()
}

// deadlineConn mirrors internal/imap's read/write deadline wrapper so a
// stalled SMTP server cannot block the worker indefinitely.
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
