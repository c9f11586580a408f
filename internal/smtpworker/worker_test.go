package smtpworker

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dusong7/nmail-go/internal/smtp"
)

// fakeSMTPServer accepts one connection and plays a minimal plaintext
// EHLO/AUTH/MAIL/RCPT/DATA/QUIT dialog, recording the DATA payload.
func fakeSMTPServer(t *testing.T, ln net.Listener, received *[]byte) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		w := func(s string) { conn.Write([]byte(s + "\r\n")) }
		r := bufio.NewReader(conn)
		readLine := func() string { line, _ := r.ReadString('\n'); return line }

		w("220 localhost ESMTP")
		readLine() // EHLO
		w("250-localhost")
		w("250 AUTH PLAIN")
		readLine() // AUTH PLAIN ...
		w("235 2.7.0 Authentication successful")
		readLine() // MAIL FROM
		w("250 OK")
		readLine() // RCPT TO
		w("250 OK")
		readLine() // DATA
		w("354 Start mail input")

		var buf strings.Builder
		for {
			line := readLine()
			if line == "" {
				break
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
			buf.WriteString(line)
		}
		*received = []byte(buf.String())
		w("250 OK queued")
		readLine() // QUIT
		w("221 Bye")
	}()
}

func testClientConfig(t *testing.T, ln net.Listener) smtp.ClientConfig {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	cfg := smtp.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	cfg.Security = smtp.SecurityNone
	cfg.Username = "user"
	cfg.Password = "pass"
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func TestDeliverSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var received []byte
	fakeSMTPServer(t, ln, &received)

	var mu sync.Mutex
	var results []SmtpResult

	w := New(Config{Client: testClientConfig(t, ln)}, func(r SmtpResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	w.Start()
	defer w.Stop()

	ref := w.Submit(Outbound{
		RFC822:       []byte("Subject: hi\r\n\r\nbody\r\n"),
		EnvelopeFrom: "a@example.com",
		EnvelopeTo:   []string{"b@example.com"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(results)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].OK {
		t.Fatalf("expected success, got error: %v", results[0].Err)
	}
	if results[0].OutboundRef != ref {
		t.Errorf("ref mismatch: got %s want %s", results[0].OutboundRef, ref)
	}
	if !strings.Contains(string(received), "Subject: hi") {
		t.Errorf("server did not receive expected payload, got %q", received)
	}
}

func TestDeliverUnreachableHostReportsNetworkKind(t *testing.T) {
	cfg := smtp.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1 // nothing listens here
	cfg.Security = smtp.SecurityNone
	cfg.ConnectTimeout = 200 * time.Millisecond

	var mu sync.Mutex
	var results []SmtpResult
	w := New(Config{Client: cfg}, func(r SmtpResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	w.Start()
	defer w.Stop()

	w.Submit(Outbound{RFC822: []byte("x"), EnvelopeFrom: "a@example.com", EnvelopeTo: []string{"b@example.com"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(results)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].OK {
		t.Fatal("expected failure for unreachable host")
	}
	if results[0].Kind != ErrNetwork {
		t.Errorf("expected ErrNetwork, got %v", results[0].Kind)
	}
}

func TestDrainErrorsClearsQueue(t *testing.T) {
	cfg := smtp.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Security = smtp.SecurityNone
	cfg.ConnectTimeout = 200 * time.Millisecond

	w := New(Config{Client: cfg}, nil)
	w.Start()
	defer w.Stop()

	w.Submit(Outbound{RFC822: []byte("x"), EnvelopeFrom: "a@example.com", EnvelopeTo: []string{"b@example.com"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if errs := w.DrainErrors(); len(errs) > 0 {
			if more := w.DrainErrors(); len(more) != 0 {
				t.Fatalf("expected DrainErrors to clear the queue, got %d leftover", len(more))
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a queued error after a failed delivery")
}
