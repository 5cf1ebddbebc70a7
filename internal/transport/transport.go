// Package transport provides the concrete net/tls implementation of the
// Transport collaborator spec.md §6 treats as external: connect, send,
// recv (a line or N raw bytes), set_options(active_one_shot), and
// upgrade_tls. The wire and session packages depend only on the
// Transport interface; this package is the one piece of socket I/O the
// rest of the module needs to actually run against a server.
package transport

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"
)

// Transport is the external collaborator the session drives: one
// logical task owns it exclusively (spec §5) and never issues a second
// concurrent read or write against it.
type Transport interface {
	// Send writes p in full. Returns an error on any partial write or
	// connection failure.
	Send(p []byte) error

	// RecvLine reads up to and including the next CRLF.
	RecvLine() ([]byte, error)

	// RecvN reads exactly n raw bytes (a synchronizing literal's payload).
	RecvN(n int) ([]byte, error)

	// SetOneShot arms (or disarms) a single asynchronous arrival
	// notification: while armed, the next Recv* call may block
	// indefinitely waiting for server-initiated data (used while idling);
	// while disarmed, reads use the configured command timeout.
	SetOneShot(enabled bool) error

	// UpgradeTLS performs a TLS handshake on the existing socket in
	// place, replacing the underlying connection (used by STARTTLS).
	UpgradeTLS(cfg *tls.Config) error

	// Close shuts down the underlying socket.
	Close() error
}

// Config controls how Dial establishes the underlying connection.
type Config struct {
	// ImplicitTLS wraps the connection in TLS before the IMAP greeting
	// is read (port 993). STARTTLS upgrades a plaintext connection later
	// via UpgradeTLS instead.
	ImplicitTLS bool
	TLSConfig   *tls.Config

	// DialTimeout bounds the initial TCP/TLS handshake.
	DialTimeout time.Duration

	// CommandTimeout bounds a Recv* call while not one-shot-armed.
	CommandTimeout time.Duration
}

type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config
	oneShot bool
}

// Dial connects to host:port per cfg, returning a ready Transport. If
// cfg.ImplicitTLS is set, the TCP connection is wrapped in TLS before
// returning (used for IMAPS on port 993); plaintext STARTTLS upgrades
// happen later via UpgradeTLS.
func Dial(host string, port int, cfg Config) (Transport, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	dialer := &net.Dialer{Timeout: nonZero(cfg.DialTimeout, 30*time.Second)}

	var conn net.Conn
	var err error
	if cfg.ImplicitTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, cfg.TLSConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	return &netTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg,
	}, nil
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (t *netTransport) Send(p []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(nonZero(t.cfg.CommandTimeout, 30*time.Second)))
	n, err := t.conn.Write(p)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("transport: short write (%d of %d bytes)", n, len(p))
	}
	return nil
}

func (t *netTransport) RecvLine() ([]byte, error) {
	t.applyDeadline()
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("transport: read line: %w", err)
	}
	return line, nil
}

func (t *netTransport) RecvN(n int) ([]byte, error) {
	t.applyDeadline()
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(t.reader, buf); err != nil {
		return nil, fmt.Errorf("transport: read %d bytes: %w", n, err)
	}
	return buf, nil
}

func (t *netTransport) applyDeadline() {
	if t.oneShot {
		t.conn.SetReadDeadline(time.Time{})
		return
	}
	t.conn.SetReadDeadline(time.Now().Add(nonZero(t.cfg.CommandTimeout, 30*time.Second)))
}

func (t *netTransport) SetOneShot(enabled bool) error {
	t.oneShot = enabled
	return nil
}

func (t *netTransport) UpgradeTLS(cfg *tls.Config) error {
	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("transport: TLS handshake: %w", err)
	}
	t.conn = tlsConn
	t.reader = bufio.NewReader(tlsConn)
	return nil
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}
