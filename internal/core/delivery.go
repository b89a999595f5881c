package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"time"

	"github.com/JonMunkholm/csvmailer/internal/logging"
)

// Client is the part of *smtp.Client the engine drives.
type Client interface {
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
}

// Dialer opens a greeted, encrypted (per account flags) SMTP session.
// Authentication is left to the caller.
type Dialer interface {
	Dial(ctx context.Context, account Account) (Client, error)
}

// SMTPDialer dials real SMTP servers with net/smtp.
type SMTPDialer struct {
	// Timeout bounds the TCP dial and every later read or write on the
	// connection. Zero means no limit.
	Timeout time.Duration

	// LocalName is sent in EHLO. Defaults to the host name.
	LocalName string
}

// Dial connects to account.Addr(). UseSSL wraps the socket in TLS from the
// start; otherwise UseTLS upgrades the session with STARTTLS after EHLO.
func (d SMTPDialer) Dial(ctx context.Context, account Account) (Client, error) {
	netDialer := &net.Dialer{Timeout: d.Timeout}
	tlsConfig := &tls.Config{ServerName: account.Host, MinVersion: tls.VersionTLS12}

	conn, err := netDialer.DialContext(ctx, "tcp", account.Addr())
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: d.Timeout}
	}

	// net/smtp only treats the session as encrypted when it is handed a
	// *tls.Conn, so the TLS layer sits on top of the deadline wrapper.
	if account.UseSSL {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, account.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := client.Hello(d.localName()); err != nil {
		client.Close()
		return nil, err
	}
	if account.UseTLS && !account.UseSSL {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return client, nil
}

func (d SMTPDialer) localName() string {
	if d.LocalName != "" {
		return d.LocalName
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

// deadlineConn refreshes the connection deadline before each read and write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Delay is the pause after each message.
	Delay time.Duration

	// TrailingPause keeps the pause after the last message too.
	TrailingPause bool

	// Sleep pauses between messages. Defaults to time.Sleep.
	Sleep func(time.Duration)

	// Now stamps the Date header. Defaults to time.Now.
	Now func() time.Time
}

// Engine sends a batch of messages over a single authenticated session.
// It holds no per-batch state and may be shared across goroutines.
type Engine struct {
	dialer        Dialer
	delay         time.Duration
	trailingPause bool
	sleep         func(time.Duration)
	now           func() time.Time
}

// NewEngine creates an engine that opens sessions with dialer.
func NewEngine(dialer Dialer, opts EngineOptions) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		dialer:        dialer,
		delay:         opts.Delay,
		trailingPause: opts.TrailingPause,
		sleep:         opts.Sleep,
		now:           opts.Now,
	}
}

// Deliver sends msgs in order from account.
//
// A connection or login failure aborts the batch before any message is
// attempted and returns ErrConnection or ErrAuthentication. After login,
// a failing message is recorded in Outcome.Failed and the batch continues.
// The session is closed on every exit path.
//
// ctx bounds the dial only; once the session is open every message is
// attempted.
func (e *Engine) Deliver(ctx context.Context, account Account, msgs []Message) (Outcome, error) {
	logger := logging.FromContext(ctx).With("account", account.Name)

	client, err := e.dialer.Dial(ctx, account)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %w", ErrConnection, account.Addr(), err)
	}
	defer closeSession(client, logger)

	if err := client.Auth(smtpAuth(account)); err != nil {
		return Outcome{}, fmt.Errorf("%w for %s: %w", ErrAuthentication, account.User, err)
	}

	outcome := Outcome{
		Success: make([]Message, 0, len(msgs)),
		Failed:  make([]FailedMessage, 0),
	}
	for i, msg := range msgs {
		msg.Position = i
		if err := e.sendOne(client, account, msg); err != nil {
			logger.Warn("recipient failed", "to", msg.ToEmail, "error", err)
			outcome.Failed = append(outcome.Failed, FailedMessage{Message: msg, Error: err.Error()})
			_ = client.Reset()
		} else {
			outcome.Success = append(outcome.Success, msg)
		}

		if e.delay > 0 && (e.trailingPause || i < len(msgs)-1) {
			e.sleep(e.delay)
		}
	}

	return outcome, nil
}

// smtpAuth returns PLAIN auth for account. smtp.PlainAuth refuses to send
// credentials over an unencrypted session to anything but localhost, so
// accounts configured with neither TLS nor SSL get plaintextAuth instead.
func smtpAuth(account Account) smtp.Auth {
	if account.UseTLS || account.UseSSL {
		return smtp.PlainAuth("", account.User, account.Password, account.Host)
	}
	return &plaintextAuth{username: account.User, password: account.Password, host: account.Host}
}

// plaintextAuth is PLAIN auth without the TLS requirement.
type plaintextAuth struct {
	username, password, host string
}

func (a *plaintextAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plaintextAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("unexpected server challenge")
	}
	return nil, nil
}

func (e *Engine) sendOne(client Client, account Account, msg Message) error {
	if err := client.Mail(account.User); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(msg.ToEmail); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(ComposeMessage(account, msg, e.now())); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return nil
}

func closeSession(client Client, logger *slog.Logger) {
	if err := client.Quit(); err != nil {
		logger.Debug("smtp quit failed, closing connection", "error", err)
		_ = client.Close()
	}
}
