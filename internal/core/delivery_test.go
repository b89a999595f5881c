package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Auth(a smtp.Auth) error { return m.Called(a).Error(0) }
func (m *mockClient) Mail(from string) error { return m.Called(from).Error(0) }
func (m *mockClient) Rcpt(to string) error   { return m.Called(to).Error(0) }
func (m *mockClient) Reset() error           { return m.Called().Error(0) }
func (m *mockClient) Quit() error            { return m.Called().Error(0) }
func (m *mockClient) Close() error           { return m.Called().Error(0) }

func (m *mockClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	w, _ := args.Get(0).(io.WriteCloser)
	return w, args.Error(1)
}

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) Dial(ctx context.Context, account Account) (Client, error) {
	args := m.Called(ctx, account)
	c, _ := args.Get(0).(Client)
	return c, args.Error(1)
}

// dataSink collects everything written through Data.
type dataSink struct {
	bytes.Buffer
	closed int
}

func (d *dataSink) Close() error {
	d.closed++
	return nil
}

type pauseRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (p *pauseRecorder) sleep(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, d)
}

func testAccount() Account {
	return Account{
		Name:       "gmail",
		User:       "bot@x.com",
		Password:   "secret",
		Host:       "smtp.x.com",
		Port:       587,
		UseTLS:     true,
		SenderName: "Bot",
	}
}

func testMessages(emails ...string) []Message {
	msgs := make([]Message, len(emails))
	for i, e := range emails {
		msgs[i] = Message{ToEmail: e, Subject: "Hi " + e, Body: "Body for " + e}
	}
	return msgs
}

func TestEngine_Deliver_IsolatesRecipientFailure(t *testing.T) {
	acc := testAccount()
	sink := &dataSink{}

	client := new(mockClient)
	client.On("Auth", mock.Anything).Return(nil).Once()
	client.On("Mail", acc.User).Return(nil)
	client.On("Rcpt", "a@x.com").Return(nil)
	client.On("Rcpt", "b@x.com").Return(errors.New("550 mailbox unavailable"))
	client.On("Rcpt", "c@x.com").Return(nil)
	client.On("Data").Return(sink, nil)
	client.On("Reset").Return(nil)
	client.On("Quit").Return(nil).Once()

	dialer := new(mockDialer)
	dialer.On("Dial", mock.Anything, acc).Return(client, nil).Once()

	pauses := &pauseRecorder{}
	engine := NewEngine(dialer, EngineOptions{Delay: 2 * time.Second, TrailingPause: true, Sleep: pauses.sleep})

	outcome, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com", "b@x.com", "c@x.com"))
	require.NoError(t, err)

	require.Len(t, outcome.Success, 2)
	assert.Equal(t, "a@x.com", outcome.Success[0].ToEmail)
	assert.Equal(t, "c@x.com", outcome.Success[1].ToEmail)

	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "b@x.com", outcome.Failed[0].ToEmail)
	assert.Contains(t, outcome.Failed[0].Error, "550")
	assert.Equal(t, 3, outcome.Total())

	assert.Equal(t, 0, outcome.Success[0].Position)
	assert.Equal(t, 1, outcome.Failed[0].Position)
	assert.Equal(t, 2, outcome.Success[1].Position)

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, pauses.pauses)
	assert.Equal(t, 2, sink.closed)
	assert.Contains(t, sink.String(), "To: a@x.com")
	assert.Contains(t, sink.String(), "To: c@x.com")
	assert.NotContains(t, sink.String(), "To: b@x.com")

	client.AssertNumberOfCalls(t, "Reset", 1)
	client.AssertNotCalled(t, "Close")
	client.AssertExpectations(t)
	dialer.AssertExpectations(t)
}

func TestEngine_Deliver_NoTrailingPause(t *testing.T) {
	acc := testAccount()

	client := new(mockClient)
	client.On("Auth", mock.Anything).Return(nil)
	client.On("Mail", mock.Anything).Return(nil)
	client.On("Rcpt", mock.Anything).Return(nil)
	client.On("Data").Return(&dataSink{}, nil)
	client.On("Quit").Return(nil)

	dialer := new(mockDialer)
	dialer.On("Dial", mock.Anything, acc).Return(client, nil)

	pauses := &pauseRecorder{}
	engine := NewEngine(dialer, EngineOptions{Delay: time.Second, TrailingPause: false, Sleep: pauses.sleep})

	outcome, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com", "b@x.com", "c@x.com"))
	require.NoError(t, err)
	assert.Len(t, outcome.Success, 3)
	assert.Empty(t, outcome.Failed)
	assert.Len(t, pauses.pauses, 2)
}

func TestEngine_Deliver_AuthFailureAborts(t *testing.T) {
	acc := testAccount()

	client := new(mockClient)
	client.On("Auth", mock.Anything).Return(errors.New("535 5.7.8 bad credentials"))
	client.On("Quit").Return(nil).Once()

	dialer := new(mockDialer)
	dialer.On("Dial", mock.Anything, acc).Return(client, nil)

	pauses := &pauseRecorder{}
	engine := NewEngine(dialer, EngineOptions{Delay: time.Second, TrailingPause: true, Sleep: pauses.sleep})

	_, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com", "b@x.com"))
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "535")

	client.AssertNotCalled(t, "Mail", mock.Anything)
	client.AssertNumberOfCalls(t, "Quit", 1)
	assert.Empty(t, pauses.pauses)
}

func TestEngine_Deliver_ConnectionFailure(t *testing.T) {
	acc := testAccount()

	dialer := new(mockDialer)
	dialer.On("Dial", mock.Anything, acc).Return(nil, errors.New("dial tcp: connection refused"))

	engine := NewEngine(dialer, EngineOptions{Sleep: func(time.Duration) { t.Error("unexpected pause") }})

	outcome, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com"))
	require.ErrorIs(t, err, ErrConnection)
	assert.Zero(t, outcome.Total())
}

func TestEngine_Deliver_QuitFailureClosesConnection(t *testing.T) {
	acc := testAccount()

	client := new(mockClient)
	client.On("Auth", mock.Anything).Return(nil)
	client.On("Mail", mock.Anything).Return(nil)
	client.On("Rcpt", mock.Anything).Return(nil)
	client.On("Data").Return(&dataSink{}, nil)
	client.On("Quit").Return(errors.New("broken pipe"))
	client.On("Close").Return(nil).Once()

	dialer := new(mockDialer)
	dialer.On("Dial", mock.Anything, acc).Return(client, nil)

	engine := NewEngine(dialer, EngineOptions{})

	outcome, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com"))
	require.NoError(t, err)
	assert.Len(t, outcome.Success, 1)
	client.AssertExpectations(t)
}

func TestEngine_Deliver_DataFailureRecorded(t *testing.T) {
	acc := testAccount()

	client := new(mockClient)
	client.On("Auth", mock.Anything).Return(nil)
	client.On("Mail", mock.Anything).Return(nil)
	client.On("Rcpt", mock.Anything).Return(nil)
	client.On("Data").Return(nil, errors.New("554 transaction failed")).Once()
	client.On("Data").Return(&dataSink{}, nil)
	client.On("Reset").Return(nil)
	client.On("Quit").Return(nil)

	dialer := new(mockDialer)
	dialer.On("Dial", mock.Anything, acc).Return(client, nil)

	outcome, err := NewEngine(dialer, EngineOptions{}).Deliver(context.Background(), acc, testMessages("a@x.com", "b@x.com"))
	require.NoError(t, err)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "a@x.com", outcome.Failed[0].ToEmail)
	assert.Contains(t, outcome.Failed[0].Error, "554")
	require.Len(t, outcome.Success, 1)
	assert.Equal(t, "b@x.com", outcome.Success[0].ToEmail)
}

// fakeSMTPServer is a minimal plaintext SMTP server for exercising SMTPDialer.
type fakeSMTPServer struct {
	ln       net.Listener
	password string

	mu       sync.Mutex
	messages []string
	quits    int
}

func startFakeSMTPServer(t *testing.T, password string) *fakeSMTPServer {
	t.Helper()
	return startFakeSMTPServerOn(t, "127.0.0.1", password)
}

func startFakeSMTPServerOn(t *testing.T, host, password string) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil && host != "127.0.0.1" {
		t.Skipf("cannot listen on %s: %v", host, err)
	}
	require.NoError(t, err)

	s := &fakeSMTPServer{ln: ln, password: password}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP fake")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 AUTH PLAIN")
		case "AUTH":
			fields := strings.Fields(line)
			creds, _ := base64.StdEncoding.DecodeString(fields[len(fields)-1])
			parts := strings.Split(string(creds), "\x00")
			if len(parts) == 3 && parts[2] == s.password {
				_ = tp.PrintfLine("235 2.7.0 Authentication successful")
			} else {
				_ = tp.PrintfLine("535 5.7.8 Authentication credentials invalid")
			}
		case "MAIL", "NOOP", "RSET":
			_ = tp.PrintfLine("250 OK")
		case "RCPT":
			if strings.Contains(line, "reject") {
				_ = tp.PrintfLine("550 5.1.1 No such user")
			} else {
				_ = tp.PrintfLine("250 OK")
			}
		case "DATA":
			_ = tp.PrintfLine("354 End data with <CR><LF>.<CR><LF>")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, string(data))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK queued")
		case "QUIT":
			s.mu.Lock()
			s.quits++
			s.mu.Unlock()
			_ = tp.PrintfLine("221 Bye")
			return
		default:
			_ = tp.PrintfLine("502 Command not implemented")
		}
	}
}

func (s *fakeSMTPServer) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), s.quits
}

func TestSMTPDialer_EndToEnd(t *testing.T) {
	srv := startFakeSMTPServer(t, "secret")
	acc := Account{Name: "local", User: "bot@example.com", Password: "secret", Host: "127.0.0.1", Port: srv.port()}

	engine := NewEngine(SMTPDialer{Timeout: 5 * time.Second, LocalName: "test"}, EngineOptions{})
	outcome, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com", "reject@x.com", "c@x.com"))
	require.NoError(t, err)

	require.Len(t, outcome.Success, 2)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "reject@x.com", outcome.Failed[0].ToEmail)
	assert.Contains(t, outcome.Failed[0].Error, "550")

	assert.Eventually(t, func() bool {
		_, quits := srv.snapshot()
		return quits == 1
	}, time.Second, 10*time.Millisecond)

	messages, _ := srv.snapshot()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], "To: a@x.com")
	assert.Contains(t, messages[1], "To: c@x.com")
}

func TestSMTPDialer_BadPassword(t *testing.T) {
	srv := startFakeSMTPServer(t, "secret")
	acc := Account{Name: "local", User: "bot@example.com", Password: "wrong", Host: "127.0.0.1", Port: srv.port()}

	engine := NewEngine(SMTPDialer{Timeout: 5 * time.Second}, EngineOptions{})
	_, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com"))
	require.ErrorIs(t, err, ErrAuthentication)

	messages, _ := srv.snapshot()
	assert.Empty(t, messages)
}

func TestSMTPDialer_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	acc := Account{Name: "local", User: "u", Password: "p", Host: "127.0.0.1", Port: port}
	_, err = NewEngine(SMTPDialer{Timeout: time.Second}, EngineOptions{}).Deliver(context.Background(), acc, testMessages("a@x.com"))
	require.ErrorIs(t, err, ErrConnection)
}

func TestSMTPDialer_PlaintextAccountOnRemoteHost(t *testing.T) {
	srv := startFakeSMTPServerOn(t, "127.0.0.2", "secret")
	acc := Account{Name: "relay", User: "bot@example.com", Password: "secret", Host: "127.0.0.2", Port: srv.port()}

	engine := NewEngine(SMTPDialer{Timeout: 5 * time.Second, LocalName: "test"}, EngineOptions{})
	outcome, err := engine.Deliver(context.Background(), acc, testMessages("a@x.com", "b@x.com"))
	require.NoError(t, err)
	assert.Len(t, outcome.Success, 2)
	assert.Empty(t, outcome.Failed)

	assert.Eventually(t, func() bool {
		messages, _ := srv.snapshot()
		return len(messages) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSMTPAuth(t *testing.T) {
	remote := &smtp.ServerInfo{Name: "mail.internal", TLS: false, Auth: []string{"PLAIN"}}

	t.Run("plaintext account sends PLAIN without TLS", func(t *testing.T) {
		auth := smtpAuth(Account{User: "u", Password: "p", Host: "mail.internal"})
		mech, resp, err := auth.Start(remote)
		require.NoError(t, err)
		assert.Equal(t, "PLAIN", mech)
		assert.Equal(t, []byte("\x00u\x00p"), resp)

		next, err := auth.Next(nil, false)
		require.NoError(t, err)
		assert.Nil(t, next)
		_, err = auth.Next([]byte("challenge"), true)
		assert.Error(t, err)
	})

	t.Run("plaintext account checks host", func(t *testing.T) {
		auth := smtpAuth(Account{User: "u", Password: "p", Host: "other.internal"})
		_, _, err := auth.Start(remote)
		assert.Error(t, err)
	})

	t.Run("tls account refuses an unencrypted session", func(t *testing.T) {
		auth := smtpAuth(Account{User: "u", Password: "p", Host: "mail.internal", UseTLS: true})
		_, _, err := auth.Start(remote)
		assert.Error(t, err)
	})
}
