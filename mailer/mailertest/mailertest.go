// Package mailertest runs an in-process SMTP server that records what it
// receives.
package mailertest

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
)

// Delivery is one message accepted by the server.
type Delivery struct {
	From string
	To   []string
	Data []byte
}

// Server accepts every message unless Reject was called.
type Server struct {
	Addr string

	mu         sync.Mutex
	reject     bool
	deliveries []Delivery
}

// Start listens on a loopback port until the test ends.
func Start(t testing.TB) *Server {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{Addr: l.Addr().String()}
	server := smtp.NewServer(&backend{server: s})
	server.Domain = "localhost"
	server.AuthDisabled = true
	server.ErrorLog = log.New(io.Discard, "", 0)

	go func() { _ = server.Serve(l) }()
	t.Cleanup(func() { _ = server.Close() })
	return s
}

// Deliveries returns the messages accepted so far.
func (s *Server) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// Reject makes RCPT TO fail for every recipient.
func (s *Server) Reject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = true
}

func (s *Server) rejecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reject
}

func (s *Server) record(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

// ClosingListener accepts connections and closes them before the greeting.
func ClosingListener(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l.Addr().String()
}

// UnusedAddr returns a loopback address nothing listens on.
func UnusedAddr(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type backend struct {
	server *Server
}

func (b *backend) Login(_ *smtp.ConnectionState, _, _ string) (smtp.Session, error) {
	return nil, smtp.ErrAuthUnsupported
}

func (b *backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return &session{server: b.server}, nil
}

type session struct {
	server  *Server
	current Delivery
}

func (s *session) Reset() { s.current = Delivery{} }

func (s *session) Logout() error { return nil }

func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.current.From = from
	return nil
}

func (s *session) Rcpt(to string) error {
	if s.server.rejecting() {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	}
	s.current.To = append(s.current.To, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(s.current.To) == 0 {
		return errors.New("no recipients")
	}
	s.current.Data = data
	s.server.record(s.current)
	return nil
}
