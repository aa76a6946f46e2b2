// Package mailer builds the digest email and submits it to a local MTA.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
)

// Defaults for a local MTA.
const (
	DefaultAddr      = "localhost:25"
	DefaultLocalName = "localhost"
)

// ErrSend wraps every failure to hand the message to the MTA.
var ErrSend = errors.New("could not send email")

// Header carries the values written verbatim into the envelope headers.
type Header struct {
	From    string
	To      string
	Subject string
}

// Options selects the MTA and the name announced in EHLO.
type Options struct {
	Addr      string
	LocalName string
}

// Sender submits one message per call over plain SMTP without
// authentication. There is no retry.
type Sender struct {
	opts   Options
	logger *slog.Logger
}

// NewSender fills in defaults and checks that Addr is host:port.
func NewSender(opts Options, logger *slog.Logger) (*Sender, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = DefaultAddr
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		return nil, fmt.Errorf("smtp address %q: %w", opts.Addr, err)
	}
	if opts.LocalName == "" {
		opts.LocalName = DefaultLocalName
	}
	return &Sender{opts: opts, logger: logger}, nil
}

// Send composes the message and submits it to the single recipient h.To.
// It returns the message as it was sent.
func (s *Sender) Send(ctx context.Context, h Header, body string) ([]byte, error) {
	raw, err := Compose(h, body, time.Now())
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	if err := s.submit(ctx, h.From, h.To, raw); err != nil {
		if s.logger != nil {
			s.logger.Error("smtp submission failed", "addr", s.opts.Addr, "to", h.To, "err", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}

	if s.logger != nil {
		s.logger.Info("digest sent", "addr", s.opts.Addr, "from", h.From, "to", h.To, "bytes", len(raw))
	}
	return raw, nil
}

func (s *Sender) submit(ctx context.Context, from, to string, raw []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.opts.Addr, err)
	}

	host, _, _ := net.SplitHostPort(s.opts.Addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp.NewClient: %w", err)
	}
	defer client.Close()

	if err := client.Hello(s.opts.LocalName); err != nil {
		return fmt.Errorf("client.Hello: %w", err)
	}
	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("client.Mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("client.Rcpt: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("client.Data: %w", err)
	}
	if _, err := writer.Write(raw); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writer.Write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("writer.Close: %w", err)
	}

	// the message is accepted once DATA completed
	if err := client.Quit(); err != nil && s.logger != nil {
		s.logger.Warn("smtp quit failed", "addr", s.opts.Addr, "err", err)
	}
	return nil
}

// Compose renders a single part text/plain message carrying body.
func Compose(h Header, body string, now time.Time) ([]byte, error) {
	var header mail.Header
	if h.From != "" {
		header.Set("From", h.From)
	}
	header.Set("To", h.To)
	header.SetSubject(h.Subject)
	header.SetDate(now)
	if err := header.GenerateMessageID(); err != nil {
		if err := header.GenerateMessageIDWithHostname(DefaultLocalName); err != nil {
			return nil, fmt.Errorf("generate message id: %w", err)
		}
	}
	header.Set("MIME-Version", "1.0")
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	header.Set("Content-Transfer-Encoding", transferEncoding(body))

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("mail.CreateSingleInlineWriter: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close body: %w", err)
	}

	return buf.Bytes(), nil
}

func transferEncoding(body string) string {
	for i := 0; i < len(body); i++ {
		if body[i] >= 0x80 {
			return "quoted-printable"
		}
	}
	return "7bit"
}
