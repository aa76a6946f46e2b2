package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Defaults applied by NewArchiver and Folder.
const (
	DefaultPort   = 993
	DefaultFolder = "Sent"
)

var (
	// ErrMissingHost is returned by NewArchiver without a host.
	ErrMissingHost  = errors.New("imap host is empty")
	// ErrEmptyMessage is returned by Append for an empty message.
	ErrEmptyMessage = errors.New("message is empty")
)

// Options describes the IMAP account and the target folder.
type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

// Archiver stores a copy of each sent digest in an IMAP folder.
type Archiver struct {
	opts   Options
	logger *slog.Logger
}

// NewArchiver validates opts. No connection is made until Append.
func NewArchiver(opts Options, logger *slog.Logger) (*Archiver, error) {
	if opts.Host == "" {
		return nil, ErrMissingHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("imap port %d out of range", opts.Port)
	}
	return &Archiver{opts: opts, logger: logger}, nil
}

// Folder is the mailbox messages are appended to.
func (a *Archiver) Folder() string {
	if a.opts.Folder == "" {
		return DefaultFolder
	}
	return a.opts.Folder
}

// Append uploads raw flagged \Seen with the internal date at. The folder is
// created when missing. Each call uses its own connection.
func (a *Archiver) Append(ctx context.Context, raw []byte, at time.Time) error {
	if len(raw) == 0 {
		return ErrEmptyMessage
	}

	client, cleanup, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.appendMessage(client, raw, at); err != nil {
		return fmt.Errorf("append to %s: %w", a.Folder(), err)
	}

	if a.logger != nil {
		a.logger.Info("digest archived", "mailbox", a.Folder(), "bytes", len(raw))
	}
	return nil
}

func (a *Archiver) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(a.opts.Host, strconv.Itoa(a.opts.Port))
	options := &imapclient.Options{}

	if a.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         a.opts.Host,
			InsecureSkipVerify: a.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if a.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(a.opts.Username, a.opts.Password).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := a.ensureMailbox(client); err != nil {
		stopClose()
		_ = client.Close()
		return nil, nil, err
	}

	if a.logger != nil {
		a.logger.Debug("imap connection established", "address", address, "user", a.opts.Username, "mailbox", a.Folder(), "tls", a.opts.UseTLS)
	}

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && a.logger != nil {
				a.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && a.logger != nil {
			a.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (a *Archiver) appendMessage(client *imapclient.Client, raw []byte, at time.Time) error {
	opts := &imapv2.AppendOptions{Flags: []imapv2.Flag{imapv2.FlagSeen}}
	if !at.IsZero() {
		opts.Time = at
	}

	cmd := client.Append(a.Folder(), int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (a *Archiver) ensureMailbox(client *imapclient.Client) error {
	target := a.Folder()
	if err := client.Create(target, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if a.logger != nil {
				a.logger.Debug("imap mailbox already exists", "mailbox", target)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if a.logger != nil {
		a.logger.Info("imap mailbox created", "mailbox", target)
	}

	return nil
}
