package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dhcgn/mbox-digest/config"
	"github.com/dhcgn/mbox-digest/digest"
	"github.com/dhcgn/mbox-digest/imap"
	"github.com/dhcgn/mbox-digest/mailer"
	"github.com/dhcgn/mbox-digest/mbox"
	"github.com/dhcgn/mbox-digest/model"
	"github.com/dhcgn/mbox-digest/pgp"
	"github.com/dhcgn/mbox-digest/stats"
)

// ExitCode is the process exit status of a run.
type ExitCode int

const (
	ExitOK               ExitCode = 0
	ExitMboxMissing      ExitCode = 1
	ExitUsage            ExitCode = 2
	ExitKeyringMissing   ExitCode = 3
	ExitKeyNotFound      ExitCode = 4
	ExitSendFailed       ExitCode = 5
	ExitMailboxMalformed ExitCode = 6
	ExitCryptoFailed     ExitCode = 7
	ExitRemoveFailed     ExitCode = 8
)

// NoMailsMessage is printed when the mailbox holds no messages.
const NoMailsMessage = "No mails."

// Result is the outcome of one run. Message, when set, is meant for the
// user as a single line on standard output.
type Result struct {
	Code    ExitCode
	Message string
	Err     error
	Summary stats.Summary
}

// Sender delivers the encrypted digest.
type Sender interface {
	Send(ctx context.Context, h mailer.Header, body string) ([]byte, error)
}

// Archiver keeps a copy of the sent message.
type Archiver interface {
	Append(ctx context.Context, raw []byte, at time.Time) error
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSender replaces the SMTP sender built from the config.
func WithSender(s Sender) Option {
	return func(r *Runner) { r.sender = s }
}

// WithArchiver replaces the IMAP archiver built from the config. It is only
// used when archiving is enabled.
func WithArchiver(a Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// Runner executes one digest run for a config.
type Runner struct {
	cfg      config.Config
	logger   *slog.Logger
	sender   Sender
	archiver Archiver
}

// New returns a Runner. Sender and archiver default to the ones the config
// describes.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates the inputs, then reads, composes, encrypts and sends the
// digest. The mailbox is removed only after a successful send.
func (r *Runner) Run(ctx context.Context) Result {
	started := time.Now()
	summary := stats.Summary{DryRun: r.cfg.DryRun}

	res := r.run(ctx, &summary)
	summary.Duration = time.Since(started)
	summary.LastError = res.Err
	res.Summary = summary

	if r.logger != nil {
		if res.Err != nil {
			r.logger.Error("run failed", append(summary.LogAttrs(), "code", int(res.Code))...)
		} else {
			r.logger.Info("stats summary", summary.LogAttrs()...)
		}
	}
	return res
}

func (r *Runner) run(ctx context.Context, summary *stats.Summary) Result {
	cfg := r.cfg

	if err := cfg.Validate(); err != nil {
		return validationResult(cfg, err)
	}

	sender := r.sender
	if sender == nil && !cfg.DryRun {
		s, err := mailer.NewSender(mailer.Options{Addr: cfg.SMTPAddr, LocalName: cfg.Helo}, r.logger)
		if err != nil {
			return failure(ExitUsage, err, "Error: %v", err)
		}
		sender = s
	}

	messages, err := mbox.Read(cfg.MboxPath, r.logger)
	if err != nil {
		return failure(ExitMailboxMalformed, err, "Error: could not read %s: %v", cfg.MboxPath, err)
	}
	summary.Messages = len(messages)
	if len(messages) == 0 {
		return Result{Code: ExitOK, Message: NoMailsMessage}
	}

	plaintext := digest.Compose(messages)
	summary.DigestBytes = len(plaintext)

	keyring, err := pgp.OpenKeyring(cfg.GPGHome, r.logger)
	if err != nil {
		return failure(ExitCryptoFailed, err, "Error: could not read keyring in %s: %v", cfg.GPGHome, err)
	}

	term := cfg.KeyTerm()
	key, err := keyring.Lookup(term)
	if err != nil {
		return failure(ExitKeyNotFound, err, "Error: couldn't find public key for %s", term)
	}
	summary.KeyID = key.KeyID
	if r.logger != nil {
		r.logger.Info("recipient key selected", "term", term, "keyID", key.KeyID, "uids", strings.Join(key.UIDs, ", "))
	}

	armored, err := keyring.Encrypt(plaintext, key.KeyID)
	if err != nil {
		return failure(ExitCryptoFailed, err, "Error: could not encrypt digest: %v", err)
	}
	summary.EncryptedBytes = len(armored)

	if cfg.DryRun {
		return Result{Code: ExitOK, Message: strings.TrimSuffix(armored, "\n")}
	}

	header := mailer.Header{From: r.from(messages), To: cfg.Email, Subject: cfg.Subject}
	raw, err := sender.Send(ctx, header, armored)
	if err != nil {
		return failure(ExitSendFailed, err, "Error: %v", mailer.ErrSend)
	}
	summary.Sent = true

	summary.Archived = r.archive(ctx, raw)

	if err := os.Remove(cfg.MboxPath); err != nil {
		return failure(ExitRemoveFailed, err, "Error: could not remove %s: %v", cfg.MboxPath, err)
	}
	summary.Removed = true
	if r.logger != nil {
		r.logger.Info("mailbox removed", "path", cfg.MboxPath)
	}

	return Result{Code: ExitOK}
}

func (r *Runner) from(messages []model.Message) string {
	if r.cfg.From != "" {
		return r.cfg.From
	}
	return messages[0].Sender
}

// archive never fails the run, the digest is already delivered.
func (r *Runner) archive(ctx context.Context, raw []byte) bool {
	if !r.cfg.ArchiveEnabled() {
		return false
	}

	archiver := r.archiver
	if archiver == nil {
		a, err := imap.NewArchiver(imap.Options{
			Host:               r.cfg.IMAPHost,
			Port:               r.cfg.IMAPPort,
			Username:           r.cfg.IMAPUser,
			Password:           r.cfg.IMAPPass,
			UseTLS:             r.cfg.UseTLS,
			InsecureSkipVerify: r.cfg.InsecureSkipVerify,
			Folder:             r.cfg.IMAPFolder,
		}, r.logger)
		if err != nil {
			r.warn("imap archive disabled", err)
			return false
		}
		archiver = a
	}

	if err := archiver.Append(ctx, raw, time.Now()); err != nil {
		r.warn("imap archive failed", err)
		return false
	}
	return true
}

func (r *Runner) warn(msg string, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, "err", err)
	}
}

func validationResult(cfg config.Config, err error) Result {
	switch {
	case errors.Is(err, config.ErrMboxMissing):
		return failure(ExitMboxMissing, err, "Error: %s does not exist or is not a file", cfg.MboxPath)
	case errors.Is(err, config.ErrInvalidEmail):
		return failure(ExitUsage, err, "Error: %s is not a valid email address", cfg.Email)
	case errors.Is(err, config.ErrKeyringMissing):
		return failure(ExitKeyringMissing, err, "Error: %s does not exist", cfg.GPGHome)
	default:
		return failure(ExitUsage, err, "Error: %v", err)
	}
}

func failure(code ExitCode, err error, format string, args ...any) Result {
	return Result{Code: code, Err: err, Message: fmt.Sprintf(format, args...)}
}
