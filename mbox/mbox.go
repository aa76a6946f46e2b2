package mbox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"

	"github.com/dhcgn/mbox-digest/model"
)

// DateLayout is the layout of model.Message.Date: month/day, 24h time.
const DateLayout = "01/02, 15:04"

var (
	// ErrNoPlainText is returned when a message carries no text/plain part.
	ErrNoPlainText = errors.New("no text/plain part")

	errPartFound = errors.New("part found")
)

func init() {
	// DOS code pages, missing from the charset package's default index
	charset.RegisterEncoding("ibm437", charmap.CodePage437)
	charset.RegisterEncoding("cp437", charmap.CodePage437)
	charset.RegisterEncoding("ibm850", charmap.CodePage850)
	charset.RegisterEncoding("cp850", charmap.CodePage850)
	charset.RegisterEncoding("cp858", charmap.CodePage858)
}

// Read opens the mbox file at path and extracts every message in file order.
// A message without a text/plain part aborts the whole read.
func Read(path string, logger *slog.Logger) ([]model.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	messages, err := ReadFrom(file, logger)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debug("mbox read", "path", path, "messages", len(messages))
	}
	return messages, nil
}

// ReadFrom extracts messages from an mbox stream.
func ReadFrom(r io.Reader, logger *slog.Logger) ([]model.Message, error) {
	reader := mboxlib.NewReader(r)

	var messages []model.Message
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return messages, nil
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		msg, err := parseMessage(msgReader, logger)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}
		messages = append(messages, msg)
	}
}

func parseMessage(r io.Reader, logger *slog.Logger) (model.Message, error) {
	entity, err := message.Read(r)
	if err != nil {
		if entity == nil || !isDecodeError(err) {
			return model.Message{}, fmt.Errorf("parse: %w", err)
		}
		if logger != nil {
			logger.Warn("message header not fully decoded", "err", err)
		}
	}

	header := mail.Header{Header: entity.Header}
	msg := model.Message{
		Sender:  senderAddress(header, logger),
		Subject: header.Get("Subject"),
		Date:    formatDate(header, logger),
	}

	body, err := plainTextBody(entity, logger)
	if err != nil {
		return model.Message{}, fmt.Errorf("subject %q: %w", msg.Subject, err)
	}
	msg.Body = body

	return msg, nil
}

func senderAddress(header mail.Header, logger *slog.Logger) string {
	addrs, err := header.AddressList("From")
	if err != nil {
		if logger != nil {
			logger.Debug("unparseable From header", "from", header.Get("From"), "err", err)
		}
		return ""
	}
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].Address
}

func formatDate(header mail.Header, logger *slog.Logger) string {
	t, err := header.Date()
	if err != nil {
		if logger != nil {
			logger.Debug("unparseable Date header", "date", header.Get("Date"), "err", err)
		}
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// plainTextBody walks the part tree depth first and returns the decoded body
// of the first text/plain part with LF line endings.
func plainTextBody(entity *message.Entity, logger *slog.Logger) (string, error) {
	var body []byte
	err := entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil {
			if !isDecodeError(err) {
				return err
			}
			if logger != nil {
				logger.Warn("message part not fully decoded", "path", path, "err", err)
			}
		}

		if mediaType(part.Header) != "text/plain" {
			return nil
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = data
		return errPartFound
	})

	switch {
	case errors.Is(err, errPartFound):
		// the mbox reader hands out CRLF lines
		return strings.ReplaceAll(string(body), "\r\n", "\n"), nil
	case err != nil:
		return "", fmt.Errorf("walk parts: %w", err)
	default:
		return "", ErrNoPlainText
	}
}

func mediaType(h message.Header) string {
	t, _, err := h.ContentType()
	if err != nil {
		// malformed parameters; the type itself is everything before ';'
		t, _, _ = strings.Cut(t, ";")
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func isDecodeError(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
