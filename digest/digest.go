// Package digest renders extracted mails into one plain text document.
package digest

import (
	"strings"

	"github.com/dhcgn/mbox-digest/model"
)

// Divider closes every message block.
var Divider = strings.Repeat("-", 50)

// Compose concatenates the formatted blocks of all messages in order.
func Compose(messages []model.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		writeBlock(&b, msg)
	}
	return b.String()
}

// Format renders a single message block, divider included.
func Format(msg model.Message) string {
	var b strings.Builder
	writeBlock(&b, msg)
	return b.String()
}

func writeBlock(b *strings.Builder, msg model.Message) {
	b.WriteString(msg.Date)
	b.WriteByte(' ')
	b.WriteString(msg.Sender)
	b.WriteByte('\n')
	b.WriteString(msg.Subject)
	b.WriteString("\n\n")
	b.WriteString(msg.Body)
	b.WriteByte('\n')
	b.WriteString(Divider)
	b.WriteByte('\n')
}
