// Package mailmeta extracts identifying headers from a raw message for logs and traces.
package mailmeta

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"strings"

	"github.com/jarrod-lowe/odoo-mailgate/internal/charset"
)

// Meta holds the headers worth logging for an inbound message.
type Meta struct {
	MessageID string
	From      string
	FromName  string
	Subject   string
	Size      int
}

// Parse reads the header block of raw. The body is not inspected.
func Parse(raw []byte) (Meta, error) {
	meta := Meta{Size: len(raw)}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return meta, fmt.Errorf("read message headers: %w", err)
	}

	meta.MessageID = strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>")
	meta.Subject = decodeHeader(msg.Header.Get("Subject"))

	if from := msg.Header.Get("From"); from != "" {
		parser := mail.AddressParser{WordDecoder: wordDecoder()}
		if addr, err := parser.Parse(from); err == nil {
			meta.From = addr.Address
			meta.FromName = addr.Name
		} else {
			meta.From = decodeHeader(from)
		}
	}

	return meta, nil
}

// LogAttrs returns the metadata as slog attributes.
func (m Meta) LogAttrs() []any {
	return []any{
		slog.String("mail_message_id", m.MessageID),
		slog.String("mail_from", m.From),
		slog.String("mail_from_name", m.FromName),
		slog.String("mail_subject", m.Subject),
		slog.Int("mail_size", m.Size),
	}
}

func wordDecoder() *mime.WordDecoder {
	return &mime.WordDecoder{CharsetReader: charset.NewReader}
}

func decodeHeader(s string) string {
	decoded, err := wordDecoder().DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
