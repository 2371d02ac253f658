package ingest

import (
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const maxPartSize = 2 << 20

// ParseMIME reads an RFC 5322 message. Transfer encodings and charsets are
// decoded; the first text/plain and text/html parts become Text and HTML.
func ParseMIME(r io.Reader, source string) (Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return Email{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	e := Email{Source: source}
	e.Subject, _ = h.Subject()
	e.MessageID, _ = h.MessageID()
	e.Date, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	} else {
		e.From = h.Get("From")
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		e.To = to[0].Address
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Email{}, fmt.Errorf("read part: %w", err)
		}

		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := inline.ContentType()
		if err != nil {
			ct = "text/plain"
		}
		body, err := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
		if err != nil {
			return Email{}, fmt.Errorf("read body: %w", err)
		}

		switch strings.ToLower(ct) {
		case "text/plain":
			if e.Text == "" {
				e.Text = string(body)
			}
		case "text/html":
			if e.HTML == "" {
				e.HTML = string(body)
			}
		}
	}

	if !e.Date.IsZero() {
		e.Date = e.Date.UTC()
	}
	return withMessageID(e), nil
}
