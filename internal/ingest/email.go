// Package ingest collects raw bank notifications from the mail sources the
// gateway reads: an IMAP mailbox, a drop directory and the inbound webhook.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	SourceIMAP       = "imap"
	SourceFilesystem = "filesystem"
	SourceWebhook    = "webhook"
)

// Email is a notification as delivered by a producer, before any parsing.
type Email struct {
	MessageID string
	Source    string
	From      string
	To        string
	Subject   string
	Date      time.Time
	Text      string
	HTML      string

	// Ref identifies the message to its producer for Ack.
	Ref string
}

// Producer is a source of notifications. Fetch returns what is new; Ack
// tells the source an email has been stored and must not be returned again.
type Producer interface {
	Name() string
	Fetch(ctx context.Context) ([]Email, error)
	Ack(ctx context.Context, e Email) error
}

// ContentHash identifies an email that carries no Message-ID header.
func ContentHash(e Email) string {
	h := sha256.New()
	for _, part := range []string{e.From, e.Subject, e.Date.UTC().Format(time.RFC3339), e.Text, e.HTML} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func withMessageID(e Email) Email {
	e.MessageID = strings.Trim(strings.TrimSpace(e.MessageID), "<>")
	if e.MessageID == "" {
		e.MessageID = ContentHash(e)
	}
	return e
}
