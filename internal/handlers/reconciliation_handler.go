package handler

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"email-payment-gateway/internal/ingest"
	"email-payment-gateway/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
	"gopkg.in/inconshreveable/log15.v2"
)

const (
	maxUploadSize  = 5 << 20
	maxInboundSize = 5 << 20
)

type Queue interface {
	Push(e ingest.Email) error
}

type Pipeline interface {
	Process(ctx context.Context, e ingest.Email) (reconciliation.Outcome, error)
	Stats(ctx context.Context) (reconciliation.Stats, error)
}

// ReconciliationHandler feeds notifications into the pipeline: relayed by a
// mail webhook, or uploaded by an operator.
type ReconciliationHandler struct {
	queue    Queue
	pipeline Pipeline
	log      log15.Logger
}

func NewReconciliationHandler(q Queue, p Pipeline, log log15.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{queue: q, pipeline: p, log: log}
}

// Inbound handles POST /api/v1/email/inbound. The relay may send flat
// fields, an "email" object or the "raw" RFC 822 message.
func (h *ReconciliationHandler) Inbound(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxInboundSize)

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}

	e, err := emailFromPayload(body)
	if err != nil {
		fail(c, http.StatusBadRequest, "could not read raw message")
		return
	}
	if e.Subject == "" || e.From == "" {
		fail(c, http.StatusBadRequest, "Missing required email fields (subject, from)")
		return
	}

	if err := h.queue.Push(e); err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			c.Header("Retry-After", "15")
			fail(c, http.StatusServiceUnavailable, "queue is full, retry later")
			return
		}
		h.log.Error("queue inbound email", "err", err)
		fail(c, http.StatusInternalServerError, "could not queue email")
		return
	}

	h.log.Info("inbound email queued", "from", e.From, "subject", e.Subject)
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Email received and queued for processing",
	})
}

// Upload runs an uploaded .eml file through the pipeline right away.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	e, err := ingest.ParseMIME(file, ingest.SourceFilesystem)
	if err != nil {
		fail(c, http.StatusBadRequest, "file is not an email message")
		return
	}

	outcome, err := h.pipeline.Process(c.Request.Context(), e)
	if err != nil {
		h.log.Error("process uploaded email", "file", header.Filename, "err", err)
		fail(c, http.StatusInternalServerError, "could not process email")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"file":       header.Filename,
		"message_id": e.MessageID,
		"outcome":    outcome,
	})
}

func (h *ReconciliationHandler) Stats(c *gin.Context) {
	stats, err := h.pipeline.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("load stats", "err", err)
		fail(c, http.StatusInternalServerError, "could not load stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func emailFromPayload(body map[string]interface{}) (ingest.Email, error) {
	if nested, ok := body["email"].(map[string]interface{}); ok {
		return ingest.Email{
			MessageID: pick(nested, "message_id", "Message-ID"),
			From:      firstNonEmpty(pick(nested, "from"), pick(body, "from")),
			Subject:   firstNonEmpty(pick(nested, "subject"), pick(body, "subject")),
			Text:      firstNonEmpty(pick(nested, "text", "body"), pick(body, "text")),
			HTML:      firstNonEmpty(pick(nested, "html"), pick(body, "html")),
			Date:      parseDate(firstNonEmpty(pick(nested, "date"), pick(body, "date"))),
		}, nil
	}

	if _, flat := body["from"]; !flat {
		if raw := pick(body, "raw"); raw != "" {
			return ingest.ParseMIME(strings.NewReader(raw), ingest.SourceWebhook)
		}
	}

	return ingest.Email{
		MessageID: pick(body, "message_id", "Message-ID"),
		From:      pick(body, "from", "From", "sender"),
		Subject:   pick(body, "subject", "Subject", "title"),
		Text:      pick(body, "text", "body", "plain", "content", "message"),
		HTML:      pick(body, "html", "HTML"),
		Date:      parseDate(pick(body, "date", "Date", "timestamp")),
	}, nil
}

func pick(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// parseDate returns the zero time for anything unreadable; the pipeline
// then uses the time of receipt.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
