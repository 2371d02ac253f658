package handler

import (
	"context"
	"net/http"
	"strconv"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/services/webhook"

	"github.com/gin-gonic/gin"
	"gopkg.in/inconshreveable/log15.v2"
)

const (
	defaultCronLimit = 50
	maxCronLimit     = 100
)

type WebhookSweeper interface {
	Sweep(ctx context.Context, limit int) (webhook.SweepResult, error)
}

// CronHandler lets an external scheduler trigger webhook retries.
type CronHandler struct {
	webhooks WebhookSweeper
	clock    clock.Clock
	log      log15.Logger
}

func NewCronHandler(w WebhookSweeper, clk clock.Clock, log log15.Logger) *CronHandler {
	return &CronHandler{webhooks: w, clock: clk, log: log}
}

func (h *CronHandler) ProcessWebhooks(c *gin.Context) {
	limit := defaultCronLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxCronLimit {
		limit = maxCronLimit
	}

	res, err := h.webhooks.Sweep(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("webhook sweep", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"message":   "webhook processing failed",
			"timestamp": h.clock.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"queued":      res.Queued,
		"skipped":     res.Skipped,
		"errors":      res.Errors,
		"total_found": res.TotalFound,
		"timestamp":   h.clock.Now(),
	})
}
