package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/services/payment"

	"github.com/gin-gonic/gin"
	"gopkg.in/inconshreveable/log15.v2"
)

type Reviewer interface {
	Approve(ctx context.Context, txID, actor string) (*models.Payment, bool, error)
	Reject(ctx context.Context, txID, reason string) (*models.Payment, bool, error)
}

// AdminHandler is the manual review path for matched payments.
type AdminHandler struct {
	reviewer Reviewer
	log      log15.Logger
}

func NewAdminHandler(r Reviewer, log log15.Logger) *AdminHandler {
	return &AdminHandler{reviewer: r, log: log}
}

func (h *AdminHandler) Approve(c *gin.Context) {
	actor := strings.TrimSpace(c.GetHeader("X-Admin-Actor"))
	if actor == "" {
		actor = "admin"
	}
	txID := c.Param("transactionId")
	p, changed, err := h.reviewer.Approve(c.Request.Context(), txID, actor)
	h.respond(c, "approved", txID, p, changed, err)
}

func (h *AdminHandler) Reject(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "rejected by admin"
	}
	txID := c.Param("transactionId")
	p, changed, err := h.reviewer.Reject(c.Request.Context(), txID, reason)
	h.respond(c, "rejected", txID, p, changed, err)
}

func (h *AdminHandler) respond(c *gin.Context, action, txID string, p *models.Payment, changed bool, err error) {
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrNotFound):
		fail(c, http.StatusNotFound, "payment not found")
		return
	case errors.Is(err, payment.ErrInvalidTransition):
		msg := "payment cannot be " + action
		if p != nil {
			msg += " from status " + string(p.Status)
		}
		fail(c, http.StatusConflict, msg)
		return
	default:
		h.log.Error("review payment", "action", action, "transaction_id", txID, "err", err)
		fail(c, http.StatusInternalServerError, "could not update payment")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"changed": changed,
		"data":    viewOf(p),
	})
}
