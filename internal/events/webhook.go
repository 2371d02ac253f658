package events

import (
	"context"
	"errors"

	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/services/webhook"
)

type Deliverer interface {
	Deliver(ctx context.Context, p *models.Payment) (bool, error)
}

// WebhookListener notifies the business as soon as a payment settles.
// Failed deliveries are picked up again by the dispatch sweep.
type WebhookListener struct {
	deliverer Deliverer
}

func NewWebhookListener(d Deliverer) *WebhookListener {
	return &WebhookListener{deliverer: d}
}

func (l *WebhookListener) Name() string { return "webhook" }

func (l *WebhookListener) Handle(ctx context.Context, e Event) error {
	p := e.Payment
	_, err := l.deliverer.Deliver(ctx, &p)
	var delivery *webhook.DeliveryError
	if errors.As(err, &delivery) {
		return nil
	}
	return err
}
