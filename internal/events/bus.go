// Package events fans payment transitions out to listeners.
package events

import (
	"context"
	"sync"
	"time"

	"email-payment-gateway/internal/models"

	"gopkg.in/inconshreveable/log15.v2"
)

type Kind string

const (
	PaymentMatched  Kind = "payment.matched"
	PaymentApproved Kind = "payment.approved"
	PaymentRejected Kind = "payment.rejected"
	PaymentExpired  Kind = "payment.expired"
)

// Event carries a snapshot of the payment taken right after the transition.
type Event struct {
	Kind       Kind
	Payment    models.Payment
	OccurredAt time.Time
}

type Handler interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc struct {
	ID string
	Fn func(ctx context.Context, e Event) error
}

func (h HandlerFunc) Name() string                              { return h.ID }
func (h HandlerFunc) Handle(ctx context.Context, e Event) error { return h.Fn(ctx, e) }

// Bus delivers events synchronously to every subscriber of the kind. A
// failing handler is logged and does not stop the others.
type Bus struct {
	log log15.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewBus(log log15.Logger) *Bus {
	return &Bus{log: log, handlers: make(map[Kind][]Handler)}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.Kind]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h.Handle(ctx, e); err != nil {
			b.log.Error("event handler failed",
				"handler", h.Name(),
				"kind", e.Kind,
				"transaction_id", e.Payment.TransactionID,
				"err", err)
		}
	}
}

// Register subscribes the standard listeners to bus. Kafka is optional.
func Register(bus *Bus, fulfillment *FulfillmentListener, hooks *WebhookListener, kafkaPub *KafkaPublisher) {
	bus.Subscribe(PaymentApproved, fulfillment)
	for _, k := range []Kind{PaymentApproved, PaymentRejected, PaymentExpired} {
		bus.Subscribe(k, hooks)
	}
	if kafkaPub != nil {
		for _, k := range []Kind{PaymentMatched, PaymentApproved, PaymentRejected, PaymentExpired} {
			bus.Subscribe(k, kafkaPub)
		}
	}
}
