package events

import (
	"context"
	"fmt"

	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"gopkg.in/inconshreveable/log15.v2"
)

type FulfillmentStore interface {
	Record(ctx context.Context, f *models.Fulfillment) (bool, error)
}

var fulfillmentKinds = map[string]string{
	models.PurposeInvoice:     models.FulfillInvoicePaid,
	models.PurposeTicketOrder: models.FulfillTicketConfirmed,
	models.PurposeMembership:  models.FulfillMembershipCreate,
	models.PurposeRental:      models.FulfillRentalActivated,
	models.PurposeWallet:      models.FulfillWalletCredited,
}

// FulfillmentListener records what an approved payment unlocks. Repeated
// approvals of one payment write a single row.
type FulfillmentListener struct {
	store FulfillmentStore
	log   log15.Logger
}

func NewFulfillmentListener(store FulfillmentStore, log log15.Logger) *FulfillmentListener {
	return &FulfillmentListener{store: store, log: log}
}

func (l *FulfillmentListener) Name() string { return "fulfillment" }

func (l *FulfillmentListener) Handle(ctx context.Context, e Event) error {
	if e.Kind != PaymentApproved {
		return nil
	}
	p := e.Payment
	kind, ok := fulfillmentKinds[p.Purpose]
	if !ok {
		return fmt.Errorf("no fulfillment for purpose %q", p.Purpose)
	}

	created, err := l.store.Record(ctx, &models.Fulfillment{
		ID:            uuid.New(),
		PaymentID:     p.ID,
		Kind:          kind,
		TransactionID: p.TransactionID,
		BusinessID:    p.BusinessID,
		Reference:     p.PurposeRef,
		Amount:        p.Amount,
		CreatedAt:     e.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("record fulfillment: %w", err)
	}
	if created {
		l.log.Info("fulfillment recorded", "transaction_id", p.TransactionID, "kind", kind, "reference", p.PurposeRef)
	}
	return nil
}
