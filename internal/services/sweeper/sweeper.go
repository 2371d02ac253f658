// Package sweeper expires pending payments whose deadline has passed.
package sweeper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"

	"gopkg.in/inconshreveable/log15.v2"
)

// PartialFailure lists the payments that could not be expired in a run.
// The rest of the run still went through.
type PartialFailure struct {
	Failed map[string]error
}

func (e *PartialFailure) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%d payments failed to expire: %s", len(ids), strings.Join(ids, ", "))
}

type Store interface {
	ListExpirable(ctx context.Context, now time.Time, after *repository.ExpiryCursor, limit int) ([]models.Payment, error)
}

type Expirer interface {
	Expire(ctx context.Context, p *models.Payment) (*models.Payment, bool, error)
}

type Result struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

type Sweeper struct {
	store   Store
	expirer Expirer
	clock   clock.Clock
	batch   int
	log     log15.Logger
}

func New(store Store, expirer Expirer, clk clock.Clock, batch int, log log15.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{store: store, expirer: expirer, clock: clk, batch: batch, log: log}
}

// Run expires every pending payment due at the start of the run. Item
// failures are collected into a *PartialFailure; a store error ends the run.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var res Result
	now := s.clock.Now()
	failed := map[string]error{}
	var cursor *repository.ExpiryCursor

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := s.store.ListExpirable(ctx, now, cursor, s.batch)
		if err != nil {
			return res, fmt.Errorf("list expirable payments: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			p := &batch[i]
			if p.ExpiresAt != nil {
				cursor = &repository.ExpiryCursor{ExpiresAt: *p.ExpiresAt, ID: p.ID}
			}
			res.Scanned++

			_, changed, err := s.expirer.Expire(ctx, p)
			switch {
			case err != nil:
				res.Failed++
				failed[p.TransactionID] = err
				s.log.Error("expire payment failed", "transaction_id", p.TransactionID, "err", err)
			case changed:
				res.Expired++
			default:
				res.Skipped++
			}
		}

		if len(batch) < s.batch {
			break
		}
	}

	s.log.Info("expiry sweep finished", "scanned", res.Scanned, "expired", res.Expired, "skipped", res.Skipped, "failed", res.Failed)
	if len(failed) > 0 {
		return res, &PartialFailure{Failed: failed}
	}
	return res, nil
}
