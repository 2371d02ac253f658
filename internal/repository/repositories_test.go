package repository

import (
	"context"
	"testing"
	"time"

	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInboundEmailRepository(t *testing.T) {
	Convey("Given an inbound email repository", t, func() {
		db := testutil.NewDB(t)
		repo := NewInboundEmailRepository(db)
		ctx := context.Background()
		base := testutil.Base

		mk := func(id string, at time.Time) *models.InboundEmail {
			return &models.InboundEmail{ID: uuid.New(), MessageID: id, Source: "dir", ReceivedAt: at, Status: models.EmailReceived, CreatedAt: at}
		}

		Convey("A second email with the same message id is a duplicate", func() {
			created, err := repo.Create(ctx, mk("<x@bank>", base))
			So(err, ShouldBeNil)
			So(created, ShouldBeTrue)

			created, err = repo.Create(ctx, mk("<x@bank>", base))
			So(err, ShouldBeNil)
			So(created, ShouldBeFalse)
		})

		Convey("Extraction results are persisted", func() {
			e := mk("<y@bank>", base)
			_, err := repo.Create(ctx, e)
			So(err, ShouldBeNil)

			amt := decimal.RequireFromString("5000.00")
			e.Amount = &amt
			e.AccountNumber = "0011223344"
			e.Bank = "gtbank"
			e.Status = models.EmailUnmatched
			So(repo.SaveExtraction(ctx, e), ShouldBeNil)

			stored, err := repo.GetByID(ctx, e.ID)
			So(err, ShouldBeNil)
			So(stored.Amount.Equal(amt), ShouldBeTrue)
			So(stored.Bank, ShouldEqual, "gtbank")
		})

		Convey("Unmatched emails are listed inside the window and discarded outside it", func() {
			recent := mk("<r@bank>", base.Add(-5*time.Minute))
			stale := mk("<s@bank>", base.Add(-30*time.Minute))
			for _, e := range []*models.InboundEmail{recent, stale} {
				_, err := repo.Create(ctx, e)
				So(err, ShouldBeNil)
				So(repo.MarkUnmatched(ctx, e.ID), ShouldBeNil)
			}

			got, err := repo.ListUnmatched(ctx, base.Add(-15*time.Minute), 10)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 1)
			So(got[0].ID, ShouldEqual, recent.ID)
			So(got[0].MatchAttempts, ShouldEqual, 1)

			n, err := repo.DiscardUnmatchedBefore(ctx, base.Add(-15*time.Minute))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			counts, err := repo.CountByStatus(ctx)
			So(err, ShouldBeNil)
			So(counts[models.EmailDiscarded], ShouldEqual, 1)
			So(counts[models.EmailUnmatched], ShouldEqual, 1)
		})
	})
}

func TestAccountNumberRepository(t *testing.T) {
	Convey("Given business and pool accounts", t, func() {
		db := testutil.NewDB(t)
		repo := NewAccountNumberRepository(db)
		ctx := context.Background()
		base := testutil.Base
		biz := uuid.New()

		add := func(number string, owner *uuid.UUID, created time.Time) {
			So(repo.Create(ctx, &models.AccountNumber{
				ID: uuid.New(), BusinessID: owner, Number: number, AccountName: "Collections",
				BankName: "GTBank", Active: true, CreatedAt: created,
			}), ShouldBeNil)
		}

		Convey("The business's own account is preferred", func() {
			add("1111111111", nil, base)
			add("2222222222", &biz, base)

			acct, err := repo.Assign(ctx, &biz, base)
			So(err, ShouldBeNil)
			So(acct.Number, ShouldEqual, "2222222222")
		})

		Convey("The pool rotates through least recently assigned accounts", func() {
			add("1111111111", nil, base.Add(-2*time.Hour))
			add("3333333333", nil, base.Add(-time.Hour))

			first, err := repo.Assign(ctx, nil, base)
			So(err, ShouldBeNil)
			second, err := repo.Assign(ctx, nil, base.Add(time.Second))
			So(err, ShouldBeNil)
			third, err := repo.Assign(ctx, nil, base.Add(2*time.Second))
			So(err, ShouldBeNil)

			So(first.Number, ShouldEqual, "1111111111")
			So(second.Number, ShouldEqual, "3333333333")
			So(third.Number, ShouldEqual, "1111111111")
		})

		Convey("No active account is an error", func() {
			_, err := repo.Assign(ctx, nil, base)
			So(err, ShouldEqual, ErrNoAccountAvailable)
		})
	})
}

func TestSmallRepositories(t *testing.T) {
	Convey("Given a fresh database", t, func() {
		db := testutil.NewDB(t)
		ctx := context.Background()
		base := testutil.Base

		Convey("Settings upsert by key", func() {
			repo := NewSettingRepository(db)
			_, err := repo.Get(ctx, "payment_time_window_minutes")
			So(err, ShouldEqual, ErrNotFound)

			So(repo.Set(ctx, "payment_time_window_minutes", "10", "int", base), ShouldBeNil)
			So(repo.Set(ctx, "payment_time_window_minutes", "20", "int", base), ShouldBeNil)

			s, err := repo.Get(ctx, "payment_time_window_minutes")
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, "20")
		})

		Convey("Fulfillments are recorded once per payment and kind", func() {
			repo := NewFulfillmentRepository(db)
			pid := uuid.New()
			f := func() *models.Fulfillment {
				return &models.Fulfillment{ID: uuid.New(), PaymentID: pid, Kind: models.FulfillWalletCredited, Amount: decimal.NewFromInt(100), CreatedAt: base}
			}

			first, err := repo.Record(ctx, f())
			So(err, ShouldBeNil)
			So(first, ShouldBeTrue)
			again, err := repo.Record(ctx, f())
			So(err, ShouldBeNil)
			So(again, ShouldBeFalse)

			rows, err := repo.ListByPayment(ctx, pid)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)
		})

		Convey("The transaction log appends entries in order", func() {
			repo := NewTransactionLogRepository(db)
			pid := uuid.New()
			So(repo.Append(ctx, "TXN1", &pid, models.EventPaymentRequested, nil, base), ShouldBeNil)
			So(repo.Append(ctx, "TXN1", &pid, models.EventPaymentMatched, map[string]string{"confidence": "exact"}, base.Add(time.Second)), ShouldBeNil)

			entries, err := repo.ListByTransaction(ctx, "TXN1")
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[1].EventType, ShouldEqual, models.EventPaymentMatched)

			n, err := repo.CountEvents(ctx, pid, models.EventPaymentMatched)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("Ingest runs keep their final counters", func() {
			repo := NewIngestRunRepository(db)
			run := &models.IngestRun{ID: uuid.New(), Source: "imap", Status: models.RunProcessing, StartedAt: base, CreatedAt: base}
			So(repo.Create(ctx, run), ShouldBeNil)

			run.Received = 3
			run.Matched = 1
			So(repo.Finish(ctx, run, models.RunCompleted, "", base.Add(time.Minute)), ShouldBeNil)

			runs, err := repo.Latest(ctx, "imap", 5)
			So(err, ShouldBeNil)
			So(len(runs), ShouldEqual, 1)
			So(runs[0].Status, ShouldEqual, models.RunCompleted)
			So(runs[0].Received, ShouldEqual, 3)
		})
	})
}
