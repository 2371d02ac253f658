package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/events"
	"email-payment-gateway/internal/ingest"
	"email-payment-gateway/internal/logging"
	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"
	"email-payment-gateway/internal/services/matching"
	"email-payment-gateway/internal/services/parser"
	"email-payment-gateway/internal/services/payment"
	"email-payment-gateway/internal/services/settings"
	"email-payment-gateway/internal/services/whitelist"
	"email-payment-gateway/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/gorm"
)

const gtbankHTML = `<table>
<tr><td>Account Number</td><td>0011223344</td></tr>
<tr><td>Amount</td><td>NGN 5,000.00</td></tr>
<tr><td>Description</td><td>FROM ADA OBI TO GATEWAY</td></tr>
</table>`

type fixture struct {
	db   *gorm.DB
	clk  *clock.Fake
	svc  *Service
	logs *repository.TransactionLogRepository
}

func newFixture(t *testing.T, autoApprove bool) *fixture {
	return newFixtureWith(t, settings.Defaults{TimeWindowMinutes: 15, AutoApproveExact: autoApprove})
}

func newFixtureWith(t *testing.T, defaults settings.Defaults) *fixture {
	db := testutil.NewDB(t)
	clk := clock.NewFake(testutil.Base.Add(2 * time.Minute))
	log := logging.Discard()

	payments := repository.NewPaymentRepository(db)
	logs := repository.NewTransactionLogRepository(db)
	cfg := settings.NewService(repository.NewSettingRepository(db), clk, time.Second,
		defaults, log)
	states := payment.NewService(payments, repository.NewAccountNumberRepository(db), repository.NewBusinessRepository(db),
		logs, cfg, events.NewBus(log), clk, time.Hour, log)
	engine := matching.NewEngine(payments, states, cfg, log)

	svc := NewService(
		repository.NewInboundEmailRepository(db),
		repository.NewIngestRunRepository(db),
		logs,
		whitelist.NewFilter(repository.NewWhitelistRepository(db), false),
		parser.New(),
		engine,
		cfg,
		clk,
		log,
	)
	testutil.Whitelist(t, db, "@gtbank.com")
	return &fixture{db: db, clk: clk, svc: svc, logs: logs}
}

func alert(id, from string) ingest.Email {
	return ingest.Email{
		MessageID: id,
		Source:    ingest.SourceWebhook,
		From:      from,
		Subject:   "GeNS Transaction Notification",
		Date:      testutil.Base.Add(time.Minute),
		HTML:      gtbankHTML,
	}
}

func (f *fixture) email(messageID string) models.InboundEmail {
	var e models.InboundEmail
	f.db.First(&e, "message_id = ?", messageID)
	return e
}

func (f *fixture) payment(id uuid.UUID) models.Payment {
	var p models.Payment
	f.db.First(&p, "id = ?", id)
	return p
}

type brokenProducer struct{}

func (brokenProducer) Name() string { return "imap" }
func (brokenProducer) Fetch(context.Context) ([]ingest.Email, error) {
	return nil, errors.New("dial tcp: connection refused")
}
func (brokenProducer) Ack(context.Context, ingest.Email) error { return nil }

func TestProcess(t *testing.T) {
	Convey("Given a pending payment and a whitelisted bank", t, func() {
		f := newFixture(t, false)
		ctx := context.Background()
		p := testutil.PendingPayment(t, f.db, "TXN1", "5000", "0011223344", testutil.Base, 15*time.Minute)

		Convey("A matching notification moves the payment to matched", func() {
			out, err := f.svc.Process(ctx, alert("m1", "GTBank <alerts@gtbank.com>"))
			So(err, ShouldBeNil)
			So(out, ShouldEqual, OutcomeMatched)

			stored := f.payment(p.ID)
			So(stored.Status, ShouldEqual, models.PaymentMatched)
			So(stored.MatchConfidence, ShouldEqual, string(payment.ConfidenceExact))

			e := f.email("m1")
			So(e.Status, ShouldEqual, models.EmailMatched)
			So(e.FromAddress, ShouldEqual, "alerts@gtbank.com")
			So(*e.MatchedPaymentID, ShouldEqual, p.ID)
			So(e.Amount.Equal(decimal.NewFromInt(5000)), ShouldBeTrue)

			entries, err := f.logs.ListByTransaction(ctx, "TXN1")
			So(err, ShouldBeNil)
			var kinds []string
			for _, l := range entries {
				kinds = append(kinds, l.EventType)
			}
			So(kinds, ShouldContain, models.EventPaymentMatched)
			So(kinds, ShouldContain, models.EventEmailReceived)

			Convey("and a replay of the same message is a duplicate", func() {
				out, err := f.svc.Process(ctx, alert("m1", "alerts@gtbank.com"))
				So(err, ShouldBeNil)
				So(out, ShouldEqual, OutcomeDuplicate)

				var n int64
				f.db.Model(&models.InboundEmail{}).Count(&n)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("A notification from an untrusted sender changes no payment", func() {
			out, err := f.svc.Process(ctx, alert("m2", "alerts@gtbank.com.evil.io"))
			So(err, ShouldBeNil)
			So(out, ShouldEqual, OutcomeUntrusted)

			e := f.email("m2")
			So(e.Status, ShouldEqual, models.EmailUntrusted)
			So(e.MatchAttempts, ShouldEqual, 0)
			So(e.Amount, ShouldBeNil)

			stored := f.payment(p.ID)
			So(stored.Status, ShouldEqual, models.PaymentPending)
			So(stored.MatchedAt, ShouldBeNil)
			So(stored.UpdatedAt.Equal(p.UpdatedAt), ShouldBeTrue)

			var logged int64
			f.db.Model(&models.TransactionLog{}).Count(&logged)
			So(logged, ShouldEqual, 0)
		})

		Convey("An unreadable notification is kept as unparsable", func() {
			in := alert("m3", "alerts@gtbank.com")
			in.HTML = "<p>Your statement is ready</p>"
			out, err := f.svc.Process(ctx, in)
			So(err, ShouldBeNil)
			So(out, ShouldEqual, OutcomeUnparsable)

			e := f.email("m3")
			So(e.Status, ShouldEqual, models.EmailUnparsable)
			So(e.ParseError, ShouldEqual, "no amount found")
			So(f.payment(p.ID).Status, ShouldEqual, models.PaymentPending)
		})

		Convey("A different amount leaves the notification unmatched", func() {
			in := alert("m4", "alerts@gtbank.com")
			in.HTML = `<table><tr><td>Amount</td><td>NGN 4,999.99</td></tr></table>`
			out, err := f.svc.Process(ctx, in)
			So(err, ShouldBeNil)
			So(out, ShouldEqual, OutcomeUnmatched)

			e := f.email("m4")
			So(e.Status, ShouldEqual, models.EmailUnmatched)
			So(e.MatchAttempts, ShouldEqual, 1)
			So(f.payment(p.ID).Status, ShouldEqual, models.PaymentPending)
		})

		Convey("A notification without a date is received now", func() {
			in := alert("m5", "alerts@gtbank.com")
			in.Date = time.Time{}
			_, err := f.svc.Process(ctx, in)
			So(err, ShouldBeNil)
			So(f.email("m5").ReceivedAt.Equal(f.clk.Now()), ShouldBeTrue)
		})
	})

	Convey("With auto approval on, an exact match is approved at once", t, func() {
		f := newFixture(t, true)
		p := testutil.PendingPayment(t, f.db, "TXN2", "5000", "0011223344", testutil.Base, 15*time.Minute)

		out, err := f.svc.Process(context.Background(), alert("a1", "alerts@gtbank.com"))
		So(err, ShouldBeNil)
		So(out, ShouldEqual, OutcomeMatched)
		So(f.payment(p.ID).Status, ShouldEqual, models.PaymentApproved)
	})
}

func TestNameScoreGate(t *testing.T) {
	Convey("Given auto approval with a 65 point payer name minimum", t, func() {
		f := newFixtureWith(t, settings.Defaults{TimeWindowMinutes: 15, AutoApproveExact: true, MinNameScore: 65})
		ctx := context.Background()

		Convey("A payer whose name fits is approved at once", func() {
			p := testutil.PendingPayment(t, f.db, "TXN1", "5000", "0011223344", testutil.Base, 15*time.Minute)
			out, err := f.svc.Process(ctx, alert("n1", "alerts@gtbank.com"))
			So(err, ShouldBeNil)
			So(out, ShouldEqual, OutcomeMatched)
			So(f.payment(p.ID).Status, ShouldEqual, models.PaymentApproved)
		})

		Convey("A payer whose name does not fit waits in matched for an admin", func() {
			p := testutil.PendingPayment(t, f.db, "TXN2", "5000", "0011223344", testutil.Base, 15*time.Minute)
			So(f.db.Model(&models.Payment{}).Where("id = ?", p.ID).Update("payer_name", "Chinedu Okafor").Error, ShouldBeNil)

			out, err := f.svc.Process(ctx, alert("n2", "alerts@gtbank.com"))
			So(err, ShouldBeNil)
			So(out, ShouldEqual, OutcomeMatched)

			stored := f.payment(p.ID)
			So(stored.Status, ShouldEqual, models.PaymentMatched)
			So(stored.MatchConfidence, ShouldEqual, string(payment.ConfidenceExact))
		})
	})
}

func TestIngest(t *testing.T) {
	Convey("Given queued notifications", t, func() {
		f := newFixture(t, false)
		ctx := context.Background()
		testutil.PendingPayment(t, f.db, "TXN1", "5000", "0011223344", testutil.Base, 15*time.Minute)

		q := ingest.NewPushQueue(10)
		So(q.Push(alert("m1", "alerts@gtbank.com")), ShouldBeNil)
		So(q.Push(alert("m1", "alerts@gtbank.com")), ShouldBeNil)
		So(q.Push(alert("m2", "someone@example.com")), ShouldBeNil)

		Convey("One run records every outcome", func() {
			run, err := f.svc.Ingest(ctx, q)
			So(err, ShouldBeNil)
			So(run.Status, ShouldEqual, models.RunCompleted)
			So(run.Source, ShouldEqual, ingest.SourceWebhook)
			So(run.Received, ShouldEqual, 3)
			So(run.Matched, ShouldEqual, 1)
			So(run.Duplicates, ShouldEqual, 1)
			So(run.Untrusted, ShouldEqual, 1)
			So(q.Len(), ShouldEqual, 0)

			var stored models.IngestRun
			f.db.First(&stored, "id = ?", run.ID)
			So(stored.Status, ShouldEqual, models.RunCompleted)
			So(stored.Matched, ShouldEqual, 1)
			So(stored.CompletedAt, ShouldNotBeNil)

			stats, err := f.svc.Stats(ctx)
			So(err, ShouldBeNil)
			So(stats.Emails[models.EmailMatched], ShouldEqual, 1)
			So(stats.Emails[models.EmailUntrusted], ShouldEqual, 1)
			So(stats.LastRuns[ingest.SourceWebhook].Received, ShouldEqual, 3)
		})

		Convey("A producer that cannot fetch aborts the run", func() {
			run, err := f.svc.Ingest(ctx, brokenProducer{})
			So(err, ShouldNotBeNil)
			So(run.Status, ShouldEqual, models.RunAborted)

			var stored models.IngestRun
			f.db.First(&stored, "id = ?", run.ID)
			So(stored.Status, ShouldEqual, models.RunAborted)
			So(stored.Error, ShouldContainSubstring, "connection refused")
		})
	})
}

func TestRematch(t *testing.T) {
	Convey("Given unmatched notifications of different ages", t, func() {
		f := newFixture(t, false)
		ctx := context.Background()
		amount := decimal.NewFromInt(5000)

		unmatched := func(id string, at time.Time) {
			e := &models.InboundEmail{
				ID: uuid.New(), MessageID: id, Source: ingest.SourceIMAP, FromAddress: "alerts@gtbank.com",
				ReceivedAt: at, Amount: &amount, AccountNumber: "0011223344", Status: models.EmailUnmatched,
				CreatedAt: at, UpdatedAt: at,
			}
			So(f.db.Create(e).Error, ShouldBeNil)
		}

		f.clk.Set(testutil.Base.Add(20 * time.Minute))
		p := testutil.PendingPayment(t, f.db, "TXN1", "5000", "0011223344", testutil.Base.Add(10*time.Minute), 15*time.Minute)
		unmatched("stale", testutil.Base)
		unmatched("fresh", testutil.Base.Add(12*time.Minute))

		n, err := f.svc.Rematch(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		So(f.email("stale").Status, ShouldEqual, models.EmailDiscarded)
		So(f.email("fresh").Status, ShouldEqual, models.EmailMatched)
		So(f.payment(p.ID).Status, ShouldEqual, models.PaymentMatched)

		Convey("Running again finds nothing to do", func() {
			n, err := f.svc.Rematch(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}
