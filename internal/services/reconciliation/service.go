package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/ingest"
	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/services/matching"
	"email-payment-gateway/internal/services/parser"
	"email-payment-gateway/internal/services/payment"
	"email-payment-gateway/internal/services/whitelist"

	"github.com/google/uuid"
	"gopkg.in/inconshreveable/log15.v2"
)

type Outcome string

const (
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeUntrusted  Outcome = "untrusted"
	OutcomeUnparsable Outcome = "unparsable"
	OutcomeUnmatched  Outcome = "unmatched"
	OutcomeMatched    Outcome = "matched"
)

const rematchBatch = 100

type EmailStore interface {
	Create(ctx context.Context, e *models.InboundEmail) (bool, error)
	SaveExtraction(ctx context.Context, e *models.InboundEmail) error
	MarkUnmatched(ctx context.Context, id uuid.UUID) error
	ListUnmatched(ctx context.Context, since time.Time, limit int) ([]models.InboundEmail, error)
	DiscardUnmatchedBefore(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error)
}

type RunStore interface {
	Create(ctx context.Context, run *models.IngestRun) error
	Finish(ctx context.Context, run *models.IngestRun, status, errMsg string, at time.Time) error
}

type AuditLog interface {
	Append(ctx context.Context, txID string, paymentID *uuid.UUID, event string, data interface{}, at time.Time) error
}

type SenderFilter interface {
	Check(ctx context.Context, sender string) error
}

type Parser interface {
	Parse(email *models.InboundEmail) (*parser.Extraction, error)
}

type Matcher interface {
	Match(ctx context.Context, email *models.InboundEmail) (*models.Payment, error)
}

type Window interface {
	TimeWindow(ctx context.Context) time.Duration
}

// Service runs notifications through whitelist, parser and matcher.
type Service struct {
	emails  EmailStore
	runs    RunStore
	logs    AuditLog
	filter  SenderFilter
	parser  Parser
	matcher Matcher
	window  Window
	clock   clock.Clock
	log     log15.Logger

	lastRuns sync.Map // source -> models.IngestRun
}

func NewService(
	emails EmailStore,
	runs RunStore,
	logs AuditLog,
	filter SenderFilter,
	p Parser,
	matcher Matcher,
	window Window,
	clk clock.Clock,
	log log15.Logger,
) *Service {
	return &Service{
		emails:  emails,
		runs:    runs,
		logs:    logs,
		filter:  filter,
		parser:  p,
		matcher: matcher,
		window:  window,
		clock:   clk,
		log:     log,
	}
}

// Process stores one notification and takes it as far through the pipeline
// as it goes. Item-level failures are reported through the Outcome; only
// storage errors are returned.
func (s *Service) Process(ctx context.Context, in ingest.Email) (Outcome, error) {
	now := s.clock.Now()
	received := in.Date
	if received.IsZero() || received.After(now) {
		received = now
	}

	email := &models.InboundEmail{
		ID:          uuid.New(),
		MessageID:   in.MessageID,
		Source:      in.Source,
		FromAddress: whitelist.Address(in.From),
		Subject:     in.Subject,
		ReceivedAt:  received.UTC(),
		TextBody:    in.Text,
		HTMLBody:    in.HTML,
		Status:      models.EmailReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if email.MessageID == "" {
		email.MessageID = ingest.ContentHash(in)
	}

	// 1. Trust check, read only
	var untrusted *whitelist.UntrustedSenderError
	if err := s.filter.Check(ctx, in.From); err != nil {
		if !errors.As(err, &untrusted) {
			return "", fmt.Errorf("whitelist: %w", err)
		}
		email.Status = models.EmailUntrusted
	}

	// 2. Store; the unique message id drops replays
	created, err := s.emails.Create(ctx, email)
	if err != nil {
		return "", fmt.Errorf("store email: %w", err)
	}
	if !created {
		s.log.Debug("duplicate notification", "message_id", email.MessageID)
		return OutcomeDuplicate, nil
	}
	if untrusted != nil {
		s.log.Warn("notification from untrusted sender", "from", email.FromAddress, "message_id", email.MessageID)
		return OutcomeUntrusted, nil
	}

	// 3. Parse
	x, err := s.parser.Parse(email)
	var unparsable *parser.UnparsableEmailError
	if errors.As(err, &unparsable) {
		email.Status = models.EmailUnparsable
		email.ParseError = unparsable.Reason
		if err := s.emails.SaveExtraction(ctx, email); err != nil {
			return "", fmt.Errorf("save parse failure: %w", err)
		}
		s.log.Warn("unparsable notification", "from", email.FromAddress, "email_id", email.ID, "reason", unparsable.Reason)
		s.received(ctx, email, "", nil, OutcomeUnparsable)
		return OutcomeUnparsable, nil
	}
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}

	raw, err := json.Marshal(x.Map())
	if err != nil {
		return "", fmt.Errorf("encode extraction: %w", err)
	}
	amount := x.Amount
	email.Bank = x.Bank
	email.Amount = &amount
	email.AccountNumber = x.AccountNumber
	email.PayerName = x.PayerNameFragment
	email.Reference = x.Reference
	email.Extracted = raw
	email.Status = models.EmailUnmatched
	if err := s.emails.SaveExtraction(ctx, email); err != nil {
		return "", fmt.Errorf("save extraction: %w", err)
	}

	// 4. Match
	p, err := s.match(ctx, email)
	if err != nil {
		return "", err
	}
	if p == nil {
		s.received(ctx, email, "", nil, OutcomeUnmatched)
		return OutcomeUnmatched, nil
	}
	s.received(ctx, email, p.TransactionID, &p.ID, OutcomeMatched)
	return OutcomeMatched, nil
}

// match returns nil without error when the notification stays unmatched.
func (s *Service) match(ctx context.Context, email *models.InboundEmail) (*models.Payment, error) {
	p, err := s.matcher.Match(ctx, email)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, matching.ErrNoMatchFound):
		s.log.Info("no pending payment for notification", "email_id", email.ID, "amount", email.Amount, "account_number", email.AccountNumber)
	case errors.Is(err, payment.ErrConcurrentMatchConflict):
		s.log.Info("payment taken by a concurrent match", "email_id", email.ID)
	default:
		return nil, fmt.Errorf("match: %w", err)
	}
	if err := s.emails.MarkUnmatched(ctx, email.ID); err != nil {
		return nil, fmt.Errorf("mark unmatched: %w", err)
	}
	return nil, nil
}

func (s *Service) received(ctx context.Context, email *models.InboundEmail, txID string, paymentID *uuid.UUID, outcome Outcome) {
	data := map[string]interface{}{
		"email_id":      email.ID,
		"email_from":    email.FromAddress,
		"email_subject": email.Subject,
		"source":        email.Source,
		"outcome":       outcome,
	}
	if err := s.logs.Append(ctx, txID, paymentID, models.EventEmailReceived, data, s.clock.Now()); err != nil {
		s.log.Error("audit log write failed", "event", models.EventEmailReceived, "email_id", email.ID, "err", err)
	}
}

// Ingest runs one fetch from producer through the pipeline and records the
// run. A failing item is counted and skipped; a storage failure aborts.
func (s *Service) Ingest(ctx context.Context, producer ingest.Producer) (*models.IngestRun, error) {
	if c, ok := producer.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				s.log.Warn("closing producer", "producer", producer.Name(), "err", err)
			}
		}()
	}

	run := &models.IngestRun{
		ID:        uuid.New(),
		Source:    producer.Name(),
		Status:    models.RunProcessing,
		StartedAt: s.clock.Now(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create ingest run: %w", err)
	}

	emails, err := producer.Fetch(ctx)
	if err != nil {
		return s.abort(ctx, run, fmt.Errorf("fetch from %s: %w", producer.Name(), err))
	}

	for _, e := range emails {
		outcome, err := s.Process(ctx, e)
		if err != nil {
			return s.abort(ctx, run, err)
		}
		run.Received++
		switch outcome {
		case OutcomeDuplicate:
			run.Duplicates++
		case OutcomeUntrusted:
			run.Untrusted++
		case OutcomeUnparsable:
			run.Unparsable++
		case OutcomeMatched:
			run.Matched++
		case OutcomeUnmatched:
			run.Unmatched++
		}

		if err := producer.Ack(ctx, e); err != nil {
			s.log.Warn("ack failed", "producer", producer.Name(), "message_id", e.MessageID, "err", err)
		}
	}

	if err := s.runs.Finish(ctx, run, models.RunCompleted, "", s.clock.Now()); err != nil {
		return run, fmt.Errorf("finish ingest run: %w", err)
	}
	s.lastRuns.Store(run.Source, *run)
	if run.Received > 0 {
		s.log.Info("ingest run completed", "source", run.Source, "received", run.Received,
			"matched", run.Matched, "unmatched", run.Unmatched, "duplicates", run.Duplicates,
			"untrusted", run.Untrusted, "unparsable", run.Unparsable)
	}
	return run, nil
}

func (s *Service) abort(ctx context.Context, run *models.IngestRun, cause error) (*models.IngestRun, error) {
	if err := s.runs.Finish(ctx, run, models.RunAborted, cause.Error(), s.clock.Now()); err != nil {
		s.log.Error("recording aborted run failed", "run_id", run.ID, "err", err)
	}
	s.lastRuns.Store(run.Source, *run)
	s.log.Error("ingest run aborted", "source", run.Source, "err", cause)
	return run, cause
}

// Rematch retries unmatched notifications still inside the time window and
// discards the rest. It returns how many were matched.
func (s *Service) Rematch(ctx context.Context) (int, error) {
	since := s.clock.Now().Add(-s.window.TimeWindow(ctx))

	discarded, err := s.emails.DiscardUnmatchedBefore(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("discard stale notifications: %w", err)
	}
	if discarded > 0 {
		s.log.Info("discarded unmatched notifications", "count", discarded, "received_before", since)
	}

	pending, err := s.emails.ListUnmatched(ctx, since, rematchBatch)
	if err != nil {
		return 0, fmt.Errorf("list unmatched: %w", err)
	}

	matched := 0
	for i := range pending {
		p, err := s.match(ctx, &pending[i])
		if err != nil {
			return matched, err
		}
		if p != nil {
			matched++
		}
	}
	return matched, nil
}

type Stats struct {
	Emails   map[models.EmailStatus]int64 `json:"emails"`
	LastRuns map[string]models.IngestRun  `json:"last_runs"`
}

// Stats reports notification counts per status and the last run per source
// seen by this process.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.emails.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	runs := map[string]models.IngestRun{}
	s.lastRuns.Range(func(k, v interface{}) bool {
		runs[k.(string)] = v.(models.IngestRun)
		return true
	})
	return Stats{Emails: counts, LastRuns: runs}, nil
}
