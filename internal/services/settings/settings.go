// Package settings resolves runtime-tunable values from the settings table,
// falling back to the process configuration.
package settings

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/config"
	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"

	"gopkg.in/inconshreveable/log15.v2"
)

const (
	KeyTimeWindow       = "payment_time_window_minutes"
	KeyWebhookSecret    = "webhook_secret"
	KeyAutoApproveExact = "auto_approve_exact"
	KeyMinNameScore     = "auto_approve_min_name_similarity"
)

type Store interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
}

// Defaults are used when a key is absent or unreadable.
type Defaults struct {
	TimeWindowMinutes int
	WebhookSecret     string
	AutoApproveExact  bool
	MinNameScore      float64
}

func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		TimeWindowMinutes: cfg.PaymentTimeWindowMinutes,
		WebhookSecret:     cfg.WebhookSecret,
		AutoApproveExact:  cfg.AutoApproveExact,
		MinNameScore:      cfg.AutoApproveMinNameScore,
	}
}

type entry struct {
	value   string
	found   bool
	fetched time.Time
}

type Service struct {
	store    Store
	clock    clock.Clock
	ttl      time.Duration
	defaults Defaults
	log      log15.Logger

	mu    sync.Mutex
	cache map[string]entry
}

func NewService(store Store, clk clock.Clock, ttl time.Duration, defaults Defaults, log log15.Logger) *Service {
	return &Service{
		store:    store,
		clock:    clk,
		ttl:      ttl,
		defaults: defaults,
		log:      log,
		cache:    make(map[string]entry),
	}
}

// TimeWindow is the look-back window used by the matcher.
func (s *Service) TimeWindow(ctx context.Context) time.Duration {
	minutes := s.defaults.TimeWindowMinutes
	if raw, ok := s.lookup(ctx, KeyTimeWindow); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			s.log.Warn("invalid setting, using default", "key", KeyTimeWindow, "value", raw)
		} else {
			minutes = n
		}
	}
	return time.Duration(config.ClampWindow(minutes)) * time.Minute
}

func (s *Service) WebhookSecret(ctx context.Context) string {
	if raw, ok := s.lookup(ctx, KeyWebhookSecret); ok && raw != "" {
		return raw
	}
	return s.defaults.WebhookSecret
}

func (s *Service) AutoApproveExact(ctx context.Context) bool {
	raw, ok := s.lookup(ctx, KeyAutoApproveExact)
	if !ok {
		return s.defaults.AutoApproveExact
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn("invalid setting, using default", "key", KeyAutoApproveExact, "value", raw)
		return s.defaults.AutoApproveExact
	}
	return b
}

// MinNameScore is the payer name similarity (0-100) an exact match needs
// to be approved automatically. Zero turns the check off.
func (s *Service) MinNameScore(ctx context.Context) float64 {
	score := s.defaults.MinNameScore
	if raw, ok := s.lookup(ctx, KeyMinNameScore); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			s.log.Warn("invalid setting, using default", "key", KeyMinNameScore, "value", raw)
		} else {
			score = f
		}
	}
	return math.Min(math.Max(score, 0), 100)
}

// Invalidate drops every cached value.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]entry)
	s.mu.Unlock()
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	e, ok := s.cache[key]
	s.mu.Unlock()
	if ok && now.Sub(e.fetched) < s.ttl {
		return e.value, e.found
	}

	row, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		e = entry{fetched: now}
	case err != nil:
		// last known value, or the default if there is none
		s.log.Error("settings lookup failed", "key", key, "err", err)
		return e.value, e.found
	default:
		e = entry{value: row.Value, found: true, fetched: now}
	}

	s.mu.Lock()
	s.cache[key] = e
	s.mu.Unlock()
	return e.value, e.found
}
