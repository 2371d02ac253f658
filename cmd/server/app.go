package main

import (
	"context"
	"fmt"
	"os"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/config"
	"email-payment-gateway/internal/events"
	"email-payment-gateway/internal/ingest"
	"email-payment-gateway/internal/logging"
	"email-payment-gateway/internal/repository"
	"email-payment-gateway/internal/schedule"
	"email-payment-gateway/internal/services/matching"
	"email-payment-gateway/internal/services/parser"
	"email-payment-gateway/internal/services/payment"
	"email-payment-gateway/internal/services/reconciliation"
	"email-payment-gateway/internal/services/settings"
	"email-payment-gateway/internal/services/sweeper"
	"email-payment-gateway/internal/services/webhook"
	"email-payment-gateway/internal/services/whitelist"

	"github.com/redis/go-redis/v9"
	"gopkg.in/inconshreveable/log15.v2"
	"gorm.io/gorm"
)

// app holds every long-lived component, wired once per process.
type app struct {
	cfg   *config.Config
	log   log15.Logger
	db    *gorm.DB
	clock clock.Clock

	settings   *settings.Service
	payments   *payment.Service
	dispatcher *webhook.Dispatcher
	sweeper    *sweeper.Sweeper
	pipeline   *reconciliation.Service
	queue      *ingest.PushQueue

	redis   *redis.Client
	closers []func() error
}

func loadConfig(path string) (*config.Config, log15.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logging.BridgeStdlib(log)
	return cfg, log, nil
}

func newApp(path string) (*app, error) {
	cfg, log, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db, clock: clock.System{}}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	paymentRepo := repository.NewPaymentRepository(db)
	emailRepo := repository.NewInboundEmailRepository(db)
	accountRepo := repository.NewAccountNumberRepository(db)
	businessRepo := repository.NewBusinessRepository(db)
	logRepo := repository.NewTransactionLogRepository(db)

	a.settings = settings.NewService(repository.NewSettingRepository(db), a.clock, cfg.SettingsCacheTTL,
		settings.DefaultsFromConfig(cfg), log.New("component", "settings"))

	bus := events.NewBus(log.New("component", "events"))
	a.payments = payment.NewService(paymentRepo, accountRepo, businessRepo, logRepo, a.settings, bus, a.clock,
		minutes(cfg.PaymentExpiryMinutes), log.New("component", "payments"))

	a.dispatcher = webhook.NewDispatcher(paymentRepo, businessRepo, logRepo, a.settings, nil, a.clock, webhook.Options{
		MaxAttempts: cfg.WebhookMaxAttempts,
		Cooldown:    cfg.WebhookCooldown,
		Timeout:     cfg.WebhookTimeout,
	}, log.New("component", "webhooks"))

	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		w := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, w.Close)
		kafkaPub = events.NewKafkaPublisher(w, cfg.WebhookTimeout)
		log.Info("publishing payment events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	events.Register(bus,
		events.NewFulfillmentListener(repository.NewFulfillmentRepository(db), log.New("component", "fulfillment")),
		events.NewWebhookListener(a.dispatcher),
		kafkaPub,
	)

	a.sweeper = sweeper.New(paymentRepo, a.payments, a.clock, cfg.SweepBatchSize, log.New("component", "sweeper"))

	engine := matching.NewEngine(paymentRepo, a.payments, a.settings, log.New("component", "matching"))
	a.pipeline = reconciliation.NewService(
		emailRepo,
		repository.NewIngestRunRepository(db),
		logRepo,
		whitelist.NewFilter(repository.NewWhitelistRepository(db), cfg.WhitelistAcceptAllWhenEmpty),
		parser.New(),
		engine,
		a.settings,
		a.clock,
		log.New("component", "reconciliation"),
	)
	a.queue = ingest.NewPushQueue(cfg.PushQueueSize)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, a.redis.Close)
	}
	return a, nil
}

// producers lists the pull sources configured for this process.
func (a *app) producers() []ingest.Producer {
	var out []ingest.Producer
	if a.cfg.IMAPAddr != "" {
		out = append(out, ingest.NewIMAPProducer(ingest.IMAPOptions{
			Addr:     a.cfg.IMAPAddr,
			Username: a.cfg.IMAPUsername,
			Password: a.cfg.IMAPPassword,
			Mailbox:  a.cfg.IMAPMailbox,
			Timeout:  a.cfg.IMAPTimeout,
			TLS:      a.cfg.IMAPTLS,
		}, a.log))
	}
	if a.cfg.MailDropDir != "" {
		out = append(out, ingest.NewDirProducer(a.cfg.MailDropDir, a.log))
	}
	return out
}

func (a *app) locker(ctx context.Context) (schedule.Locker, error) {
	if a.redis == nil {
		return schedule.NewLocalLocker(), nil
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", a.cfg.RedisAddr, err)
	}
	return schedule.NewRedisLocker(a.redis, "email-payment-gateway:"), nil
}

// scheduler registers the periodic jobs. push is included only when this
// process also serves the inbound webhook.
func (a *app) scheduler(ctx context.Context, push bool) (*schedule.Scheduler, error) {
	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	s := schedule.New(locker, a.log.New("component", "scheduler"))

	producers := a.producers()
	if push {
		producers = append(producers, a.queue)
	}
	for _, p := range producers {
		p := p
		s.Add(schedule.Job{
			Name:     "ingest-" + p.Name(),
			Interval: a.cfg.IngestInterval,
			Run: func(ctx context.Context) error {
				_, err := a.pipeline.Ingest(ctx, p)
				return err
			},
		})
	}

	s.Add(schedule.Job{Name: "rematch", Interval: a.cfg.RematchInterval, Run: func(ctx context.Context) error {
		_, err := a.pipeline.Rematch(ctx)
		return err
	}})
	s.Add(schedule.Job{Name: "expiry-sweep", Interval: a.cfg.SweepInterval, Run: func(ctx context.Context) error {
		_, err := a.sweeper.Run(ctx)
		return err
	}})
	s.Add(schedule.Job{Name: "webhook-dispatch", Interval: a.cfg.WebhookInterval, Run: func(ctx context.Context) error {
		_, err := a.dispatcher.Sweep(ctx, a.cfg.WebhookBatchLimit)
		return err
	}})
	return s, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("shutdown", "err", err)
		}
	}
}
