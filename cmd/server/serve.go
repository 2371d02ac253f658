package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	handler "email-payment-gateway/internal/handlers"
	"email-payment-gateway/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			if !noWorker {
				s, err := a.scheduler(ctx, true)
				if err != nil {
					return err
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = s.Run(ctx)
				}()
			}

			err = a.serveHTTP(ctx)
			stop()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve HTTP only; run jobs in a separate worker process")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background jobs without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := a.scheduler(ctx, false)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
}

func (a *app) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := routes.NewEngine(a.log.New("component", "http"), a.cfg.CORSOrigins)

	var pinger handler.Pinger
	if sqlDB, err := a.db.DB(); err == nil {
		pinger = sqlDB
	}
	routes.RegisterRoutes(r, routes.Handlers{
		Health:         handler.NewHealthHandler(pinger),
		Payments:       handler.NewPaymentHandler(a.payments, a.log.New("component", "http")),
		Admin:          handler.NewAdminHandler(a.payments, a.log.New("component", "http")),
		Reconciliation: handler.NewReconciliationHandler(a.queue, a.pipeline, a.log.New("component", "http")),
		Cron:           handler.NewCronHandler(a.dispatcher, a.clock, a.log.New("component", "http")),
	}, routes.Secrets{
		Admin:        a.cfg.AdminSecret,
		Cron:         a.cfg.CronSecret,
		EmailWebhook: a.cfg.EmailWebhookSecret,
	})
	return r
}

func (a *app) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Warn("http server going into shutdown mode")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http server exiting after wait timeout", "timeout", shutdownTimeout, "err", err)
		return err
	}
	return nil
}
