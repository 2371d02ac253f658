package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"email-payment-gateway/internal/config"
	"email-payment-gateway/internal/ingest"
	"email-payment-gateway/internal/services/sweeper"

	"github.com/spf13/cobra"
)

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending payments once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.sweeper.Run(cmd.Context())
			var partial *sweeper.PartialFailure
			if err != nil && !errors.As(err, &partial) {
				return err
			}
			if perr := printJSON(res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func dispatchWebhooksCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dispatch-webhooks",
		Short: "Run one webhook delivery sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = a.cfg.WebhookBatchLimit
			}
			res, err := a.dispatcher.Sweep(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum payments to process, at most 100 (default from config)")
	return cmd
}

func ingestDirCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-dir [dir]",
		Short: "Process the .eml files in a directory once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			run, err := a.pipeline.Ingest(ctx, ingest.NewDirProducer(args[0], a.log))
			if run != nil {
				if perr := printJSON(run); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := config.InitDB(cfg)
			if err != nil {
				return err
			}
			if err := config.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("schema migrated")
			return nil
		},
	}
}
