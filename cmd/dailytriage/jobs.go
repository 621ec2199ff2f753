package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"daily-triage/internal/config"
	"daily-triage/internal/repository"
)

func resetAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-all",
		Short: "Run the daily reset for every user once and exit",
		Long: `Run the daily reset for every user once and exit.

Meant for an external cron. Users already reset today are skipped, so running
it more than once a day is harmless. A file lock (LOCK_FILE) keeps two runs
from overlapping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runResetAll(cmd.Context(), cfg)
		},
	}
}

func runResetAll(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(cfg)

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another reset-all holds %s", cfg.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("release lock")
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.planner.ResetAllUsers(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"checked": report.Checked,
		"reset":   report.Reset,
		"failed":  report.Failed,
	}).Info("reset-all finished")
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d users failed: %w", report.Failed, report.Checked, report.Err)
	}
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			db, err := repository.NewDB(cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			defer repository.Close(db)
			log.WithField("database", cfg.DatabaseURL).Info("schema is up to date")
			return nil
		},
	}
}
