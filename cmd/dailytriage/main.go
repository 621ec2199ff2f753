package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"daily-triage/internal/cache"
	"daily-triage/internal/config"
	"daily-triage/internal/repository"
	"daily-triage/internal/service"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "dailytriage",
		Short:         "Daily triage planner: inbox, today list and time tracking",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resetAllCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// app holds the dependencies shared by every command.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	db      *gorm.DB
	store   *repository.Store
	clock   service.Clock
	cal     service.Calendar
	planner service.Planner
	redis   *redis.Client
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: repository.NewStore(db),
		clock: service.SystemClock{},
		cal:   service.Calendar{Loc: cfg.Location},
	}
	resets := service.NewResetService(a.store, a.clock, a.cal, log, cfg.ResetConcurrency)
	a.planner = service.NewTaskService(a.store, resets, a.clock, a.cal, log)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.planner = cache.NewLists(a.planner, a.redis, cfg.CacheTTL, a.clock, a.cal, log)
		log.WithField("ttl", cfg.CacheTTL).Info("list cache enabled")
	}

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("close redis")
		}
	}
	if err := repository.Close(a.db); err != nil {
		a.log.WithError(err).Warn("close db")
	}
}
