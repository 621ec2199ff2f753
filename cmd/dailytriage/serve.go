package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"daily-triage/internal/api"
	"daily-triage/internal/bot"
	"daily-triage/internal/config"
	"daily-triage/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	jobTimeout      = 5 * time.Minute
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduled reset and the optional Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(cfg)
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var jwks *keyfunc.JWKS
	if cfg.JWKSURL != "" {
		jwks, err = keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Warn("jwks refresh")
			},
		})
		if err != nil {
			return err
		}
		defer jwks.EndBackground()
	}
	auth := api.NewAuth(jwks, cfg.JWTSecret, cfg.JWTAudience, cfg.JWTIssuer)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, a.planner, auth, cfg.CronSecret, log)

	scheduler := service.NewSchedulerService(cfg.Location, log)
	if _, err := scheduler.ScheduleDaily("daily-reset", cfg.ResetSchedule, func() {
		runFleetReset(a.planner, log)
	}); err != nil {
		return err
	}

	var telegramBot *bot.Bot
	if cfg.TelegramToken != "" {
		reminders := service.NewReminderService(a.planner, a.cal)
		telegramBot, err = bot.New(cfg.TelegramToken, a.store.Users, a.planner, reminders, a.clock, log)
		if err != nil {
			return err
		}
		if cfg.ReportTime != "" {
			if _, err := scheduler.ScheduleDaily("daily-report", cfg.ReportTime, func() {
				jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
				defer cancel()
				if err := telegramBot.SendDailyReports(jobCtx); err != nil {
					log.WithError(err).Warn("daily reports")
				}
			}); err != nil {
				return err
			}
		}
	}

	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http server started")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if telegramBot != nil {
		g.Go(func() error {
			return telegramBot.Start(gctx)
		})
	}

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

func runFleetReset(planner service.Planner, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	report, err := planner.ResetAllUsers(ctx)
	if err != nil {
		log.WithError(err).Error("scheduled reset")
		return
	}
	log.WithFields(logrus.Fields{
		"checked": report.Checked,
		"reset":   report.Reset,
		"failed":  report.Failed,
	}).Info("scheduled reset finished")
}
