// Command server runs the study-mentor HTTP API.
//
//	server [--env-file .env]            start serving (default)
//	server migrate [--env-file .env]    create or update the schema and exit
//
// Configuration comes from the environment (see internal/config); a .env
// file, when present, fills in variables that are not already set.
//
// @title       Study Mentor API
// @version     1.0
// @description Engagement streaks and the AI study-mentor chat.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/config"
	httpapi "github.com/tbourn/study-mentor-backend/internal/http"
	"github.com/tbourn/study-mentor-backend/internal/llm"
	"github.com/tbourn/study-mentor-backend/internal/maintenance"
	"github.com/tbourn/study-mentor-backend/internal/observability"
	"github.com/tbourn/study-mentor-backend/internal/repo"
	"github.com/tbourn/study-mentor-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("server exited")
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	envFlag := &cli.StringFlag{
		Name:  "env-file",
		Value: ".env",
		Usage: "Path to a .env file (ignored when missing)",
	}
	return &cli.Command{
		Name:   "server",
		Usage:  "Study mentor API: daily streaks and AI mentor chat",
		Flags:  []cli.Flag{envFlag},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Flags:  []cli.Flag{envFlag},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema and exit",
				Flags:  []cli.Flag{envFlag},
				Action: migrate,
			},
		},
	}
}

// bootstrap loads configuration, configures logging and opens the database.
func bootstrap(cmd *cli.Command) (config.Config, *gorm.DB, error) {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)

	db, err := repo.Open(cfg.Database)
	if err != nil {
		return cfg, nil, fmt.Errorf("open database (%s): %w", cfg.Database.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return cfg, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, db, nil
}

func migrate(_ context.Context, cmd *cli.Command) error {
	cfg, _, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("schema up to date")
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, db, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	client, err := llm.NewFactory(cfg.LLM).New(ctx)
	if err != nil {
		return fmt.Errorf("completion client: %w", err)
	}

	jobs := maintenance.New(db, cfg.IdempotencyPurgeSchedule)
	if err := jobs.Start(); err != nil {
		return fmt.Errorf("maintenance scheduler: %w", err)
	}
	defer jobs.Stop()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		return err
	}
	httpapi.RegisterRoutes(r, db, client, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("provider", cfg.LLM.Provider).
			Str("db_driver", cfg.Database.Driver).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
	return nil
}
