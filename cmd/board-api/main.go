package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/MicahParks/keyfunc"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/api"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/board"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/config"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	table, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	var events storage.EventPublisher
	if cfg.TaskEventsQueue != "" {
		q, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.TaskEventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		events = q
	}

	rc := redis.NewClient(cfg.Redis)
	store := storage.NewTaskStore(table, rc, cfg.SnapshotCacheTTL, events, logger)
	sessions := board.NewSessions(store, logger, board.Config{
		SweepInterval: cfg.SweepInterval,
		WriteTimeout:  cfg.WriteTimeout,
		Location:      cfg.Location,
	}, cfg.SessionIdleTimeout)

	var auth *api.Auth
	if cfg.Auth.SharedSecret != nil {
		log.Warn("using shared secret token verification")
		auth = api.NewSharedSecretAuth(cfg.Auth.SharedSecret)
	} else {
		jwks, err := keyfunc.Get(cfg.Auth.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth.Audience, cfg.Auth.Issuer(), cfg.Auth.JWKSCacheTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("studyverse_board"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{
		Boards:         sessions,
		Auth:           auth,
		Deduper:        api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Logger:         logger,
		RequestTimeout: cfg.WriteTimeout,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()
	log.WithField("addr", cfg.ListenAddr).Info("board api started")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"board-api": func(ctx context.Context) error {
				// Stop taking requests before draining the sessions they feed.
				if err := e.Shutdown(ctx); err != nil {
					return err
				}
				if err := sessions.Close(ctx); err != nil {
					return err
				}
				return rc.Close()
			},
		},
	)
	exitCode := <-wait
	log.WithField("code", exitCode).Info("board api stopped")
	os.Exit(exitCode)
}
