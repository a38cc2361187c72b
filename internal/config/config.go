// Package config reads the board service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
)

const (
	envAuth0TestMode   = "AUTH0_TEST_MODE"
	envTestJWTSecret   = "TEST_JWT_SECRET"
	envLocalAuthMode   = "LOCAL_AUTH_MODE"
	envLocalAuthSecret = "LOCAL_AUTH_SHARED_SECRET"
)

// Auth selects how bearer tokens are verified. A non-empty SharedSecret
// means HS256 tokens; otherwise RS256 tokens are checked against the
// tenant's JWKS.
type Auth struct {
	Domain       string
	Audience     string
	SharedSecret []byte
	JWKSCacheTTL time.Duration
}

// JWKSURL is the key set endpoint of the Auth0 tenant.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Issuer is the expected iss claim of tenant tokens.
func (a Auth) Issuer() string {
	return "https://" + a.Domain + "/"
}

type Config struct {
	Debug bool

	StorageConnectionString string
	TasksTable              string
	TaskEventsQueue         string

	Redis            *redis.Options
	DeduperTTL       time.Duration
	SnapshotCacheTTL time.Duration

	SweepInterval      time.Duration
	WriteTimeout       time.Duration
	SessionIdleTimeout time.Duration
	Location           *time.Location

	Auth Auth

	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.Getenv)
}

// FromLookup reads the configuration through getenv.
func FromLookup(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		Debug:                   e.bool("DEBUG"),
		StorageConnectionString: getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:              getenv("TASKS_TABLE"),
		TaskEventsQueue:         getenv("TASK_EVENTS_QUEUE"),
		DeduperTTL:              e.duration("DEDUPER_TTL", 24*time.Hour),
		SnapshotCacheTTL:        e.duration("SNAPSHOT_CACHE_TTL", 10*time.Minute),
		SweepInterval:           e.duration("SWEEP_INTERVAL", time.Minute),
		WriteTimeout:            e.duration("WRITE_TIMEOUT", 30*time.Second),
		SessionIdleTimeout:      e.duration("SESSION_IDLE_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:         e.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		ListenAddr:              ":8080",
	}
	if cfg.StorageConnectionString == "" || cfg.TasksTable == "" {
		e.fail(errors.New("missing storage config"))
	}

	if raw := getenv("REDIS_CONNECTION_STRING"); raw == "" {
		e.fail(errors.New("missing redis config"))
	} else {
		cfg.Redis = ParseRedis(raw)
	}

	cfg.Location = time.Local
	if tz := getenv("BOARD_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			e.fail(fmt.Errorf("invalid BOARD_TIMEZONE: %w", err))
		} else {
			cfg.Location = loc
		}
	}

	if port := getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	} else if port := getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}

	cfg.Auth = e.auth()
	return cfg, errors.Join(e.errs...)
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) fail(err error) {
	e.errs = append(e.errs, err)
}

func (e *env) bool(key string) bool {
	v, err := strconv.ParseBool(e.get(key))
	return err == nil && v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.get(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		e.fail(fmt.Errorf("invalid %s: must be a positive duration", key))
		return def
	}
	return d
}

func (e *env) auth() Auth {
	a := Auth{JWKSCacheTTL: e.duration("JWKS_CACHE_TTL", 15*time.Minute)}

	if mode := strings.ToLower(e.get(envLocalAuthMode)); mode != "" {
		if mode != "hs256" {
			e.fail(fmt.Errorf("unsupported %s value %q", envLocalAuthMode, mode))
			return a
		}
		secret := e.get(envLocalAuthSecret)
		if secret == "" {
			e.fail(errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256"))
		}
		a.SharedSecret = []byte(secret)
		return a
	}
	if e.get(envAuth0TestMode) == "1" {
		secret := e.get(envTestJWTSecret)
		if secret == "" {
			e.fail(errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
		a.SharedSecret = []byte(secret)
		return a
	}

	a.Domain = e.get("AUTH0_DOMAIN")
	a.Audience = e.get("AUTH0_AUDIENCE")
	if a.Domain == "" || a.Audience == "" {
		e.fail(errors.New("missing Auth0 config"))
	}
	return a
}

// ParseRedis accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func ParseRedis(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
