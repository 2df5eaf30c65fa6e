package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/example/receiptshare/internal/config"
	"github.com/example/receiptshare/internal/dbmigrate"
	"go.uber.org/zap"
)

type App struct {
	DB             DB
	log            *zap.Logger
	metrics        *metrics
	issuer         *tokenIssuer
	rateLimiter    *RateLimiter
	allowedOrigins []string
	now            func() time.Time
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func newLogger(c *cfg.Config) (*zap.Logger, error) {
	var zc zap.Config
	switch c.Env {
	case "local", "dev":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
	}
	if err := zc.Level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, err
	}
	return zc.Build()
}

func openDB(ctx context.Context, c *cfg.Config, log *zap.Logger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		return NewSQLiteDB(ctx, c.SQLiteFile)
	case "postgres":
		log.Info("applying database migrations", zap.String("dir", c.MigrationsDir))
		if err := dbmigrate.Apply(c.MigrationsDir, c.Postgres.DSN, log); err != nil {
			return nil, err
		}
		return NewPostgresDB(ctx, c.Postgres.DSN)
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, errors.New("unsupported DB_ADAPTER: " + c.DBAdapter)
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "optional YAML config file; environment variables override it")
	flag.Parse()

	c, err := cfg.Load(configPath)
	if err != nil {
		panic("config: " + err.Error())
	}
	log, err := newLogger(c)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer log.Sync()

	ctx := context.Background()
	db, err := openDB(ctx, c, log)
	if err != nil {
		log.Fatal("database init", zap.String("adapter", c.DBAdapter), zap.Error(err))
	}

	app := &App{
		DB:      db,
		log:     log,
		metrics: newMetrics(),
		issuer: &tokenIssuer{
			secret:     []byte(c.JwtSecret),
			accessTTL:  c.AccessTTL,
			refreshTTL: c.RefreshTTL,
			now:        time.Now,
		},
		rateLimiter:    NewRateLimiter(c.RateLimit),
		allowedOrigins: c.CORSOrigins,
		now:            time.Now,
	}
	if err := app.seed(ctx, c.Bootstrap); err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}

	srv := &http.Server{
		Handler:      app.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", c.Port), zap.String("db", c.DBAdapter))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	if err := app.DB.Close(); err != nil {
		log.Error("closing database", zap.Error(err))
	}
	log.Info("server exited properly")
}
