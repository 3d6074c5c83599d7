// Package server wires configuration, storage backends and services into
// the HTTP server and runs it until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/cloudkeeper/internal/logging"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/access"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/config"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/mail"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/objectstore"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/services"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	http    *httpapi.Server
	storage *services.StorageService
}

// NewApp opens the database, applies migrations, connects the object store
// and builds every service.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.IsProduction())

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	m := metrics.New()

	store, err := objectstore.NewS3Gateway(ctx, objectstore.S3Options{
		User:          c.S3RootUser,
		Password:      c.S3RootPassword,
		Bucket:        c.S3Bucket,
		Region:        c.S3Region,
		Endpoint:      c.S3BaseEndpoint,
		PublicBaseURL: c.PublicBaseURL(),
	}, m)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("object store init error: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("object store bucket error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	storage := services.NewStorageService(db, rm, m, logger)
	app.storage = storage

	app.http = httpapi.NewServer(c.HTTPAddr, logger, c.IsProduction(), c.MaxUploadSize, httpapi.Deps{
		Auth:      access.NewAuthenticator(rm.Users(db), []byte(c.SecretKey)),
		Limiter:   app.newLimiter(ctx),
		Metrics:   m,
		Users:     services.NewUserService(db, rm, store, app.newMailer(), c, logger),
		Files:     services.NewFileService(db, rm, store, c, m, logger),
		Folders:   services.NewFolderService(db, rm, logger),
		Dashboard: services.NewDashboardService(db, rm, storage),
		Static:    services.NewStaticService(db, rm),
	})

	return app, nil
}

// newLimiter prefers the shared Redis limiter and falls back to the
// in-process one when Redis is not configured or unreachable.
func (app *App) newLimiter(ctx context.Context) ratelimit.Limiter {
	c := app.config
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		err := client.Ping(ctx).Err()
		if err == nil {
			app.redis = client
			app.logger.Info(ctx, "Using redis rate limiter", "address", c.RedisAddr)
			return ratelimit.NewRedisLimiter(client, c.RateLimitRequests, c.RateLimitWindow)
		}
		app.logger.Warn(ctx, "redis unavailable, using in-memory rate limiter", "error", err)
		client.Close()
	}
	return ratelimit.NewMemoryLimiter(c.RateLimitRequests, c.RateLimitWindow)
}

func (app *App) newMailer() mail.Mailer {
	c := app.config
	if c.SMTPHost == "" {
		return mail.NewLogMailer(app.logger)
	}
	return mail.NewSMTPMailer(c.SMTPHost, c.SMTPPort, c.SMTPUser, c.SMTPPassword, c.SMTPFrom)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or the HTTP server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if interval := app.config.ReconcileInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.storage.RunReconciler(ctx, interval)
		}()
	}

	wg.Wait()
	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close error", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
