// Package app wires configuration, the Graph client, storage and the
// upload and provisioning services into one application.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/config"
	"github.com/dmitrijs2005/adpipe/internal/creative"
	"github.com/dmitrijs2005/adpipe/internal/graph"
	"github.com/dmitrijs2005/adpipe/internal/idempotency"
	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/dmitrijs2005/adpipe/internal/mediacache"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/provision"
	"github.com/dmitrijs2005/adpipe/internal/repositories/repomanager"
	"github.com/dmitrijs2005/adpipe/internal/retry"
	"github.com/dmitrijs2005/adpipe/internal/upload"
)

// Seams for tests.
var (
	openPostgres   = repomanager.OpenPostgres
	openMediaCache = mediacache.Open
	newS3Client    = upload.NewS3Client
)

type App struct {
	config *config.Config
	logger logging.Logger
	now    func() time.Time

	graph     *graph.Client
	engine    *upload.Engine
	creatives *creative.Service
	resolver  creative.SourceResolver
	cache     *mediacache.SQLiteCache
	cacheDB   *sql.DB
	guard     *idempotency.Guard

	repos repomanager.RepositoryManager
	db    *sql.DB
}

// NewApp builds the services. The Postgres store is opened on first use so
// uploads work without it.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	gc := graph.NewClient(graphOptions(c), logger)

	cacheDB, err := openMediaCache(ctx, c.MediaCachePath)
	if err != nil {
		return nil, fmt.Errorf("media cache init error: %w", err)
	}
	cache := mediacache.New(cacheDB, c.MediaCacheMaxAge)
	if n, err := cache.Purge(ctx); err != nil {
		logger.Warn(ctx, "media cache purge failed", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "media cache purged", "removed", n)
	}

	resolver, err := newResolver(ctx, c)
	if err != nil {
		_ = cacheDB.Close()
		return nil, err
	}

	engine := upload.NewEngine(gc, cache, uploadOptions(c), logger)

	app := &App{
		config:    c,
		logger:    logger,
		now:       time.Now,
		graph:     gc,
		engine:    engine,
		creatives: creative.NewService(gc, engine, resolver, logger),
		resolver:  resolver,
		cache:     cache,
		cacheDB:   cacheDB,
		repos:     repomanager.NewPostgresRepositoryManager(),
	}

	if c.RedisURL != "" {
		rdb, err := idempotency.Connect(c.RedisURL)
		if err != nil {
			_ = cacheDB.Close()
			return nil, err
		}
		app.guard = idempotency.NewGuard(rdb, c.IdempotencyTTL, logger)
	}
	return app, nil
}

func attemptsToRetries(attempts int) uint64 {
	if attempts <= 1 {
		return 0
	}
	return uint64(attempts - 1)
}

func graphOptions(c *config.Config) graph.Options {
	opts := graph.DefaultOptions()
	opts.BaseURL = c.GraphBaseURL
	opts.Version = c.GraphVersion
	opts.Policy.Timeout = c.RequestTimeout
	opts.Policy.MaxRetries = attemptsToRetries(c.MaxAttempts)
	opts.Batch.MaxSize = c.BatchSize
	opts.Batch.InterChunkDelay = c.BatchDelay
	return opts
}

func uploadOptions(c *config.Config) upload.Options {
	opts := upload.DefaultOptions()
	opts.ChunkedThreshold = c.ChunkedThreshold
	retries := attemptsToRetries(c.MaxAttempts)
	for _, p := range []*retry.Policy{&opts.StartPolicy, &opts.FinishPolicy, &opts.TransferPolicy, &opts.SimplePolicy} {
		p.MaxRetries = retries
	}
	opts.StartPolicy.Timeout = c.StartFinishTimeout
	opts.FinishPolicy.Timeout = c.StartFinishTimeout
	opts.TransferPolicy.Timeout = c.TransferTimeout
	opts.SimplePolicy.Timeout = c.TransferTimeout
	return opts
}

func newResolver(ctx context.Context, c *config.Config) (creative.SourceResolver, error) {
	if c.S3Bucket == "" {
		return upload.LocalResolver{Root: c.MediaRoot}, nil
	}
	api, err := newS3Client(ctx, upload.S3Config{
		Region:       c.S3Region,
		Endpoint:     c.S3Endpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		UsePathStyle: c.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return upload.S3Resolver{API: api, Bucket: c.S3Bucket, Prefix: c.S3Prefix}, nil
}

// ExecutionContext returns the credentials and ids every remote call uses.
func (app *App) ExecutionContext() graph.ExecutionContext {
	return graph.ExecutionContext{
		AccessToken:      app.config.AccessToken,
		AppSecret:        app.config.AppSecret,
		AdAccountID:      app.config.AdAccountID,
		PageID:           app.config.PageID,
		InstagramActorID: app.config.InstagramActorID,
		DryRun:           app.config.DryRun,
	}
}

func (app *App) store(ctx context.Context) (*sql.DB, error) {
	if app.db != nil {
		return app.db, nil
	}
	db, err := openPostgres(ctx, app.config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	return db, nil
}

// Migrate applies the Postgres schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	db, err := app.store(ctx)
	if err != nil {
		return err
	}
	return app.repos.RunMigrations(ctx, db)
}

// Upload sends src to the ad account. Videos are awaited until ready.
func (app *App) Upload(ctx context.Context, src upload.ChunkSource, image bool) (models.MediaAsset, error) {
	ec := app.ExecutionContext()
	if image {
		return app.engine.UploadImage(ctx, ec, src)
	}
	asset, err := app.engine.UploadVideo(ctx, ec, src, upload.VideoMeta{Title: src.Name()})
	if err != nil || ec.DryRun {
		return asset, err
	}
	return asset, app.engine.AwaitVideoReady(ctx, ec, asset.ID)
}

// Resolve opens the media stored under key with the configured resolver.
func (app *App) Resolve(ctx context.Context, key string) (upload.ChunkSource, error) {
	return app.resolver.Resolve(ctx, key)
}

// CachedMedia lists the media cache entries of the configured account.
func (app *App) CachedMedia(ctx context.Context) ([]models.CachedAsset, error) {
	return app.cache.List(ctx, app.ExecutionContext().AccountID())
}

// Provision runs the provisioning workflow. With Redis configured, the same
// request is refused while a previous run holds its operation key.
func (app *App) Provision(ctx context.Context, req provision.Request) (*provision.Result, error) {
	db, err := app.store(ctx)
	if err != nil {
		return nil, err
	}
	svc := provision.NewService(db, app.repos, app.graph, app.creatives, provision.Options{
		AdSetMode: app.config.AdSetMode,
	}, app.logger)

	ec := app.ExecutionContext()
	if app.guard == nil || ec.DryRun {
		return svc.Provision(ctx, ec, req)
	}

	key := provision.OperationKey(req.DirectionID, req.CreativeIDs, app.now(), app.config.IdempotencyBucket)
	var res *provision.Result
	err = app.guard.Run(ctx, key, func(ctx context.Context) (string, error) {
		r, err := svc.Provision(ctx, ec, req)
		res = r
		if err != nil {
			return "", err
		}
		return r.Summary, nil
	})
	return res, err
}

// Close releases the databases.
func (app *App) Close() error {
	var errs []error
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	if app.cacheDB != nil {
		errs = append(errs, app.cacheDB.Close())
	}
	return errors.Join(errs...)
}

// SignalContext returns a context cancelled on SIGINT, SIGTERM or SIGQUIT.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
}
