// Package app builds the long-lived services from configuration and exposes the pipeline runners
// to the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/api"
	"github.com/JakeFAU/runcalcs-crawler/internal/clock/system"
	"github.com/JakeFAU/runcalcs-crawler/internal/config"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawl"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/dataset"
	"github.com/JakeFAU/runcalcs-crawler/internal/dedup"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/runcalcs-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/runcalcs-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/runcalcs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/runcalcs-crawler/internal/headless/detector"
	"github.com/JakeFAU/runcalcs-crawler/internal/id/uuid"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/merge"
	"github.com/JakeFAU/runcalcs-crawler/internal/metrics"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
	"github.com/JakeFAU/runcalcs-crawler/internal/policy/blocklist"
	"github.com/JakeFAU/runcalcs-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/runcalcs-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
	gcsstorage "github.com/JakeFAU/runcalcs-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/runcalcs-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/runcalcs-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/runcalcs-crawler/internal/storage/postgres"
	s3storage "github.com/JakeFAU/runcalcs-crawler/internal/storage/s3"
)

// RunEventTopic labels run notifications.
const RunEventTopic = "pipeline.run.finished"

// idHashBytes is how many digest bytes make up a record ID.
const idHashBytes = 16

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobs        crawler.BlobStore
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	runStore     *pgstore.RunStore
	headless     *headlessfetcher.Fetcher

	runners map[pipeline.Variant]pipeline.Runner
}

// RunOverrides adjusts a single run. Zero values keep the configured settings.
type RunOverrides struct {
	PageBudget int
	Seeds      []string

	// Key writes the run's dataset to another path in the configured store.
	Key string
}

// Build creates the application's dependencies. A nil logger is built from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	built := false
	defer func() {
		if !built {
			a.closeInfrastructure()
		}
	}()

	var err error
	if a.blobs, err = a.setupStorage(ctx); err != nil {
		return nil, err
	}
	ledger, err := a.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := a.setupCrawler()
	if err != nil {
		return nil, err
	}
	reporter := pipeline.NewReporter(publisher, RunEventTopic, ledger, logger)
	if err := a.setupRunners(pages, reporter); err != nil {
		return nil, err
	}
	built = true
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runner returns the pipeline for variant.
func (a *App) Runner(variant pipeline.Variant) (pipeline.Runner, error) {
	r, ok := a.runners[variant]
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", variant)
	}
	return r, nil
}

// RunConfig resolves the configured run for variant.
func (a *App) RunConfig(variant pipeline.Variant) (pipeline.RunConfig, error) {
	switch variant {
	case pipeline.VariantRaces:
		return a.cfg.RaceRun(), nil
	case pipeline.VariantArticles:
		return a.cfg.ArticleRun(), nil
	}
	return pipeline.RunConfig{}, fmt.Errorf("unknown variant %q", variant)
}

// RunOnce executes one run of variant and pushes its metrics when a Pushgateway is configured.
// A push failure is logged; only the run's own error is returned.
func (a *App) RunOnce(ctx context.Context, variant pipeline.Variant, overrides RunOverrides) (pipeline.Result, error) {
	runner, err := a.Runner(variant)
	if err != nil {
		return pipeline.Result{}, err
	}
	cfg, err := a.RunConfig(variant)
	if err != nil {
		return pipeline.Result{}, err
	}
	if overrides.PageBudget > 0 {
		cfg.PageBudget = overrides.PageBudget
	}
	if len(overrides.Seeds) > 0 {
		cfg.Seeds = append([]string(nil), overrides.Seeds...)
	}
	if overrides.Key != "" {
		cfg.Key = overrides.Key
	}

	result, runErr := runner.Run(ctx, cfg)
	if a.cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
			a.logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	return result, runErr
}

// Handler builds the HTTP API over the runners.
func (a *App) Handler() http.Handler {
	targets := make(map[pipeline.Variant]api.Target, len(a.runners))
	for v, r := range a.runners {
		cfg, _ := a.RunConfig(v)
		targets[v] = api.Target{Runner: r, Config: cfg}
	}
	var runs api.RunLister
	if a.runStore != nil {
		runs = a.runStore
	}
	server := api.NewServer(targets, runs, api.Options{
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
		RunTimeout:     time.Duration(a.cfg.Server.RunTimeoutSeconds) * time.Second,
		Ready:          a.Ready,
	}, a.logger)
	return server.Handler()
}

// Ready checks that the dataset store answers. A missing dataset is fine.
func (a *App) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.blobs.GetObject(ctx, a.cfg.Races.Key); err != nil && !errors.Is(err, crawler.ErrObjectNotFound) {
		return fmt.Errorf("dataset store unreachable: %w", err)
	}
	return nil
}

// Serve runs the HTTP server until ctx is canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, CacheControl: cfg.CacheControl})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendS3:
		a.logger.Info("using S3 storage backend", zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
		store, err := s3storage.NewFromEnvironment(ctx, s3storage.Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Prefix:       cfg.Prefix,
			CacheControl: cfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", cfg.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Warn("using in-memory storage backend; datasets do not survive restarts")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (pipeline.Ledger, error) {
	db := a.cfg.DB
	if db.DSN == "" {
		a.logger.Info("no DSN configured, run ledger disabled")
		return nil, nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             db.DSN,
		Table:           db.Table,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: time.Duration(db.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore = store
	if db.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	a.logger.Info("run ledger initialized", zap.String("table", db.Table))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	ps := a.cfg.PubSub
	if ps.ProjectID == "" || ps.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, run notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client.Topic(ps.TopicName))
	a.logger.Info("Pub/Sub publisher initialized", zap.String("project", ps.ProjectID), zap.String("topic", ps.TopicName))
	return a.publisher, nil
}

func (a *App) setupCrawler() (pipeline.PageSource, error) {
	httpCfg := a.cfg.HTTP
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     httpCfg.UserAgent,
		RespectRobots: httpCfg.RespectRobots,
		Timeout:       a.cfg.PageTimeout(),
		MaxBodyBytes:  httpCfg.MaxBodyBytes,
	})
	a.logger.Info("using colly probe fetcher", zap.String("user_agent", httpCfg.UserAgent))

	var (
		headless crawler.Fetcher
		detect   crawler.HeadlessDetector
	)
	if a.cfg.Headless.Enabled {
		detect = detector.NewHeuristic(a.cfg.Headless.PromotionThreshold)
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         httpCfg.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSeconds) * time.Second,
			ScrollSteps:       a.cfg.Headless.ScrollSteps,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, promotions will keep the static page", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		} else {
			a.headless = f
			headless = f
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   httpCfg.RPS,
		DefaultBurst: httpCfg.Burst,
		DomainRPS:    httpCfg.DomainRPS,
	})
	c, err := crawl.New(probe, headless, detect, limiter, system.New(), crawl.Config{
		Concurrency: a.cfg.Crawler.Concurrency,
		PageTimeout: a.cfg.PageTimeout(),
		Retry: crawl.RetryPolicy{
			MaxRetries: httpCfg.MaxRetries,
			BaseDelay:  time.Duration(httpCfg.BackoffInitialMs) * time.Millisecond,
			MaxDelay:   time.Duration(httpCfg.BackoffMaxMs) * time.Millisecond,
		},
		Policy: blocklist.New(a.cfg.Crawler.BlockedDomains),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}
	return c, nil
}

// datasetOpener opens datasets at other keys of the same blob store.
func datasetOpener[R any](blobs crawler.BlobStore, contentType string, logger *zap.Logger) pipeline.DatasetOpener[R] {
	return func(key string) (pipeline.Dataset[R], error) {
		store, err := dataset.NewStore[R](blobs, key, contentType, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (a *App) setupRunners(pages pipeline.PageSource, reporter *pipeline.Reporter) error {
	hasher := sha256.NewTruncated(idHashBytes)
	var clock crawler.Clock = system.New()
	if asOf, ok := a.cfg.AsOf(); ok {
		a.logger.Info("run clock pinned", zap.Time("as_of", asOf))
		clock = system.Fixed{At: asOf}
	}
	ids := uuid.NewUUIDGenerator()
	loc := a.cfg.Location()

	raceStore, err := dataset.NewStore[record.Race](a.blobs, a.cfg.Races.Key, a.cfg.Storage.ContentType, a.logger)
	if err != nil {
		return fmt.Errorf("race dataset init failed: %w", err)
	}
	raceNormalizer, err := normalize.NewRaceNormalizer(normalize.RaceConfig{
		DefaultDistanceKM: a.cfg.Races.DefaultDistanceKM,
		Location:          loc,
	}, hasher)
	if err != nil {
		return fmt.Errorf("race normalizer init failed: %w", err)
	}
	races, err := pipeline.NewRaceEngine(pipeline.RaceOptions{
		Pages:   pages,
		Dataset: raceStore,
		Extractor: extract.NewRaceExtractor(extract.RaceConfig{
			RequirementKeywords:     a.cfg.Extract.RequirementKeywords,
			MaxRequirementSentences: a.cfg.Extract.MaxRequirementSentences,
		}, a.logger),
		Normalizer: raceNormalizer,
		Policy: dedup.NewRacePolicy(dedup.RaceMatching{
			NameSimilarity: a.cfg.Races.Matching.NameSimilarity,
			DateWindowDays: a.cfg.Races.Matching.DateWindowDays,
		}, merge.RaceMerger{DefaultDistanceKM: a.cfg.Races.DefaultDistanceKM}, raceNormalizer),
		Open:     datasetOpener[record.Race](a.blobs, a.cfg.Storage.ContentType, a.logger),
		Baseline: a.cfg.RaceBaseline(),
		Clock:    clock,
		IDs:      ids,
		Reporter: reporter,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("race pipeline init failed: %w", err)
	}

	articleStore, err := dataset.NewStore[record.Article](a.blobs, a.cfg.Articles.Key, a.cfg.Storage.ContentType, a.logger)
	if err != nil {
		return fmt.Errorf("article dataset init failed: %w", err)
	}
	articleNormalizer, err := normalize.NewArticleNormalizer(hasher, loc)
	if err != nil {
		return fmt.Errorf("article normalizer init failed: %w", err)
	}
	articles, err := pipeline.NewArticleEngine(pipeline.ArticleOptions{
		Pages:      pages,
		Dataset:    articleStore,
		Extractor:  extract.NewArticleExtractor(a.logger),
		Normalizer: articleNormalizer,
		Clock:      clock,
		IDs:        ids,
		Reporter:   reporter,
		Logger:     a.logger,
		Open:       datasetOpener[record.Article](a.blobs, a.cfg.Storage.ContentType, a.logger),
	})
	if err != nil {
		return fmt.Errorf("article pipeline init failed: %w", err)
	}

	a.runners = map[pipeline.Variant]pipeline.Runner{
		pipeline.VariantRaces:    races,
		pipeline.VariantArticles: articles,
	}
	return nil
}
