package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/aerodocs/techpubs-backend/internal/clients/gcp"
	"github.com/aerodocs/techpubs-backend/internal/clients/openai"
	redisclient "github.com/aerodocs/techpubs-backend/internal/clients/redis"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	"github.com/aerodocs/techpubs-backend/internal/db"
	"github.com/aerodocs/techpubs-backend/internal/handlers"
	"github.com/aerodocs/techpubs-backend/internal/observability"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
	"github.com/aerodocs/techpubs-backend/internal/server"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

type Repos struct {
	Documents repos.DocumentRepo
	Versions  repos.DocumentVersionRepo
	Chunks    repos.DocumentChunkRepo
	Jobs      repos.DocumentJobRepo
	Lookups   repos.LookupRepo
}

type Services struct {
	Uploads   services.UploadService
	Documents services.DocumentService
	Jobs      services.JobService
	Pipeline  services.PipelineService
	Search    services.SearchService
	Lookups   services.LookupService
}

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services

	enqueuer     queue.Enqueuer
	inspector    queue.Inspector
	searchCache  redisclient.SearchCache
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init gcs bucket: %w", err)
	}
	embedder, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init embeddings client: %w", err)
	}
	searchCache, err := redisclient.NewSearchCache(log)
	if err != nil {
		log.Warn("Search cache unavailable, continuing without it", "error", err)
		searchCache = nil
	}

	redisOpt := queue.RedisOptFromEnv(log)
	enqueuer := queue.NewEnqueuer(redisOpt, log)
	inspector := queue.NewInspector(redisOpt, log)

	serviceset := wireServices(theDB, log, reposet, bucket, embedder, searchCache, enqueuer, inspector)

	router := server.NewRouter(server.RouterConfig{
		ServiceName:      cfg.ServiceName,
		UploadsHandler:   handlers.NewUploadsHandler(serviceset.Uploads),
		DocumentsHandler: handlers.NewDocumentsHandler(serviceset.Documents, serviceset.Pipeline),
		JobsHandler:      handlers.NewJobsHandler(serviceset.Jobs),
		SearchHandler:    handlers.NewSearchHandler(serviceset.Search),
		LookupsHandler:   handlers.NewLookupsHandler(serviceset.Lookups),
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		enqueuer:     enqueuer,
		inspector:    inspector,
		searchCache:  searchCache,
		otelShutdown: otelShutdown,
	}, nil
}

func wireRepos(theDB *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Documents: repos.NewDocumentRepo(theDB, log),
		Versions:  repos.NewDocumentVersionRepo(theDB, log),
		Chunks:    repos.NewDocumentChunkRepo(theDB, log),
		Jobs:      repos.NewDocumentJobRepo(theDB, log),
		Lookups:   repos.NewLookupRepo(theDB, log),
	}
}

func wireServices(
	theDB *gorm.DB,
	log *logger.Logger,
	r Repos,
	bucket gcp.BucketService,
	embedder openai.Client,
	searchCache redisclient.SearchCache,
	enqueuer queue.Enqueuer,
	inspector queue.Inspector,
) Services {
	pipeline := services.NewPipelineService(theDB, log, r.Jobs, r.Chunks, r.Documents, r.Versions, enqueuer)
	return Services{
		Pipeline:  pipeline,
		Uploads:   services.NewUploadService(theDB, log, r.Documents, r.Versions, r.Jobs, r.Lookups, bucket, enqueuer),
		Documents: services.NewDocumentService(theDB, log, r.Documents, r.Versions, r.Chunks, r.Jobs, bucket),
		Jobs:      services.NewJobService(theDB, log, r.Jobs, pipeline, enqueuer, inspector),
		Search:    services.NewSearchService(log, r.Chunks, embedder, searchCache),
		Lookups:   services.NewLookupService(log, r.Lookups),
	}
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + a.Cfg.HTTPPort,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening", "port", a.Cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.Close(shutdownCtx)
	return nil
}

func (a *App) Close(ctx context.Context) {
	if a.enqueuer != nil {
		if err := a.enqueuer.Close(); err != nil {
			a.Log.Warn("Closing queue client failed", "error", err)
		}
	}
	if a.inspector != nil {
		if err := a.inspector.Close(); err != nil {
			a.Log.Warn("Closing queue inspector failed", "error", err)
		}
	}
	if a.searchCache != nil {
		if err := a.searchCache.Close(); err != nil {
			a.Log.Warn("Closing search cache failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
