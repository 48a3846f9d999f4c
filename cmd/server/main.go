package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispute-assistant/config"
	"dispute-assistant/handlers"
	"dispute-assistant/ocr"
	"dispute-assistant/repository"
	"dispute-assistant/service"
	"dispute-assistant/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runStore is what the server needs from a run repository
type runStore interface {
	service.RunStore
	service.RunLister
	handlers.RunReader
}

func main() {
	// Try current directory first, then project root
	dotenvErr := config.LoadDotEnv()

	cfg := config.Load()
	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if dotenvErr != nil {
		logger.Warn("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	fileStorage, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	logger.Info("storage initialized", zap.String("type", string(cfg.Storage.Type)))

	// Initialize repositories; Postgres is optional
	var runs runStore = repository.NewMemoryRunRepository()
	var uploads service.UploadStore
	if cfg.Database.URL != "" {
		db, err := initPostgres(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to initialize Postgres", zap.Error(err))
		}
		defer db.Close()
		runs = repository.NewRunRepository(db)
		uploads = repository.NewUploadRepository(db)
		logger.Info("postgres connection established")
	} else {
		logger.Info("DATABASE_URL not set, keeping runs in memory")
	}

	// Initialize OCR engine
	engine, err := ocr.NewEngine(ctx, cfg.OCR)
	if err != nil {
		logger.Fatal("failed to initialize OCR engine", zap.Error(err))
	}
	if closer, ok := engine.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("OCR engine initialized", zap.String("engine", engine.Name()))

	// Initialize services
	sessionOpts := []service.SessionServiceOption{
		service.WithSessionStorage(fileStorage),
		service.WithSessionTTL(cfg.Server.SessionTTL),
		service.WithSessionLogger(logger),
	}
	if uploads != nil {
		sessionOpts = append(sessionOpts, service.WithUploadStore(uploads))
	}
	sessions := service.NewSessionService(sessionOpts...)

	caller := service.NewTwilioCaller(
		service.WithCallAPIBase(cfg.Call.APIBase),
		service.WithCallTimeout(cfg.Call.Timeout),
		service.WithCallLogger(logger),
	)

	pipeline := service.NewPipeline(
		service.WithOCREngine(engine),
		service.WithPipelineStorage(fileStorage),
		service.WithRunStore(runs),
		service.WithCaller(caller),
		service.WithIdentity(cfg.Identity),
		service.WithCallFlowDocument(true),
		service.WithPipelineLogger(logger),
	)

	exporter := service.NewExportService(runs, logger)

	// Initialize handlers
	disputeHandler := handlers.NewDisputeHandler(sessions, pipeline, runs, exporter, logger, cfg.Server.MaxUploadSize)

	// Setup Gin router
	if cfg.LogEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.Server.MaxUploadSize
	disputeHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunJanitor(gctx, time.Minute)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
