package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cv-recommender/infrastructure"
	"cv-recommender/interfaces"
	"cv-recommender/usecase"
)

type runMode int

const (
	modeWorker runMode = 1 << iota
	modeAPI
)

func run(ctx context.Context, mode runMode) error {
	cfg, err := infrastructure.LoadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := infrastructure.NewLogger(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infrastructure.InitTracing(signalCtx, cfg.TracingEnabled, version, logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	if err := infrastructure.ConfigurePDFLicense(cfg.PDFLicenseKey); err != nil {
		logger.Warn("pdf license not applied", zap.Error(err))
	}

	db, err := infrastructure.OpenPostgres(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	vectors := infrastructure.NewVectorStore(db.DB, cfg.RankingStrategy, logger)
	recruit := infrastructure.NewRecruitClient(cfg.RecruitBaseURL, cfg.InternalSecret, cfg.RemoteTimeout)

	g, gctx := errgroup.WithContext(signalCtx)

	if mode&modeWorker != 0 {
		producer, err := infrastructure.NewEmbeddingProducer(signalCtx, cfg.AI, cfg.RemoteTimeout, logger)
		if err != nil {
			return err
		}
		ingestion := usecase.NewIngestion(
			vectors,
			infrastructure.NewApplicationStore(db.DB),
			producer,
			infrastructure.NewDocumentReader(cfg.StorageBaseURL, cfg.RemoteTimeout, logger),
			recruit,
			usecase.IngestionConfig{
				SkipThreshold:  cfg.SkipThreshold,
				ReuseThreshold: cfg.ReuseThreshold,
			},
			logger,
		)
		router := usecase.NewRouter(ingestion, routesFor(cfg.Broker), logger)

		broker := infrastructure.NewRabbitMQ(cfg.Broker, logger)
		defer broker.Close()

		g.Go(func() error {
			return broker.Consume(gctx, router)
		})
	}

	if mode&modeAPI != 0 {
		profiles, closeProfiles := profileSource(signalCtx, cfg, recruit, logger)
		defer closeProfiles()

		matcher := usecase.NewMatcher(
			vectors,
			infrastructure.NewBatchStore(db.DB),
			profiles,
			usecase.MatchingConfig{DefaultTopK: cfg.DefaultTopK, MaxTopK: cfg.MaxTopK},
			logger,
		)
		handler, err := interfaces.NewHTTPHandler(interfaces.Dependencies{
			Matcher: matcher,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		g.Go(func() error {
			return serveHTTP(gctx, cfg.HTTPAddress, handler, logger)
		})
	}

	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", addr))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// profileSource puts the Redis cache in front of the recruit client when redis.addr is set and
// reachable.
func profileSource(ctx context.Context, cfg infrastructure.AppConfig, recruit *infrastructure.RecruitClient, logger *zap.Logger) (usecase.ProfileSource, func()) {
	if cfg.RedisAddr == "" {
		return recruit, func() {}
	}
	rdb, err := infrastructure.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("profile cache disabled", zap.Error(err))
		return recruit, func() {}
	}
	return infrastructure.NewCachedProfiles(rdb, recruit, cfg.ProfileCacheTTL, logger), func() { _ = rdb.Close() }
}

func routesFor(b infrastructure.BrokerConfig) usecase.Routes {
	return usecase.Routes{
		ResumeEmbedding:   b.CVRoutingKey,
		JobEmbedding:      b.JDRoutingKey,
		ApplicationSync:   b.ApplicationRoutingKey,
		ApplicationStatus: b.ApplicationStatusRoutingKey,
		ApplicationDelete: b.ApplicationDeleteRoutingKey,
		DeleteResume:      b.DeleteCVRoutingKey,
		DeleteJob:         b.DeleteJDRoutingKey,
		DeleteQueue:       b.DeleteQueue,
	}
}
