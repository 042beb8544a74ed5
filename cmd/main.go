package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"lifeops-voice-agent/internal/activity"
	"lifeops-voice-agent/internal/app"
	"lifeops-voice-agent/internal/backend"
	"lifeops-voice-agent/internal/config"
	"lifeops-voice-agent/internal/events"
	apihttp "lifeops-voice-agent/internal/http"
	"lifeops-voice-agent/internal/observability"
	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/service/caption"
	"lifeops-voice-agent/internal/service/caption/google"
	"lifeops-voice-agent/internal/service/caption/mock"
	"lifeops-voice-agent/internal/service/capture"
	"lifeops-voice-agent/internal/service/pipeline"
	"lifeops-voice-agent/internal/service/session"
	"lifeops-voice-agent/internal/service/state"
)

const (
	healthServiceName = "lifeops.voice.SessionService"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := state.New()
	activityLog := activity.New()
	activityLog.AddSink(activity.LoggerSink{Logger: logging.WithComponent("activity")})
	activityLog.AddSink(activity.MetricsSink{Metrics: metrics.DefaultMetrics})

	// Activity entries and pipeline results go to Kafka, or to the log when disabled
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicActivity: cfg.Kafka.TopicActivity,
		TopicResults:  cfg.Kafka.TopicResults,
		Principal:     cfg.Kafka.Principal,
	})
	defer publisher.Close()
	publisher.SetSessionSource(func() string { return store.Snapshot().SessionID })
	activityLog.AddSink(publisher)

	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	runner := pipeline.NewRunner(client, store, activityLog, pipeline.Config{MonitorDelay: cfg.Monitor.Delay})
	runner.SetResultSink(publisher)

	captioner, closeCaptioner, err := newCaptionerFactory(ctx, cfg.Captioner)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.Captioner.Provider).Msg("Failed to create captioner")
	}
	defer closeCaptioner()

	alertLogger := logging.WithComponent("alert")
	controller := session.NewController(session.Options{
		Device: &capture.WAVDevice{
			Path:      cfg.Capture.WAVPath,
			ChunkSize: cfg.Capture.ChunkSize,
			Interval:  cfg.Capture.ChunkInterval,
		},
		Limits: capture.Limits{
			MaxAudioBytes: cfg.Capture.MaxAudioBytes,
			MaxDuration:   cfg.Capture.MaxDuration,
		},
		Runner:    runner,
		Store:     store,
		Log:       activityLog,
		Alerter:   session.AlertFunc(func(msg string) { alertLogger.Warn().Msg(msg) }),
		IDs:       session.NewGenerator(),
		Captioner: captioner,
	})
	defer controller.Close()

	hub := apihttp.NewHub(store.Snapshot)
	store.Subscribe(hub.OnChange)
	activityLog.AddSink(hub)

	application := app.New(cfg, controller)
	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start application")
	}
	controller.Announce()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(application, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
		if err != nil {
			return err
		}
		logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Observability.MetricsAddr).Msg("Observability server started")
		return obsServer.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down servers")

		application.Shutdown()
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Observability shutdown incomplete")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		controller.Close()
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

// newCaptionerFactory selects the live captioner. The returned close func
// releases provider resources.
func newCaptionerFactory(ctx context.Context, cfg config.CaptionerConfig) (caption.Factory, func(), error) {
	switch cfg.Provider {
	case "", "none":
		return nil, func() {}, nil
	case "mock":
		return mock.Factory(), func() {}, nil
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = cfg.SampleRateHz
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		provider, err := google.NewProvider(ctx, gcfg)
		if err != nil {
			return nil, nil, err
		}
		return provider.Factory(), func() {
			if err := provider.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close speech client")
			}
		}, nil
	default:
		log.Warn().Str("provider", cfg.Provider).Msg("Unknown captioner provider, live captions disabled")
		return nil, func() {}, nil
	}
}
