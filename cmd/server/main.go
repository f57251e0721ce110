package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/queueflow/backend/internal/channel"
	"github.com/queueflow/backend/internal/config"
	"github.com/queueflow/backend/internal/db"
	httpapi "github.com/queueflow/backend/internal/http"
	"github.com/queueflow/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "queueflow-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	senders := channel.Registry{
		channel.SMS:   senderFor(channel.SMS, cfg.SMSURL, logger),
		channel.Email: senderFor(channel.Email, cfg.EmailURL, logger),
		channel.Push:  senderFor(channel.Push, cfg.PushURL, logger),
	}

	engine := &service.Engine{
		Store:   store,
		Senders: senders,
		Scoring: service.ScoringConfig{
			HighThreshold:    cfg.HighThreshold,
			UrgentThreshold:  cfg.UrgentThreshold,
			WaitWeight:       cfg.WeightWait,
			TierWeight:       cfg.WeightTier,
			RevenueWeight:    cfg.WeightRevenue,
			ComplexityWeight: cfg.WeightComplexity,
			RevenueMax:       cfg.RevenueMax,
			WaitMax:          service.DefaultScoringConfig().WaitMax,
		},
		Analytics: service.AnalyticsConfig{
			TargetCompletionRate: cfg.TargetCompletionRate,
			UtilizationSpread:    cfg.UtilizationSpread,
			PeakVolumeFactor:     cfg.PeakVolumeFactor,
			PageSize:             cfg.HistoryPageSize,
		},
		BatchSize: cfg.NotifyBatchSize,
		Logger:    logger,
	}

	router := httpapi.Router(cfg, store, engine, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

func senderFor(name, baseURL string, logger zerolog.Logger) channel.Sender {
	if baseURL == "" {
		logger.Info().Str("channel", name).Msg("using mock sender")
		return channel.MockSender{Channel: name}
	}
	return channel.HTTPSender{BaseURL: baseURL}
}
