package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/predictarena/predictarena/internal/api"
	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/pricefeed"
	"github.com/predictarena/predictarena/internal/reason"
	"github.com/predictarena/predictarena/internal/round"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("environment", cfg.App.Environment).
		Msg("Starting PredictArena server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	database, err := db.New(ctx, cfg.Database, cfg.Retention)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database schema")
	}

	// Redis is optional; without it the kline cache is a no-op.
	var cache *kline.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, kline cache disabled")
		} else {
			cache = kline.NewCache(client, time.Duration(cfg.Kline.CacheSec)*time.Second)
		}
	}

	klines := kline.NewFetcher(kline.Config{
		BaseURL:           cfg.Kline.InfoURL,
		CacheTTL:          time.Duration(cfg.Kline.CacheSec) * time.Second,
		Timeout:           time.Duration(cfg.Kline.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.Kline.RequestsPerSecond,
	}, cache)

	feed := pricefeed.New(cfg.PriceFeed, config.NewLogger("pricefeed"))
	feed.Start()
	defer feed.Stop()

	evaluator := reason.NewService(klines, cfg.Round.FlatThresholdPct)
	sweeper := reason.NewSweeper(evaluator, database, cfg.Round.SweepMaxRows)
	rounds := round.NewService(database, cfg.Round, evaluator)
	advancer := round.NewAdvancer(rounds, database, feed, sweeper, cfg.Round)

	// Periodic advancer tick
	ticker := time.NewTicker(time.Duration(cfg.Round.AdvanceSec) * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				advancer.Tick(ctx, time.Now())
			}
		}
	}()

	server := api.NewServer(api.Config{
		Cfg:      cfg,
		DB:       database,
		Rounds:   rounds,
		Advancer: advancer,
		Klines:   klines,
		Feed:     feed,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}

	log.Info().Msg("Server stopped")
}
