package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/adapters/mastodon"
	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/cache"
	"mastodon-follower-network/internal/infra/config"
	apphttp "mastodon-follower-network/internal/infra/http"
	applog "mastodon-follower-network/internal/infra/log"
	"mastodon-follower-network/internal/infra/metrics"
)

// app держит общие для этапов зависимости одного запуска.
type app struct {
	cfg    config.AppConfig
	log    zerolog.Logger
	redis  *redis.Client
	cache  domain.Cache
	points domain.Checkpoints

	closers []func() error
}

var metricsOnce bool

// newApp поднимает логгер, метрики и кэш для этапа stage.
func newApp(ctx context.Context, stage domain.Stage) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := applog.NewLogger(cfg.AppEnv, cfg.LogDir, string(stage))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}
	a.closers = append(a.closers, logCloser.Close)

	if !metricsOnce {
		metrics.MustRegister(prometheus.DefaultRegisterer)
		metricsOnce = true
		if cfg.MetricsAddr != "" {
			srv := apphttp.NewServer(logger.With().Str("component", "metrics").Logger())
			srv.Start(ctx, cfg.MetricsAddr)
		}
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		a.cache = cache.NewRedis(a.redis, "mbfc:")
		a.closers = append(a.closers, a.redis.Close)
		logger.Debug().Str("addr", cfg.RedisAddr).Msg("app: кэш и чекпоинты в Redis")
	} else {
		fc, err := cache.OpenFile(cfg.Path(config.CheckpointsFile))
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.cache = fc
		a.closers = append(a.closers, fc.Close)
		logger.Debug().Str("path", cfg.Path(config.CheckpointsFile)).Msg("app: кэш и чекпоинты в файле")
	}
	a.points = cache.NewCheckpoints(a.cache)
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close освобождает ресурсы в обратном порядке.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) mastodon() *mastodon.Client {
	h := a.cfg.HTTP
	return mastodon.New(mastodon.Options{
		Timeout:      h.Timeout,
		Retries:      h.Retries,
		RetryWait:    h.RetryWait,
		RetryMaxWait: h.RetryMaxWait,
		UserAgent:    h.UserAgent,
		RPS:          h.RPS,
	}, a.log.With().Str("component", "mastodon").Logger())
}

func (a *app) path(name string) string {
	return a.cfg.Path(name)
}

func (a *app) authorsDir() string {
	return filepath.Join(a.cfg.BaseDir, config.AuthorsDir)
}

// withApp выполняет fn с зависимостями этапа и закрывает их после.
func withApp(ctx context.Context, stage domain.Stage, fn func(*app) error) error {
	a, err := newApp(ctx, stage)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.log.Error().Err(runErr).Msg("app: этап завершился с ошибкой")
	}
	return errors.Join(runErr, a.close())
}
