package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/calendar"
	"QDIIRadar/internal/collector"
	"QDIIRadar/internal/config"
	"QDIIRadar/internal/logger"
	"QDIIRadar/internal/notifier"
	"QDIIRadar/internal/scheduler"
	"QDIIRadar/internal/store"
)

// app holds the wired components shared by all subcommands.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	calendar *calendar.Service
	email    *notifier.EmailNotifier
	telegram *notifier.TelegramNotifier
	monitor  *scheduler.Monitor
	redis    *redis.Client
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("path", path).Str("environment", cfg.Environment).Msg("config loaded")
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, store: st}

	cal, err := a.buildCalendar()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.calendar = cal

	var fetcher collector.Fetcher
	if cfg.DataSource.Mock {
		fetcher = collector.MockFromConfig(cfg.DataSource.MockSnapshot)
	} else {
		fetcher = collector.NewEastmoneyFetcher(collector.EastmoneyOptions{
			QuoteURL:    cfg.DataSource.QuoteURL,
			NAVURL:      cfg.DataSource.NAVURL,
			ProxyURL:    cfg.Proxy,
			RatePerSec:  cfg.DataSource.RatePerSec,
			Concurrency: cfg.DataSource.Concurrency,
			Limits:      cfg.DataSource.Limits,
		})
	}
	log.Info().Str("source", fetcher.Name()).Msg("data source ready")

	a.email = notifier.NewEmailNotifier(notifier.EmailConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}, st)
	channels := notifier.Multi{a.email}
	if cfg.Telegram.BotToken != "" {
		a.telegram = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		channels = append(channels, a.telegram)
	}

	a.monitor = scheduler.NewMonitor(st, collector.NewCollector(fetcher), channels, cal)
	a.monitor.EnforceTradingDays = cfg.EnforceTradingDays
	return a, nil
}

// buildCalendar layers a per-day cache over the remote list or the local rules.
func (a *app) buildCalendar() (*calendar.Service, error) {
	cfg := a.cfg
	var source calendar.Oracle
	if cfg.Calendar.RemoteURL != "" {
		source = calendar.NewRemoteSource(cfg.Calendar.RemoteURL)
	} else {
		rules, err := calendar.NewRules(cfg.Calendar.Holidays, cfg.Calendar.Workdays)
		if err != nil {
			return nil, fmt.Errorf("calendar rules: %w", err)
		}
		source = rules
	}

	var cache calendar.Cache = calendar.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-memory calendar cache")
			rdb.Close()
		} else {
			a.redis = rdb
			cache = calendar.NewRedisCache(rdb, "", 0)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis calendar cache ready")
		}
	}
	return calendar.NewService(calendar.NewCached(source, cache)), nil
}

func (a *app) Close() {
	if a.monitor != nil && a.monitor.IsRunning() {
		a.monitor.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
}
