package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/conformance-exporter/internal/console/handler"
	"github.com/xela07ax/conformance-exporter/internal/console/server"
	"github.com/xela07ax/conformance-exporter/internal/engine"
	"github.com/xela07ax/conformance-exporter/internal/infra"
	"github.com/xela07ax/conformance-exporter/internal/testbed"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	systems := cfg.Monitor.MonitoredSystems()

	// Контекст для управления жизненным циклом цикла мониторинга
	// При SIGTERM cancel() прервет сон и опрос ITB
	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Метрики: отдельный реестр, gauge на каждую систему
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	gauges := engine.NewConformanceGauges(reg, systems)
	board := engine.NewStatusBoard(systems)

	// 3. Координация реплик (опционально)
	var coordinator engine.Coordinator = engine.LocalCoordinator{}
	var lockRenew time.Duration
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		instanceID := uuid.New().String()
		if host, err := os.Hostname(); err == nil {
			instanceID = host + "-" + instanceID
		}
		coordinator = engine.NewRedisCoordinator(rdb, instanceID, cfg.Redis.LockTTL, logger)
		lockRenew = cfg.Redis.LockTTL / 3
		logger.Info("redis coordination enabled", zap.String("addr", cfg.Redis.Addr), zap.String("instance", instanceID))
	}

	// 4. Execution Layer: клиент ITB поверх Reliability (лимитер + Circuit Breaker)
	transport := engine.NewReliabilityWrapper(
		&http.Client{Timeout: cfg.TestBed.RequestTimeout},
		engine.ReliabilitySettings{
			RateLimit:     cfg.TestBed.RateLimit,
			Burst:         cfg.TestBed.RateBurst,
			CBMaxRequests: cfg.TestBed.CBMaxRequests,
			CBInterval:    cfg.TestBed.CBInterval,
			CBTimeout:     cfg.TestBed.CBTimeout,
			CBFailures:    cfg.TestBed.CBFailures,
		},
		metrics,
		logger,
	)
	client := testbed.NewClient(transport, testbed.Config{
		StartEndpoint:  cfg.TestBed.StartEndpoint,
		StatusEndpoint: cfg.TestBed.StatusEndpoint,
		APIKey:         cfg.TestBed.APIKey,
		Actor:          cfg.TestBed.Actor,
	}, logger)

	poller := engine.NewSessionPoller(client, engine.PollerConfig{
		Interval: cfg.Monitor.PollInterval,
		Cooldown: cfg.Monitor.Cooldown,
		Timeout:  cfg.Monitor.SessionTimeout,
	}, logger)

	// 5. Core
	scheduler := engine.NewScheduler(systems, client, poller, gauges, board, coordinator, metrics,
		engine.SchedulerConfig{
			Interval:    cfg.Monitor.Interval(),
			SettleDelay: cfg.Monitor.SettleDelay,
			LockRenew:   lockRenew,
		}, logger)

	// 6. HTTP Server (скрейп)
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      server.NewExporterServer(reg, logger, handler.NewStatusHandler(board)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting service", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 7. Бесконечный цикл мониторинга до сигнала
	if err := scheduler.Run(appCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("monitoring loop exited", zap.Error(err))
	}

	// 8. Graceful Shutdown
	logger.Info("exporter stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("exporter exited properly")
}
