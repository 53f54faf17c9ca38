package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/config"
	"github.com/mjasion/balena-home/victron/health"
	"github.com/mjasion/balena-home/victron/pkg/buffer"
	pkgmetrics "github.com/mjasion/balena-home/victron/pkg/metrics"
	"github.com/mjasion/balena-home/victron/pkg/telemetry"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/mjasion/balena-home/victron/scanner"
	"github.com/mjasion/balena-home/victron/stats"
)

func main() {
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting Victron BLE monitoring service")
	cfg.PrintConfig(logger)

	profiler, err := telemetry.StartProfiler(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		os.Exit(1)
	}
	defer profiler.Stop()

	ctx := context.Background()
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down OpenTelemetry providers", zap.Error(err))
		}
	}()

	ctx, mainSpan := otel.Tracer("main").Start(ctx, "main.run")
	defer mainSpan.End()

	ringBuffer := buffer.New[*types.Reading](cfg.Prometheus.BufferSize, logger)
	logger.Info("ring buffer created", zap.Int("capacity", cfg.Prometheus.BufferSize))

	pusher := pkgmetrics.New(pkgmetrics.Config{
		URL:             cfg.Prometheus.URL,
		Username:        cfg.Prometheus.Username,
		Password:        cfg.Prometheus.Password,
		PushIntervalSec: cfg.Prometheus.PushIntervalSeconds,
		BatchSize:       cfg.Prometheus.BatchSize,
		TimeSeriesBuilder: pkgmetrics.CombineBuilders(
			pkgmetrics.BuildVictronTimeSeries,
			pkgmetrics.BuildMetricTimeSeries,
		),
	}, ringBuffer, logger)
	logger.Info("prometheus pusher initialized", zap.String("url", cfg.Prometheus.URL))

	decodeStats, err := stats.New(otel.Meter("victron"))
	if err != nil {
		logger.Error("failed to create decode statistics", zap.Error(err))
		os.Exit(1)
	}
	reporter, err := stats.NewReporter(decodeStats, ringBuffer, cfg.Stats.ReportInterval, logger)
	if err != nil {
		logger.Error("failed to create stats reporter", zap.Error(err))
		os.Exit(1)
	}
	reporter.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	keys := cfg.DeviceKeys()
	scannerDevices := make([]scanner.DeviceConfig, len(cfg.BLE.Devices))
	for i, device := range cfg.BLE.Devices {
		scannerDevices[i] = scanner.DeviceConfig{
			Name:       device.Name,
			ID:         device.ID,
			MACAddress: device.MACAddress,
			Key:        keys[strings.ToUpper(device.MACAddress)],
		}
	}

	bleScanner := scanner.New(scannerDevices, ringBuffer, decodeStats, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bleScanner.Start(ctx); err != nil {
			logger.Error("BLE scanner failed", zap.Error(err))
			cancel()
		}
	}()

	var healthChecker *health.Checker
	if cfg.Health.Port > 0 {
		healthChecker = health.NewChecker(ringBuffer, pusher, decodeStats,
			time.Duration(cfg.Prometheus.PushIntervalSeconds)*time.Second, cfg.Health.Port, logger)
		go func() {
			if err := healthChecker.Start(); err != nil {
				logger.Error("health check server failed", zap.Error(err))
			}
		}()
	}

	if cfg.Prometheus.StartAtEvenSecond {
		now := time.Now()
		nextEvenSecond := now.Truncate(time.Second).Add(time.Second)
		waitDuration := nextEvenSecond.Sub(now)
		logger.Info("waiting to start at even second",
			zap.Duration("wait_duration", waitDuration),
			zap.Time("next_even_second", nextEvenSecond),
		)
		time.Sleep(waitDuration)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pusher.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	cancel()

	if err := bleScanner.Stop(); err != nil {
		logger.Error("failed to stop BLE scanner", zap.Error(err))
	}

	reporter.Stop()
	reporter.Report()

	logger.Info("performing final metrics push")
	finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finalCancel()
	if pushed := pusher.Flush(finalCtx); pushed > 0 {
		logger.Info("final metrics push successful", zap.Int("reading_count", pushed))
	}

	if healthChecker != nil {
		if err := healthChecker.Stop(); err != nil {
			logger.Error("failed to stop health check server", zap.Error(err))
		}
	}

	logger.Info("waiting for goroutines to finish")
	wg.Wait()

	logger.Info("Victron BLE monitoring service stopped")
}
