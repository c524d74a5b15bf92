package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nyxhq/ravel/internal/app"
	"github.com/nyxhq/ravel/internal/config"
	"github.com/nyxhq/ravel/internal/logger"
	"github.com/nyxhq/ravel/pkg/format"
)

const version = "0.1.0"

func main() {
	startTime := time.Now()

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("ravel %s (%s/%s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithStyle(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	var application *app.Application
	cfg, err := config.Load(func() {
		newCfg, err := config.Current()
		if err != nil {
			styledLogger.Error("configuration reload rejected", "err", err)
			return
		}
		if application != nil {
			application.Reload(newCfg)
		}
	})
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to load configuration", "error", err)
	}

	application, err = app.New(cfg, logInstance)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to build application", "error", err)
	}

	if err := application.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "failed to start application", "error", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("ravel has shutdown")
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(mem.HeapAlloc),
		"heap_sys", format.Bytes(mem.HeapSys),
		"heap_inuse", format.Bytes(mem.HeapInuse),
		"total_alloc", format.Bytes(mem.TotalAlloc),
	)

	log.Info("runtime stats",
		"uptime", format.Duration(time.Since(startTime)),
		"go_version", runtime.Version(),
		"num_cpu", runtime.NumCPU(),
		"num_goroutines", runtime.NumGoroutine(),
		"gomaxprocs", runtime.GOMAXPROCS(0),
	)
}

// buildLoggerConfig creates logger config from environment variables with defaults.
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      getEnvOrDefault("RAVEL_LOG_LEVEL", "info"),
		FileOutput: getEnvBoolOrDefault("RAVEL_FILE_OUTPUT", true),
		LogDir:     getEnvOrDefault("RAVEL_LOG_DIR", "./logs"),
		MaxSize:    getEnvIntOrDefault("RAVEL_MAX_SIZE", 100),
		MaxBackups: getEnvIntOrDefault("RAVEL_MAX_BACKUPS", 5),
		MaxAge:     getEnvIntOrDefault("RAVEL_MAX_AGE", 30),
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
