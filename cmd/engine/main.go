// Package main wires the options engine's components together and runs
// them until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/api"
	"github.com/atlas-quant/optopus-engine/internal/broker/paper"
	"github.com/atlas-quant/optopus-engine/internal/config"
	"github.com/atlas-quant/optopus-engine/internal/data"
	"github.com/atlas-quant/optopus-engine/internal/engine"
	"github.com/atlas-quant/optopus-engine/internal/events"
	"github.com/atlas-quant/optopus-engine/internal/execution"
	"github.com/atlas-quant/optopus-engine/internal/strategyrepo"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	host := flag.String("host", "localhost", "API server host")
	port := flag.Int("port", 8080, "API server port")
	dataDir := flag.String("data", "./data", "Data directory (config.yaml and strategy store)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	seed := flag.Int64("paper-seed", 0, "Random seed for the paper broker's synthetic walk (0 picks a fixed default)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, v, err := config.Load(logger, *dataDir)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	config.Watch(v, cfg, logger, func(updated config.Config) {
		cfg = updated
	})

	repo, err := strategyrepo.New(logger, filepath.Join(cfg.DataDir, cfg.StrategyDir))
	if err != nil {
		logger.Fatal("failed to open strategy repo", zap.Error(err))
	}

	port_ := paper.New(logger, *seed)
	store := data.NewStore(logger)
	coord := execution.New(logger, port_, repo, execution.RiskLimits{
		PreservedCashFactor: cfg.Risk.PreservedCashFactor,
		MaximumRiskFactor:   cfg.Risk.MaximumRiskFactor,
	}, engine.RealClock{})

	bus := events.New(logger, 4, 1024)
	defer bus.Stop()

	eng := engine.New(logger, cfg, engine.RealClock{}, port_, store, repo, coord, bus)

	serverConfig := &types.ServerConfig{
		Host:           *host,
		Port:           *port,
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 100,
		EnableMetrics:  true,
		MetricsPort:    *port,
	}
	server := api.NewServer(logger, serverConfig, eng, bus)

	logger.Info("starting optopus engine",
		zap.String("dataDir", *dataDir),
		zap.String("strategyDir", cfg.StrategyDir),
		zap.Int("watchListSize", len(cfg.WatchList)))

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("engine failed to start", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	logger.Info("engine running",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if err := eng.Stop(); err != nil {
		logger.Error("error stopping engine", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping api server", zap.Error(err))
	}

	logger.Info("engine stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
