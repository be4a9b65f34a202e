package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storagehx/config"
	"storagehx/core"
	"storagehx/logging"
	"storagehx/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default $"+config.PathEnv+" or "+config.DefaultPath+")")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: storagehx [flags] <command> [args]\n\n%s\n  serve\n\nflags:\n", core.Usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// 1. Load Config
	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	// 2. Init Logger
	logger := logging.Must(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer logger.Sync()

	command, args := flag.Arg(0), flag.Args()[1:]
	if command == "serve" {
		err = serve(cfg, logger)
	} else {
		err = run(cfg, logger, command, args)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		if errors.Is(err, core.ErrUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, command string, args []string) error {
	registry, err := core.NewRegistry(cfg, core.WithRegistryLogger(logger))
	if err != nil {
		return err
	}
	defer registry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return core.NewCommands(registry, os.Stdin, os.Stdout, logger).Run(ctx, command, args)
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	// 3. Init Registry
	registry, err := core.NewRegistry(cfg, core.WithRegistryLogger(logger), core.WithInstrumentation())
	if err != nil {
		return err
	}
	defer registry.Close()

	// 4. Init Runner
	runner := core.NewRunner(registry, cfg.Probes, logger)
	if err := runner.Start(); err != nil {
		return err
	}

	var server *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("listen", cfg.Metrics.Listen))
	}

	logger.Info("storagehx started", zap.Int("disks", len(cfg.Disks)), zap.Int("probes", len(cfg.Probes)))

	// 5. Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-runner.Stop().Done()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
	return nil
}
