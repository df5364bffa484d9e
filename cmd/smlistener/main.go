/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
smlistener - Security Manager Interception Listener.

USAGE:
======

	smlistener [options]

OPTIONS:
========

	--config, -c string   Path to configuration file (YAML or JSON)
	--log-level string    Override the configured log level
	--human-readable      Use human-readable log format instead of JSON
	--quiet, -q           Skip banner and config display, output logs only
	--generate-key        Print a new secret key and exit
	--seal string         Seal a password with SMLISTENER_SECRET_KEY and exit
	--version, -v         Show version information

STARTUP SEQUENCE:
=================
1. Parse flags and load configuration (file, then environment)
2. Initialize logging
3. Create the event sink, the live tap and the spool
4. Replay spooled events
5. Start metrics and health endpoints
6. Start one interception worker per intercepting application
7. Wait for shutdown signal, then cancel workers and close sinks
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"smlistener/internal/banner"
	"smlistener/internal/config"
	"smlistener/internal/crypto"
	"smlistener/internal/gateway"
	"smlistener/internal/health"
	"smlistener/internal/intercept"
	"smlistener/internal/logging"
	"smlistener/internal/metrics"
	"smlistener/internal/registry"
	"smlistener/internal/sink"
	"smlistener/internal/spool"
	"smlistener/internal/tap"
)

// spoolBacklogThreshold is the backlog above which health reports degraded.
const spoolBacklogThreshold = 1000

func printHelp() {
	banner.Print()
	fmt.Println("\033[1;36mUsage:\033[0m")
	fmt.Println("  smlistener [options]")
	fmt.Println()
	fmt.Println("\033[1;36mOptions:\033[0m")
	fmt.Println(pflag.CommandLine.FlagUsages())
	fmt.Println("\033[1;36mEnvironment Variables:\033[0m")
	fmt.Println("  SMLISTENER_LOG_LEVEL               Log level: debug, info, warn, error")
	fmt.Println("  SMLISTENER_LOG_JSON                Enable JSON log output")
	fmt.Println("  SMLISTENER_RETRY_INTERVAL_MINUTES  Gateway reconnect interval (default: 5)")
	fmt.Println("  SMLISTENER_SECRET_KEY              Key that opens enc: passwords (64 hex chars)")
	fmt.Println("  SMLISTENER_SINK_TYPE               Event sink: log, redis, kafka")
	fmt.Println("  SMLISTENER_REDIS_URL               Redis URL for the redis sink")
	fmt.Println("  SMLISTENER_KAFKA_BROKERS           Comma-separated Kafka brokers")
	fmt.Println("  SMLISTENER_SPOOL_ENABLED           Spool events the sink rejects")
	fmt.Println("  SMLISTENER_TAP_ENABLED             Serve the WebSocket live feed")
	fmt.Println("  SMLISTENER_METRICS_ENABLED         Serve Prometheus metrics")
	fmt.Println("  SMLISTENER_HEALTH_ENABLED          Serve health endpoints")
	fmt.Println()
	fmt.Println("\033[1;36mExamples:\033[0m")
	fmt.Println("  # Start with a configuration file")
	fmt.Println("  smlistener --config /etc/smlistener/smlistener.yaml")
	fmt.Println()
	fmt.Println("  # Seal a gateway password for the configuration file")
	fmt.Println("  SMLISTENER_SECRET_KEY=$(smlistener --generate-key) smlistener --seal 's3cret'")
	fmt.Println()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to configuration file")
	logLevel := pflag.String("log-level", "", "Override the configured log level")
	humanReadable := pflag.Bool("human-readable", false, "Use human-readable log format instead of JSON")
	quietMode := pflag.BoolP("quiet", "q", false, "Skip banner and config display, output logs only")
	generateKey := pflag.Bool("generate-key", false, "Print a new secret key and exit")
	seal := pflag.String("seal", "", "Seal a password with SMLISTENER_SECRET_KEY and exit")
	showVersion := pflag.BoolP("version", "v", false, "Show version information")
	pflag.Usage = printHelp
	pflag.Parse()

	if *showVersion {
		banner.Print()
		return
	}

	if *generateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	if *seal != "" {
		sealed, err := crypto.SealSecret(*seal, os.Getenv(config.EnvSecretKey))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error sealing password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(sealed)
		return
	}

	// Load configuration first (before banner, so we can display it)
	cfgMgr := config.Global()
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		if err := cfgMgr.LoadFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}
	cfgMgr.LoadFromEnv()
	cfg := cfgMgr.Get()

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *humanReadable {
		cfg.LogJSON = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if !*quietMode {
		banner.PrintWithConfig(cfg)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("main")

	logger.Info("Starting smlistener", "version", banner.Version,
		"applications", len(cfg.InterceptingApplications()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Delivery
	// ========================================================================

	primary, err := sink.New(cfg.Sink)
	if err != nil {
		logger.Error("Failed to create sink", "type", cfg.Sink.Type, "error", err)
		os.Exit(1)
	}
	delivery := primary

	var liveTap *tap.Tap
	if cfg.Tap.Enabled {
		liveTap = tap.New(&cfg.Tap)
		if err := liveTap.Start(); err != nil {
			logger.Error("Failed to start tap", "error", err)
		} else {
			delivery = sink.Multi{primary, liveTap}
		}
	}

	var eventSpool *spool.Spool
	if cfg.Spool.Enabled {
		eventSpool, err = spool.Open(spool.Config{
			Dir:           cfg.Spool.Dir,
			MaxFileSize:   cfg.Spool.MaxFileSize,
			SubmitTimeout: cfg.SubmitTimeout(),
		})
		if err != nil {
			logger.Error("Failed to open spool", "dir", cfg.Spool.Dir, "error", err)
			os.Exit(1)
		}
		replaySpool(ctx, eventSpool, primary, logger)
	}

	// ========================================================================
	// Observability Services
	// ========================================================================

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", "error", err)
		}
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		checker := health.NewChecker(banner.Version)
		for _, app := range cfg.InterceptingApplications() {
			stats := metrics.Get().Application(app.Name)
			checker.RegisterCheck("gateway:"+app.Name, health.GatewayCheck(stats.Connected.Load))
		}
		if eventSpool != nil {
			checker.RegisterCheck("spool", health.SpoolCheck(spoolBacklogThreshold, eventSpool.Backlog))
		}
		healthServer = health.NewServer(&cfg.Health, checker)
		if err := healthServer.Start(); err != nil {
			logger.Error("Failed to start health server", "error", err)
		}
	}

	// ========================================================================
	// Interception Workers
	// ========================================================================

	var wg sync.WaitGroup
	for _, app := range cfg.InterceptingApplications() {
		worker, err := newWorker(cfg, app, delivery, eventSpool)
		if err != nil {
			logger.Error("Failed to create worker", "application", app.Name, "error", err)
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Worker stopped", "application", name, "error", err)
			}
		}(app.Name)
		logger.Info("Worker started", "application", app.Name, "gateway", app.Addr())
	}

	if eventSpool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replayLoop(ctx, eventSpool, primary, cfg.RetryInterval(), logger)
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	wg.Wait()

	if healthServer != nil {
		if err := healthServer.Stop(); err != nil {
			logger.Error("Error stopping health server", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Error stopping metrics server", "error", err)
		}
	}
	if err := delivery.Close(); err != nil {
		logger.Error("Error closing sink", "error", err)
	}
	if eventSpool != nil {
		if err := eventSpool.Close(); err != nil {
			logger.Error("Error closing spool", "error", err)
		}
	}
}

// newWorker wires a gateway session, a registry snapshot and the delivery
// chain into a worker for one application.
func newWorker(cfg *config.Config, app config.Application, delivery sink.Sink, eventSpool *spool.Spool) (*intercept.Worker, error) {
	password, err := crypto.OpenSecret(app.Password, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("open password: %w", err)
	}
	opts, err := gateway.NewOptions(app, cfg.Protocol, cfg.RetryInterval(), password)
	if err != nil {
		return nil, err
	}

	workerOpts := intercept.Options{
		Application:   app.Name,
		Transport:     gateway.New(opts),
		Registry:      registry.Build(app, cfg),
		Sink:          delivery,
		Passwords:     delivery,
		ErrorPause:    cfg.ErrorPause(),
		SubmitTimeout: cfg.SubmitTimeout(),
		RetryInterval: cfg.RetryInterval(),
	}
	if eventSpool != nil {
		workerOpts.Spool = eventSpool
	}
	return intercept.NewWorker(workerOpts)
}

func replaySpool(ctx context.Context, s *spool.Spool, target spool.Submitter, logger *logging.Logger) {
	n, err := s.Replay(ctx, target)
	if err != nil {
		logger.Warn("Spool replay incomplete", "replayed", n, "error", err)
		return
	}
	if n > 0 {
		logger.Info("Spool replayed", "replayed", n)
	}
}

// replayLoop retries spooled events every interval until ctx is done.
func replayLoop(ctx context.Context, s *spool.Spool, target spool.Submitter, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			replaySpool(ctx, s, target, logger)
		}
	}
}
