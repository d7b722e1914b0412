package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wfo/internal/api"
	"wfo/internal/cache"
	"wfo/internal/config"
	"wfo/internal/logger"
	"wfo/internal/monitoring"
	"wfo/internal/runner"
	"wfo/internal/scheduler"
	"wfo/internal/strategy/templates"
)

func main() {
	var (
		configFile = flag.String("config", "configs/wfo.yaml", "Configuration file path")
		envFile    = flag.String("env", ".env", "Environment file loaded before the config")
		once       = flag.Bool("once", false, "Run one optimization, print the report and exit")
		serveAPI   = flag.Bool("serve", true, "Serve the HTTP API and the cron schedule")
		strategy   = flag.String("strategy", "", "Strategy template for -once (defaults to the config)")
		watch      = flag.Duration("watch", 10*time.Second, "Config reload check interval, 0 disables")
	)
	flag.Parse()

	// .env 不存在时忽略
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configFile)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configFile, *once || !*serveAPI, *strategy, *watch, log); err != nil {
		log.Error("wfo exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configFile string, once bool, strategy string, watch time.Duration, log logger.Logger) error {
	source, closer, err := runner.OpenSource(ctx, cfg.Data, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	metrics := monitoring.NewMetrics()
	opts := []runner.Option{runner.WithLogger(log), runner.WithMetrics(metrics)}
	if cacheCfg, ok := cfg.CacheSettings(); ok {
		trialCache, err := cache.NewCacher(cacheCfg, log)
		if err != nil {
			return err
		}
		defer trialCache.Close()
		opts = append(opts, runner.WithTrialCache(trialCache))
	}

	registry := templates.DefaultRegistry()
	builder, err := runner.NewBuilder(cfg, registry, source, opts...)
	if err != nil {
		return err
	}

	if once {
		return runOnce(ctx, builder, strategy)
	}
	return serve(ctx, cfg, configFile, builder, registry, metrics, watch, log)
}

func runOnce(ctx context.Context, builder *runner.Builder, strategy string) error {
	job, err := builder.Prepare(ctx, runner.Request{Strategy: strategy, Trigger: "cli"})
	if err != nil {
		return err
	}
	report, err := job.Report(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func serve(ctx context.Context, cfg *config.Config, configFile string, builder *runner.Builder,
	registry *templates.Registry, metrics *monitoring.Metrics, watch time.Duration, log logger.Logger) error {
	service := api.NewRunService(builder, log, cfg.Server.MaxRuns, metrics)
	server := api.NewServer(cfg.Server, service, registry, metrics, log)

	sched := scheduler.New(service, log)
	if err := sched.Schedule(cfg.Schedule.Cron, runner.Request{}); err != nil {
		return err
	}
	sched.Start()

	if watch > 0 {
		watcher := config.NewConfigWatcher(configFile, watch, log)
		watcher.AddCallback(func(updated *config.Config) error {
			builder.SetConfig(updated)
			return sched.Schedule(updated.Schedule.Cron, runner.Request{})
		})
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	<-sched.Stop().Done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown failed", "error", err)
	}
	return service.Shutdown(shutdownCtx)
}
