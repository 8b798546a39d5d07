// Paygrid - Payroll rules as configuration, payslips as a service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/paygrid/internal/api"
	"github.com/opensource-finance/paygrid/internal/bus"
	"github.com/opensource-finance/paygrid/internal/cache"
	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/payslip"
	"github.com/opensource-finance/paygrid/internal/repository"
	"github.com/opensource-finance/paygrid/internal/rules"
	"github.com/opensource-finance/paygrid/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration (.env + PAYGRID_* variables)
	cfg := domain.LoadConfig()

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	// Log startup
	slog.Info("starting paygrid",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"strict_fields", cfg.Evaluation.StrictFields,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Formula Engine (CEL)
	formulas, err := rules.NewFormulaEngine(cfg.Evaluation.FormulaCacheSize)
	if err != nil {
		slog.Error("failed to initialize formula engine", "error", err)
		os.Exit(1)
	}
	defer formulas.Close()

	// Initialize Payslip Processor
	processor := payslip.NewProcessor(formulas)
	processor.Evaluator.StrictFields = cfg.Evaluation.StrictFields
	slog.Info("payslip processor initialized",
		"engine_version", payslip.EngineVersion,
		"formula_cache_size", cfg.Evaluation.FormulaCacheSize,
	)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, processor, cfg.Evaluation, Version)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, repo, srv.Handler().Loader(), processor)

		workerCfg := worker.Config{
			TenantIDs: parseTenants(os.Getenv("PAYGRID_TENANTS")),
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(workerCfg.TenantIDs))
		}
	}

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("paygrid is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("paygrid shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// parseTenants splits a comma-separated tenant list. Empty means all tenants.
func parseTenants(s string) []string {
	var tenants []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 PAYGRID                   |")
	fmt.Println("  |        Payroll Rule Evaluation Engine     |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /configurations                     - List configurations")
	fmt.Println("    POST   /configurations                     - Create a configuration")
	fmt.Println("    POST   /configurations/validate            - Validate without saving")
	fmt.Println("    GET    /configurations/{id}                - Get a configuration")
	fmt.Println("    PUT    /configurations/{id}                - Save a new revision")
	fmt.Println("    DELETE /configurations/{id}                - Delete a configuration")
	fmt.Println("    GET    /configurations/{id}/export         - Download as JSON")
	fmt.Println("    POST   /configurations/{id}/payslips       - Compute a payslip")
	fmt.Println("    POST   /configurations/{id}/payslips/async - Queue a payslip")
	fmt.Println("    GET    /payslips/{id}                      - Get a payslip")
	fmt.Println("    POST   /rules/evaluate                     - Evaluate a rule chain")
	fmt.Println("    POST   /rules/brackets                     - Apply a bracket scale")
	fmt.Println("    GET    /health                             - Health check")
	fmt.Println("    GET    /metrics                            - Prometheus metrics")
	fmt.Println()
}
