package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choiwab/promptsmith/internal/adapters/anthropic"
	"github.com/choiwab/promptsmith/internal/adapters/generator"
	"github.com/choiwab/promptsmith/internal/adapters/judge"
	"github.com/choiwab/promptsmith/internal/adapters/planner"
	"github.com/choiwab/promptsmith/internal/adapters/refiner"
	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/compare"
	"github.com/choiwab/promptsmith/internal/config"
	"github.com/choiwab/promptsmith/internal/eval"
	"github.com/choiwab/promptsmith/internal/httpapi"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/logging"
	"github.com/choiwab/promptsmith/internal/repository"
	"github.com/choiwab/promptsmith/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "promptsmithd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "promptsmithd",
	})

	tel, telShutdown := buildTelemetry(cfg, log)
	if telShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telShutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	idFactory := ids.NewFactory(ids.SystemClock{})
	blobs := blobstore.New(cfg.ImageDir, "/blobs")

	var repo repository.Repository = repository.NewInMemory(idFactory, blobs)
	if cfg.RedisAddr != "" {
		repo = repository.NewRedisHistoryCache(repo, cfg.RedisAddr, log)
		log.Info("history cache enabled", map[string]interface{}{"redis_addr": cfg.RedisAddr})
	}

	gen := buildGenerator(cfg, log)
	client := buildAnthropicClient(cfg, log)

	var (
		j judge.Judge
		p planner.Planner
		r refiner.Refiner
		s compare.SemanticSignal
		st compare.StructuralSignal
	)
	if client != nil {
		j = judge.NewAnthropicJudge(client)
		p = planner.NewAnthropicPlanner(client)
		r = refiner.NewAnthropicRefiner(client)
		signals := compare.NewAnthropicSignals(client)
		s, st = signals, signals
	} else {
		log.Warn("no anthropic api key configured; judge/planner/refiner run in deterministic fallback mode and compare signals are skipped", nil)
		j = judge.NewDeterministicJudge()
		p = planner.NewDeterministicPlanner()
		r = refiner.NewDeterministicRefiner()
		// s and st stay nil: the Compare Orchestrator treats a nil
		// semantic/structural signal as "not configured" and produces a
		// degraded, pixel-only report (spec §4.2) rather than erroring.
	}

	evalOrch := eval.New(repo, blobs, idFactory, gen, j, p, r, log.With("eval"), tel)
	compareOrch := compare.New(repo, blobs, idFactory, s, st, log.With("compare"), tel)

	handler := httpapi.NewRouter(httpapi.Deps{
		Repo:      repo,
		Blobs:     blobs,
		IDs:       idFactory,
		Generator: gen,
		Compare:   compareOrch,
		Eval:      evalOrch,
		Logger:    log.With("httpapi"),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", map[string]interface{}{"addr": cfg.HTTP.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received", nil)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// buildGenerator wires the Bedrock-backed Generator when an AWS region is
// configured, falling back to the deterministic Stub otherwise (spec §6).
func buildGenerator(cfg *config.Config, log logging.Logger) generator.Generator {
	if cfg.AWSRegion == "" {
		log.Warn("no aws region configured; generator runs in deterministic stub mode", nil)
		return generator.NewStub()
	}
	client, err := generator.NewBedrockClient(context.Background(), cfg.AWSRegion, cfg.ImageModel, log.With("generator.bedrock"))
	if err != nil {
		log.Error("bedrock client init failed, falling back to stub generator", map[string]interface{}{"error": err.Error()})
		return generator.NewStub()
	}
	return client
}

func buildAnthropicClient(cfg *config.Config, log logging.Logger) *anthropic.Client {
	if cfg.AnthropicAPIKey == "" {
		return nil
	}
	return anthropic.New(cfg.AnthropicAPIKey, cfg.TextModel, "", "promptsmith.anthropic", log.With("adapters.anthropic"))
}

// buildTelemetry installs the real OTel-backed provider when an OTLP
// endpoint is configured, falling back to NoOp otherwise. The shutdown
// func is nil when running NoOp, since there is nothing to flush.
func buildTelemetry(cfg *config.Config, log logging.Logger) (telemetry.Telemetry, func(context.Context) error) {
	if cfg.OTelEndpoint == "" {
		return telemetry.NoOp{}, nil
	}
	tel, shutdown, err := telemetry.NewOTel("promptsmithd", cfg.OTelEndpoint)
	if err != nil {
		log.Error("otel provider init failed, falling back to no-op telemetry", map[string]interface{}{"error": err.Error()})
		return telemetry.NoOp{}, nil
	}
	log.Info("otel telemetry enabled", map[string]interface{}{"endpoint": cfg.OTelEndpoint})
	return tel, shutdown
}

