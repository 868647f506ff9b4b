// Command picklist generates LLM-assisted alliance-selection picklists
// from a scouting dataset snapshot.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/scoutline/picklist/infrastructure/llm"
	"github.com/scoutline/picklist/infrastructure/metrics"
	"github.com/scoutline/picklist/internal/config"
	"github.com/scoutline/picklist/internal/dataset"
	"github.com/scoutline/picklist/internal/engine"
	"github.com/scoutline/picklist/internal/ports"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "picklist",
	Short: "Alliance-selection picklist generator",
	Long: "Ranks candidate teams for alliance selection by combining scouted " +
		"metric scoring with LLM batch ranking, calibrated across batches " +
		"through shared reference teams.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if _, err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildService assembles the full pipeline from configuration: provider
// client with middleware, codec, orchestrator, cache, and service.
func buildService() (*engine.Service, error) {
	logger := zap.L()

	var collector ports.MetricsCollector
	if cfg.MetricsAddr != "" {
		pm := metrics.NewPrometheusMetrics()
		collector = pm
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	client, err := llm.NewClient(cfg.LLM.Provider, llm.ClientConfig{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.Model,
		Middleware: []llm.Middleware{
			llm.TracingMiddleware("picklist"),
			llm.MetricsMiddleware(collector),
			llm.RateLimitMiddleware(rate.Limit(cfg.LLM.RequestsPerSecond), cfg.LLM.RateBurst),
			llm.RetryMiddleware(cfg.LLM.MaxRetries, cfg.LLM.RetryBaseDelay, cfg.LLM.RetryMaxDelay),
			llm.TimeoutMiddleware(cfg.LLM.RequestTimeout),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build LLM client: %w", err)
	}

	codec, err := engine.NewCodec(client, logger)
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}

	orchestrator, err := engine.NewBatchOrchestrator(client, codec, engine.BatchConfig{
		TokenBudget:       cfg.Ranking.TokenBudget,
		MaxConcurrency:    cfg.Ranking.MaxConcurrency,
		ResponseMaxTokens: cfg.Ranking.ResponseMaxTokens,
		Temperature:       cfg.Ranking.Temperature,
	}, logger, collector, nil)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	provider := dataset.NewFileProvider(cfg.DatasetPath)
	cache := engine.NewResultCache(logger)

	return engine.NewService(provider, orchestrator, cache, cfg.Ranking.ReferenceCount, logger)
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// printResponse writes the response envelope as indented JSON to stdout.
func printResponse(resp *engine.Response) error {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// loadPriorities merges a YAML priorities file with repeated
// metric=weight flags. Flags win over file entries.
func loadPriorities(pairs []string, file string) (map[string]float64, error) {
	priorities := make(map[string]float64, len(pairs))
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read priorities file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &priorities); err != nil {
			return nil, fmt.Errorf("parse priorities file %s: %w", file, err)
		}
	}

	fromFlags, err := parsePriorities(pairs)
	if err != nil {
		return nil, err
	}
	for name, weight := range fromFlags {
		priorities[name] = weight
	}
	return priorities, nil
}

// parsePriorities converts repeated metric=weight flags into the raw
// priority map the service normalizes.
func parsePriorities(pairs []string) (map[string]float64, error) {
	priorities := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("priority %q must be metric=weight", pair)
		}
		weight, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("priority %q: %w", pair, err)
		}
		priorities[strings.TrimSpace(name)] = weight
	}
	return priorities, nil
}
