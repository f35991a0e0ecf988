// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/breaker"
	"github.com/engram-dev/engram/internal/config"
	"github.com/engram-dev/engram/internal/embed"
	"github.com/engram-dev/engram/internal/extract"
	"github.com/engram-dev/engram/internal/logging"
	"github.com/engram-dev/engram/internal/memory"
	"github.com/engram-dev/engram/internal/secrets"
	"github.com/engram-dev/engram/internal/server"
	"github.com/engram-dev/engram/internal/store"
	_ "github.com/engram-dev/engram/internal/store/chromem" // register vector backend
	"github.com/engram-dev/engram/internal/store/sqlite"
	"github.com/engram-dev/engram/internal/txn"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// shutdownGrace bounds background-pool draining on exit; whatever does
// not finish stays PENDING for the recovery sweep of the next run.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory engine over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return runServe(cmd.Context(), cfgPath, verbose)
		},
	}
}

func runServe(ctx context.Context, cfgPath string, verbose bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// stdout carries the MCP transport; logs go to stderr behind the
	// secret redactor.
	level := slog.LevelInfo
	if verbose || cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.Setup(os.Stderr, level)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return engramerr.Wrap(err, engramerr.CodeInternalFailure, "creating data directory")
	}

	graph, err := sqlite.NewGraphStore(filepath.Join(cfg.DataDir, "graph.db"))
	if err != nil {
		return err
	}
	defer func() { _ = graph.Close() }()

	dims := cfg.ExpectedDimensions()
	vectorDir := filepath.Join(cfg.DataDir, "vectors")
	if err := os.MkdirAll(vectorDir, 0o755); err != nil {
		return engramerr.Wrap(err, engramerr.CodeInternalFailure, "creating vector directory")
	}
	vectors, err := store.NewVectorStore(cfg.Storage.VectorBackend, vectorDir, dims)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorBackendInvalid, "opening vector store")
	}
	defer func() { _ = vectors.Close() }()

	embedder, extractor, summarizer, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	cached, err := embed.NewCachedEmbedder(embedder, embed.CacheConfig{
		Dir:        cfg.Cache.Dir,
		MaxEntries: cfg.Cache.L1Entries,
		TTL:        cfg.Cache.TTL,
	})
	if err != nil {
		return err
	}

	manager, err := memory.NewManager(memory.Deps{
		Graph:      graph,
		Queries:    sqlite.NewQueryEngine(graph),
		Vectors:    vectors,
		Embedder:   cached,
		Extractor:  extractor,
		Summarizer: summarizer,
		Txn:        txn.NewManager(graph.DB()),
	}, memory.Config{
		TopK:    cfg.Search.TopK,
		Workers: cfg.Workers,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
		},
		SummaryEnabled: cfg.Summary.Enabled,
	})
	if err != nil {
		return err
	}

	recoveryCtx, stopRecovery := context.WithCancel(ctx)
	defer stopRecovery()
	go memory.NewRecoveryWorker(graph, cfg.Recovery.Interval, cfg.Recovery.StaleAfter).Run(recoveryCtx)

	logger.Info("engram serving",
		"data_dir", cfg.DataDir,
		"vector_backend", cfg.Storage.VectorBackend,
		"dimensions", dims,
		"embedder", cfg.Embedder.Provider)

	srv := server.New(manager, server.Config{
		Name:       "engram",
		Version:    version,
		RateLimit:  cfg.Rate.MaxRequests,
		RateWindow: cfg.Rate.Window.Milliseconds(),
	})
	serveErr := srv.ServeStdio()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := manager.Shutdown(drainCtx); err != nil {
		logger.Warn("background pool did not drain; pending rows left for recovery", "error", err)
	}

	return serveErr
}

// buildProviders wires the embedding and LLM collaborators from config
// and resolved secrets.
func buildProviders(cfg *config.Config) (embed.Embedder, extract.Extractor, extract.Summarizer, error) {
	resolver := secrets.Resolver{}

	var openaiKey string
	if cfg.Embedder.Provider == "openai" || cfg.Summary.Enabled {
		key, err := resolver.APIKey("openai")
		if err != nil && cfg.Embedder.Provider == "openai" {
			return nil, nil, nil, err
		}
		openaiKey = key
	}

	embedder, err := embed.New(embed.Options{
		Provider:   cfg.Embedder.Provider,
		APIKey:     openaiKey,
		Dimensions: cfg.Storage.VectorDimensions,
		ModelPath:  cfg.Embedder.ModelPath,
		VocabPath:  cfg.Embedder.VocabPath,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	var extractor extract.Extractor
	if openaiKey != "" {
		extractor, err = extract.NewOpenAIExtractor(extract.OpenAIConfig{APIKey: openaiKey})
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		// No extraction collaborator: memories ingest without graph
		// fragments, which degraded extraction already tolerates.
		slog.Warn("no openai key; entity extraction disabled")
		extractor = noopExtractor{}
	}

	var summarizer extract.Summarizer
	if cfg.Summary.Enabled {
		key, err := resolver.APIKey("anthropic")
		if err != nil {
			slog.Warn("summary enabled but no anthropic key; summaries disabled")
		} else {
			summarizer, err = extract.NewAnthropicSummarizer(extract.AnthropicConfig{
				APIKey: key,
				Model:  cfg.Summary.Model,
			})
			if err != nil {
				return nil, nil, nil, err
			}
		}
	}

	return embedder, extractor, summarizer, nil
}

// noopExtractor returns empty extractions when no LLM is configured.
type noopExtractor struct{}

func (noopExtractor) Extract(context.Context, string) (*extract.Extraction, error) {
	return &extract.Extraction{}, nil
}
