// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package memory orchestrates the ingestion-and-retrieval pipeline:
// the synchronous ingest fast path, the background AI slow path
// (embedding, vector upsert, extraction, graph enrichment), hybrid
// retrieval, and the recovery sweep for abandoned work.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/engram-dev/engram/internal/breaker"
	"github.com/engram-dev/engram/internal/embed"
	"github.com/engram-dev/engram/internal/extract"
	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/store/sqlite"
	"github.com/engram-dev/engram/internal/txn"
	"github.com/engram-dev/engram/internal/validate"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Input limits per the tool contract.
const (
	MaxTextLength  = 50000
	MaxQueryLength = 1000
	MaxReadLimit   = 500
	MaxHybridDepth = 3
)

// eventMemoryAddedFast is the audit type for the synchronous ingest
// prefix.
const eventMemoryAddedFast = "MEMORY_ADDED_FAST"

// Config tunes the orchestrator.
type Config struct {
	// TopK is the k-NN width for search (default 5).
	TopK int
	// Workers sizes the background pool (default 4).
	Workers int
	// QueueSize bounds queued background tasks (default Workers*16).
	QueueSize int
	// Breaker applies to each wrapped dependency.
	Breaker breaker.Config
	// SummaryEnabled turns on LLM synthesis for hybrid search.
	SummaryEnabled bool
}

// SearchResult pairs one vector hit with its graph context. Context is
// nil when the hit's graph node is missing (background processing still
// in flight, or failed).
type SearchResult struct {
	Memory     store.VectorRecord
	Similarity float64
	Context    *store.Graph
}

// HybridResult is a search with deeper graph expansion and an optional
// synthesized summary.
type HybridResult struct {
	Results []SearchResult
	Summary string
}

// Manager owns one instance of every pipeline subsystem.
type Manager struct {
	graph      *sqlite.GraphStore
	queries    *sqlite.QueryEngine
	vectors    store.VectorStore
	embedder   embed.Embedder
	extractor  extract.Extractor
	summarizer extract.Summarizer
	txn        *txn.Manager

	embedBreaker   *breaker.Breaker
	vectorBreaker  *breaker.Breaker
	extractBreaker *breaker.Breaker

	sessions *ristretto.Cache
	pool     *Pool
	cfg      Config
	logger   *slog.Logger
}

// Deps are the subsystems the manager orchestrates. Summarizer may be
// nil (hybrid search then skips synthesis).
type Deps struct {
	Graph      *sqlite.GraphStore
	Queries    *sqlite.QueryEngine
	Vectors    store.VectorStore
	Embedder   embed.Embedder
	Extractor  extract.Extractor
	Summarizer extract.Summarizer
	Txn        *txn.Manager
}

// NewManager wires the orchestrator.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	sessions, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeInternalFailure, "creating session cache")
	}

	return &Manager{
		graph:          deps.Graph,
		queries:        deps.Queries,
		vectors:        deps.Vectors,
		embedder:       deps.Embedder,
		extractor:      deps.Extractor,
		summarizer:     deps.Summarizer,
		txn:            deps.Txn,
		embedBreaker:   breaker.New("embed", cfg.Breaker),
		vectorBreaker:  breaker.New("vector", cfg.Breaker),
		extractBreaker: breaker.New("extract", cfg.Breaker),
		sessions:       sessions,
		pool:           NewPool(cfg.Workers, cfg.QueueSize),
		cfg:            cfg,
		logger:         slog.Default(),
	}, nil
}

// AddMemory ingests one text: it synchronously inserts a PENDING anchor
// node carrying a forward reference to the (not yet existing) vector,
// then hands the AI work to the background pool. The generated node
// name returns immediately; background failures never propagate here.
func (m *Manager) AddMemory(ctx context.Context, content, tenant string, metadata map[string]string) (string, error) {
	if err := validate.Tenant(tenant); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", engramerr.New(engramerr.CodeMemoryAddInvalid, "memory content must not be empty")
	}
	if len(content) > MaxTextLength {
		return "", engramerr.Errorf(engramerr.CodeMemoryAddInvalid,
			"memory content exceeds %d characters (got %d)", MaxTextLength, len(content))
	}

	vectorID := uuid.NewString()
	name := "mem-" + vectorID[:8]

	node := &store.Node{
		Name:        name,
		Type:        "memory",
		Content:     content,
		Tenant:      tenant,
		EmbeddingID: vectorID,
		Metadata:    metadata,
		Status:      store.NodeStatusPending,
	}
	if err := m.graph.CreateNode(ctx, node); err != nil {
		return "", err
	}

	if err := m.graph.AppendEvent(ctx, &store.MemoryEvent{
		Type:        eventMemoryAddedFast,
		Description: fmt.Sprintf("memory %s accepted, background processing queued", name),
		Metadata:    map[string]string{"node": name, "vector_id": vectorID},
		Tenant:      tenant,
	}); err != nil {
		m.logger.Warn("audit event append failed", "node", name, "error", err)
	}

	m.sessions.Set("recent:"+tenant, content, 1)
	m.sessions.Wait()

	submitErr := m.pool.Submit(func(bg context.Context) {
		if err := m.process(bg, name, vectorID, content, tenant, metadata); err != nil {
			m.logger.Error("background memory processing failed",
				"node", name, "tenant", tenant, "error", err)
		}
	})
	if submitErr != nil {
		// The node stays PENDING; the recovery sweep will reconcile it.
		m.logger.Error("background submission rejected", "node", name, "error", submitErr)
	}

	return name, nil
}

// process is the background slow path for one memory, run as a saga:
// embed, vector upsert (with its compensating delete in place before
// the SQL side runs), entity extraction, then one outer transaction
// enriching the graph and promoting the anchor to READY. A failure in
// the SQL step compensates the vector upsert, so READY nodes always
// point at live vectors.
func (m *Manager) process(ctx context.Context, name, vectorID, content, tenant string, metadata map[string]string) error {
	metaJSON := "{}"
	if len(metadata) > 0 {
		metaJSON = encodeMeta(metadata)
	}

	var (
		vec        []float32
		extraction *extract.Extraction
	)

	saga := txn.NewSaga("ingest-" + name)

	saga.AddStep(txn.SagaStep{
		Name: "embed",
		Execute: func(ctx context.Context) error {
			v, err := breaker.Do(m.embedBreaker, func() ([]float32, error) {
				return m.embedder.Embed(ctx, content)
			})
			if err != nil {
				return engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "embedding memory")
			}
			vec = v
			return nil
		},
	})

	saga.AddStep(txn.SagaStep{
		Name: "vector_upsert",
		Execute: func(ctx context.Context) error {
			_, err := m.vectorBreaker.Execute(func() (any, error) {
				return nil, m.vectors.Upsert(ctx, store.VectorRecord{
					ID:       vectorID,
					Vector:   vec,
					Text:     content,
					Tenant:   tenant,
					NodeName: name,
					Metadata: metaJSON,
				})
			})
			if err != nil {
				return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "upserting vector")
			}
			return nil
		},
		Compensate: func(ctx context.Context) error {
			return m.vectors.Delete(ctx, []string{vectorID})
		},
	})

	saga.AddStep(txn.SagaStep{
		Name: "extract",
		Execute: func(ctx context.Context) error {
			extraction = m.extractSafe(ctx, content)
			return nil
		},
	})

	saga.AddStep(txn.SagaStep{
		Name: "enrich",
		Execute: func(ctx context.Context) error {
			return m.txn.Execute(ctx, func(ctx context.Context) error {
				anchor, err := m.graph.GetNode(ctx, name, tenant)
				if err != nil {
					return err
				}
				if err := m.enrich(ctx, anchor, extraction); err != nil {
					return err
				}
				return m.graph.SetNodeStatus(ctx, name, tenant, store.NodeStatusReady)
			})
		},
	})

	return saga.Run(ctx)
}

// extractSafe runs extraction through its breaker, degrading any
// failure to an empty extraction: the memory stays usable without
// graph fragments.
func (m *Manager) extractSafe(ctx context.Context, content string) *extract.Extraction {
	out, err := breaker.Do(m.extractBreaker, func() (*extract.Extraction, error) {
		return m.extractor.Extract(ctx, content)
	})
	if err != nil {
		m.logger.Warn("entity extraction degraded to empty", "error", err)
		return &extract.Extraction{}
	}
	return out
}

// enrich applies one extraction to the graph: entity nodes with
// mentions edges from the anchor, then typed relationship edges.
func (m *Manager) enrich(ctx context.Context, anchor *store.Node, extraction *extract.Extraction) error {
	linked := make(map[string]*store.Node, len(extraction.Entities))

	for _, entity := range extraction.Entities {
		if err := validate.Name(entity.Name); err != nil {
			m.logger.Warn("skipping extracted entity with invalid name", "name", entity.Name)
			continue
		}
		if _, seen := linked[entity.Name]; seen {
			continue
		}

		entityType := entity.Type
		if entityType == "" {
			entityType = "concept"
		}
		node, err := m.graph.GetOrCreateNode(ctx, entity.Name, entityType, anchor.Tenant)
		if err != nil {
			return err
		}
		linked[entity.Name] = node

		if node.ID == anchor.ID {
			continue
		}
		if err := m.graph.CreateEdge(ctx, &store.Edge{
			SourceID: anchor.ID,
			TargetID: node.ID,
			Type:     "mentions",
			Tenant:   anchor.Tenant,
		}); err != nil {
			return err
		}
	}

	for _, rel := range extraction.Relationships {
		if validate.Name(rel.From) != nil || validate.Name(rel.To) != nil {
			m.logger.Warn("skipping relationship with invalid endpoint", "from", rel.From, "to", rel.To)
			continue
		}
		if rel.From == rel.To {
			continue
		}

		from, err := m.graph.GetOrCreateNode(ctx, rel.From, "concept", anchor.Tenant)
		if err != nil {
			return err
		}
		to, err := m.graph.GetOrCreateNode(ctx, rel.To, "concept", anchor.Tenant)
		if err != nil {
			return err
		}

		if err := m.graph.CreateEdge(ctx, &store.Edge{
			SourceID: from.ID,
			TargetID: to.ID,
			Type:     strings.ToLower(rel.Type),
			Tenant:   anchor.Tenant,
		}); err != nil {
			return err
		}
	}

	return nil
}

// Search embeds the query, runs tenant-filtered k-NN, and hydrates each
// hit to its graph node with a 1-hop subgraph.
func (m *Manager) Search(ctx context.Context, query, tenant string) ([]SearchResult, error) {
	return m.search(ctx, query, tenant, 1)
}

// HybridSearch is Search with deeper graph expansion and an optional
// LLM summary over the fragment set.
func (m *Manager) HybridSearch(ctx context.Context, query, tenant string, depth int) (*HybridResult, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > MaxHybridDepth {
		depth = MaxHybridDepth
	}

	results, err := m.search(ctx, query, tenant, depth)
	if err != nil {
		return nil, err
	}

	out := &HybridResult{Results: results}
	if m.summarizer == nil || !m.cfg.SummaryEnabled || len(results) == 0 {
		return out, nil
	}

	fragments := make([]string, 0, len(results))
	for _, r := range results {
		fragments = append(fragments, r.Memory.Text)
	}

	summary, err := m.summarizer.Summarize(ctx, query, fragments)
	if err != nil {
		// Summaries are best-effort decoration over the fragments.
		m.logger.Warn("hybrid search summary failed", "error", err)
		return out, nil
	}
	out.Summary = summary
	return out, nil
}

func (m *Manager) search(ctx context.Context, query, tenant string, depth int) ([]SearchResult, error) {
	if err := validate.Tenant(tenant); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, engramerr.New(engramerr.CodeValidateInputInvalid, "query must not be empty")
	}
	if len(query) > MaxQueryLength {
		return nil, engramerr.Errorf(engramerr.CodeValidateInputInvalid,
			"query exceeds %d characters (got %d)", MaxQueryLength, len(query))
	}

	vec, err := breaker.Do(m.embedBreaker, func() ([]float32, error) {
		return m.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeMemorySearchFailure, "embedding query")
	}

	hits, err := m.vectors.Search(ctx, vec, m.cfg.TopK, store.VectorFilter{Tenant: tenant})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		result := SearchResult{
			Memory:     hit.Record,
			Similarity: 1 / (1 + hit.Distance),
		}

		node, err := m.graph.GetNodeByEmbeddingID(ctx, hit.Record.ID, tenant)
		switch {
		case err == nil:
			sub, err := m.queries.Subgraph(ctx, node.Name, tenant, depth)
			if err != nil {
				return nil, err
			}
			result.Context = sub
		case engramerr.IsNotFound(err):
			// Background processing has not landed (or failed); the hit
			// still surfaces, without graph context.
		default:
			return nil, err
		}

		results = append(results, result)
	}

	return results, nil
}

// ReadGraph returns a page of the tenant's graph.
func (m *Manager) ReadGraph(ctx context.Context, tenant string, limit, offset int) (*store.Graph, error) {
	if err := validate.Tenant(tenant); err != nil {
		return nil, err
	}
	if limit < 1 || limit > MaxReadLimit {
		return nil, engramerr.Errorf(engramerr.CodeValidateInputInvalid,
			"limit must be in [1, %d] (got %d)", MaxReadLimit, limit)
	}
	if offset < 0 {
		return nil, engramerr.New(engramerr.CodeValidateInputInvalid, "offset must not be negative")
	}
	return m.queries.ReadGraph(ctx, tenant, limit, offset)
}

// SearchNodes runs the keyword scan.
func (m *Manager) SearchNodes(ctx context.Context, query, tenant string) (*store.Graph, error) {
	if err := validate.Tenant(tenant); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, engramerr.New(engramerr.CodeValidateInputInvalid, "query must not be empty")
	}
	if len(query) > MaxQueryLength {
		return nil, engramerr.Errorf(engramerr.CodeValidateInputInvalid,
			"query exceeds %d characters (got %d)", MaxQueryLength, len(query))
	}
	return m.queries.SearchNodes(ctx, query, tenant)
}

// RecentContent returns the last ingested content for a tenant, when
// still resident in the session cache.
func (m *Manager) RecentContent(tenant string) (string, bool) {
	v, ok := m.sessions.Get("recent:" + tenant)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Shutdown drains the background pool with the context's deadline.
// Undrained work is left PENDING for the recovery worker.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.pool.Shutdown(ctx)
}

func encodeMeta(m map[string]string) string {
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
