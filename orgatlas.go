// Package orgatlas builds a knowledge model of an organisation from its
// documents: typed entities, relationships, insights, territories and an
// agent hierarchy, extracted by a language model and stored in SQLite.
package orgatlas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobiangulo/orgatlas/cache"
	"github.com/brunobiangulo/orgatlas/llm"
	"github.com/brunobiangulo/orgatlas/pipeline"
	"github.com/brunobiangulo/orgatlas/reconcile"
	"github.com/brunobiangulo/orgatlas/store"
	"github.com/brunobiangulo/orgatlas/textract"
)

// Engine is the main entry point for building and reading the knowledge model.
type Engine interface {
	// CreateProject creates an empty project.
	CreateProject(ctx context.Context, name string) (*Project, error)

	// ListProjects returns all projects.
	ListProjects(ctx context.Context) ([]Project, error)

	// AddDocument stores already-extracted text as an uploaded document.
	AddDocument(ctx context.Context, projectID, filename, content string) (*Document, error)

	// AddDocumentFile extracts text from a txt, md, csv, pdf, docx or xlsx
	// file and stores it as an uploaded document.
	AddDocumentFile(ctx context.Context, projectID, path string) (*Document, error)

	// GetDocument returns a document including its content.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListDocuments returns a project's documents without content.
	ListDocuments(ctx context.Context, projectID string) ([]Document, error)

	// Extract runs one extraction pass over a document.
	Extract(ctx context.Context, documentID string, pc ProviderConfig) (*ExtractionSummary, error)

	// ListTerritories returns the project's territories after merging
	// duplicates from separate passes.
	ListTerritories(ctx context.Context, projectID string) (*TerritoryView, error)

	// ListAgents returns the project's agents after merging duplicates,
	// with the coordinator hierarchy.
	ListAgents(ctx context.Context, projectID string) (*AgentView, error)

	// DeleteDocument removes a document together with the graph rows its
	// passes created.
	DeleteDocument(ctx context.Context, id string) error

	// ListEntities returns every entity of a project.
	ListEntities(ctx context.Context, projectID string) ([]Entity, error)

	// DocumentEntities returns the entities extracted from one document.
	DocumentEntities(ctx context.Context, documentID string) ([]Entity, error)

	// Graph returns a project's entities, edges and insights with counts.
	Graph(ctx context.Context, projectID string) (*GraphView, error)

	// ReviewEntity sets an entity's review status to pending, approved or
	// rejected.
	ReviewEntity(ctx context.Context, id, status string) (*Entity, error)

	// SimilarEntities returns the k project entities nearest to query.
	SimilarEntities(ctx context.Context, projectID, query string, k int) ([]EntityMatch, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Record types shared with the store.
type (
	Project     = store.Project
	Document    = store.Document
	Entity      = store.Entity
	Edge        = store.Edge
	Insight     = store.Insight
	EntityMatch = store.EntityMatch
	Stats       = store.Stats
)

// ExtractionSummary counts what one successful pass produced.
type ExtractionSummary struct {
	DocumentID    string        `json:"document_id"`
	Chunks        int           `json:"chunks"`
	Entities      int           `json:"entities"`
	Relationships int           `json:"relationships"`
	DroppedEdges  int           `json:"dropped_edges"`
	Insights      int           `json:"insights"`
	Territories   int           `json:"territories"`
	Agents        int           `json:"agents"`
	Elapsed       time.Duration `json:"elapsed"`
}

// TerritoryView is the reconciled territory set of a project.
type TerritoryView struct {
	Known    []reconcile.Territory `json:"known"`
	Frontier []reconcile.Territory `json:"frontier"`
}

// AgentView is the reconciled agent set of a project.
type AgentView struct {
	Agents    []reconcile.Agent   `json:"agents"`
	Hierarchy reconcile.Hierarchy `json:"hierarchy"`
}

// GraphView is the raw knowledge graph of a project.
type GraphView struct {
	Entities []Entity  `json:"entities"`
	Edges    []Edge    `json:"edges"`
	Insights []Insight `json:"insights"`
	Stats    Stats     `json:"stats"`
}

// ProviderFactory builds the model client for a pass.
type ProviderFactory func(llm.Config) (llm.Provider, error)

// Option configures an Engine.
type Option func(*engine)

// WithProviderFactory replaces how model clients are built, e.g. with a
// stub in tests.
func WithProviderFactory(f ProviderFactory) Option {
	return func(e *engine) { e.newProvider = f }
}

// WithEmbedder sets the embedding client instead of building one from
// Config.Embedding.
func WithEmbedder(emb llm.Embedder) Option {
	return func(e *engine) { e.embedder = emb }
}

// WithCache sets the model response cache instead of connecting to the
// Redis server in Config.Cache.
func WithCache(c llm.Cache) Option {
	return func(e *engine) { e.cache = c }
}

type engine struct {
	cfg         Config
	store       *store.Store
	extractors  *textract.Registry
	newProvider ProviderFactory
	embedder    llm.Embedder
	cache       llm.Cache
	closers     []io.Closer
	runner      *pipeline.Runner
}

// New creates a new orgatlas engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	// Resolve database path from config (DBPath > DBName+StorageDir > default)
	dbPath := cfg.resolveDBPath()

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}

	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{
		cfg:         cfg,
		store:       s,
		extractors:  textract.NewRegistry(),
		newProvider: llm.NewProvider,
	}
	for _, o := range opts {
		o(e)
	}

	if e.embedder == nil && cfg.Embedding.Kind != "" && cfg.Embedding.Kind != llm.KindNone {
		emb, err := llm.NewEmbedder(cfg.Embedding.llmConfig())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		e.embedder = emb
	}

	if e.cache == nil && cfg.Cache.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedis(ctx, cfg.Cache)
		cancel()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating response cache: %w", err)
		}
		e.cache = rc
		e.closers = append(e.closers, rc)
	}

	e.runner = pipeline.New(s, pipeline.Options{
		MaxChunkChars:     cfg.MaxChunkChars,
		ExplorerThreshold: cfg.ExplorerThreshold,
		Retry:             cfg.Retry,
		ChunkTimeout:      cfg.ChunkTimeout,
		Embedder:          e.embedder,
	})

	slog.Info("engine: ready", "db", dbPath,
		"embeddings", e.embedder != nil, "cache", e.cache != nil)
	return e, nil
}

func (e *engine) CreateProject(ctx context.Context, name string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("project name is required")
	}
	return e.store.CreateProject(ctx, name)
}

func (e *engine) ListProjects(ctx context.Context) ([]Project, error) {
	return e.store.ListProjects(ctx)
}

func (e *engine) requireProject(ctx context.Context, projectID string) error {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return fmt.Errorf("loading project: %w", err)
	}
	return nil
}

func (e *engine) AddDocument(ctx context.Context, projectID, filename, content string) (*Document, error) {
	return e.addDocument(ctx, projectID, filename, textract.FormatOf(filename), content)
}

func (e *engine) addDocument(ctx context.Context, projectID, filename, format, content string) (*Document, error) {
	if err := e.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	doc, err := e.store.InsertDocument(ctx, store.Document{
		ProjectID: projectID,
		Filename:  filename,
		Format:    format,
		Content:   content,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	slog.Info("document: added", "doc_id", doc.ID, "project_id", projectID,
		"file", filename, "chars", len(content))
	return doc, nil
}

func (e *engine) AddDocumentFile(ctx context.Context, projectID, path string) (*Document, error) {
	format, text, err := e.extractors.ExtractFile(ctx, path)
	if err != nil {
		if errors.Is(err, textract.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
		}
		return nil, err
	}
	return e.addDocument(ctx, projectID, filepath.Base(path), format, text)
}

func (e *engine) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return doc, nil
}

func (e *engine) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	return e.store.ListDocuments(ctx, projectID)
}

// Extract validates the provider configuration, then runs one pass. A
// rejected configuration is returned as *llm.ConfigError before the
// document is touched; a failed pass wraps ErrExtractionFailed and leaves
// the document failed.
func (e *engine) Extract(ctx context.Context, documentID string, pc ProviderConfig) (*ExtractionSummary, error) {
	cfg := pc.llmConfig()
	if err := llm.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	doc, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, documentID)
	}

	provider, err := e.newProvider(cfg)
	if err != nil {
		return nil, err
	}
	provider = llm.WithCache(provider, e.cache, pc.cacheScope())

	slog.Info("extract: starting pass", "doc_id", doc.ID, "file", doc.Filename,
		"provider", pc.Kind, "model", pc.ModelName)
	sum, err := e.runner.Run(ctx, doc, provider, pc.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	return &ExtractionSummary{
		DocumentID:    sum.DocumentID,
		Chunks:        sum.Chunks,
		Entities:      sum.Entities,
		Relationships: sum.Relationships,
		DroppedEdges:  sum.DroppedEdges,
		Insights:      sum.Insights,
		Territories:   sum.Territories,
		Agents:        sum.Agents,
		Elapsed:       sum.Elapsed,
	}, nil
}

func (e *engine) ListTerritories(ctx context.Context, projectID string) (*TerritoryView, error) {
	if err := e.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	rows, err := e.store.ListTerritories(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing territories: %w", err)
	}
	known, frontier := reconcile.Partition(reconcile.Territories(rows))
	return &TerritoryView{Known: known, Frontier: frontier}, nil
}

func (e *engine) ListAgents(ctx context.Context, projectID string) (*AgentView, error) {
	if err := e.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	rows, err := e.store.ListAgents(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	agents := reconcile.Agents(rows)
	if agents == nil {
		agents = []reconcile.Agent{}
	}
	return &AgentView{Agents: agents, Hierarchy: reconcile.BuildHierarchy(agents)}, nil
}

func (e *engine) DeleteDocument(ctx context.Context, id string) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return fmt.Errorf("deleting document: %w", err)
	}
	slog.Info("document: deleted", "doc_id", id)
	return nil
}

func (e *engine) ListEntities(ctx context.Context, projectID string) ([]Entity, error) {
	return e.store.ListEntities(ctx, projectID)
}

func (e *engine) DocumentEntities(ctx context.Context, documentID string) ([]Entity, error) {
	if _, err := e.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return e.store.ListDocumentEntities(ctx, documentID)
}

func (e *engine) Graph(ctx context.Context, projectID string) (*GraphView, error) {
	if err := e.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	ents, err := e.store.ListEntities(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	edges, err := e.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	insights, err := e.store.ListInsights(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing insights: %w", err)
	}
	stats, err := e.store.ProjectStats(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("counting project rows: %w", err)
	}
	return &GraphView{Entities: ents, Edges: edges, Insights: insights, Stats: *stats}, nil
}

func (e *engine) ReviewEntity(ctx context.Context, id, status string) (*Entity, error) {
	switch status {
	case store.ReviewPending, store.ReviewApproved, store.ReviewRejected:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidReviewStatus, status)
	}
	if err := e.store.SetEntityReview(ctx, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		return nil, fmt.Errorf("updating review status: %w", err)
	}
	return e.store.GetEntity(ctx, id)
}

func (e *engine) SimilarEntities(ctx context.Context, projectID, query string, k int) ([]EntityMatch, error) {
	if e.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	if k <= 0 {
		k = 10
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding query: empty response")
	}
	return e.store.SimilarEntities(ctx, projectID, vecs[0], k)
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			slog.Warn("engine: closing resource failed", "error", err)
		}
	}
	return e.store.Close()
}
