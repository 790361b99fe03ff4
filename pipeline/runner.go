// Package pipeline runs one extraction pass over a document: chunk, call the
// model once per chunk, parse, merge, then materialize the graph and derive
// territories and agents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/orgatlas/chunker"
	"github.com/brunobiangulo/orgatlas/extraction"
	"github.com/brunobiangulo/orgatlas/graph"
	"github.com/brunobiangulo/orgatlas/llm"
	"github.com/brunobiangulo/orgatlas/metrics"
	"github.com/brunobiangulo/orgatlas/store"
)

// Store is the persistence surface a pass writes to.
type Store interface {
	graph.Recorder
	SetDocumentStatus(ctx context.Context, id, status, lastErr string) error
	FinishDocument(ctx context.Context, id, status string, entityCount, edgeCount int, lastErr string) error
	UpsertEntityEmbedding(ctx context.Context, entityID string, embedding []float32) error
}

// Options configures a Runner. Zero values select defaults.
type Options struct {
	MaxChunkChars     int
	ExplorerThreshold int
	Retry             RetryPolicy
	ChunkTimeout      time.Duration // 0 means no client-side timeout
	Embedder          llm.Embedder  // optional; enables entity embeddings
}

// Summary counts what a successful pass produced.
type Summary struct {
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

// Runner executes extraction passes. A Runner holds no per-pass state and
// may run passes for different documents concurrently.
type Runner struct {
	store        Store
	chunkr       *chunker.Chunker
	builder      *graph.Builder
	embedder     llm.Embedder
	retry        RetryPolicy
	chunkTimeout time.Duration
}

// New creates a Runner writing to s.
func New(s Store, opts Options) *Runner {
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Runner{
		store:        s,
		chunkr:       chunker.New(chunker.Config{MaxChars: opts.MaxChunkChars}),
		builder:      graph.NewBuilder(s, opts.ExplorerThreshold),
		embedder:     opts.Embedder,
		retry:        retry,
		chunkTimeout: opts.ChunkTimeout,
	}
}

// Run performs one extraction pass over doc using provider p. kind labels
// provider metrics.
//
// A provider failure on one chunk does not stop the others, except an
// authentication failure, after which the remaining chunks are skipped.
// Whatever the completed chunks produced is materialized either way. If any
// chunk failed, or materialization failed, the document ends "failed" and
// the error is returned without a summary. Nothing is rolled back.
func (r *Runner) Run(ctx context.Context, doc *store.Document, p llm.Provider, kind string) (*Summary, error) {
	start := time.Now()

	if err := r.store.SetDocumentStatus(ctx, doc.ID, store.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("marking document processing: %w", err)
	}

	chunks := r.chunkr.Split(doc.Content)
	slog.Info("extract: chunking complete",
		"doc_id", doc.ID, "chars", len(doc.Content), "chunks", len(chunks),
		"max_chars", r.chunkr.MaxChars())

	tasks := plan(chunks)
	aborted := false
	for _, t := range tasks {
		if aborted {
			t.skip()
			continue
		}
		if err := ctx.Err(); err != nil {
			t.skip()
			t.err = err
			aborted = true
			continue
		}
		r.runTask(ctx, doc.ID, t, p, kind)
		if t.err != nil && authAborted(t.err) {
			slog.Warn("extract: provider rejected credentials, skipping remaining chunks",
				"doc_id", doc.ID, "chunk", t.index+1, "remaining", len(tasks)-t.index-1)
			aborted = true
		}
	}
	passErr := firstFailure(tasks)

	merged := extraction.Merge(results(tasks)...)
	pass, buildErr := r.build(ctx, doc.ProjectID, doc.ID, merged)
	if buildErr != nil && passErr == nil {
		passErr = fmt.Errorf("building graph: %w", buildErr)
	}

	var entities, edges int
	if pass != nil {
		entities, edges = len(pass.Entities), len(pass.Edges)
		metrics.EntitiesMaterialized.Add(float64(entities))
		metrics.EdgesDropped.Add(float64(pass.DroppedEdges))
	}

	if buildErr == nil && r.embedder != nil && pass != nil {
		r.embedEntities(ctx, pass.Entities)
	}

	status, lastErr := store.StatusExtracted, ""
	if passErr != nil {
		status, lastErr = store.StatusFailed, passErr.Error()
	}
	// Record the outcome even when ctx has been cancelled.
	if err := r.store.FinishDocument(context.WithoutCancel(ctx), doc.ID, status, entities, edges, lastErr); err != nil {
		slog.Error("extract: recording document status failed", "doc_id", doc.ID, "status", status, "error", err)
		if passErr == nil {
			passErr = fmt.Errorf("recording document status: %w", err)
		}
	}
	metrics.PassesTotal.WithLabelValues(status).Inc()

	if passErr != nil {
		slog.Warn("extract: pass failed",
			"doc_id", doc.ID, "entities", entities, "edges", edges,
			"elapsed", time.Since(start).Round(time.Millisecond), "error", passErr)
		return nil, passErr
	}

	sum := &Summary{
		DocumentID:    doc.ID,
		Chunks:        len(chunks),
		Entities:      entities,
		Relationships: edges,
		DroppedEdges:  pass.DroppedEdges,
		Insights:      pass.Insights,
		Territories:   len(pass.Territories),
		Agents:        len(pass.Agents),
		Elapsed:       time.Since(start),
	}
	slog.Info("extract: document extracted",
		"doc_id", doc.ID, "chunks", sum.Chunks, "entities", sum.Entities,
		"edges", sum.Relationships, "territories", sum.Territories, "agents", sum.Agents,
		"elapsed", sum.Elapsed.Round(time.Millisecond))
	return sum, nil
}

// build runs the graph builder, converting a panic into an error so the
// document status is still recorded.
func (r *Runner) build(ctx context.Context, projectID, documentID string, res *extraction.Result) (pass *graph.Pass, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("extract: panic during graph build", "doc_id", documentID, "panic", rec)
			err = fmt.Errorf("panic during graph build: %v", rec)
		}
	}()
	return r.builder.Build(ctx, projectID, documentID, res)
}

// firstFailure returns the error of the first chunk whose provider call
// failed, annotated with its position.
func firstFailure(tasks []*chunkTask) error {
	var failed []*chunkTask
	for _, t := range tasks {
		if t.err != nil {
			failed = append(failed, t)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	t := failed[0]
	if len(failed) == 1 {
		return fmt.Errorf("chunk %d of %d: %w", t.index+1, len(tasks), t.err)
	}
	return fmt.Errorf("%d of %d chunks failed, first at chunk %d: %w", len(failed), len(tasks), t.index+1, t.err)
}

// authAborted reports whether err means no further chunk can succeed.
func authAborted(err error) bool {
	var pe *llm.ProviderError
	return errors.As(err, &pe) && pe.AuthFailure()
}
