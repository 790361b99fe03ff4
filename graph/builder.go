package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/orgatlas/extraction"
	"github.com/brunobiangulo/orgatlas/store"
)

// DefaultExplorerThreshold is the minimum group size that earns an explorer.
const DefaultExplorerThreshold = 3

// Builder turns a merged extraction result into graph rows and derived
// views. A Builder is safe for concurrent passes; all name resolution state
// is local to one call.
type Builder struct {
	rec               Recorder
	explorerThreshold int
	now               func() time.Time
}

// NewBuilder creates a new graph builder.
func NewBuilder(rec Recorder, explorerThreshold int) *Builder {
	if explorerThreshold <= 0 {
		explorerThreshold = DefaultExplorerThreshold
	}
	return &Builder{
		rec:               rec,
		explorerThreshold: explorerThreshold,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Build materializes res for a document and derives its territories and
// agents.
func (b *Builder) Build(ctx context.Context, projectID, documentID string, res *extraction.Result) (*Pass, error) {
	pass, err := b.Materialize(ctx, projectID, documentID, res)
	if err != nil {
		return pass, err
	}
	var hints []extraction.FrontierHint
	if res != nil {
		hints = res.FrontierHints
	}
	if err := b.DeriveTerritories(ctx, pass, hints); err != nil {
		return pass, err
	}
	if err := b.BuildAgents(ctx, pass); err != nil {
		return pass, err
	}
	return pass, nil
}

// Materialize writes one entity row per extracted entity, then the edges
// whose endpoints both resolve by exact name within this pass, then the
// insights. When two entities share a name the later one wins. Edges that
// do not resolve are dropped and counted.
func (b *Builder) Materialize(ctx context.Context, projectID, documentID string, res *extraction.Result) (*Pass, error) {
	pass := &Pass{ProjectID: projectID, DocumentID: documentID}
	if res == nil {
		return pass, nil
	}

	nameToID := make(map[string]string, len(res.Entities))

	for _, e := range res.Entities {
		row := store.Entity{
			ProjectID:    projectID,
			DocumentID:   documentID,
			Name:         e.Name,
			Type:         e.Type,
			Subtype:      e.Subtype,
			Description:  e.Description,
			Metadata:     e.Metadata,
			Confidence:   e.Confidence,
			ReviewStatus: store.ReviewPending,
			CreatedAt:    b.now(),
		}
		id, err := b.rec.InsertEntity(ctx, row)
		if err != nil {
			return pass, fmt.Errorf("inserting entity %q: %w", e.Name, err)
		}
		row.ID = id
		pass.Entities = append(pass.Entities, row)
		nameToID[e.Name] = id
	}

	for _, r := range res.Relationships {
		srcID, ok := nameToID[r.Source]
		if !ok {
			pass.DroppedEdges++
			continue
		}
		tgtID, ok := nameToID[r.Target]
		if !ok {
			pass.DroppedEdges++
			continue
		}

		edge := store.Edge{
			ProjectID:  projectID,
			DocumentID: documentID,
			SourceID:   srcID,
			TargetID:   tgtID,
			Label:      r.Label,
			Weight:     r.Weight,
			CreatedAt:  b.now(),
		}
		id, err := b.rec.InsertEdge(ctx, edge)
		if err != nil {
			return pass, fmt.Errorf("inserting edge %q -> %q: %w", r.Source, r.Target, err)
		}
		edge.ID = id
		pass.Edges = append(pass.Edges, edge)
	}

	for _, in := range res.Insights {
		if _, err := b.rec.InsertInsight(ctx, store.Insight{
			ProjectID:   projectID,
			DocumentID:  documentID,
			Type:        in.Type,
			Severity:    in.Severity,
			Description: in.Description,
			CreatedAt:   b.now(),
		}); err != nil {
			return pass, fmt.Errorf("inserting insight: %w", err)
		}
		pass.Insights++
	}

	if pass.DroppedEdges > 0 {
		slog.Debug("graph: dropped unresolved relationships",
			"doc_id", documentID, "dropped", pass.DroppedEdges)
	}
	slog.Info("graph: materialized",
		"doc_id", documentID,
		"entities", len(pass.Entities),
		"edges", len(pass.Edges),
		"dropped_edges", pass.DroppedEdges,
		"insights", pass.Insights)

	return pass, nil
}
