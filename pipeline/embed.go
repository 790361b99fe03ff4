package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/orgatlas/store"
)

const (
	embedBatchSize = 32
	maxEmbedChars  = 2000
)

// EntityText is the text embedded for an entity.
func EntityText(e store.Entity) string {
	text := fmt.Sprintf("%s (%s)", e.Name, e.Type)
	if e.Description != "" {
		text += ": " + e.Description
	}
	if len(text) > maxEmbedChars {
		cut := strings.LastIndex(text[:maxEmbedChars], " ")
		if cut <= 0 {
			cut = maxEmbedChars
		}
		text = text[:cut]
	}
	return text
}

// embedEntities stores an embedding for every entity of a pass. Failures are
// logged and never fail the pass.
func (r *Runner) embedEntities(ctx context.Context, entities []store.Entity) {
	var failed int
	for i := 0; i < len(entities); i += embedBatchSize {
		end := min(i+embedBatchSize, len(entities))
		batch := entities[i:end]

		texts := make([]string, len(batch))
		for j, e := range batch {
			texts[j] = EntityText(e)
		}

		vecs, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			slog.Warn("extract: embedding batch failed", "batch_start", i, "batch_end", end, "error", err)
			failed += len(batch)
			continue
		}
		if len(vecs) != len(batch) {
			slog.Warn("extract: embedding count mismatch", "want", len(batch), "got", len(vecs))
			failed += len(batch)
			continue
		}

		for j, v := range vecs {
			if err := r.store.UpsertEntityEmbedding(ctx, batch[j].ID, v); err != nil {
				slog.Warn("extract: storing entity embedding failed", "entity_id", batch[j].ID, "error", err)
				failed++
			}
		}
	}

	if failed > 0 {
		slog.Warn("extract: some entity embeddings failed", "failed", failed, "total", len(entities))
		return
	}
	slog.Debug("extract: entity embeddings stored", "count", len(entities))
}
