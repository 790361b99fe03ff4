package graph

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/orgatlas/extraction"
	"github.com/brunobiangulo/orgatlas/store"
)

// FrontierType is the territory type used for frontier hints.
const FrontierType = "frontier"

// DeriveTerritories creates one known territory per entity type in the
// pass, back-fills each member's territory reference, and creates one
// frontier territory per hint. Duplicates across passes are left for the
// read-time merge.
func (b *Builder) DeriveTerritories(ctx context.Context, pass *Pass, hints []extraction.FrontierHint) error {
	for _, g := range GroupByType(pass.Entities) {
		t := store.Territory{
			ProjectID:   pass.ProjectID,
			DocumentID:  pass.DocumentID,
			Name:        displayName(g.Type),
			Type:        g.Type,
			Status:      store.TerritoryKnown,
			Description: fmt.Sprintf("%d %s entities", len(g.EntityIDs), g.Type),
			MemberIDs:   g.EntityIDs,
			CreatedAt:   b.now(),
		}
		id, err := b.rec.InsertTerritory(ctx, t)
		if err != nil {
			return fmt.Errorf("inserting territory %q: %w", t.Name, err)
		}
		if err := b.rec.SetEntityTerritory(ctx, id, g.EntityIDs); err != nil {
			return fmt.Errorf("linking territory %q: %w", t.Name, err)
		}
		t.ID = id
		pass.Territories = append(pass.Territories, t)

		for i := range pass.Entities {
			if pass.Entities[i].Type == g.Type {
				pass.Entities[i].TerritoryID = id
			}
		}
	}

	for _, h := range hints {
		t := store.Territory{
			ProjectID:    pass.ProjectID,
			DocumentID:   pass.DocumentID,
			Name:         h.Name,
			Type:         FrontierType,
			Status:       store.TerritoryFrontier,
			Hint:         h.Hint,
			Risk:         h.Risk,
			Value:        h.Value,
			AccessNeeded: h.AccessNeeded,
			MemberIDs:    []string{},
			CreatedAt:    b.now(),
		}
		id, err := b.rec.InsertTerritory(ctx, t)
		if err != nil {
			return fmt.Errorf("inserting frontier territory %q: %w", t.Name, err)
		}
		t.ID = id
		pass.Territories = append(pass.Territories, t)
	}

	return nil
}
