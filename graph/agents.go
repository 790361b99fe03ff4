package graph

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/orgatlas/store"
)

// CoordinatorName is the name of the single coordinator created per pass.
const CoordinatorName = "Knowledge Coordinator"

// BuildAgents creates the pass's coordinator and one explorer for every
// entity type with at least the threshold number of entities.
func (b *Builder) BuildAgents(ctx context.Context, pass *Pass) error {
	groups := GroupByType(pass.Entities)
	ts := b.now()

	coord := store.Agent{
		ProjectID:       pass.ProjectID,
		DocumentID:      pass.DocumentID,
		Name:            CoordinatorName,
		Role:            store.RoleCoordinator,
		Status:          store.AgentActive,
		Description:     fmt.Sprintf("Coordinates %d entities across %d domains", len(pass.Entities), len(groups)),
		EntitiesManaged: len(pass.Entities),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	id, err := b.rec.InsertAgent(ctx, coord)
	if err != nil {
		return fmt.Errorf("inserting coordinator: %w", err)
	}
	coord.ID = id
	pass.Agents = append(pass.Agents, coord)

	for _, g := range groups {
		if len(g.EntityIDs) < b.explorerThreshold {
			continue
		}
		explorer := store.Agent{
			ProjectID:       pass.ProjectID,
			DocumentID:      pass.DocumentID,
			Name:            displayName(g.Type) + " Explorer",
			Role:            store.RoleExplorer,
			Status:          store.AgentActive,
			Domain:          g.Type,
			Description:     fmt.Sprintf("Explores %d %s entities", len(g.EntityIDs), g.Type),
			EntitiesManaged: len(g.EntityIDs),
			ParentID:        coord.ID,
			CreatedAt:       ts,
			UpdatedAt:       ts,
		}
		id, err := b.rec.InsertAgent(ctx, explorer)
		if err != nil {
			return fmt.Errorf("inserting explorer %q: %w", explorer.Name, err)
		}
		explorer.ID = id
		pass.Agents = append(pass.Agents, explorer)
	}

	return nil
}
