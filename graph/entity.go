package graph

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/orgatlas/store"
)

// Recorder persists the rows produced by an extraction pass. *store.Store
// satisfies it.
type Recorder interface {
	InsertEntity(ctx context.Context, e store.Entity) (string, error)
	InsertEdge(ctx context.Context, e store.Edge) (string, error)
	InsertInsight(ctx context.Context, in store.Insight) (string, error)
	InsertTerritory(ctx context.Context, t store.Territory) (string, error)
	SetEntityTerritory(ctx context.Context, territoryID string, entityIDs []string) error
	InsertAgent(ctx context.Context, a store.Agent) (string, error)
}

// Pass holds everything written by one extraction pass over a document.
type Pass struct {
	ProjectID  string
	DocumentID string

	Entities     []store.Entity
	Edges        []store.Edge
	DroppedEdges int
	Insights     int
	Territories  []store.Territory
	Agents       []store.Agent
}

// TypeGroup is the set of a pass's entities sharing one type.
type TypeGroup struct {
	Type      string
	EntityIDs []string
}

// GroupByType groups entities by type in order of first appearance.
func GroupByType(entities []store.Entity) []TypeGroup {
	var groups []TypeGroup
	index := make(map[string]int)
	for _, e := range entities {
		i, ok := index[e.Type]
		if !ok {
			i = len(groups)
			index[e.Type] = i
			groups = append(groups, TypeGroup{Type: e.Type})
		}
		groups[i].EntityIDs = append(groups[i].EntityIDs, e.ID)
	}
	return groups
}

// displayName capitalises the first letter of an entity type.
func displayName(entityType string) string {
	r, size := utf8.DecodeRuneInString(entityType)
	if r == utf8.RuneError {
		return entityType
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(entityType[size:])
}
