// Package reconcile merges the logically duplicate territory and agent rows
// that independent extraction passes leave behind. Every function is pure
// over its input snapshot and idempotent: merging an already merged set
// returns it unchanged.
package reconcile

import "github.com/brunobiangulo/orgatlas/store"

// Territory is one synthesized territory. SourceIDs lists the ids of the
// stored rows it was merged from, in input order.
type Territory struct {
	store.Territory
	SourceIDs []string `json:"source_ids"`
}

type territoryKey struct {
	name, typ, status string
}

// Territories groups rows by exact (name, type, status) in order of first
// appearance. The first row of a group supplies the scalar fields; member
// ids are unioned without duplicates in first-seen order.
func Territories(rows []store.Territory) []Territory {
	index := make(map[territoryKey]int, len(rows))
	var out []Territory
	var seen []map[string]bool

	for _, row := range rows {
		key := territoryKey{row.Name, row.Type, row.Status}
		i, ok := index[key]
		if !ok {
			merged := Territory{Territory: row, SourceIDs: []string{row.ID}}
			merged.MemberIDs = nil
			index[key] = len(out)
			out = append(out, merged)
			seen = append(seen, make(map[string]bool))
			i = len(out) - 1
		} else {
			out[i].SourceIDs = append(out[i].SourceIDs, row.ID)
		}

		for _, id := range row.MemberIDs {
			if seen[i][id] {
				continue
			}
			seen[i][id] = true
			out[i].MemberIDs = append(out[i].MemberIDs, id)
		}
	}

	for i := range out {
		if out[i].MemberIDs == nil {
			out[i].MemberIDs = []string{}
		}
	}
	return out
}

// Partition splits merged territories into known and frontier views,
// preserving order. Rows with any other status are ignored.
func Partition(ts []Territory) (known, frontier []Territory) {
	known, frontier = []Territory{}, []Territory{}
	for _, t := range ts {
		switch t.Status {
		case store.TerritoryKnown:
			known = append(known, t)
		case store.TerritoryFrontier:
			frontier = append(frontier, t)
		}
	}
	return known, frontier
}

// TerritoryRows strips the merge bookkeeping so a merged set can be fed
// back through Territories.
func TerritoryRows(ts []Territory) []store.Territory {
	out := make([]store.Territory, len(ts))
	for i, t := range ts {
		out[i] = t.Territory
	}
	return out
}
