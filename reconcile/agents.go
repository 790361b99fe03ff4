package reconcile

import "github.com/brunobiangulo/orgatlas/store"

// Agent is one synthesized agent. SourceIDs lists the ids of the stored rows
// it was merged from, in input order.
type Agent struct {
	store.Agent
	SourceIDs []string `json:"source_ids"`
}

// Hierarchy is the first coordinator and its direct explorer children.
// Coordinator is nil when no coordinator exists.
type Hierarchy struct {
	Coordinator *Agent  `json:"coordinator"`
	Explorers   []Agent `json:"explorers"`
}

type agentKey struct {
	name, role string
}

// Agents groups rows by exact (name, role) in order of first appearance and
// collapses each group to one agent:
//
//   - EntitiesManaged is the sum over the group.
//   - Status is active if any member is active, otherwise the first member's.
//   - CreatedAt and UpdatedAt come together from the member with the latest
//     UpdatedAt; ties keep the earlier member.
//   - Description, Domain and ParentID are the first member's, or the first
//     non-empty value in group order.
//
// Parent references are then remapped onto the id of the group that now
// holds the referenced row.
func Agents(rows []store.Agent) []Agent {
	index := make(map[agentKey]int, len(rows))
	canonicalID := make(map[string]string, len(rows))
	var out []Agent

	for _, row := range rows {
		key := agentKey{row.Name, row.Role}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, Agent{Agent: row, SourceIDs: []string{row.ID}})
			canonicalID[row.ID] = row.ID
			continue
		}

		m := &out[i]
		canonicalID[row.ID] = m.ID
		m.SourceIDs = append(m.SourceIDs, row.ID)
		m.EntitiesManaged += row.EntitiesManaged
		if row.Status == store.AgentActive {
			m.Status = store.AgentActive
		}
		if row.UpdatedAt.After(m.UpdatedAt) {
			m.CreatedAt = row.CreatedAt
			m.UpdatedAt = row.UpdatedAt
		}
		if m.Description == "" {
			m.Description = row.Description
		}
		if m.Domain == "" {
			m.Domain = row.Domain
		}
		if m.ParentID == "" {
			m.ParentID = row.ParentID
		}
	}

	for i := range out {
		if id, ok := canonicalID[out[i].ParentID]; ok {
			out[i].ParentID = id
		}
	}
	return out
}

// BuildHierarchy picks the first coordinator among merged agents and the
// explorers whose parent is that coordinator.
func BuildHierarchy(agents []Agent) Hierarchy {
	h := Hierarchy{Explorers: []Agent{}}
	for i := range agents {
		if agents[i].Role == store.RoleCoordinator {
			coord := agents[i]
			h.Coordinator = &coord
			break
		}
	}
	if h.Coordinator == nil {
		return h
	}
	for _, a := range agents {
		if a.Role == store.RoleExplorer && a.ParentID == h.Coordinator.ID {
			h.Explorers = append(h.Explorers, a)
		}
	}
	return h
}

// AgentRows strips the merge bookkeeping so a merged set can be fed back
// through Agents.
func AgentRows(agents []Agent) []store.Agent {
	out := make([]store.Agent, len(agents))
	for i, a := range agents {
		out[i] = a.Agent
	}
	return out
}
