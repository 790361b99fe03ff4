package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Review statuses for entities.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Territory statuses.
const (
	TerritoryKnown    = "known"
	TerritoryFrontier = "frontier"
)

// Agent roles and statuses.
const (
	RoleCoordinator = "coordinator"
	RoleExplorer    = "explorer"

	AgentActive   = "active"
	AgentComplete = "complete"
	AgentPending  = "pending"
)

// Entity represents a row in the entities table.
type Entity struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	DocumentID   string            `json:"document_id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Subtype      string            `json:"subtype,omitempty"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Confidence   float64           `json:"confidence"`
	ReviewStatus string            `json:"review_status"`
	TerritoryID  string            `json:"territory_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Edge represents a row in the edges table.
type Edge struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	DocumentID string    `json:"document_id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Label      string    `json:"label"`
	Weight     int       `json:"weight"`
	CreatedAt  time.Time `json:"created_at"`
}

// Insight represents a row in the insights table.
type Insight struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	DocumentID  string    `json:"document_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Territory represents a row in the territories table plus its members.
type Territory struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	DocumentID   string    `json:"document_id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Description  string    `json:"description,omitempty"`
	Hint         string    `json:"hint,omitempty"`
	Risk         string    `json:"risk,omitempty"`
	Value        string    `json:"value,omitempty"`
	AccessNeeded string    `json:"access_needed,omitempty"`
	MemberIDs    []string  `json:"member_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// Agent represents a row in the agents table.
type Agent struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	DocumentID      string    `json:"document_id"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	Status          string    `json:"status"`
	Domain          string    `json:"domain,omitempty"`
	Description     string    `json:"description,omitempty"`
	EntitiesManaged int       `json:"entities_managed"`
	ParentID        string    `json:"parent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// --- Entity operations ---

// InsertEntity stores an entity and returns its ID.
func (s *Store) InsertEntity(ctx context.Context, e Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReviewStatus == "" {
		e.ReviewStatus = ReviewPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, document_id, name, type, subtype, description,
			metadata, confidence, review_status, territory_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectID, e.DocumentID, e.Name, e.Type, nullString(e.Subtype),
		nullString(e.Description), meta, e.Confidence, e.ReviewStatus,
		nullString(e.TerritoryID), formatTime(e.CreatedAt))
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// SetEntityTerritory back-fills the territory reference on entities.
func (s *Store) SetEntityTerritory(ctx context.Context, territoryID string, entityIDs []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE entities SET territory_id = ? WHERE id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range entityIDs {
			if _, err := stmt.ExecContext(ctx, territoryID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetEntityReview updates an entity's review status.
func (s *Store) SetEntityReview(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE entities SET review_status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

const entityColumns = `id, project_id, document_id, name, type, subtype, description,
	metadata, confidence, review_status, territory_id, created_at`

// ListEntities returns a project's entities in insertion order.
func (s *Store) ListEntities(ctx context.Context, projectID string) ([]Entity, error) {
	return s.queryEntities(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE project_id = ? ORDER BY rowid", projectID)
}

// ListDocumentEntities returns the entities extracted from one document.
func (s *Store) ListDocumentEntities(ctx context.Context, documentID string) ([]Entity, error) {
	return s.queryEntities(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE document_id = ? ORDER BY rowid", documentID)
}

// GetEntity retrieves an entity by ID. Returns sql.ErrNoRows if missing.
func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	ents, err := s.queryEntities(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, sql.ErrNoRows
	}
	return &ents[0], nil
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntity(r rowScanner) (*Entity, error) {
	e := &Entity{}
	var subtype, desc, meta, territory sql.NullString
	var created string
	if err := r.Scan(&e.ID, &e.ProjectID, &e.DocumentID, &e.Name, &e.Type, &subtype, &desc,
		&meta, &e.Confidence, &e.ReviewStatus, &territory, &created); err != nil {
		return nil, err
	}
	e.Subtype = subtype.String
	e.Description = desc.String
	e.Metadata = unmarshalMetadata(meta)
	e.TerritoryID = territory.String
	e.CreatedAt = parseTime(created)
	return e, nil
}

// --- Edge operations ---

// InsertEdge stores an edge and returns its ID.
func (s *Store) InsertEdge(ctx context.Context, e Edge) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (id, project_id, document_id, source_id, target_id, label, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectID, e.DocumentID, e.SourceID, e.TargetID, e.Label, e.Weight, formatTime(e.CreatedAt))
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// ListEdges returns a project's edges in insertion order.
func (s *Store) ListEdges(ctx context.Context, projectID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, source_id, target_id, label, weight, created_at
		FROM edges WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var created string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.DocumentID, &e.SourceID, &e.TargetID,
			&e.Label, &e.Weight, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Insight operations ---

// InsertInsight stores an insight and returns its ID.
func (s *Store) InsertInsight(ctx context.Context, in Insight) (string, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (id, project_id, document_id, type, severity, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.ProjectID, in.DocumentID, in.Type, in.Severity, in.Description, formatTime(in.CreatedAt))
	if err != nil {
		return "", err
	}
	return in.ID, nil
}

// ListInsights returns a project's insights in insertion order.
func (s *Store) ListInsights(ctx context.Context, projectID string) ([]Insight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, type, severity, description, created_at
		FROM insights WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		var created string
		if err := rows.Scan(&in.ID, &in.ProjectID, &in.DocumentID, &in.Type, &in.Severity,
			&in.Description, &created); err != nil {
			return nil, err
		}
		in.CreatedAt = parseTime(created)
		out = append(out, in)
	}
	return out, rows.Err()
}

// --- Territory operations ---

// InsertTerritory stores a territory and its member list in one
// transaction and returns its ID.
func (s *Store) InsertTerritory(ctx context.Context, t Territory) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO territories (id, project_id, document_id, name, type, status,
				description, hint, risk, value, access_needed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ProjectID, t.DocumentID, t.Name, t.Type, t.Status,
			nullString(t.Description), nullString(t.Hint), nullString(t.Risk),
			nullString(t.Value), nullString(t.AccessNeeded), formatTime(t.CreatedAt)); err != nil {
			return err
		}
		for i, id := range t.MemberIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO territory_members (territory_id, entity_id, position) VALUES (?, ?, ?)",
				t.ID, id, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// ListTerritories returns a project's territory rows in insertion order,
// with member IDs in their original order.
func (s *Store) ListTerritories(ctx context.Context, projectID string) ([]Territory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, name, type, status,
			description, hint, risk, value, access_needed, created_at
		FROM territories WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, err
	}

	var out []Territory
	index := make(map[string]int)
	for rows.Next() {
		var t Territory
		var desc, hint, risk, value, access sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.DocumentID, &t.Name, &t.Type, &t.Status,
			&desc, &hint, &risk, &value, &access, &created); err != nil {
			rows.Close()
			return nil, err
		}
		t.Description = desc.String
		t.Hint = hint.String
		t.Risk = risk.String
		t.Value = value.String
		t.AccessNeeded = access.String
		t.CreatedAt = parseTime(created)
		t.MemberIDs = []string{}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	members, err := s.db.QueryContext(ctx, `
		SELECT m.territory_id, m.entity_id
		FROM territory_members m
		JOIN territories t ON t.id = m.territory_id
		WHERE t.project_id = ?
		ORDER BY m.territory_id, m.position
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer members.Close()

	for members.Next() {
		var tid, eid string
		if err := members.Scan(&tid, &eid); err != nil {
			return nil, err
		}
		if i, ok := index[tid]; ok {
			out[i].MemberIDs = append(out[i].MemberIDs, eid)
		}
	}
	return out, members.Err()
}

// --- Agent operations ---

// InsertAgent stores an agent and returns its ID.
func (s *Store) InsertAgent(ctx context.Context, a Agent) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, project_id, document_id, name, role, status, domain,
			description, entities_managed, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.DocumentID, a.Name, a.Role, a.Status, nullString(a.Domain),
		nullString(a.Description), a.EntitiesManaged, nullString(a.ParentID),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// ListAgents returns a project's agent rows in insertion order.
func (s *Store) ListAgents(ctx context.Context, projectID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, name, role, status, domain, description,
			entities_managed, parent_id, created_at, updated_at
		FROM agents WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var domain, desc, parent sql.NullString
		var created, updated string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.DocumentID, &a.Name, &a.Role, &a.Status,
			&domain, &desc, &a.EntitiesManaged, &parent, &created, &updated); err != nil {
			return nil, err
		}
		a.Domain = domain.String
		a.Description = desc.String
		a.ParentID = parent.String
		a.CreatedAt = parseTime(created)
		a.UpdatedAt = parseTime(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}
