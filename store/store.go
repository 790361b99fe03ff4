package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document statuses.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusExtracted  = "extracted"
	StatusFailed     = "failed"
)

// Project represents a row in the projects table.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Document represents a row in the documents table.
type Document struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Filename    string    `json:"filename"`
	Format      string    `json:"format"`
	Content     string    `json:"content,omitempty"`
	Status      string    `json:"status"`
	EntityCount int       `json:"entity_count"`
	EdgeCount   int       `json:"edge_count"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store wraps the SQLite database for all orgatlas persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Project operations ---

// CreateProject inserts a new project and returns it.
func (s *Store) CreateProject(ctx context.Context, name string) (*Project, error) {
	p := &Project{ID: uuid.NewString(), Name: name, CreatedAt: now()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)",
		p.ID, p.Name, formatTime(p.CreatedAt))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject retrieves a project by ID. Returns sql.ErrNoRows if missing.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM projects WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &created)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

// ListProjects returns all projects in creation order.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM projects ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Document operations ---

// InsertDocument stores an uploaded document. ID, status and timestamps are
// filled in when empty.
func (s *Store) InsertDocument(ctx context.Context, doc Document) (*Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	if doc.Format == "" {
		doc.Format = "txt"
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now()
	}
	doc.UpdatedAt = doc.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, filename, format, content, status,
			entity_count, edge_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.ProjectID, doc.Filename, doc.Format, doc.Content, doc.Status,
		doc.EntityCount, doc.EdgeCount, nullString(doc.LastError),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

const documentColumns = `id, project_id, filename, format, content, status,
	entity_count, edge_count, last_error, created_at, updated_at`

// GetDocument retrieves a document by ID, including its content.
// Returns sql.ErrNoRows if missing.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns a project's documents in upload order. Content is
// omitted.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE project_id = ? ORDER BY rowid", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		d.Content = ""
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus moves a document to status and records lastErr
// (cleared when empty).
func (s *Store) SetDocumentStatus(ctx context.Context, id, status, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, last_error = ?, updated_at = ? WHERE id = ?",
		status, nullString(lastErr), formatTime(now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// FinishDocument records the outcome of an extraction pass.
func (s *Store) FinishDocument(ctx context.Context, id, status string, entityCount, edgeCount int, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, entity_count = ?, edge_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, status, entityCount, edgeCount, nullString(lastErr), formatTime(now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// DeleteDocument removes a document; its graph rows cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_entities WHERE entity_rowid IN (
				SELECT rowid FROM entities WHERE document_id = ?
			)`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		return expectOneRow(res)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*Document, error) {
	d := &Document{}
	var lastErr sql.NullString
	var created, updated string
	if err := r.Scan(&d.ID, &d.ProjectID, &d.Filename, &d.Format, &d.Content, &d.Status,
		&d.EntityCount, &d.EdgeCount, &lastErr, &created, &updated); err != nil {
		return nil, err
	}
	d.LastError = lastErr.String
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

// Stats holds row counts for a project.
type Stats struct {
	Documents   int `json:"documents"`
	Entities    int `json:"entities"`
	Edges       int `json:"edges"`
	Insights    int `json:"insights"`
	Territories int `json:"territories"`
	Agents      int `json:"agents"`
	Embeddings  int `json:"embeddings"`
}

// ProjectStats returns row counts for a project.
func (s *Store) ProjectStats(ctx context.Context, projectID string) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents WHERE project_id = ?", &stats.Documents},
		{"SELECT COUNT(*) FROM entities WHERE project_id = ?", &stats.Entities},
		{"SELECT COUNT(*) FROM edges WHERE project_id = ?", &stats.Edges},
		{"SELECT COUNT(*) FROM insights WHERE project_id = ?", &stats.Insights},
		{"SELECT COUNT(*) FROM territories WHERE project_id = ?", &stats.Territories},
		{"SELECT COUNT(*) FROM agents WHERE project_id = ?", &stats.Agents},
		{`SELECT COUNT(*) FROM vec_entities WHERE entity_rowid IN (
			SELECT rowid FROM entities WHERE project_id = ?)`, &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, projectID).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMetadata(ns sql.NullString) map[string]string {
	m := map[string]string{}
	if ns.Valid && ns.String != "" {
		_ = json.Unmarshal([]byte(ns.String), &m)
	}
	return m
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
