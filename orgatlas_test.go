//go:build cgo

package orgatlas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/brunobiangulo/orgatlas/llm"
	"github.com/brunobiangulo/orgatlas/store"
)

const orgReply = `{"entities":[
  {"name":"Acme","type":"organisation"},
  {"name":"Bob","type":"person","description":"CFO"},
  {"name":"Carol","type":"person"},
  {"name":"Dan","type":"person"}],
 "relationships":[{"source":"Acme","target":"Bob","label":"employs","weight":4}],
 "insights":[{"type":"gap","severity":"info","text":"No CTO mentioned"}],
 "frontier_hints":[{"name":"Budget Review","risk":"high"}]}`

// stubProvider answers every prompt with reply, except prompts containing
// failOn, which get a 503.
type stubProvider struct {
	reply  string
	failOn string
	calls  atomic.Int32
}

func (p *stubProvider) Extract(_ context.Context, prompt string) (*llm.Response, error) {
	p.calls.Add(1)
	if p.failOn != "" && strings.Contains(prompt, p.failOn) {
		return nil, &llm.ProviderError{Provider: "local", StatusCode: 503, Message: "model overloaded"}
	}
	return &llm.Response{Text: p.reply, Model: "stub"}, nil
}

// keywordEmbedder maps text onto one axis per known name.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0, 0, 0, 0.1}
		switch {
		case strings.HasPrefix(t, "Bob"):
			v[0] = 1
		case strings.HasPrefix(t, "Acme"):
			v[1] = 1
		default:
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func newTestEngine(t *testing.T, p *stubProvider, opts ...Option) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4

	opts = append([]Option{WithProviderFactory(func(llm.Config) (llm.Provider, error) { return p, nil })}, opts...)
	e, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func seedProject(t *testing.T, e Engine) *Project {
	t.Helper()
	p, err := e.CreateProject(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	return p
}

var localProvider = ProviderConfig{Kind: llm.KindLocal, ModelName: "stub"}

// ---------------------------------------------------------------------------
// Extract
// ---------------------------------------------------------------------------

func TestExtractRejectsMissingProvider(t *testing.T) {
	p := &stubProvider{reply: orgReply}
	e := newTestEngine(t, p)
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, err := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob.")
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	for _, pc := range []ProviderConfig{{}, {Kind: llm.KindNone}, {Kind: llm.KindHosted}} {
		_, err := e.Extract(ctx, doc.ID, pc)
		var ce *llm.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("Extract(%+v) = %v, want ConfigError", pc, err)
		}
	}

	got, _ := e.GetDocument(ctx, doc.ID)
	if got.Status != store.StatusUploaded {
		t.Errorf("status = %s, want untouched", got.Status)
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times", p.calls.Load())
	}
}

func TestExtractUnknownDocument(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	_, err := e.Extract(context.Background(), "nope", localProvider)
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "blank.txt", "  \n\n ")

	_, err := e.Extract(ctx, doc.ID, localProvider)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
	got, _ := e.GetDocument(ctx, doc.ID)
	if got.Status != store.StatusUploaded {
		t.Errorf("status = %s, want untouched", got.Status)
	}
}

func TestExtractSuccess(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob, Carol and Dan.")

	sum, err := e.Extract(ctx, doc.ID, localProvider)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sum.Entities != 4 || sum.Relationships != 1 || sum.Insights != 1 || sum.Territories != 3 || sum.Agents != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}

	got, _ := e.GetDocument(ctx, doc.ID)
	if got.Status != store.StatusExtracted || got.EntityCount != 4 || got.EdgeCount != 1 {
		t.Errorf("document = %s %d/%d", got.Status, got.EntityCount, got.EdgeCount)
	}
}

func TestExtractEndToEndPartialFailure(t *testing.T) {
	p := &stubProvider{reply: orgReply, failOn: "This is part 2 of 3"}
	e := newTestEngine(t, p)
	ctx := context.Background()
	proj := seedProject(t, e)

	paras := make([]string, 250)
	for i := range paras {
		paras[i] = strings.Repeat("y", 998)
	}
	doc, _ := e.AddDocument(ctx, proj.ID, "long.txt", strings.Join(paras, "\n\n"))

	sum, err := e.Extract(ctx, doc.ID, localProvider)
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 503 {
		t.Errorf("provider error not preserved: %v", err)
	}
	if sum != nil {
		t.Errorf("expected no summary, got %+v", sum)
	}
	if p.calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls.Load())
	}

	got, _ := e.GetDocument(ctx, doc.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	ents, err := e.ListEntities(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(ents) != 8 {
		t.Errorf("entities = %d, want 8 from chunks 1 and 3", len(ents))
	}
}

// ---------------------------------------------------------------------------
// Reconciled reads
// ---------------------------------------------------------------------------

func TestRepeatedPassesReconcile(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob, Carol and Dan.")

	for i := 0; i < 2; i++ {
		if _, err := e.Extract(ctx, doc.ID, localProvider); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}

	tv, err := e.ListTerritories(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListTerritories: %v", err)
	}
	if len(tv.Known) != 2 || len(tv.Frontier) != 1 {
		t.Fatalf("known=%d frontier=%d, want 2 and 1", len(tv.Known), len(tv.Frontier))
	}
	for _, k := range tv.Known {
		if k.Name == "Person" && (len(k.MemberIDs) != 6 || len(k.SourceIDs) != 2) {
			t.Errorf("Person territory members=%d sources=%d, want 6 and 2", len(k.MemberIDs), len(k.SourceIDs))
		}
	}
	if tv.Frontier[0].Name != "Budget Review" || len(tv.Frontier[0].SourceIDs) != 2 {
		t.Errorf("unexpected frontier %+v", tv.Frontier[0])
	}

	av, err := e.ListAgents(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(av.Agents) != 2 {
		t.Fatalf("agents = %d, want coordinator and Person Explorer", len(av.Agents))
	}
	h := av.Hierarchy
	if h.Coordinator == nil || h.Coordinator.EntitiesManaged != 8 {
		t.Fatalf("unexpected coordinator %+v", h.Coordinator)
	}
	if len(h.Explorers) != 1 || h.Explorers[0].EntitiesManaged != 6 {
		t.Errorf("unexpected explorers %+v", h.Explorers)
	}
}

func TestListOnUnknownProject(t *testing.T) {
	e := newTestEngine(t, &stubProvider{})
	ctx := context.Background()
	if _, err := e.ListTerritories(ctx, "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("ListTerritories: %v", err)
	}
	if _, err := e.ListAgents(ctx, "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("ListAgents: %v", err)
	}
	if _, err := e.AddDocument(ctx, "nope", "a.txt", "x"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("AddDocument: %v", err)
	}
}

func TestListEmptyProject(t *testing.T) {
	e := newTestEngine(t, &stubProvider{})
	ctx := context.Background()
	proj := seedProject(t, e)

	tv, err := e.ListTerritories(ctx, proj.ID)
	if err != nil || tv.Known == nil || tv.Frontier == nil {
		t.Errorf("ListTerritories = %+v, %v", tv, err)
	}
	av, err := e.ListAgents(ctx, proj.ID)
	if err != nil || av.Agents == nil || av.Hierarchy.Coordinator != nil {
		t.Errorf("ListAgents = %+v, %v", av, err)
	}
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func TestAddDocumentFile(t *testing.T) {
	e := newTestEngine(t, &stubProvider{})
	ctx := context.Background()
	proj := seedProject(t, e)

	dir := t.TempDir()
	md := filepath.Join(dir, "org.md")
	if err := os.WriteFile(md, []byte("# Acme\n\nBob is CFO.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := e.AddDocumentFile(ctx, proj.ID, md)
	if err != nil {
		t.Fatalf("AddDocumentFile: %v", err)
	}
	if doc.Format != "md" || doc.Filename != "org.md" {
		t.Errorf("unexpected document %+v", doc)
	}
	got, _ := e.GetDocument(ctx, doc.ID)
	if got.Content != "# Acme\n\nBob is CFO." {
		t.Errorf("content = %q", got.Content)
	}

	pptx := filepath.Join(dir, "deck.pptx")
	os.WriteFile(pptx, []byte("x"), 0o644)
	if _, err := e.AddDocumentFile(ctx, proj.ID, pptx); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}

	docs, err := e.ListDocuments(ctx, proj.ID)
	if err != nil || len(docs) != 1 {
		t.Errorf("ListDocuments = %d, %v", len(docs), err)
	}
}

// ---------------------------------------------------------------------------
// Similarity
// ---------------------------------------------------------------------------

func TestSimilarEntitiesRequiresEmbedder(t *testing.T) {
	e := newTestEngine(t, &stubProvider{})
	if _, err := e.SimilarEntities(context.Background(), "p", "Bob", 3); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestSimilarEntities(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply}, WithEmbedder(keywordEmbedder{}))
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob.")
	if _, err := e.Extract(ctx, doc.ID, localProvider); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	matches, err := e.SimilarEntities(ctx, proj.ID, "Bob", 2)
	if err != nil {
		t.Fatalf("SimilarEntities: %v", err)
	}
	if len(matches) == 0 || matches[0].Name != "Bob" {
		t.Errorf("expected Bob first, got %+v", matches)
	}
}

// ---------------------------------------------------------------------------
// Graph, review and delete
// ---------------------------------------------------------------------------

func TestGraphAndDocumentEntities(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob, Carol and Dan.")
	if _, err := e.Extract(ctx, doc.ID, localProvider); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	g, err := e.Graph(ctx, proj.ID)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if len(g.Entities) != 4 || len(g.Edges) != 1 || len(g.Insights) != 1 {
		t.Errorf("graph = %d entities, %d edges, %d insights", len(g.Entities), len(g.Edges), len(g.Insights))
	}
	if g.Stats.Documents != 1 || g.Stats.Territories != 3 || g.Stats.Agents != 2 {
		t.Errorf("stats = %+v", g.Stats)
	}

	ents, err := e.DocumentEntities(ctx, doc.ID)
	if err != nil {
		t.Fatalf("DocumentEntities: %v", err)
	}
	if len(ents) != 4 {
		t.Errorf("document entities = %d, want 4", len(ents))
	}

	if _, err := e.Graph(ctx, "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Graph(unknown) = %v, want ErrProjectNotFound", err)
	}
	if _, err := e.DocumentEntities(ctx, "nope"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("DocumentEntities(unknown) = %v, want ErrDocumentNotFound", err)
	}
}

func TestReviewEntity(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob.")
	if _, err := e.Extract(ctx, doc.ID, localProvider); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	ents, _ := e.ListEntities(ctx, proj.ID)
	if ents[0].ReviewStatus != store.ReviewPending {
		t.Fatalf("new entity review status = %q, want pending", ents[0].ReviewStatus)
	}

	got, err := e.ReviewEntity(ctx, ents[0].ID, store.ReviewApproved)
	if err != nil {
		t.Fatalf("ReviewEntity: %v", err)
	}
	if got.ReviewStatus != store.ReviewApproved {
		t.Errorf("review status = %q, want approved", got.ReviewStatus)
	}

	if _, err := e.ReviewEntity(ctx, ents[0].ID, "maybe"); !errors.Is(err, ErrInvalidReviewStatus) {
		t.Errorf("invalid status: got %v", err)
	}
	if _, err := e.ReviewEntity(ctx, "nope", store.ReviewRejected); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("unknown entity: got %v", err)
	}
}

func TestDeleteDocumentRemovesGraphRows(t *testing.T) {
	e := newTestEngine(t, &stubProvider{reply: orgReply})
	ctx := context.Background()
	proj := seedProject(t, e)
	doc, _ := e.AddDocument(ctx, proj.ID, "org.md", "Acme employs Bob.")
	if _, err := e.Extract(ctx, doc.ID, localProvider); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if err := e.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := e.GetDocument(ctx, doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("GetDocument after delete = %v", err)
	}
	g, err := e.Graph(ctx, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Entities) != 0 || len(g.Edges) != 0 || g.Stats.Territories != 0 || g.Stats.Agents != 0 {
		t.Errorf("graph rows survived delete: %+v", g.Stats)
	}

	if err := e.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second delete = %v, want ErrDocumentNotFound", err)
	}
}
