package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunobiangulo/orgatlas"
	"github.com/brunobiangulo/orgatlas/llm"
	"github.com/brunobiangulo/orgatlas/store"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	docs       map[string]*orgatlas.Document
	extractErr error

	gotProvider orgatlas.ProviderConfig
	gotFile     string
	gotFileBody string
	gotK        int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{docs: map[string]*orgatlas.Document{
		"d1": {ID: "d1", ProjectID: "p1", Filename: "plan.md", Content: "# Plan", Status: store.StatusUploaded},
	}}
}

func (f *fakeEngine) CreateProject(_ context.Context, name string) (*orgatlas.Project, error) {
	return &orgatlas.Project{ID: "p-" + name, Name: name}, nil
}

func (f *fakeEngine) ListProjects(context.Context) ([]orgatlas.Project, error) {
	return []orgatlas.Project{{ID: "p1", Name: "Acme"}}, nil
}

func (f *fakeEngine) AddDocument(_ context.Context, projectID, filename, content string) (*orgatlas.Document, error) {
	if projectID != "p1" {
		return nil, fmt.Errorf("%w: %s", orgatlas.ErrProjectNotFound, projectID)
	}
	return &orgatlas.Document{ID: "d2", ProjectID: projectID, Filename: filename, Content: content}, nil
}

func (f *fakeEngine) AddDocumentFile(_ context.Context, projectID, path string) (*orgatlas.Document, error) {
	f.gotFile = filepath.Base(path)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.gotFileBody = string(b)
	if strings.HasSuffix(path, ".pptx") {
		return nil, fmt.Errorf("%w: pptx", orgatlas.ErrUnsupportedFormat)
	}
	return &orgatlas.Document{ID: "d3", ProjectID: projectID, Filename: f.gotFile}, nil
}

func (f *fakeEngine) GetDocument(_ context.Context, id string) (*orgatlas.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orgatlas.ErrDocumentNotFound, id)
	}
	return d, nil
}

func (f *fakeEngine) ListDocuments(context.Context, string) ([]orgatlas.Document, error) {
	return []orgatlas.Document{{ID: "d1"}}, nil
}

func (f *fakeEngine) Extract(_ context.Context, id string, pc orgatlas.ProviderConfig) (*orgatlas.ExtractionSummary, error) {
	f.gotProvider = pc
	if err := llm.ValidateConfig(llm.Config{Kind: pc.Kind, APIKey: pc.APIKey}); err != nil {
		return nil, err
	}
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	if _, ok := f.docs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", orgatlas.ErrDocumentNotFound, id)
	}
	return &orgatlas.ExtractionSummary{DocumentID: id, Chunks: 1, Entities: 4}, nil
}

func (f *fakeEngine) ListTerritories(_ context.Context, projectID string) (*orgatlas.TerritoryView, error) {
	if projectID != "p1" {
		return nil, fmt.Errorf("%w: %s", orgatlas.ErrProjectNotFound, projectID)
	}
	return &orgatlas.TerritoryView{}, nil
}

func (f *fakeEngine) ListAgents(context.Context, string) (*orgatlas.AgentView, error) {
	return &orgatlas.AgentView{}, nil
}

func (f *fakeEngine) ListEntities(context.Context, string) ([]orgatlas.Entity, error) {
	return []orgatlas.Entity{{ID: "e1", Name: "Acme", Type: "Organization"}}, nil
}

func (f *fakeEngine) SimilarEntities(_ context.Context, _, _ string, k int) ([]orgatlas.EntityMatch, error) {
	f.gotK = k
	return nil, orgatlas.ErrEmbeddingUnavailable
}

func (f *fakeEngine) DeleteDocument(_ context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return fmt.Errorf("%w: %s", orgatlas.ErrDocumentNotFound, id)
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeEngine) DocumentEntities(ctx context.Context, id string) ([]orgatlas.Entity, error) {
	if _, err := f.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return []orgatlas.Entity{{ID: "e1", DocumentID: id}}, nil
}

func (f *fakeEngine) Graph(_ context.Context, projectID string) (*orgatlas.GraphView, error) {
	if projectID != "p1" {
		return nil, fmt.Errorf("%w: %s", orgatlas.ErrProjectNotFound, projectID)
	}
	return &orgatlas.GraphView{Stats: orgatlas.Stats{Entities: 1}}, nil
}

func (f *fakeEngine) ReviewEntity(_ context.Context, id, status string) (*orgatlas.Entity, error) {
	switch {
	case status != store.ReviewApproved && status != store.ReviewRejected && status != store.ReviewPending:
		return nil, fmt.Errorf("%w: %q", orgatlas.ErrInvalidReviewStatus, status)
	case id != "e1":
		return nil, fmt.Errorf("%w: %s", orgatlas.ErrEntityNotFound, id)
	}
	return &orgatlas.Entity{ID: id, ReviewStatus: status}, nil
}

func (f *fakeEngine) Store() *store.Store { return nil }
func (f *fakeEngine) Close() error        { return nil }

func testServer(t *testing.T, f *fakeEngine) http.Handler {
	t.Helper()
	cfg := orgatlas.DefaultConfig()
	return newServer(f, cfg, prometheus.NewRegistry(), "", "")
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", "GET", "/health", "", http.StatusOK},
		{"metrics", "GET", "/metrics", "", http.StatusOK},
		{"create project", "POST", "/projects", `{"name":"Acme"}`, http.StatusCreated},
		{"create project blank", "POST", "/projects", `{"name":"  "}`, http.StatusBadRequest},
		{"create project bad json", "POST", "/projects", `{`, http.StatusBadRequest},
		{"list projects", "GET", "/projects", "", http.StatusOK},
		{"add document json", "POST", "/projects/p1/documents", `{"filename":"a.md","content":"# A"}`, http.StatusCreated},
		{"add document no filename", "POST", "/projects/p1/documents", `{"content":"x"}`, http.StatusBadRequest},
		{"add document unknown project", "POST", "/projects/zz/documents", `{"filename":"a.md","content":"x"}`, http.StatusNotFound},
		{"list documents", "GET", "/projects/p1/documents", "", http.StatusOK},
		{"get document", "GET", "/documents/d1", "", http.StatusOK},
		{"get document missing", "GET", "/documents/nope", "", http.StatusNotFound},
		{"territories", "GET", "/projects/p1/territories", "", http.StatusOK},
		{"territories unknown project", "GET", "/projects/zz/territories", "", http.StatusNotFound},
		{"agents", "GET", "/projects/p1/agents", "", http.StatusOK},
		{"entities", "GET", "/projects/p1/entities", "", http.StatusOK},
		{"similar without query", "GET", "/projects/p1/entities/similar", "", http.StatusBadRequest},
		{"similar bad k", "GET", "/projects/p1/entities/similar?q=x&k=0", "", http.StatusBadRequest},
		{"similar without embeddings", "GET", "/projects/p1/entities/similar?q=x", "", http.StatusNotImplemented},
		{"graph", "GET", "/projects/p1/graph", "", http.StatusOK},
		{"graph unknown project", "GET", "/projects/zz/graph", "", http.StatusNotFound},
		{"delete document", "DELETE", "/documents/d1", "", http.StatusOK},
		{"delete document missing", "DELETE", "/documents/nope", "", http.StatusNotFound},
		{"document entities", "GET", "/documents/d1/entities", "", http.StatusOK},
		{"document entities missing", "GET", "/documents/nope/entities", "", http.StatusNotFound},
		{"review", "POST", "/entities/e1/review", `{"status":"approved"}`, http.StatusOK},
		{"review bad status", "POST", "/entities/e1/review", `{"status":"maybe"}`, http.StatusBadRequest},
		{"review missing entity", "POST", "/entities/e9/review", `{"status":"rejected"}`, http.StatusNotFound},
		{"wrong method", "DELETE", "/projects", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(testServer(t, newFakeEngine()), tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (body %s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestExtractUsesDefaultProvider(t *testing.T) {
	f := newFakeEngine()
	w := do(testServer(t, f), "POST", "/documents/d1/extract", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if f.gotProvider.Kind != llm.KindLocal {
		t.Errorf("provider kind = %q, want the configured default", f.gotProvider.Kind)
	}

	var sum orgatlas.ExtractionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	want := orgatlas.ExtractionSummary{DocumentID: "d1", Chunks: 1, Entities: 4}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		failure error
		want    int
	}{
		{"unknown provider kind", "/documents/d1/extract", `{"kind":"bogus"}`, nil, http.StatusBadRequest},
		{"hosted without key", "/documents/d1/extract", `{"kind":"hosted"}`, nil, http.StatusBadRequest},
		{"missing document", "/documents/nope/extract", "", nil, http.StatusNotFound},
		{"empty document", "/documents/d1/extract", "", fmt.Errorf("%w: d1", orgatlas.ErrEmptyDocument), http.StatusUnprocessableEntity},
		{"pass failed", "/documents/d1/extract", "", fmt.Errorf("%w: chunk 2 of 3: boom", orgatlas.ErrExtractionFailed), http.StatusBadGateway},
		{"other", "/documents/d1/extract", "", fmt.Errorf("disk full"), http.StatusInternalServerError},
		{"bad json", "/documents/d1/extract", `{`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeEngine()
			f.extractErr = tt.failure
			w := do(testServer(t, f), "POST", tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %q", w.Body.String())
			}
		})
	}
}

func TestExtractBodyOverridesProvider(t *testing.T) {
	f := newFakeEngine()
	w := do(testServer(t, f), "POST", "/documents/d1/extract", `{"kind":"hosted","api_key":"k","model_name":"m"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	want := orgatlas.ProviderConfig{Kind: "hosted", APIKey: "k", ModelName: "m"}
	if diff := cmp.Diff(want, f.gotProvider); diff != "" {
		t.Errorf("provider mismatch (-want +got):\n%s", diff)
	}
}

func upload(t *testing.T, h http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	r := httptest.NewRequest("POST", "/projects/p1/documents", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAddDocumentUpload(t *testing.T) {
	f := newFakeEngine()
	w := upload(t, testServer(t, f), "../../etc/notes.md", "# Notes")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if f.gotFile != "notes.md" {
		t.Errorf("stored file name = %q, want path stripped", f.gotFile)
	}
	if f.gotFileBody != "# Notes" {
		t.Errorf("file body = %q", f.gotFileBody)
	}
}

func TestAddDocumentUploadUnsupported(t *testing.T) {
	w := upload(t, testServer(t, newFakeEngine()), "deck.pptx", "x")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", w.Code)
	}
}

func TestSimilarPassesK(t *testing.T) {
	f := newFakeEngine()
	do(testServer(t, f), "GET", "/projects/p1/entities/similar?q=budget&k=3", "")
	if f.gotK != 3 {
		t.Errorf("k = %d, want 3", f.gotK)
	}
}
