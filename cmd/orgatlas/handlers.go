package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/orgatlas"
	"github.com/brunobiangulo/orgatlas/llm"
)

type handler struct {
	engine          orgatlas.Engine
	defaultProvider orgatlas.ProviderConfig
}

func newHandler(e orgatlas.Engine, defaultProvider orgatlas.ProviderConfig) *handler {
	return &handler{engine: e, defaultProvider: defaultProvider}
}

func (h *handler) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /projects", h.handleCreateProject)
	mux.HandleFunc("GET /projects", h.handleListProjects)
	mux.HandleFunc("POST /projects/{id}/documents", h.handleAddDocument)
	mux.HandleFunc("GET /projects/{id}/documents", h.handleListDocuments)
	mux.HandleFunc("GET /projects/{id}/territories", h.handleTerritories)
	mux.HandleFunc("GET /projects/{id}/agents", h.handleAgents)
	mux.HandleFunc("GET /projects/{id}/entities", h.handleEntities)
	mux.HandleFunc("GET /projects/{id}/entities/similar", h.handleSimilar)
	mux.HandleFunc("GET /projects/{id}/graph", h.handleGraph)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("GET /documents/{id}/entities", h.handleDocumentEntities)
	mux.HandleFunc("POST /documents/{id}/extract", h.handleExtract)
	mux.HandleFunc("POST /entities/{id}/review", h.handleReview)
}

// POST /projects
func (h *handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := h.engine.CreateProject(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, "create project failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GET /projects
func (h *handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.engine.ListProjects(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// POST /projects/{id}/documents
// Accepts a multipart file upload or JSON with filename and text content.
func (h *handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpDir, err := os.MkdirTemp("", "orgatlas-upload-")
			if err != nil {
				h.fail(w, r, "failed to process file", err)
				return
			}
			defer os.RemoveAll(tmpDir)

			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				h.fail(w, r, "failed to process file", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				h.fail(w, r, "failed to save file", err)
				return
			}
			dst.Close()

			doc, err := h.engine.AddDocumentFile(r.Context(), projectID, tmpPath)
			if err != nil {
				h.fail(w, r, "adding document failed", err)
				return
			}
			writeJSON(w, http.StatusCreated, doc)
			return
		}
	}

	var req struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'filename' and 'content'")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	doc, err := h.engine.AddDocument(r.Context(), projectID, filepath.Base(req.Filename), req.Content)
	if err != nil {
		h.fail(w, r, "adding document failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GET /projects/{id}/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to load document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		h.fail(w, r, "delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "document_id": id})
}

// GET /documents/{id}/entities
func (h *handler) handleDocumentEntities(w http.ResponseWriter, r *http.Request) {
	ents, err := h.engine.DocumentEntities(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to list document entities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": ents})
}

// POST /documents/{id}/extract
// An empty body uses the server's configured provider.
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	pc := h.defaultProvider
	if r.ContentLength != 0 {
		var req orgatlas.ProviderConfig
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Kind != "" {
			pc = req
		}
	}

	sum, err := h.engine.Extract(ctx, r.PathValue("id"), pc)
	if err != nil {
		h.fail(w, r, "extraction failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GET /projects/{id}/territories
func (h *handler) handleTerritories(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.ListTerritories(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to list territories", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /projects/{id}/agents
func (h *handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.ListAgents(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to list agents", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /projects/{id}/entities
func (h *handler) handleEntities(w http.ResponseWriter, r *http.Request) {
	ents, err := h.engine.ListEntities(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": ents})
}

// GET /projects/{id}/entities/similar?q=...&k=...
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := 10
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "k must be between 1 and 100")
			return
		}
		k = n
	}

	matches, err := h.engine.SimilarEntities(r.Context(), r.PathValue("id"), q, k)
	if err != nil {
		h.fail(w, r, "similarity search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// GET /projects/{id}/graph
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Graph(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "failed to load graph", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// POST /entities/{id}/review
func (h *handler) handleReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ent, err := h.engine.ReviewEntity(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		h.fail(w, r, "review failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// fail logs err and writes the status that matches it.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error(msg, "request_id", requestID(r.Context()), "path", r.URL.Path, "error", err)
	} else {
		slog.Warn(msg, "request_id", requestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var ce *llm.ConfigError
	switch {
	case errors.As(err, &ce), errors.Is(err, orgatlas.ErrInvalidReviewStatus):
		return http.StatusBadRequest
	case errors.Is(err, orgatlas.ErrProjectNotFound),
		errors.Is(err, orgatlas.ErrDocumentNotFound),
		errors.Is(err, orgatlas.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, orgatlas.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orgatlas.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, orgatlas.ErrEmbeddingUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, orgatlas.ErrExtractionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
