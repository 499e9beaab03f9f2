// Package httpapi exposes the document and configuration APIs over HTTP.
// Engine-specific errors never reach this layer; handlers translate the
// shared sentinel taxonomy into status codes and JSON bodies.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/logging"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
	"github.com/drawbridge-dev/drawbridge/internal/storage/catalog"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler wires the document store (through the connection manager) and the
// configuration catalog into HTTP endpoints.
type Handler struct {
	manager *storage.Manager
	catalog *catalog.Catalog
	logger  logging.Logger
}

// New creates a handler.
func New(manager *storage.Manager, cat *catalog.Catalog, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Handler{manager: manager, catalog: cat, logger: logger}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/api/health").HandlerFunc(h.health)

	r.Methods(http.MethodPost).Path("/api/documents").HandlerFunc(h.createDocument)
	r.Methods(http.MethodGet).Path("/api/documents").HandlerFunc(h.listDocuments)
	r.Methods(http.MethodGet).Path("/api/documents/{id}").HandlerFunc(h.getDocument)
	r.Methods(http.MethodPut).Path("/api/documents/{id}").HandlerFunc(h.updateDocument)
	r.Methods(http.MethodDelete).Path("/api/documents/{id}").HandlerFunc(h.deleteDocument)

	r.Methods(http.MethodGet).Path("/api/configs").HandlerFunc(h.listConfigs)
	r.Methods(http.MethodGet).Path("/api/configs/{engine}").HandlerFunc(h.configsByEngine)
	r.Methods(http.MethodPost).Path("/api/configs").HandlerFunc(h.saveConfig)
	r.Methods(http.MethodDelete).Path("/api/configs/{id}").HandlerFunc(h.deleteConfig)
	r.Methods(http.MethodPost).Path("/api/configs/test").HandlerFunc(h.testConfig)
	r.Methods(http.MethodPost).Path("/api/configs/apply").HandlerFunc(h.applyConfig)
}

// documentRequest is the body of create/update calls. Content is opaque;
// it is persisted byte-for-byte and never parsed.
type documentRequest struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	EngineTag string `json:"engineTag"`
	Content   string `json:"content"`
}

// health is never rate-limited and always answers.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "timestamp": time.Now().UTC()})
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}
	if req.Title == "" || req.Content == "" {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}

	store, err := h.manager.Store(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := store.Create(r.Context(), req.ID, req.Title, req.EngineTag, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	store, err := h.manager.Store(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}
	if req.Title == "" || req.Content == "" {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}

	store, err := h.manager.Store(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := store.Update(r.Context(), mux.Vars(r)["id"], req.Title, req.EngineTag, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	store, err := h.manager.Store(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, common.ErrInvalidInput)
			return
		}
		limit = min(n, maxListLimit)
	}

	store, err := h.manager.Store(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summaries, err := store.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []storage.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.catalog.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redactAll(configs))
}

func (h *Handler) configsByEngine(w http.ResponseWriter, r *http.Request) {
	engine := storage.Engine(mux.Vars(r)["engine"])
	if !engine.Valid() {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}

	configs, err := h.catalog.GetByEngine(r.Context(), engine)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redactAll(configs))
}

func (h *Handler) saveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg storage.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}

	id, err := h.catalog.Save(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testConfig(w http.ResponseWriter, r *http.Request) {
	var cfg storage.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}

	ok, msg := h.manager.Test(r.Context(), cfg)
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
}

// applyRequest wraps a config with the apply-time default flag.
type applyRequest struct {
	storage.Config
	SetDefault bool `json:"setDefault"`
}

func (h *Handler) applyConfig(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, common.ErrInvalidInput)
		return
	}

	if err := h.manager.Connect(r.Context(), req.Config, req.SetDefault); err != nil {
		writeJSON(w, statusFor(err), map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "connected"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "url", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func redactAll(configs []storage.Config) []storage.Config {
	out := make([]storage.Config, 0, len(configs))
	for _, c := range configs {
		out = append(out, storage.RedactSecrets(c))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
