package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/model"
)

// History reads and deletes recorded evaluations.
type History interface {
	List(ctx context.Context, uri string, limit, offset int) ([]model.Evaluation, error)
	GetByID(ctx context.Context, id string) (*model.Evaluation, error)
	Delete(ctx context.Context, id string) error
}

// HistoryHandler exposes evaluation history.
type HistoryHandler struct {
	history History
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history History, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

// HandleList returns recorded evaluations, newest first.
//
// HTTP: GET /api/evaluations?uri=file:///app/index.php&limit=20&offset=0
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	evaluations, err := h.history.List(r.Context(), q.Get("uri"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluations)
}

// HandleGetByID returns one evaluation.
//
// HTTP: GET /api/evaluations/{id}
func (h *HistoryHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	evaluation, err := h.history.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluation)
}

// HandleDelete removes one evaluation.
//
// HTTP: DELETE /api/evaluations/{id}
func (h *HistoryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// queryInt parses an optional integer query parameter; empty means 0.
func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(field, field+" must be an integer")
	}
	return n, nil
}
