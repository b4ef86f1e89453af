package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/phpinline/internal/annotation"
	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/auth"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/service"
)

// maxBodyBytes leaves room for JSON escaping around the largest accepted source.
const maxBodyBytes = 4 * service.MaxSourceLength

// Evaluator runs evaluations. *service.EvaluationService satisfies it.
type Evaluator interface {
	Live(ctx context.Context, req service.LiveRequest) (*model.Outcome, error)
	Block(ctx context.Context, req service.BlockRequest) (*model.Outcome, error)
}

// EvaluateHandler serves one-off live and block evaluations over HTTP, for
// editors that talk to a long-running server instead of spawning the
// language server.
type EvaluateHandler struct {
	eval   Evaluator
	color  func() string
	logger *slog.Logger
}

// NewEvaluateHandler creates an EvaluateHandler. color returns the current
// success color.
func NewEvaluateHandler(eval Evaluator, color func() string, logger *slog.Logger) *EvaluateHandler {
	return &EvaluateHandler{eval: eval, color: color, logger: logger}
}

// LiveRequest is the body of POST /api/evaluate. There is no file path:
// over HTTP only the submitted source is ever run, from a scratch file.
type LiveRequest struct {
	URI    string `json:"uri"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// BlockRequest is the body of POST /api/evaluate/block.
type BlockRequest struct {
	URI       string `json:"uri"`
	Selection string `json:"selection"`
	Line      int    `json:"line"`
}

// EvaluateResponse carries the outcome and, unless the output was empty, the
// annotation to render. An empty Annotation means "clear".
type EvaluateResponse struct {
	Mode       model.Mode `json:"mode"`
	Line       int        `json:"line"`
	Output     string     `json:"output"`
	Failed     bool       `json:"failed"`
	DurationMS int64      `json:"durationMs"`
	Annotation string     `json:"annotation"`
	Color      string     `json:"color,omitempty"`
}

// HandleLive evaluates a buffer.
//
// HTTP: POST /api/evaluate
// REQUEST BODY: {"uri":"file:///app/index.php","source":"<?php echo 1;","line":0}
func (h *EvaluateHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	var req LiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Line < 0 {
		writeError(w, apperror.ValidationFailed("line", "line must be >= 0"))
		return
	}

	outcome, err := h.eval.Live(r.Context(), service.LiveRequest{
		DocumentURI: req.URI,
		Source:      req.Source,
		Line:        req.Line,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.respond(w, r, outcome)
}

// HandleBlock evaluates a selection. An empty selection is a 400.
//
// HTTP: POST /api/evaluate/block
// REQUEST BODY: {"uri":"file:///app/index.php","selection":"<?php echo 1;","line":3}
func (h *EvaluateHandler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Line < 0 {
		writeError(w, apperror.ValidationFailed("line", "line must be >= 0"))
		return
	}

	outcome, err := h.eval.Block(r.Context(), service.BlockRequest{
		DocumentURI: req.URI,
		Selection:   req.Selection,
		Line:        req.Line,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.respond(w, r, outcome)
}

func (h *EvaluateHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("invalid evaluation request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return false
	}
	return true
}

func (h *EvaluateHandler) respond(w http.ResponseWriter, r *http.Request, o *model.Outcome) {
	resp := EvaluateResponse{
		Mode:       o.Mode,
		Line:       o.Line,
		Output:     o.Text,
		Failed:     o.Failed,
		DurationMS: o.Duration.Milliseconds(),
	}
	if ann, ok := annotation.FromOutcome(*o, h.color()); ok {
		resp.Annotation = ann.Content()
		resp.Color = ann.Color
	}

	caller, _ := auth.SubjectFromContext(r.Context())
	h.logger.Info("evaluation served",
		slog.String("mode", string(o.Mode)),
		slog.Bool("failed", o.Failed),
		slog.String("caller", caller),
	)

	writeJSON(w, http.StatusOK, resp)
}
