// Package service contains phpinline's business logic.
//
// EvaluationService is the single place that turns "run this text" into an
// Outcome: it materializes the script, invokes the configured Executor,
// maps the raw result, and records history and metrics. Every host surface
// (language server, watch CLI, HTTP API) goes through it, so they all behave
// the same way.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/executor"
	"github.com/sakif/phpinline/internal/metrics"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/repository"
)

const (
	// MaxSourceLength caps what is written to a scratch file.
	MaxSourceLength  = 1 << 20
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// EmptySelectionMessage is shown when block mode has nothing to run.
const EmptySelectionMessage = "Please select some PHP code to run."

// Settings supplies the configuration snapshot read at the start of each run.
type Settings interface {
	Snapshot() config.Config
}

// LiveRequest asks for the current buffer of a document to be evaluated.
type LiveRequest struct {
	DocumentURI string
	// Path is the document's file on disk, if it has one.
	Path string
	// Saved reports that the buffer matches the file at Path.
	Saved  bool
	Source string
	Line   int
}

// BlockRequest asks for an explicit selection to be evaluated.
type BlockRequest struct {
	DocumentURI string
	Selection   string
	// Line is where the annotation goes, normally the selection's last line.
	Line int
}

// Option customises an EvaluationService.
type Option func(*EvaluationService)

// WithHistory records every evaluation in repo.
func WithHistory(repo repository.EvaluationRepository) Option {
	return func(s *EvaluationService) { s.repo = repo }
}

// WithMetrics reports every evaluation to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *EvaluationService) { s.metrics = m }
}

// EvaluationService runs live and block evaluations.
type EvaluationService struct {
	exec     executor.Executor
	scratch  *executor.Scratch
	settings Settings
	repo     repository.EvaluationRepository
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEvaluationService wires the service. History and metrics are optional.
func NewEvaluationService(exec executor.Executor, scratch *executor.Scratch, settings Settings, logger *slog.Logger, opts ...Option) *EvaluationService {
	s := &EvaluationService{
		exec:     exec,
		scratch:  scratch,
		settings: settings,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Live evaluates a document. A saved file on disk is run in place; anything
// else is wrapped in script tags and run from a scratch file that is removed
// afterwards.
func (s *EvaluationService) Live(ctx context.Context, req LiveRequest) (*model.Outcome, error) {
	cfg := s.settings.Snapshot()

	if req.Saved && isRegularFile(req.Path) {
		return s.run(ctx, cfg, model.ModeLive, req.DocumentURI, req.Line, req.Path, ""), nil
	}

	if len(req.Source) > MaxSourceLength {
		return nil, apperror.ValidationFailed("source",
			fmt.Sprintf("source must be %d bytes or less", MaxSourceLength))
	}

	path, cleanup, err := s.scratch.Write("live", executor.Wrap(req.Source))
	if err != nil {
		s.logger.Error("failed to prepare live script", slog.String("error", err.Error()))
		return nil, fmt.Errorf("preparing live script: %w", err)
	}
	defer cleanup()

	return s.run(ctx, cfg, model.ModeLive, req.DocumentURI, req.Line, path, executor.BufferLabel), nil
}

// Block evaluates a selection verbatim. An empty or whitespace-only
// selection is rejected before anything touches the filesystem.
func (s *EvaluationService) Block(ctx context.Context, req BlockRequest) (*model.Outcome, error) {
	if err := ValidateSelection(req.Selection); err != nil {
		return nil, err
	}

	cfg := s.settings.Snapshot()

	path, cleanup, err := s.scratch.Write("block", req.Selection)
	if err != nil {
		s.logger.Error("failed to prepare block script", slog.String("error", err.Error()))
		return nil, fmt.Errorf("preparing block script: %w", err)
	}
	defer cleanup()

	return s.run(ctx, cfg, model.ModeBlock, req.DocumentURI, req.Line, path, executor.SelectionLabel), nil
}

// ValidateSelection rejects block selections that Block would refuse: empty
// or whitespace-only, or longer than MaxSourceLength.
func ValidateSelection(selection string) error {
	if strings.TrimSpace(selection) == "" {
		return apperror.ValidationFailed("selection", EmptySelectionMessage)
	}
	if len(selection) > MaxSourceLength {
		return apperror.ValidationFailed("selection",
			fmt.Sprintf("selection must be %d bytes or less", MaxSourceLength))
	}
	return nil
}

// run executes one script and never fails: backend errors become failure
// outcomes so every surface can render them like interpreter errors.
func (s *EvaluationService) run(ctx context.Context, cfg config.Config, mode model.Mode, uri string, line int, scriptPath, label string) *model.Outcome {
	outcome := &model.Outcome{Mode: mode, Line: line}

	res, err := s.exec.Execute(ctx, executor.ExecutionRequest{
		ScriptPath: scriptPath,
		Timeout:    cfg.Timeout(),
	})
	if err != nil {
		s.logger.Error("executor failed",
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()),
		)
		outcome.Text = executor.FailurePrefix + err.Error()
		if label != "" {
			outcome.Text = strings.ReplaceAll(outcome.Text, scriptPath, label)
		}
		outcome.Failed = true
	} else {
		outcome.Text, outcome.Failed = executor.Interpret(res, scriptPath, label)
		outcome.Duration = res.Duration
	}

	s.logger.Debug("evaluation finished",
		slog.String("mode", string(mode)),
		slog.String("uri", uri),
		slog.Int("line", line),
		slog.Bool("failed", outcome.Failed),
		slog.Duration("duration", outcome.Duration),
	)

	if s.metrics != nil {
		s.metrics.ObserveEvaluation(mode, outcome.Failed, outcome.Duration)
	}
	s.record(ctx, uri, outcome)

	return outcome
}

// record stores the outcome in history. Failures are logged only: history is
// a convenience and must never block an annotation.
func (s *EvaluationService) record(ctx context.Context, uri string, o *model.Outcome) {
	if s.repo == nil {
		return
	}
	e := &model.Evaluation{
		DocumentURI: uri,
		Line:        o.Line,
		Mode:        o.Mode,
		Output:      o.Text,
		Failed:      o.Failed,
		Duration:    o.Duration,
	}
	if err := s.repo.Create(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to record evaluation", slog.String("error", err.Error()))
	}
}

// List returns recorded evaluations, newest first.
func (s *EvaluationService) List(ctx context.Context, uri string, limit, offset int) ([]model.Evaluation, error) {
	if s.repo == nil {
		return nil, apperror.Unavailable("history store")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	evaluations, err := s.repo.List(ctx, repository.ListOptions{
		Limit:       limit,
		Offset:      offset,
		DocumentURI: strings.TrimSpace(uri),
	})
	if err != nil {
		s.logger.Error("failed to list evaluations", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing evaluations: %w", err)
	}
	return evaluations, nil
}

// GetByID returns one recorded evaluation.
func (s *EvaluationService) GetByID(ctx context.Context, id string) (*model.Evaluation, error) {
	if s.repo == nil {
		return nil, apperror.Unavailable("history store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "evaluation ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

// Delete removes one recorded evaluation.
func (s *EvaluationService) Delete(ctx context.Context, id string) error {
	if s.repo == nil {
		return apperror.Unavailable("history store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "evaluation ID is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("evaluation deleted", slog.String("id", id))
	return nil
}

// Prune drops history older than age.
func (s *EvaluationService) Prune(ctx context.Context, age time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, apperror.Unavailable("history store")
	}
	if age <= 0 {
		return 0, apperror.ValidationFailed("age", "prune age must be positive")
	}
	n, err := s.repo.Prune(ctx, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("pruning evaluations: %w", err)
	}
	s.logger.Info("evaluations pruned", slog.Int64("count", n))
	return n, nil
}

func isRegularFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
