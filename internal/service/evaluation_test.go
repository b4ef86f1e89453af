package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/executor"
	"github.com/sakif/phpinline/internal/metrics"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/repository"
)

// =========================================================================
// FAKE EXECUTOR
// =========================================================================
//
// fakeExecutor captures what the service asked it to run, including the
// script's contents at execution time (scratch files are gone afterwards),
// and answers with a canned result.

type fakeExecutor struct {
	mu       sync.Mutex
	requests []executor.ExecutionRequest
	scripts  []string
	result   func(path string) *executor.ExecutionResult
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := os.ReadFile(req.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("fake: reading script: %w", err)
	}
	f.requests = append(f.requests, req)
	f.scripts = append(f.scripts, string(content))

	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result(req.ScriptPath), nil
	}
	return &executor.ExecutionResult{Stdout: "ok\n", Duration: 12 * time.Millisecond}, nil
}

func (f *fakeExecutor) lastRequest(t *testing.T) (executor.ExecutionRequest, string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "executor was never called")
	return f.requests[len(f.requests)-1], f.scripts[len(f.scripts)-1]
}

// =========================================================================
// MOCK REPOSITORY
// =========================================================================

type mockEvaluationRepo struct {
	mu          sync.Mutex
	evaluations map[string]*model.Evaluation
	nextID      int
	createErr   error
}

func newMockRepo() *mockEvaluationRepo {
	return &mockEvaluationRepo{evaluations: make(map[string]*model.Evaluation)}
}

func (m *mockEvaluationRepo) Create(_ context.Context, e *model.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	e.ID = fmt.Sprintf("mock-%d", m.nextID)
	e.CreatedAt = time.Now()
	stored := *e
	m.evaluations[e.ID] = &stored
	return nil
}

func (m *mockEvaluationRepo) GetByID(_ context.Context, id string) (*model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.evaluations[id]
	if !ok {
		return nil, apperror.NotFound("evaluation", id)
	}
	result := *e
	return &result, nil
}

func (m *mockEvaluationRepo) List(_ context.Context, opts repository.ListOptions) ([]model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]model.Evaluation, 0, len(m.evaluations))
	for _, e := range m.evaluations {
		if opts.DocumentURI != "" && e.DocumentURI != opts.DocumentURI {
			continue
		}
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })

	if opts.Offset >= len(result) {
		return []model.Evaluation{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *mockEvaluationRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evaluations[id]; !ok {
		return apperror.NotFound("evaluation", id)
	}
	delete(m.evaluations, id)
	return nil
}

func (m *mockEvaluationRepo) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.evaluations {
		if e.CreatedAt.Before(cutoff) {
			delete(m.evaluations, id)
			n++
		}
	}
	return n, nil
}

func (m *mockEvaluationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.evaluations)
}

// =========================================================================
// TEST HELPER
// =========================================================================

type testEnv struct {
	svc     *EvaluationService
	exec    *fakeExecutor
	repo    *mockEvaluationRepo
	metrics *metrics.Metrics
	store   *config.Store
	scratch string
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	cfg.ExecutionTimeout = 3000
	store := config.NewStore(cfg)

	env := &testEnv{
		exec:    &fakeExecutor{},
		repo:    newMockRepo(),
		metrics: metrics.New(),
		store:   store,
		scratch: t.TempDir(),
	}
	env.svc = NewEvaluationService(env.exec, executor.NewScratch(env.scratch, logger), store, logger,
		WithHistory(env.repo), WithMetrics(env.metrics))
	return env
}

func scratchFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// =========================================================================
// LIVE TESTS
// =========================================================================

func TestLive_UnsavedBufferIsWrapped(t *testing.T) {
	env := newTestService(t)

	outcome, err := env.svc.Live(context.Background(), LiveRequest{
		DocumentURI: "untitled:1",
		Source:      "echo 1;",
		Line:        0,
	})
	require.NoError(t, err)

	req, script := env.exec.lastRequest(t)
	assert.Equal(t, "<?php\necho 1;\n?>", script)
	assert.Equal(t, 3*time.Second, req.Timeout)
	assert.Equal(t, env.scratch, filepath.Dir(req.ScriptPath))

	assert.Equal(t, model.ModeLive, outcome.Mode)
	assert.Equal(t, "ok", outcome.Text)
	assert.False(t, outcome.Failed)
	assert.Equal(t, 12*time.Millisecond, outcome.Duration)
}

func TestLive_ScratchFileRemoved(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	assert.Empty(t, scratchFiles(t, env.scratch))
}

func TestLive_SavedFileRunsInPlace(t *testing.T) {
	env := newTestService(t)

	path := filepath.Join(t.TempDir(), "index.php")
	require.NoError(t, os.WriteFile(path, []byte("<?php echo 'disk';"), 0o644))

	_, err := env.svc.Live(context.Background(), LiveRequest{
		DocumentURI: "file://" + path,
		Path:        path,
		Saved:       true,
		Source:      "echo 'buffer';",
	})
	require.NoError(t, err)

	req, script := env.exec.lastRequest(t)
	assert.Equal(t, path, req.ScriptPath)
	assert.Equal(t, "<?php echo 'disk';", script)
}

func TestLive_DirtyOrMissingFileUsesBuffer(t *testing.T) {
	tests := []struct {
		name  string
		saved bool
		path  func(t *testing.T) string
	}{
		{
			name:  "dirty buffer",
			saved: false,
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "a.php")
				require.NoError(t, os.WriteFile(p, []byte("<?php echo 'disk';"), 0o644))
				return p
			},
		},
		{
			name:  "saved but deleted",
			saved: true,
			path:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.php") },
		},
		{
			name:  "path is a directory",
			saved: true,
			path:  func(t *testing.T) string { return t.TempDir() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestService(t)
			_, err := env.svc.Live(context.Background(), LiveRequest{
				Path:   tt.path(t),
				Saved:  tt.saved,
				Source: "echo 'buffer';",
			})
			require.NoError(t, err)

			_, script := env.exec.lastRequest(t)
			assert.Equal(t, "<?php\necho 'buffer';\n?>", script)
		})
	}
}

func TestLive_FailureHidesScratchPath(t *testing.T) {
	env := newTestService(t)
	env.exec.result = func(path string) *executor.ExecutionResult {
		return &executor.ExecutionResult{
			Stderr:   "PHP Parse error: syntax error in " + path + " on line 2\n",
			ExitCode: 255,
		}
	}

	outcome, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo (;", Line: 4})
	require.NoError(t, err)

	assert.True(t, outcome.Failed)
	assert.Equal(t, "Error: PHP Parse error: syntax error in [buffer] on line 2", outcome.Text)
	assert.Equal(t, 4, outcome.Line)
}

func TestLive_ExecutorErrorBecomesFailure(t *testing.T) {
	env := newTestService(t)
	env.exec.err = errors.New("docker daemon unreachable")

	outcome, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	assert.True(t, outcome.Failed)
	assert.Equal(t, "Error: docker daemon unreachable", outcome.Text)
}

func TestLive_SourceTooLong(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Live(context.Background(), LiveRequest{Source: strings.Repeat("a", MaxSourceLength+1)})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestLive_ScratchUnwritable(t *testing.T) {
	env := newTestService(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewEvaluationService(env.exec, executor.NewScratch(filepath.Join(blocker, "sub"), logger), env.store, logger)

	_, err := svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	assert.Error(t, err)
}

// =========================================================================
// BLOCK TESTS
// =========================================================================

func TestBlock_SelectionIsVerbatim(t *testing.T) {
	env := newTestService(t)

	outcome, err := env.svc.Block(context.Background(), BlockRequest{
		DocumentURI: "file:///tmp/a.php",
		Selection:   "<?php echo 2+2;",
		Line:        9,
	})
	require.NoError(t, err)

	_, script := env.exec.lastRequest(t)
	assert.Equal(t, "<?php echo 2+2;", script)
	assert.Equal(t, model.ModeBlock, outcome.Mode)
	assert.Equal(t, 9, outcome.Line)
	assert.Empty(t, scratchFiles(t, env.scratch))
}

func TestBlock_EmptySelection(t *testing.T) {
	tests := []struct {
		name      string
		selection string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"newlines", "\n\t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestService(t)

			_, err := env.svc.Block(context.Background(), BlockRequest{Selection: tt.selection})
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, EmptySelectionMessage, appErr.Message)

			assert.Empty(t, env.exec.requests)
			assert.Empty(t, scratchFiles(t, env.scratch))
		})
	}
}

func TestBlock_FailureUsesSelectionLabel(t *testing.T) {
	env := newTestService(t)
	env.exec.result = func(path string) *executor.ExecutionResult {
		return &executor.ExecutionResult{Stderr: "Warning in " + path, ExitCode: 0}
	}

	outcome, err := env.svc.Block(context.Background(), BlockRequest{Selection: "<?php warn();"})
	require.NoError(t, err)

	assert.True(t, outcome.Failed)
	assert.Equal(t, "Error: Warning in [selection]", outcome.Text)
}

// =========================================================================
// HISTORY AND METRICS
// =========================================================================

func TestRun_RecordsHistory(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Live(context.Background(), LiveRequest{DocumentURI: "file:///a.php", Source: "echo 1;", Line: 2})
	require.NoError(t, err)
	_, err = env.svc.Block(context.Background(), BlockRequest{DocumentURI: "file:///b.php", Selection: "<?php echo 2;"})
	require.NoError(t, err)

	all, err := env.svc.List(context.Background(), "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := env.svc.List(context.Background(), "file:///a.php", 0, 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, model.ModeLive, onlyA[0].Mode)
	assert.Equal(t, 2, onlyA[0].Line)
	assert.Equal(t, "ok", onlyA[0].Output)
}

func TestRun_HistoryFailureDoesNotFailEvaluation(t *testing.T) {
	env := newTestService(t)
	env.repo.createErr = errors.New("disk full")

	outcome, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.Text)
	assert.Equal(t, 0, env.repo.count())
}

func TestRun_ObservesMetrics(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	env.exec.result = func(string) *executor.ExecutionResult {
		return &executor.ExecutionResult{Stderr: "boom", ExitCode: 1}
	}
	_, err = env.svc.Block(context.Background(), BlockRequest{Selection: "x"})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(env.metrics.Registry(), "phpinline_evaluations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWithoutHistory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewEvaluationService(&fakeExecutor{}, executor.NewScratch(t.TempDir(), logger),
		config.NewStore(config.Default()), logger)

	_, err := svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	_, err = svc.List(context.Background(), "", 0, 0)
	assert.ErrorIs(t, err, apperror.ErrUnavailable)
	_, err = svc.GetByID(context.Background(), "x")
	assert.ErrorIs(t, err, apperror.ErrUnavailable)
	assert.ErrorIs(t, svc.Delete(context.Background(), "x"), apperror.ErrUnavailable)
	_, err = svc.Prune(context.Background(), time.Hour)
	assert.ErrorIs(t, err, apperror.ErrUnavailable)
}

func TestGetByID(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	found, err := env.svc.GetByID(context.Background(), "mock-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", found.Output)

	_, err = env.svc.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.svc.GetByID(context.Background(), "  ")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestDelete(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(context.Background(), "mock-1"))
	assert.ErrorIs(t, env.svc.Delete(context.Background(), "mock-1"), apperror.ErrNotFound)
	assert.ErrorIs(t, env.svc.Delete(context.Background(), ""), apperror.ErrValidation)
}

func TestList_ClampsBadValues(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.List(context.Background(), "", -5, -10)
	assert.NoError(t, err)
}

func TestPrune(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.Live(context.Background(), LiveRequest{Source: "echo 1;"})
	require.NoError(t, err)

	n, err := env.svc.Prune(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	time.Sleep(5 * time.Millisecond)
	n, err = env.svc.Prune(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.svc.Prune(context.Background(), 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
