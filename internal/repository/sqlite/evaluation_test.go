package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/repository"
)

// newTestDB opens a fresh in-memory database that is closed with the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestEvaluation(t *testing.T, db *DB, uri, output string) *model.Evaluation {
	t.Helper()
	e := &model.Evaluation{
		DocumentURI: uri,
		Line:        2,
		Mode:        model.ModeLive,
		Output:      output,
		Duration:    15 * time.Millisecond,
	}
	if err := db.Create(context.Background(), e); err != nil {
		t.Fatalf("failed to create test evaluation: %v", err)
	}
	return e
}

// =========================================================================
// CREATE / GET
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	e := &model.Evaluation{Mode: model.ModeBlock, Output: "42"}
	require.NoError(t, db.Create(context.Background(), e))

	assert.NotEmpty(t, e.ID, "Create() should assign an ID")
	assert.False(t, e.CreatedAt.IsZero(), "Create() should set CreatedAt")
}

func TestCreate_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	original := &model.Evaluation{
		DocumentURI: "file:///work/index.php",
		Line:        7,
		Mode:        model.ModeLive,
		Output:      "Error: PHP Warning:  Undefined variable $x",
		Failed:      true,
		Duration:    1234 * time.Microsecond,
	}
	require.NoError(t, db.Create(context.Background(), original))

	found, err := db.GetByID(context.Background(), original.ID)
	require.NoError(t, err)

	assert.Equal(t, original.ID, found.ID)
	assert.Equal(t, original.DocumentURI, found.DocumentURI)
	assert.Equal(t, 7, found.Line)
	assert.Equal(t, model.ModeLive, found.Mode)
	assert.Equal(t, original.Output, found.Output)
	assert.True(t, found.Failed)
	assert.Equal(t, 1234*time.Microsecond, found.Duration)
	assert.WithinDuration(t, original.CreatedAt, found.CreatedAt, time.Second)
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v, want ErrNotFound", err)
}

// =========================================================================
// LIST
// =========================================================================

func TestList_NewestFirst(t *testing.T) {
	db := newTestDB(t)

	first := createTestEvaluation(t, db, "file:///a.php", "first")
	second := createTestEvaluation(t, db, "file:///a.php", "second")

	list, err := db.List(context.Background(), repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestList_Empty(t *testing.T) {
	db := newTestDB(t)

	list, err := db.List(context.Background(), repository.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, list, "empty list should be [] not nil for JSON")
	assert.Empty(t, list)
}

func TestList_FilterByDocument(t *testing.T) {
	db := newTestDB(t)

	createTestEvaluation(t, db, "file:///a.php", "a1")
	createTestEvaluation(t, db, "file:///b.php", "b1")
	createTestEvaluation(t, db, "file:///a.php", "a2")

	list, err := db.List(context.Background(), repository.ListOptions{DocumentURI: "file:///a.php"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, e := range list {
		assert.Equal(t, "file:///a.php", e.DocumentURI)
	}
}

func TestList_Pagination(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 5; i++ {
		createTestEvaluation(t, db, "file:///p.php", fmt.Sprintf("out-%d", i))
	}

	tests := []struct {
		name      string
		opts      repository.ListOptions
		wantCount int
	}{
		{name: "default limit covers all", opts: repository.ListOptions{}, wantCount: 5},
		{name: "limit 2", opts: repository.ListOptions{Limit: 2}, wantCount: 2},
		{name: "offset past the end", opts: repository.ListOptions{Limit: 10, Offset: 10}, wantCount: 0},
		{name: "negative offset is clamped", opts: repository.ListOptions{Limit: 3, Offset: -4}, wantCount: 3},
		{name: "oversized limit is clamped", opts: repository.ListOptions{Limit: 1000}, wantCount: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := db.List(context.Background(), tt.opts)
			require.NoError(t, err)
			assert.Len(t, list, tt.wantCount)
		})
	}
}

// =========================================================================
// DELETE / PRUNE
// =========================================================================

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	e := createTestEvaluation(t, db, "file:///a.php", "x")

	require.NoError(t, db.Delete(context.Background(), e.ID))

	_, err := db.GetByID(context.Background(), e.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDelete_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.Delete(context.Background(), "nonexistent")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v, want ErrNotFound", err)
}

func TestPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := &model.Evaluation{Mode: model.ModeLive, Output: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, db.Create(ctx, old))
	fresh := createTestEvaluation(t, db, "file:///a.php", "fresh")

	n, err := db.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetByID(ctx, old.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	_, err = db.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestNew_FileDatabaseCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/history.db"

	db, err := New(path)
	require.NoError(t, err)
	defer db.Close()

	createTestEvaluation(t, db, "file:///a.php", "persisted")
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.migrate())
}
