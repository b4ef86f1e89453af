package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := NewStore(Default())

	snap := store.Snapshot()
	snap.PHPPath = "mutated"

	assert.Equal(t, DefaultPHPPath, store.Snapshot().PHPPath)
}

func TestStore_ApplyNested(t *testing.T) {
	store := NewStore(Default())

	// JSON numbers arrive as float64 from the LSP transport
	err := store.Apply(map[string]any{
		"phpInline": map[string]any{
			"executionDelay": float64(120),
			"inlineColor":    "blue",
		},
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, 120, snap.ExecutionDelay)
	assert.Equal(t, "blue", snap.InlineColor)
	assert.Equal(t, DefaultPHPPath, snap.PHPPath, "absent keys keep their value")
}

func TestStore_ApplyFlat(t *testing.T) {
	store := NewStore(Default())

	require.NoError(t, store.Apply(map[string]any{"phpPath": "/usr/bin/php"}))
	assert.Equal(t, "/usr/bin/php", store.Snapshot().PHPPath)
}

func TestStore_ApplyWeaklyTyped(t *testing.T) {
	store := NewStore(Default())

	require.NoError(t, store.Apply(map[string]any{"executionDelay": "75"}))
	assert.Equal(t, 75, store.Snapshot().ExecutionDelay)
}

func TestStore_ApplyRejectsInvalid(t *testing.T) {
	store := NewStore(Default())

	err := store.Apply(map[string]any{"executionDelay": -10})
	assert.Error(t, err)
	assert.Equal(t, DefaultExecutionDelay, store.Snapshot().ExecutionDelay, "rejected settings are not published")
}

func TestStore_ApplyNil(t *testing.T) {
	store := NewStore(Default())
	assert.NoError(t, store.Apply(nil))
}

func TestStore_ApplyNonObject(t *testing.T) {
	store := NewStore(Default())
	assert.Error(t, store.Apply([]any{"nope"}))
}
