package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskhub/internal/task"
)

func TestMemoryGetSet(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	// Get non-existent key
	var out map[string]any
	ok, err := kv.Get(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	err = kv.Set(ctx, "k", map[string]any{"a": 1})
	require.NoError(t, err)

	ok, err = kv.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(1), out["a"])

	has, err := kv.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, kv.Delete(ctx, "k"))
	has, err = kv.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryReturnsCopies(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	original := map[string]any{"nested": map[string]any{"v": "x"}}
	require.NoError(t, kv.Set(ctx, "k", original))

	var first map[string]any
	_, err := kv.Get(ctx, "k", &first)
	require.NoError(t, err)
	first["nested"].(map[string]any)["v"] = "mutated"

	var second map[string]any
	_, err = kv.Get(ctx, "k", &second)
	require.NoError(t, err)
	assert.Equal(t, "x", second["nested"].(map[string]any)["v"])
}

func TestIDIndexAddIdempotent(t *testing.T) {
	idx := NewIDIndex(NewMemory())
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "fam-1", "inst-1"))
	require.NoError(t, idx.Add(ctx, "fam-1", "inst-2"))
	require.NoError(t, idx.Add(ctx, "fam-1", "inst-1")) // no-op

	ids, ok, err := idx.Get(ctx, "fam-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"inst-1", "inst-2"}, ids)
}

func TestIDIndexRemove(t *testing.T) {
	idx := NewIDIndex(NewMemory())
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "proc-1", "inst-1"))
	require.NoError(t, idx.Add(ctx, "proc-1", "inst-2"))

	require.NoError(t, idx.Remove(ctx, "proc-1", "inst-1"))
	ids, ok, err := idx.Get(ctx, "proc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"inst-2"}, ids)

	// Removing the last id deletes the key entirely.
	require.NoError(t, idx.Remove(ctx, "proc-1", "inst-2"))
	_, ok, err = idx.Get(ctx, "proc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutputsMerge(t *testing.T) {
	outputs := NewOutputs(NewMemory())
	ctx := context.Background()

	require.NoError(t, outputs.Merge(ctx, "fam-1", "root.x", map[string]any{"text": "hello"}))
	require.NoError(t, outputs.Merge(ctx, "fam-1", "root.x", map[string]any{"count": 2}))

	got, err := outputs.Get(ctx, "fam-1")
	require.NoError(t, err)
	entry := got["root.x.output"]
	assert.Equal(t, "hello", entry["text"])
	assert.Equal(t, float64(2), entry["count"])
}

func TestOutputsMergeEmptyDiffIsNoop(t *testing.T) {
	outputs := NewOutputs(NewMemory())
	ctx := context.Background()

	require.NoError(t, outputs.Merge(ctx, "fam-1", "root.x", nil))
	got, err := outputs.Get(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTasksRoundTrip(t *testing.T) {
	tasks := NewTasks(NewMemory())
	ctx := context.Background()

	tk := &task.Task{ID: "root.a", InstanceID: "inst-1", Config: map[string]any{"nextTask": "root.b"}}
	require.NoError(t, tasks.Set(ctx, tk.InstanceID, tk))

	got, ok, err := tasks.Get(ctx, "inst-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "root.a", got.ID)
	assert.Equal(t, "root.b", got.NextTask())

	_, ok, err = tasks.Get(ctx, "inst-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessions(t *testing.T) {
	sessions := NewSessions(NewMemory())
	ctx := context.Background()

	require.NoError(t, sessions.Set(ctx, &Session{SessionID: "s-1", UserID: "u-1", FamilyID: "fam-1"}))
	got, ok, err := sessions.Get(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fam-1", got.FamilyID)
}
