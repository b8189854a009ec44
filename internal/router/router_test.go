package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/store"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

func newAllocator(procs ...Processor) *Allocator {
	reg := NewRegistry()
	for _, p := range procs {
		reg.Register(p)
	}
	return NewAllocator(reg, store.NewMemoryCollections())
}

func newTask(envs ...string) *task.Task {
	t := &task.Task{ID: "root.example.start", InstanceID: "inst-1", Environments: envs}
	t.EnsureDefaults()
	return t
}

func TestAllocatePrefersSourceProcessor(t *testing.T) {
	a := newAllocator(
		Processor{ID: "proc-a", Environments: []string{"ui"}},
		Processor{ID: "proc-b", Environments: []string{"ui"}},
	)

	got, err := a.Allocate(newTask("ui"), "proc-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"proc-b"}, got)
}

func TestAllocatePrefersExistingAssociation(t *testing.T) {
	a := newAllocator(
		Processor{ID: "proc-a", Environments: []string{"ui"}},
		Processor{ID: "proc-b", Environments: []string{"ui"}},
	)
	tk := newTask("ui")
	tk.Processors["proc-b"] = &task.ProcessorEntry{ID: "proc-b"}

	// Source does not support ui, so the prior association wins.
	got, err := a.Allocate(tk, "proc-x")
	require.NoError(t, err)
	assert.Equal(t, []string{"proc-b"}, got)
}

func TestAllocateFallbackIsDeterministic(t *testing.T) {
	a := newAllocator(
		Processor{ID: "proc-b", Environments: []string{"compute"}},
		Processor{ID: "proc-a", Environments: []string{"compute"}},
	)

	// Neither source nor prior associations apply; sorted order decides.
	got, err := a.Allocate(newTask("compute"), "proc-x")
	require.NoError(t, err)
	assert.Equal(t, []string{"proc-a"}, got)
}

func TestAllocateRegistryPickJoinsProcessorMap(t *testing.T) {
	a := newAllocator(Processor{ID: "proc-a", Environments: []string{"compute"}})
	tk := newTask("compute")

	_, err := a.Allocate(tk, "")
	require.NoError(t, err)
	require.Contains(t, tk.Processors, "proc-a")
	assert.Equal(t, "proc-a", tk.Processors["proc-a"].ID)
}

func TestAllocateMultipleEnvironments(t *testing.T) {
	a := newAllocator(
		Processor{ID: "proc-ui", Environments: []string{"ui"}},
		Processor{ID: "proc-compute", Environments: []string{"compute"}},
	)

	got, err := a.Allocate(newTask("ui", "compute"), "proc-ui")
	require.NoError(t, err)
	assert.Equal(t, []string{"proc-ui", "proc-compute"}, got)
}

func TestAllocateNoProcessorForEnvironment(t *testing.T) {
	a := newAllocator(Processor{ID: "proc-a", Environments: []string{"ui"}})

	_, err := a.Allocate(newTask("quantum"), "proc-a")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoProcessorForEnvironment, errors.CodeOf(err))
}

func TestAllocateNoEnvironments(t *testing.T) {
	a := newAllocator(Processor{ID: "proc-a", Environments: []string{"ui"}})

	_, err := a.Allocate(newTask(), "proc-a")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoEnvironments, errors.CodeOf(err))
}

func TestRecordIsIdempotent(t *testing.T) {
	a := newAllocator(Processor{ID: "proc-a", Environments: []string{"ui"}})
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, "inst-1", []string{"proc-a"}))
	require.NoError(t, a.Record(ctx, "inst-1", []string{"proc-a"}))

	holders, ok, err := a.store.TaskProcessors.Get(ctx, "inst-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"proc-a"}, holders)

	instances, ok, err := a.store.ProcessorTasks.Get(ctx, "proc-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"inst-1"}, instances)
}

func TestRelease(t *testing.T) {
	a := newAllocator(Processor{ID: "proc-a", Environments: []string{"ui"}})
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, "inst-1", []string{"proc-a"}))
	require.NoError(t, a.Release(ctx, "inst-1"))

	_, ok, err := a.store.TaskProcessors.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = a.store.ProcessorTasks.Get(ctx, "proc-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Processor{ID: "b"})
	reg.Register(Processor{ID: "a"})
	reg.Register(Processor{ID: "c"})
	reg.Deregister("c")

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}
