package router

import (
	"context"
	"sort"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/store"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

// Allocator assigns task instances to processors and keeps both sides of
// the processor↔task association up to date.
type Allocator struct {
	registry *Registry
	store    *store.Collections
}

// NewAllocator creates an allocator over the given registry and store.
func NewAllocator(registry *Registry, st *store.Collections) *Allocator {
	return &Allocator{registry: registry, store: st}
}

// Registry returns the underlying processor registry.
func (a *Allocator) Registry() *Registry {
	return a.registry
}

// Allocate picks one processor per environment tag the task declares.
// Per tag, preference order: the source processor, any processor already
// associated with the instance, then any registered processor in sorted
// id order. Every tag must be satisfiable and at least one processor
// must end up allocated, otherwise the allocation fails hard.
//
// Picking a registry processor also records it on the task's processor
// map so follow-on steps favor it.
func (a *Allocator) Allocate(t *task.Task, sourceProcessorID string) ([]string, error) {
	if len(t.Environments) == 0 {
		return nil, errors.Newf(errors.ErrCodeNoEnvironments, "no environments in task %s", t.ID)
	}

	var allocated []string
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			allocated = append(allocated, id)
		}
	}

	source, haveSource := a.registry.Get(sourceProcessorID)
	for _, environment := range t.Environments {
		if haveSource && source.Supports(environment) {
			add(sourceProcessorID)
			continue
		}

		found := false
		for _, id := range sortedKeys(t.Processors) {
			if p, ok := a.registry.Get(id); ok && p.Supports(environment) {
				add(id)
				found = true
				break
			}
		}
		if found {
			continue
		}

		for _, p := range a.registry.List() {
			if p.Supports(environment) {
				add(p.ID)
				if t.Processors != nil && t.Processors[p.ID] == nil {
					t.Processors[p.ID] = &task.ProcessorEntry{ID: p.ID}
				}
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Newf(errors.ErrCodeNoProcessorForEnvironment,
				"no processor found for environment %s required by task %s", environment, t.ID)
		}
	}

	if len(allocated) == 0 {
		return nil, errors.Newf(errors.ErrCodeNoProcessorsAllocated,
			"no processors allocated for task %s", t.ID)
	}
	return allocated, nil
}

func sortedKeys(m map[string]*task.ProcessorEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record persists the instance→processors and processor→instances
// associations for an allocation. Re-recording an existing pair is a
// no-op.
func (a *Allocator) Record(ctx context.Context, instanceID string, processorIDs []string) error {
	for _, pid := range processorIDs {
		if err := a.store.TaskProcessors.Add(ctx, instanceID, pid); err != nil {
			return err
		}
		if err := a.store.ProcessorTasks.Add(ctx, pid, instanceID); err != nil {
			return err
		}
	}
	return nil
}

// Release drops every association for an instance, used when the
// instance leaves active storage.
func (a *Allocator) Release(ctx context.Context, instanceID string) error {
	holders, ok, err := a.store.TaskProcessors.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if ok {
		for _, pid := range holders {
			if err := a.store.ProcessorTasks.Remove(ctx, pid, instanceID); err != nil {
				return err
			}
		}
	}
	return a.store.TaskProcessors.Delete(ctx, instanceID)
}
