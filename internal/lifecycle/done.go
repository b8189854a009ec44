package lifecycle

import (
	"context"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

// DoneTask completes an instance: it persists the final copy, merges the
// task's output into the family output store, retires the active record,
// and chains the configured nextTask. The chained instance is returned,
// nil when nothing follows.
func (m *Manager) DoneTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	t.EnsureDefaults()
	next := t.NextTask()
	if !t.State.Done && next == "" {
		return nil, errors.Newf(errors.ErrCodeTaskNotDone, "task %q is neither done nor chained", t.InstanceID)
	}

	if err := m.store.Instances.Set(ctx, t.InstanceID, t); err != nil {
		return nil, err
	}
	if len(t.Output) > 0 {
		if err := m.store.Outputs.Merge(ctx, t.FamilyID, t.ID, t.Output); err != nil {
			return nil, err
		}
	}

	if t.State.Done {
		if err := m.store.Active.Delete(ctx, t.InstanceID); err != nil {
			return nil, err
		}
		if err := m.alloc.Release(ctx, t.InstanceID); err != nil {
			return nil, err
		}
		m.logger.WithTask(t.ID, t.InstanceID).Info("task done", "family_id", t.FamilyID)
	}

	if next == "" {
		return nil, nil
	}

	init := &task.Task{
		ID:       next,
		UserID:   t.UserID,
		GroupID:  t.GroupID,
		FamilyID: t.FamilyID,
	}
	return m.StartTask(ctx, init, t.Hub.SourceProcessorID, t.InstanceID, false)
}
