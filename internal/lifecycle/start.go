package lifecycle

import (
	"context"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/resolver"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

// StartTask instantiates the template named by init.ID, merges init over
// it, and persists the new instance as active. processorID is the
// initiating processor; prevInstanceID links the instance into an
// existing family chain. When authenticate is set the template's
// permissions are checked against the acting user.
//
// For grouped templates (oneFamily, collaborate) the instance id is
// derived from the template rather than generated, and a prior live
// instance is joined instead of duplicated.
func (m *Manager) StartTask(ctx context.Context, init *task.Task, processorID, prevInstanceID string, authenticate bool) (*task.Task, error) {
	tmpl, err := m.registry.Get(init.ID)
	if err != nil {
		return nil, err
	}

	overlay := init.Clone()
	overlay.Processor = nil
	overlay.Hub = nil
	t, err := task.Merge(tmpl, overlay)
	if err != nil {
		return nil, err
	}
	t.InstanceID = m.newID()
	t.EnsureDefaults()

	if authenticate && m.directory != nil && !m.directory.Authorized(t.Permissions, t.UserID) {
		return nil, errors.Newf(errors.ErrCodeTaskNotAuthorized, "user %q may not start task %q", t.UserID, t.ID)
	}

	var prev *task.Task
	if prevInstanceID != "" {
		loaded, ok, err := m.store.Instances.Get(ctx, prevInstanceID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Newf(errors.ErrCodeInstanceNotFound, "previous instance %q not found", prevInstanceID)
		}
		prev = loaded
	}

	switch {
	case t.OneFamily():
		key := groupKey(t.ID, t.UserID)
		t.InstanceID = key
		t.FamilyID = key
	case t.CollaborateGroupID() != "":
		groupID := t.CollaborateGroupID()
		if m.directory != nil {
			member, err := m.directory.UserInGroup(groupID, t.UserID)
			if err != nil {
				return nil, err
			}
			if !member {
				return nil, errors.Newf(errors.ErrCodeUserNotInGroup, "user %q is not in group %q", t.UserID, groupID)
			}
		}
		t.GroupID = groupID
		key := groupKey(t.ID, groupID)
		t.InstanceID = key
		t.FamilyID = key
	default:
		// A chained task always stays in its predecessor's family, even
		// when the caller supplies one of its own.
		if prev != nil && prev.FamilyID != "" {
			t.FamilyID = prev.FamilyID
		} else if t.FamilyID == "" {
			t.FamilyID = t.InstanceID
		}
	}

	if t.OneFamily() || t.CollaborateGroupID() != "" {
		joined, ok, err := m.rejoin(ctx, t, processorID)
		if err != nil {
			return nil, err
		}
		if ok {
			return joined, nil
		}
		t = joined
	}

	if err := m.store.Families.Add(ctx, t.FamilyID, t.InstanceID); err != nil {
		return nil, err
	}

	t.Hub = &task.Envelope{
		Command:               task.CommandInit,
		SourceProcessorID:     processorID,
		InitiatingProcessorID: processorID,
	}

	now := m.now()
	if t.Meta.CreatedAt == nil {
		t.Meta.CreatedAt = &now
	}
	t.Meta.UpdatedAt = &now

	if prev != nil {
		if err := m.linkPrev(ctx, t, prev); err != nil {
			return nil, err
		}
	}

	if entry, ok := t.Processors[processorID]; ok {
		entry.ID = processorID
		entry.PrevInstanceID = prevInstanceID
	} else if processorID != "" {
		t.Processors[processorID] = &task.ProcessorEntry{ID: processorID, PrevInstanceID: prevInstanceID}
	}

	if t.IsErrorHandler() && prev != nil {
		if prev.Error != nil {
			t.Response["text"] = "ERROR: " + prev.Error.Message
		}
		if len(t.Environments) == 0 {
			t.Environments = prev.Environments
		}
		t.State.Current = "error"
	}

	language := "EN"
	if m.directory != nil {
		language = m.directory.Language(t.UserID)
	}
	collapseLanguageKeys(t.Config, language)
	if local, ok := t.Config["local"].(map[string]any); ok {
		collapseLanguageKeys(local, language)
	}

	if err := m.resolveTemplates(ctx, t); err != nil {
		return nil, err
	}

	allocated, err := m.alloc.Allocate(t, processorID)
	if err != nil {
		return nil, err
	}
	if err := m.alloc.Record(ctx, t.InstanceID, allocated); err != nil {
		return nil, err
	}

	if err := m.store.Instances.Set(ctx, t.InstanceID, t); err != nil {
		return nil, err
	}
	if err := m.store.Active.Set(ctx, t.InstanceID, t); err != nil {
		return nil, err
	}

	m.logger.WithTask(t.ID, t.InstanceID).Info("task started",
		"family_id", t.FamilyID,
		"processors", allocated,
	)
	return t, nil
}

// rejoin checks a grouped instance id against the stores. A live,
// still-covered instance is joined as-is; a finished or uncovered one is
// restarted from its persisted copy. The bool result reports a join.
func (m *Manager) rejoin(ctx context.Context, t *task.Task, processorID string) (*task.Task, bool, error) {
	existing, ok, err := m.store.Instances.Get(ctx, t.InstanceID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return t, false, nil
	}

	active, live, err := m.store.Active.Get(ctx, t.InstanceID)
	if err != nil {
		return nil, false, err
	}
	if live {
		covered, err := m.covered(ctx, active)
		if err != nil {
			return nil, false, err
		}
		if covered {
			active.EnsureDefaults()
			active.Hub = &task.Envelope{
				Command:               task.CommandJoin,
				SourceProcessorID:     processorID,
				InitiatingProcessorID: processorID,
			}
			if _, held := active.Processors[processorID]; !held && processorID != "" {
				active.Processors[processorID] = &task.ProcessorEntry{ID: processorID}
				if err := m.alloc.Record(ctx, active.InstanceID, []string{processorID}); err != nil {
					return nil, false, err
				}
				if err := m.store.Active.Set(ctx, active.InstanceID, active); err != nil {
					return nil, false, err
				}
				if err := m.store.Instances.Set(ctx, active.InstanceID, active); err != nil {
					return nil, false, err
				}
			}
			m.logger.WithTask(active.ID, active.InstanceID).Info("task joined", "processor_id", processorID)
			return active, true, nil
		}
	}

	// Finished, or its processors are gone. Restart from the stored copy.
	existing.EnsureDefaults()
	existing.State.Current = "start"
	existing.State.Done = false
	existing.Meta.UpdateCount = 0
	existing.Meta.RequestsThisMinute = 0
	existing.Meta.Locked = ""
	existing.Error = nil
	if err := m.store.Active.Delete(ctx, existing.InstanceID); err != nil {
		return nil, false, err
	}
	m.logger.WithTask(existing.ID, existing.InstanceID).Info("task restarted")
	return existing, false, nil
}

// covered reports whether every environment of t is still served by a
// registered processor holding the instance.
func (m *Manager) covered(ctx context.Context, t *task.Task) (bool, error) {
	holders, _, err := m.store.TaskProcessors.Get(ctx, t.InstanceID)
	if err != nil {
		return false, err
	}
	registry := m.alloc.Registry()
	for _, env := range t.Environments {
		served := false
		for _, id := range holders {
			if p, ok := registry.Get(id); ok && p.Supports(env) {
				served = true
				break
			}
		}
		if !served {
			return false, nil
		}
	}
	return len(t.Environments) > 0, nil
}

// linkPrev wires the causal chain between a new instance and the one
// that spawned it, and copies forward the routing the family built up.
func (m *Manager) linkPrev(ctx context.Context, t, prev *task.Task) error {
	prev.EnsureDefaults()
	// The immediate predecessor is the parent; prev keeps pointing at the
	// chain's first instance so any step can find where it began.
	t.Meta.ParentInstanceID = prev.InstanceID
	if prev.Meta.PrevInstanceID != "" {
		t.Meta.PrevInstanceID = prev.Meta.PrevInstanceID
	} else {
		t.Meta.PrevInstanceID = prev.InstanceID
	}
	for id := range prev.Processors {
		if _, ok := t.Processors[id]; !ok {
			t.Processors[id] = &task.ProcessorEntry{ID: id}
		}
	}
	if t.State.Address == nil {
		t.State.Address = prev.State.Address
	}
	if t.State.LastAddress == nil {
		t.State.LastAddress = prev.State.LastAddress
	}

	prev.Meta.ChildrenInstanceID = append(prev.Meta.ChildrenInstanceID, t.InstanceID)
	if err := m.store.Instances.Set(ctx, prev.InstanceID, prev); err != nil {
		return err
	}
	if _, live, err := m.store.Active.Get(ctx, prev.InstanceID); err != nil {
		return err
	} else if live {
		return m.store.Active.Set(ctx, prev.InstanceID, prev)
	}
	return nil
}

// resolveTemplates materializes the task's ...Template config fields
// from the family output store and the user profile.
func (m *Manager) resolveTemplates(ctx context.Context, t *task.Task) error {
	outputs, err := m.store.Outputs.Get(ctx, t.FamilyID)
	if err != nil {
		return err
	}
	var profile map[string]any
	if m.directory != nil {
		if u, ok := m.directory.User(t.UserID); ok {
			profile = u
		}
	}
	r := &resolver.Resolver{
		Outputs:  outputs,
		User:     profile,
		ParentID: t.Meta.ParentID,
		FamilyID: t.FamilyID,
	}
	return r.ResolveConfig(t.Config)
}
