package store

import (
	"context"

	"github.com/felixgeelhaar/taskhub/internal/task"
)

// Tasks is a KV of task instances keyed by instanceId. It backs both the
// durable instance collection and the active-task collection.
type Tasks struct {
	kv KV
}

// NewTasks wraps a KV as a task collection.
func NewTasks(kv KV) Tasks {
	return Tasks{kv: kv}
}

// Get loads the task stored under instanceID.
func (t Tasks) Get(ctx context.Context, instanceID string) (*task.Task, bool, error) {
	var out task.Task
	ok, err := t.kv.Get(ctx, instanceID, &out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

// Set stores tk under instanceID.
func (t Tasks) Set(ctx context.Context, instanceID string, tk *task.Task) error {
	return t.kv.Set(ctx, instanceID, tk)
}

// Delete removes the task stored under instanceID.
func (t Tasks) Delete(ctx context.Context, instanceID string) error {
	return t.kv.Delete(ctx, instanceID)
}

// Has reports whether a task is stored under instanceID.
func (t Tasks) Has(ctx context.Context, instanceID string) (bool, error) {
	return t.kv.Has(ctx, instanceID)
}

// Keys returns all instance ids in the collection.
func (t Tasks) Keys(ctx context.Context) ([]string, error) {
	return t.kv.Keys(ctx)
}

// IDIndex is a KV of ordered string-id lists, used for the family index
// and both directions of the processor↔task association.
type IDIndex struct {
	kv KV
}

// NewIDIndex wraps a KV as an id index.
func NewIDIndex(kv KV) IDIndex {
	return IDIndex{kv: kv}
}

// Get returns the id list stored under key.
func (i IDIndex) Get(ctx context.Context, key string) ([]string, bool, error) {
	var ids []string
	ok, err := i.kv.Get(ctx, key, &ids)
	if err != nil || !ok {
		return nil, ok, err
	}
	return ids, true, nil
}

// Add appends id to the list under key, creating it if needed.
// Re-adding an existing id is a no-op.
func (i IDIndex) Add(ctx context.Context, key, id string) error {
	ids, _, err := i.Get(ctx, key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return i.kv.Set(ctx, key, append(ids, id))
}

// Remove drops id from the list under key. The key is deleted when the
// list becomes empty.
func (i IDIndex) Remove(ctx context.Context, key, id string) error {
	ids, ok, err := i.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return i.kv.Delete(ctx, key)
	}
	return i.kv.Set(ctx, key, out)
}

// Delete removes the whole list under key.
func (i IDIndex) Delete(ctx context.Context, key string) error {
	return i.kv.Delete(ctx, key)
}

// Outputs maps familyId to the family's output store: templateId.output
// to the last-merged output object of that task.
type Outputs struct {
	kv KV
}

// NewOutputs wraps a KV as an output store.
func NewOutputs(kv KV) Outputs {
	return Outputs{kv: kv}
}

// Get returns the output map for a family, never nil.
func (o Outputs) Get(ctx context.Context, familyID string) (map[string]map[string]any, error) {
	var out map[string]map[string]any
	ok, err := o.kv.Get(ctx, familyID, &out)
	if err != nil {
		return nil, err
	}
	if !ok || out == nil {
		out = map[string]map[string]any{}
	}
	return out, nil
}

// Merge deep-merges diff into the entry for templateID within familyID.
// Entries are never overwritten wholesale because updates arrive as
// partial diffs.
func (o Outputs) Merge(ctx context.Context, familyID, templateID string, diff map[string]any) error {
	if len(diff) == 0 {
		return nil
	}
	outputs, err := o.Get(ctx, familyID)
	if err != nil {
		return err
	}
	key := templateID + ".output"
	outputs[key] = task.DeepMerge(outputs[key], diff)
	return o.kv.Set(ctx, familyID, outputs)
}

// Session ties a client session to a running family.
type Session struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	FamilyID  string `json:"familyId,omitempty"`
}

// Sessions is a KV of sessions keyed by sessionId.
type Sessions struct {
	kv KV
}

// NewSessions wraps a KV as a session collection.
func NewSessions(kv KV) Sessions {
	return Sessions{kv: kv}
}

// Get loads the session stored under sessionID.
func (s Sessions) Get(ctx context.Context, sessionID string) (*Session, bool, error) {
	var out Session
	ok, err := s.kv.Get(ctx, sessionID, &out)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

// Set stores sess under its session id.
func (s Sessions) Set(ctx context.Context, sess *Session) error {
	return s.kv.Set(ctx, sess.SessionID, sess)
}

// Delete removes the session stored under sessionID.
func (s Sessions) Delete(ctx context.Context, sessionID string) error {
	return s.kv.Delete(ctx, sessionID)
}

// Collections bundles the hub's persisted collections, one KV per concern.
type Collections struct {
	// Instances holds every created instance, durable past completion.
	Instances Tasks
	// Active holds the authoritative in-flight copy of each instance.
	Active Tasks
	// Families maps familyId to the ordered instance chain.
	Families IDIndex
	// TaskProcessors maps instanceId to the processors holding it.
	TaskProcessors IDIndex
	// ProcessorTasks maps processorId to the instances it holds.
	ProcessorTasks IDIndex
	// Outputs holds each family's cross-task output store.
	Outputs Outputs
	// Sessions maps sessionId to family bookkeeping.
	Sessions Sessions
}

// NewCollections builds the collection set, drawing one KV per concern
// from next.
func NewCollections(next func() KV) *Collections {
	return &Collections{
		Instances:      NewTasks(next()),
		Active:         NewTasks(next()),
		Families:       NewIDIndex(next()),
		TaskProcessors: NewIDIndex(next()),
		ProcessorTasks: NewIDIndex(next()),
		Outputs:        NewOutputs(next()),
		Sessions:       NewSessions(next()),
	}
}

// NewMemoryCollections builds the collection set on in-memory KVs.
func NewMemoryCollections() *Collections {
	return NewCollections(func() KV { return NewMemory() })
}
