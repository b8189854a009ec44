// Package engine drives the hub's command protocol: every message a
// processor sends lands in Process, which serializes access per
// instance, enforces the lock and rate rules, merges state, and fans
// the result out to the other processors holding the instance.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/lifecycle"
	"github.com/felixgeelhaar/taskhub/internal/log"
	"github.com/felixgeelhaar/taskhub/internal/registry"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/store"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

// lockExpiry is how long a foreign lock blocks updates before it is
// considered abandoned.
const lockExpiry = 5 * time.Minute

// Sender delivers a task copy to one processor.
type Sender interface {
	Send(processorID string, t *task.Task) error
}

// Engine is the hub's command processor.
type Engine struct {
	registry  *registry.Registry
	store     *store.Collections
	alloc     *router.Allocator
	lifecycle *lifecycle.Manager
	sender    Sender
	logger    *log.Logger

	// maxErrorRate is the global per-minute task error budget, zero
	// disables the breaker.
	maxErrorRate int

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	errMu     sync.Mutex
	errMinute time.Time
	errCount  int
}

// New wires an engine over its collaborators.
func New(reg *registry.Registry, st *store.Collections, alloc *router.Allocator, lc *lifecycle.Manager, sender Sender, maxErrorRate int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Engine{
		registry:     reg,
		store:        st,
		alloc:        alloc,
		lifecycle:    lc,
		sender:       sender,
		logger:       logger,
		maxErrorRate: maxErrorRate,
		now:          time.Now,
		locks:        map[string]*sync.Mutex{},
	}
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// lockFor returns the per-instance mutex serializing load-modify-store.
func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instanceID] = l
	}
	return l
}

// Process handles one inbound processor message and returns the state
// the sender should adopt.
func (e *Engine) Process(ctx context.Context, incoming *task.Task) (*task.Task, error) {
	if incoming.Processor == nil || incoming.Processor.ID == "" {
		return nil, errors.New(errors.ErrCodeMissingProcessor, "message carries no processor envelope")
	}
	proc := incoming.Processor
	command := proc.Command

	switch command {
	case task.CommandInit:
		return e.processInit(ctx, incoming)
	case task.CommandStart, task.CommandUpdate, task.CommandPartial, task.CommandError, task.CommandJoin:
		return e.processUpdate(ctx, incoming)
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownCommand, "unknown command %q", command)
	}
}

// processInit starts a fresh instance on behalf of the sender.
func (e *Engine) processInit(ctx context.Context, incoming *task.Task) (*task.Task, error) {
	proc := incoming.Processor
	started, err := e.lifecycle.StartTask(ctx, incoming, proc.ID, proc.PrevInstanceID, true)
	if err != nil {
		return nil, err
	}
	e.announce(ctx, started)
	return started, nil
}

// processUpdate handles every instance-bound command.
func (e *Engine) processUpdate(ctx context.Context, incoming *task.Task) (*task.Task, error) {
	if incoming.InstanceID == "" {
		return nil, errors.New(errors.ErrCodeMissingInstance, "message carries no instance id")
	}
	proc := incoming.Processor
	command := proc.Command

	l := e.lockFor(incoming.InstanceID)
	l.Lock()
	defer l.Unlock()

	active, ok, err := e.store.Active.Get(ctx, incoming.InstanceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if command != task.CommandStart {
			return nil, errors.Newf(errors.ErrCodeActiveTaskMissing, "instance %q is not active", incoming.InstanceID)
		}
		// A start may reach the hub before any record exists for the
		// instance; it proceeds against an empty one.
		active = &task.Task{}
	}

	merged, err := e.merge(active, incoming)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if command != task.CommandPartial && command != task.CommandJoin {
		if err := e.checkLock(merged, proc, now); err != nil {
			return nil, err
		}
		if !merged.Hub.CoProcessing {
			e.checkRate(merged, now)
		}
		if command == task.CommandUpdate {
			merged.Meta.UpdateCount++
		}
	}

	// A join only attaches the sender to the holder set.
	if command == task.CommandJoin {
		if err := e.alloc.Record(ctx, merged.InstanceID, []string{proc.ID}); err != nil {
			return nil, err
		}
	}

	if merged.Error != nil || command == task.CommandError {
		if err := e.routeError(merged, now); err != nil {
			return nil, err
		}
	}

	if command != task.CommandPartial && len(merged.Output) > 0 {
		if err := e.store.Outputs.Merge(ctx, merged.FamilyID, merged.ID, merged.Output); err != nil {
			return nil, err
		}
	}

	deferred := merged.Hub.CoProcessing && !merged.Hub.CoProcessingDone
	firstBroadcast := merged.Meta.BroadcastCount == 0
	if !deferred {
		merged.Meta.BroadcastCount++
	}

	if command != task.CommandPartial {
		if err := e.store.Active.Set(ctx, merged.InstanceID, merged); err != nil {
			return nil, err
		}
		if err := e.store.Instances.Set(ctx, merged.InstanceID, merged); err != nil {
			return nil, err
		}
	}

	// Co-processing holds the fan-out until the chain completes.
	if deferred {
		return merged, nil
	}

	e.broadcast(merged, firstBroadcast)

	if merged.Hub.Command == task.CommandError {
		if next, err := e.chainErrorTask(ctx, merged); err != nil {
			e.logger.WithError(err).Warn("error handler chain failed", "instance_id", merged.InstanceID)
		} else if next != nil {
			e.announce(ctx, next)
		}
	}

	if command == task.CommandUpdate && merged.State.Done {
		next, err := e.lifecycle.DoneTask(ctx, merged)
		if err != nil {
			return nil, err
		}
		if next != nil {
			e.announce(ctx, next)
		}
	}

	return merged, nil
}

// merge folds the sender's diff over the active copy. Meta, config, and
// the processor map are hub-owned and never accepted from the wire.
func (e *Engine) merge(active, incoming *task.Task) (*task.Task, error) {
	diff := incoming.Clone()
	proc := incoming.Processor
	diff.Processor = nil
	diff.Hub = nil
	diff.Meta = nil
	diff.Config = nil
	diff.Processors = nil

	merged, err := task.Merge(active, diff)
	if err != nil {
		return nil, err
	}
	merged.Meta = active.Meta
	merged.Config = active.Config
	merged.Processors = active.Processors
	merged.Processor = nil
	merged.EnsureDefaults()
	// A stored soft error must not re-trigger on the next message.
	if incoming.Error == nil {
		merged.Error = nil
	}

	initiating := proc.ID
	if proc.IsCoProcessor && active.Hub != nil && active.Hub.InitiatingProcessorID != "" {
		initiating = active.Hub.InitiatingProcessorID
	}
	merged.Hub = &task.Envelope{
		Command:               proc.Command,
		CommandArgs:           proc.CommandArgs,
		SourceProcessorID:     proc.ID,
		InitiatingProcessorID: initiating,
		CoProcessing:          proc.CoProcessing,
		CoProcessingDone:      proc.CoProcessingDone,
		CoProcessingPosition:  proc.CoProcessingPosition,
	}
	if entry, ok := merged.Processors[proc.ID]; ok {
		entry.Command = proc.Command
		entry.CommandArgs = proc.CommandArgs
	} else {
		merged.Processors[proc.ID] = &task.ProcessorEntry{ID: proc.ID, Command: proc.Command, CommandArgs: proc.CommandArgs}
	}
	return merged, nil
}

// checkLock enforces the advisory instance lock. A foreign lock older
// than lockExpiry no longer blocks.
func (e *Engine) checkLock(t *task.Task, proc *task.ProcessorEntry, now time.Time) error {
	args := t.Hub.Args()
	locked := t.Meta.Locked
	if locked != "" && locked != proc.ID && !args.LockBypass {
		expired := t.Meta.UpdatedAt != nil && now.Sub(*t.Meta.UpdatedAt) > lockExpiry
		if !expired {
			return errors.Newf(errors.ErrCodeLockConflict, "instance %q is locked by %q", t.InstanceID, locked)
		}
		t.Meta.Locked = ""
	}
	// The holder's next request without a lock flag releases the lock.
	if locked != "" && locked == proc.ID && !args.Lock {
		t.Meta.Locked = ""
	}
	if args.Lock {
		t.Meta.Locked = proc.ID
	}
	if args.Unlock {
		t.Meta.Locked = ""
	}
	return nil
}

// checkRate advances the per-minute and cumulative request counters and
// turns a budget overrun into a soft task error.
func (e *Engine) checkRate(t *task.Task, now time.Time) {
	last := t.Meta.UpdatedAt
	t.Meta.LastUpdatedAt = last
	stamp := now
	t.Meta.UpdatedAt = &stamp

	if last != nil && sameMinute(*last, now) {
		t.Meta.RequestsThisMinute++
	} else {
		t.Meta.RequestsThisMinute = 1
	}
	t.Meta.RequestCount++

	if max := t.MaxRequestRate(); max > 0 && t.Meta.RequestsThisMinute > max {
		t.Error = &task.Error{Message: errors.Newf(errors.ErrCodeRateExceeded,
			"task %q exceeded %d requests per minute", t.ID, max).Error()}
		return
	}
	if max := t.MaxRequestCount(); max > 0 && t.Meta.RequestCount > max {
		t.Error = &task.Error{Message: errors.Newf(errors.ErrCodeRequestCountExceeded,
			"task %q exceeded %d total requests", t.ID, max).Error()}
	}
}

// routeError converts a task error into an error command aimed at the
// nearest error handler, and feeds the global breaker.
func (e *Engine) routeError(t *task.Task, now time.Time) error {
	if err := e.recordTaskError(now); err != nil {
		return err
	}
	if t.Error == nil {
		t.Error = &task.Error{Message: "unknown error"}
	}
	t.Hub.Command = task.CommandError
	if handler := e.registry.ErrorHandlerFor(t.ID); handler != "" {
		t.Hub.Args().ErrorTask = handler
	}
	e.logger.WithTask(t.ID, t.InstanceID).Warn("task error", "message", t.Error.Message)
	return nil
}

// recordTaskError counts one task error against the global per-minute
// budget. Exceeding it rejects further processing outright.
func (e *Engine) recordTaskError(now time.Time) error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	minute := now.UTC().Truncate(time.Minute)
	if !minute.Equal(e.errMinute) {
		e.errMinute = minute
		e.errCount = 0
	}
	e.errCount++
	if e.maxErrorRate > 0 && e.errCount > e.maxErrorRate {
		return errors.Newf(errors.ErrCodeErrorRateExceeded,
			"hub exceeded %d task errors per minute", e.maxErrorRate)
	}
	return nil
}

// chainErrorTask starts the resolved error handler as a follow-on
// instance of the failed one.
func (e *Engine) chainErrorTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	handler := t.Hub.Args().ErrorTask
	if handler == "" {
		return nil, nil
	}
	init := &task.Task{
		ID:       handler,
		UserID:   t.UserID,
		GroupID:  t.GroupID,
		FamilyID: t.FamilyID,
	}
	return e.lifecycle.StartTask(ctx, init, t.Hub.SourceProcessorID, t.InstanceID, false)
}

// broadcast fans the task out to every processor holding the instance.
// The originator is excluded except on the instance's first broadcast,
// which it needs to learn the hub-assigned identifiers.
func (e *Engine) broadcast(t *task.Task, first bool) {
	if e.sender == nil || t == nil {
		return
	}
	ids := make([]string, 0, len(t.Processors))
	for id := range t.Processors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !first && id == t.Hub.InitiatingProcessorID {
			continue
		}
		if err := e.sender.Send(id, t.Clone()); err != nil {
			e.logger.WithError(err).Warn("broadcast failed",
				"processor_id", id, "instance_id", t.InstanceID)
		}
	}
}

// announce advances the broadcast counter, persists it, and fans out a
// freshly started or chained instance.
func (e *Engine) announce(ctx context.Context, t *task.Task) {
	first := t.Meta.BroadcastCount == 0
	t.Meta.BroadcastCount++
	if err := e.store.Active.Set(ctx, t.InstanceID, t); err != nil {
		e.logger.WithError(err).Warn("broadcast bookkeeping failed", "instance_id", t.InstanceID)
	}
	if err := e.store.Instances.Set(ctx, t.InstanceID, t); err != nil {
		e.logger.WithError(err).Warn("broadcast bookkeeping failed", "instance_id", t.InstanceID)
	}
	e.broadcast(t, first)
}

// sameMinute reports whether two instants fall into the same UTC minute.
func sameMinute(a, b time.Time) bool {
	return a.UTC().Truncate(time.Minute).Equal(b.UTC().Truncate(time.Minute))
}
