// Package task defines the task instance model shared by the hub core.
//
// A Task is the JSON-serializable unit that travels between processors and
// the hub: a merged template plus runtime bookkeeping. Field names follow
// the wire format, so diffs sent by processors merge cleanly.
package task

import (
	"encoding/json"
	"time"
)

// Command is the hub-level envelope type describing a synchronization event.
// It is distinct from the task's own domain state (State.Current).
type Command string

const (
	CommandInit    Command = "init"
	CommandStart   Command = "start"
	CommandUpdate  Command = "update"
	CommandPartial Command = "partial"
	CommandError   Command = "error"
	CommandJoin    Command = "join"
)

// CommandArgs carries per-command modifiers.
type CommandArgs struct {
	// Lock requests the advisory instance lock for the sender.
	Lock bool `json:"lock,omitempty"`
	// Unlock explicitly releases the lock.
	Unlock bool `json:"unlock,omitempty"`
	// LockBypass lets a sender proceed despite a foreign lock.
	LockBypass bool `json:"lockBypass,omitempty"`
	// ErrorTask names the error-handler template resolved for this task.
	ErrorTask string `json:"errorTask,omitempty"`
}

// Envelope is the hub-side command envelope attached to every message.
type Envelope struct {
	Command               Command      `json:"command,omitempty"`
	CommandArgs           *CommandArgs `json:"commandArgs,omitempty"`
	SourceProcessorID     string       `json:"sourceProcessorId,omitempty"`
	InitiatingProcessorID string       `json:"initiatingProcessorId,omitempty"`
	RequestID             string       `json:"requestId,omitempty"`
	CoProcessing          bool         `json:"coProcessing,omitempty"`
	CoProcessingDone      bool         `json:"coProcessingDone,omitempty"`
	CoProcessingPosition  int          `json:"coProcessingPosition,omitempty"`
}

// Args returns the envelope's command args, never nil.
func (e *Envelope) Args() *CommandArgs {
	if e.CommandArgs == nil {
		e.CommandArgs = &CommandArgs{}
	}
	return e.CommandArgs
}

// ProcessorEntry is the per-processor view stored on a task instance.
type ProcessorEntry struct {
	ID                   string       `json:"id,omitempty"`
	Command              Command      `json:"command,omitempty"`
	CommandArgs          *CommandArgs `json:"commandArgs,omitempty"`
	IsCoProcessor        bool         `json:"isCoProcessor,omitempty"`
	CoProcessing         bool         `json:"coProcessing,omitempty"`
	CoProcessingDone     bool         `json:"coProcessingDone,omitempty"`
	CoProcessingPosition int          `json:"coProcessingPosition,omitempty"`
	PrevInstanceID       string       `json:"prevInstanceId,omitempty"`
}

// State is the task's own domain state.
type State struct {
	Current     string         `json:"current,omitempty"`
	Last        string         `json:"last,omitempty"`
	Done        bool           `json:"done,omitempty"`
	Address     map[string]any `json:"address,omitempty"`
	LastAddress map[string]any `json:"lastAddress,omitempty"`
}

// Meta holds runtime bookkeeping for a task instance.
type Meta struct {
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
	UpdatedAt          *time.Time `json:"updatedAt,omitempty"`
	LastUpdatedAt      *time.Time `json:"lastUpdatedAt,omitempty"`
	UpdateCount        int        `json:"updateCount,omitempty"`
	BroadcastCount     int        `json:"broadcastCount,omitempty"`
	RequestCount       int        `json:"requestCount,omitempty"`
	RequestsThisMinute int        `json:"requestsThisMinute,omitempty"`

	// Locked holds the processor id owning the advisory lock, empty when free.
	Locked string `json:"locked,omitempty"`

	// ParentID is the template parent in the hierarchical id namespace.
	ParentID string `json:"parentId,omitempty"`

	// Causal family linkage.
	ParentInstanceID   string   `json:"parentInstanceId,omitempty"`
	PrevInstanceID     string   `json:"prevInstanceId,omitempty"`
	ChildrenInstanceID []string `json:"childrenInstanceId,omitempty"`
}

// Error is a soft, renderable task failure.
type Error struct {
	Message string `json:"message"`
}

// Task is one live execution of a template, or the template itself before
// instantiation (InstanceID empty).
type Task struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type,omitempty"`
	InstanceID   string   `json:"instanceId,omitempty"`
	FamilyID     string   `json:"familyId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	GroupID      string   `json:"groupId,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	Environments []string `json:"environments,omitempty"`

	Config   map[string]any `json:"config,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Request  map[string]any `json:"request,omitempty"`
	Response map[string]any `json:"response,omitempty"`
	Privacy  map[string]any `json:"privacy,omitempty"`

	State *State `json:"state,omitempty"`
	Meta  *Meta  `json:"meta,omitempty"`

	// Processor is the sending processor's envelope on inbound messages.
	Processor *ProcessorEntry `json:"processor,omitempty"`
	// Processors maps every processor holding this instance to its entry.
	Processors map[string]*ProcessorEntry `json:"processors,omitempty"`

	Hub *Envelope `json:"hub,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// EnsureDefaults initializes every top-level substructure that the template
// may have left absent, so downstream code can mutate without nil checks.
func (t *Task) EnsureDefaults() {
	if t.Config == nil {
		t.Config = map[string]any{}
	}
	if t.Input == nil {
		t.Input = map[string]any{}
	}
	if t.Output == nil {
		t.Output = map[string]any{}
	}
	if t.Request == nil {
		t.Request = map[string]any{}
	}
	if t.Response == nil {
		t.Response = map[string]any{}
	}
	if t.Privacy == nil {
		t.Privacy = map[string]any{}
	}
	if t.State == nil {
		t.State = &State{}
	}
	if t.Meta == nil {
		t.Meta = &Meta{}
	}
	if t.Processors == nil {
		t.Processors = map[string]*ProcessorEntry{}
	}
	if t.Hub == nil {
		t.Hub = &Envelope{}
	}
}

// Clone returns a deep copy of the task via its wire form.
func (t *Task) Clone() *Task {
	data, err := json.Marshal(t)
	if err != nil {
		// Task is built from JSON-serializable parts only.
		panic("task: clone marshal: " + err.Error())
	}
	var out Task
	if err := json.Unmarshal(data, &out); err != nil {
		panic("task: clone unmarshal: " + err.Error())
	}
	return &out
}

// ConfigString reads a string config key, empty when absent or mistyped.
func (t *Task) ConfigString(key string) string {
	if t.Config == nil {
		return ""
	}
	s, _ := t.Config[key].(string)
	return s
}

// ConfigBool reads a bool config key.
func (t *Task) ConfigBool(key string) bool {
	if t.Config == nil {
		return false
	}
	b, _ := t.Config[key].(bool)
	return b
}

// ConfigInt reads a numeric config key. YAML and JSON decode numbers
// differently, so both int and float64 are accepted.
func (t *Task) ConfigInt(key string) int {
	if t.Config == nil {
		return 0
	}
	switch v := t.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// NextTask returns the configured follow-on template id, if any.
func (t *Task) NextTask() string {
	return t.ConfigString("nextTask")
}

// OneFamily reports whether initiations of this template converge on a
// single rejoinable instance per user.
func (t *Task) OneFamily() bool {
	return t.ConfigBool("oneFamily")
}

// CollaborateGroupID returns the group key for collaborate-mode templates.
func (t *Task) CollaborateGroupID() string {
	return t.ConfigString("collaborateGroupId")
}

// MaxRequestRate is the per-minute update budget, zero when unlimited.
func (t *Task) MaxRequestRate() int {
	return t.ConfigInt("maxRequestRate")
}

// MaxRequestCount is the cumulative request budget, zero when unlimited.
func (t *Task) MaxRequestCount() int {
	return t.ConfigInt("maxRequestCount")
}

// IsErrorHandler reports whether this task is an error-handler template.
func (t *Task) IsErrorHandler() bool {
	return len(t.ID) > 6 && t.ID[len(t.ID)-6:] == ".error"
}
