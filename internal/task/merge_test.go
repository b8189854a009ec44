package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]any
		override map[string]any
		want     map[string]any
	}{
		{
			name:     "override wins on scalar",
			base:     map[string]any{"a": 1},
			override: map[string]any{"a": 2},
			want:     map[string]any{"a": 2},
		},
		{
			name:     "absent override keeps base",
			base:     map[string]any{"a": 1, "b": "x"},
			override: map[string]any{"a": 2},
			want:     map[string]any{"a": 2, "b": "x"},
		},
		{
			name:     "maps merge recursively",
			base:     map[string]any{"cfg": map[string]any{"x": 1, "y": 2}},
			override: map[string]any{"cfg": map[string]any{"y": 3, "z": 4}},
			want:     map[string]any{"cfg": map[string]any{"x": 1, "y": 3, "z": 4}},
		},
		{
			name:     "arrays replace wholesale",
			base:     map[string]any{"envs": []any{"ui", "compute"}},
			override: map[string]any{"envs": []any{"ui"}},
			want:     map[string]any{"envs": []any{"ui"}},
		},
		{
			name:     "scalar replaces map",
			base:     map[string]any{"a": map[string]any{"b": 1}},
			override: map[string]any{"a": "flat"},
			want:     map[string]any{"a": "flat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeepMerge(tt.base, tt.override)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeepMergeDoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"cfg": map[string]any{"x": 1}}
	override := map[string]any{"cfg": map[string]any{"y": 2}}

	got := DeepMerge(base, override)
	got["cfg"].(map[string]any)["x"] = 99

	assert.Equal(t, 1, base["cfg"].(map[string]any)["x"])
	assert.NotContains(t, base["cfg"].(map[string]any), "y")
}

func TestMergeTaskDiff(t *testing.T) {
	active := &Task{
		ID:         "root.example.start",
		InstanceID: "inst-1",
		FamilyID:   "fam-1",
		Config:     map[string]any{"maxRequestRate": 5, "label": "Start"},
		Output:     map[string]any{"text": "hello"},
		Meta:       &Meta{RequestCount: 3},
	}
	diff := &Task{
		InstanceID: "inst-1",
		Output:     map[string]any{"done": true},
	}

	merged, err := Merge(active, diff)
	require.NoError(t, err)

	assert.Equal(t, "root.example.start", merged.ID)
	assert.Equal(t, "fam-1", merged.FamilyID)
	assert.Equal(t, "hello", merged.Output["text"])
	assert.Equal(t, true, merged.Output["done"])
	// Counters absent from the diff survive from the active record.
	assert.Equal(t, 3, merged.Meta.RequestCount)
	assert.Equal(t, 5, merged.MaxRequestRate())
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Task{
		ID:     "root.a",
		Config: map[string]any{"nested": map[string]any{"k": "v"}},
	}
	clone := orig.Clone()
	clone.Config["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "v", orig.Config["nested"].(map[string]any)["k"])
}

func TestConfigAccessors(t *testing.T) {
	tk := &Task{Config: map[string]any{
		"nextTask":           "root.example.stop",
		"oneFamily":          true,
		"collaborateGroupId": "team",
		"maxRequestRate":     float64(5), // as decoded from JSON
		"maxRequestCount":    30,
	}}

	assert.Equal(t, "root.example.stop", tk.NextTask())
	assert.True(t, tk.OneFamily())
	assert.Equal(t, "team", tk.CollaborateGroupID())
	assert.Equal(t, 5, tk.MaxRequestRate())
	assert.Equal(t, 30, tk.MaxRequestCount())

	empty := &Task{}
	assert.Equal(t, "", empty.NextTask())
	assert.Zero(t, empty.MaxRequestRate())
}

func TestIsErrorHandler(t *testing.T) {
	assert.True(t, (&Task{ID: "root.conversation.error"}).IsErrorHandler())
	assert.False(t, (&Task{ID: "root.conversation.start"}).IsErrorHandler())
	assert.False(t, (&Task{ID: "error"}).IsErrorHandler())
}
