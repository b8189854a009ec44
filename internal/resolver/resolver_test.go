package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

func TestParseToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		parentID string
		want     Reference
	}{
		{
			name:  "literal without dot",
			token: "hello",
			want:  Reference{Scope: ScopeLiteral, Literal: "hello"},
		},
		{
			name:  "all caps literal",
			token: "NOTE.this",
			want:  Reference{Scope: ScopeLiteral, Literal: "NOTE.this"},
		},
		{
			name:  "user reference",
			token: "USER.language",
			want:  Reference{Scope: ScopeUser, Field: "language"},
		},
		{
			name:     "relative output reference",
			token:    "summarize.text",
			parentID: "root.exercise",
			want:     Reference{Scope: ScopeOutput, TaskID: "root.exercise.summarize", Field: "text"},
		},
		{
			name:  "absolute output reference",
			token: "root.exercise.summarize.output.text",
			want:  Reference{Scope: ScopeOutput, TaskID: "root.exercise.summarize", Field: "text"},
		},
		{
			name:  "absolute without output suffix",
			token: "root.x.text",
			want:  Reference{Scope: ScopeOutput, TaskID: "root.x", Field: "text"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseToken(tt.token, tt.parentID)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newResolver() *Resolver {
	return &Resolver{
		Outputs: map[string]map[string]any{
			"root.x.output": {"text": "hello"},
		},
		User:     map[string]any{"name": "Ada", "language": "EN"},
		ParentID: "root",
		FamilyID: "fam-1",
	}
}

func TestResolveConfigSubstitution(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"greetingTemplate": []any{"root.x.text", ", ", "USER.name", "!"},
	}

	require.NoError(t, r.ResolveConfig(cfg))
	assert.Equal(t, "hello, Ada!", cfg["greeting"])
	// The Template key itself survives; only the sibling is added.
	assert.Contains(t, cfg, "greetingTemplate")
}

func TestResolveConfigRelativeReference(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"promptTemplate": []any{"x.text"},
	}
	require.NoError(t, r.ResolveConfig(cfg))
	assert.Equal(t, "hello", cfg["prompt"])
}

func TestResolveConfigNested(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"local": map[string]any{
			"instructionTemplate": []any{"Say: ", "root.x.output.text"},
		},
	}
	require.NoError(t, r.ResolveConfig(cfg))
	local := cfg["local"].(map[string]any)
	assert.Equal(t, "Say: hello", local["instruction"])
}

func TestResolveConfigMissingOutput(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"promptTemplate": []any{"missing.text"},
	}
	err := r.ResolveConfig(cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOutputNotFound, errors.CodeOf(err))
}

func TestResolveConfigMissingField(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"promptTemplate": []any{"x.nothere"},
	}
	err := r.ResolveConfig(cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOutputFieldNotFound, errors.CodeOf(err))
}

func TestResolveConfigMissingUserField(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"promptTemplate": []any{"USER.shoeSize"},
	}
	err := r.ResolveConfig(cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUserFieldNotFound, errors.CodeOf(err))
}

func TestResolveConfigLiteralsOnly(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"promptTemplate": []any{"a", "b", "c"},
	}
	require.NoError(t, r.ResolveConfig(cfg))
	assert.Equal(t, "abc", cfg["prompt"])
}

func TestResolveConfigNonStringValuesUntouched(t *testing.T) {
	r := newResolver()
	cfg := map[string]any{
		"countTemplate": 5,
	}
	require.NoError(t, r.ResolveConfig(cfg))
	assert.Equal(t, 5, cfg["count"])
}
