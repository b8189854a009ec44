// Package resolver substitutes cross-task references in task config.
//
// Any config key ending in "Template" produces a sibling key (suffix
// stripped) whose value is built by resolving each token of a string
// array and concatenating the results: references into the family's
// output store, USER profile fields, or literals.
package resolver

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

const templateSuffix = "Template"

// Scope classifies a parsed token.
type Scope int

const (
	// ScopeLiteral tokens substitute as themselves.
	ScopeLiteral Scope = iota
	// ScopeOutput tokens read a field of a prior task's output.
	ScopeOutput
	// ScopeUser tokens read a field of the acting user's profile.
	ScopeUser
)

// Reference is a token parsed into typed form, once, instead of being
// regex-matched on every resolution.
type Reference struct {
	Scope Scope

	// TaskID is the referenced template id (without the ".output" suffix)
	// for ScopeOutput.
	TaskID string

	// Field names the output or profile field to read.
	Field string

	// Literal carries the raw token for ScopeLiteral.
	Literal string
}

// ParseToken classifies one token. parentID anchors relative references:
// a token whose first segment is not "root" and not all-uppercase reads
// the output of a sibling template under parentID.
func ParseToken(token, parentID string) Reference {
	first, last, ok := splitEnds(token)
	if !ok {
		return Reference{Scope: ScopeLiteral, Literal: token}
	}
	if first == "USER" {
		if field, ok := strings.CutPrefix(token, "USER."); ok && !strings.Contains(field, ".") {
			return Reference{Scope: ScopeUser, Field: field}
		}
		return Reference{Scope: ScopeLiteral, Literal: token}
	}
	if isAllCaps(first) {
		return Reference{Scope: ScopeLiteral, Literal: token}
	}

	var taskID string
	if first == "root" {
		// Absolute: everything before the field names the task.
		taskID = strings.TrimSuffix(token[:strings.LastIndex(token, ".")], ".output")
	} else {
		// Relative: the first segment names a sibling template.
		taskID = parentID + "." + first
	}
	return Reference{Scope: ScopeOutput, TaskID: taskID, Field: last}
}

// Resolver resolves template fields for one task instance at start time.
type Resolver struct {
	// Outputs is the family's output store: templateId.output → object.
	Outputs map[string]map[string]any
	// User is the acting user's profile.
	User map[string]any
	// ParentID is the instantiated template's parent id.
	ParentID string
	// FamilyID is used in failure messages only.
	FamilyID string
}

// ResolveConfig walks cfg recursively and materializes every
// "...Template" field into its stripped sibling key. Resolution failures
// are fatal: a referenced output field must exist.
func (r *Resolver) ResolveConfig(cfg map[string]any) error {
	if cfg == nil {
		return nil
	}
	for _, value := range cfg {
		if nested, ok := value.(map[string]any); ok {
			if err := r.ResolveConfig(nested); err != nil {
				return err
			}
		}
	}
	for key, value := range cfg {
		if !strings.HasSuffix(key, templateSuffix) || key == templateSuffix {
			continue
		}
		stripped := strings.TrimSuffix(key, templateSuffix)
		resolved, err := r.resolveValue(value)
		if err != nil {
			return err
		}
		cfg[stripped] = resolved
	}
	return nil
}

// resolveValue substitutes a template value: a string array collapses to
// one concatenated string, nested structures resolve recursively.
func (r *Resolver) resolveValue(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		if tokens, ok := stringTokens(v); ok {
			return r.substitute(tokens)
		}
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// substitute resolves each token and concatenates the results with no
// separator.
func (r *Resolver) substitute(tokens []string) (string, error) {
	var b strings.Builder
	for _, token := range tokens {
		ref := ParseToken(token, r.ParentID)
		switch ref.Scope {
		case ScopeLiteral:
			b.WriteString(ref.Literal)
		case ScopeUser:
			val, ok := r.User[ref.Field]
			if !ok {
				return "", errors.Newf(errors.ErrCodeUserFieldNotFound,
					"user profile has no field %q", ref.Field)
			}
			b.WriteString(stringify(val))
		case ScopeOutput:
			key := ref.TaskID + ".output"
			output, ok := r.Outputs[key]
			if !ok {
				return "", errors.Newf(errors.ErrCodeOutputNotFound,
					"output store %s has no entry %s", r.FamilyID, key)
			}
			val, ok := output[ref.Field]
			if !ok {
				return "", errors.Newf(errors.ErrCodeOutputFieldNotFound,
					"output store %s entry %s has no field %q", r.FamilyID, key, ref.Field)
			}
			b.WriteString(stringify(val))
		}
	}
	return b.String(), nil
}

// splitEnds returns the first and last dot-separated segments of a token
// containing at least one dot and no whitespace in those segments.
func splitEnds(token string) (first, last string, ok bool) {
	dot := strings.Index(token, ".")
	if dot <= 0 {
		return "", "", false
	}
	lastDot := strings.LastIndex(token, ".")
	first = token[:dot]
	last = token[lastDot+1:]
	if last == "" || strings.ContainsAny(first, " \t") || strings.ContainsAny(last, " \t") {
		return "", "", false
	}
	return first, last, true
}

func isAllCaps(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != ' ' {
			return false
		}
	}
	return true
}

func stringTokens(v []any) ([]string, bool) {
	if len(v) == 0 {
		return nil, false
	}
	out := make([]string, len(v))
	for i, item := range v {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
