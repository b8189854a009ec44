package task

import "encoding/json"

// DeepMerge merges override into base and returns the result without
// mutating either input. Maps merge recursively, any other value in
// override replaces the base value, and absent override keys keep the
// base value. Arrays replace wholesale: composition directives are a
// template-load concern, not a merge concern.
func DeepMerge(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = copyValue(v)
	}
	for k, v := range override {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = DeepMerge(bm, om)
				continue
			}
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// Merge overlays an incoming task diff onto a base task. The result is a
// new task; inputs are untouched. Merging happens in wire form so that
// partial diffs behave exactly as they do between processors and the hub.
func Merge(base, override *Task) (*Task, error) {
	if base == nil {
		return override.Clone(), nil
	}
	if override == nil {
		return base.Clone(), nil
	}
	baseMap, err := toMap(base)
	if err != nil {
		return nil, err
	}
	overrideMap, err := toMap(override)
	if err != nil {
		return nil, err
	}
	merged := DeepMerge(baseMap, overrideMap)
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var out Task
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func toMap(t *Task) (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
