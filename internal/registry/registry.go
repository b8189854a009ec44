// Package registry builds the hub's template lookup: an ordered list of
// flat template records, merged with their type defaults and parents,
// addressed by hierarchical dot-separated ids rooted at "root".
package registry

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

// Record is one flat template or type definition as configured.
type Record = map[string]any

// Keys that never inherit from the parent template.
var noInheritKeys = map[string]bool{
	"id":     true,
	"name":   true,
	"parent": true,
	"type":   true,
	"label":  true,
	"meta":   true,
}

// Registry is the immutable template lookup produced at load time.
type Registry struct {
	templates map[string]Record
	ids       []string
}

// Build merges the given template records against their types and parents
// and returns the populated registry. Records must be ordered so that
// parents precede children; any unresolved parent, duplicate id, or
// unknown type reference is a fatal configuration error.
func Build(types []Record, records []Record) (*Registry, error) {
	typeDefaults := make(map[string]Record, len(types))
	for _, t := range types {
		name, _ := t["name"].(string)
		if name == "" {
			return nil, errors.New(errors.ErrCodeTemplateType, "type record without a name")
		}
		if _, dup := typeDefaults[name]; dup {
			return nil, errors.Newf(errors.ErrCodeTemplateType, "duplicate type %q", name)
		}
		typeDefaults[name] = t
	}

	r := &Registry{templates: make(map[string]Record, len(records))}
	nameToID := map[string]string{}

	for _, rec := range records {
		name, _ := rec["name"].(string)
		if name == "" {
			return nil, errors.New(errors.ErrCodeTemplateInvalid, "template record without a name")
		}

		var id, parentID string
		if name == "root" {
			id = "root"
		} else {
			parentName, _ := rec["parent"].(string)
			resolved, ok := nameToID[parentName]
			if !ok {
				return nil, errors.Newf(errors.ErrCodeTemplateParent,
					"template %q references unknown parent %q", name, parentName)
			}
			parentID = resolved
			id = parentID + "." + name
		}
		if _, dup := r.templates[id]; dup {
			return nil, errors.Newf(errors.ErrCodeTemplateDuplicate, "duplicate template id %q", id)
		}

		merged := cloneRecord(rec)
		merged["id"] = id

		// Default label before any merge so a child never inherits its
		// parent's label.
		if cfg := ensureConfig(merged); cfg["label"] == nil {
			cfg["label"] = capitalize(name)
		}

		// Type defaults first so APPEND_/PREPEND_ directives see them too.
		if typeName, _ := merged["type"].(string); typeName != "" {
			defaults, ok := typeDefaults[typeName]
			if !ok {
				return nil, errors.Newf(errors.ErrCodeTemplateType,
					"template %q references unknown type %q", id, typeName)
			}
			mergeType(merged, defaults)
		}

		if parentID != "" {
			mergeParent(merged, r.templates[parentID])
		}
		resolveDirectives(merged)
		if cfg := configOf(merged); cfg != nil {
			resolveDirectives(cfg)
		}

		meta := map[string]any{}
		if parentID != "" {
			meta["parentId"] = parentID
			parentMeta := ensureMeta(r.templates[parentID])
			children, _ := parentMeta["childrenId"].([]any)
			parentMeta["childrenId"] = append(children, id)
		}
		merged["meta"] = meta

		rewriteRelativeRefs(ensureConfig(merged), parentID)

		r.templates[id] = merged
		r.ids = append(r.ids, id)
		nameToID[name] = id
	}

	sort.Strings(r.ids)
	return r, nil
}

// Has reports whether id names a configured template.
func (r *Registry) Has(id string) bool {
	_, ok := r.templates[id]
	return ok
}

// IDs returns all template ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Get returns a fresh task copy of the fully merged template.
func (r *Registry) Get(id string) (*task.Task, error) {
	rec, ok := r.templates[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeTemplateNotFound, "no template with id %q", id)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTemplateInvalid, "encode template "+id, err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(errors.ErrCodeTemplateInvalid, "decode template "+id, err)
	}
	return &t, nil
}

// Raw returns the merged record for id, for inspection in tests and the
// validate command. Callers must not mutate the result.
func (r *Registry) Raw(id string) (Record, bool) {
	rec, ok := r.templates[id]
	return rec, ok
}

// ErrorHandlerFor walks id up its hierarchy, replacing each trailing
// segment with "error", and returns the nearest configured handler id.
// Returns empty when no ancestor defines one.
func (r *Registry) ErrorHandlerFor(id string) string {
	segments := strings.Split(id, ".")
	for i := len(segments) - 1; i >= 0; i-- {
		candidate := append(append([]string{}, segments[:i]...), "error")
		handlerID := strings.Join(candidate, ".")
		if r.Has(handlerID) {
			return handlerID
		}
	}
	return ""
}

// mergeType overlays the type defaults under the record: config keys from
// the record override the defaults, every other key takes the defaults as
// the authoritative side, matching instance-over-type for config only.
func mergeType(rec Record, defaults Record) {
	for key, defVal := range defaults {
		if key == "id" || key == "name" || key == "parent" {
			continue
		}
		if key == "config" {
			rec["config"] = task.DeepMerge(asMap(defVal), asMap(rec["config"]))
			continue
		}
		rec[key] = mergeValue(rec[key], defVal)
	}
}

// mergeParent copies parent keys into the record using the per-key merge
// policy: Override when the record defines the key, AppendArray and
// PrependArray for composition directives, inherit otherwise.
func mergeParent(rec Record, parent Record) {
	for key, parentVal := range parent {
		if noInheritKeys[key] {
			continue
		}
		if key == "config" {
			if rec["config"] == nil {
				rec["config"] = map[string]any{}
			}
			childCfg := asMap(rec["config"])
			for cfgKey, parentCfgVal := range asMap(parentVal) {
				applyMerge(childCfg, cfgKey, parentCfgVal)
			}
			rec["config"] = childCfg
			continue
		}
		applyMerge(rec, key, parentVal)
	}
}

// applyMerge resolves the merge policy for one key and applies it.
func applyMerge(child Record, key string, parentVal any) {
	switch policyFor(child, key) {
	case policyOverride:
		child[key] = mergeValue(parentVal, child[key])
	case policyInherit:
		child[key] = copyAny(parentVal)
	case policyAppend:
		child[key] = concatValues(parentVal, child[directiveAppend+key])
		delete(child, directiveAppend+key)
	case policyPrepend:
		child[key] = concatValues(child[directivePrepend+key], parentVal)
		delete(child, directivePrepend+key)
	}
}

// resolveDirectives materializes any directive left over for keys the
// parent never defined, so no APPEND_/PREPEND_ key survives load.
func resolveDirectives(rec Record) {
	for key, val := range rec {
		bare := ""
		prepend := false
		if strings.HasPrefix(key, directiveAppend) {
			bare = strings.TrimPrefix(key, directiveAppend)
		} else if strings.HasPrefix(key, directivePrepend) {
			bare = strings.TrimPrefix(key, directivePrepend)
			prepend = true
		} else {
			continue
		}
		if prepend {
			rec[bare] = concatValues(val, rec[bare])
		} else {
			rec[bare] = concatValues(rec[bare], val)
		}
		delete(rec, key)
	}
}

// rewriteRelativeRefs makes relative nextTask references absolute.
func rewriteRelativeRefs(cfg map[string]any, parentID string) {
	if parentID == "" {
		return
	}
	if next, ok := cfg["nextTask"].(string); ok && !strings.Contains(next, ".") {
		cfg["nextTask"] = parentID + "." + next
	}
	if nextTemplate, ok := cfg["nextTaskTemplate"].(map[string]any); ok {
		for k, v := range nextTemplate {
			if ref, ok := v.(string); ok && !strings.Contains(ref, ".") {
				nextTemplate[k] = parentID + "." + ref
			}
		}
	}
}

func ensureConfig(rec Record) map[string]any {
	cfg := asMap(rec["config"])
	if cfg == nil {
		cfg = map[string]any{}
	}
	rec["config"] = cfg
	return cfg
}

func configOf(rec Record) map[string]any {
	return asMap(rec["config"])
}

func ensureMeta(rec Record) map[string]any {
	meta := asMap(rec["meta"])
	if meta == nil {
		meta = map[string]any{}
	}
	rec["meta"] = meta
	return meta
}

func cloneRecord(rec Record) Record {
	return task.DeepMerge(nil, rec)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func copyAny(v any) any {
	if m, ok := v.(map[string]any); ok {
		return task.DeepMerge(nil, m)
	}
	if a, ok := v.([]any); ok {
		out := make([]any, len(a))
		copy(out, a)
		return out
	}
	return v
}

// mergeValue merges two values with the override winning; maps merge
// recursively, nil override keeps the base.
func mergeValue(base, override any) any {
	if override == nil {
		return copyAny(base)
	}
	if bm, ok := base.(map[string]any); ok {
		if om, ok := override.(map[string]any); ok {
			return task.DeepMerge(bm, om)
		}
	}
	return copyAny(override)
}

// concatValues joins first then second: arrays concatenate, strings
// concatenate, nil sides drop out.
func concatValues(first, second any) any {
	if first == nil {
		return copyAny(second)
	}
	if second == nil {
		return copyAny(first)
	}
	if fa, ok := first.([]any); ok {
		if sa, ok := second.([]any); ok {
			out := make([]any, 0, len(fa)+len(sa))
			out = append(out, fa...)
			out = append(out, sa...)
			return out
		}
	}
	if fs, ok := first.(string); ok {
		if ss, ok := second.(string); ok {
			return fs + ss
		}
	}
	// Mixed shapes fall back to the second operand, mirroring override.
	return copyAny(second)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
