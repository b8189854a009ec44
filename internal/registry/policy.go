package registry

// Composition directive prefixes recognized in template records.
const (
	directiveAppend  = "APPEND_"
	directivePrepend = "PREPEND_"
)

// mergePolicy is the per-key rule used when merging a child template
// against its parent, resolved once at load time.
type mergePolicy int

const (
	// policyInherit takes the parent's value because the child has none.
	policyInherit mergePolicy = iota
	// policyOverride deep-merges with the child winning.
	policyOverride
	// policyAppend concatenates the child's APPEND_ values after the parent's.
	policyAppend
	// policyPrepend concatenates the child's PREPEND_ values before the parent's.
	policyPrepend
)

// policyFor resolves the merge policy for key on the child record.
// A composition directive takes precedence over a plain child value.
func policyFor(child Record, key string) mergePolicy {
	if _, ok := child[directiveAppend+key]; ok {
		return policyAppend
	}
	if _, ok := child[directivePrepend+key]; ok {
		return policyPrepend
	}
	if _, ok := child[key]; ok {
		return policyOverride
	}
	return policyInherit
}
