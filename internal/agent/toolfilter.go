package agent

import (
	"slices"

	"mcpreview/internal/domain"
)

// ToolFilter decides which tools a session may expose and run.
// Name rules come from allow/deny lists; capability rules from the granted set.
type ToolFilter struct {
	allowed map[string]bool // if non-empty, only these tools are allowed
	denied  map[string]bool
	granted map[string]bool // if non-empty, tools needing anything else are refused
}

// NewToolFilter builds a filter. Denied names always lose, even when allowed.
func NewToolFilter(allowed, denied, grantedCapabilities []string) *ToolFilter {
	tf := &ToolFilter{
		allowed: make(map[string]bool),
		denied:  make(map[string]bool),
		granted: make(map[string]bool),
	}
	for _, t := range allowed {
		tf.allowed[t] = true
	}
	for _, t := range denied {
		tf.denied[t] = true
	}
	for _, c := range grantedCapabilities {
		tf.granted[c] = true
	}
	return tf
}

// IsAllowed reports whether the tool name passes the allow/deny lists.
func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil {
		return true
	}
	if tf.denied[name] {
		return false
	}
	if len(tf.allowed) > 0 {
		return tf.allowed[name]
	}
	return true
}

// MissingCapabilities returns the required capabilities that were not granted.
// An empty grant set grants everything.
func (tf *ToolFilter) MissingCapabilities(required []string) []string {
	if tf == nil || len(tf.granted) == 0 {
		return nil
	}
	var missing []string
	for _, c := range required {
		if !tf.granted[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// Permits combines the name rules and the capability grant for one tool.
func (tf *ToolFilter) Permits(t domain.Tool) bool {
	return tf.IsAllowed(t.Name()) && len(tf.MissingCapabilities(t.RequiredCapabilities())) == 0
}

// FilterSchemas keeps the catalog entries this filter permits. lookup resolves
// an entry to its tool so capability grants can be checked; entries it cannot
// resolve are dropped. The input slice is not modified.
func (tf *ToolFilter) FilterSchemas(schemas []domain.ToolSchema, lookup func(string) (domain.Tool, bool)) []domain.ToolSchema {
	if tf.IsEmpty() {
		return schemas
	}
	return slices.DeleteFunc(slices.Clone(schemas), func(s domain.ToolSchema) bool {
		t, ok := lookup(s.Name)
		return !ok || !tf.Permits(t)
	})
}

// IsEmpty reports whether the filter has no rules at all.
func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || (len(tf.allowed) == 0 && len(tf.denied) == 0 && len(tf.granted) == 0)
}
