package agent

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"mcpreview/internal/domain"
)

func TestToolFilter_NilFilter(t *testing.T) {
	var tf *ToolFilter
	if !tf.IsAllowed("git") {
		t.Error("nil filter should allow everything")
	}
	if !tf.IsEmpty() {
		t.Error("nil filter should be empty")
	}
	if missing := tf.MissingCapabilities([]string{"git:read"}); missing != nil {
		t.Errorf("nil filter should grant everything, missing %v", missing)
	}
}

func TestToolFilter_EmptyFilter(t *testing.T) {
	tf := NewToolFilter(nil, nil, nil)
	if !tf.IsAllowed("git") {
		t.Error("empty filter should allow everything")
	}
	if !tf.IsEmpty() {
		t.Error("empty filter should be empty")
	}
}

func TestToolFilter_AllowAndDeny(t *testing.T) {
	tests := []struct {
		name           string
		allowed, deny  []string
		tool           string
		want           bool
	}{
		{"allow list hit", []string{"git", "filesystem"}, nil, "git", true},
		{"allow list miss", []string{"git", "filesystem"}, nil, "database", false},
		{"deny list", nil, []string{"notification"}, "notification", false},
		{"deny list other", nil, []string{"notification"}, "git", true},
		{"deny overrides allow", []string{"git", "notification"}, []string{"notification"}, "notification", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewToolFilter(tt.allowed, tt.deny, nil).IsAllowed(tt.tool); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.tool, got, tt.want)
			}
		})
	}
}

func TestToolFilter_Capabilities(t *testing.T) {
	tf := NewToolFilter(nil, nil, []string{"filesystem:read", "git:read"})

	if missing := tf.MissingCapabilities([]string{"filesystem:read", "git:read"}); len(missing) != 0 {
		t.Errorf("unexpected missing %v", missing)
	}
	got := tf.MissingCapabilities([]string{"network:send", "git:read", "notification:send"})
	if diff := cmp.Diff([]string{"network:send", "notification:send"}, got); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}

	if !tf.Permits(&stubTool{name: "git", caps: []string{"git:read"}}) {
		t.Error("git should be permitted")
	}
	if tf.Permits(&stubTool{name: "notification", caps: []string{"network:send"}}) {
		t.Error("notification should need an ungranted capability")
	}
	if tf.IsEmpty() {
		t.Error("filter with a grant set should not be empty")
	}
}

func TestToolFilter_FilterSchemas(t *testing.T) {
	tools := map[string]domain.Tool{
		"database":     &stubTool{name: "database", caps: []string{"database:read"}},
		"filesystem":   &stubTool{name: "filesystem", caps: []string{"filesystem:read"}},
		"git":          &stubTool{name: "git", caps: []string{"filesystem:read", "git:read"}},
		"notification": &stubTool{name: "notification", caps: []string{"network:send"}},
	}
	lookup := func(name string) (domain.Tool, bool) {
		t, ok := tools[name]
		return t, ok
	}
	schemas := []domain.ToolSchema{
		{Name: "database"}, {Name: "filesystem"}, {Name: "git"}, {Name: "notification"}, {Name: "ghost"},
	}
	names := func(in []domain.ToolSchema) []string {
		var out []string
		for _, s := range in {
			out = append(out, s.Name)
		}
		return out
	}

	tests := []struct {
		name   string
		filter *ToolFilter
		want   []string
	}{
		{"allow list", NewToolFilter([]string{"git", "database"}, nil, nil), []string{"database", "git"}},
		{"deny list", NewToolFilter(nil, []string{"notification"}, nil), []string{"database", "filesystem", "git"}},
		{"capability grant", NewToolFilter(nil, nil, []string{"filesystem:read", "git:read"}), []string{"filesystem", "git"}},
		{"names and capabilities", NewToolFilter([]string{"git", "notification"}, nil, []string{"filesystem:read", "git:read"}), []string{"git"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, names(tt.filter.FilterSchemas(schemas, lookup))); diff != "" {
				t.Errorf("filtered mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if len(schemas) != 5 {
		t.Error("FilterSchemas must not modify its input")
	}

	var nilFilter *ToolFilter
	if got := nilFilter.FilterSchemas(schemas, lookup); len(got) != len(schemas) {
		t.Error("nil filter should return every schema")
	}
	if got := NewToolFilter(nil, nil, nil).FilterSchemas(nil, lookup); len(got) != 0 {
		t.Error("empty schemas should return empty")
	}
}
