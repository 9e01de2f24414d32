package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.rego", "package powerdown.protection\n")
	writePolicy(t, dir, "a_test.rego", "package powerdown.protection_test\n")
	writePolicy(t, dir, "notes.txt", "not a policy")

	nested := filepath.Join(dir, "nested")
	if err := os.Mkdir(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	writePolicy(t, nested, "b.rego", "package powerdown.protection\n")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Errorf("unexpected policies: %v", names)
	}
}

func TestLoadFromPathsErrors(t *testing.T) {
	dir := t.TempDir()
	txt := writePolicy(t, dir, "policy.json", "{}")

	tests := []struct {
		name  string
		paths []string
	}{
		{name: "missing path", paths: []string{filepath.Join(dir, "missing.rego")}},
		{name: "unsupported file", paths: []string{txt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(zerolog.Nop()).LoadFromPaths(tt.paths); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "leading block",
			content: "# Keep the\n# file servers up.\npackage x\n# later comment\n",
			want:    "Keep the file servers up.",
		},
		{
			name:    "no comments",
			content: "package x\n",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
