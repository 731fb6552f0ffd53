package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoader_EmbeddedDefaults(t *testing.T) {
	loader := NewLoader()

	for _, name := range []string{"review", "aggregate", "fix"} {
		body, err := loader.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if body == "" {
			t.Errorf("Get(%q) returned empty body", name)
		}
		if strings.HasPrefix(body, "---") {
			t.Errorf("Get(%q) body still contains frontmatter", name)
		}
	}
}

func TestLoader_Meta(t *testing.T) {
	loader := NewLoader()
	meta, err := loader.GetMeta("review")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID != "review" {
		t.Errorf("ID = %q, want review", meta.ID)
	}
	if meta.Description == "" {
		t.Error("Description empty")
	}
}

func TestLoader_OverrideWins(t *testing.T) {
	dir := t.TempDir()
	override := `---
id: review
name: Custom
---
Only check the quota accounting code.`
	if err := os.WriteFile(filepath.Join(dir, "review.md"), []byte(override), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(dir)
	body, err := loader.Get("review")
	if err != nil {
		t.Fatal(err)
	}
	if body != "Only check the quota accounting code." {
		t.Errorf("body = %q, want override content", body)
	}
}

func TestLoader_UnknownTemplate(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Get("nonexistent"); err == nil {
		t.Error("expected error for unknown template")
	}
}
