package prompts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Meta holds the frontmatter metadata of a prompt template
type Meta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Loader resolves prompt templates, preferring override directories over
// the embedded defaults. Directories are checked in order; first match
// wins.
type Loader struct {
	overrideDirs []string
	cache        map[string]string
	mu           sync.RWMutex
}

// NewLoader creates a loader with the given override directories
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]string),
	}
}

// DefaultLoader creates a loader with the standard override paths:
// 1. Workspace-local: <workspace>/.review-orchestrator/prompts/
// 2. User config: ~/.config/review-orchestrator/prompts/
func DefaultLoader(workspace string) *Loader {
	home, _ := os.UserHomeDir()
	var dirs []string
	if workspace != "" {
		dirs = append(dirs, filepath.Join(workspace, ".review-orchestrator", "prompts"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "review-orchestrator", "prompts"))
	return NewLoader(dirs...)
}

// Get returns the body of the named template (e.g. "review")
func (l *Loader) Get(name string) (string, error) {
	l.mu.RLock()
	if body, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return body, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(name + ".md")
	if err != nil {
		return "", fmt.Errorf("loading prompt %q: %w", name, err)
	}

	_, body, err := parseFrontmatter(content)
	if err != nil {
		return "", fmt.Errorf("parsing prompt %q: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = body
	l.mu.Unlock()
	return body, nil
}

// GetMeta returns the frontmatter metadata of the named template
func (l *Loader) GetMeta(name string) (*Meta, error) {
	content, err := l.loadContent(name + ".md")
	if err != nil {
		return nil, err
	}
	meta, _, err := parseFrontmatter(content)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// loadContent loads raw content from override dirs or the embedded FS
func (l *Loader) loadContent(file string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, file)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, "templates/"+file)
}

// parseFrontmatter splits content into YAML frontmatter and body
func parseFrontmatter(content []byte) (*Meta, string, error) {
	str := string(content)
	if !strings.HasPrefix(str, "---\n") {
		return &Meta{}, strings.TrimSpace(str), nil
	}

	rest := str[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return &Meta{}, strings.TrimSpace(str), nil
	}

	var meta Meta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, "", err
	}

	body := rest[end+4:]
	return &meta, strings.TrimSpace(body), nil
}
