//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// stubAgent is a shell script implementing the agent CLI contract: it
// scans its arguments for --output-last-message and writes the prompt
// (its last argument) into that file.
const stubAgent = `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-last-message" ]; then
    out="$arg"
  fi
  prev="$arg"
done
prompt=""
for arg in "$@"; do
  prompt="$arg"
done
if [ -n "$out" ]; then
  printf 'findings for: %s\n' "$prompt" > "$out"
fi
exit 0
`

// StubAgentPath writes the stub agent script and returns its path
func StubAgentPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-agent")
	if err := os.WriteFile(path, []byte(stubAgent), 0o755); err != nil {
		t.Fatalf("Failed to write stub agent: %v", err)
	}
	return path
}

// TempWorkspace creates a workspace directory with one source file
func TempWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	if err := os.WriteFile(src, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("Failed to seed workspace: %v", err)
	}
	return dir
}

// WriteTestConfig writes an application config pointing at the stub agent
func WriteTestConfig(t *testing.T, agentBinary string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")

	config := `[agent]
binary = "` + agentBinary + `"
full_auto = true
skip_git_repo_check = true

[notifications]
desktop = false

[web]
port = 8080
host = "127.0.0.1"
`

	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}
