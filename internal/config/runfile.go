package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// RunFile is a YAML run request: everything needed to start one review
// run. Used by `review-orch run --file` and by scheduled runs.
type RunFile struct {
	Workspace        string   `yaml:"workspace"`
	Workers          int      `yaml:"workers"`
	Prompt           string   `yaml:"prompt"`
	Prompts          []string `yaml:"prompts"`
	PromptsFile      string   `yaml:"prompts_file"`
	AggregatePrompt  string   `yaml:"aggregate_prompt"`
	FixPrompt        string   `yaml:"fix_prompt"`
	Model            string   `yaml:"model"`
	FullAuto         *bool    `yaml:"full_auto"`
	SkipGitRepoCheck *bool    `yaml:"skip_git_repo_check"`
	Ephemeral        bool     `yaml:"ephemeral"`
	Aggregate        bool     `yaml:"aggregate"`
	Fix              bool     `yaml:"fix"`
}

// LoadRunFile parses a YAML run request and resolves it against the
// application defaults into a run configuration.
func LoadRunFile(path string, defaults *Config) (*domain.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", path, err)
	}

	return rf.ToRunConfig(defaults)
}

// ToRunConfig resolves the request against application defaults
func (rf *RunFile) ToRunConfig(defaults *Config) (*domain.RunConfig, error) {
	cfg := &domain.RunConfig{
		Workspace:        ExpandPath(rf.Workspace),
		WorkerCount:      rf.Workers,
		Prompt:           rf.Prompt,
		PromptList:       rf.Prompts,
		AggregatePrompt:  rf.AggregatePrompt,
		FixPrompt:        rf.FixPrompt,
		Model:            rf.Model,
		Ephemeral:        rf.Ephemeral,
		RunAggregate:     rf.Aggregate,
		RunFix:           rf.Fix,
		FullAuto:         defaults.Agent.FullAuto,
		SkipGitRepoCheck: defaults.Agent.SkipGitRepoCheck,
	}

	if cfg.Model == "" {
		cfg.Model = defaults.Agent.Model
	}
	if rf.FullAuto != nil {
		cfg.FullAuto = *rf.FullAuto
	}
	if rf.SkipGitRepoCheck != nil {
		cfg.SkipGitRepoCheck = *rf.SkipGitRepoCheck
	}

	if rf.PromptsFile != "" {
		if len(cfg.PromptList) > 0 {
			return nil, fmt.Errorf("prompts and prompts_file are mutually exclusive")
		}
		prompts, err := ReadPromptList(ExpandPath(rf.PromptsFile))
		if err != nil {
			return nil, err
		}
		cfg.PromptList = prompts
	}

	return cfg, nil
}

// ReadPromptList reads a line-delimited prompt file: one worker prompt
// per non-empty line, in file order.
func ReadPromptList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var prompts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
	}
	return prompts, nil
}
