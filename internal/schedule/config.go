package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// EntryConfig describes one scheduled review run.
type EntryConfig struct {
	Name             string `toml:"name"`
	Cron             string `toml:"cron"`
	RunFile          string `toml:"run_file"`
	NotifyOnComplete bool   `toml:"notify_on_complete"`
}

// ScheduleConfig holds all scheduled entries.
type ScheduleConfig struct {
	Entries []EntryConfig `toml:"entry"`
}

// Validate checks if the entry is valid.
func (c *EntryConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("entry name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.RunFile == "" {
		return fmt.Errorf("run_file is required")
	}
	return nil
}

// LoadScheduleConfig loads the schedule from a TOML file.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Entries {
		if err := cfg.Entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	return &cfg, nil
}
