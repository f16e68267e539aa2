package main

import (
	"fmt"

	"github.com/wireloop/agentplane/internal/config"
)

// loadConfig loads and validates the YAML config at path, wrapping Load's
// error the way the teacher's handlers wrap config.Load failures.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}
