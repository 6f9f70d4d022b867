package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wolfeidau/chunkplan/internal/config"
	"gopkg.in/yaml.v3"
)

// InitCmd writes a default project file.
type InitCmd struct {
	Dir   string `arg:"" optional:"" default:"." help:"project directory" type:"path"`
	Mode  string `help:"build mode of the generated rules" enum:"production,development" default:"production"`
	Force bool   `help:"overwrite an existing project file" default:"false"`
}

func (c *InitCmd) Run(globals *Globals) error {
	path := filepath.Join(c.Dir, config.DefaultFile)
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists\n\nTo overwrite:\n  chunkplan init --force %s", path, c.Dir)
	}

	cfg := config.Default()
	cfg.Mode = c.Mode
	cfg.Rules = config.DefaultRules(c.Mode)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode project file: %w", err)
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	// #nosec G306 - project files are committed alongside sources
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}

	fmt.Fprintf(globals.stdout(), "Wrote %s\n", path)
	return nil
}
