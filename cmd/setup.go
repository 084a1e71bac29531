package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup writes config.toml from the template when it is missing, then creates and migrates the
// session database it names.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	config, created, err := r.ensureConfig(configPath)
	if err != nil {
		return err
	}
	if created {
		r.writePlain("%s Wrote %s\n", r.palette.OK("✓"), configPath)
	}

	r.logger.Info("initializing session database", "path", config.Database.Path)
	db, err := shared.OpenSessionDatabase(config.Database)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	r.config = config
	r.writePlain("%s Session database ready at %s\n", r.palette.OK("✓"), config.Database.Path)

	if err := config.Validate(); err != nil {
		r.writePlain("%s %v\n", r.palette.Warn("!"), err)
		r.writePlain("%s\n", r.palette.Help("Edit "+configPath+" before running login or serve."))
		return nil
	}
	r.writePlain("Run 'deemusic login' to sign in.\n")
	return nil
}

// ensureConfig loads the config at path, creating it from the embedded template first if needed.
// An unreadable existing file is an error rather than a silent fallback to defaults.
func (r *Runner) ensureConfig(path string) (*shared.Config, bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		config, err := shared.LoadConfig(path)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
		}
		return config, false, nil
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Info("config file not found, creating from template", "path", path)
		if err := shared.CreateConfigFile(path); err != nil {
			return nil, false, err
		}
		config, err := shared.LoadConfig(path)
		if err != nil {
			return nil, true, err
		}
		return config, true, nil
	default:
		return nil, false, fmt.Errorf("failed to stat config: %w", err)
	}
}
