package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/sharelist/internal/codec"
	"github.com/desertthunder/sharelist/internal/repositories"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/ui"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("%s\n", ui.Default.OK("Config written to "+path))
	r.writePlain("%s\n", ui.Default.Help("Set credentials.spotify and encryption.key, or their SHARELIST_* environment variables."))
	return nil
}

// SetupKey prints a fresh base64 encryption key.
func (r *Runner) SetupKey(ctx context.Context, cmd *cli.Command) error {
	key, err := codec.GenerateKey()
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", key)
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	switch config.Database.Driver {
	case "postgres":
		r.logger.Info("initializing postgres schema")
		pool, err := shared.NewPostgresPool(ctx, config.Database.URL, config.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := repositories.NewPGShareRepository(pool).EnsureSchema(ctx); err != nil {
			return err
		}
		r.writePlain("%s\n", ui.Default.OK("Postgres schema ready"))
		return nil

	default:
		r.logger.Info("initializing database", "path", config.Database.Path)
		db, err := r.openSQLite(config)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		defer db.Close()

		r.logger.Infof("setup complete for database: %v", config.Database.Path)
		r.writePlain("%s\n", ui.Default.OK("Database ready at "+config.Database.Path))
		return nil
	}
}

// SetupRollback reverts the latest sqlite migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	if config.Database.Driver == "postgres" {
		return fmt.Errorf("%w: rollback is only supported for sqlite", shared.ErrInvalidArgument)
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return err
	}
	r.writePlain("%s\n", ui.Default.OK("Rolled back latest migration"))
	return nil
}
