// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
		Sources: cli.EnvVars("SHARELIST_CONFIG"),
	}
}

// serveCommand runs the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the share link HTTP API",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.host and server.port",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for configuration, keys and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "key",
				Usage:  "Generate a token encryption key",
				Action: r.SetupKey,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent sqlite migration",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupRollback,
			},
		},
	}
}

// shareCommand manages share links from the terminal.
func shareCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "share",
		Usage: "Create and inspect share links",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a share link from owner tokens",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "playlist", Usage: "Spotify playlist ID", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Playlist name snapshot"},
					&cli.StringFlag{Name: "image", Usage: "Playlist image URL snapshot"},
					&cli.StringFlag{Name: "owner", Usage: "Owner Spotify user ID", Required: true},
					&cli.StringFlag{Name: "access-token", Usage: "Owner access token", Sources: cli.EnvVars("SHARELIST_OWNER_ACCESS_TOKEN"), Required: true},
					&cli.StringFlag{Name: "refresh-token", Usage: "Owner refresh token", Sources: cli.EnvVars("SHARELIST_OWNER_REFRESH_TOKEN"), Required: true},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.ShareCreate,
			},
			{
				Name:  "show",
				Usage: "Show share metadata",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "code"},
				},
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.ShareShow,
			},
			{
				Name:  "list",
				Usage: "List shares created by an owner",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "owner", Usage: "Owner Spotify user ID", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
					&cli.StringFlag{Name: "format", Usage: "Export format: csv, markdown, txt"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the export to this file instead of stdout"},
				},
				Action: r.ShareList,
			},
		},
	}
}

// tokenCommand exposes the token lifecycle for diagnostics.
func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Inspect share tokens",
		Commands: []*cli.Command{
			{
				Name:  "resolve",
				Usage: "Validate or refresh the owner token behind a share code",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "code"},
				},
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "show-token", Usage: "Print the access token"},
				},
				Action: r.TokenResolve,
			},
			{
				Name:  "check",
				Usage: "Validate or refresh the token of every share an owner created",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "owner", Usage: "Owner Spotify user ID", Required: true},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent checks", Value: 4},
					&cli.FloatFlag{Name: "rate", Usage: "Checks per second", Value: 5},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.TokenCheck,
			},
		},
	}
}

// authCommand runs the owner OAuth login.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Log in to Spotify as a playlist owner",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "playlist", Usage: "Share this playlist right after login"},
			&cli.DurationFlag{Name: "timeout", Usage: "How long to wait for the browser callback", Value: defaultAuthTimeout},
		},
		Action: r.Auth,
	}
}
