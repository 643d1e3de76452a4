package main

import (
	"context"
	"time"

	"github.com/desertthunder/sharelist/internal/server"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the share API until the process is interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := r.buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(a.shares, a.manager, a.gateway, server.Options{
		PublicBaseURL:  config.Server.PublicBaseURL,
		AllowedOrigins: config.Server.AllowedOrigins,
		RateLimit:      config.Server.RateLimit,
		RateBurst:      config.Server.RateBurst,
		Refresher:      a.refresher,
		Logger:         shared.WithLogger(r.logger, "component", "http"),
	})

	addr := config.Server.Addr()
	if override := cmd.String("addr"); override != "" {
		addr = override
	}

	timeout := time.Duration(config.Server.TimeoutSeconds) * time.Second
	return server.Serve(ctx, addr, srv.Router(), timeout, r.logger)
}
