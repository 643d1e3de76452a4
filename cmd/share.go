package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sharelist/internal/formatter"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/shares"
	"github.com/desertthunder/sharelist/internal/tasks"
	"github.com/desertthunder/sharelist/internal/tokens"
	"github.com/desertthunder/sharelist/internal/ui"
	"github.com/urfave/cli/v3"
)

// shareBaseURL is where links printed by the CLI point when no public base URL is set.
func shareBaseURL(config *shared.Config) string {
	if config.Server.PublicBaseURL != "" {
		return config.Server.PublicBaseURL
	}
	return "http://" + config.Server.Addr()
}

// ShareCreate stores a share from tokens given on the command line.
func (r *Runner) ShareCreate(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := r.buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.close()

	created, err := a.shares.Create(ctx, shares.CreateRequest{
		PlaylistID:    cmd.String("playlist"),
		PlaylistName:  cmd.String("name"),
		PlaylistImage: cmd.String("image"),
		OwnerUserID:   cmd.String("owner"),
		AccessToken:   cmd.String("access-token"),
		RefreshToken:  cmd.String("refresh-token"),
	}, shareBaseURL(config))
	if err != nil {
		return err
	}

	return r.printCreated(created, cmd.Bool("json"))
}

func (r *Runner) printCreated(created *shares.Created, asJSON bool) error {
	if asJSON {
		return r.writeJSON(created, true)
	}
	r.writePlain("%s\n", ui.Default.OK("Share created"))
	r.writePlain("  Code: %s\n", created.ShareCode)
	r.writePlain("  Link: %s\n", created.ShareURL)
	return nil
}

// ShareShow prints the metadata of one share.
func (r *Runner) ShareShow(ctx context.Context, cmd *cli.Command) error {
	code := cmd.StringArg("code")
	if code == "" {
		return fmt.Errorf("%w: share code", shared.ErrMissingArgument)
	}

	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	st, closeStore, err := r.openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	record, err := st.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	meta := shares.MetadataOf(record)
	if cmd.Bool("json") {
		return r.writeJSON(meta, true)
	}

	r.writePlain("%s\n", ui.Default.Title(meta.PlaylistName))
	r.writePlain("  Code:     %s\n", meta.ShareCode)
	r.writePlain("  Playlist: %s\n", meta.PlaylistID)
	r.writePlain("  Owner:    %s\n", record.OwnerUserID)
	r.writePlain("  Created:  %s\n", meta.CreatedAt.Format(time.RFC3339))
	r.writePlain("  Link:     %s\n", shares.ShareURL(shareBaseURL(config), meta.ShareCode))
	return nil
}

// ShareList prints every share created by an owner, newest first.
func (r *Runner) ShareList(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	st, closeStore, err := r.openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	owner := cmd.String("owner")
	records, err := st.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}

	list := make([]*shares.Metadata, 0, len(records))
	for _, rec := range records {
		list = append(list, shares.MetadataOf(rec))
	}
	if cmd.Bool("json") {
		return r.writeJSON(list, true)
	}

	if format := cmd.String("format"); format != "" {
		listing := &formatter.Listing{Owner: owner, BaseURL: shareBaseURL(config), Shares: list}
		if path := cmd.String("output"); path != "" {
			written, err := formatter.WriteExport(listing, format, path)
			if err != nil {
				return err
			}
			r.writePlain("%s\n", ui.Default.OK("Exported to "+written))
			return nil
		}

		data, err := formatter.Export(listing, format)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	r.writePlain("Found %d shares for %s:\n\n", len(list), owner)
	for i, m := range list {
		r.writePlain("%d. %s (%s)\n", i+1, m.PlaylistName, m.ShareCode)
		r.writePlain("   %s\n", shares.ShareURL(shareBaseURL(config), m.ShareCode))
	}
	return nil
}

// TokenResolve runs the token lifecycle for a share code and reports the outcome.
func (r *Runner) TokenResolve(ctx context.Context, cmd *cli.Command) error {
	code := cmd.StringArg("code")
	if code == "" {
		return fmt.Errorf("%w: share code", shared.ErrMissingArgument)
	}

	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := r.buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.manager.Resolve(ctx, code)
	if err != nil {
		var te *tokens.Error
		if errors.As(err, &te) {
			r.writePlain("%s\n", ui.Default.Err(te.Kind.String()))
		}
		return err
	}

	if res.Refreshed {
		r.writePlain("%s\n", ui.Default.OK("Token refreshed and stored"))
	} else {
		r.writePlain("%s\n", ui.Default.OK("Stored token is live"))
	}
	if cmd.Bool("show-token") {
		r.writePlain("%s\n", res.Token)
	}
	return nil
}

// TokenCheck resolves every share an owner created and prints a health report.
func (r *Runner) TokenCheck(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := r.buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.close()

	asJSON := cmd.Bool("json")
	prog := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range prog {
			if !asJSON {
				r.writePlain("[%d/%d] %s\n", u.Step, u.Total, u.Message)
			}
		}
	}()

	report, err := tasks.NewChecker(a.store, a.manager).CheckOwner(ctx, cmd.String("owner"), prog, tasks.CheckOpts{
		NumWorkers: int(cmd.Int("workers")),
		RateLimit:  cmd.Float("rate"),
	})
	close(prog)
	<-done
	if err != nil {
		return err
	}

	if asJSON {
		return r.writeJSON(report, true)
	}

	summary := fmt.Sprintf("%d healthy (%d refreshed), %d failed", report.Healthy, report.Refreshed, report.Failed)
	if report.Failed > 0 {
		r.writePlainln("%s", ui.Default.Warn(summary))
		for _, res := range report.Results {
			if !res.OK() {
				r.writePlain("  %s %s: %s\n", res.ShareCode, res.PlaylistName, res.Kind)
			}
		}
		return nil
	}
	r.writePlainln("%s", ui.Default.OK(summary))
	return nil
}
