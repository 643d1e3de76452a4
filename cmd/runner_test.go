package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/sharelist/internal/codec"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	tu "github.com/desertthunder/sharelist/internal/testutil"
	"github.com/urfave/cli/v3"
)

func testConfig(t *testing.T, spotify *tu.FakeSpotify) *shared.Config {
	t.Helper()

	key, err := codec.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	config := shared.DefaultConfig()
	config.Credentials.Spotify.ClientID = "client-id"
	config.Credentials.Spotify.ClientSecret = "client-secret"
	config.Encryption.Key = key
	config.Database.Path = filepath.Join(t.TempDir(), "sharelist.db")
	config.Spotify.RateLimit = 0
	config.Server.PublicBaseURL = "https://share.example.com"
	if spotify != nil {
		config.Spotify.APIBaseURL = spotify.APIURL()
		config.Spotify.TokenURL = spotify.TokenURL()
	}
	return config
}

func newTestRunner(t *testing.T, spotify *tu.FakeSpotify) (*Runner, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	opts := RunnerOpts{
		Config: testConfig(t, spotify),
		Logger: shared.NewLogger(&bytes.Buffer{}),
		Output: output,
	}
	if spotify != nil {
		opts.HTTPClient = spotify.Server.Client()
	}
	return NewRunner(opts), output
}

func run(r *Runner, args ...string) error {
	app := &cli.Command{Name: "sharelist", Commands: r.register()}
	return app.Run(context.Background(), append([]string{"sharelist"}, args...))
}

func createShare(t *testing.T, r *Runner, output *bytes.Buffer) string {
	t.Helper()
	output.Reset()
	err := run(r, "share", "create",
		"--playlist", "pl-1",
		"--name", "Road Trip",
		"--image", "https://i.scdn.co/image/abc",
		"--owner", "owner-1",
		"--access-token", "access-plain",
		"--refresh-token", "refresh-plain",
		"--json",
	)
	if err != nil {
		t.Fatalf("share create failed: %v", err)
	}

	var created struct {
		ShareCode string `json:"share_code"`
		ShareURL  string `json:"share_url"`
	}
	if err := json.Unmarshal(output.Bytes(), &created); err != nil {
		t.Fatalf("unexpected output %q: %v", output.String(), err)
	}
	if created.ShareURL != "https://share.example.com/playlist/"+created.ShareCode {
		t.Errorf("unexpected share url %q", created.ShareURL)
	}
	output.Reset()
	return created.ShareCode
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result, expected := output.String(), `{"key":"value"}`+"\n"; result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("writePlainln surrounds with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			runner.writePlainln("done")
			if output.String() != "\ndone\n" {
				t.Errorf("unexpected %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		names := map[string]bool{}
		for i, cmd := range runner.register() {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}

		for _, want := range []string{"serve", "setup", "share", "token", "auth"} {
			if !names[want] {
				t.Errorf("expected %s command", want)
			}
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("Reads The Config Flag And Environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := shared.CreateConfigFile(path); err != nil {
			t.Fatal(err)
		}
		t.Setenv("SHARELIST_SPOTIFY_CLIENT_SECRET", "from-env")

		var loaded *shared.Config
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})
		app := &cli.Command{
			Name:  "sharelist",
			Flags: []cli.Flag{configFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				var err error
				loaded, err = runner.loadConfig(cmd)
				return err
			},
		}

		if err := app.Run(context.Background(), []string{"sharelist", "--config", path}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loaded.Credentials.Spotify.ClientSecret != "from-env" {
			t.Errorf("expected env override, got %q", loaded.Credentials.Spotify.ClientSecret)
		}
		if runner.configPath != path {
			t.Errorf("expected config path %s, got %s", path, runner.configPath)
		}
	})
}

func TestSetup(t *testing.T) {
	t.Run("Key", func(t *testing.T) {
		r, output := newTestRunner(t, nil)
		if err := run(r, "setup", "key"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := codec.New(strings.TrimSpace(output.String())); err != nil {
			t.Errorf("generated key is not usable: %v", err)
		}
	})

	t.Run("Config", func(t *testing.T) {
		r, _ := newTestRunner(t, nil)
		path := filepath.Join(t.TempDir(), "config.toml")

		if err := run(r, "setup", "config", "--config", path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tu.AssertFileExists(t, path)
		if !strings.Contains(tu.MustReadFile(t, path), "[credentials.spotify]") {
			t.Error("expected example config contents")
		}

		if err := run(r, "setup", "config", "--config", path); err == nil {
			t.Error("expected error when the file already exists")
		}
	})

	t.Run("Database And Rollback", func(t *testing.T) {
		r, _ := newTestRunner(t, nil)

		if err := run(r, "setup", "database"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tu.AssertFileExists(t, r.config.Database.Path)

		if err := run(r, "setup", "rollback"); err != nil {
			t.Fatalf("unexpected rollback error: %v", err)
		}
		if err := run(r, "setup", "rollback"); err == nil {
			t.Error("expected error with nothing left to roll back")
		}
	})
}

func TestShareCommands(t *testing.T) {
	spotify := tu.NewFakeSpotify(t)
	r, output := newTestRunner(t, spotify)
	code := createShare(t, r, output)

	t.Run("Show", func(t *testing.T) {
		output.Reset()
		if err := run(r, "share", "show", code, "--json"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var meta map[string]any
		if err := json.Unmarshal(output.Bytes(), &meta); err != nil {
			t.Fatalf("unexpected output %q", output.String())
		}
		if meta["playlist_id"] != "pl-1" || meta["playlist_name"] != "Road Trip" {
			t.Errorf("unexpected metadata %v", meta)
		}
	})

	t.Run("Show Unknown", func(t *testing.T) {
		err := run(r, "share", "show", "zzzzzzzz")
		if !errors.Is(err, shared.ErrShareNotFound) {
			t.Errorf("expected ErrShareNotFound, got %v", err)
		}
	})

	t.Run("Show Requires Code", func(t *testing.T) {
		err := run(r, "share", "show")
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		createShare(t, r, output)

		if err := run(r, "share", "list", "--owner", "owner-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output.String(), "Found 2 shares") {
			t.Errorf("unexpected output %q", output.String())
		}
		if !strings.Contains(output.String(), code) {
			t.Errorf("expected %s in listing", code)
		}
	})

	t.Run("List Export", func(t *testing.T) {
		output.Reset()
		if err := run(r, "share", "list", "--owner", "owner-1", "--format", "csv"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(output.String(), "Code,Playlist ID,Name,Link,Created") {
			t.Errorf("unexpected output %q", output.String())
		}

		path := filepath.Join(t.TempDir(), "shares.md")
		output.Reset()
		if err := run(r, "share", "list", "--owner", "owner-1", "--format", "markdown", "--output", path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(tu.MustReadFile(t, path), "# Shares for owner-1") {
			t.Error("expected markdown export")
		}
	})

	t.Run("List Export Unknown Format", func(t *testing.T) {
		err := run(r, "share", "list", "--owner", "owner-1", "--format", "xml")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("No Spotify Calls For Snapshots", func(t *testing.T) {
		if spotify.Calls("playlist") != 0 {
			t.Error("expected no metadata lookup when name and image are given")
		}
	})
}

func TestTokenResolve(t *testing.T) {
	t.Run("Live", func(t *testing.T) {
		spotify := tu.NewFakeSpotify(t)
		r, output := newTestRunner(t, spotify)
		code := createShare(t, r, output)
		spotify.Accept("access-plain")

		if err := run(r, "token", "resolve", code); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output.String(), "Stored token is live") {
			t.Errorf("unexpected output %q", output.String())
		}
		if spotify.Calls("token") != 0 {
			t.Error("expected no refresh")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		spotify := tu.NewFakeSpotify(t)
		r, output := newTestRunner(t, spotify)
		code := createShare(t, r, output)

		if err := run(r, "token", "resolve", code, "--show-token"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := output.String()
		if !strings.Contains(out, "Token refreshed and stored") || !strings.Contains(out, "NEW123") {
			t.Errorf("unexpected output %q", out)
		}

		// The refreshed token is now stored and live.
		output.Reset()
		if err := run(r, "token", "resolve", code); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output.String(), "Stored token is live") {
			t.Errorf("unexpected output %q", output.String())
		}
		if spotify.Calls("token") != 1 {
			t.Errorf("expected 1 refresh, got %d", spotify.Calls("token"))
		}
	})

	t.Run("Unknown Code", func(t *testing.T) {
		spotify := tu.NewFakeSpotify(t)
		r, output := newTestRunner(t, spotify)

		err := run(r, "token", "resolve", "zzzzzzzz")
		if !errors.Is(err, shared.ErrShareNotFound) {
			t.Errorf("expected ErrShareNotFound, got %v", err)
		}
		if !strings.Contains(output.String(), "record_not_found") {
			t.Errorf("unexpected output %q", output.String())
		}
		if spotify.Calls("me") != 0 {
			t.Error("expected zero provider calls")
		}
	})

	t.Run("Invalid Config", func(t *testing.T) {
		r, _ := newTestRunner(t, nil)
		r.config.Encryption.Key = ""

		err := run(r, "token", "resolve", "abc")
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestTokenCheck(t *testing.T) {
	spotify := tu.NewFakeSpotify(t)
	r, output := newTestRunner(t, spotify)
	createShare(t, r, output)
	createShare(t, r, output)
	spotify.SetRefreshReply(400, `{"error":"invalid_grant"}`)

	t.Run("Reports Failures", func(t *testing.T) {
		output.Reset()
		if err := run(r, "token", "check", "--owner", "owner-1", "--rate", "100"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := output.String()
		if !strings.Contains(out, "0 healthy (0 refreshed), 2 failed") {
			t.Errorf("unexpected output %q", out)
		}
		if !strings.Contains(out, "token_refresh_failed") {
			t.Errorf("expected failure kind, got %q", out)
		}
	})

	t.Run("Healthy JSON", func(t *testing.T) {
		spotify.Accept("access-plain")
		output.Reset()
		if err := run(r, "token", "check", "--owner", "owner-1", "--rate", "100", "--json"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var report struct {
			Total   int `json:"total"`
			Healthy int `json:"healthy"`
		}
		if err := json.Unmarshal(output.Bytes(), &report); err != nil {
			t.Fatalf("unexpected output %q", output.String())
		}
		if report.Total != 2 || report.Healthy != 2 {
			t.Errorf("unexpected report %+v", report)
		}
	})
}

func TestCallbackAddr(t *testing.T) {
	tests := []struct {
		name, redirect, want string
	}{
		{"host and port", "http://127.0.0.1:3000/callback", "127.0.0.1:3000"},
		{"host only", "http://localhost/callback", "localhost:80"},
		{"empty falls back to server", "", "127.0.0.1:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Credentials.Spotify.RedirectURI = tt.redirect
			if got := callbackAddr(config); got != tt.want {
				t.Errorf("callbackAddr(%q) = %q, want %q", tt.redirect, got, tt.want)
			}
		})
	}
}

func TestPrintOwnerPlaylists(t *testing.T) {
	ctx := context.Background()

	t.Run("Lists Playlists", func(t *testing.T) {
		spotify := tu.NewFakeSpotify(t)
		spotify.Accept("owner-token")
		r, output := newTestRunner(t, spotify)
		gateway := services.NewSpotifyGateway(spotify.APIURL(), spotify.Server.Client(), nil)

		if err := r.printOwnerPlaylists(ctx, gateway, "owner-token"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"Your playlists", "pl-1", "Road Trip", "pl-2", "Focus", "--playlist"} {
			if !strings.Contains(output.String(), want) {
				t.Errorf("expected %q in output: %s", want, output.String())
			}
		}
		if spotify.Calls("me_playlists") != 1 {
			t.Errorf("expected one playlist listing, got %d", spotify.Calls("me_playlists"))
		}
	})

	t.Run("Rejected Token", func(t *testing.T) {
		spotify := tu.NewFakeSpotify(t)
		r, output := newTestRunner(t, spotify)
		gateway := services.NewSpotifyGateway(spotify.APIURL(), spotify.Server.Client(), nil)

		if err := r.printOwnerPlaylists(ctx, gateway, "unknown"); err == nil {
			t.Error("expected error for unaccepted token")
		}
		if output.Len() != 0 {
			t.Errorf("expected no output, got %s", output.String())
		}
	})
}
