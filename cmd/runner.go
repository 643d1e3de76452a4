package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sharelist/internal/codec"
	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/repositories"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/shares"
	"github.com/desertthunder/sharelist/internal/tokens"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// store is the persistence surface commands need.
type store interface {
	models.ShareStore
	models.ShareLister
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A nil Config is resolved from the --config flag when a command runs.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, setupCommand, shareCommand, tokenCommand, authCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig resolves the configuration once, from the --config flag and the environment.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := r.configPath
	if p := cmd.String("config"); p != "" {
		path = p
	}

	config, err := shared.ResolveConfig(path)
	if err != nil {
		return nil, err
	}
	shared.SetLogLevel(r.logger, config.Server.LogLevel)

	r.config = config
	r.configPath = path
	return config, nil
}

// client returns the HTTP client used for Spotify calls.
func (r *Runner) client(config *shared.Config) *http.Client {
	if r.httpClient != nil {
		return r.httpClient
	}
	return services.NewHTTPClient(config.Spotify.Timeout())
}

// openStore connects the configured share store and returns a function that releases it.
func (r *Runner) openStore(ctx context.Context, config *shared.Config) (store, func(), error) {
	switch config.Database.Driver {
	case "postgres":
		pool, err := shared.NewPostgresPool(ctx, config.Database.URL, config.Database.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		repo := repositories.NewPGShareRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil

	default:
		db, err := r.openSQLite(config)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewShareRepository(db), func() { db.Close() }, nil
	}
}

func (r *Runner) openSQLite(config *shared.Config) (*sql.DB, error) {
	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, err
	}
	if config.Database.Path != ":memory:" {
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// app is the wired share service.
type app struct {
	store     store
	codec     *codec.Codec
	gateway   *services.SpotifyGateway
	refresher *services.SpotifyRefresher
	shares    *shares.Service
	manager   *tokens.Manager
	close     func()
}

// buildApp wires the store, codec, Spotify clients and token manager from config.
func (r *Runner) buildApp(ctx context.Context, config *shared.Config) (*app, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c, err := codec.New(config.Encryption.Key)
	if err != nil {
		return nil, err
	}

	client := r.client(config)
	refresher, err := services.NewSpotifyRefresher(services.RefresherConfig{
		ClientID:     config.Credentials.Spotify.ClientID,
		ClientSecret: config.Credentials.Spotify.ClientSecret,
		TokenURL:     config.Spotify.TokenURL,
		HTTPClient:   client,
	})
	if err != nil {
		return nil, err
	}

	st, closeStore, err := r.openStore(ctx, config)
	if err != nil {
		return nil, err
	}
	closers := []func(){closeStore}

	var locker tokens.Locker
	if config.Redis.Enabled {
		rdb, err := tokens.NewRedisClient(ctx, config.Redis)
		if err != nil {
			closeStore()
			return nil, err
		}
		locker = tokens.NewRedisLocker(rdb,
			config.RefreshLockTTL(),
			time.Duration(config.Redis.LockWaitMillis)*time.Millisecond)
		closers = append(closers, func() { rdb.Close() })
		r.logger.Info("cross-process refresh lock enabled", "addr", config.Redis.Addr)
	}

	var limiter *rate.Limiter
	if config.Spotify.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Spotify.RateLimit), max(config.Spotify.RateBurst, 1))
	}
	gateway := services.NewSpotifyGateway(config.Spotify.APIBaseURL, client, limiter)

	manager := tokens.NewManager(st, c, services.NewSpotifyOracle(config.Spotify.APIBaseURL, client), refresher, tokens.Options{
		OptimisticOnTransportError: config.Tokens.OptimisticOnTransportError,
		RefreshTimeout:             config.Tokens.RefreshTimeout(),
		Locker:                     locker,
		Logger:                     shared.WithLogger(r.logger, "component", "tokens"),
	})

	svc := shares.NewService(st, c, shares.Options{
		CodeLength:  config.Shares.CodeLength,
		MaxAttempts: config.Shares.MaxAttempts,
		Playlists:   gateway,
		Logger:      shared.WithLogger(r.logger, "component", "shares"),
	})

	return &app{
		store:     st,
		codec:     c,
		gateway:   gateway,
		refresher: refresher,
		shares:    svc,
		manager:   manager,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
