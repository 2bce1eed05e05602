package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/agentworkforce/themesync/internal/assetapi"
	"github.com/agentworkforce/themesync/internal/config"
	"github.com/agentworkforce/themesync/internal/events"
	"github.com/agentworkforce/themesync/internal/journal"
	"github.com/agentworkforce/themesync/internal/lockfile"
	"github.com/agentworkforce/themesync/internal/logging"
	"github.com/agentworkforce/themesync/internal/preprocess"
	"github.com/agentworkforce/themesync/internal/uploadqueue"
	"github.com/agentworkforce/themesync/internal/watch"
)

const (
	exitFailures = 1
	exitStartup  = 2
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file", EnvVars: []string{"THEMESYNC_CONFIG"}},
		&cli.StringFlag{Name: "store", Usage: "store name or domain", EnvVars: []string{"THEMESYNC_STORE"}},
		&cli.StringFlag{Name: "api-key", Usage: "private app API key", EnvVars: []string{"THEMESYNC_API_KEY"}},
		&cli.StringFlag{Name: "password", Usage: "private app password or access token", EnvVars: []string{"THEMESYNC_PASSWORD"}},
		&cli.StringFlag{Name: "theme-id", Usage: "target theme id", EnvVars: []string{"THEMESYNC_THEME_ID"}},
		&cli.StringFlag{Name: "root", Usage: "local theme root", EnvVars: []string{"THEMESYNC_ROOT"}},
		&cli.StringFlag{Name: "base-url", Usage: "override the store URL", EnvVars: []string{"THEMESYNC_BASE_URL"}},
		&cli.StringFlag{Name: "journal", Usage: "journal DSN (memory://, file path, postgres://, redis://)", EnvVars: []string{"THEMESYNC_JOURNAL"}},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"THEMESYNC_LOG_LEVEL"}},
	}
}

// loadConfig layers flags and THEMESYNC_* variables over the config file
// and its defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	var cfg *config.Config
	switch {
	case path != "":
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(config.DefaultPath); err == nil {
			loaded, err := config.Load(config.DefaultPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else {
			defaults := config.Default()
			cfg = &defaults
		}
	}
	override := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = strings.TrimSpace(c.String(flag))
		}
	}
	override("store", &cfg.Store)
	override("api-key", &cfg.APIKey)
	override("password", &cfg.Password)
	override("root", &cfg.Root)
	override("base-url", &cfg.BaseURL)
	override("journal", &cfg.Journal)
	override("log-level", &cfg.Log.Level)
	if c.IsSet("theme-id") {
		cfg.ThemeID = config.ID(strings.TrimSpace(c.String("theme-id")))
	}
	return cfg, nil
}

// runtime is everything one command invocation shares.
type runtime struct {
	cfg      *config.Config
	runID    string
	logger   *logging.Logger
	registry *uploadqueue.Registry
	queue    *uploadqueue.Queue
	journal  journal.Journal
	sink     *journal.Sink
	hub      *events.Hub
	lock     *lockfile.Lock
}

func openRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitStartup)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), exitStartup)
	}
	rt := &runtime{cfg: cfg, runID: uuid.NewString(), hub: events.NewHub()}
	rt.logger, err = logging.New(logging.Options{
		Level: cfg.Log.Level,
		RunID: rt.runID,
		Store: cfg.Store,
		Theme: cfg.ThemeID.String(),
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitStartup)
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitStartup)
	}
	cfg.Root = root
	rt.lock, err = lockfile.Acquire(filepath.Join(root, lockfile.DefaultName))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitStartup)
	}

	rt.journal, err = journal.BuildFromDSN(cfg.Journal, journal.DefaultCapacity)
	if err != nil {
		rt.close()
		return nil, cli.Exit(fmt.Sprintf("journal: %v", err), exitStartup)
	}
	sugar := rt.logger.Sugar()
	rt.sink = journal.NewSink(rt.journal, rt.runID, 0, sugar)

	rt.registry = uploadqueue.NewRegistry(rt.newClient, uploadqueue.Options{
		Root:     root,
		Cooldown: cfg.Queue.Cooldown.Duration,
		LowWater: cfg.Queue.LowWater,
		Logger:   sugar,
	})
	rt.queue, err = rt.registry.Open(uploadqueue.Target{
		Store:   cfg.Store,
		APIKey:  cfg.APIKey,
		ThemeID: cfg.ThemeID.String(),
	})
	if err != nil {
		rt.close()
		return nil, cli.Exit(err.Error(), exitStartup)
	}
	rt.queue.Subscribe(rt.sink.Observe)
	rt.queue.Subscribe(rt.hub.Publish)
	return rt, nil
}

func (rt *runtime) newClient(target uploadqueue.Target) (assetapi.Client, error) {
	client, err := assetapi.NewHTTPClient(assetapi.HTTPClientOptions{
		Store:      target.Store,
		BaseURL:    rt.cfg.BaseURL,
		APIKey:     target.APIKey,
		Password:   rt.cfg.Password,
		APIVersion: rt.cfg.APIVersion,
		HTTPClient: &http.Client{Timeout: rt.cfg.Queue.RequestTimeout.Duration},
		UserAgent:  "themesync/" + version,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (rt *runtime) producer() *watch.Producer {
	sugar := rt.logger.Sugar()
	return watch.NewProducer(rt.queue, watch.Options{
		Root: rt.cfg.Root,
		Preprocess: preprocess.Options{
			YAMLSchema: rt.cfg.Preprocess.YAMLSchema,
			SourceMaps: rt.cfg.Preprocess.SourceMaps,
			LiquidExt:  rt.cfg.Preprocess.LiquidExt,
			Flatten:    rt.cfg.Preprocess.Flatten,
		},
		Logger: sugar,
	})
}

// close shuts down in dependency order: queues first so their final
// events reach the sink before it flushes.
func (rt *runtime) close() {
	if rt.registry != nil {
		_ = rt.registry.Close()
	}
	if rt.sink != nil {
		rt.sink.Close()
	}
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.journal != nil {
		_ = rt.journal.Close()
	}
	if rt.lock != nil {
		_ = rt.lock.Release()
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
}

// reportDrain turns a drain result into the command's exit status.
func (rt *runtime) reportDrain(err error) error {
	if err == nil {
		return nil
	}
	var drainErr *uploadqueue.DrainError
	if errors.As(err, &drainErr) {
		for _, failure := range drainErr.Failures {
			rt.logger.Sugar().Errorf("failed: %v", failure)
		}
		return cli.Exit(fmt.Sprintf("%d uploads failed", len(drainErr.Failures)), exitFailures)
	}
	return cli.Exit(err.Error(), exitFailures)
}
