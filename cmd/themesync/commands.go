package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/agentworkforce/themesync/internal/httpapi"
	"github.com/agentworkforce/themesync/internal/journal"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "upload every theme file under the root once",
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.close()
			ctx, stop := signalContext(c.Context)
			defer stop()
			return rt.deploy(ctx)
		},
	}
}

func (rt *runtime) deploy(ctx context.Context) error {
	count, err := rt.producer().Walk(ctx)
	if err != nil {
		rt.queue.Abort()
		return cli.Exit(fmt.Sprintf("deploy: %v", err), exitFailures)
	}
	rt.logger.Sugar().Infof("deploying %d files to theme %s", count, rt.queue.ThemeID())
	return rt.wait(ctx)
}

// wait drains the queue, aborting outstanding work when ctx ends first.
func (rt *runtime) wait(ctx context.Context) error {
	err := rt.queue.DrainAndWait(ctx)
	if ctx.Err() != nil {
		dropped := rt.queue.Abort()
		return cli.Exit(fmt.Sprintf("interrupted, %d uploads dropped", dropped), exitFailures)
	}
	return rt.reportDrain(err)
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "upload theme files as they change",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "deploy-first", Usage: "upload the whole theme before watching"},
			&cli.StringFlag{Name: "events-addr", Usage: "serve queue status and events on this address", EnvVars: []string{"THEMESYNC_EVENTS_ADDR"}},
			&cli.StringFlag{Name: "jwt-secret", Usage: "HS256 secret for the status API", EnvVars: []string{"THEMESYNC_JWT_SECRET"}},
		},
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.close()
			ctx, stop := signalContext(c.Context)
			defer stop()

			if c.IsSet("events-addr") {
				rt.cfg.Events.Addr = c.String("events-addr")
			}
			if c.IsSet("jwt-secret") {
				rt.cfg.Events.JWTSecret = c.String("jwt-secret")
			}
			if err := rt.cfg.ValidateEvents(); err != nil {
				return cli.Exit(err.Error(), exitStartup)
			}

			if c.Bool("deploy-first") {
				if err := rt.deployFirst(ctx); err != nil {
					return err
				}
			}

			addr, secret := rt.cfg.Events.Addr, rt.cfg.Events.JWTSecret
			if addr != "" {
				server := &http.Server{
					Addr:              addr,
					Handler:           httpapi.NewServer(rt.registry, rt.journal, rt.hub.Handler(), httpapi.ServerConfig{JWTSecret: secret}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					rt.logger.Sugar().Infof("status api listening on %s", addr)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.logger.Sugar().Errorf("status api: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			rt.logger.Sugar().Infof("watching %s", rt.cfg.Root)
			if err := rt.producer().Watch(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("watch: %v", err), exitStartup)
			}
			if dropped := rt.queue.Abort(); dropped > 0 {
				rt.logger.Sugar().Warnf("stopped with %d uploads pending", dropped)
			}
			return nil
		},
	}
}

// deployFirst runs the initial deploy of watch mode. Upload failures are
// logged and the queue is restarted so later changes still upload; only
// an interrupt ends the command.
func (rt *runtime) deployFirst(ctx context.Context) error {
	err := rt.deploy(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	rt.logger.Sugar().Warnf("initial deploy: %v", err)
	rt.queue.Start()
	return nil
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "delete every unprotected asset from the remote theme",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm the purge"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return cli.Exit("purge deletes remote assets; rerun with --yes to confirm", exitStartup)
			}
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.close()
			ctx, stop := signalContext(c.Context)
			defer stop()

			sugar := rt.logger.Sugar()
			count, err := rt.queue.Purge(ctx, func(key string, err error) {
				if err != nil {
					sugar.Errorf("delete %s: %v", key, err)
					return
				}
				sugar.Debugf("deleted %s", key)
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("purge: %v", err), exitFailures)
			}
			sugar.Infof("purging %d assets from theme %s", count, rt.queue.ThemeID())
			return rt.wait(ctx)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print recent journal entries as JSON",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: journal.DefaultLimit, Usage: "entries to print"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), exitStartup)
			}
			j, err := journal.BuildFromDSN(cfg.Journal, journal.DefaultCapacity)
			if err != nil {
				return cli.Exit(fmt.Sprintf("journal: %v", err), exitStartup)
			}
			defer j.Close()
			entries, err := j.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("journal: %v", err), exitFailures)
			}
			encoder := json.NewEncoder(c.App.Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{"entries": entries})
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "themesync %s\n", c.App.Version)
			return err
		},
	}
}
