package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/relay-service/config"
)

const ServiceName = "relay-service"

const fxStartTimeout = 30 * time.Second

// Exit codes follow sysexits: 64 for configuration errors, 69 for an
// unavailable listener, 70 for internal failures.
const (
	ExitOK       = 0
	ExitConfig   = 64
	ExitUnavail  = 69
	ExitSoftware = 70
)

var (
	version = "0.0.0"
	commit  = "hash"
)

func Run() int {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Managed relay and event distribution service",
		Version: version + " (" + commit + ")",
		Commands: []*cli.Command{
			serverCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal", slog.Any("err", err))
		if code, ok := err.(interface{ ExitCode() int }); ok {
			return code.ExitCode()
		}
		return ExitSoftware
	}
	return ExitOK
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"), nil)
			if err != nil {
				return cli.Exit(err.Error(), ExitConfig)
			}
			app := NewApp(cfg)

			startCtx, cancel := context.WithTimeout(c.Context, fxStartTimeout)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return cli.Exit(err.Error(), ExitUnavail)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case <-stop:
				slog.Info("shutting down")
			case sig := <-app.Wait():
				// The app shut itself down, e.g. a failed listener.
				if sig.ExitCode != 0 {
					app.Stop(context.Background())
					return cli.Exit("server terminated", sig.ExitCode)
				}
			}

			if err := app.Stop(context.Background()); err != nil {
				return cli.Exit(err.Error(), ExitSoftware)
			}
			return nil
		},
	}
}
