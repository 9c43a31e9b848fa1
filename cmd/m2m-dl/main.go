package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/handiism/m2m-downloader/internal/config"
	"github.com/handiism/m2m-downloader/internal/logging"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	cli "gopkg.in/urfave/cli.v1"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "Path to a JSON or YAML settings file",
	},
	cli.StringFlag{
		Name:   "username, u",
		Usage:  "Catalog account name",
		EnvVar: "M2M_USERNAME",
	},
	cli.StringFlag{
		Name:   "password",
		Usage:  "Account password (never stored)",
		EnvVar: "M2M_PASSWORD",
	},
	cli.StringFlag{
		Name:   "token",
		Usage:  "Application token (stored for later runs)",
		EnvVar: "M2M_TOKEN",
	},
	cli.StringFlag{
		Name:  "service-url",
		Usage: "Catalog service URL",
	},
	cli.BoolFlag{
		Name:  "verbose",
		Usage: "Show verbose output",
	},
}

func createCliApp(ctx context.Context) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "m2m-dl"
	app.Usage = "Search, order and download satellite scenes from the M2M catalog"
	app.Flags = globalFlags
	app.Commands = newCommands(ctx)
	return
}

func main() {
	logger := logging.New(logging.Options{Level: os.Getenv(config.EnvPrefix + "LOG_LEVEL"), Pretty: true})
	if err := config.LoadDotEnv(logger); err != nil {
		logger.Warn().Err(err).Msg("could not load .env, using system environment variables")
	}

	// Handle interrupts
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := createCliApp(ctx).Run(os.Args); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nCancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
