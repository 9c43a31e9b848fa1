package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/handiism/m2m-downloader/internal/config"
	"github.com/handiism/m2m-downloader/internal/http"
	"github.com/handiism/m2m-downloader/internal/logging"
	"github.com/handiism/m2m-downloader/internal/m2m"
	"github.com/handiism/m2m-downloader/internal/publish"
	"github.com/handiism/m2m-downloader/internal/tui"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	cli "gopkg.in/urfave/cli.v1"
)

func main() {
	boot := logging.New(logging.Options{Level: os.Getenv(config.EnvPrefix + "LOG_LEVEL"), Pretty: true})
	if err := config.LoadDotEnv(boot); err != nil {
		boot.Warn().Err(err).Msg("could not load .env, using system environment variables")
	}

	app := cli.NewApp()
	app.Name = "m2m-tui"
	app.Usage = "Interactive scene search and download"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "Path to a JSON or YAML settings file"},
		cli.StringFlag{Name: "username, u", Usage: "Catalog account name", EnvVar: "M2M_USERNAME"},
		cli.StringFlag{Name: "password", Usage: "Account password (never stored)", EnvVar: "M2M_PASSWORD"},
		cli.StringFlag{Name: "token", Usage: "Application token", EnvVar: "M2M_TOKEN"},
		cli.StringFlag{Name: "log-file", Usage: "Write JSON logs to this file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	settings := config.DefaultSettings()
	if path := c.String("config"); path != "" {
		var err error
		if settings, err = config.Load(path); err != nil {
			return err
		}
	}
	if err := settings.LoadFromEnv(); err != nil {
		return err
	}
	if user := c.String("username"); user != "" {
		settings.Username = user
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	// The alternate screen owns the terminal, so logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	logger := logging.New(logging.Options{Level: settings.LogLevel, Output: out})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Prompts need the plain terminal.
	session := m2m.NewSession(settings.ServiceURL, m2m.SessionOptions{
		HTTP:     http.NewClient(settings.ToHTTPOptions(logger)),
		Store:    config.NewCredentialStore(config.DefaultCredentialPath()),
		Prompter: m2m.NewTerminalPrompter(),
		Logger:   logger,
	})
	err := session.Authenticate(ctx, m2m.Credentials{
		Username: settings.Username,
		Password: c.String("password"),
		Token:    c.String("token"),
	})
	if err != nil {
		return err
	}
	client, err := m2m.NewClient(ctx, session, m2m.ClientOptions{Logger: logger})
	if err != nil {
		return err
	}

	opts := tui.Options{Settings: settings, Catalog: client, Logger: logger}
	if settings.PublishURL != "" {
		pub, err := publish.Open(ctx, settings.PublishURL, publish.Options{Prefix: settings.PublishPrefix, Logger: logger})
		if err != nil {
			return err
		}
		defer pub.Close()
		opts.Publisher = pub
	}

	return tui.Run(opts)
}
