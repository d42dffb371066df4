package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/contact-tracker/internal/app"
	"github.com/sakif/contact-tracker/internal/config"
	"github.com/sakif/contact-tracker/internal/scheduler"
	"github.com/sakif/contact-tracker/internal/server"
	"github.com/sakif/contact-tracker/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, every tracked bot and the auto-export schedule",
	Long: `Starts the REST API on HTTP_ADDR, one tracker per account with a bot (the
owner's TELEGRAM_BOT_TOKEN plus tokens stored via PATCH /me) and, when
AUTO_EXPORT_SCHEDULE is set, the periodic spreadsheet reconciliation.

Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the tracked bots and the auto-export schedule without the API",
	Args:  cobra.NoArgs,
	RunE:  runTrack,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := open(ctx, config.ModeServe)
	if err != nil {
		return err
	}
	defer a.Close()

	trackers, exporter, _, err := startBackground(ctx, a)
	if err != nil {
		return err
	}
	defer stopBackground(trackers, exporter)

	tokens, authSvc, err := a.Auth(trackers)
	if err != nil {
		return err
	}

	srv := server.New(cfg.HTTP.Addr, server.Deps{
		Auth:     authSvc,
		Tokens:   tokens,
		Contacts: a.Contacts,
		Exports:  a.Exports,
		Health:   a.DB,
	}, baseLogger)
	srv.ShutdownTimeout = app.ShutdownTimeout

	return srv.Start(ctx)
}

func runTrack(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := open(ctx, config.ModeTrack)
	if err != nil {
		return err
	}
	defer a.Close()

	trackers, exporter, n, err := startBackground(ctx, a)
	if err != nil {
		return err
	}
	defer stopBackground(trackers, exporter)

	if n == 0 {
		return errors.New("no bot to run: set TELEGRAM_BOT_TOKEN and TELEGRAM_OWNER_ID, or store a token with PATCH /me")
	}

	baseLogger.Info("tracking, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

// startBackground registers the owner, starts every tracker and the
// auto-export schedule. It returns how many trackers are running.
func startBackground(ctx context.Context, a *app.App) (*tracker.Manager, *scheduler.AutoExporter, int, error) {
	owner, err := a.Owner(ctx)
	if err != nil {
		return nil, nil, 0, err
	}

	trackers, err := a.Trackers(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	n, err := trackers.StartAll(ctx, owner, cfg.Telegram.BotToken)
	if err != nil {
		trackers.Close()
		return nil, nil, 0, err
	}
	baseLogger.Info("trackers started", slog.Int("count", n))

	exporter, err := a.AutoExporter()
	if err != nil {
		trackers.Close()
		return nil, nil, 0, err
	}
	exporter.Start()

	return trackers, exporter, n, nil
}

func stopBackground(trackers *tracker.Manager, exporter *scheduler.AutoExporter) {
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	exporter.Stop(ctx)
	if err := trackers.Close(); err != nil {
		baseLogger.Error("tracker shutdown", slog.String("error", err.Error()))
	}
}
