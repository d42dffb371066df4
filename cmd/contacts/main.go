// Command contacts runs the conference contact tracker.
//
//	contacts serve    HTTP API plus every tracked bot
//	contacts track    bots only (single-account deployments)
//	contacts export   reconcile the spreadsheet once and exit
//	contacts stats    print an account's contact statistics
//	contacts migrate  apply database migrations and print the version
//
// Settings come from --config (or CONTACTS_CONFIG) and the environment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/contact-tracker/internal/app"
	"github.com/sakif/contact-tracker/internal/config"
	"github.com/sakif/contact-tracker/internal/logger"
)

var (
	configPath string

	cfg        *config.Config
	baseLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Track conference contacts from Telegram into a spreadsheet",
	Long: `contacts watches a Telegram bot's private chats, extracts who each new
person is with an LLM, stores them in SQLite and mirrors them to Google Sheets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if baseLogger, err = logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger.BridgeTelegram(baseLogger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $"+config.ConfigEnv+")")

	rootCmd.AddCommand(serveCmd, trackCmd, exportCmd, statsCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// open validates cfg for mode and builds the application.
func open(ctx context.Context, mode config.Mode) (*app.App, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, baseLogger)
}
