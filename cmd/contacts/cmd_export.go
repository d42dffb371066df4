package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/contact-tracker/internal/app"
	"github.com/sakif/contact-tracker/internal/command"
	"github.com/sakif/contact-tracker/internal/config"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/scheduler"
)

var exportAuto bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Reconcile the spreadsheet with the database once",
	Long: `Appends every stored contact that is missing from the owner's spreadsheet
and marks it exported. Running it twice appends nothing the second time.

With --auto, runs the same pass for every account that enabled auto-export,
exactly as the AUTO_EXPORT_SCHEDULE job does.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the owner's contact statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	exportCmd.Flags().BoolVar(&exportAuto, "auto", false, "export every auto-export account instead of the owner")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	mode := config.ModeExport
	if exportAuto {
		mode = config.ModeLocal
	}
	a, err := open(ctx, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	if exportAuto {
		ok := scheduler.NewAutoExporter(a.DB, a.Exports, baseLogger).RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d account(s)\n", ok)
		return nil
	}

	owner, err := requireOwner(ctx, a)
	if err != nil {
		return err
	}
	res, err := a.Exports.Sync(ctx, owner)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d new contact(s) to the spreadsheet (%d total)\nView sheet: %s\n",
		res.Appended, res.Total, res.URL)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := open(ctx, config.ModeLocal)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := requireOwner(ctx, a)
	if err != nil {
		return err
	}
	s, err := a.Contacts.Stats(ctx, owner.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), command.FormatStats(s))
	return nil
}

// runMigrate relies on app.New, which applies pending migrations on open.
func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := open(cmd.Context(), config.ModeLocal)
	if err != nil {
		return err
	}
	defer a.Close()

	version, dirty, err := a.DB.SchemaVersion()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, fix the database by hand", version)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d (%s)\n", version, cfg.DatabasePath)
	return nil
}

func requireOwner(ctx context.Context, a *app.App) (*model.Account, error) {
	owner, err := a.Owner(ctx)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, errors.New("TELEGRAM_OWNER_ID is required")
	}
	return owner, nil
}
