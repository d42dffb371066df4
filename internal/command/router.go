// Package command answers the text commands an account owner sends to the
// bot: tag_event, edit, export, stats, settings and help.
//
// Replies are plain text. A failure inside a command becomes a reply, never
// an error return, because the caller has nowhere else to report it.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
	"github.com/sakif/contact-tracker/internal/service"
)

const topEvents = 5

const helpText = `Contact Tracker

Available commands:

/tag_event <event_name> [hours]
  Tag contacts from the last N hours (default 24) with an event name
  Example: /tag_event "Web Summit 2024" 24

/edit <user_id> <field> <value>
  Update one field of a contact
  Fields: company, role, notes, event_tag
  Example: /edit 123456789 company "Acme Corp"

/export
  Sync all contacts to the spreadsheet

/stats
  Show contact statistics

/settings
  Show your tracker settings

/help
  Show this message

New contacts are tracked automatically when they message you for the first time.`

const (
	tagUsage = "Usage: /tag_event <event_name> [hours]\n" +
		"Example: /tag_event \"Web Summit 2024\" 24\n\n" +
		"Tags all contacts from the last N hours (default: 24)"
	editUsage = "Usage: /edit <user_id> <field> <value>\n\n" +
		"Available fields: company, role, notes, event_tag\n\n" +
		"Example: /edit 123456789 company \"Acme Corp\""
)

// Router dispatches owner commands. It satisfies pipeline.CommandHandler.
type Router struct {
	contacts *service.ContactService
	exports  *service.ExportService
	accounts repository.AccountRepository
	logger   *slog.Logger
}

// NewRouter wires the router.
func NewRouter(
	contacts *service.ContactService,
	exports *service.ExportService,
	accounts repository.AccountRepository,
	logger *slog.Logger,
) *Router {
	return &Router{
		contacts: contacts,
		exports:  exports,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "command")),
	}
}

// Handle runs one command line for accountID. handled is false when the
// first token is not a known command.
func (r *Router) Handle(ctx context.Context, accountID, text string) (string, bool) {
	args := Tokenize(text)
	if len(args) == 0 {
		return "", false
	}
	name, args := commandName(args[0]), args[1:]

	var reply string
	switch name {
	case "tag_event":
		reply = r.tagEvent(ctx, accountID, args)
	case "edit":
		reply = r.edit(ctx, accountID, args)
	case "export":
		reply = r.export(ctx, accountID)
	case "stats":
		reply = r.stats(ctx, accountID)
	case "settings":
		reply = r.settings(ctx, accountID)
	case "help", "start":
		reply = helpText
	default:
		return "", false
	}

	r.logger.Info("command handled",
		slog.String("account_id", accountID),
		slog.String("command", name),
	)
	return reply, true
}

func (r *Router) tagEvent(ctx context.Context, accountID string, args []string) string {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return tagUsage
	}
	event := args[0]
	hours := int(service.DefaultTagWindow / time.Hour)
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return "Error: hours must be a positive number"
		}
		hours = n
	}

	res, err := r.contacts.TagEvent(ctx, accountID, event, time.Duration(hours)*time.Hour)
	if err != nil {
		return r.failure("tag_event", err)
	}
	if res.Matched == 0 {
		return fmt.Sprintf("No contacts found in the last %d hours", hours)
	}
	return fmt.Sprintf("Tagged %d contact(s) with event: %s\nUpdated %d entries in the spreadsheet",
		res.Stored, event, res.Mirrored)
}

// edit validates the id and field before anything touches storage.
func (r *Router) edit(ctx context.Context, accountID string, args []string) string {
	if len(args) < 3 {
		return editUsage
	}
	id, err := service.ParseExternalID(args[0])
	if err != nil {
		return "Error: Invalid user_id"
	}
	field, ok := model.ParseField(args[1])
	if !ok {
		return fmt.Sprintf("Error: %q is not an editable field. Fields: %s", args[1], fieldList())
	}
	value := strings.Join(args[2:], " ")

	res, err := r.contacts.EditField(ctx, accountID, id, field, value)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return fmt.Sprintf("Error: Contact with user_id %d not found", id)
	case err != nil:
		return r.failure("edit", err)
	}

	if !res.Mirrored {
		return fmt.Sprintf("Updated %s in the database but the spreadsheet was not updated\nNew value: %s", field, value)
	}
	return fmt.Sprintf("Updated %s for user %d\nNew value: %s", field, id, value)
}

func (r *Router) export(ctx context.Context, accountID string) string {
	account, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return "Export failed: " + err.Error()
	}
	res, err := r.exports.Sync(ctx, account)
	if err != nil {
		return "Export failed: " + err.Error()
	}
	return fmt.Sprintf("Export complete!\n\nAdded %d new contact(s) to the spreadsheet\nView sheet: %s",
		res.Appended, res.URL)
}

func (r *Router) stats(ctx context.Context, accountID string) string {
	s, err := r.contacts.Stats(ctx, accountID)
	if err != nil {
		r.logger.Error("stats failed", slog.String("error", err.Error()))
		return "Error: Failed to retrieve statistics"
	}
	return FormatStats(s)
}

func (r *Router) settings(ctx context.Context, accountID string) string {
	a, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return r.failure("settings", err)
	}
	auto := "Disabled"
	if a.AutoExport {
		auto = "Enabled"
	}
	sheet := "Default"
	if a.SpreadsheetID != "" {
		sheet = a.SpreadsheetID
	}
	return fmt.Sprintf("Your settings:\n\nAuto-export: %s\nInitial messages to scan: %d\nSpreadsheet: %s\n\nTo change settings, use the web app.",
		auto, a.InitialMessages, sheet)
}

// failure turns an error into a reply. Validation messages are shown as is;
// anything else is logged and summarised.
func (r *Router) failure(cmd string, err error) string {
	if errors.Is(err, apperror.ErrValidation) || errors.Is(err, apperror.ErrUnavailable) {
		return "Error: " + err.Error()
	}
	r.logger.Error("command failed",
		slog.String("command", cmd),
		slog.String("error", err.Error()),
	)
	return fmt.Sprintf("Error: %s failed", cmd)
}

// FormatStats renders stats for chat and the CLI.
func FormatStats(s *model.Stats) string {
	var b strings.Builder
	b.WriteString("Contact Statistics\n\n")
	fmt.Fprintf(&b, "Total Contacts: %d\n", s.Total)
	fmt.Fprintf(&b, "With Company: %d\n", s.WithCompany)
	fmt.Fprintf(&b, "Recent (7 days): %d\n", s.Recent)
	fmt.Fprintf(&b, "Exported: %d", s.Exported)

	if len(s.ByEvent) > 0 {
		b.WriteString("\n\nBy Event:")
		for i, e := range s.ByEvent {
			if i == topEvents {
				break
			}
			fmt.Fprintf(&b, "\n  • %s: %d", e.Tag, e.Count)
		}
	}
	return b.String()
}

func fieldList() string {
	names := make([]string, 0, len(model.EditableFields()))
	for _, f := range model.EditableFields() {
		names = append(names, f.String())
	}
	return strings.Join(names, ", ")
}
