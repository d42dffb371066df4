// Package app is the composition root. It turns a config.Config into the
// store, the spreadsheet opener, the services and the trackers that every
// command of the binary shares.
//
//	config → sqlite.DB ─┬→ ContactService ─┐
//	                    ├→ ExportService ──┼→ command.Router → tracker.Manager
//	sheets.Opener ──────┘                  └→ handlers (server package)
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/contact-tracker/internal/auth"
	"github.com/sakif/contact-tracker/internal/command"
	"github.com/sakif/contact-tracker/internal/config"
	"github.com/sakif/contact-tracker/internal/extract"
	"github.com/sakif/contact-tracker/internal/llm"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/pipeline"
	"github.com/sakif/contact-tracker/internal/repository/sqlite"
	"github.com/sakif/contact-tracker/internal/scheduler"
	"github.com/sakif/contact-tracker/internal/service"
	"github.com/sakif/contact-tracker/internal/sheets"
	"github.com/sakif/contact-tracker/internal/telegram"
	"github.com/sakif/contact-tracker/internal/tracker"
)

// App holds the long-lived dependencies.
type App struct {
	Config   *config.Config
	DB       *sqlite.DB
	Sheets   *sheets.Opener
	Sealer   *auth.Sealer // nil without SECRET_KEY
	Contacts *service.ContactService
	Exports  *service.ExportService
	Commands *command.Router
	Logger   *slog.Logger
}

// New opens the store and builds the services. The Google client is only
// created when a service-account file is configured; otherwise every
// spreadsheet operation reports apperror.ErrUnavailable.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.DatabasePath); cfg.DatabasePath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: creating database directory %s: %w", dir, err)
		}
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: opening database: %w", err)
	}

	var open sheets.TableFunc
	if cfg.SheetsEnabled() {
		svc, err := sheets.NewService(ctx, cfg.Google.ServiceAccountFile)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		open = sheets.GoogleTables(svc, cfg.Google.SheetName)
	} else {
		logger.Warn("GOOGLE_SERVICE_ACCOUNT_FILE not set, spreadsheet sync disabled")
	}
	opener := sheets.NewOpener(open, cfg.Google.SpreadsheetID, cfg.Google.WritesPerMinute, logger)

	var sealer *auth.Sealer
	if cfg.Auth.SecretKey != "" {
		if sealer, err = auth.NewSealer(cfg.Auth.SecretKey); err != nil {
			db.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	contacts := service.NewContactService(db, db, db, opener, logger)
	exports := service.NewExportService(db, db, opener, logger)

	return &App{
		Config:   cfg,
		DB:       db,
		Sheets:   opener,
		Sealer:   sealer,
		Contacts: contacts,
		Exports:  exports,
		Commands: command.NewRouter(contacts, exports, db, logger),
		Logger:   logger,
	}, nil
}

// Owner returns the single-account owner, creating the row on first run.
// It is nil when TELEGRAM_OWNER_ID is unset.
func (a *App) Owner(ctx context.Context) (*model.Account, error) {
	if a.Config.Telegram.OwnerID <= 0 {
		return nil, nil
	}
	owner := &model.Account{
		TelegramID:      a.Config.Telegram.OwnerID,
		SpreadsheetID:   a.Config.Google.SpreadsheetID,
		InitialMessages: a.Config.InitialMessages,
	}
	if err := a.DB.UpsertAccount(ctx, owner); err != nil {
		return nil, fmt.Errorf("app: registering owner: %w", err)
	}
	return owner, nil
}

// Trackers builds the tracker manager with the configured LLM backend and
// the Telegram Bot API dialer. Runners live until ctx is done.
func (a *App) Trackers(ctx context.Context) (*tracker.Manager, error) {
	completer, err := llm.New(ctx, llm.Config{
		Provider: a.Config.LLM.Provider,
		APIKey:   a.Config.LLM.APIKey,
		Model:    a.Config.LLM.Model,
		BaseURL:  a.Config.LLM.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return tracker.NewManager(ctx, tracker.Options{
		Dial: a.dialTelegram,
		Deps: pipeline.Deps{
			Accounts:  a.DB,
			Contacts:  a.DB,
			Messages:  a.DB,
			SyncLog:   a.DB,
			Extractor: extract.New(completer, a.Logger),
			Mirrors:   a.Sheets,
		},
		Commands: a.Commands,
		Accounts: a.DB,
		Sealer:   a.Sealer,
		Logger:   a.Logger,
	}), nil
}

func (a *App) dialTelegram(accountID, token string) (tracker.Source, error) {
	api, err := telegram.Dial(token)
	if err != nil {
		return nil, err
	}
	return telegram.New(api, accountID, a.DB, a.Logger), nil
}

// Auth builds the JWT service and the login service on top of it. trackers
// may be nil, in which case accounts cannot register their own bots.
func (a *App) Auth(trackers service.Trackers) (*auth.TokenService, *service.AuthService, error) {
	tokens, err := auth.NewTokenService(a.Config.Auth.JWTSecret, a.Config.Auth.JWTExpiry)
	if err != nil {
		return nil, nil, fmt.Errorf("app: %w", err)
	}
	verifier := auth.NewInitDataVerifier(a.Config.Telegram.BotToken, a.Config.Auth.MaxAge)
	return tokens, service.NewAuthService(a.DB, verifier, tokens, a.Sealer, trackers, a.Logger), nil
}

// AutoExporter returns the cron exporter with AUTO_EXPORT_SCHEDULE applied.
func (a *App) AutoExporter() (*scheduler.AutoExporter, error) {
	s := scheduler.NewAutoExporter(a.DB, a.Exports, a.Logger)
	if err := s.Schedule(a.Config.AutoExportSchedule); err != nil {
		return nil, err
	}
	return s, nil
}

// ShutdownTimeout bounds graceful shutdown of every component.
const ShutdownTimeout = 30 * time.Second

// Close releases the store.
func (a *App) Close() error {
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("app: closing database: %w", err)
	}
	return nil
}
