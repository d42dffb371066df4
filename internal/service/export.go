package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
	"github.com/sakif/contact-tracker/internal/sheets"
)

// ExportResult is the outcome of one reconciliation.
type ExportResult struct {
	Appended int    `json:"appended"`
	Total    int    `json:"total"`
	URL      string `json:"url"`
}

// ExportService reconciles the store into the spreadsheet mirror. It backs
// POST /export, the chat "export" command, the CLI and the scheduler.
//
// Reconciliation is the only repair path between store and mirror. It is
// idempotent: a second run with no new contacts appends nothing.
type ExportService struct {
	contacts repository.ContactRepository
	syncLog  repository.SyncLogRepository
	mirrors  *sheets.Opener
	logger   *slog.Logger
}

// NewExportService wires the service. mirrors may be nil, in which case
// every Sync reports apperror.ErrUnavailable.
func NewExportService(
	contacts repository.ContactRepository,
	syncLog repository.SyncLogRepository,
	mirrors *sheets.Opener,
	logger *slog.Logger,
) *ExportService {
	return &ExportService{
		contacts: contacts,
		syncLog:  syncLog,
		mirrors:  mirrors,
		logger:   logger.With(slog.String("component", "export")),
	}
}

// Sync appends every stored contact missing from the account's mirror and
// flags all contacts now present as exported.
func (s *ExportService) Sync(ctx context.Context, account *model.Account) (*ExportResult, error) {
	log := s.logger.With(slog.String("account_id", account.ID))

	if s.mirrors == nil {
		return nil, apperror.Unavailable("no spreadsheet configured")
	}
	m, err := s.mirrors.Open(ctx, account.SpreadsheetID)
	if err != nil {
		s.failed(ctx, account.ID, err)
		return nil, err
	}

	all, err := s.contacts.AllContacts(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("export: loading contacts: %w", err)
	}

	res, err := m.SyncFromStore(ctx, all)
	if err != nil {
		s.failed(ctx, account.ID, err)
		return nil, err
	}

	if err := s.contacts.MarkExported(ctx, account.ID, res.Present); err != nil {
		log.Warn("marking exported failed", slog.String("error", err.Error()))
	}

	details := fmt.Sprintf("appended %d of %d", res.Appended, len(all))
	if err := s.syncLog.LogSync(ctx, account.ID, model.ActionExport, details); err != nil {
		log.Warn("sync log write failed", slog.String("error", err.Error()))
	}

	log.Info("export complete",
		slog.Int("appended", res.Appended),
		slog.Int("total", len(all)),
	)
	return &ExportResult{
		Appended: res.Appended,
		Total:    len(all),
		URL:      m.URL(),
	}, nil
}

func (s *ExportService) failed(ctx context.Context, accountID string, err error) {
	s.logger.Error("export failed",
		slog.String("account_id", accountID),
		slog.String("error", err.Error()),
	)
	if logErr := s.syncLog.LogSync(ctx, accountID, model.ActionExportFailed, err.Error()); logErr != nil {
		s.logger.Warn("sync log write failed", slog.String("error", logErr.Error()))
	}
}
