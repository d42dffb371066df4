// Package scheduler runs periodic reconciliation for accounts that enabled
// auto-export.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
	"github.com/sakif/contact-tracker/internal/service"
)

// runTimeout bounds one pass over all accounts.
const runTimeout = 10 * time.Minute

// Syncer is satisfied by *service.ExportService.
type Syncer interface {
	Sync(ctx context.Context, account *model.Account) (*service.ExportResult, error)
}

// AutoExporter re-syncs every auto-export account on a cron schedule. Each
// run is the same idempotent reconciliation as the export command, so a
// missed or doubled tick is harmless.
type AutoExporter struct {
	cron     *cron.Cron
	parser   cron.Parser
	accounts repository.AccountRepository
	exports  Syncer
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewAutoExporter builds an exporter. Schedules use the standard five-field
// cron syntax with optional seconds, or descriptors such as "@every 1h".
func NewAutoExporter(accounts repository.AccountRepository, exports Syncer, logger *slog.Logger) *AutoExporter {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &AutoExporter{
		cron:     cron.New(cron.WithParser(parser)),
		parser:   parser,
		accounts: accounts,
		exports:  exports,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Schedule registers the job. An empty schedule leaves the exporter disabled.
func (a *AutoExporter) Schedule(schedule string) error {
	if schedule == "" {
		a.logger.Info("auto-export disabled")
		return nil
	}
	if _, err := a.parser.Parse(schedule); err != nil {
		return fmt.Errorf("scheduler: invalid AUTO_EXPORT_SCHEDULE %q: %w", schedule, err)
	}
	if _, err := a.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		a.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("scheduler: adding job: %w", err)
	}
	a.logger.Info("auto-export scheduled", slog.String("schedule", schedule))
	return nil
}

// Start runs the cron loop in its own goroutine.
func (a *AutoExporter) Start() {
	a.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish or ctx to
// end, whichever comes first.
func (a *AutoExporter) Stop(ctx context.Context) {
	done := a.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		a.logger.Warn("auto-export still running at shutdown")
	}
}

// RunOnce syncs every auto-export account and returns how many succeeded.
// Overlapping runs are skipped.
func (a *AutoExporter) RunOnce(ctx context.Context) int {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.Warn("previous auto-export still running, skipping")
		return 0
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	accounts, err := a.accounts.ListAutoExportAccounts(ctx)
	if err != nil {
		a.logger.Error("listing auto-export accounts failed", slog.String("error", err.Error()))
		return 0
	}

	ok := 0
	for i := range accounts {
		acct := &accounts[i]
		res, err := a.exports.Sync(ctx, acct)
		if err != nil {
			a.logger.Error("auto-export failed",
				slog.String("account_id", acct.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ok++
		a.logger.Info("auto-export done",
			slog.String("account_id", acct.ID),
			slog.Int("appended", res.Appended),
		)
	}
	return ok
}
