package sheets

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/sakif/contact-tracker/internal/apperror"
)

// TableFunc opens the worksheet of one spreadsheet.
type TableFunc func(ctx context.Context, spreadsheetID string) (Table, error)

// GoogleTables returns a TableFunc that opens the named tab in any
// spreadsheet the service account can reach.
func GoogleTables(svc *gsheets.Service, sheetName string) TableFunc {
	return func(ctx context.Context, spreadsheetID string) (Table, error) {
		return OpenGoogleTable(ctx, svc, spreadsheetID, sheetName)
	}
}

// Opener hands out one Mirror per spreadsheet id and caches it. Headers are
// checked once, on first open.
//
// All mirrors share one write limiter because the Sheets quota is per
// service account, not per spreadsheet.
type Opener struct {
	open      TableFunc
	defaultID string
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu      sync.Mutex
	mirrors map[string]*Mirror
}

// NewOpener builds an Opener. open may be nil when no Google credentials are
// configured; every Open then reports apperror.ErrUnavailable.
// writesPerMinute <= 0 disables pacing.
func NewOpener(open TableFunc, defaultID string, writesPerMinute int, logger *slog.Logger) *Opener {
	var limiter *rate.Limiter
	if writesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(writesPerMinute)/60.0), 1)
	}
	return &Opener{
		open:      open,
		defaultID: defaultID,
		limiter:   limiter,
		logger:    logger,
		mirrors:   make(map[string]*Mirror),
	}
}

// Open returns the mirror for spreadsheetID, falling back to the default
// spreadsheet when it is empty.
func (o *Opener) Open(ctx context.Context, spreadsheetID string) (*Mirror, error) {
	if spreadsheetID == "" {
		spreadsheetID = o.defaultID
	}
	if o.open == nil || spreadsheetID == "" {
		return nil, apperror.Unavailable("no spreadsheet configured")
	}

	o.mu.Lock()
	m, ok := o.mirrors[spreadsheetID]
	o.mu.Unlock()
	if ok {
		return m, nil
	}

	// Opening and the header check are network calls; they run unlocked so
	// one slow spreadsheet does not hold up the others. Two callers racing
	// on the same id both do the work and the first to finish is kept.
	table, err := o.open(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}
	m = NewMirror(table, o.limiter, o.logger.With(slog.String("spreadsheet", spreadsheetID)))
	if err := m.EnsureHeaders(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if cached, ok := o.mirrors[spreadsheetID]; ok {
		return cached, nil
	}
	o.mirrors[spreadsheetID] = m
	return m, nil
}
