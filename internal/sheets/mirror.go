// Package sheets mirrors the contact store into a spreadsheet for humans.
//
// OWNERSHIP:
// The store is authoritative for values; this package owns the row layout.
// Rows are matched to contacts by the external user id in column A. There is
// no foreign key and no cursor: reconciliation scans the key column.
//
// LAYERS:
//
//	Mirror  → row layout, sanitisation, header check, dedup-by-key
//	Table   → raw cell IO (GoogleTable in production, a fake in tests)
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
)

// TimeLayout formats Timestamp and Last Contact cells.
const TimeLayout = "2006-01-02 15:04:05"

// Headers is the fixed column order of the mirror.
var Headers = []string{
	"User ID",
	"Timestamp",
	"Name",
	"Username",
	"Company",
	"Role",
	"Bio",
	"Initial Context",
	"Event Tag",
	"Last Contact",
	"Notes",
}

// Column is a 1-based column index into Headers.
type Column int

const (
	ColUserID Column = iota + 1
	ColTimestamp
	ColName
	ColUsername
	ColCompany
	ColRole
	ColBio
	ColInitialContext
	ColEventTag
	ColLastContact
	ColNotes
)

// ColumnForField maps an editable contact field to its mirror column.
func ColumnForField(f model.Field) (Column, bool) {
	switch f {
	case model.FieldCompany:
		return ColCompany, true
	case model.FieldRole:
		return ColRole, true
	case model.FieldNotes:
		return ColNotes, true
	case model.FieldEventTag:
		return ColEventTag, true
	}
	return 0, false
}

// Table is raw row/cell access to one worksheet. Rows and columns are
// 1-based, row 1 is the header.
type Table interface {
	Header(ctx context.Context) ([]string, error)
	// WriteHeader replaces row 1 and freezes it.
	WriteHeader(ctx context.Context, header []string) error
	// KeyColumn returns column A from row 1 down; index i is row i+1.
	KeyColumn(ctx context.Context) ([]string, error)
	AppendRow(ctx context.Context, values []string) error
	UpdateCell(ctx context.Context, row, col int, value string) error
	URL() string
}

// Mirror is the spreadsheet copy of one account's contacts.
type Mirror struct {
	table   Table
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewMirror wraps a table. limiter may be nil for unpaced writes.
func NewMirror(table Table, limiter *rate.Limiter, logger *slog.Logger) *Mirror {
	return &Mirror{
		table:   table,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "sheets")),
	}
}

// Sanitize neutralises formula injection: values starting with = + - or @
// are prefixed with a quote so the spreadsheet stores them as text.
func Sanitize(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@':
		return "'" + v
	}
	return v
}

// Row renders a contact in Headers order, sanitised.
func Row(c *model.Contact) []string {
	company := c.Company
	if company == "" {
		company = model.Unknown
	}
	role := c.Role
	if role == "" {
		role = model.Unknown
	}

	values := []string{
		strconv.FormatInt(c.ExternalID, 10),
		formatTime(c.FirstSeen),
		c.Name,
		c.Username,
		company,
		role,
		c.Bio,
		strings.Join(c.Topics, ", "),
		c.EventTag,
		formatTime(c.LastInteraction),
		c.Notes,
	}
	for i, v := range values {
		values[i] = Sanitize(v)
	}
	return values
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// EnsureHeaders writes and freezes the header row when it is missing or
// differs from Headers. A mismatched header is overwritten in place; data
// rows are not migrated.
func (m *Mirror) EnsureHeaders(ctx context.Context) error {
	current, err := m.table.Header(ctx)
	if err != nil {
		return fmt.Errorf("sheets: reading header: %w", err)
	}
	if slices.Equal(current, Headers) {
		return nil
	}

	if err := m.wait(ctx); err != nil {
		return err
	}
	if err := m.table.WriteHeader(ctx, Headers); err != nil {
		return fmt.Errorf("sheets: writing header: %w", err)
	}
	m.logger.Info("header row written", slog.Int("previous_columns", len(current)))
	return nil
}

// AppendContact appends a row without checking for an existing one. Callers
// that need dedup use EnsureContact or SyncFromStore.
func (m *Mirror) AppendContact(ctx context.Context, c *model.Contact) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if err := m.table.AppendRow(ctx, Row(c)); err != nil {
		return fmt.Errorf("sheets: appending contact %d: %w", c.ExternalID, err)
	}
	m.logger.Info("contact appended", slog.Int64("user_id", c.ExternalID), slog.String("name", c.Name))
	return nil
}

// EnsureContact appends c when its key is not in the mirror yet. An existing
// row is left alone; updates go through UpdateCell one field at a time.
func (m *Mirror) EnsureContact(ctx context.Context, c *model.Contact) (bool, error) {
	row, err := m.FindRow(ctx, c.ExternalID)
	if err != nil {
		return false, err
	}
	if row > 0 {
		return false, nil
	}
	if err := m.AppendContact(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

// FindRow returns the 1-based row holding key, or 0 when absent.
func (m *Mirror) FindRow(ctx context.Context, key int64) (int, error) {
	rows, err := m.rowIndex(ctx)
	if err != nil {
		return 0, err
	}
	return rows[strconv.FormatInt(key, 10)], nil
}

// UpdateCell writes one sanitised value into the row for key.
func (m *Mirror) UpdateCell(ctx context.Context, key int64, col Column, value string) error {
	row, err := m.FindRow(ctx, key)
	if err != nil {
		return err
	}
	if row == 0 {
		return apperror.NotFound("sheet row", strconv.FormatInt(key, 10))
	}
	return m.updateRow(ctx, row, col, value)
}

func (m *Mirror) updateRow(ctx context.Context, row int, col Column, value string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if err := m.table.UpdateCell(ctx, row, int(col), Sanitize(value)); err != nil {
		return fmt.Errorf("sheets: updating row %d column %d: %w", row, col, err)
	}
	return nil
}

// SyncResult reports a reconciliation pass.
type SyncResult struct {
	Appended int
	// Present lists keys now known to be in the mirror, whether they were
	// already there or appended in this pass.
	Present []int64
}

// SyncFromStore appends every contact whose key is not yet in the mirror.
//
// The key column is read once into a set; the whole mirror has to fit in
// memory and in one read. Running it twice without new contacts appends
// nothing the second time. A failed append is logged and skipped.
func (m *Mirror) SyncFromStore(ctx context.Context, contacts []model.Contact) (SyncResult, error) {
	var result SyncResult

	existing, err := m.rowIndex(ctx)
	if err != nil {
		return result, err
	}

	for i := range contacts {
		c := &contacts[i]
		key := strconv.FormatInt(c.ExternalID, 10)
		if _, ok := existing[key]; ok {
			result.Present = append(result.Present, c.ExternalID)
			continue
		}
		if err := m.AppendContact(ctx, c); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			m.logger.Error("sync append failed",
				slog.Int64("user_id", c.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		existing[key] = -1
		result.Appended++
		result.Present = append(result.Present, c.ExternalID)
	}

	m.logger.Info("mirror synced",
		slog.Int("appended", result.Appended),
		slog.Int("total", len(contacts)),
	)
	return result, nil
}

// BatchTagEvent sets the Event Tag cell for each key with one call per row
// and returns how many succeeded. Missing rows and failed calls are counted
// as failures and do not stop the batch.
func (m *Mirror) BatchTagEvent(ctx context.Context, keys []int64, tag string) int {
	rows, err := m.rowIndex(ctx)
	if err != nil {
		m.logger.Error("batch tag: reading keys failed", slog.String("error", err.Error()))
		return 0
	}

	tagged := 0
	for _, key := range keys {
		row := rows[strconv.FormatInt(key, 10)]
		if row <= 0 {
			m.logger.Warn("batch tag: row not found", slog.Int64("user_id", key))
			continue
		}
		if err := m.updateRow(ctx, row, ColEventTag, tag); err != nil {
			m.logger.Error("batch tag: update failed",
				slog.Int64("user_id", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		tagged++
	}

	m.logger.Info("batch tagged",
		slog.String("tag", tag),
		slog.Int("tagged", tagged),
		slog.Int("requested", len(keys)),
	)
	return tagged
}

// URL is the spreadsheet's browser address.
func (m *Mirror) URL() string {
	return m.table.URL()
}

// rowIndex maps each key in column A (below the header) to its row number.
// The first occurrence wins if a key was duplicated by hand.
func (m *Mirror) rowIndex(ctx context.Context) (map[string]int, error) {
	col, err := m.table.KeyColumn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets: reading key column: %w", err)
	}

	index := make(map[string]int, len(col))
	for i, v := range col {
		if i == 0 {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := index[v]; !dup {
			index[v] = i + 1
		}
	}
	return index, nil
}

func (m *Mirror) wait(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sheets: waiting for write slot: %w", err)
	}
	return nil
}
