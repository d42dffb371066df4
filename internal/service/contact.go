// Package service contains the business logic layer of the application.
//
// THE LAYERS:
//
//	Handler (HTTP) / command.Router (chat)  → parse input, format output
//	Service                                 → validate, scope, orchestrate
//	Repository                              → read/write the store
//
// Both front ends call the same services, so validation and the
// store-then-mirror ordering live in one place.
//
// SCOPING:
// Every method takes the caller's account ID and passes it down to the
// repository. A contact of another account is indistinguishable from a
// missing one (apperror.ErrNotFound).
package service

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
	"github.com/sakif/contact-tracker/internal/sheets"
)

// Validation constants.
const (
	MaxNameLength     = 200
	MaxFieldLength    = 500
	MaxNotesLength    = 4000
	DefaultListLimit  = 20
	MaxListLimit      = 100
	DefaultTagWindow  = 24 * time.Hour
	MaxTagWindow      = 30 * 24 * time.Hour
	StatsRecentWindow = 7 * 24 * time.Hour
)

// ContactService handles contact reads and manual edits for one account at
// a time. Edits go to the store first and then, best effort, to the mirror.
type ContactService struct {
	contacts repository.ContactRepository
	accounts repository.AccountRepository
	syncLog  repository.SyncLogRepository
	mirrors  *sheets.Opener
	logger   *slog.Logger
	now      func() time.Time
}

// NewContactService wires the service. mirrors may be nil.
func NewContactService(
	contacts repository.ContactRepository,
	accounts repository.AccountRepository,
	syncLog repository.SyncLogRepository,
	mirrors *sheets.Opener,
	logger *slog.Logger,
) *ContactService {
	return &ContactService{
		contacts: contacts,
		accounts: accounts,
		syncLog:  syncLog,
		mirrors:  mirrors,
		logger:   logger,
		now:      time.Now,
	}
}

// ContactInput is a manually created contact.
type ContactInput struct {
	ExternalID int64
	Name       string
	Username   string
	Phone      string
	Company    string
	Role       string
	Notes      string
	Topics     []string
	EventTag   string
}

// ContactPatch is a partial update; nil fields are left unchanged.
type ContactPatch struct {
	Name     *string
	Username *string
	Phone    *string
	Company  *string
	Role     *string
	Notes    *string
	EventTag *string
	Topics   []string
}

// Create stores a contact entered by hand. A duplicate external id returns
// apperror.ErrConflict.
func (s *ContactService) Create(ctx context.Context, accountID string, in ContactInput) (*model.Contact, error) {
	if in.ExternalID <= 0 {
		return nil, apperror.ValidationFailed("external_id", "external_id must be a positive integer")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}

	now := s.now().UTC()
	c := &model.Contact{
		AccountID:       accountID,
		ExternalID:      in.ExternalID,
		Name:            name,
		Username:        strings.TrimPrefix(strings.TrimSpace(in.Username), "@"),
		Phone:           strings.TrimSpace(in.Phone),
		Company:         unknownIfBlank(in.Company),
		Role:            unknownIfBlank(in.Role),
		Notes:           strings.TrimSpace(in.Notes),
		Topics:          cleanTopics(in.Topics),
		EventTag:        strings.TrimSpace(in.EventTag),
		FirstSeen:       now,
		LastInteraction: now,
	}
	if err := validateContact(c); err != nil {
		return nil, err
	}

	if err := s.contacts.CreateContact(ctx, c); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			s.logger.Error("failed to create contact",
				slog.Int64("external_id", in.ExternalID),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("contact created manually",
		slog.String("account_id", accountID),
		slog.String("id", c.ID),
	)
	return c, nil
}

// Get retrieves one contact of the account.
func (s *ContactService) Get(ctx context.Context, accountID, id string) (*model.Contact, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "contact ID is required")
	}
	return s.contacts.GetContact(ctx, accountID, id)
}

// List returns a page of contacts, newest first. limit is clamped to
// 1..MaxListLimit (default DefaultListLimit) and a negative offset is 0.
func (s *ContactService) List(ctx context.Context, accountID string, limit, offset int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	contacts, err := s.contacts.ListContacts(ctx, accountID, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list contacts", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	return contacts, nil
}

// Update applies a partial edit ("fetch then update").
func (s *ContactService) Update(ctx context.Context, accountID, id string, p ContactPatch) (*model.Contact, error) {
	c, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("name", "name cannot be empty")
		}
		c.Name = name
	}
	if p.Username != nil {
		c.Username = strings.TrimPrefix(strings.TrimSpace(*p.Username), "@")
	}
	if p.Phone != nil {
		c.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Company != nil {
		c.Company = unknownIfBlank(*p.Company)
	}
	if p.Role != nil {
		c.Role = unknownIfBlank(*p.Role)
	}
	if p.Notes != nil {
		c.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.EventTag != nil {
		c.EventTag = strings.TrimSpace(*p.EventTag)
	}
	if p.Topics != nil {
		c.Topics = cleanTopics(p.Topics)
	}
	if err := validateContact(c); err != nil {
		return nil, err
	}

	if err := s.contacts.UpdateContact(ctx, c); err != nil {
		s.logger.Error("failed to update contact",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.mirrorFields(ctx, accountID, c.ExternalID, p)
	s.logger.Info("contact updated", slog.String("id", c.ID))
	return c, nil
}

// Delete removes a contact. The mirror row is left in place; the sheet is a
// human document and rows are never removed from it automatically.
func (s *ContactService) Delete(ctx context.Context, accountID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "contact ID is required")
	}
	if err := s.contacts.DeleteContact(ctx, accountID, id); err != nil {
		return err
	}
	s.logger.Info("contact deleted", slog.String("account_id", accountID), slog.String("id", id))
	return nil
}

// EditResult reports where an edit landed.
type EditResult struct {
	Mirrored bool
	// MirrorErr is why the mirror was not updated, if it was attempted.
	MirrorErr error
}

// EditField is the chat "edit" command: one allow-listed field by external
// id. The store write must succeed; the mirror write is best effort.
func (s *ContactService) EditField(ctx context.Context, accountID string, externalID int64, field model.Field, value string) (*EditResult, error) {
	if externalID <= 0 {
		return nil, apperror.ValidationFailed("user_id", "user_id must be a positive integer")
	}
	col, ok := sheets.ColumnForField(field)
	if !ok {
		return nil, apperror.ValidationFailed("field", "field is not editable")
	}
	value = strings.TrimSpace(value)
	if len(value) > MaxNotesLength {
		return nil, apperror.ValidationFailed("value", fmt.Sprintf("value must be %d characters or less", MaxNotesLength))
	}

	if err := s.contacts.UpdateContactField(ctx, accountID, externalID, field, value); err != nil {
		return nil, err
	}
	s.logSync(ctx, accountID, model.ActionContactEdit, fmt.Sprintf("%d %s=%s", externalID, field, value))

	res := &EditResult{}
	m, err := s.mirror(ctx, accountID)
	if err != nil {
		res.MirrorErr = err
		return res, nil
	}
	if err := m.UpdateCell(ctx, externalID, col, value); err != nil {
		s.logger.Warn("mirror edit failed",
			slog.Int64("external_id", externalID),
			slog.String("error", err.Error()),
		)
		res.MirrorErr = err
		return res, nil
	}
	res.Mirrored = true
	return res, nil
}

// TagResult reports both halves of a tag_event; they may differ.
// Matched counts contacts in the window, tagged or not.
type TagResult struct {
	Matched  int
	Stored   int
	Mirrored int
}

// TagEvent sets tag on contacts first seen within window whose tag is
// empty. The mirror is updated only for the ids the store changed.
func (s *ContactService) TagEvent(ctx context.Context, accountID, tag string, window time.Duration) (*TagResult, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, apperror.ValidationFailed("name", "event name is required")
	}
	if len(tag) > MaxFieldLength {
		return nil, apperror.ValidationFailed("name", fmt.Sprintf("event name must be %d characters or less", MaxFieldLength))
	}
	if window <= 0 {
		window = DefaultTagWindow
	}
	if window > MaxTagWindow {
		return nil, apperror.ValidationFailed("hours", "window must be 720 hours or less")
	}

	since := s.now().UTC().Add(-window)
	recent, err := s.contacts.RecentContacts(ctx, accountID, since)
	if err != nil {
		return nil, err
	}
	res := &TagResult{Matched: len(recent)}
	if res.Matched == 0 {
		return res, nil
	}

	ids, err := s.contacts.TagRecentContacts(ctx, accountID, since, tag)
	if err != nil {
		return nil, err
	}
	res.Stored = len(ids)
	if len(ids) == 0 {
		return res, nil
	}
	s.logSync(ctx, accountID, model.ActionEventTagged, fmt.Sprintf("%s: %d contacts", tag, len(ids)))

	m, err := s.mirror(ctx, accountID)
	if err != nil {
		return res, nil
	}
	res.Mirrored = m.BatchTagEvent(ctx, ids, tag)
	return res, nil
}

// Stats summarises the account; "recent" is the last seven days.
func (s *ContactService) Stats(ctx context.Context, accountID string) (*model.Stats, error) {
	return s.contacts.ContactStats(ctx, accountID, s.now().UTC().Add(-StatsRecentWindow))
}

// mirrorFields pushes the allow-listed fields of a PATCH to the sheet.
func (s *ContactService) mirrorFields(ctx context.Context, accountID string, externalID int64, p ContactPatch) {
	updates := map[sheets.Column]*string{
		sheets.ColCompany:  p.Company,
		sheets.ColRole:     p.Role,
		sheets.ColNotes:    p.Notes,
		sheets.ColEventTag: p.EventTag,
	}
	var m *sheets.Mirror
	for col, v := range updates {
		if v == nil {
			continue
		}
		if m == nil {
			var err error
			if m, err = s.mirror(ctx, accountID); err != nil {
				return
			}
		}
		if err := m.UpdateCell(ctx, externalID, col, strings.TrimSpace(*v)); err != nil {
			s.logger.Warn("mirror update failed",
				slog.Int64("external_id", externalID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (s *ContactService) mirror(ctx context.Context, accountID string) (*sheets.Mirror, error) {
	if s.mirrors == nil {
		return nil, apperror.Unavailable("no spreadsheet configured")
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.mirrors.Open(ctx, account.SpreadsheetID)
}

func (s *ContactService) logSync(ctx context.Context, accountID, action, details string) {
	if err := s.syncLog.LogSync(ctx, accountID, action, details); err != nil {
		s.logger.Warn("sync log write failed", slog.String("error", err.Error()))
	}
}

func validateContact(c *model.Contact) error {
	if len(c.Name) > MaxNameLength {
		return apperror.ValidationFailed("name", fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	for field, v := range map[string]string{
		"username":  c.Username,
		"phone":     c.Phone,
		"company":   c.Company,
		"role":      c.Role,
		"event_tag": c.EventTag,
	} {
		if len(v) > MaxFieldLength {
			return apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or less", field, MaxFieldLength))
		}
	}
	if len(c.Notes) > MaxNotesLength {
		return apperror.ValidationFailed("notes", fmt.Sprintf("notes must be %d characters or less", MaxNotesLength))
	}
	return nil
}

func unknownIfBlank(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Unknown
	}
	return s
}

// cleanTopics trims, drops blanks and caps at model.MaxTopics.
func cleanTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == model.MaxTopics {
			break
		}
	}
	return out
}

// ParseExternalID parses a platform user id typed by a person.
func ParseExternalID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("user_id", "user_id must be a positive integer")
	}
	return id, nil
}
