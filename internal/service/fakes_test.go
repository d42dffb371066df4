package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
	"github.com/sakif/contact-tracker/internal/sheets"
)

// =========================================================================
// FAKE REPOSITORIES
// =========================================================================
//
// Hand-written in-memory fakes. Each one stores copies so a test cannot
// mutate the "database" through a returned pointer.

type mockContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*model.Contact // keyed by ID
	nextID   int
	// set to a non-nil error to simulate a database failure
	listErr error
	// fieldUpdates counts UpdateContactField calls that reached storage.
	fieldUpdates int
}

func newMockContactRepo() *mockContactRepo {
	return &mockContactRepo{contacts: make(map[string]*model.Contact)}
}

func (m *mockContactRepo) CreateContact(_ context.Context, c *model.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.AccountID == c.AccountID && existing.ExternalID == c.ExternalID {
			return apperror.Conflict("contact", strconv.FormatInt(c.ExternalID, 10))
		}
	}
	m.nextID++
	c.ID = fmt.Sprintf("mock-%d", m.nextID)
	if c.Topics == nil {
		c.Topics = []string{}
	}
	stored := *c
	m.contacts[c.ID] = &stored
	return nil
}

func (m *mockContactRepo) find(accountID string, externalID int64) *model.Contact {
	for _, c := range m.contacts {
		if c.AccountID == accountID && c.ExternalID == externalID {
			return c
		}
	}
	return nil
}

func (m *mockContactRepo) TouchContact(_ context.Context, accountID string, externalID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.find(accountID, externalID)
	if c == nil {
		return false, nil
	}
	c.LastInteraction = at
	return true, nil
}

func (m *mockContactRepo) GetContact(_ context.Context, accountID, id string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.AccountID != accountID {
		return nil, apperror.NotFound("contact", id)
	}
	result := *c
	return &result, nil
}

func (m *mockContactRepo) GetContactByExternalID(_ context.Context, accountID string, externalID int64) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.find(accountID, externalID)
	if c == nil {
		return nil, apperror.NotFound("contact", strconv.FormatInt(externalID, 10))
	}
	result := *c
	return &result, nil
}

func (m *mockContactRepo) ListContacts(_ context.Context, accountID string, opts repository.ListOptions) ([]model.Contact, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all, _ := m.AllContacts(context.Background(), accountID)
	if opts.Offset >= len(all) {
		return []model.Contact{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (m *mockContactRepo) AllContacts(_ context.Context, accountID string) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Contact{}
	for _, c := range m.contacts {
		if c.AccountID == accountID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (m *mockContactRepo) RecentContacts(ctx context.Context, accountID string, since time.Time) ([]model.Contact, error) {
	all, _ := m.AllContacts(ctx, accountID)
	out := []model.Contact{}
	for _, c := range all {
		if !c.FirstSeen.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockContactRepo) UpdateContactField(_ context.Context, accountID string, externalID int64, field model.Field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldUpdates++
	c := m.find(accountID, externalID)
	if c == nil {
		return apperror.NotFound("contact", strconv.FormatInt(externalID, 10))
	}
	switch field {
	case model.FieldCompany:
		c.Company = value
	case model.FieldRole:
		c.Role = value
	case model.FieldNotes:
		c.Notes = value
	case model.FieldEventTag:
		c.EventTag = value
	default:
		return apperror.ValidationFailed("field", "not editable")
	}
	return nil
}

func (m *mockContactRepo) UpdateContact(_ context.Context, c *model.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.contacts[c.ID]
	if !ok || existing.AccountID != c.AccountID {
		return apperror.NotFound("contact", c.ID)
	}
	stored := *c
	m.contacts[c.ID] = &stored
	return nil
}

func (m *mockContactRepo) DeleteContact(_ context.Context, accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.AccountID != accountID {
		return apperror.NotFound("contact", id)
	}
	delete(m.contacts, id)
	return nil
}

func (m *mockContactRepo) TagRecentContacts(_ context.Context, accountID string, since time.Time, tag string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, c := range m.contacts {
		if c.AccountID == accountID && c.EventTag == "" && !c.FirstSeen.Before(since) {
			c.EventTag = tag
			ids = append(ids, c.ExternalID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockContactRepo) MarkExported(_ context.Context, accountID string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if c := m.find(accountID, id); c != nil {
			c.Exported = true
		}
	}
	return nil
}

func (m *mockContactRepo) ContactStats(ctx context.Context, accountID string, since time.Time) (*model.Stats, error) {
	all, _ := m.AllContacts(ctx, accountID)
	s := &model.Stats{Total: len(all), ByEvent: []model.EventCount{}}
	for _, c := range all {
		if c.HasCompany() {
			s.WithCompany++
		}
		if !c.FirstSeen.Before(since) {
			s.Recent++
		}
		if c.Exported {
			s.Exported++
		}
	}
	return s, nil
}

type fakeAccountRepo struct {
	accounts  map[string]*model.Account
	nextID    int
	upsertErr error
	updateErr error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*model.Account)}
}

func (f *fakeAccountRepo) UpsertAccount(_ context.Context, a *model.Account) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, existing := range f.accounts {
		if existing.TelegramID == a.TelegramID {
			existing.Username = a.Username
			existing.FirstName = a.FirstName
			existing.LastName = a.LastName
			*a = *existing
			return nil
		}
	}
	f.nextID++
	a.ID = fmt.Sprintf("acct-%d", f.nextID)
	if a.InitialMessages <= 0 {
		a.InitialMessages = model.DefaultInitialMessages
	}
	stored := *a
	f.accounts[a.ID] = &stored
	return nil
}

func (f *fakeAccountRepo) GetAccount(_ context.Context, id string) (*model.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	result := *a
	return &result, nil
}

func (f *fakeAccountRepo) GetAccountByTelegramID(_ context.Context, telegramID int64) (*model.Account, error) {
	for _, a := range f.accounts {
		if a.TelegramID == telegramID {
			result := *a
			return &result, nil
		}
	}
	return nil, apperror.NotFound("account", strconv.FormatInt(telegramID, 10))
}

func (f *fakeAccountRepo) UpdateAccountSettings(_ context.Context, a *model.Account) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.accounts[a.ID]; !ok {
		return apperror.NotFound("account", a.ID)
	}
	stored := *a
	f.accounts[a.ID] = &stored
	return nil
}

func (f *fakeAccountRepo) ListTrackedAccounts(context.Context) ([]model.Account, error) {
	var out []model.Account
	for _, a := range f.accounts {
		if a.HasBot() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) ListAutoExportAccounts(context.Context) ([]model.Account, error) {
	var out []model.Account
	for _, a := range f.accounts {
		if a.AutoExport {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeSyncLog struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeSyncLog) LogSync(_ context.Context, _, action, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

// =========================================================================
// FAKE SHEET
// =========================================================================

type fakeTable struct {
	rows      [][]string
	appendErr error
}

func (f *fakeTable) Header(context.Context) ([]string, error) {
	if len(f.rows) == 0 {
		return nil, nil
	}
	return f.rows[0], nil
}

func (f *fakeTable) WriteHeader(_ context.Context, h []string) error {
	if len(f.rows) == 0 {
		f.rows = append(f.rows, h)
	} else {
		f.rows[0] = h
	}
	return nil
}

func (f *fakeTable) KeyColumn(context.Context) ([]string, error) {
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[0]
	}
	return out, nil
}

func (f *fakeTable) AppendRow(_ context.Context, v []string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows = append(f.rows, v)
	return nil
}

func (f *fakeTable) UpdateCell(_ context.Context, row, col int, value string) error {
	f.rows[row-1][col-1] = value
	return nil
}

func (f *fakeTable) URL() string { return "https://sheets.test/svc" }

// cell returns the value for key in column col, or "" when the row is absent.
func (f *fakeTable) cell(key int64, col sheets.Column) string {
	k := strconv.FormatInt(key, 10)
	for _, r := range f.rows[1:] {
		if r[0] == k {
			return r[col-1]
		}
	}
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openerFor(table *fakeTable) *sheets.Opener {
	return sheets.NewOpener(func(context.Context, string) (sheets.Table, error) {
		return table, nil
	}, "default-sheet", 0, testLogger())
}
