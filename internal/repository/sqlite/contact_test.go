package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
)

// newTestDB opens a fresh in-memory database with migrations applied.
// t.Cleanup closes it when the test (and all its subtests) finish.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestAccount(t *testing.T, db *DB, telegramID int64) *model.Account {
	t.Helper()
	a := &model.Account{TelegramID: telegramID, Username: "owner"}
	if err := db.UpsertAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return a
}

func createTestContact(t *testing.T, db *DB, accountID string, externalID int64, firstSeen time.Time) *model.Contact {
	t.Helper()
	c := &model.Contact{
		AccountID:  accountID,
		ExternalID: externalID,
		Name:       "Ada Lovelace",
		FirstSeen:  firstSeen,
	}
	if err := db.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("failed to create test contact: %v", err)
	}
	return c
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreateContact_DefaultsToUnknown(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)

	c := createTestContact(t, db, acct.ID, 42, time.Now())

	if c.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := db.GetContactByExternalID(context.Background(), acct.ID, 42)
	if err != nil {
		t.Fatalf("GetContactByExternalID() error = %v", err)
	}
	if got.Company != model.Unknown || got.Role != model.Unknown {
		t.Errorf("company/role = %q/%q, want Unknown/Unknown", got.Company, got.Role)
	}
	if got.Topics == nil || len(got.Topics) != 0 {
		t.Errorf("Topics = %v, want empty slice", got.Topics)
	}
}

func TestCreateContact_DuplicateIsConflict(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	createTestContact(t, db, acct.ID, 42, time.Now())

	dup := &model.Contact{AccountID: acct.ID, ExternalID: 42, Name: "Someone Else"}
	err := db.CreateContact(context.Background(), dup)

	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := db.GetContactByExternalID(context.Background(), acct.ID, 42)
	if got.Name != "Ada Lovelace" {
		t.Errorf("duplicate insert overwrote row: name = %q", got.Name)
	}
}

func TestCreateContact_SameExternalIDDifferentAccounts(t *testing.T) {
	db := newTestDB(t)
	a := createTestAccount(t, db, 100)
	b := createTestAccount(t, db, 200)

	createTestContact(t, db, a.ID, 42, time.Now())
	createTestContact(t, db, b.ID, 42, time.Now())

	for _, acct := range []*model.Account{a, b} {
		all, err := db.AllContacts(context.Background(), acct.ID)
		if err != nil {
			t.Fatalf("AllContacts() error = %v", err)
		}
		if len(all) != 1 {
			t.Errorf("account %s has %d contacts, want 1", acct.ID, len(all))
		}
	}
}

func TestCreateContact_ConcurrentInsertsKeepOneRow(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.CreateContact(context.Background(), &model.Contact{AccountID: acct.ID, ExternalID: 7})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != 9 {
		t.Errorf("created=%d conflicts=%d, want 1 and 9", created, conflicts)
	}
}

// =========================================================================
// TOUCH / READ TESTS
// =========================================================================

func TestTouchContact(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	createTestContact(t, db, acct.ID, 42, time.Now().Add(-time.Hour))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		found, err := db.TouchContact(context.Background(), acct.ID, 42, at)
		if err != nil {
			t.Fatalf("TouchContact() error = %v", err)
		}
		if !found {
			t.Fatal("expected contact to be found")
		}
	}

	got, _ := db.GetContactByExternalID(context.Background(), acct.ID, 42)
	if !got.LastInteraction.Equal(at) {
		t.Errorf("LastInteraction = %v, want %v", got.LastInteraction, at)
	}

	found, err := db.TouchContact(context.Background(), acct.ID, 999, at)
	if err != nil {
		t.Fatalf("TouchContact() error = %v", err)
	}
	if found {
		t.Error("unknown sender reported as found")
	}
}

func TestGetContact_OtherAccountIsNotFound(t *testing.T) {
	db := newTestDB(t)
	a := createTestAccount(t, db, 100)
	b := createTestAccount(t, db, 200)
	c := createTestContact(t, db, a.ID, 42, time.Now())

	_, err := db.GetContact(context.Background(), b.ID, c.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListContacts_Pagination(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	base := time.Now().Add(-time.Hour)
	for i := int64(1); i <= 5; i++ {
		createTestContact(t, db, acct.ID, i, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := db.ListContacts(context.Background(), acct.ID, repository.ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListContacts() error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d, want 2", len(page))
	}
	// Newest first: 5, [4, 3], 2, 1
	if page[0].ExternalID != 4 || page[1].ExternalID != 3 {
		t.Errorf("page = [%d %d], want [4 3]", page[0].ExternalID, page[1].ExternalID)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdateContactField(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	createTestContact(t, db, acct.ID, 42, time.Now())

	tests := []struct {
		field model.Field
		value string
		get   func(*model.Contact) string
	}{
		{model.FieldCompany, "Acme", func(c *model.Contact) string { return c.Company }},
		{model.FieldRole, "CTO", func(c *model.Contact) string { return c.Role }},
		{model.FieldNotes, "met at booth 4", func(c *model.Contact) string { return c.Notes }},
		{model.FieldEventTag, "GopherCon", func(c *model.Contact) string { return c.EventTag }},
	}

	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			if err := db.UpdateContactField(context.Background(), acct.ID, 42, tt.field, tt.value); err != nil {
				t.Fatalf("UpdateContactField() error = %v", err)
			}
			got, _ := db.GetContactByExternalID(context.Background(), acct.ID, 42)
			if tt.get(got) != tt.value {
				t.Errorf("%s = %q, want %q", tt.field, tt.get(got), tt.value)
			}
		})
	}
}

func TestUpdateContactField_RejectsInvalidField(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	createTestContact(t, db, acct.ID, 42, time.Now())

	err := db.UpdateContactField(context.Background(), acct.ID, 42, model.Field(99), "x")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateContactField_MissingContact(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)

	err := db.UpdateContactField(context.Background(), acct.ID, 42, model.FieldCompany, "Acme")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =========================================================================
// TAG / EXPORT / STATS TESTS
// =========================================================================

func TestTagRecentContacts_OnlyUntaggedInWindow(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	now := time.Now()

	createTestContact(t, db, acct.ID, 1, now.Add(-1*time.Hour))  // in window, untagged
	createTestContact(t, db, acct.ID, 2, now.Add(-2*time.Hour))  // in window, already tagged
	createTestContact(t, db, acct.ID, 3, now.Add(-48*time.Hour)) // outside window
	if err := db.UpdateContactField(context.Background(), acct.ID, 2, model.FieldEventTag, "Earlier"); err != nil {
		t.Fatal(err)
	}

	ids, err := db.TagRecentContacts(context.Background(), acct.ID, now.Add(-24*time.Hour), "Conf")
	if err != nil {
		t.Fatalf("TagRecentContacts() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("tagged ids = %v, want [1]", ids)
	}

	want := map[int64]string{1: "Conf", 2: "Earlier", 3: ""}
	for id, tag := range want {
		c, _ := db.GetContactByExternalID(context.Background(), acct.ID, id)
		if c.EventTag != tag {
			t.Errorf("contact %d tag = %q, want %q", id, c.EventTag, tag)
		}
	}
}

func TestMarkExportedAndStats(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	now := time.Now()
	ctx := context.Background()

	createTestContact(t, db, acct.ID, 1, now.Add(-time.Hour))
	createTestContact(t, db, acct.ID, 2, now.Add(-time.Hour))
	createTestContact(t, db, acct.ID, 3, now.Add(-30*24*time.Hour))
	_ = db.UpdateContactField(ctx, acct.ID, 1, model.FieldCompany, "Acme")
	_ = db.UpdateContactField(ctx, acct.ID, 1, model.FieldEventTag, "Conf")
	_ = db.UpdateContactField(ctx, acct.ID, 2, model.FieldEventTag, "Conf")
	_ = db.UpdateContactField(ctx, acct.ID, 3, model.FieldEventTag, "Meetup")

	if err := db.MarkExported(ctx, acct.ID, []int64{1, 3}); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}

	stats, err := db.ContactStats(ctx, acct.ID, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("ContactStats() error = %v", err)
	}

	if stats.Total != 3 || stats.WithCompany != 1 || stats.Recent != 2 || stats.Exported != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.ByEvent) != 2 || stats.ByEvent[0] != (model.EventCount{Tag: "Conf", Count: 2}) {
		t.Errorf("ByEvent = %+v", stats.ByEvent)
	}
}

func TestDeleteContact(t *testing.T) {
	db := newTestDB(t)
	acct := createTestAccount(t, db, 100)
	c := createTestContact(t, db, acct.ID, 42, time.Now())

	if err := db.DeleteContact(context.Background(), acct.ID, c.ID); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}
	if err := db.DeleteContact(context.Background(), acct.ID, c.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}
