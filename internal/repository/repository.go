// Package repository declares the storage contracts. Services and the
// ingestion pipeline depend on these interfaces, never on the sqlite package.
//
// Every method is scoped by accountID: one account can never read or write
// another account's rows.
package repository

import (
	"context"
	"time"

	"github.com/sakif/contact-tracker/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ContactRepository is the Contact Store.
type ContactRepository interface {
	// CreateContact inserts a new contact. It returns an error matching
	// apperror.ErrConflict when (accountID, externalID) already exists.
	CreateContact(ctx context.Context, c *model.Contact) error
	// TouchContact sets last_interaction and reports whether the contact exists.
	TouchContact(ctx context.Context, accountID string, externalID int64, at time.Time) (bool, error)
	GetContact(ctx context.Context, accountID, id string) (*model.Contact, error)
	GetContactByExternalID(ctx context.Context, accountID string, externalID int64) (*model.Contact, error)
	ListContacts(ctx context.Context, accountID string, opts ListOptions) ([]model.Contact, error)
	AllContacts(ctx context.Context, accountID string) ([]model.Contact, error)
	RecentContacts(ctx context.Context, accountID string, since time.Time) ([]model.Contact, error)
	UpdateContactField(ctx context.Context, accountID string, externalID int64, field model.Field, value string) error
	UpdateContact(ctx context.Context, c *model.Contact) error
	DeleteContact(ctx context.Context, accountID, id string) error
	// TagRecentContacts sets tag on contacts first seen at or after since
	// whose tag is empty, and returns the external ids it changed.
	TagRecentContacts(ctx context.Context, accountID string, since time.Time, tag string) ([]int64, error)
	MarkExported(ctx context.Context, accountID string, externalIDs []int64) error
	ContactStats(ctx context.Context, accountID string, recentSince time.Time) (*model.Stats, error)
}

type AccountRepository interface {
	// UpsertAccount inserts or refreshes the profile fields of the account
	// with a.TelegramID. Settings are left untouched on update.
	UpsertAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByTelegramID(ctx context.Context, telegramID int64) (*model.Account, error)
	UpdateAccountSettings(ctx context.Context, a *model.Account) error
	ListTrackedAccounts(ctx context.Context) ([]model.Account, error)
	ListAutoExportAccounts(ctx context.Context) ([]model.Account, error)
}

// MessageRepository is the append-only conversation log.
type MessageRepository interface {
	AppendMessage(ctx context.Context, m *model.Message) error
	// RecentMessages returns up to limit of the newest messages in a chat,
	// oldest first.
	RecentMessages(ctx context.Context, accountID string, chatID int64, limit int) ([]model.Message, error)
}

type SyncLogRepository interface {
	LogSync(ctx context.Context, accountID, action, details string) error
}
