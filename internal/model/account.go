package model

import "time"

// DefaultInitialMessages is how many recent messages feed extraction when an
// account has not chosen its own value.
const DefaultInitialMessages = 5

// Account is an owning user of the tracker.
//
// Accounts are created on first Telegram login (POST /auth/telegram) or, in
// single-account mode, from TELEGRAM_OWNER_ID at startup. TelegramID is the
// platform's user id and is UNIQUE in the store.
//
// BotTokenSealed holds a per-account bot token encrypted with auth.Sealer.
// It is never serialised to JSON.
type Account struct {
	ID              string    `json:"id"`
	TelegramID      int64     `json:"telegramId"`
	Username        string    `json:"username"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	SpreadsheetID   string    `json:"spreadsheetId"`
	InitialMessages int       `json:"initialMessages"`
	AutoExport      bool      `json:"autoExport"`
	BotTokenSealed  string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasBot reports whether the account registered its own bot token.
func (a *Account) HasBot() bool {
	return a.BotTokenSealed != ""
}

// MessageCount returns the configured history size, falling back to the
// default for zero or negative values.
func (a *Account) MessageCount() int {
	if a.InitialMessages <= 0 {
		return DefaultInitialMessages
	}
	return a.InitialMessages
}
