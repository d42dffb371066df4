package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
)

var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, telegram_id, username, first_name, last_name, spreadsheet_id,
	initial_messages, auto_export, bot_token_sealed, created_at, updated_at`

// UpsertAccount creates the account on first login and refreshes the
// profile fields on later logins. Settings (spreadsheet, history size,
// auto-export, bot token) are only written on insert; after that they belong
// to UpdateAccountSettings.
//
// On return a holds the stored row, including its ID.
func (db *DB) UpsertAccount(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	if a.InitialMessages <= 0 {
		a.InitialMessages = model.DefaultInitialMessages
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		     username = excluded.username,
		     first_name = excluded.first_name,
		     last_name = excluded.last_name,
		     updated_at = excluded.updated_at`,
		xid.New().String(), a.TelegramID, a.Username, a.FirstName, a.LastName, a.SpreadsheetID,
		a.InitialMessages, boolToInt(a.AutoExport), a.BotTokenSealed, toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting account %d: %w", a.TelegramID, err)
	}

	stored, err := db.GetAccountByTelegramID(ctx, a.TelegramID)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

func (db *DB) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) GetAccountByTelegramID(ctx context.Context, telegramID int64) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE telegram_id = ?`, telegramID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", strconv.FormatInt(telegramID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting account %d: %w", telegramID, err)
	}
	return a, nil
}

func (db *DB) UpdateAccountSettings(ctx context.Context, a *model.Account) error {
	a.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts
		 SET spreadsheet_id = ?, initial_messages = ?, auto_export = ?, bot_token_sealed = ?, updated_at = ?
		 WHERE id = ?`,
		a.SpreadsheetID, a.InitialMessages, boolToInt(a.AutoExport), a.BotTokenSealed, toMillis(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating account %s: %w", a.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update result: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("account", a.ID)
	}
	return nil
}

// ListTrackedAccounts returns accounts that registered their own bot.
func (db *DB) ListTrackedAccounts(ctx context.Context) ([]model.Account, error) {
	return db.queryAccounts(ctx, "listing tracked accounts",
		`SELECT `+accountColumns+` FROM accounts WHERE bot_token_sealed <> '' ORDER BY created_at`)
}

func (db *DB) ListAutoExportAccounts(ctx context.Context) ([]model.Account, error) {
	return db.queryAccounts(ctx, "listing auto-export accounts",
		`SELECT `+accountColumns+` FROM accounts WHERE auto_export = 1 ORDER BY created_at`)
}

func (db *DB) queryAccounts(ctx context.Context, op, query string, args ...any) ([]model.Account, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	accounts := make([]model.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return accounts, nil
}

func scanAccount(s scanner) (*model.Account, error) {
	var (
		a                model.Account
		autoExport       int
		created, updated int64
	)
	err := s.Scan(
		&a.ID, &a.TelegramID, &a.Username, &a.FirstName, &a.LastName, &a.SpreadsheetID,
		&a.InitialMessages, &autoExport, &a.BotTokenSealed, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	a.AutoExport = autoExport != 0
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}
