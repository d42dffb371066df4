package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
)

var _ repository.ContactRepository = (*DB)(nil)

const contactColumns = `id, account_id, external_id, name, username, phone, bio,
	company, role, notes, topics, event_tag, exported, first_seen, last_interaction`

// CreateContact inserts a new contact.
//
// DEDUP AT THE STORAGE LAYER:
// The insert uses ON CONFLICT(account_id, external_id) DO NOTHING. When two
// inserts race for the same sender, exactly one row is written; the loser
// sees zero rows affected and gets apperror.ErrConflict, which the pipeline
// treats as "already known". No application-level lock is involved.
//
// Empty Company/Role are normalised to the Unknown sentinel here, so no code
// path can persist a blank.
func (db *DB) CreateContact(ctx context.Context, c *model.Contact) error {
	if c.ID == "" {
		c.ID = xid.New().String()
	}
	now := time.Now().UTC()
	if c.FirstSeen.IsZero() {
		c.FirstSeen = now
	}
	if c.LastInteraction.IsZero() {
		c.LastInteraction = c.FirstSeen
	}
	if c.Company == "" {
		c.Company = model.Unknown
	}
	if c.Role == "" {
		c.Role = model.Unknown
	}
	if c.Topics == nil {
		c.Topics = []string{}
	}

	topics, err := json.Marshal(c.Topics)
	if err != nil {
		return fmt.Errorf("sqlite: encoding topics: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO contacts (`+contactColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, external_id) DO NOTHING`,
		c.ID, c.AccountID, c.ExternalID, c.Name, c.Username, c.Phone, c.Bio,
		c.Company, c.Role, c.Notes, string(topics), c.EventTag, boolToInt(c.Exported),
		toMillis(c.FirstSeen), toMillis(c.LastInteraction),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating contact: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking insert result: %w", err)
	}
	if rows == 0 {
		return apperror.Conflict("contact", strconv.FormatInt(c.ExternalID, 10))
	}
	return nil
}

// TouchContact is the cheap path for a known sender. Running it twice with
// the same timestamp leaves the row unchanged.
func (db *DB) TouchContact(ctx context.Context, accountID string, externalID int64, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE contacts SET last_interaction = ? WHERE account_id = ? AND external_id = ?`,
		toMillis(at), accountID, externalID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: touching contact %d: %w", externalID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking touch result: %w", err)
	}
	return rows > 0, nil
}

func (db *DB) GetContact(ctx context.Context, accountID, id string) (*model.Contact, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE account_id = ? AND id = ?`,
		accountID, id,
	)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("contact", id)
		}
		return nil, fmt.Errorf("sqlite: getting contact %s: %w", id, err)
	}
	return c, nil
}

func (db *DB) GetContactByExternalID(ctx context.Context, accountID string, externalID int64) (*model.Contact, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE account_id = ? AND external_id = ?`,
		accountID, externalID,
	)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("contact", strconv.FormatInt(externalID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting contact %d: %w", externalID, err)
	}
	return c, nil
}

// ListContacts returns one page of contacts, newest first.
func (db *DB) ListContacts(ctx context.Context, accountID string, opts repository.ListOptions) ([]model.Contact, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	return db.queryContacts(ctx, "listing contacts",
		`SELECT `+contactColumns+` FROM contacts
		 WHERE account_id = ?
		 ORDER BY first_seen DESC, id DESC
		 LIMIT ? OFFSET ?`,
		accountID, limit, offset,
	)
}

// AllContacts returns every contact in first-seen order. Used by mirror
// reconciliation, which needs the whole set in memory.
func (db *DB) AllContacts(ctx context.Context, accountID string) ([]model.Contact, error) {
	return db.queryContacts(ctx, "listing all contacts",
		`SELECT `+contactColumns+` FROM contacts
		 WHERE account_id = ?
		 ORDER BY first_seen ASC, id ASC`,
		accountID,
	)
}

func (db *DB) RecentContacts(ctx context.Context, accountID string, since time.Time) ([]model.Contact, error) {
	return db.queryContacts(ctx, "listing recent contacts",
		`SELECT `+contactColumns+` FROM contacts
		 WHERE account_id = ? AND first_seen >= ?
		 ORDER BY first_seen ASC, id ASC`,
		accountID, toMillis(since),
	)
}

// UpdateContactField writes a single editable field.
//
// CLOSED FIELD SET:
// field is a model.Field, not a column name. Each case carries its own fixed
// statement, so a caller cannot reach any column outside the allow-list.
func (db *DB) UpdateContactField(ctx context.Context, accountID string, externalID int64, field model.Field, value string) error {
	var query string
	switch field {
	case model.FieldCompany:
		query = `UPDATE contacts SET company = ? WHERE account_id = ? AND external_id = ?`
	case model.FieldRole:
		query = `UPDATE contacts SET role = ? WHERE account_id = ? AND external_id = ?`
	case model.FieldNotes:
		query = `UPDATE contacts SET notes = ? WHERE account_id = ? AND external_id = ?`
	case model.FieldEventTag:
		query = `UPDATE contacts SET event_tag = ? WHERE account_id = ? AND external_id = ?`
	default:
		return apperror.ValidationFailed("field", fmt.Sprintf("field %q is not editable", field))
	}

	res, err := db.conn.ExecContext(ctx, query, value, accountID, externalID)
	if err != nil {
		return fmt.Errorf("sqlite: updating contact %d %s: %w", externalID, field, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update result: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("contact", strconv.FormatInt(externalID, 10))
	}
	return nil
}

// UpdateContact saves every mutable column of c. Identity columns
// (id, account_id, external_id, first_seen) are never rewritten.
func (db *DB) UpdateContact(ctx context.Context, c *model.Contact) error {
	if c.Topics == nil {
		c.Topics = []string{}
	}
	topics, err := json.Marshal(c.Topics)
	if err != nil {
		return fmt.Errorf("sqlite: encoding topics: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE contacts
		 SET name = ?, username = ?, phone = ?, bio = ?, company = ?, role = ?,
		     notes = ?, topics = ?, event_tag = ?, exported = ?, last_interaction = ?
		 WHERE account_id = ? AND id = ?`,
		c.Name, c.Username, c.Phone, c.Bio, c.Company, c.Role,
		c.Notes, string(topics), c.EventTag, boolToInt(c.Exported), toMillis(c.LastInteraction),
		c.AccountID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating contact %s: %w", c.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update result: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("contact", c.ID)
	}
	return nil
}

func (db *DB) DeleteContact(ctx context.Context, accountID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM contacts WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting contact %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking delete result: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("contact", id)
	}
	return nil
}

// TagRecentContacts is the conditional bulk update behind tag_event. Rows
// that already carry a tag, or were first seen before since, are untouched.
func (db *DB) TagRecentContacts(ctx context.Context, accountID string, since time.Time, tag string) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`UPDATE contacts SET event_tag = ?
		 WHERE account_id = ? AND first_seen >= ? AND event_tag = ''
		 RETURNING external_id`,
		tag, accountID, toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tagging contacts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning tagged id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating tagged ids: %w", err)
	}
	return ids, nil
}

// MarkExported flags the given contacts as present in the mirror.
func (db *DB) MarkExported(ctx context.Context, accountID string, externalIDs []int64) error {
	if len(externalIDs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning export mark: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE contacts SET exported = 1 WHERE account_id = ? AND external_id = ?`)
	if err != nil {
		return fmt.Errorf("sqlite: preparing export mark: %w", err)
	}
	defer stmt.Close()

	for _, id := range externalIDs {
		if _, err := stmt.ExecContext(ctx, accountID, id); err != nil {
			return fmt.Errorf("sqlite: marking contact %d exported: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing export mark: %w", err)
	}
	return nil
}

// ContactStats aggregates counts for the stats command and GET /stats.
// "With company" excludes both the empty string and the Unknown sentinel.
func (db *DB) ContactStats(ctx context.Context, accountID string, recentSince time.Time) (*model.Stats, error) {
	stats := &model.Stats{ByEvent: []model.EventCount{}}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN company <> '' AND company <> ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN first_seen >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(exported), 0)
		 FROM contacts WHERE account_id = ?`,
		model.Unknown, toMillis(recentSince), accountID,
	).Scan(&stats.Total, &stats.WithCompany, &stats.Recent, &stats.Exported)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting contacts: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT event_tag, COUNT(*) AS n FROM contacts
		 WHERE account_id = ? AND event_tag <> ''
		 GROUP BY event_tag
		 ORDER BY n DESC, event_tag ASC
		 LIMIT 5`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ec model.EventCount
		if err := rows.Scan(&ec.Tag, &ec.Count); err != nil {
			return nil, fmt.Errorf("sqlite: scanning event count: %w", err)
		}
		stats.ByEvent = append(stats.ByEvent, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating event counts: %w", err)
	}

	return stats, nil
}

func (db *DB) queryContacts(ctx context.Context, op, query string, args ...any) ([]model.Contact, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	contacts := make([]model.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return contacts, nil
}

func scanContact(s scanner) (*model.Contact, error) {
	var (
		c               model.Contact
		topics          string
		exported        int
		firstSeen, last int64
	)
	err := s.Scan(
		&c.ID, &c.AccountID, &c.ExternalID, &c.Name, &c.Username, &c.Phone, &c.Bio,
		&c.Company, &c.Role, &c.Notes, &topics, &c.EventTag, &exported, &firstSeen, &last,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil || c.Topics == nil {
		c.Topics = []string{}
	}
	c.Exported = exported != 0
	c.FirstSeen = fromMillis(firstSeen)
	c.LastInteraction = fromMillis(last)
	return &c, nil
}
