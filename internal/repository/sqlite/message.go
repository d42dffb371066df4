package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/repository"
)

var (
	_ repository.MessageRepository = (*DB)(nil)
	_ repository.SyncLogRepository = (*DB)(nil)
)

// AppendMessage logs a message. The primary key (account, chat, message id)
// plus INSERT OR IGNORE makes a redelivered message a no-op.
func (db *DB) AppendMessage(ctx context.Context, m *model.Message) error {
	if m.Direction == "" {
		m.Direction = model.DirectionIncoming
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (account_id, chat_id, message_id, sender_id, text, sent_at, direction)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, m.ChatID, m.MessageID, m.SenderID, m.Text, toMillis(m.SentAt), string(m.Direction),
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending message %d: %w", m.MessageID, err)
	}
	return nil
}

func (db *DB) RecentMessages(ctx context.Context, accountID string, chatID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT account_id, chat_id, message_id, sender_id, text, sent_at, direction
		 FROM messages
		 WHERE account_id = ? AND chat_id = ?
		 ORDER BY sent_at DESC, message_id DESC
		 LIMIT ?`,
		accountID, chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		var (
			m         model.Message
			sentAt    int64
			direction string
		)
		if err := rows.Scan(&m.AccountID, &m.ChatID, &m.MessageID, &m.SenderID, &m.Text, &sentAt, &direction); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message: %w", err)
		}
		m.SentAt = fromMillis(sentAt)
		m.Direction = model.Direction(direction)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}

	// Newest-first from SQL; callers want conversation order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LogSync appends an audit record. Nothing reads these back.
func (db *DB) LogSync(ctx context.Context, accountID, action, details string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_log (account_id, created_at, action, details) VALUES (?, ?, ?, ?)`,
		accountID, toMillis(time.Now()), action, details,
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing sync log: %w", err)
	}
	return nil
}
