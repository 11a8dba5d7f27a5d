// Package history provides PostgreSQL-backed storage for the message log.
// It owns the authoritative record of every message: the server assigns IDs
// and timestamps here, serves cursor-paginated history from here, and
// persists read state here.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/keyhaven/chat-engine/internal/message"
)

// Store manages the message log in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given DSN and runs pending schema
// migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: postgres connection failed: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle without running migrations.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts a message. The message must already carry its
// server-assigned ID and timestamp.
func (s *Store) Save(ctx context.Context, m message.Message) error {
	var readAt interface{}
	if !m.ReadAt.IsZero() {
		readAt = m.ReadAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at, is_read, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SenderID, m.ReceiverID, m.Text, m.Image, m.CreatedAt, m.IsRead, readAt,
	)
	if err != nil {
		return fmt.Errorf("history: save message %s: %w", m.ID, err)
	}
	return nil
}

// Page returns up to limit messages between self and counterpart that are
// older than the message identified by beforeID, newest first. An empty
// beforeID returns the newest page. Clients re-sort, so order here is a
// convenience, not a contract.
func (s *Store) Page(ctx context.Context, self, counterpart, beforeID string, limit int) ([]message.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if beforeID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, sender_id, receiver_id, text, image, created_at, is_read, read_at
			FROM messages
			WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`,
			self, counterpart, limit,
		)
	} else {
		// Resolve the cursor to its (created_at, id) position so pagination
		// stays stable when timestamps collide.
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, m.sender_id, m.receiver_id, m.text, m.image, m.created_at, m.is_read, m.read_at
			FROM messages m, messages cur
			WHERE cur.id = $3
			  AND ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))
			  AND (m.created_at, m.id) < (cur.created_at, cur.id)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $4`,
			self, counterpart, beforeID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("history: page for %s/%s: %w", self, counterpart, err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var (
			m      message.Message
			readAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image,
			&m.CreatedAt, &m.IsRead, &readAt); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		if readAt.Valid {
			m.ReadAt = readAt.Time
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: page rows: %w", err)
	}
	return out, nil
}

// MarkRead marks every unread message from counterpart to self as read at
// the given time and returns how many rows changed. Already-read rows keep
// their original read_at.
func (s *Store) MarkRead(ctx context.Context, self, counterpart string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = TRUE, read_at = $3
		WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE`,
		counterpart, self, at,
	)
	if err != nil {
		return 0, fmt.Errorf("history: mark read %s->%s: %w", counterpart, self, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
