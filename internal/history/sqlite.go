package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"relay/internal/chat"
	"relay/internal/model"
)

// SQLiteStore persists sessions in a SQLite database, one row per message.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath, enables WAL mode
// and runs pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Session(id string) chat.History {
	return &sqliteSession{db: s.db, id: id}
}

// Sessions lists session ids, most recently written first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM messages
		GROUP BY session_id
		ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteSession struct {
	db *sql.DB
	id string
}

func (s *sqliteSession) Load(ctx context.Context) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM messages
		WHERE session_id = ?
		ORDER BY id`, s.id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		var m model.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// Append writes msgs in one transaction so a turn is stored whole or not at all.
func (s *sqliteSession) Append(ctx context.Context, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, body, created_at) VALUES (?, ?, ?, ?)",
			s.id, string(m.Role), string(body), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *sqliteSession) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", s.id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
