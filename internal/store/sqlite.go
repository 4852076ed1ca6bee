package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc applies _pragma parameters to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);

	CREATE TABLE IF NOT EXISTS thread_entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(thread_id, kind, value)
	);

	CREATE TABLE IF NOT EXISTS generation_sessions (
		session_id TEXT PRIMARY KEY,
		thread_id TEXT,
		platform TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL,
		session_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_generation_sessions_thread ON generation_sessions(thread_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// AppendMessage stores msg and its entities in one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, msg StoredMessage, entities []Entity) (bool, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var created bool
	err := withBusyRetry(ctx, "append message", func() error {
		var err error
		created, err = s.appendMessageOnce(ctx, threadID, msg, entities)
		return err
	})
	return created, err
}

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, threadID string, msg StoredMessage, entities []Entity) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back append message", "error", rbErr)
		}
	}()

	ts := msg.CreatedAt.Unix()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO threads (thread_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(thread_id) DO NOTHING`,
		threadID, ts, ts)
	if err != nil {
		return false, fmt.Errorf("create thread: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	created := rows == 1

	if !created {
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE thread_id = ?`, ts, threadID); err != nil {
			return false, fmt.Errorf("touch thread: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		threadID, msg.Role, msg.Content, ts); err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	for _, e := range entities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO thread_entities (thread_id, kind, value) VALUES (?, ?, ?)
			 ON CONFLICT(thread_id, kind, value) DO NOTHING`,
			threadID, e.Kind, e.Value); err != nil {
			return false, fmt.Errorf("insert entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit message: %w", err)
	}
	return created, nil
}

// RecentMessages returns up to limit messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]StoredMessage, error) {
	query := `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE thread_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var createdAt int64
		if err := rows.Scan(&m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ThreadEntities returns the thread's entities in first-seen order.
func (s *SQLiteStore) ThreadEntities(ctx context.Context, threadID string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, value FROM thread_entities WHERE thread_id = ? ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close entity rows", "error", closeErr)
		}
	}()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.Kind, &e.Value); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// ClearThread removes a thread, its messages, and its entities.
func (s *SQLiteStore) ClearThread(ctx context.Context, threadID string) error {
	return withBusyRetry(ctx, "clear thread", func() error {
		return s.clearThreadOnce(ctx, threadID)
	})
}

func (s *SQLiteStore) clearThreadOnce(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back clear thread", "error", rbErr)
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrThreadNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_entities WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear thread: %w", err)
	}
	return nil
}

// PurgeIdleThreads removes threads whose last message is older than ttl.
func (s *SQLiteStore) PurgeIdleThreads(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var purged int64
	err := withBusyRetry(ctx, "purge idle threads", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back purge", "error", rbErr)
			}
		}()

		idle := `SELECT thread_id FROM threads WHERE updated_at < ?`
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id IN (`+idle+`)`, threshold); err != nil {
			return fmt.Errorf("purge messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM thread_entities WHERE thread_id IN (`+idle+`)`, threshold); err != nil {
			return fmt.Errorf("purge entities: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("purge threads: %w", err)
		}
		if purged, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return tx.Commit()
	})
	return purged, err
}

// SaveGenerationSession upserts s as a JSON document.
func (s *SQLiteStore) SaveGenerationSession(ctx context.Context, gs *domain.GenerationSession) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("encode generation session: %w", err)
	}

	var threadID interface{}
	if gs.ThreadID != "" {
		threadID = gs.ThreadID
	}
	now := time.Now().Unix()

	query := `
	INSERT INTO generation_sessions (session_id, thread_id, platform, status, attempt_count, session_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		attempt_count = excluded.attempt_count,
		session_json = excluded.session_json,
		updated_at = excluded.updated_at`

	return withBusyRetry(ctx, "save generation session", func() error {
		if _, err := s.db.ExecContext(ctx, query,
			gs.ID, threadID, string(gs.Platform), string(gs.Status), len(gs.Attempts),
			string(data), gs.StartedAt.Unix(), now,
		); err != nil {
			return fmt.Errorf("upsert generation session: %w", err)
		}
		return nil
	})
}

// GetGenerationSession loads a generation session by id.
func (s *SQLiteStore) GetGenerationSession(ctx context.Context, id string) (*domain.GenerationSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_json FROM generation_sessions WHERE session_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation session: %w", err)
	}

	var gs domain.GenerationSession
	if err := json.Unmarshal([]byte(data), &gs); err != nil {
		return nil, fmt.Errorf("decode generation session %s: %w", id, err)
	}
	return &gs, nil
}
