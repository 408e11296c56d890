package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS conversations (
  id         TEXT PRIMARY KEY,
  updated_at INTEGER NOT NULL,
  payload    TEXT NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at
ON conversations (updated_at);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  seq             INTEGER PRIMARY KEY AUTOINCREMENT,
  id              TEXT NOT NULL UNIQUE,
  conversation_id TEXT NOT NULL,
  created_at      INTEGER NOT NULL,
  payload         TEXT NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_conversation
ON messages (conversation_id, created_at, seq);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_created_at
ON messages (created_at);
`,
}

// SQLiteStore implements cache.Store for SQLite.
type SQLiteStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// New creates a SQLite cache at dbPath. The file is opened by Init.
func New(dbPath string) *SQLiteStore {
	return &SQLiteStore{path: dbPath}
}

// Init opens the database on first call and applies pending migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		db, err := open(ctx, s.path)
		if err != nil {
			return cache.Unavailable(err)
		}
		s.db = db
	}

	if err := applyMigrations(ctx, s.db); err != nil {
		return cache.Unavailable(err)
	}
	return nil
}

func open(ctx context.Context, dbPath string) (*sql.DB, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, cache.Unavailable(errors.New("sqlite cache not initialized"))
	}
	return s.db, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ==== Conversations ====

// UpsertConversation inserts or overwrites a conversation by ID.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv model.Conversation) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return cache.WriteError("encode conversation", err)
	}

	query := `
		INSERT INTO conversations (id, updated_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload    = excluded.payload
	`
	if _, err := db.ExecContext(ctx, query, conv.ID, conv.UpdatedAt.UnixNano(), string(payload)); err != nil {
		return cache.WriteError(fmt.Sprintf("upsert conversation %q", conv.ID), err)
	}
	return nil
}

// Conversations returns all cached conversations.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]model.Conversation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM conversations`)
	if err != nil {
		return nil, cache.ReadError("query conversations", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, cache.ReadError("scan conversation row", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			return nil, cache.ReadError("decode conversation", err)
		}
		convs = append(convs, conv.Normalize(model.SourceCache))
	}
	if err := rows.Err(); err != nil {
		return nil, cache.ReadError("iterate conversation rows", err)
	}
	return convs, nil
}

// ==== Messages ====

const upsertMessageQuery = `
	INSERT INTO messages (id, conversation_id, created_at, payload)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		conversation_id = excluded.conversation_id,
		created_at      = excluded.created_at,
		payload         = excluded.payload
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertMessage(ctx context.Context, ex execer, msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return cache.WriteError("encode message", err)
	}
	if _, err := ex.ExecContext(ctx, upsertMessageQuery, msg.ID, msg.ConversationID, msg.CreatedAt.UnixNano(), string(payload)); err != nil {
		return cache.WriteError(fmt.Sprintf("upsert message %q", msg.ID), err)
	}
	return nil
}

// UpsertMessage inserts or overwrites a message by ID, keeping its original insertion order.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg model.Message) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return upsertMessage(ctx, db, msg)
}

// UpsertMessages writes msgs in one transaction.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.inTx(ctx, "upsert messages", func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := upsertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceConversationMessages deletes the conversation's rows and writes msgs in one transaction.
func (s *SQLiteStore) ReplaceConversationMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	return s.inTx(ctx, "replace messages", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
			return cache.WriteError(fmt.Sprintf("delete messages of %q", conversationID), err)
		}
		for _, m := range msgs {
			if err := upsertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cache.WriteError("begin "+op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return cache.WriteError("commit "+op, err)
	}
	return nil
}

// MessagesByConversation returns messages ascending by creation time, then insertion order.
func (s *SQLiteStore) MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT payload
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, cache.ReadError(fmt.Sprintf("query messages of %q", conversationID), err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, cache.ReadError("scan message row", err)
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, cache.ReadError("decode message", err)
		}
		msgs = append(msgs, msg.Normalize(model.SourceCache))
	}
	if err := rows.Err(); err != nil {
		return nil, cache.ReadError("iterate message rows", err)
	}
	return msgs, nil
}

// ==== Maintenance ====

// Prune removes messages older than the cutoff, overflowing messages, then stale empty conversations.
func (s *SQLiteStore) Prune(ctx context.Context, policy cache.PrunePolicy) (cache.PruneResult, error) {
	var res cache.PruneResult
	err := s.inTx(ctx, "prune", func(tx *sql.Tx) error {
		if !policy.Before.IsZero() {
			r, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, policy.Before.UnixNano())
			if err != nil {
				return cache.WriteError("prune messages by age", err)
			}
			res.Messages += affected(r)
		}

		if policy.MaxMessagesPerConversation > 0 {
			r, err := tx.ExecContext(ctx, `
				DELETE FROM messages WHERE seq IN (
					SELECT seq FROM (
						SELECT seq, ROW_NUMBER() OVER (
							PARTITION BY conversation_id
							ORDER BY created_at DESC, seq DESC
						) AS rn
						FROM messages
					) WHERE rn > ?
				)
			`, policy.MaxMessagesPerConversation)
			if err != nil {
				return cache.WriteError("prune messages by capacity", err)
			}
			res.Messages += affected(r)
		}

		if !policy.Before.IsZero() {
			r, err := tx.ExecContext(ctx, `
				DELETE FROM conversations
				WHERE updated_at < ?
				  AND id NOT IN (SELECT DISTINCT conversation_id FROM messages)
			`, policy.Before.UnixNano())
			if err != nil {
				return cache.WriteError("prune conversations", err)
			}
			res.Conversations += affected(r)
		}
		return nil
	})
	if err != nil {
		return cache.PruneResult{}, err
	}
	return res, nil
}

func affected(r sql.Result) int {
	n, err := r.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// Stats reports counts and the database size in bytes.
func (s *SQLiteStore) Stats(ctx context.Context) (cache.Stats, error) {
	db, err := s.conn()
	if err != nil {
		return cache.Stats{}, err
	}

	var st cache.Stats
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return cache.Stats{}, cache.ReadError("count conversations", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return cache.Stats{}, cache.ReadError("count messages", err)
	}

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, `PRAGMA page_count;`).Scan(&pageCount); err != nil {
		return cache.Stats{}, cache.ReadError("read page count", err)
	}
	if err := db.QueryRowContext(ctx, `PRAGMA page_size;`).Scan(&pageSize); err != nil {
		return cache.Stats{}, cache.ReadError("read page size", err)
	}
	st.SizeBytes = pageCount * pageSize
	return st, nil
}

// ClearAll empties both tables; each delete runs even if the other fails.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	var errs []error
	for _, table := range []string{"conversations", "messages"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			errs = append(errs, cache.WriteError("clear "+table, err))
		}
	}
	return errors.Join(errs...)
}
