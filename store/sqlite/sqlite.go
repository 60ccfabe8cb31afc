// Package sqlite implements carnet.MessageLog using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	carnet "github.com/carnetd/carnet"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogger sets a structured logger for the log.
func WithLogger(l *slog.Logger) LogOption {
	return func(s *Log) {
		if l != nil {
			s.logger = l
		}
	}
}

// Log is the durable conversation record backed by a local SQLite file.
// Message ids are the table's AUTOINCREMENT rowids, so they are unique and
// monotonic across the whole log.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ carnet.MessageLog = (*Log)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Log using a local SQLite file at dbPath. It opens a single
// shared connection pool with SetMaxOpenConns(1) so that all goroutines
// serialize through one connection, eliminating SQLITE_BUSY errors caused by
// concurrent writers opening independent connections.
func New(dbPath string, opts ...LogOption) *Log {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Log{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: message log opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Log) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			thought TEXT NOT NULL DEFAULT '',
			steps TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, id)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Log) Close() error { return s.db.Close() }

// AppendUserMessage stores a user turn and returns its id.
func (s *Log) AppendUserMessage(ctx context.Context, conversationID, content string) (int64, error) {
	return s.append(ctx, conversationID, "user", content, "", nil)
}

// AppendAssistantMessage stores an assistant turn with its thought and step
// trace and returns its id.
func (s *Log) AppendAssistantMessage(ctx context.Context, conversationID, content, thought string, steps []carnet.AgentStep) (int64, error) {
	return s.append(ctx, conversationID, "assistant", content, thought, steps)
}

func (s *Log) append(ctx context.Context, conversationID, role, content, thought string, steps []carnet.AgentStep) (int64, error) {
	var stepsJSON any
	if len(steps) > 0 {
		raw, err := json.Marshal(steps)
		if err != nil {
			return 0, fmt.Errorf("sqlite: marshal steps: %w", err)
		}
		stepsJSON = string(raw)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, thought, steps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, role, content, thought, stepsJSON, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return id, nil
}

// Messages returns up to limit messages of a conversation, oldest first.
func (s *Log) Messages(ctx context.Context, conversationID string, limit int) ([]carnet.StoredMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	// Most recent window, then reverse to chronological order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, thought, steps, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query messages: %w", err)
	}
	defer rows.Close()

	var out []carnet.StoredMessage
	for rows.Next() {
		var (
			m         carnet.StoredMessage
			stepsJSON sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Thought, &stepsJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		if stepsJSON.Valid && stepsJSON.String != "" {
			if err := json.Unmarshal([]byte(stepsJSON.String), &m.Steps); err != nil {
				s.logger.Warn("sqlite: corrupt steps json", "message_id", m.ID, "error", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
