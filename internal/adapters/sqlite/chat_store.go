package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id       INTEGER NOT NULL,
	sender_id     INTEGER NOT NULL,
	sender_role   TEXT    NOT NULL,
	body          TEXT    NOT NULL DEFAULT '',
	message_type  TEXT    NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages (room_id, id);
CREATE TABLE IF NOT EXISTS chat_attachments (
	message_id    INTEGER NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	url           TEXT    NOT NULL,
	name          TEXT    NOT NULL DEFAULT '',
	content_type  TEXT    NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (message_id, position)
);`

// ChatStore persists consultation chat messages and their attachments in SQLite.
type ChatStore struct {
	db *sql.DB
}

var _ domain.ChatStore = (*ChatStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, maxOpenConns int) (*ChatStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open chat database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply chat schema: %w", err)
	}
	return &ChatStore{db: db}, nil
}

// NewChatStore opens the store configured under database.*.
func NewChatStore(cfgProvider config.Provider) (*ChatStore, error) {
	cfg := cfgProvider.Get().Database
	return Open(cfg.Path, cfg.MaxOpenConns)
}

// Save inserts msg and its attachments in one transaction and returns the new id.
func (s *ChatStore) Save(ctx context.Context, msg domain.ChatMessage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin chat insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (room_id, sender_id, sender_role, body, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.RoomID, int64(msg.SenderID), string(msg.SenderRole), msg.Body, msg.MessageType, msg.CreatedAt.UTC().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chat message id: %w", err)
	}

	for i, a := range msg.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_attachments (message_id, position, url, name, content_type, size) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, a.URL, a.Name, a.ContentType, a.Size); err != nil {
			return 0, fmt.Errorf("insert chat attachment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chat message: %w", err)
	}
	return id, nil
}

// List returns the messages of roomID oldest first, attachments included.
func (s *ChatStore) List(ctx context.Context, roomID int64) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, sender_role, body, message_type, created_at
		FROM chat_messages WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			m         domain.ChatMessage
			senderID  int64
			role      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &senderID, &role, &m.Body, &m.MessageType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.SenderID = domain.ParticipantID(senderID)
		m.SenderRole = domain.ParticipantRole(role)
		m.CreatedAt = time.UnixMicro(createdAt).UTC()
		m.Attachments = []domain.AttachmentRef{}
		index[m.ID] = len(messages)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	if len(messages) == 0 {
		return messages, nil
	}

	att, err := s.db.QueryContext(ctx,
		`SELECT a.message_id, a.url, a.name, a.content_type, a.size
		FROM chat_attachments a JOIN chat_messages m ON m.id = a.message_id
		WHERE m.room_id = ? ORDER BY a.message_id, a.position`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query chat attachments: %w", err)
	}
	defer att.Close()
	for att.Next() {
		var (
			messageID int64
			a         domain.AttachmentRef
		)
		if err := att.Scan(&messageID, &a.URL, &a.Name, &a.ContentType, &a.Size); err != nil {
			return nil, fmt.Errorf("scan chat attachment: %w", err)
		}
		if i, ok := index[messageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, a)
		}
	}
	return messages, att.Err()
}

// Ping checks the database is reachable.
func (s *ChatStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ChatStore) Close() error {
	if s == nil || s.db == nil {
		return errors.New("chat store not open")
	}
	return s.db.Close()
}
