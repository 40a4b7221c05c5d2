// Package mysql provides a MySQL implementation of the conversation store.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/studysync/ragchat-go/pkg/conversation"
)

// Store implements conversation.Store using MySQL as the backend.
type Store struct {
	db *sql.DB
}

// Config contains MySQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// NewStore creates a new MySQL conversation store.
func NewStore(cfg *Config) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLStore: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLStore: %w", err)
	}

	store := &Store{db: db}
	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

// initTables initializes the database table structure.
func (s *Store) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL,
			original_text MEDIUMTEXT NOT NULL,
			has_summary TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_conversations_owner (owner_id, updated_at)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			role VARCHAR(16) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// Create persists a new conversation.
func (s *Store) Create(ctx context.Context, conv *conversation.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	query := `
		INSERT INTO conversations (id, owner_id, title, original_text, has_summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.OwnerID,
		conv.Title,
		conv.OriginalText,
		conv.HasSummary,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	if len(conv.Messages) > 0 {
		if err := s.AppendMessages(ctx, conv.ID, conv.Messages...); err != nil {
			return err
		}
	}

	return nil
}

// Get returns a conversation with its full message history, scoped to the
// owner.
func (s *Store) Get(ctx context.Context, ownerID, id string) (*conversation.Conversation, error) {
	query := `
		SELECT id, owner_id, title, original_text, has_summary, created_at, updated_at
		FROM conversations
		WHERE id = ? AND owner_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id, ownerID)

	var conv conversation.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.OwnerID,
		&conv.Title,
		&conv.OriginalText,
		&conv.HasSummary,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM conversation_messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var message conversation.Message
		if err := rows.Scan(&message.Role, &message.Content); err != nil {
			return nil, fmt.Errorf("Get: %w", err)
		}
		conv.Messages = append(conv.Messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return &conv, nil
}

// AppendMessages appends turns to the conversation's history inside one
// transaction.
func (s *Store) AppendMessages(ctx context.Context, id string, messages ...conversation.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("AppendMessages: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_messages WHERE conversation_id = ?`, id,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("AppendMessages: %w", err)
	}

	now := time.Now()
	for i, message := range messages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (conversation_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, maxSeq+i+1, message.Role, message.Content, now,
		)
		if err != nil {
			return fmt.Errorf("AppendMessages: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("AppendMessages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("AppendMessages: %w", err)
	}

	return nil
}

// SetOriginal records the one-time original text. The has_summary guard in
// the WHERE clause makes later calls no-ops.
func (s *Store) SetOriginal(ctx context.Context, id, originalText, title string) error {
	query := `
		UPDATE conversations
		SET original_text = ?, has_summary = 1, title = ?, updated_at = ?
		WHERE id = ? AND has_summary = 0
	`
	if _, err := s.db.ExecContext(ctx, query, originalText, title, time.Now(), id); err != nil {
		return fmt.Errorf("SetOriginal: %w", err)
	}

	return nil
}

// List returns the owner's conversations, most recently updated first,
// without message histories.
func (s *Store) List(ctx context.Context, ownerID string) ([]*conversation.Conversation, error) {
	query := `
		SELECT id, owner_id, title, original_text, has_summary, created_at, updated_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conversations []*conversation.Conversation
	for rows.Next() {
		var conv conversation.Conversation
		err := rows.Scan(
			&conv.ID,
			&conv.OwnerID,
			&conv.Title,
			&conv.OriginalText,
			&conv.HasSummary,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		conversations = append(conversations, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	return conversations, nil
}

// Delete removes a conversation and its messages, scoped to the owner.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if rowsAffected == 0 {
		return conversation.ErrNotFound
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
