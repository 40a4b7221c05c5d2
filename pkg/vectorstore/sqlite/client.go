// Package sqlite provides a SQLite implementation of the vector index.
//
// SQLite is a lightweight, file-based database suitable for local
// development and small deployments. Embeddings are stored as JSON strings
// in TEXT fields, and similarity search uses in-memory cosine calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studysync/ragchat-go/pkg/vectorstore"
)

// Client implements vectorstore.Index using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing vectors.
	tableName string
}

// Config contains configuration for creating a SQLite index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use. Defaults to "vectors".
	TableName string
}

// NewClient creates a new SQLite index client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "vectors"
	}

	client := &Client{
		db:        db,
		tableName: tableName,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
//
// SQLite stores embeddings and metadata as JSON strings in TEXT fields.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, id)
		)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_namespace ON %s(namespace)
	`, c.tableName, c.tableName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Upsert inserts or replaces vectors in the namespace. Each row is written
// in its own statement, so individual upserts are atomic.
func (c *Client) Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) error {
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (id, namespace, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.tableName)

	for _, vector := range vectors {
		embeddingJSON, err := json.Marshal(vector.Values)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}

		metadataJSON, err := json.Marshal(vector.Metadata)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}

		_, err = c.db.ExecContext(ctx, query,
			vector.ID,
			namespace,
			string(embeddingJSON),
			string(metadataJSON),
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
	}

	return nil
}

// Query performs vector similarity search using cosine similarity.
//
// SQLite does not have native vector operations, so similarity is
// calculated in memory after loading the namespace's records.
func (c *Client) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter, namespace string) ([]vectorstore.Match, error) {
	query := fmt.Sprintf(`
		SELECT id, embedding, metadata
		FROM %s
		WHERE namespace = ?
		ORDER BY id
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []vectorstore.Match
	for rows.Next() {
		id, embedding, metadata, err := scanVector(rows)
		if err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}

		if !filter.Matches(metadata) {
			continue
		}

		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    vectorstore.CosineSimilarity(vector, embedding),
			Metadata: metadata,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	return vectorstore.SortByScore(matches, topK), nil
}

// DeleteMany removes every record in the namespace matching the filter.
//
// Metadata filtering happens in memory, mirroring Query; matched ids are
// then deleted individually.
func (c *Client) DeleteMany(ctx context.Context, filter vectorstore.Filter, namespace string) error {
	if len(filter) == 0 {
		query := fmt.Sprintf("DELETE FROM %s WHERE namespace = ?", c.tableName)
		if _, err := c.db.ExecContext(ctx, query, namespace); err != nil {
			return fmt.Errorf("DeleteMany: %w", err)
		}
		return nil
	}

	selectQuery := fmt.Sprintf("SELECT id, embedding, metadata FROM %s WHERE namespace = ?", c.tableName)
	rows, err := c.db.QueryContext(ctx, selectQuery, namespace)
	if err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		id, _, metadata, err := scanVector(rows)
		if err != nil {
			return fmt.Errorf("DeleteMany: %w", err)
		}
		if filter.Matches(metadata) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
	}

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE namespace = ? AND id = ?", c.tableName)
	for _, id := range ids {
		if _, err := c.db.ExecContext(ctx, deleteQuery, namespace, id); err != nil {
			return fmt.Errorf("DeleteMany: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanVector scans one record's id, embedding and metadata.
func scanVector(rows *sql.Rows) (string, []float64, map[string]interface{}, error) {
	var id, embeddingStr, metadataStr string
	if err := rows.Scan(&id, &embeddingStr, &metadataStr); err != nil {
		return "", nil, nil, err
	}

	var embedding []float64
	if err := json.Unmarshal([]byte(embeddingStr), &embedding); err != nil {
		return "", nil, nil, fmt.Errorf("parse embedding: %w", err)
	}

	var metadata map[string]interface{}
	if metadataStr != "" {
		if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
			return "", nil, nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return id, embedding, metadata, nil
}
