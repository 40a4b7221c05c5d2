// Package postgres provides a PostgreSQL + pgvector implementation of the
// vector index. Similarity search runs inside the database using pgvector's
// cosine distance operator, and metadata filters use JSONB containment.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/studysync/ragchat-go/pkg/vectorstore"
)

// Client is a PostgreSQL + pgvector index client.
type Client struct {
	db         *sql.DB
	tableName  string
	dimensions int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	TableName  string
	Dimensions int
	SSLMode    string
}

// NewClient creates a new PostgreSQL index client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "vectors"
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	client := &Client{
		db:         db,
		tableName:  tableName,
		dimensions: dimensions,
	}

	// Initialize pgvector extension and table structure
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	// Enable pgvector extension
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL,
			namespace VARCHAR(255) NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, id)
		)
	`, c.tableName, c.dimensions)

	_, err = c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_namespace ON %s(namespace)
	`, c.tableName, c.tableName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	return nil
}

// Upsert inserts or replaces vectors in the namespace.
func (c *Client) Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, id) DO UPDATE
		SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata
	`, c.tableName)

	for _, vector := range vectors {
		metadataJSON, err := json.Marshal(vector.Metadata)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}

		_, err = c.db.ExecContext(ctx, query,
			vector.ID,
			namespace,
			vectorToString(vector.Values),
			string(metadataJSON),
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
	}

	return nil
}

// Query performs vector search using pgvector's cosine distance operator.
// The metadata filter is pushed down as a JSONB containment check.
func (c *Client) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter, namespace string) ([]vectorstore.Match, error) {
	filterJSON, err := json.Marshal(map[string]interface{}(filter))
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	// <=> is cosine distance; similarity = 1 - distance.
	query := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE namespace = $2 AND metadata @> $3::jsonb
		ORDER BY embedding <=> $1
		LIMIT $4
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, vectorToString(vector), namespace, string(filterJSON), topK)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []vectorstore.Match
	for rows.Next() {
		var id, metadataStr string
		var score float64
		if err := rows.Scan(&id, &metadataStr, &score); err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}

		var metadata map[string]interface{}
		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
				return nil, fmt.Errorf("Query: parse metadata: %w", err)
			}
		}

		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    score,
			Metadata: metadata,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	return matches, nil
}

// DeleteMany removes every record in the namespace matching the filter.
func (c *Client) DeleteMany(ctx context.Context, filter vectorstore.Filter, namespace string) error {
	filterJSON, err := json.Marshal(map[string]interface{}(filter))
	if err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE namespace = $1 AND metadata @> $2::jsonb
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query, namespace, string(filterJSON)); err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
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

// vectorToString converts a vector to PostgreSQL vector format:
// "[0.1,0.2,0.3,...]".
func vectorToString(vector []float64) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
