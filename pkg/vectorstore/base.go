// Package vectorstore provides interfaces and types for vector index
// backends.
//
// It defines the Index interface that all backends must satisfy. The
// contract mirrors serverless vector databases: vectors are upserted into a
// namespace with free-form metadata, queried by similarity with an exact
// metadata filter, and deleted by filter.
package vectorstore

import "context"

// Vector is a single upsertable record: an id, an embedding and the
// metadata stored alongside it.
type Vector struct {
	// ID is the unique identifier of the record within its namespace.
	// Upserting an existing ID replaces the record.
	ID string

	// Values is the embedding.
	Values []float64

	// Metadata contains additional structured information. Values must be
	// JSON-serializable scalars; backends match them by equality when
	// filtering.
	Metadata map[string]interface{}
}

// Match is a query result: a stored vector's id and metadata plus its
// similarity score against the query vector.
type Match struct {
	// ID is the matched record's id.
	ID string

	// Score is the cosine similarity in [-1, 1]; higher is closer.
	Score float64

	// Metadata is the metadata stored with the record.
	Metadata map[string]interface{}
}

// Filter restricts queries and deletions to records whose metadata contains
// every listed key with an equal value. A nil or empty filter matches all
// records in the namespace.
type Filter map[string]interface{}

// Matches reports whether metadata satisfies the filter. Values are
// compared as strings so that numeric metadata round-tripped through JSON
// still matches.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	for key, want := range f {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if stringify(want) != stringify(got) {
			return false
		}
	}
	return true
}

// Index defines the interface for vector index backends.
//
// All backends (SQLite, PostgreSQL/pgvector, chromem) must implement this
// interface.
type Index interface {
	// Upsert inserts or replaces vectors in the namespace. Each vector is
	// written atomically; a batch is not transactional as a whole.
	Upsert(ctx context.Context, vectors []Vector, namespace string) error

	// Query returns up to topK records nearest to the query vector by
	// cosine similarity, restricted by filter, ordered by descending
	// score.
	Query(ctx context.Context, vector []float64, topK int, filter Filter, namespace string) ([]Match, error)

	// DeleteMany removes every record in the namespace matching the
	// filter. Deleting with a filter that matches nothing is not an
	// error.
	DeleteMany(ctx context.Context, filter Filter, namespace string) error

	// Close closes the index and releases resources.
	Close() error
}
