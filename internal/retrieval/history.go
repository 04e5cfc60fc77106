package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/akshay-eng/ITSM-agent/internal/embedding"
	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// =============================================================================
// TICKET HISTORY STORE (SQLITE)
// =============================================================================

// HistoryStore holds previously resolved tickets with vector embeddings and
// serves similarity searches over them. It implements Gateway.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	engine embedding.Engine
}

// HistoryRecord is one resolved ticket loaded during ingestion.
type HistoryRecord struct {
	Kind   ticket.Kind
	Text   string
	Fields map[string]string
}

// NewHistoryStore opens (creating if needed) the history database at path.
// The embedding engine is optional; without one the store can still ingest
// raw records but Search returns ErrUnavailable.
func NewHistoryStore(path string, engine embedding.Engine) (*HistoryStore, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "NewHistoryStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.RetrievalDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.RetrievalDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &HistoryStore{db: db, dbPath: path, engine: engine}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Retrieval("History store ready at %s", path)
	return s, nil
}

func (s *HistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ticket_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			text       TEXT NOT NULL,
			fields     TEXT NOT NULL,
			embedding  TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_history_kind ON ticket_history(kind);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Count returns the number of stored records for a kind ("" for all kinds).
func (s *HistoryStore) Count(kind ticket.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	var err error
	if kind == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM ticket_history").Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM ticket_history WHERE kind = ?", string(kind)).Scan(&n)
	}
	return n, err
}

// Add embeds and stores a single history record.
func (s *HistoryStore) Add(ctx context.Context, rec HistoryRecord) error {
	return s.AddBatch(ctx, []HistoryRecord{rec})
}

// AddBatch embeds and stores a batch of records in one transaction. Batch
// embedding keeps ingestion of large exports from issuing one HTTP round
// trip per ticket.
func (s *HistoryStore) AddBatch(ctx context.Context, recs []HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}

	var vectors [][]float32
	if s.engine != nil {
		texts := make([]string, len(recs))
		for i, r := range recs {
			texts[i] = r.Text
		}
		var err error
		vectors, err = s.engine.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed history batch: %w", err)
		}
		if len(vectors) != len(recs) {
			return fmt.Errorf("embedding count mismatch: got %d for %d records", len(vectors), len(recs))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT INTO ticket_history (kind, text, fields, embedding) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range recs {
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("failed to serialize record fields: %w", err)
		}
		var embJSON interface{}
		if vectors != nil {
			b, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("failed to serialize embedding: %w", err)
			}
			embJSON = string(b)
		}
		if _, err := stmt.Exec(string(r.Kind), r.Text, string(fieldsJSON), embJSON); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Retrieval("Ingested %d history records", len(recs))
	return nil
}

// Search embeds the query and ranks stored records of the same kind by
// cosine similarity. Scores are normalized to [0, 1].
func (s *HistoryStore) Search(ctx context.Context, kind ticket.Kind, query string, topK int) (Result, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Search")
	defer timer.Stop()

	if s.engine == nil {
		return Result{}, fmt.Errorf("%w: no embedding engine configured", ErrUnavailable)
	}
	if topK <= 0 {
		topK = 3
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: query embedding failed: %v", ErrUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT fields, embedding FROM ticket_history WHERE kind = ? AND embedding IS NOT NULL",
		string(kind),
	)
	if err != nil {
		return Result{}, fmt.Errorf("%w: history query failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var fieldsJSON, embJSON string
		if err := rows.Scan(&fieldsJSON, &embJSON); err != nil {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		cos, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}

		var fields map[string]string
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			continue
		}
		hits = append(hits, Hit{
			Score:  embedding.SimilarityScore(cos),
			Record: fields,
		})
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: history scan failed: %v", ErrUnavailable, err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	logging.RetrievalDebug("Search kind=%s topK=%d returned %d hits", kind, topK, len(hits))
	return Result{Hits: hits}, nil
}
