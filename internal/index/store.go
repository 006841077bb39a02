// Package index is the semantic index: a SQLite-backed store of
// document chunks with optional embedding vectors. With an embedder
// configured, queries rank by cosine similarity; without one, a plain
// keyword match keeps the search tool functional in degraded mode.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver keeps the server binary cgo-free

	"github.com/andmartins7/docket/internal/embeddings"
)

// Chunk is a bounded text span carrying its source file tag.
type Chunk struct {
	Text   string
	Source string
}

// Result is a ranked chunk returned by Query.
type Result struct {
	Text   string
	Source string
	Score  float32
}

// Embedder generates embedding vectors for text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Store persists indexed chunks.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// Open opens (creating if needed) the chunk database at dbPath.
// embedder may be nil; the store then operates in keyword mode.
func Open(dbPath string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, embedder: embedder, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source, seq);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add indexes the given chunks. Existing chunks from the same sources
// are replaced so re-indexing a file is clean. Returns the number of
// chunks stored. Embedding failures degrade to keyword-only chunks
// rather than failing the whole batch.
func (s *Store) Add(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	seen := map[string]bool{}
	for _, c := range chunks {
		if !seen[c.Source] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, c.Source); err != nil {
				return 0, fmt.Errorf("clear source %s: %w", c.Source, err)
			}
			seen[c.Source] = true
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	count := 0
	seq := map[string]int{}
	for _, c := range chunks {
		var blob []byte
		if s.embedder != nil {
			emb, err := s.embedder.Generate(ctx, c.Text)
			if err != nil {
				s.logger.Warn("embedding failed, storing chunk without vector",
					"source", c.Source, "error", err)
			} else {
				blob = encodeEmbedding(emb)
			}
		}

		id, err := uuid.NewV7()
		if err != nil {
			return 0, fmt.Errorf("generate id: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, source, seq, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id.String(), c.Source, seq[c.Source], c.Text, blob, now)
		if err != nil {
			return 0, fmt.Errorf("insert chunk: %w", err)
		}
		seq[c.Source]++
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

// Query returns the top-k chunks most relevant to text, in relevance
// order.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Result, error) {
	if k <= 0 {
		k = 4
	}

	if s.embedder == nil {
		return s.keywordQuery(ctx, text, k)
	}

	queryEmb, err := s.embedder.Generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content, source, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var scored []Result
	for rows.Next() {
		var r Result
		var blob []byte
		if err := rows.Scan(&r.Text, &r.Source, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		emb := decodeEmbedding(blob)
		if len(emb) == 0 {
			continue
		}
		r.Score = embeddings.CosineSimilarity(queryEmb, emb)
		scored = append(scored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Partial selection sort for top-k; fine for small k.
	for i := 0; i < k && i < len(scored); i++ {
		maxIdx := i
		for j := i + 1; j < len(scored); j++ {
			if scored[j].Score > scored[maxIdx].Score {
				maxIdx = j
			}
		}
		scored[i], scored[maxIdx] = scored[maxIdx], scored[i]
	}

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// keywordQuery is the degraded mode used when no embedder is configured.
func (s *Store) keywordQuery(ctx context.Context, text string, k int) ([]Result, error) {
	pattern := "%" + text + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, source FROM chunks
		WHERE content LIKE ?
		ORDER BY source, seq
		LIMIT ?
	`, pattern, k)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Text, &r.Source); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- embedding helpers ---

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
