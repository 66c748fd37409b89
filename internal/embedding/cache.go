package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// Cache is an on-disk, content-hash-keyed store of previously computed
// embeddings, backed by modernc.org/sqlite (pure Go, no cgo). It avoids
// recomputing embeddings for knowledge entries that have not changed between
// retrieval calls, adapted from the teacher's ComputeContentHash dedup
// pattern in internal/store/local_knowledge.go.
type Cache struct {
	db *sql.DB
}

// ContentHash returns the hex-encoded SHA-256 of text, used as the cache key.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// OpenCache opens (creating if necessary) the embedding cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("embedding: opening cache db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT NOT NULL,
			provider     TEXT NOT NULL,
			vector       BLOB NOT NULL,
			PRIMARY KEY (content_hash, provider)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("embedding: creating cache table: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached vector for text under provider, if present.
func (c *Cache) Get(ctx context.Context, provider, text string) ([]float32, bool, error) {
	hash := ContentHash(text)
	row := c.db.QueryRowContext(ctx, `SELECT vector FROM embedding_cache WHERE content_hash = ? AND provider = ?`, hash, provider)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("embedding: reading cache: %w", err)
	}
	return decodeVector(blob), true, nil
}

// Put stores vec for text under provider, overwriting any prior entry.
func (c *Cache) Put(ctx context.Context, provider, text string, vec []float32) error {
	hash := ContentHash(text)
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (content_hash, provider, vector) VALUES (?, ?, ?)
		 ON CONFLICT(content_hash, provider) DO UPDATE SET vector = excluded.vector`,
		hash, provider, encodeVector(vec))
	if err != nil {
		return fmt.Errorf("embedding: writing cache: %w", err)
	}
	return nil
}

// CachedEngine wraps an Engine with a Cache, keyed by content hash, so
// repeated retrieval calls against unchanged knowledge text skip recomputation.
type CachedEngine struct {
	Engine Engine
	Cache  *Cache
}

func (c *CachedEngine) Name() string     { return c.Engine.Name() }
func (c *CachedEngine) Dimensions() int  { return c.Engine.Dimensions() }

func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok, err := c.Cache.Get(ctx, c.Engine.Name(), text); err == nil && ok {
		return vec, nil
	}
	vec, err := c.Engine.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = c.Cache.Put(ctx, c.Engine.Name(), text, vec)
	return vec, nil
}

func (c *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, t := range texts {
		if vec, ok, err := c.Cache.Get(ctx, c.Engine.Name(), t); err == nil && ok {
			out[i] = vec
			continue
		}
		misses = append(misses, t)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return out, nil
	}
	computed, err := c.Engine.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for i, vec := range computed {
		out[missIdx[i]] = vec
		_ = c.Cache.Put(ctx, c.Engine.Name(), misses[i], vec)
	}
	return out, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
