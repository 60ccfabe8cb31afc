// Package postgres implements carnet's retrieval interfaces over PostgreSQL:
// knowledge-base chunk search via pgvector cosine similarity and literature
// search via plain text matching.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	carnet "github.com/carnetd/carnet"
)

// minSimilarity is the cosine-similarity floor below which chunks are not
// worth surfacing to the agent.
const minSimilarity = 0.5

// Store implements carnet.ChunkSearcher and carnet.PaperSearcher backed by
// PostgreSQL with pgvector. Vector search uses HNSW indexes with cosine
// distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, catching
// dimension mismatches at insert time. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var (
	_ carnet.ChunkSearcher = (*Store)(nil)
	_ carnet.PaperSearcher = (*Store)(nil)
)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS knowledge_bases_owner_idx ON knowledge_bases(owner_id)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			kb_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS documents_kb_idx ON documents(kb_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS document_chunks_document_idx ON document_chunks(document_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx ON document_chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			authors TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			venue TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS papers_owner_idx ON papers(owner_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// SearchChunks returns the topK chunks nearest to the embedding across every
// knowledge base the user owns, filtered to cosine similarity of at least
// minSimilarity and ordered best first.
func (s *Store) SearchChunks(ctx context.Context, userID string, embedding []float32, topK int) ([]carnet.SearchChunk, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, kb.id, c.content, d.name, kb.name,
		        1 - (c.embedding <=> $1::vector) AS similarity
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 JOIN knowledge_bases kb ON kb.id = d.kb_id
		 WHERE kb.owner_id = $2
		   AND c.embedding IS NOT NULL
		   AND 1 - (c.embedding <=> $1::vector) >= $3
		 ORDER BY c.embedding <=> $1::vector
		 LIMIT $4`,
		embStr, userID, minSimilarity, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []carnet.SearchChunk
	for rows.Next() {
		var c carnet.SearchChunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.KBID, &c.Content, &c.DocumentName, &c.KBName, &c.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// SearchPapers matches the query against title, authors, and abstract.
// Papers with an empty owner_id are shared and visible to everyone.
func (s *Store) SearchPapers(ctx context.Context, userID, query string, limit int) ([]carnet.Paper, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, authors, abstract, year, venue, url
		 FROM papers
		 WHERE (owner_id = $1 OR owner_id = '')
		   AND (title ILIKE $2 OR authors ILIKE $2 OR abstract ILIKE $2)
		 ORDER BY year DESC, title
		 LIMIT $3`,
		userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search papers: %w", err)
	}
	defer rows.Close()

	var results []carnet.Paper
	for rows.Next() {
		var p carnet.Paper
		if err := rows.Scan(&p.ID, &p.Title, &p.Authors, &p.Abstract, &p.Year, &p.Venue, &p.URL); err != nil {
			return nil, fmt.Errorf("postgres: scan paper: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// AddChunk inserts or replaces one document chunk with its embedding.
func (s *Store) AddChunk(ctx context.Context, chunkID, documentID string, index int, content string, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding)
		 VALUES ($1, $2, $3, $4, $5::vector)
		 ON CONFLICT (id) DO UPDATE SET
		   document_id = EXCLUDED.document_id,
		   chunk_index = EXCLUDED.chunk_index,
		   content = EXCLUDED.content,
		   embedding = EXCLUDED.embedding`,
		chunkID, documentID, index, content, serializeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("postgres: add chunk: %w", err)
	}
	return nil
}

// AddPaper inserts or replaces one literature record.
func (s *Store) AddPaper(ctx context.Context, ownerID string, p carnet.Paper) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO papers (id, owner_id, title, authors, abstract, year, venue, url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   owner_id = EXCLUDED.owner_id,
		   title = EXCLUDED.title,
		   authors = EXCLUDED.authors,
		   abstract = EXCLUDED.abstract,
		   year = EXCLUDED.year,
		   venue = EXCLUDED.venue,
		   url = EXCLUDED.url`,
		p.ID, ownerID, p.Title, p.Authors, p.Abstract, p.Year, p.Venue, p.URL)
	if err != nil {
		return fmt.Errorf("postgres: add paper: %w", err)
	}
	return nil
}

// serializeEmbedding converts a float32 slice to pgvector text format:
// [0.1,0.2,...]
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// escapeLike escapes LIKE metacharacters in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
