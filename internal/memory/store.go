// Package memory persists the knowledge base (documents and embedded chunks) in SQLite.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"egocoach/internal/domain"

	_ "modernc.org/sqlite"
)

const metaEmbeddingDim = "embedding_dim"

var _ domain.KnowledgeStore = (*SQLiteStore)(nil)

// SQLiteStore implements domain.KnowledgeStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: every write is serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) AddDocument(ctx context.Context, title, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (title, content, date_added) VALUES (?, ?, ?)`,
		title, content, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, storageErr("insert document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("document id", err)
	}
	return id, nil
}

// AddChunk stores one chunk. The first chunk ever written fixes the store's
// embedding dimensionality; later chunks with a different length are
// rejected with domain.ErrDimensionMismatch.
func (s *SQLiteStore) AddChunk(ctx context.Context, chunk domain.Chunk) error {
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", domain.ErrDimensionMismatch)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin chunk tx", err)
	}
	defer tx.Rollback()

	dim, err := embeddingDim(ctx, tx)
	if err != nil {
		return storageErr("read embedding dimension", err)
	}
	switch {
	case dim == 0:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO store_meta (key, value) VALUES (?, ?)`,
			metaEmbeddingDim, strconv.Itoa(len(chunk.Embedding)),
		); err != nil {
			return storageErr("record embedding dimension", err)
		}
	case dim != len(chunk.Embedding):
		return fmt.Errorf("%w: store has %d, chunk has %d", domain.ErrDimensionMismatch, dim, len(chunk.Embedding))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunks (doc_id, text, embedding, chunk_index) VALUES (?, ?, ?, ?)`,
		chunk.DocID, chunk.Text, encodeVector(chunk.Embedding), chunk.Index,
	); err != nil {
		return storageErr("insert chunk", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit chunk", err)
	}
	return nil
}

func embeddingDim(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (int, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, metaEmbeddingDim).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (s *SQLiteStore) GetDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.title, d.date_added, COUNT(c.id)
		 FROM documents d LEFT JOIN chunks c ON c.doc_id = d.id
		 GROUP BY d.id ORDER BY d.id`,
	)
	if err != nil {
		return nil, storageErr("list documents", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var added string
		if err := rows.Scan(&d.ID, &d.Title, &added, &d.ChunkCount); err != nil {
			return nil, storageErr("scan document", err)
		}
		d.DateAdded = parseTime(added)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list documents", err)
	}
	return docs, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	var d domain.Document
	var added string
	err := s.db.QueryRowContext(ctx,
		`SELECT d.id, d.title, d.content, d.date_added,
		        (SELECT COUNT(*) FROM chunks c WHERE c.doc_id = d.id)
		 FROM documents d WHERE d.id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Content, &added, &d.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, storageErr("get document", err)
	}
	d.DateAdded = parseTime(added)
	return &d, nil
}

func (s *SQLiteStore) AllChunks(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_id, text, embedding, chunk_index FROM chunks ORDER BY doc_id, chunk_index, id`,
	)
	if err != nil {
		return nil, storageErr("scan chunks", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *SQLiteStore) ChunksByDocument(ctx context.Context, docID int64) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_id, text, embedding, chunk_index FROM chunks
		 WHERE doc_id = ? ORDER BY chunk_index, id`, docID,
	)
	if err != nil {
		return nil, storageErr("chunks by document", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocID, &c.Text, &blob, &c.Index); err != nil {
			return nil, storageErr("scan chunk", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, storageErr(fmt.Sprintf("decode chunk %d", c.ID), err)
		}
		c.Embedding = vec
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan chunks", err)
	}
	return chunks, nil
}

// DeleteDocument removes the document and its chunks in one transaction.
// When the store becomes empty the recorded embedding dimension is cleared
// so a different embedding model can be used from then on.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, id); err != nil {
		return storageErr("delete chunks", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete document", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("delete document", err)
	} else if n == 0 {
		return domain.ErrDocumentNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&remaining); err != nil {
		return storageErr("count chunks", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM store_meta WHERE key = ?`, metaEmbeddingDim); err != nil {
			return storageErr("reset embedding dimension", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	var st domain.StoreStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`,
	).Scan(&st.Documents, &st.Chunks); err != nil {
		return st, storageErr("stats", err)
	}
	dim, err := embeddingDim(ctx, s.db)
	if err != nil {
		return st, storageErr("stats", err)
	}
	st.EmbeddingDim = dim
	return st, nil
}

// Snapshot writes a consistent, self-contained copy of the database to
// dest, which must not exist yet. Writers are blocked while it runs.
func (s *SQLiteStore) Snapshot(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot target %s already exists", dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return storageErr("snapshot", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
