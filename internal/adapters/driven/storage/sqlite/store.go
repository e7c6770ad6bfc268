package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/lectern/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

// jsonNull is the JSON representation of null.
const jsonNull = "null"

// Store is a unified SQLite-based storage that provides access to
// the document and chat stores through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.lectern/data/lectern.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".lectern", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "lectern.db")

	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite",
		dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// ChatStore returns a ChatStore interface backed by this store.
func (s *Store) ChatStore() driven.ChatStore {
	return &chatStore{store: s}
}

// migrate runs all pending migrations. Each migration records its own
// version in schema_migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Document Store ====================

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, owner_id, uri, title, abstract, content, keywords, summary,
	hierarchical, progress, status, metadata, created_at, updated_at`

const chunkColumns = `id, document_id, position, content, summary, keywords, topics,
	start_page, end_page, embedding, metadata`

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.DocumentStatusPending
	}

	keywords, err := marshalJSON(doc.Keywords, "[]")
	if err != nil {
		return fmt.Errorf("marshalling keywords: %w", err)
	}
	metadata, err := marshalJSON(doc.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	hierarchical, err := marshalHierarchical(doc.Hierarchical)
	if err != nil {
		return err
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			uri = excluded.uri,
			title = excluded.title,
			abstract = excluded.abstract,
			content = excluded.content,
			keywords = excluded.keywords,
			summary = excluded.summary,
			hierarchical = excluded.hierarchical,
			progress = excluded.progress,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, doc.ID, doc.OwnerID, doc.URI, doc.Title, doc.Abstract, doc.Content, keywords, doc.Summary,
		hierarchical, doc.Progress, string(doc.Status), metadata, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return doc, err
}

// ListDocuments returns the documents owned by a user, newest first.
func (s *documentStore) ListDocuments(ctx context.Context, ownerID string) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE owner_id = ?
		ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document. Chunks and chat messages cascade.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return requireAffected(res)
}

// ReplaceChunks deletes all chunks of a document and stores the given ones
// in a single transaction.
func (s *documentStore) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		keywords, err := marshalJSON(chunk.Keywords, "[]")
		if err != nil {
			return fmt.Errorf("marshalling chunk keywords: %w", err)
		}
		topics, err := marshalJSON(chunk.Topics, "[]")
		if err != nil {
			return fmt.Errorf("marshalling chunk topics: %w", err)
		}
		metadata, err := marshalJSON(chunk.Metadata, "{}")
		if err != nil {
			return fmt.Errorf("marshalling chunk metadata: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, chunk.ID, documentID, chunk.Position, chunk.Content,
			chunk.Summary, keywords, topics, nullInt(chunk.StartPage), nullInt(chunk.EndPage),
			float32SliceToBytes(chunk.Embedding), metadata); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetChunks retrieves all chunks for a document ordered by position.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE document_id = ?
		ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return collectChunks(rows)
}

// UpdateChunkAnalysis writes the summary, keywords and topics of one chunk.
func (s *documentStore) UpdateChunkAnalysis(ctx context.Context, documentID string,
	analysis domain.ChunkAnalysis) error {
	keywords, err := marshalJSON(analysis.Keywords, "[]")
	if err != nil {
		return fmt.Errorf("marshalling keywords: %w", err)
	}
	topics, err := marshalJSON(analysis.Topics, "[]")
	if err != nil {
		return fmt.Errorf("marshalling topics: %w", err)
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE chunks SET summary = ?, keywords = ?, topics = ?
		WHERE id = ? AND document_id = ?
	`, analysis.Summary, keywords, topics, analysis.ChunkID, documentID)
	if err != nil {
		return fmt.Errorf("updating chunk analysis: %w", err)
	}
	return requireAffected(res)
}

// UpdateProgress sets the analysis progress and status in one statement.
func (s *documentStore) UpdateProgress(ctx context.Context, documentID string, progress int,
	status domain.DocumentStatus) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET progress = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, progress, string(status), time.Now().UTC(), documentID)
	if err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return requireAffected(res)
}

// SaveAnalysis stores the document-level results of a pipeline run.
func (s *documentStore) SaveAnalysis(ctx context.Context, documentID string, summary string, keywords []string,
	hierarchical *domain.HierarchicalSummary) error {
	keywordsJSON, err := marshalJSON(keywords, "[]")
	if err != nil {
		return fmt.Errorf("marshalling keywords: %w", err)
	}
	hierarchicalJSON, err := marshalHierarchical(hierarchical)
	if err != nil {
		return err
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET summary = ?, keywords = ?, hierarchical = ?, updated_at = ?
		WHERE id = ?
	`, summary, keywordsJSON, hierarchicalJSON, time.Now().UTC(), documentID)
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return requireAffected(res)
}

// SearchChunks ranks a document's chunks against the query with FTS5 bm25.
// Query terms are quoted and OR-ed so user input never reaches the FTS
// query syntax. Scores are negated bm25 values, higher is better.
func (s *documentStore) SearchChunks(ctx context.Context, documentID, query string,
	limit int) ([]domain.ChunkHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.position, c.content, c.summary, c.keywords, c.topics,
			c.start_page, c.end_page, c.embedding, c.metadata, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ? AND c.document_id = ?
		ORDER BY rank, c.position
		LIMIT ?
	`, match, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []domain.ChunkHit
	for rows.Next() {
		var rank float64
		chunk, err := scanChunk(rows, &rank)
		if err != nil {
			return nil, err
		}
		hits = append(hits, domain.ChunkHit{Chunk: *chunk, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return hits, nil
}

// FindChunksContaining returns chunks containing every term as a
// case-insensitive substring, ordered by position.
func (s *documentStore) FindChunksContaining(ctx context.Context, documentID string, terms []string,
	limit int) ([]domain.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	var (
		where strings.Builder
		args  = []any{documentID}
	)
	for _, term := range terms {
		where.WriteString(" AND instr(lower(content), ?) > 0")
		args = append(args, strings.ToLower(term))
	}
	args = append(args, limit)

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE document_id = ?`+where.String()+`
		ORDER BY position
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return collectChunks(rows)
}

// ==================== Chat Store ====================

// chatStore implements driven.ChatStore.
type chatStore struct {
	store *Store
}

var _ driven.ChatStore = (*chatStore)(nil)

// AppendMessage stores a message, assigning an ID and timestamp when unset.
func (s *chatStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalJSON(msg.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshalling message metadata: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, document_id, user_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.DocumentID, msg.UserID, string(msg.Role), msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest user and assistant messages, newest first.
func (s *chatStore) RecentMessages(ctx context.Context, documentID, userID string,
	limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE document_id = ? AND user_id = ? AND role IN (?, ?)
		ORDER BY seq DESC
		LIMIT ?
	`, documentID, userID, string(domain.RoleUser), string(domain.RoleAssistant), limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.ChatMessage //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			msg      domain.ChatMessage
			role     string
			metadata string
		)
		if err := rows.Scan(&msg.ID, &msg.DocumentID, &msg.UserID, &role, &msg.Content,
			&metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = domain.Role(role)
		if err := unmarshalJSON(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling message metadata: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// ==================== Helpers ====================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument scans a single document row. sql.ErrNoRows is returned unwrapped.
func scanDocument(row scanner) (*domain.Document, error) {
	var (
		doc          domain.Document
		keywords     string
		hierarchical sql.NullString
		status       string
		metadata     string
	)

	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.URI, &doc.Title, &doc.Abstract, &doc.Content,
		&keywords, &doc.Summary, &hierarchical, &doc.Progress, &status, &metadata,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Status = domain.DocumentStatus(status)
	if err := unmarshalJSON(keywords, &doc.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshalling keywords: %w", err)
	}
	if err := unmarshalJSON(metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	if hierarchical.Valid && hierarchical.String != jsonNull {
		var h domain.HierarchicalSummary
		if err := json.Unmarshal([]byte(hierarchical.String), &h); err != nil {
			return nil, fmt.Errorf("unmarshalling hierarchical summary: %w", err)
		}
		doc.Hierarchical = &h
	}

	return &doc, nil
}

// scanChunk scans a chunk row. Extra destinations receive trailing columns.
func scanChunk(row scanner, extra ...any) (*domain.Chunk, error) {
	var (
		chunk     domain.Chunk
		keywords  string
		topics    string
		startPage sql.NullInt64
		endPage   sql.NullInt64
		embedding []byte
		metadata  string
	)

	dest := []any{&chunk.ID, &chunk.DocumentID, &chunk.Position, &chunk.Content, &chunk.Summary,
		&keywords, &topics, &startPage, &endPage, &embedding, &metadata}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	chunk.Embedding = bytesToFloat32Slice(embedding)
	chunk.StartPage = intPtr(startPage)
	chunk.EndPage = intPtr(endPage)
	if err := unmarshalJSON(keywords, &chunk.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshalling chunk keywords: %w", err)
	}
	if err := unmarshalJSON(topics, &chunk.Topics); err != nil {
		return nil, fmt.Errorf("unmarshalling chunk topics: %w", err)
	}
	if err := unmarshalJSON(metadata, &chunk.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling chunk metadata: %w", err)
	}

	return &chunk, nil
}

// collectChunks drains and closes rows.
func collectChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// ftsQuery turns free text into an FTS5 query of quoted OR-ed terms.
func ftsQuery(query string) string {
	terms := domain.QueryTerms(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// requireAffected maps a zero-row write to domain.ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// marshalJSON encodes v, substituting empty for nil values.
func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == jsonNull {
		return empty, nil
	}
	return string(data), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" || data == jsonNull {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func marshalHierarchical(h *domain.HierarchicalSummary) (sql.NullString, error) {
	if h == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling hierarchical summary: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// float32SliceToBytes converts []float32 to a little-endian byte slice.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
