package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vizcayal/aha-moment/internal/logger"
)

const defaultQueryLimit = 3

var ErrClosed = errors.New("memory store is closed")

// Entry is one remembered fact.
type Entry struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists memories in SQLite and answers memory queries by keyword
// search over them.
type Store struct {
	mu         sync.RWMutex
	db         *sql.DB
	insertStmt *sql.Stmt
	recentStmt *sql.Stmt

	queryLimit int
	log        logger.Logger
}

type Option func(*Store)

// WithQueryLimit sets how many hits Query joins into its answer.
func WithQueryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queryLimit = n
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore opens (and initialises) the database file at path.
func NewStore(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("memory store path is required")
	}
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure memory directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	if err := bootstrap(db); err != nil {
		db.Close()
		return nil, err
	}

	insertStmt, err := db.Prepare(`INSERT INTO memories (content, created_at) VALUES (?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	recentStmt, err := db.Prepare(`SELECT id, content, created_at FROM memories ORDER BY id DESC LIMIT ?`)
	if err != nil {
		insertStmt.Close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare select statement: %w", err)
	}

	s := &Store{
		db:         db,
		insertStmt: insertStmt,
		recentStmt: recentStmt,
		queryLimit: defaultQueryLimit,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func bootstrap(db *sql.DB) error {
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		return fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}
	return nil
}

// Add stores a memory and returns its id.
func (s *Store) Add(ctx context.Context, content string) (int64, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, errors.New("content must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.insertStmt.ExecContext(ctx, content, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to add memory: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit memories, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent memories: %w", err)
	}
	return scanEntries(rows, limit)
}

// Search returns up to limit memories containing any key term of query,
// newest first. A query with no key terms matches nothing.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	terms := extractSearchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	conditions := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, term := range terms {
		conditions[i] = "lower(content) LIKE ?"
		args = append(args, "%"+term+"%")
	}
	args = append(args, limit)
	stmt := `SELECT id, content, created_at FROM memories WHERE ` +
		strings.Join(conditions, " OR ") +
		` ORDER BY id DESC LIMIT ?`

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	return scanEntries(rows, limit)
}

// Query answers a memory query with the matching memories joined by
// newlines. Failures are logged and yield an empty answer.
func (s *Store) Query(ctx context.Context, query string) string {
	hits, err := s.Search(ctx, query, s.queryLimit)
	if err != nil {
		s.log.Warn("memory search failed", "error", err)
		return ""
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Content
	}
	s.log.Debug("memory query", "query", query, "hits", len(hits))
	return strings.Join(parts, "\n")
}

func scanEntries(rows *sql.Rows, limit int) ([]Entry, error) {
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory rows: %w", err)
	}
	return entries, nil
}

var stopWords = map[string]bool{
	"what": true, "is": true, "are": true, "do": true, "does": true, "did": true,
	"when": true, "where": true, "who": true, "how": true, "my": true, "the": true,
	"can": true, "could": true, "would": true, "should": true, "will": true,
	"you": true, "your": true, "yours": true, "tell": true, "about": true,
	"remember": true, "and": true, "for": true, "was": true,
}

// extractSearchTerms lowercases query and keeps alphanumeric words longer
// than two bytes that are not stop words.
func extractSearchTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// Close releases database resources. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	var firstErr error
	for _, c := range []interface{ Close() error }{s.insertStmt, s.recentStmt, s.db} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.insertStmt = nil
	s.recentStmt = nil
	s.db = nil
	return firstErr
}
