package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pbaille/xmptags/internal/domain"
)

//go:embed schema.sql
var schema string

// DataDir is the directory inside a library that holds the database and config
const DataDir = ".xmptags"

// ErrNotFound is returned when a lookup matches nothing
var ErrNotFound = errors.New("not found")

// ErrTagExists is returned when a tag with the same name already sits under the same parent
var ErrTagExists = errors.New("tag already exists")

// Store handles database operations for one library
type Store struct {
	db  *sql.DB
	dir string
}

// Open opens (creating if needed) the library rooted at dir
func Open(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve library dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, DataDir), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s, err := New(filepath.Join(abs, DataDir, "library.db"))
	if err != nil {
		return nil, err
	}
	s.dir = abs
	return s, nil
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases whole
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dir: filepath.Dir(dbPath)}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the library root directory
func (s *Store) Dir() string {
	return s.dir
}

// AddEntry registers a library-relative path, returning the existing entry if present
func (s *Store) AddEntry(path string) (*domain.Entry, error) {
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." || path == "" {
		return nil, fmt.Errorf("add entry: empty path")
	}

	existing, err := s.entryByPath(path)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now()

	_, err = s.db.Exec(
		"INSERT INTO entries (id, path, created_at) VALUES (?, ?, ?)",
		id, path, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	return &domain.Entry{
		ID:        id,
		Path:      path,
		CreatedAt: now,
	}, nil
}

func (s *Store) entryByPath(path string) (*domain.Entry, error) {
	var e domain.Entry
	err := s.db.QueryRow(
		"SELECT id, path, created_at FROM entries WHERE path = ?",
		path,
	).Scan(&e.ID, &e.Path, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return &e, nil
}

// GetEntry retrieves an entry by ID with its tags
func (s *Store) GetEntry(id string) (*domain.Entry, error) {
	var entry domain.Entry
	err := s.db.QueryRow(
		"SELECT id, path, created_at FROM entries WHERE id = ?",
		id,
	).Scan(&entry.ID, &entry.Path, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}

	// Get associated tags
	tags, err := s.GetEntryTags(id)
	if err != nil {
		return nil, err
	}
	entry.Tags = tags

	return &entry, nil
}

// FindEntryByPrefix resolves a short ID prefix to a full entry
func (s *Store) FindEntryByPrefix(prefix string) (*domain.Entry, error) {
	var id string
	err := s.db.QueryRow(
		"SELECT id FROM entries WHERE id LIKE ? ESCAPE '\\' ORDER BY created_at LIMIT 1",
		escapeLike(prefix)+"%",
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", prefix, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return s.GetEntry(id)
}

// ListEntries returns entries ordered by path with pagination
func (s *Store) ListEntries(limit, offset int) ([]domain.Entry, error) {
	return s.queryEntries(
		"SELECT id, path, created_at FROM entries ORDER BY path LIMIT ? OFFSET ?",
		limit, offset,
	)
}

// AllEntries returns every entry in the library
func (s *Store) AllEntries() ([]domain.Entry, error) {
	return s.queryEntries("SELECT id, path, created_at FROM entries ORDER BY path")
}

// SearchEntries performs a simple path search
func (s *Store) SearchEntries(query string) ([]domain.Entry, error) {
	return s.queryEntries(
		"SELECT id, path, created_at FROM entries WHERE path LIKE ? ESCAPE '\\' ORDER BY path",
		"%"+escapeLike(query)+"%",
	)
}

func (s *Store) queryEntries(query string, args ...any) ([]domain.Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// FindTag looks a tag up by name or alias, ignoring case
func (s *Store) FindTag(name string) (*domain.Tag, error) {
	var tag domain.Tag
	err := s.db.QueryRow(`
		SELECT id, name, parent_id, created_at FROM tags
		WHERE name = ? COLLATE NOCASE
		UNION ALL
		SELECT t.id, t.name, t.parent_id, t.created_at FROM tags t
		JOIN tag_aliases a ON a.tag_id = t.id
		WHERE a.alias = ? COLLATE NOCASE
		LIMIT 1
	`, name, name).Scan(&tag.ID, &tag.Name, &tag.ParentID, &tag.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tag: %w", err)
	}
	return &tag, nil
}

// CreateTag inserts a new tag under parentID (nil for a root tag)
func (s *Store) CreateTag(name string, parentID *string) (*domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create tag: empty name")
	}

	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.Exec(
		"INSERT INTO tags (id, name, parent_id, created_at) VALUES (?, ?, ?, ?)",
		id, name, parentID, now,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return nil, fmt.Errorf("insert tag %s: %w", name, ErrTagExists)
	}
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}

	return &domain.Tag{
		ID:        id,
		Name:      name,
		ParentID:  parentID,
		CreatedAt: now,
	}, nil
}

// GetOrCreateTag finds a tag by name or alias or creates it
func (s *Store) GetOrCreateTag(name string, parentID *string) (*domain.Tag, error) {
	tag, err := s.FindTag(name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateTag(name, parentID)
}

// AddAlias records an alternative name for a tag
func (s *Store) AddAlias(tagID, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("add alias: empty alias")
	}
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO tag_aliases (tag_id, alias) VALUES (?, ?)",
		tagID, alias,
	)
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	return nil
}

// LinkEntryTag associates a tag with an entry, keeping the first source
// recorded. It reports whether a new link was made.
func (s *Store) LinkEntryTag(entryID, tagID, source string) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO entry_tags (entry_id, tag_id, source) VALUES (?, ?, ?)",
		entryID, tagID, source,
	)
	if err != nil {
		return false, fmt.Errorf("link entry tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link entry tag: %w", err)
	}
	return n > 0, nil
}

// HasEntryTag reports whether the entry already carries the tag
func (s *Store) HasEntryTag(entryID, tagID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM entry_tags WHERE entry_id = ? AND tag_id = ?",
		entryID, tagID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has entry tag: %w", err)
	}
	return n > 0, nil
}

// GetEntryTags returns all tags for an entry
func (s *Store) GetEntryTags(entryID string) ([]domain.Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, t.parent_id, t.created_at
		FROM tags t
		JOIN entry_tags et ON t.id = et.tag_id
		WHERE et.entry_id = ?
		ORDER BY t.name
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("get entry tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.ParentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// ListTags returns all tags with their aliases
func (s *Store) ListTags() ([]domain.Tag, error) {
	rows, err := s.db.Query(
		"SELECT id, name, parent_id, created_at FROM tags ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	index := make(map[string]int)
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.ParentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		index[t.ID] = len(tags)
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	aliasRows, err := s.db.Query("SELECT tag_id, alias FROM tag_aliases ORDER BY alias")
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer aliasRows.Close()

	for aliasRows.Next() {
		var tagID, alias string
		if err := aliasRows.Scan(&tagID, &alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		if i, ok := index[tagID]; ok {
			tags[i].Aliases = append(tags[i].Aliases, alias)
		}
	}

	return tags, aliasRows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
