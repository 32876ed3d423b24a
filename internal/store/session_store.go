package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"rlm/internal/logging"
	"rlm/internal/value"
)

// SessionStore persists one Session as a SQLite database file at a fixed
// locator. Every save builds a complete new database next to the target and
// renames it into place, so readers see either the old or the new file and
// never a partial one. There is no locking: concurrent writers race and the
// last rename wins.
type SessionStore struct {
	path string
}

// NewSessionStore returns a store for the given locator. Nothing is touched
// on disk until Load, Save or Reset.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Path returns the session file locator.
func (s *SessionStore) Path() string {
	return s.path
}

// ChunksDir returns the sibling directory removed by Reset.
func (s *SessionStore) ChunksDir() string {
	return filepath.Join(filepath.Dir(s.path), "chunks")
}

func (s *SessionStore) tempPath() string {
	return s.path + ".tmp"
}

// Exists reports whether durable state is present.
func (s *SessionStore) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

const sessionSchema = `
	CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE context (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		path TEXT NOT NULL,
		loaded_at INTEGER NOT NULL,
		content TEXT NOT NULL,
		has_files INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE files (
		ord INTEGER PRIMARY KEY,
		path TEXT NOT NULL
	);

	CREATE TABLE buffers (
		ord INTEGER PRIMARY KEY,
		text TEXT NOT NULL
	);

	CREATE TABLE variables (
		name TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
`

// Load reads the session at the locator.
func (s *SessionStore) Load() (*Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Load")
	defer timer.Stop()

	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s; run: rlm init <context_path>", ErrSessionNotFound, s.path)
		}
		return nil, fmt.Errorf("failed to stat session: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrCorruptState, s.path)
	}

	db, err := sql.Open("sqlite3", "file:"+s.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer db.Close()

	sess, err := readSession(db)
	if err != nil {
		logging.StoreError("Failed to read session %s: %v", s.path, err)
		if errors.Is(err, ErrCorruptState) {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}

	logging.Store("Loaded session %s from %s (%d chars, %d buffers, %d vars)",
		sess.ID, s.path, len(sess.Context.Content), len(sess.Buffers), len(sess.Variables))
	return sess, nil
}

func readSession(db *sql.DB) (*Session, error) {
	tables, err := tableNames(db)
	if err != nil {
		return nil, err
	}
	if !tables["meta"] || !tables["context"] {
		return nil, fmt.Errorf("%w: missing meta or context table", ErrCorruptState)
	}

	meta, err := readMeta(db)
	if err != nil {
		return nil, err
	}
	rawVersion, ok := meta["schema_version"]
	if !ok {
		return nil, fmt.Errorf("%w: missing schema_version", ErrCorruptState)
	}
	version, err := strconv.Atoi(rawVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: schema_version %q", ErrCorruptState, rawVersion)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("%w: %w: found %d, want %d", ErrCorruptState, ErrSchemaMismatch, version, SchemaVersion)
	}

	sess := &Session{
		ID:            meta["session_id"],
		SchemaVersion: version,
		Buffers:       []string{},
		Variables:     map[string]value.Value{},
	}
	if raw := meta["source"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Source); err != nil {
			return nil, fmt.Errorf("%w: source: %v", ErrCorruptState, err)
		}
	}

	var (
		ctx      Context
		loadedAt int64
		hasFiles bool
	)
	err = db.QueryRow(`SELECT path, loaded_at, content, has_files FROM context WHERE id = 1`).
		Scan(&ctx.Path, &loadedAt, &ctx.Content, &hasFiles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: missing context content", ErrCorruptState)
	}
	if err != nil {
		return nil, err
	}
	ctx.LoadedAt = time.Unix(0, loadedAt)
	sess.Context = &ctx

	if hasFiles && tables["files"] {
		files, err := readStrings(db, `SELECT path FROM files ORDER BY ord`)
		if err != nil {
			return nil, err
		}
		ctx.Files = files
	}

	// buffers and variables are optional on read
	if tables["buffers"] {
		buffers, err := readStrings(db, `SELECT text FROM buffers ORDER BY ord`)
		if err != nil {
			return nil, err
		}
		sess.Buffers = buffers
	}
	if tables["variables"] {
		if err := readVariables(db, sess.Variables); err != nil {
			return nil, err
		}
	}

	return sess, nil
}

func tableNames(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[name] = true
	}
	return tables, rows.Err()
}

func readMeta(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func readStrings(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func readVariables(db *sql.DB, into map[string]value.Value) error {
	rows, err := db.Query(`SELECT name, value FROM variables`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return err
		}
		v, err := value.Decode(raw)
		if err != nil {
			return fmt.Errorf("%w: variable %q: %v", ErrCorruptState, name, err)
		}
		into[name] = v
	}
	return rows.Err()
}

// Save writes sess to the locator atomically, creating parent directories.
func (s *SessionStore) Save(sess *Session) error {
	timer := logging.StartTimer(logging.CategoryStore, "Save")
	defer timer.Stop()

	if sess == nil || sess.Context == nil {
		return fmt.Errorf("cannot save session without context")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.SchemaVersion = SchemaVersion
	if sess.Buffers == nil {
		sess.Buffers = []string{}
	}
	if sess.Variables == nil {
		sess.Variables = map[string]value.Value{}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.tempPath()
	removeTemp := func() {
		_ = os.Remove(tmp)
		_ = os.Remove(tmp + "-journal")
	}
	removeTemp()

	db, err := sql.Open("sqlite3", tmp)
	if err != nil {
		return fmt.Errorf("failed to open temp session: %w", err)
	}
	writeErr := writeSession(db, sess)
	closeErr := db.Close()
	if writeErr != nil {
		removeTemp()
		logging.StoreError("Failed to write session %s: %v", tmp, writeErr)
		return fmt.Errorf("failed to write session: %w", writeErr)
	}
	if closeErr != nil {
		removeTemp()
		return fmt.Errorf("failed to close temp session: %w", closeErr)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		removeTemp()
		return fmt.Errorf("failed to move session into place: %w", err)
	}

	logging.Store("Saved session %s to %s (%d buffers, %d vars)", sess.ID, s.path, len(sess.Buffers), len(sess.Variables))
	return nil
}

func writeSession(db *sql.DB, sess *Session) error {
	encoded := make(map[string][]byte, len(sess.Variables))
	for name, v := range sess.Variables {
		data, err := value.Encode(v)
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		encoded[name] = data
	}
	source, err := json.Marshal(sess.Source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if _, err := db.Exec(sessionSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta := map[string]string{
		"schema_version": strconv.Itoa(SchemaVersion),
		"session_id":     sess.ID,
		"source":         string(source),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}

	ctx := sess.Context
	if _, err := tx.Exec(`INSERT INTO context (id, path, loaded_at, content, has_files) VALUES (1, ?, ?, ?, ?)`,
		ctx.Path, ctx.LoadedAt.UnixNano(), ctx.Content, ctx.Files != nil); err != nil {
		return err
	}
	for i, f := range ctx.Files {
		if _, err := tx.Exec(`INSERT INTO files (ord, path) VALUES (?, ?)`, i, f); err != nil {
			return err
		}
	}
	for i, b := range sess.Buffers {
		if _, err := tx.Exec(`INSERT INTO buffers (ord, text) VALUES (?, ?)`, i, b); err != nil {
			return err
		}
	}
	for name, data := range encoded {
		if _, err := tx.Exec(`INSERT INTO variables (name, value) VALUES (?, ?)`, name, data); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ResetReport describes what Reset removed.
type ResetReport struct {
	StatePath     string
	StateDeleted  bool
	ChunksDir     string
	ChunksDeleted bool
}

// Reset deletes the session file and the sibling chunks directory. Missing
// state is not an error.
func (s *SessionStore) Reset() (ResetReport, error) {
	report := ResetReport{StatePath: s.path, ChunksDir: s.ChunksDir()}

	switch err := os.Remove(s.path); {
	case err == nil:
		report.StateDeleted = true
	case os.IsNotExist(err):
	default:
		return report, fmt.Errorf("failed to delete state: %w", err)
	}
	_ = os.Remove(s.tempPath())

	if info, err := os.Stat(report.ChunksDir); err == nil && info.IsDir() {
		if err := os.RemoveAll(report.ChunksDir); err != nil {
			return report, fmt.Errorf("failed to delete chunks directory: %w", err)
		}
		report.ChunksDeleted = true
	}

	logging.Store("Reset %s (state deleted: %v, chunks deleted: %v)", s.path, report.StateDeleted, report.ChunksDeleted)
	return report, nil
}
