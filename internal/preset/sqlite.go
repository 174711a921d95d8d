package preset

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"visual-rig-hub/internal/timeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS shaders (
	name       TEXT PRIMARY KEY,
	code       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS timelines (
	name       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Open opens (or creates) the sqlite preset database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open preset db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap preset schema: %w", err)
	}
	return db, nil
}

// SQLiteShaders is a sqlite-backed ShaderStore.
type SQLiteShaders struct {
	db *sqlx.DB
}

// NewSQLiteShaders returns a shader store over db (see Open).
func NewSQLiteShaders(db *sqlx.DB) *SQLiteShaders {
	return &SQLiteShaders{db: db}
}

// Lookup implements ShaderStore.Lookup.
func (s *SQLiteShaders) Lookup(name string) (*Shader, error) {
	var sh Shader
	err := s.db.Get(&sh, `SELECT name, code FROM shaders WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shader %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup shader %q: %w", name, err)
	}
	return &sh, nil
}

// Save implements ShaderStore.Save.
func (s *SQLiteShaders) Save(sh Shader) error {
	_, err := s.db.Exec(`
		INSERT INTO shaders (name, code, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET code = excluded.code, updated_at = excluded.updated_at`,
		sh.Name, sh.Code, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save shader %q: %w", sh.Name, err)
	}
	return nil
}

// Delete implements ShaderStore.Delete.
func (s *SQLiteShaders) Delete(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM shaders WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete shader %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List implements ShaderStore.List.
func (s *SQLiteShaders) List(filter string) ([]Shader, error) {
	out := []Shader{}
	err := s.db.Select(&out, `
		SELECT name, code FROM shaders
		WHERE name LIKE ?
		ORDER BY updated_at DESC, name ASC`,
		"%"+filter+"%")
	if err != nil {
		return nil, fmt.Errorf("list shaders: %w", err)
	}
	return out, nil
}

// SQLiteTimelines is a sqlite-backed TimelineStore. Timelines are stored as
// a JSON blob keyed by name.
type SQLiteTimelines struct {
	db *sqlx.DB
}

// NewSQLiteTimelines returns a timeline store over db (see Open).
func NewSQLiteTimelines(db *sqlx.DB) *SQLiteTimelines {
	return &SQLiteTimelines{db: db}
}

type timelineRow struct {
	Name string `db:"name"`
	Data string `db:"data"`
}

// Lookup implements TimelineStore.Lookup.
func (s *SQLiteTimelines) Lookup(name string) (*timeline.Timeline, error) {
	var row timelineRow
	err := s.db.Get(&row, `SELECT name, data FROM timelines WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("timeline %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup timeline %q: %w", name, err)
	}
	var t timeline.Timeline
	if err := json.Unmarshal([]byte(row.Data), &t); err != nil {
		return nil, fmt.Errorf("decode timeline %q: %w", name, err)
	}
	return &t, nil
}

// Save implements TimelineStore.Save.
func (s *SQLiteTimelines) Save(t timeline.Timeline) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode timeline %q: %w", t.Name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO timelines (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		t.Name, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save timeline %q: %w", t.Name, err)
	}
	return nil
}

// Delete implements TimelineStore.Delete.
func (s *SQLiteTimelines) Delete(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM timelines WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete timeline %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List implements TimelineStore.List.
func (s *SQLiteTimelines) List(filter string) ([]timeline.Timeline, error) {
	rows := []timelineRow{}
	err := s.db.Select(&rows, `
		SELECT name, data FROM timelines
		WHERE name LIKE ?
		ORDER BY updated_at DESC, name ASC`,
		"%"+filter+"%")
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	out := make([]timeline.Timeline, 0, len(rows))
	for _, row := range rows {
		var t timeline.Timeline
		if err := json.Unmarshal([]byte(row.Data), &t); err != nil {
			return nil, fmt.Errorf("decode timeline %q: %w", row.Name, err)
		}
		out = append(out, t)
	}
	return out, nil
}
