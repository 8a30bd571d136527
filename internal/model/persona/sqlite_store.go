package persona

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const personaColumns = `id, name, description, system_prompt, initial_message, language, created_at, updated_at`

// timeLayout keeps a fixed width so created_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists personas in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the persona database at path. When the
// table is empty the seed persona is inserted.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open persona database: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seed(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS personas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		system_prompt TEXT NOT NULL,
		initial_message TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'pt-BR',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate personas table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) seed(ctx context.Context) error {
	in := Seed()
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM personas WHERE name = ?`, in.Name)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("check seed persona: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := s.Create(ctx, in); err != nil {
		return fmt.Errorf("seed persona: %w", err)
	}
	return nil
}

// List returns all personas, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	return out, nil
}

// FindByID returns ErrNotFound for unknown ids.
func (s *SQLiteStore) FindByID(ctx context.Context, id int64) (Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Persona{}, ErrNotFound
	}
	return p, err
}

// Create validates and inserts a persona.
func (s *SQLiteStore) Create(ctx context.Context, in CreateInput) (Persona, error) {
	if err := in.Validate(); err != nil {
		return Persona{}, err
	}

	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (name, description, system_prompt, initial_message, language, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.Description, in.SystemPrompt, in.InitialMessage, in.Language, now, now)
	if err != nil {
		return Persona{}, fmt.Errorf("insert persona: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Persona{}, fmt.Errorf("insert persona: %w", err)
	}
	return s.FindByID(ctx, id)
}

// Update applies the present fields of in.
func (s *SQLiteStore) Update(ctx context.Context, id int64, in UpdateInput) (Persona, error) {
	if err := in.Validate(); err != nil {
		return Persona{}, err
	}

	existing, err := s.FindByID(ctx, id)
	if err != nil {
		return Persona{}, err
	}
	if in.Empty() {
		return existing, nil
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value *string) {
		if value != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *value)
		}
	}
	add("name", in.Name)
	add("description", in.Description)
	add("system_prompt", in.SystemPrompt)
	add("initial_message", in.InitialMessage)
	add("language", in.Language)

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), id)

	query := `UPDATE personas SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Persona{}, fmt.Errorf("update persona %d: %w", id, err)
	}
	return s.FindByID(ctx, id)
}

// Delete removes a persona, returning ErrNotFound when nothing was deleted.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete persona %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete persona %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (Persona, error) {
	var (
		p                Persona
		description      sql.NullString
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.Name, &description, &p.SystemPrompt, &p.InitialMessage, &p.Language, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Persona{}, err
		}
		return Persona{}, fmt.Errorf("scan persona: %w", err)
	}
	p.Description = description.String
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err == nil {
		return t
	}
	// rows written by older tooling may carry any RFC 3339 form
	if t, err = time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return time.Time{}
}
