// Package sqlsettings implements settings.Store on SQLite.
package sqlsettings

import (
	"context"
	_ "embed"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/settings"
)

//go:embed schema.sql
var schemaSQL string

// Store is a settings store backed by an SQL database.
type Store struct {
	db *sqlitex.Pool
}

var _ settings.Store = (*Store)(nil)

// Open opens a settings store in an SQL database, which must have been
// initialized with Init.
func Open(db *sqlitex.Pool) *Store {
	return &Store{db: db}
}

// Init initializes the settings schema in an SQL database.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schemaSQL, nil); err != nil {
		return fmt.Errorf("couldn't initialize settings schema: %w", err)
	}
	return nil
}

// Overrides returns the overrides for a session kind in a server.
func (s *Store) Overrides(ctx context.Context, guild string, kind session.Kind) (settings.Overrides, error) {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return settings.Overrides{}, fmt.Errorf("couldn't get connection to read settings: %w", err)
	}
	var r settings.Overrides
	opts := sqlitex.ExecOptions{
		Args: []any{guild, kind.String()},
		ResultFunc: func(st *sqlite.Stmt) error {
			r.Channel = st.ColumnText(0)
			r.Mention = st.ColumnText(1)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT channel, mention FROM overrides WHERE guild=? AND kind=?`, &opts); err != nil {
		return settings.Overrides{}, fmt.Errorf("couldn't read settings: %w", err)
	}
	return r, nil
}

// SetChannel sets the announcement channel override.
func (s *Store) SetChannel(ctx context.Context, guild string, kind session.Kind, channel string) error {
	const q = `INSERT INTO overrides (guild, kind, channel) VALUES (?, ?, ?)
		ON CONFLICT (guild, kind) DO UPDATE SET channel=excluded.channel`
	return s.set(ctx, q, guild, kind, channel)
}

// SetMention sets the mention role override.
func (s *Store) SetMention(ctx context.Context, guild string, kind session.Kind, role string) error {
	const q = `INSERT INTO overrides (guild, kind, mention) VALUES (?, ?, ?)
		ON CONFLICT (guild, kind) DO UPDATE SET mention=excluded.mention`
	return s.set(ctx, q, guild, kind, role)
}

func (s *Store) set(ctx context.Context, q, guild string, kind session.Kind, v string) error {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to write settings: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{guild, kind.String(), v}}
	if err := sqlitex.Execute(conn, q, &opts); err != nil {
		return fmt.Errorf("couldn't write settings: %w", err)
	}
	return nil
}
