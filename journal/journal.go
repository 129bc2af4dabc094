// Package journal records the history of ended sessions.
package journal

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vinns/concierge/session"
)

// Entry is a recorded session.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Guild     string    `json:"guild"`
	Kind      string    `json:"kind"`
	Host      string    `json:"host"`
	Slot      string    `json:"slot,omitempty"`
	Created   time.Time `json:"created"`
	Started   time.Time `json:"started,omitzero"`
	Ended     time.Time `json:"ended"`
	EndedBy   string    `json:"ended_by,omitempty"`
	Automatic bool      `json:"automatic"`
}

// Duration returns how long the session was active.
func (e *Entry) Duration() time.Duration {
	if e.Started.IsZero() {
		return 0
	}
	return e.Ended.Sub(e.Started)
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Record records an ended session. Recording the same session again
// replaces the earlier record.
func Record[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB, s session.Session) error {
	if s.State != session.Ended {
		return fmt.Errorf("couldn't record session %v: session is %v, not ended", s.ID, s.State)
	}
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get conn to record session: %w", err)
		}
	}
	const insert = `INSERT OR REPLACE INTO history (id, guild, kind, host, slot, created, started, ended, ended_by, automatic)
		VALUES (:id, :guild, :kind, :host, :slot, :created, :started, :ended, :ended_by, :automatic)`
	st, err := conn.Prepare(insert)
	if err != nil {
		return fmt.Errorf("couldn't prepare statement to record session: %w", err)
	}
	by := s.EndedBy
	if s.Auto() {
		by = ""
	}
	st.SetText(":id", s.ID.String())
	st.SetText(":guild", s.Guild)
	st.SetText(":kind", s.Kind.String())
	st.SetText(":host", s.Host)
	st.SetText(":slot", s.Slot)
	st.SetInt64(":created", unix(s.Created))
	st.SetInt64(":started", unix(s.Started))
	st.SetInt64(":ended", unix(s.EndedAt))
	st.SetText(":ended_by", by)
	st.SetBool(":automatic", s.Auto())
	if _, err := st.Step(); err != nil {
		return fmt.Errorf("couldn't insert session %v: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to n of the most recently ended sessions in a server,
// newest first.
func Recent[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB, guild string, n int) ([]Entry, error) {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return nil, fmt.Errorf("couldn't get conn to read history: %w", err)
		}
	}
	const sel = `SELECT id, guild, kind, host, slot, created, started, ended, ended_by, automatic
		FROM history WHERE guild=:guild ORDER BY ended DESC LIMIT :n`
	var r []Entry
	opts := sqlitex.ExecOptions{
		Named: map[string]any{":guild": guild, ":n": n},
		ResultFunc: func(st *sqlite.Stmt) error {
			id, err := uuid.Parse(st.ColumnText(0))
			if err != nil {
				return fmt.Errorf("bad session id %q: %w", st.ColumnText(0), err)
			}
			r = append(r, Entry{
				ID:        id,
				Guild:     st.ColumnText(1),
				Kind:      st.ColumnText(2),
				Host:      st.ColumnText(3),
				Slot:      st.ColumnText(4),
				Created:   fromUnix(st.ColumnInt64(5)),
				Started:   fromUnix(st.ColumnInt64(6)),
				Ended:     fromUnix(st.ColumnInt64(7)),
				EndedBy:   st.ColumnText(8),
				Automatic: st.ColumnBool(9),
			})
			return nil
		},
	}
	if err := sqlitex.Execute(conn, sel, &opts); err != nil {
		return nil, fmt.Errorf("couldn't read history: %w", err)
	}
	return r, nil
}

//go:embed schema.sql
var schemaSQL string

// Init initializes an SQLite DB to record session history.
func Init[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get conn to initialize history: %w", err)
		}
	}
	err := sqlitex.ExecuteScript(conn, schemaSQL, nil)
	if err != nil {
		return fmt.Errorf("couldn't initialize history schema: %w", err)
	}
	return nil
}
