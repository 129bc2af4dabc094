// Package kvsettings implements settings.Store on Badger.
package kvsettings

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/settings"
)

/*
Key structure:
"settings" \xff guild \xff kind \xff field
- guild is the server snowflake.
- kind is the session kind name.
- field is "channel" or "mention".
The value is the raw override. Clearing an override deletes its key.
*/

// Store is a settings store backed by a key-value database.
type Store struct {
	db *badger.DB
}

var _ settings.Store = (*Store)(nil)

func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func key(guild string, kind session.Kind, field string) []byte {
	b := make([]byte, 0, len("settings")+len(guild)+len(field)+16)
	b = append(b, "settings\xff"...)
	b = append(b, guild...)
	b = append(b, '\xff')
	b = append(b, kind.String()...)
	b = append(b, '\xff')
	b = append(b, field...)
	return b
}

// Overrides returns the overrides for a session kind in a server.
func (s *Store) Overrides(ctx context.Context, guild string, kind session.Kind) (settings.Overrides, error) {
	var r settings.Overrides
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if r.Channel, err = get(txn, key(guild, kind, "channel")); err != nil {
			return err
		}
		r.Mention, err = get(txn, key(guild, kind, "mention"))
		return err
	})
	if err != nil {
		return settings.Overrides{}, fmt.Errorf("couldn't read settings: %w", err)
	}
	return r, nil
}

func get(txn *badger.Txn, k []byte) (string, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	v, err := item.ValueCopy(nil)
	return string(v), err
}

// SetChannel sets the announcement channel override.
func (s *Store) SetChannel(ctx context.Context, guild string, kind session.Kind, channel string) error {
	return s.set(key(guild, kind, "channel"), channel)
}

// SetMention sets the mention role override.
func (s *Store) SetMention(ctx context.Context, guild string, kind session.Kind, role string) error {
	return s.set(key(guild, kind, "mention"), role)
}

func (s *Store) set(k []byte, v string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if v == "" {
			return txn.Delete(k)
		}
		return txn.Set(k, []byte(v))
	})
	if err != nil {
		return fmt.Errorf("couldn't write settings: %w", err)
	}
	return nil
}
