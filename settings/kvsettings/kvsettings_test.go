package kvsettings_test

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/vinns/concierge/settings"
	"github.com/vinns/concierge/settings/kvsettings"
	"github.com/vinns/concierge/settings/settingstest"
)

func TestStore(t *testing.T) {
	settingstest.Test(context.Background(), t, func(ctx context.Context) settings.Store {
		db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		return kvsettings.New(db)
	})
}
