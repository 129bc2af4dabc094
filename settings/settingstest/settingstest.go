// Package settingstest provides integration testing facilities for settings
// stores.
package settingstest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/settings"
)

// Test runs the integration test suite against stores produced by new.
//
// If a store cannot be created without error, new should call t.Fatal.
func Test(ctx context.Context, t *testing.T, new func(context.Context) settings.Store) {
	t.Run("empty", testEmpty(ctx, new(ctx)))
	t.Run("set", testSet(ctx, new(ctx)))
	t.Run("independent", testIndependent(ctx, new(ctx)))
	t.Run("clear", testClear(ctx, new(ctx)))
}

func check(ctx context.Context, t *testing.T, s settings.Store, guild string, kind session.Kind, want settings.Overrides) {
	t.Helper()
	got, err := s.Overrides(ctx, guild, kind)
	if err != nil {
		t.Fatalf("couldn't read overrides for %s %v: %v", guild, kind, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong overrides for %s %v (-want +got):\n%s", guild, kind, diff)
	}
}

func testEmpty(ctx context.Context, s settings.Store) func(t *testing.T) {
	return func(t *testing.T) {
		check(ctx, t, s, "kessoku", session.Shift, settings.Overrides{})
	}
}

func testSet(ctx context.Context, s settings.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.SetChannel(ctx, "kessoku", session.Shift, "starry"); err != nil {
			t.Fatalf("couldn't set channel: %v", err)
		}
		check(ctx, t, s, "kessoku", session.Shift, settings.Overrides{Channel: "starry"})
		if err := s.SetMention(ctx, "kessoku", session.Shift, "bocchi"); err != nil {
			t.Fatalf("couldn't set mention: %v", err)
		}
		check(ctx, t, s, "kessoku", session.Shift, settings.Overrides{Channel: "starry", Mention: "bocchi"})
		if err := s.SetChannel(ctx, "kessoku", session.Shift, "folt"); err != nil {
			t.Fatalf("couldn't replace channel: %v", err)
		}
		check(ctx, t, s, "kessoku", session.Shift, settings.Overrides{Channel: "folt", Mention: "bocchi"})
	}
}

func testIndependent(ctx context.Context, s settings.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.SetChannel(ctx, "kessoku", session.Shift, "starry"); err != nil {
			t.Fatalf("couldn't set channel: %v", err)
		}
		if err := s.SetMention(ctx, "sickhack", session.Training, "kikuri"); err != nil {
			t.Fatalf("couldn't set mention: %v", err)
		}
		check(ctx, t, s, "kessoku", session.Shift, settings.Overrides{Channel: "starry"})
		check(ctx, t, s, "kessoku", session.Training, settings.Overrides{})
		check(ctx, t, s, "sickhack", session.Shift, settings.Overrides{})
		check(ctx, t, s, "sickhack", session.Training, settings.Overrides{Mention: "kikuri"})
	}
}

func testClear(ctx context.Context, s settings.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.SetChannel(ctx, "kessoku", session.Training, "starry"); err != nil {
			t.Fatalf("couldn't set channel: %v", err)
		}
		if err := s.SetMention(ctx, "kessoku", session.Training, "nijika"); err != nil {
			t.Fatalf("couldn't set mention: %v", err)
		}
		if err := s.SetChannel(ctx, "kessoku", session.Training, ""); err != nil {
			t.Fatalf("couldn't clear channel: %v", err)
		}
		check(ctx, t, s, "kessoku", session.Training, settings.Overrides{Mention: "nijika"})
		// Clearing something never set is fine.
		if err := s.SetChannel(ctx, "sickhack", session.Shift, ""); err != nil {
			t.Errorf("couldn't clear unset channel: %v", err)
		}
	}
}
