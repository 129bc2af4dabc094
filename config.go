package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"gitlab.com/zephyrtronium/pick"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/journal"
	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/settings"
	"github.com/vinns/concierge/settings/kvsettings"
	"github.com/vinns/concierge/settings/sqlsettings"
	"github.com/vinns/concierge/suggest"
	"github.com/vinns/concierge/syncmap"
)

// Load loads the bot's configuration from TOML.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	if u := md.Undecoded(); len(u) != 0 {
		slog.WarnContext(ctx, "unknown config keys", slog.Any("keys", u))
	}
	return &cfg, &md, nil
}

// Config is the marshaled structure of the bot's configuration.
type Config struct {
	// Owner is the table of metadata about the owner.
	Owner Owner `toml:"owner"`
	// Discord is the configuration for connecting to Discord.
	Discord DiscordCfg `toml:"discord"`
	// DB is the table of database connection strings.
	DB DBCfg `toml:"db"`
	// HTTP is the configuration of the API server.
	HTTP HTTPCfg `toml:"http"`
	// Sessions is the configuration of session timing.
	Sessions SessionsCfg `toml:"sessions"`
	// Global is the table of settings applied to every server.
	Global Global `toml:"global"`
	// Guild is the set of server configurations. Keys are names used only
	// for logging and config dumps.
	Guild map[string]*GuildCfg `toml:"guild"`
}

// Owner is metadata about the bot owner.
type Owner struct {
	// Name is the name of the owner. It does not need to be a username.
	Name string `toml:"name"`
	// Contact describes owner contact information.
	Contact string `toml:"contact"`
}

// DiscordCfg is the configuration for connecting to Discord.
type DiscordCfg struct {
	// TokenFile is the path to a file containing the bot token.
	TokenFile string `toml:"token"`
	// Prefix is the prefix of text commands. Defaults to "-".
	Prefix string `toml:"prefix"`
}

// DBCfg is the configuration of databases.
type DBCfg struct {
	// Settings is the SQLite DSN for runtime settings.
	Settings string `toml:"settings"`
	// KVSettings is the Badger directory for runtime settings.
	KVSettings string `toml:"kvsettings"`
	// KVFlag is the Badger superflag applied when opening KVSettings.
	KVFlag string `toml:"kvflag"`
	// Journal is the SQLite DSN for session history. If it is the same as
	// Settings, the pool is shared.
	Journal string `toml:"journal"`
}

// HTTPCfg is the configuration of the API server.
type HTTPCfg struct {
	Listen string `toml:"listen"`
}

// SessionsCfg is the configuration of session timing.
type SessionsCfg struct {
	// Lifetime is the number of seconds after which a session ends
	// automatically.
	Lifetime float64 `toml:"lifetime"`
	// Retention is the number of seconds an ended session's announcement
	// remains before deletion.
	Retention float64 `toml:"retention"`
	// Slots is the set of time slots offered when scheduling. If empty, any
	// slot is accepted.
	Slots []string `toml:"slots"`
}

// Global is the configuration for options applied to every server.
type Global struct {
	// Manage is the set of roles with the management capability everywhere.
	Manage []string `toml:"manage"`
	// Admins is the set of users who may configure any server.
	Admins []string `toml:"admins"`
	// Emotes is the emotes and their weights to use everywhere.
	Emotes map[string]int `toml:"emotes"`
	// Cooldown is the number of seconds between a user's reports or
	// suggestions.
	Cooldown float64 `toml:"cooldown"`
}

// GuildCfg is the configuration for a server.
type GuildCfg struct {
	// ID is the server's snowflake.
	ID string `toml:"id"`
	// Shift is the announcement configuration for shifts.
	Shift AnnounceCfg `toml:"shift"`
	// Training is the announcement configuration for trainings.
	Training AnnounceCfg `toml:"training"`
	// Manage is the set of roles with the management capability.
	Manage []string `toml:"manage"`
	// Admins is the set of users who may change configuration.
	Admins []string `toml:"admins"`
	// Report is the routing of finished reports.
	Report ReportCfg `toml:"report"`
	// Suggest is the list of suggestion categories in menu order.
	Suggest []CategoryCfg `toml:"suggest"`
	// Emotes is the emotes and their weights for the server.
	Emotes map[string]int `toml:"emotes"`
}

// AnnounceCfg is the announcement configuration for a kind of session.
type AnnounceCfg struct {
	Channel string `toml:"channel"`
	Mention string `toml:"mention"`
	Link    string `toml:"link"`
}

// ReportCfg is the routing of finished reports.
type ReportCfg struct {
	Staff string `toml:"staff"`
	Guest string `toml:"guest"`
}

// CategoryCfg is a suggestion category.
type CategoryCfg struct {
	Name    string `toml:"name"`
	Label   string `toml:"label"`
	Channel string `toml:"channel"`
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.Owner.Name,
		&cfg.Owner.Contact,
		&cfg.Discord.TokenFile,
		&cfg.DB.Settings,
		&cfg.DB.KVSettings,
		&cfg.DB.KVFlag,
		&cfg.DB.Journal,
		&cfg.HTTP.Listen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for _, g := range cfg.Guild {
		g.ID = os.Expand(g.ID, expand)
	}
}

// lifetime returns the configured session lifetime or the default.
func (s SessionsCfg) lifetime() time.Duration {
	if s.Lifetime <= 0 {
		return session.DefaultLifetime
	}
	return fseconds(s.Lifetime)
}

// retention returns the configured announcement retention or the default.
func (s SessionsCfg) retention() time.Duration {
	if s.Retention <= 0 {
		return session.DefaultRetention
	}
	return fseconds(s.Retention)
}

// prefix returns the text command prefix.
func (d DiscordCfg) prefix() string {
	if d.Prefix == "" {
		return "-"
	}
	return d.Prefix
}

// loadToken reads the Discord bot token.
func loadToken(file string) (string, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("couldn't read discord token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// loadDBs opens the settings store and journal. Exactly one settings backend
// must be configured. The returned close function releases everything opened.
func loadDBs(ctx context.Context, cfg DBCfg) (stor settings.Store, jour *sqlitex.Pool, close func() error, err error) {
	if cfg.KVSettings != "" && cfg.Settings != "" {
		return nil, nil, nil, fmt.Errorf("multiple settings backends requested; use exactly one")
	}
	if cfg.KVSettings == "" && cfg.Settings == "" {
		return nil, nil, nil, fmt.Errorf("no settings backends requested; use exactly one")
	}
	if cfg.Journal == "" {
		return nil, nil, nil, fmt.Errorf("no journal db configured")
	}
	var closers []func() error
	close = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			close()
		}
	}()

	var sql *sqlitex.Pool
	if cfg.KVSettings != "" {
		slog.DebugContext(ctx, "using kvsettings", slog.String("path", cfg.KVSettings), slog.String("flags", cfg.KVFlag))
		opts := badger.DefaultOptions(cfg.KVSettings)
		opts = opts.WithLogger(nil)
		opts = opts.WithCompression(options.None)
		opts = opts.WithBloomFalsePositive(0)
		kv, err := badger.Open(opts.FromSuperFlag(cfg.KVFlag))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't open kvsettings db: %w", err)
		}
		closers = append(closers, kv.Close)
		stor = kvsettings.New(kv)
	}
	if cfg.Settings != "" {
		slog.DebugContext(ctx, "using sqlsettings", slog.String("path", cfg.Settings))
		sql, err = sqlitex.NewPool(cfg.Settings, sqlitex.PoolOptions{})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't open settings db: %w", err)
		}
		closers = append(closers, sql.Close)
		if err := sqlsettings.Init(ctx, sql); err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't initialize settings db: %w", err)
		}
		stor = sqlsettings.Open(sql)
	}

	switch cfg.Journal {
	case cfg.Settings:
		slog.DebugContext(ctx, "journal db shared with settings")
		jour = sql
	default:
		slog.DebugContext(ctx, "journal db", slog.String("path", cfg.Journal))
		jour, err = sqlitex.NewPool(cfg.Journal, sqlitex.PoolOptions{})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't open journal db: %w", err)
		}
		closers = append(closers, jour.Close)
	}
	if err := journal.Init(ctx, jour); err != nil {
		return nil, nil, nil, fmt.Errorf("couldn't initialize journal db: %w", err)
	}
	return stor, jour, close, nil
}

// loadGuilds builds server configurations from unmarshaled TOML.
func loadGuilds(ctx context.Context, global Global, guilds map[string]*GuildCfg) (*syncmap.Map[string, *guild.Guild], error) {
	r := syncmap.New[string, *guild.Guild]()
	for nm, g := range guilds {
		if g.ID == "" {
			return nil, fmt.Errorf("no id for guild.%s", nm)
		}
		if old, ok := r.Load(g.ID); ok {
			return nil, fmt.Errorf("guild.%s has the same id as guild.%s", nm, old.Name)
		}
		v := &guild.Guild{
			ID:   g.ID,
			Name: nm,
			Announce: map[session.Kind]guild.Announce{
				session.Shift:    guild.Announce(g.Shift),
				session.Training: guild.Announce(g.Training),
			},
			Manage:   mergelists(global.Manage, g.Manage),
			Admins:   mergelists(global.Admins, g.Admins),
			Reports:  guild.Reports(g.Report),
			Cooldown: guild.NewCooldown(fseconds(global.Cooldown)),
		}
		for i, c := range g.Suggest {
			if c.Name == "" || c.Channel == "" {
				return nil, fmt.Errorf("guild.%s.suggest[%d] needs a name and a channel", nm, i)
			}
			if strings.EqualFold(c.Name, suggest.CancelChoice) {
				return nil, fmt.Errorf("guild.%s.suggest[%d]: %q is reserved", nm, i, c.Name)
			}
			if _, ok := v.Category(c.Name); ok {
				return nil, fmt.Errorf("duplicate suggestion category %q in guild.%s", c.Name, nm)
			}
			v.Categories = append(v.Categories, guild.Category{Name: c.Name, Label: cmp.Or(c.Label, c.Name), Channel: c.Channel})
		}
		if em := mergemaps(global.Emotes, g.Emotes); len(em) != 0 {
			v.Emotes = pick.New(pick.FromMap(em))
		}
		slog.DebugContext(ctx, "guild",
			slog.String("name", nm),
			slog.String("id", g.ID),
			slog.Int("categories", len(v.Categories)),
		)
		r.Store(g.ID, v)
	}
	return r, nil
}

func mergemaps(ms ...map[string]int) map[string]int {
	u := make(map[string]int)
	for _, m := range ms {
		for k, v := range m {
			u[k] += v
		}
	}
	return u
}

func mergelists(ls ...[]string) []string {
	var u []string
	for _, l := range ls {
		for _, s := range l {
			if !slices.Contains(u, s) {
				u = append(u, s)
			}
		}
	}
	return u
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
