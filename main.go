package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/urfave/cli/v3"

	"github.com/vinns/concierge/command"
	"github.com/vinns/concierge/journal"
	"github.com/vinns/concierge/metrics"
)

var app = cli.Command{
	Name:  "concierge",
	Usage: "Shift and training session bot for Discord",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:  "history",
			Usage: "Print recently ended sessions",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "guild",
					Usage:    "Server ID",
					Required: true,
				},
				&cli.IntFlag{
					Name:  "n",
					Usage: "Number of sessions to print",
					Value: 20,
				},
			},
			Action: cliHistory,
		},
		{
			Name:   "check",
			Usage:  "Validate the configuration and exit",
			Action: cliCheck,
		},
	},
	Action: cliRun,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig loads the config file named by the config flag.
func loadConfig(ctx context.Context, cmd *cli.Command) (*Config, error) {
	r, err := os.Open(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, _, err := Load(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	return cfg, nil
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	guilds, err := loadGuilds(ctx, cfg.Global, cfg.Guild)
	if err != nil {
		return err
	}
	token, err := loadToken(cfg.Discord.TokenFile)
	if err != nil {
		return err
	}
	stor, jour, closeDBs, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDBs(); err != nil {
			slog.ErrorContext(ctx, "couldn't close databases", slog.Any("err", err))
		}
	}()
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	state := &command.Robot{
		Log:      slog.Default(),
		Guilds:   guilds,
		Settings: stor,
		Journal:  jour,
		Metrics:  metrics.New(),
	}
	robo := New(ctx, cfg, state, dg)
	slog.InfoContext(ctx, "starting",
		slog.String("owner", robo.owner),
		slog.Int("guilds", guilds.Len()),
		slog.Duration("lifetime", cfg.Sessions.lifetime()),
		slog.Duration("retention", cfg.Sessions.retention()),
	)
	return robo.Run(ctx, cfg.HTTP.Listen)
}

func cliHistory(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	_, jour, closeDBs, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer closeDBs()
	l, err := journal.Recent(ctx, jour, cmd.String("guild"), int(cmd.Int("n")))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tHOST\tSTARTED\tENDED\tLENGTH\tENDED BY")
	for _, e := range l {
		by := e.EndedBy
		if e.Automatic {
			by = "(automatic)"
		}
		started := "-"
		if !e.Started.IsZero() {
			started = e.Started.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Kind, e.Host, started, e.Ended.Local().Format(time.DateTime), e.Duration().Round(time.Second), by)
	}
	return w.Flush()
}

func cliCheck(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	var errs []error
	if _, err := loadGuilds(ctx, cfg.Global, cfg.Guild); err != nil {
		errs = append(errs, err)
	}
	if _, err := loadToken(cfg.Discord.TokenFile); err != nil {
		errs = append(errs, err)
	}
	switch {
	case cfg.DB.Settings != "" && cfg.DB.KVSettings != "":
		errs = append(errs, errors.New("multiple settings backends requested; use exactly one"))
	case cfg.DB.Settings == "" && cfg.DB.KVSettings == "":
		errs = append(errs, errors.New("no settings backends requested; use exactly one"))
	}
	if cfg.DB.Journal == "" {
		errs = append(errs, errors.New("no journal db configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	fmt.Printf("config ok: %d guilds\n", len(cfg.Guild))
	return nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}
