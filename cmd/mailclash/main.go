package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/beekhof/mailclash/internal/app"
	"github.com/beekhof/mailclash/internal/auth"
	"github.com/beekhof/mailclash/internal/calendar"
	"github.com/beekhof/mailclash/internal/config"
	"github.com/beekhof/mailclash/internal/ingest"
	"github.com/beekhof/mailclash/internal/logger"
	"github.com/beekhof/mailclash/internal/mail"
	"github.com/beekhof/mailclash/internal/notify"
	"github.com/beekhof/mailclash/internal/state"
	"github.com/beekhof/mailclash/internal/storage/sqlite"
	calsync "github.com/beekhof/mailclash/internal/sync"
)

var (
	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "mailclash",
		Short: "Find calendar invitations in linked mailboxes and flag clashing events",
		Long: `mailclash links Gmail accounts, extracts invitation events from recent
messages, detects events whose times overlap, and copies events to a
Google calendar.

Configuration precedence (highest to lowest): command-line flags,
MAILCLASH_* environment variables, the --config file (json, yaml or toml),
defaults.`,
		SilenceUsage: true,
	}
)

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (show DEBUG logs)")
	flags.String("data-dir", "", "Directory for state and tokens")
	flags.String("google-credentials-path", "", "Path to Google OAuth credentials JSON file")
	flags.String("token-store", "", "Credential store: sqlite or file")
	flags.String("notifications", "", "Notification sink: dbus, log or none")
	flags.String("timezone", "", "Location used to read dates found in messages")
	flags.String("calendar-id", "", "Destination calendar id")
	flags.String("calendar-account", "", "Account owning the destination calendar (default: each event's own account)")
	flags.Int("workers", 0, "Concurrent account fetches and calendar writes")
	flags.Int("page-size", 0, "Candidate messages fetched per account")

	rootCmd.AddCommand(
		newLinkCmd(),
		newAccountsCmd(),
		newUnlinkCmd(),
		newIngestCmd(),
		newClashesCmd(),
		newResolveCmd(),
		newExportCmd(),
		newWatchCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// deps is everything a command needs, built from configuration.
type deps struct {
	cfg      *config.Config
	log      zerolog.Logger
	provider *auth.GoogleProvider
	service  *app.Service
	closers  []io.Closer
}

func (r *deps) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.log.Warn().Err(err).Msg("close failed")
		}
	}
}

// setup loads configuration and wires the engine. needOAuth is set by commands
// that talk to Google.
func setup(cmd *cobra.Command, needOAuth bool) (*deps, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if needOAuth {
		if err := cfg.RequireOAuth(); err != nil {
			return nil, fmt.Errorf("failed to load Google credentials: %w", err)
		}
	}

	log := logger.New("mailclash", verbose)
	rt := &deps{cfg: cfg, log: log}

	store, err := openTokenStore(rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	st, err := state.Open(cfg.StatePath())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	rt.provider = auth.NewGoogleProvider(auth.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret), cfg.RequestTimeout)
	manager := auth.NewManager(rt.provider, store, cfg.MaxEmailAccounts, log)

	source := mail.NewGmailSource(mail.SourceConfig{
		Query:    cfg.MailQuery,
		PageSize: cfg.PageSize,
		Timeout:  cfg.RequestTimeout,
		APIKey:   cfg.APIKey,
	}, log)
	orchestrator := ingest.New(manager, source, mail.Extractor{Location: cfg.Location}, cfg.Workers, log)

	sink := newNotifier(rt)
	calendarClient := calendar.NewGoogleClient(calendar.ClientConfig{
		Timeout: cfg.RequestTimeout,
		APIKey:  cfg.APIKey,
	}, log)
	syncer := calsync.New(manager, calendarClient, st, sink, calsync.Options{
		CalendarID:      cfg.CalendarID,
		CalendarAccount: cfg.CalendarAccount,
		Workers:         cfg.Workers,
	}, log)

	rt.service = app.New(st, manager, orchestrator, syncer, sink, log)
	return rt, nil
}

func openTokenStore(rt *deps) (auth.TokenStore, error) {
	switch rt.cfg.TokenStore {
	case config.TokenStoreFile:
		return auth.NewFileTokenStore(rt.cfg.TokenDir()), nil
	default:
		store, err := sqlite.OpenTokenStore(rt.cfg.TokenDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
		rt.closers = append(rt.closers, store)
		return store, nil
	}
}

func newNotifier(rt *deps) notify.Sink {
	switch rt.cfg.Notifications {
	case config.NotifyNone:
		return notify.Nop{}
	case config.NotifyLog:
		return notify.LogSink{Logger: rt.log}
	default:
		sink, err := notify.NewDBusSink("mailclash", rt.log)
		if err != nil {
			rt.log.Debug().Err(err).Msg("desktop notifications unavailable, logging instead")
			return notify.LogSink{Logger: rt.log}
		}
		rt.closers = append(rt.closers, sink)
		return sink
	}
}
