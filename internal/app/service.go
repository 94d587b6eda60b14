// Package app coordinates linking, ingestion, clash resolution and sync over
// a single reconciliation state.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/beekhof/mailclash/internal/auth"
	"github.com/beekhof/mailclash/internal/calendar"
	"github.com/beekhof/mailclash/internal/ingest"
	"github.com/beekhof/mailclash/internal/metrics"
	"github.com/beekhof/mailclash/internal/model"
	"github.com/beekhof/mailclash/internal/notify"
	"github.com/beekhof/mailclash/internal/state"
	calsync "github.com/beekhof/mailclash/internal/sync"
)

// Linker acquires and forgets account credentials.
type Linker interface {
	Acquire(ctx context.Context, existing []string, result auth.AuthorizationResult) (*model.Account, error)
	Forget(accountID string) error
}

// Ingester gathers the unified event set.
type Ingester interface {
	Run(ctx context.Context, accounts []string) ingest.Result
}

// Syncer writes events to the calendar.
type Syncer interface {
	SyncAll(ctx context.Context, events []model.Event) calsync.Report
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	RunID      string
	Events     int
	Dropped    int
	Warnings   []ingest.Warning
	Clashes    []model.Clash
	NewClashes []model.Clash
	Sync       *calsync.Report
}

// Service owns the reconciliation state. All mutations go through it.
type Service struct {
	state    *state.State
	linker   Linker
	ingester Ingester
	syncer   Syncer
	notifier notify.Sink
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Service. syncer may be nil when calendar sync is not wanted.
func New(st *state.State, linker Linker, ingester Ingester, syncer Syncer, notifier notify.Sink, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Service{
		state:    st,
		linker:   linker,
		ingester: ingester,
		syncer:   syncer,
		notifier: notifier,
		logger:   logger.With().Str("component", "app").Logger(),
		now:      time.Now,
	}
	s.updateGauges()
	return s
}

// Link stores the credential from a completed authorization and records the
// new account. Failures are returned to the caller unchanged.
func (s *Service) Link(ctx context.Context, result auth.AuthorizationResult) (*model.Account, error) {
	account, err := s.linker.Acquire(ctx, s.state.Accounts(), result)
	if err != nil {
		return nil, err
	}
	if err := s.state.Apply(state.AddAccount{AccountID: account.ID}); err != nil {
		if forgetErr := s.linker.Forget(account.ID); forgetErr != nil {
			s.logger.Warn().Err(forgetErr).Str("account", account.ID).Msg("failed to roll back credential")
		}
		return nil, err
	}
	return account, nil
}

// Unlink removes an account, its events and clashes, and its credential.
func (s *Service) Unlink(accountID string) error {
	if err := s.state.Apply(state.RemoveAccount{AccountID: accountID}); err != nil {
		return err
	}
	s.updateGauges()
	if err := s.linker.Forget(accountID); err != nil {
		return fmt.Errorf("account %s unlinked but credential not deleted: %w", accountID, err)
	}
	s.logger.Info().Str("account", accountID).Msg("account unlinked")
	return nil
}

// Ingest runs one ingestion pass over every linked account, recomputes
// clashes and, when withSync is set, pushes the resulting events to the
// calendar. Per-account failures are reported as warnings.
func (s *Service) Ingest(ctx context.Context, withSync bool) (*IngestReport, error) {
	res := s.ingester.Run(ctx, s.state.Accounts())

	known := map[string]struct{}{}
	for _, c := range s.state.Clashes() {
		known[c.ID] = struct{}{}
	}

	if err := s.state.Apply(state.Ingested{Events: res.Events}); err != nil {
		return nil, err
	}

	report := &IngestReport{
		RunID:    res.RunID,
		Events:   len(s.state.Events()),
		Dropped:  res.Dropped,
		Warnings: res.Warnings,
		Clashes:  s.state.Clashes(),
	}
	for _, c := range report.Clashes {
		if _, ok := known[c.ID]; !ok {
			report.NewClashes = append(report.NewClashes, c)
		}
	}
	s.updateGauges()

	if len(report.NewClashes) > 0 {
		s.notifier.Notify("Event Clash Detected",
			fmt.Sprintf("You have %d event clash(es). Please resolve manually.", len(report.Clashes)))
	}

	if withSync && s.syncer != nil {
		syncReport := s.syncer.SyncAll(ctx, s.state.Events())
		report.Sync = &syncReport
	}

	s.logger.Info().
		Str("run_id", report.RunID).
		Int("events", report.Events).
		Int("clashes", len(report.Clashes)).
		Int("new_clashes", len(report.NewClashes)).
		Int("warnings", len(report.Warnings)).
		Msg("ingest complete")
	return report, nil
}

// Resolve keeps one event of a clash and removes the other.
func (s *Service) Resolve(clashID, keepEventID string) error {
	if err := s.state.Apply(state.ResolveClash{ClashID: clashID, KeepEventID: keepEventID}); err != nil {
		return err
	}
	s.updateGauges()
	s.logger.Info().Str("clash_id", clashID).Str("kept", keepEventID).Msg("clash resolved")
	return nil
}

// Export writes the unified event set as iCalendar.
func (s *Service) Export(w io.Writer) error {
	events := s.state.Events()
	if len(events) == 0 {
		return fmt.Errorf("%w: no events to export", model.ErrNotFound)
	}
	return calendar.WriteICS(w, events, s.state.Clashes(), s.now())
}

// Accounts returns the linked accounts.
func (s *Service) Accounts() []string { return s.state.Accounts() }

// Events returns the unified event set.
func (s *Service) Events() []model.Event { return s.state.Events() }

// Clashes returns the active clashes.
func (s *Service) Clashes() []model.Clash { return s.state.Clashes() }

// Calendar returns the date marker index.
func (s *Service) Calendar() map[string]state.Marker { return s.state.Calendar() }

func (s *Service) updateGauges() {
	metrics.Events.Set(float64(len(s.state.Events())))
	metrics.Clashes.Set(float64(len(s.state.Clashes())))
}
