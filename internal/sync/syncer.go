// Package sync pushes the unified event set to the external calendar.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/beekhof/mailclash/internal/calendar"
	"github.com/beekhof/mailclash/internal/metrics"
	"github.com/beekhof/mailclash/internal/model"
	"github.com/beekhof/mailclash/internal/notify"
	"github.com/beekhof/mailclash/internal/state"
)

// DefaultWorkers bounds concurrent calendar writes.
const DefaultWorkers = 4

// Tokens supplies access tokens for the account that owns the target calendar.
type Tokens interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
	Refresh(ctx context.Context, accountID string) (string, error)
}

// Calendar is the calendar write collaborator.
type Calendar interface {
	FindBySourceID(ctx context.Context, accessToken, calendarID, sourceID string) (*calendar.Record, error)
	InsertEvent(ctx context.Context, accessToken, calendarID string, e model.Event) (*calendar.Record, error)
}

// Ledger remembers which events have been synced.
type Ledger interface {
	Synced(eventID string) (state.SyncRecord, bool)
	Apply(t state.Transition) error
}

// Options selects the destination calendar.
type Options struct {
	// CalendarID defaults to the primary calendar.
	CalendarID string
	// CalendarAccount owns the destination calendar. When empty each event is
	// written to the calendar of the account it was found in.
	CalendarAccount string
	Workers         int
}

// Outcome is what happened to one event.
type Outcome int

const (
	Failed Outcome = iota
	Inserted
	// Skipped events are already in the sync ledger.
	Skipped
	// Linked events were found on the calendar and recorded without a write.
	Linked
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	case Linked:
		return "linked"
	default:
		return "failed"
	}
}

// Result is the per-event outcome.
type Result struct {
	EventID string
	Outcome Outcome
	Record  *calendar.Record
	Err     error
}

// Report holds one Result per input event, in input order.
type Report struct {
	Results []Result
}

// Count returns how many results have the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns the failed results.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == Failed {
			out = append(out, res)
		}
	}
	return out
}

// Synchronizer writes events to the calendar at most once per event id.
type Synchronizer struct {
	tokens   Tokens
	calendar Calendar
	ledger   Ledger
	notifier notify.Sink
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Synchronizer. A nil notifier discards notifications.
func New(tokens Tokens, cal Calendar, ledger Ledger, notifier notify.Sink, opts Options, logger zerolog.Logger) *Synchronizer {
	if opts.CalendarID == "" {
		opts.CalendarID = calendar.DefaultCalendarID
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Synchronizer{
		tokens:   tokens,
		calendar: cal,
		ledger:   ledger,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "sync").Logger(),
		now:      time.Now,
	}
}

// SyncAll syncs every event. A failure is recorded against its event and never
// stops the remaining events.
func (s *Synchronizer) SyncAll(ctx context.Context, events []model.Event) Report {
	results := make([]Result, len(events))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, e := range events {
		g.Go(func() error {
			results[i] = s.Sync(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	s.logger.Info().
		Int("inserted", report.Count(Inserted)).
		Int("linked", report.Count(Linked)).
		Int("skipped", report.Count(Skipped)).
		Int("failed", report.Count(Failed)).
		Msg("calendar sync finished")
	return report
}

// Sync writes one event unless the ledger or the calendar already has it.
func (s *Synchronizer) Sync(ctx context.Context, e model.Event) (res Result) {
	res.EventID = e.ID
	log := s.logger.With().Str("event_id", e.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			res = Result{EventID: e.ID, Outcome: Failed, Err: fmt.Errorf("panic while syncing: %v", r)}
		}
		switch res.Outcome {
		case Failed:
			metrics.SyncResults.WithLabelValues(metrics.SyncFailed).Inc()
			log.Warn().Err(res.Err).Msg("failed to sync event")
		case Skipped:
			metrics.SyncResults.WithLabelValues(metrics.SyncSkipped).Inc()
		case Linked:
			metrics.SyncResults.WithLabelValues(metrics.SyncLinked).Inc()
		default:
			metrics.SyncResults.WithLabelValues(metrics.SyncInserted).Inc()
		}
	}()

	// Already written by an earlier run
	if _, ok := s.ledger.Synced(e.ID); ok {
		res.Outcome = Skipped
		return res
	}

	// Use the configured calendar owner, falling back to the mailbox the event came from
	account := s.opts.CalendarAccount
	if account == "" {
		account = e.SourceAccount
	}
	if account == "" {
		res.Err = fmt.Errorf("%w: event %s has no owning account", model.ErrSyncRejected, e.ID)
		return res
	}

	// Look for a copy tagged with this message id before inserting, so a lost
	// ledger entry does not produce a duplicate
	var existing, created *calendar.Record
	err := s.withToken(ctx, account, func(token string) error {
		var err error
		existing, err = s.calendar.FindBySourceID(ctx, token, s.opts.CalendarID, e.ID)
		if err != nil || existing != nil {
			return err
		}
		created, err = s.calendar.InsertEvent(ctx, token, s.opts.CalendarID, e)
		return err
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Outcome, res.Record = Linked, existing
	if created != nil {
		res.Outcome, res.Record = Inserted, created
	}

	// Record the write so later runs skip this event without a network call
	record := state.SyncRecord{ProviderEventID: res.Record.ID, CalendarID: s.opts.CalendarID, SyncedAt: s.now()}
	if err := s.ledger.Apply(state.RecordSync{EventID: e.ID, Record: record}); err != nil {
		log.Warn().Err(err).Msg("event synced but not recorded")
	}

	if res.Outcome == Inserted {
		log.Info().Str("calendar_event_id", res.Record.ID).Msg("event synced")
		s.notifier.Notify("Event Synced", fmt.Sprintf("%s was added to your calendar.", e.Title))
	}
	return res
}

// withToken runs op with an access token for account, refreshing and retrying
// at most once when the calendar rejects the token.
func (s *Synchronizer) withToken(ctx context.Context, account string, op func(token string) error) error {
	token, err := s.tokens.AccessToken(ctx, account)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrSyncRejected, err)
	}

	err = op(token)
	// Only a rejected token is worth a refresh
	if !errors.Is(err, model.ErrUnauthorized) {
		return err
	}

	token, refreshErr := s.tokens.Refresh(ctx, account)
	if refreshErr != nil {
		return fmt.Errorf("%w: %w", model.ErrSyncRejected, refreshErr)
	}
	return op(token)
}
