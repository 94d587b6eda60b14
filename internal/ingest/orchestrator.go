// Package ingest gathers events from every linked account into one unified
// event set.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/beekhof/mailclash/internal/mail"
	"github.com/beekhof/mailclash/internal/metrics"
	"github.com/beekhof/mailclash/internal/model"
)

// DefaultWorkers bounds concurrent account fetches.
const DefaultWorkers = 4

// Tokens is the part of the token lifecycle manager the orchestrator uses.
type Tokens interface {
	Credential(accountID string) (*model.Credential, error)
	Refresh(ctx context.Context, accountID string) (string, error)
}

// Source lists candidate messages for an access token.
type Source interface {
	FetchCandidates(ctx context.Context, accessToken string) ([]mail.Message, error)
}

// Extractor turns one message into at most one event.
type Extractor interface {
	Extract(msg mail.Message, accountID string) (model.Event, bool)
}

// Warning reports an account whose events were skipped in a run.
type Warning struct {
	AccountID string
	Err       error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.AccountID, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Result is the outcome of one ingestion run. Events holds whatever was
// gathered, in account order then message order.
type Result struct {
	RunID    string
	Events   []model.Event
	Warnings []Warning
	Dropped  int
}

// Orchestrator runs ingestion across accounts with a bounded worker pool.
type Orchestrator struct {
	tokens    Tokens
	source    Source
	extractor Extractor
	workers   int
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an Orchestrator. workers <= 0 selects DefaultWorkers.
func New(tokens Tokens, source Source, extractor Extractor, workers int, logger zerolog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		tokens:    tokens,
		source:    source,
		extractor: extractor,
		workers:   workers,
		logger:    logger.With().Str("component", "ingest").Logger(),
		now:       time.Now,
	}
}

type accountResult struct {
	events  []model.Event
	dropped int
	err     error
}

// Run fetches every account. A failing account becomes a Warning and never
// discards events gathered from the others.
func (o *Orchestrator) Run(ctx context.Context, accounts []string) Result {
	runID := uuid.NewString()
	log := o.logger.With().Str("run_id", runID).Logger()
	log.Info().Int("accounts", len(accounts)).Msg("ingestion started")

	results := make([]accountResult, len(accounts))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, accountID := range accounts {
		g.Go(func() error {
			results[i] = o.ingestAccount(ctx, log, accountID)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{RunID: runID}
	for i, r := range results {
		res.Dropped += r.dropped
		if r.err != nil {
			res.Warnings = append(res.Warnings, Warning{AccountID: accounts[i], Err: r.err})
			metrics.AccountFailures.WithLabelValues(failureReason(r.err)).Inc()
			continue
		}
		res.Events = append(res.Events, r.events...)
	}

	metrics.IngestRuns.Inc()
	log.Info().
		Int("events", len(res.Events)).
		Int("dropped", res.Dropped).
		Int("warnings", len(res.Warnings)).
		Msg("ingestion finished")
	return res
}

func (o *Orchestrator) ingestAccount(ctx context.Context, log zerolog.Logger, accountID string) (res accountResult) {
	log = log.With().Str("account", accountID).Logger()
	defer func() {
		if r := recover(); r != nil {
			res = accountResult{err: fmt.Errorf("panic while ingesting: %v", r)}
		}
	}()

	msgs, err := o.fetch(ctx, log, accountID)
	if err != nil {
		log.Warn().Err(err).Msg("skipping account")
		return accountResult{err: err}
	}

	for _, msg := range msgs {
		event, ok := o.extractor.Extract(msg, accountID)
		if !ok {
			res.dropped++
			log.Debug().Str("message_id", msg.ID).Msg("no event in message")
			continue
		}
		res.events = append(res.events, event)
	}
	metrics.EventsDropped.Add(float64(res.dropped))
	return res
}

type tokenState int

const (
	tokenValid tokenState = iota
	tokenExpired
	tokenRefreshing
)

func (s tokenState) String() string {
	switch s {
	case tokenValid:
		return "valid"
	case tokenExpired:
		return "expired"
	case tokenRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// fetch drives the token state machine Valid -> Expired -> Refreshing ->
// Valid|Failed. At most one refresh happens per call; a token rejected after
// that refresh is a failure, not another refresh.
func (o *Orchestrator) fetch(ctx context.Context, log zerolog.Logger, accountID string) ([]mail.Message, error) {
	cred, err := o.tokens.Credential(accountID)
	if err != nil {
		return nil, err
	}

	// Skip the doomed first request when the stored token is missing or known to be expired
	token := cred.AccessToken
	state := tokenValid
	if token == "" || (cred.Expired(o.now()) && cred.HasRefreshToken()) {
		state = tokenExpired
	}
	refreshed := false

	for {
		switch state {
		case tokenValid:
			msgs, err := o.source.FetchCandidates(ctx, token)
			if err == nil {
				return msgs, nil
			}
			if !errors.Is(err, model.ErrUnauthorized) {
				return nil, err
			}
			// A token rejected right after a refresh means the account itself is broken
			if refreshed {
				return nil, fmt.Errorf("%w: token rejected after refresh: %w", model.ErrFetchFailed, err)
			}
			log.Info().Msg("access token rejected")
			state = tokenExpired

		case tokenExpired:
			if !cred.HasRefreshToken() {
				return nil, fmt.Errorf("%w: cannot renew access token for %s", model.ErrNoRefreshToken, accountID)
			}
			state = tokenRefreshing

		case tokenRefreshing:
			refreshed = true
			token, err = o.tokens.Refresh(ctx, accountID)
			if err != nil {
				metrics.TokenRefreshes.WithLabelValues("failed").Inc()
				return nil, err
			}
			metrics.TokenRefreshes.WithLabelValues("ok").Inc()
			log.Debug().Msg("access token refreshed")
			state = tokenValid

		default:
			return nil, fmt.Errorf("unexpected token state %s", state)
		}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrNoRefreshToken):
		return "no_refresh_token"
	case errors.Is(err, model.ErrRefreshRejected):
		return "refresh_rejected"
	case errors.Is(err, model.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, model.ErrNotFound):
		return "no_credential"
	default:
		return "other"
	}
}
