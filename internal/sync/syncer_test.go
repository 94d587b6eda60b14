package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/mailclash/internal/calendar"
	"github.com/beekhof/mailclash/internal/model"
	"github.com/beekhof/mailclash/internal/state"
)

type mockTokens struct {
	mu        stdsync.Mutex
	tokens    map[string]string
	refreshed map[string]string
	refreshes map[string]int
}

func newMockTokens() *mockTokens {
	return &mockTokens{tokens: map[string]string{}, refreshed: map[string]string{}, refreshes: map[string]int{}}
}

func (m *mockTokens) AccessToken(_ context.Context, accountID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[accountID]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrNotFound, accountID)
	}
	return tok, nil
}

func (m *mockTokens) Refresh(_ context.Context, accountID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[accountID]++
	tok, ok := m.refreshed[accountID]
	if !ok {
		return "", model.ErrRefreshRejected
	}
	return tok, nil
}

type insertCall struct {
	token      string
	calendarID string
	eventID    string
}

type mockCalendar struct {
	mu       stdsync.Mutex
	inserts  []insertCall
	remote   map[string]string
	badToken string
	failFor  map[string]error
	panicFor string
}

func newMockCalendar() *mockCalendar {
	return &mockCalendar{remote: map[string]string{}, failFor: map[string]error{}}
}

func (m *mockCalendar) FindBySourceID(_ context.Context, token, calendarID, sourceID string) (*calendar.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == m.badToken {
		return nil, fmt.Errorf("%w: %w: find", model.ErrSyncRejected, model.ErrUnauthorized)
	}
	if id, ok := m.remote[sourceID]; ok {
		return &calendar.Record{ID: id, CalendarID: calendarID}, nil
	}
	return nil, nil
}

func (m *mockCalendar) InsertEvent(_ context.Context, token, calendarID string, e model.Event) (*calendar.Record, error) {
	if e.ID == m.panicFor {
		panic("calendar exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[e.ID]; err != nil {
		return nil, err
	}
	m.inserts = append(m.inserts, insertCall{token: token, calendarID: calendarID, eventID: e.ID})
	id := "g-" + e.ID
	m.remote[e.ID] = id
	return &calendar.Record{ID: id, CalendarID: calendarID}, nil
}

func (m *mockCalendar) insertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserts)
}

type note struct{ title, body string }

type recordingSink struct {
	mu    stdsync.Mutex
	notes []note
}

func (r *recordingSink) Notify(title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{title, body})
}

func event(id, account string) model.Event {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return model.Event{ID: id, Title: "Meeting " + id, Start: start, End: start.Add(time.Hour), SourceAccount: account}
}

type fixture struct {
	tokens   *mockTokens
	calendar *mockCalendar
	ledger   *state.State
	sink     *recordingSink
	sync     *Synchronizer
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		tokens:   newMockTokens(),
		calendar: newMockCalendar(),
		ledger:   state.New(nil),
		sink:     &recordingSink{},
	}
	f.tokens.tokens["a@example.com"] = "tok-a"
	f.tokens.tokens["b@example.com"] = "tok-b"
	f.sync = New(f.tokens, f.calendar, f.ledger, f.sink, opts, zerolog.Nop())
	return f
}

func TestSyncAll_InsertsAndNotifies(t *testing.T) {
	f := newFixture(Options{Workers: 2})

	report := f.sync.SyncAll(context.Background(), []model.Event{event("E1", "a@example.com"), event("E2", "b@example.com")})

	assert.Equal(t, 2, report.Count(Inserted))
	assert.Empty(t, report.Failures())
	assert.Equal(t, "E1", report.Results[0].EventID)
	assert.Equal(t, "E2", report.Results[1].EventID)

	rec, ok := f.ledger.Synced("E1")
	require.True(t, ok)
	assert.Equal(t, "g-E1", rec.ProviderEventID)
	assert.Equal(t, calendar.DefaultCalendarID, rec.CalendarID)

	assert.ElementsMatch(t, []note{
		{"Event Synced", "Meeting E1 was added to your calendar."},
		{"Event Synced", "Meeting E2 was added to your calendar."},
	}, f.sink.notes)
	assert.ElementsMatch(t, []insertCall{
		{token: "tok-a", calendarID: "primary", eventID: "E1"},
		{token: "tok-b", calendarID: "primary", eventID: "E2"},
	}, f.calendar.inserts)
}

func TestSyncAll_SecondRunSkipsLedgeredEvents(t *testing.T) {
	f := newFixture(Options{})
	events := []model.Event{event("E1", "a@example.com")}

	f.sync.SyncAll(context.Background(), events)
	report := f.sync.SyncAll(context.Background(), events)

	assert.Equal(t, 1, report.Count(Skipped))
	assert.Equal(t, 1, f.calendar.insertCount())
	assert.Len(t, f.sink.notes, 1)
}

func TestSync_LinksEventAlreadyOnCalendar(t *testing.T) {
	f := newFixture(Options{})
	f.calendar.remote["E1"] = "g-existing"

	res := f.sync.Sync(context.Background(), event("E1", "a@example.com"))

	assert.Equal(t, Linked, res.Outcome)
	assert.Equal(t, "g-existing", res.Record.ID)
	assert.Equal(t, 0, f.calendar.insertCount())
	assert.Empty(t, f.sink.notes)
	rec, ok := f.ledger.Synced("E1")
	require.True(t, ok)
	assert.Equal(t, "g-existing", rec.ProviderEventID)
}

func TestSync_FailureIsIsolated(t *testing.T) {
	f := newFixture(Options{Workers: 1})
	f.calendar.failFor["E2"] = fmt.Errorf("%w: insert event: Forbidden", model.ErrSyncRejected)

	report := f.sync.SyncAll(context.Background(), []model.Event{
		event("E1", "a@example.com"), event("E2", "a@example.com"), event("E3", "a@example.com"),
	})

	assert.Equal(t, 2, report.Count(Inserted))
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "E2", failures[0].EventID)
	assert.ErrorIs(t, failures[0].Err, model.ErrSyncRejected)
	_, ok := f.ledger.Synced("E2")
	assert.False(t, ok)
}

func TestSync_PanicBecomesFailure(t *testing.T) {
	f := newFixture(Options{})
	f.calendar.panicFor = "E1"

	report := f.sync.SyncAll(context.Background(), []model.Event{event("E1", "a@example.com"), event("E2", "a@example.com")})

	assert.Equal(t, Failed, report.Results[0].Outcome)
	assert.Contains(t, report.Results[0].Err.Error(), "calendar exploded")
	assert.Equal(t, Inserted, report.Results[1].Outcome)
}

func TestSync_RefreshesOnceOnUnauthorized(t *testing.T) {
	f := newFixture(Options{})
	f.calendar.badToken = "tok-a"
	f.tokens.refreshed["a@example.com"] = "tok-a2"

	res := f.sync.Sync(context.Background(), event("E1", "a@example.com"))

	require.NoError(t, res.Err)
	assert.Equal(t, Inserted, res.Outcome)
	assert.Equal(t, 1, f.tokens.refreshes["a@example.com"])
	assert.Equal(t, "tok-a2", f.calendar.inserts[0].token)
}

func TestSync_UnauthorizedAfterRefreshFails(t *testing.T) {
	f := newFixture(Options{})
	f.calendar.badToken = "tok-a"
	f.tokens.refreshed["a@example.com"] = "tok-a"

	res := f.sync.Sync(context.Background(), event("E1", "a@example.com"))

	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, model.ErrUnauthorized)
	assert.Equal(t, 1, f.tokens.refreshes["a@example.com"])
}

func TestSync_CalendarAccountOverridesSource(t *testing.T) {
	f := newFixture(Options{CalendarAccount: "b@example.com", CalendarID: "family"})

	res := f.sync.Sync(context.Background(), event("E1", "a@example.com"))

	require.NoError(t, res.Err)
	assert.Equal(t, []insertCall{{token: "tok-b", calendarID: "family", eventID: "E1"}}, f.calendar.inserts)
}

func TestSync_MissingCredential(t *testing.T) {
	f := newFixture(Options{})

	res := f.sync.Sync(context.Background(), event("E1", "nobody@example.com"))

	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, model.ErrSyncRejected)
	assert.True(t, errors.Is(res.Err, model.ErrNotFound))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "linked", Linked.String())
	assert.Equal(t, "failed", Failed.String())
}
