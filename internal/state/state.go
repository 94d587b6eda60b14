// Package state is the reconciliation state: the authoritative projection of
// linked accounts, the unified event set, active clashes and the calendar index.
// It changes only through the transitions in transition.go.
package state

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/beekhof/mailclash/internal/model"
)

// MarkerColor is the dot colour of a marked calendar date.
const MarkerColor = "#6200ee"

// Marker flags a date in the calendar index as having at least one event.
type Marker struct {
	Marked   bool   `json:"marked"`
	DotColor string `json:"dot_color"`
}

// SyncRecord remembers that an event has been written to the external calendar.
type SyncRecord struct {
	ProviderEventID string    `json:"provider_event_id"`
	CalendarID      string    `json:"calendar_id,omitempty"`
	SyncedAt        time.Time `json:"synced_at"`
}

// Persister saves a snapshot after each transition. A Save error aborts the
// transition.
type Persister interface {
	Save(Snapshot) error
}

// State is safe for concurrent use. Readers get copies.
type State struct {
	mu      sync.RWMutex
	data    *data
	persist Persister
}

type data struct {
	accounts  []string
	events    []model.Event
	clashes   []model.Clash
	calendar  map[string]Marker
	dismissed map[string]struct{}
	synced    map[string]SyncRecord
}

// New returns an empty State. persist may be nil for a purely in-memory state.
func New(persist Persister) *State {
	return &State{data: newData(), persist: persist}
}

// FromSnapshot restores a State from a previously saved snapshot.
func FromSnapshot(snap Snapshot, persist Persister) *State {
	d := newData()
	d.accounts = slices.Clone(snap.Accounts)
	d.events = slices.Clone(snap.Events)
	d.clashes = slices.Clone(snap.Clashes)
	for _, id := range snap.Dismissed {
		d.dismissed[id] = struct{}{}
	}
	for id, rec := range snap.Synced {
		d.synced[id] = rec
	}
	d.rebuildCalendar()
	return &State{data: d, persist: persist}
}

func newData() *data {
	return &data{
		calendar:  map[string]Marker{},
		dismissed: map[string]struct{}{},
		synced:    map[string]SyncRecord{},
	}
}

func (d *data) clone() *data {
	c := &data{
		accounts:  slices.Clone(d.accounts),
		events:    slices.Clone(d.events),
		clashes:   slices.Clone(d.clashes),
		calendar:  make(map[string]Marker, len(d.calendar)),
		dismissed: make(map[string]struct{}, len(d.dismissed)),
		synced:    make(map[string]SyncRecord, len(d.synced)),
	}
	for k, v := range d.calendar {
		c.calendar[k] = v
	}
	for k := range d.dismissed {
		c.dismissed[k] = struct{}{}
	}
	for k, v := range d.synced {
		c.synced[k] = v
	}
	return c
}

func (d *data) rebuildCalendar() {
	d.calendar = make(map[string]Marker, len(d.events))
	for _, e := range d.events {
		d.calendar[e.DateKey()] = Marker{Marked: true, DotColor: MarkerColor}
	}
}

func (d *data) snapshot() Snapshot {
	snap := Snapshot{
		Version:  snapshotVersion,
		Accounts: slices.Clone(d.accounts),
		Events:   slices.Clone(d.events),
		Clashes:  slices.Clone(d.clashes),
		Calendar: make(map[string]Marker, len(d.calendar)),
		Synced:   make(map[string]SyncRecord, len(d.synced)),
	}
	for k, v := range d.calendar {
		snap.Calendar[k] = v
	}
	for k, v := range d.synced {
		snap.Synced[k] = v
	}
	for id := range d.dismissed {
		snap.Dismissed = append(snap.Dismissed, id)
	}
	sort.Strings(snap.Dismissed)
	return snap
}

// Apply runs t against a copy of the current state, persists the result and
// only then makes it current. Either the whole transition takes effect or
// nothing does.
func (s *State) Apply(t Transition) error {
	if t == nil {
		return fmt.Errorf("nil transition")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	if err := t.apply(next); err != nil {
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	if s.persist != nil {
		if err := s.persist.Save(next.snapshot()); err != nil {
			return fmt.Errorf("%s: failed to persist state: %w", t.Name(), err)
		}
	}
	s.data = next
	return nil
}

// Accounts returns the linked account ids in link order.
func (s *State) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.accounts)
}

// Events returns the unified event set in fetch order.
func (s *State) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.events)
}

// Event looks up one event by id.
func (s *State) Event(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.data.events {
		if e.ID == id {
			return e, true
		}
	}
	return model.Event{}, false
}

// Clashes returns the active clash set.
func (s *State) Clashes() []model.Clash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.clashes)
}

// Calendar returns the date -> marker index.
func (s *State) Calendar() map[string]Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Marker, len(s.data.calendar))
	for k, v := range s.data.calendar {
		out[k] = v
	}
	return out
}

// Synced returns the ledger entry for eventID, if it has been synced before.
func (s *State) Synced(eventID string) (SyncRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data.synced[eventID]
	return rec, ok
}

// Dismissed reports whether eventID was removed by a clash resolution.
func (s *State) Dismissed(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.dismissed[eventID]
	return ok
}

// Snapshot returns a serialisable copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.snapshot()
}
