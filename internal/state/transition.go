package state

import (
	"fmt"
	"slices"

	"github.com/beekhof/mailclash/internal/clash"
	"github.com/beekhof/mailclash/internal/model"
)

// Transition is one named mutation of the state. The set is closed: only the
// types in this file implement it.
type Transition interface {
	Name() string
	apply(*data) error
}

// AddAccount records a newly linked account.
type AddAccount struct {
	AccountID string
}

// RemoveAccount unlinks an account, dropping its events and every clash that
// references one of them.
type RemoveAccount struct {
	AccountID string
}

// ReplaceEvents installs the unified event set of a fresh ingestion run.
// Dismissed events are filtered out, duplicate ids keep their first
// occurrence, and existing clashes that no longer hold are invalidated.
type ReplaceEvents struct {
	Events []model.Event
}

// AddClashes merges detected clashes into the active set by id. Clashes whose
// events are not both present, or no longer overlap, are ignored.
type AddClashes struct {
	Clashes []model.Clash
}

// Ingested installs the event set of an ingestion run together with the
// clashes detected over it, persisted as one step.
type Ingested struct {
	Events []model.Event
}

// ResolveClash keeps one event of a clash and removes the other, together
// with every clash that referenced the removed event.
type ResolveClash struct {
	ClashID     string
	KeepEventID string
}

// RecordSync adds an entry to the sync ledger.
type RecordSync struct {
	EventID string
	Record  SyncRecord
}

func (AddAccount) Name() string    { return "add_account" }
func (RemoveAccount) Name() string { return "remove_account" }
func (ReplaceEvents) Name() string { return "replace_events" }
func (AddClashes) Name() string    { return "add_clashes" }
func (Ingested) Name() string      { return "ingested" }
func (ResolveClash) Name() string  { return "resolve_clash" }
func (RecordSync) Name() string    { return "record_sync" }

func (t AddAccount) apply(d *data) error {
	if t.AccountID == "" {
		return fmt.Errorf("empty account id")
	}
	if slices.Contains(d.accounts, t.AccountID) {
		return fmt.Errorf("%w: %s", model.ErrDuplicateAccount, t.AccountID)
	}
	d.accounts = append(d.accounts, t.AccountID)
	return nil
}

func (t RemoveAccount) apply(d *data) error {
	idx := slices.Index(d.accounts, t.AccountID)
	if idx < 0 {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, t.AccountID)
	}
	d.accounts = slices.Delete(d.accounts, idx, idx+1)

	removed := map[string]struct{}{}
	d.events = slices.DeleteFunc(d.events, func(e model.Event) bool {
		if e.SourceAccount == t.AccountID {
			removed[e.ID] = struct{}{}
			return true
		}
		return false
	})
	d.dropClashesReferencing(removed)
	d.rebuildCalendar()
	return nil
}

func (t ReplaceEvents) apply(d *data) error {
	events := make([]model.Event, 0, len(t.Events))
	byID := make(map[string]model.Event, len(t.Events))
	for _, e := range t.Events {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dismissed := d.dismissed[e.ID]; dismissed {
			continue
		}
		if _, dup := byID[e.ID]; dup {
			continue
		}
		byID[e.ID] = e
		events = append(events, e)
	}
	d.events = events

	clashes := d.clashes[:0:0]
	for _, c := range d.clashes {
		e1, ok1 := byID[c.Event1.ID]
		e2, ok2 := byID[c.Event2.ID]
		if !ok1 || !ok2 || !clash.Overlaps(e1, e2) {
			continue
		}
		clashes = append(clashes, model.Clash{ID: c.ID, Event1: e1, Event2: e2})
	}
	d.clashes = clashes
	d.rebuildCalendar()
	return nil
}

func (t AddClashes) apply(d *data) error {
	byID := make(map[string]model.Event, len(d.events))
	for _, e := range d.events {
		byID[e.ID] = e
	}
	active := make(map[string]int, len(d.clashes))
	for i, c := range d.clashes {
		active[c.ID] = i
	}

	for _, c := range t.Clashes {
		e1, ok1 := byID[c.Event1.ID]
		e2, ok2 := byID[c.Event2.ID]
		if !ok1 || !ok2 || !clash.Overlaps(e1, e2) {
			continue
		}
		merged := model.Clash{ID: c.ID, Event1: e1, Event2: e2}
		if i, ok := active[c.ID]; ok {
			d.clashes[i] = merged
			continue
		}
		active[c.ID] = len(d.clashes)
		d.clashes = append(d.clashes, merged)
	}
	return nil
}

func (t Ingested) apply(d *data) error {
	if err := (ReplaceEvents{Events: t.Events}).apply(d); err != nil {
		return err
	}
	return AddClashes{Clashes: clash.Detect(d.events)}.apply(d)
}

func (t ResolveClash) apply(d *data) error {
	idx := slices.IndexFunc(d.clashes, func(c model.Clash) bool { return c.ID == t.ClashID })
	if idx < 0 {
		return fmt.Errorf("%w: clash %s", model.ErrNotFound, t.ClashID)
	}
	other, ok := d.clashes[idx].Other(t.KeepEventID)
	if !ok {
		return fmt.Errorf("%w: event %s is not part of clash %s",
			model.ErrInvalidResolution, t.KeepEventID, t.ClashID)
	}

	d.events = slices.DeleteFunc(d.events, func(e model.Event) bool { return e.ID == other.ID })
	d.dropClashesReferencing(map[string]struct{}{other.ID: {}})
	d.dismissed[other.ID] = struct{}{}
	d.rebuildCalendar()
	return nil
}

func (t RecordSync) apply(d *data) error {
	if t.EventID == "" {
		return fmt.Errorf("empty event id")
	}
	if t.Record.ProviderEventID == "" {
		return fmt.Errorf("empty provider event id for %s", t.EventID)
	}
	d.synced[t.EventID] = t.Record
	return nil
}

func (d *data) dropClashesReferencing(ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}
	d.clashes = slices.DeleteFunc(d.clashes, func(c model.Clash) bool {
		_, a := ids[c.Event1.ID]
		_, b := ids[c.Event2.ID]
		return a || b
	})
}
