package clash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/mailclash/internal/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(id string, startHour, startMin, endHour, endMin int) model.Event {
	return model.Event{
		ID:    id,
		Title: id,
		Start: day.Add(time.Duration(startHour)*time.Hour + time.Duration(startMin)*time.Minute),
		End:   day.Add(time.Duration(endHour)*time.Hour + time.Duration(endMin)*time.Minute),
	}
}

func clashIDs(clashes []model.Clash) []string {
	ids := make([]string, 0, len(clashes))
	for _, c := range clashes {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestDetect_ChainOfEvents(t *testing.T) {
	events := []model.Event{
		at("E1", 10, 0, 11, 0),
		at("E2", 10, 30, 11, 30),
		at("E3", 11, 0, 12, 0),
	}

	clashes := Detect(events)
	assert.Equal(t, []string{"E1-E2", "E2-E3"}, clashIDs(clashes))
	assert.Equal(t, "E1", clashes[0].Event1.ID)
	assert.Equal(t, "E2", clashes[0].Event2.ID)
}

func TestDetect_AdjacentIsNotAClash(t *testing.T) {
	events := []model.Event{
		at("A", 9, 0, 10, 0),
		at("B", 10, 0, 11, 0),
	}
	assert.Empty(t, Detect(events))
	assert.False(t, Overlaps(events[0], events[1]))
	assert.False(t, Overlaps(events[1], events[0]))
}

func TestDetect_Containment(t *testing.T) {
	events := []model.Event{
		at("outer", 9, 0, 17, 0),
		at("inner", 12, 0, 12, 30),
	}
	assert.Equal(t, []string{"outer-inner"}, clashIDs(Detect(events)))
}

func TestDetect_IdenticalIntervals(t *testing.T) {
	events := []model.Event{
		at("A", 9, 0, 10, 0),
		at("B", 9, 0, 10, 0),
	}
	assert.Equal(t, []string{"A-B"}, clashIDs(Detect(events)))
}

func TestDetect_ExactlyOneClashPerPair(t *testing.T) {
	events := []model.Event{
		at("A", 9, 0, 12, 0),
		at("B", 9, 30, 10, 30),
		at("C", 10, 0, 11, 0),
		at("D", 13, 0, 14, 0),
	}

	clashes := Detect(events)
	assert.Equal(t, []string{"A-B", "A-C", "B-C"}, clashIDs(clashes))

	seen := map[[2]string]int{}
	for _, c := range clashes {
		seen[[2]string{c.Event1.ID, c.Event2.ID}]++
		require.True(t, Overlaps(c.Event1, c.Event2))
	}
	for pair, n := range seen {
		assert.Equal(t, 1, n, "pair %v reported more than once", pair)
	}
}

func TestDetect_Idempotent(t *testing.T) {
	events := []model.Event{
		at("E1", 10, 0, 11, 0),
		at("E2", 10, 30, 11, 30),
		at("E3", 11, 0, 12, 0),
	}
	assert.Equal(t, clashIDs(Detect(events)), clashIDs(Detect(events)))
}

func TestDetect_EmptyAndSingle(t *testing.T) {
	assert.Empty(t, Detect(nil))
	assert.Empty(t, Detect([]model.Event{at("A", 9, 0, 10, 0)}))
}
