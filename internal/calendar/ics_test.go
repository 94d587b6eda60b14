package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/mailclash/internal/model"
)

func TestWriteICS(t *testing.T) {
	e1 := sample
	e2 := model.Event{
		ID:    "msg-2",
		Title: "Lunch",
		Start: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC),
	}
	e3 := model.Event{
		ID:    "msg-3",
		Title: "Gym",
		Start: time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 3, 19, 0, 0, 0, time.UTC),
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	err := WriteICS(&buf, []model.Event{e1, e2, e3}, []model.Clash{model.NewClash(e1, e2)}, now)
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	assert.Contains(t, out, "PRODID:-//mailclash//EN")
	assert.Contains(t, out, "DTSTART:20260302T100000Z")

	cal, err := ical.NewDecoder(strings.NewReader(out)).Decode()
	require.NoError(t, err)
	require.Len(t, cal.Children, 3)

	byUID := map[string]*ical.Component{}
	for _, child := range cal.Children {
		uid, err := child.Props.Text(ical.PropUID)
		require.NoError(t, err)
		byUID[uid] = child
	}

	for _, uid := range []string{"msg-1", "msg-2"} {
		cat, err := byUID[uid].Props.Text(ical.PropCategories)
		require.NoError(t, err)
		assert.Equal(t, ClashCategory, cat, uid)
	}
	assert.Nil(t, byUID["msg-3"].Props.Get(ical.PropCategories))

	summary, err := byUID["msg-3"].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Gym", summary)

	start, err := byUID["msg-3"].Props.DateTime(ical.PropDateTimeStart, time.UTC)
	require.NoError(t, err)
	assert.True(t, start.Equal(e3.Start))
}
