package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/beekhof/mailclash/internal/model"
)

const (
	productID = "-//mailclash//EN"
	// ClashCategory marks exported events that take part in an active clash.
	ClashCategory = "CLASH"
)

// WriteICS encodes events as one VCALENDAR. Events referenced by any clash are
// tentative and carry the CLASH category.
func WriteICS(w io.Writer, events []model.Event, clashes []model.Clash, now time.Time) error {
	clashing := map[string]struct{}{}
	for _, c := range clashes {
		clashing[c.Event1.ID] = struct{}{}
		clashing[c.Event2.ID] = struct{}{}
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	stamp := now.UTC()
	for _, e := range events {
		vevent := ical.NewComponent(ical.CompEvent)
		vevent.Props.SetText(ical.PropUID, e.ID)
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		vevent.Props.SetText(ical.PropSummary, e.Title)
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
		if e.SourceAccount != "" {
			vevent.Props.SetText("X-MAILCLASH-ACCOUNT", e.SourceAccount)
		}
		if _, ok := clashing[e.ID]; ok {
			vevent.Props.SetText(ical.PropCategories, ClashCategory)
			vevent.Props.SetText(ical.PropStatus, "TENTATIVE")
		}
		cal.Children = append(cal.Children, vevent)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode iCalendar: %w", err)
	}
	return nil
}
