// Package mail fetches candidate invitation messages from Gmail and extracts
// events from them.
package mail

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/beekhof/mailclash/internal/model"
)

// UntitledEvent is the title used when a message has no subject header.
const UntitledEvent = "Untitled Event"

// datePattern matches phrases such as "March 3, 2026 at 9:30AM".
var datePattern = regexp.MustCompile(`(\w+ \d+, \d{4} at \d+:\d+\w+)`)

// Month names are matched case-insensitively by time.Parse; the phrase is
// upper-cased so the meridiem matches "PM".
var dateLayouts = []string{
	"January 2, 2006 3:04PM",
	"Jan 2, 2006 3:04PM",
	"January 2, 2006 15:04",
	"Jan 2, 2006 15:04",
}

// Header is one message header.
type Header struct {
	Name  string
	Value string
}

// Message is the raw record the extractor works on.
type Message struct {
	ID      string
	Headers []Header
	Snippet string
}

// Header returns the first header value matching name, case-insensitively.
func (m Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Extractor turns messages into events, interpreting date phrases in Location.
type Extractor struct {
	Location *time.Location
}

// Extract returns the event described by msg. The second result is false when
// the message carries no usable date phrase; that is a drop, not an error.
func (x Extractor) Extract(msg Message, accountID string) (model.Event, bool) {
	if msg.ID == "" {
		return model.Event{}, false
	}

	start, ok := ParseDatePhrase(html.UnescapeString(msg.Snippet), x.location())
	if !ok {
		return model.Event{}, false
	}

	title := UntitledEvent
	if subject, ok := msg.Header("Subject"); ok && strings.TrimSpace(subject) != "" {
		title = strings.TrimSpace(subject)
	}

	event := model.Event{
		ID:            msg.ID,
		Title:         title,
		Start:         start,
		End:           start.Add(model.DefaultEventDuration),
		SourceAccount: accountID,
	}
	if event.Validate() != nil {
		return model.Event{}, false
	}
	return event, true
}

func (x Extractor) location() *time.Location {
	if x.Location == nil {
		return time.UTC
	}
	return x.Location
}

// ParseDatePhrase finds the first date phrase in text and parses it in loc.
func ParseDatePhrase(text string, loc *time.Location) (time.Time, bool) {
	phrase := datePattern.FindString(text)
	if phrase == "" {
		return time.Time{}, false
	}

	value := strings.ToUpper(strings.Replace(phrase, " at ", " ", 1))
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
