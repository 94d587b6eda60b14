// Package model holds the data types shared by the ingestion, clash and sync
// components.
package model

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultEventDuration is used when the source text carries no explicit end.
const DefaultEventDuration = time.Hour

// Credential is the token material owned by one linked account.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// HasRefreshToken reports whether the credential can be refreshed.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// Expired reports whether the expiry is known and has passed at now.
// A zero expiry means unknown and is never treated as expired.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.Expiry.IsZero() {
		return false
	}
	return !now.Before(c.Expiry)
}

// Token converts the credential to an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
		TokenType:    "Bearer",
	}
}

// CredentialFromToken copies the fields the engine cares about out of an oauth2 token.
func CredentialFromToken(token *oauth2.Token) *Credential {
	if token == nil {
		return nil
	}
	return &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
}

// Account is a linked mailbox, identified by its email address.
type Account struct {
	ID         string     `json:"id"`
	Credential Credential `json:"-"`
}

// Event is a calendar-like entry extracted from one source message.
// Events are treated as immutable values once created.
type Event struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	SourceAccount string    `json:"source_account"`
}

// Validate checks the start < end invariant and that the event has an identity.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if !e.Start.Before(e.End) {
		return fmt.Errorf("%w: event %s starts at %s but ends at %s",
			ErrInvalidEvent, e.ID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return nil
}

// DateKey is the calendar index key for the event (date portion of start, UTC).
func (e Event) DateKey() string {
	return e.Start.UTC().Format("2006-01-02")
}

// Clash is a pair of events whose intervals strictly overlap.
type Clash struct {
	ID     string `json:"id"`
	Event1 Event  `json:"event1"`
	Event2 Event  `json:"event2"`
}

// ClashID derives the clash identity from the ordered pair of event ids.
func ClashID(first, second string) string {
	return first + "-" + second
}

// NewClash builds a clash for first and second in sequence order.
func NewClash(first, second Event) Clash {
	return Clash{
		ID:     ClashID(first.ID, second.ID),
		Event1: first,
		Event2: second,
	}
}

// References reports whether the clash involves the event with the given id.
func (c Clash) References(eventID string) bool {
	return c.Event1.ID == eventID || c.Event2.ID == eventID
}

// Other returns the event of the pair that is not keepID.
func (c Clash) Other(keepID string) (Event, bool) {
	switch keepID {
	case c.Event1.ID:
		return c.Event2, true
	case c.Event2.ID:
		return c.Event1, true
	default:
		return Event{}, false
	}
}
