// Package clash finds pairs of events whose time intervals overlap.
package clash

import "github.com/beekhof/mailclash/internal/model"

// Overlaps reports strict half-open interval overlap. Events that merely touch
// (one ends exactly when the other starts) do not overlap.
func Overlaps(a, b model.Event) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Detect returns one clash per overlapping unordered pair, in sequence order.
// The pairwise scan is quadratic; the input is bounded by accounts x page size.
// Clash ids derive from the ordered pair of event ids, so detection over an
// unchanged sequence always yields the same ids.
func Detect(events []model.Event) []model.Clash {
	var clashes []model.Clash
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if Overlaps(events[i], events[j]) {
				clashes = append(clashes, model.NewClash(events[i], events[j]))
			}
		}
	}
	return clashes
}
