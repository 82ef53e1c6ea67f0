package forward

import (
	"time"

	"dmrelay/internal/model"
)

type Verdict int

const (
	Forward Verdict = iota
	SkipRecent
	SkipDaily
	SkipFiltered
)

func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case SkipRecent:
		return "skip_recent"
	case SkipDaily:
		return "skip_daily"
	case SkipFiltered:
		return "skip_filtered"
	default:
		return "unknown"
	}
}

// Decision is the verdict for one message. Reason is what gets persisted with
// an ignored entry; it is empty for Forward and SkipRecent.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Record reports whether the skip must be written as an ignored entry.
func (d Decision) Record() bool {
	return d.Verdict == SkipDaily || d.Verdict == SkipFiltered
}

// View is the read side of the tracking store.
type View interface {
	IsRecentlyHandled(senderID int64, now time.Time) bool
	HasForwardedToday(senderID int64, now time.Time) bool
}

// Decide applies, in order: recent-duplicate suppression, the one-per-day
// rule, then the content filter.
func Decide(msg model.IncomingMessage, view View, now time.Time) Decision {
	id := msg.Sender.ID
	switch {
	case view.IsRecentlyHandled(id, now):
		return Decision{Verdict: SkipRecent}
	case view.HasForwardedToday(id, now):
		return Decision{Verdict: SkipDaily, Reason: model.ReasonForwardedToday}
	case !ShouldForward(msg):
		return Decision{Verdict: SkipFiltered, Reason: model.ReasonNoMatch}
	default:
		return Decision{Verdict: Forward}
	}
}

// ShouldForward requires text, and either a 3-4 digit run in the display name
// or both a first and a last name.
func ShouldForward(msg model.IncomingMessage) bool {
	if msg.Text == "" {
		return false
	}
	return model.HasDigitRun(msg.Sender.DisplayName()) || msg.Sender.HasFullName()
}
