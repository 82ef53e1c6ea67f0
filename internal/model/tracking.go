package model

import "time"

const (
	// DateLayout is the calendar-date format of the daily record.
	DateLayout = "2006-01-02"
	// TimeLayout is the human readable timestamp format used in persisted documents.
	TimeLayout = "2006-01-02 15:04:05"
)

// Reasons persisted with ignored tracking entries.
const (
	ReasonForwardedToday = "Already forwarded today"
	ReasonNoMatch        = "Doesn't match forwarding criteria"
	ReasonForwardFailed  = "Forwarding failed"
)

// ForwardedUser is one sender in the daily forward record.
type ForwardedUser struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

// DailyRecord holds the senders relayed on a single calendar date.
type DailyRecord struct {
	Date           string                   `json:"date"`
	ForwardedUsers map[string]ForwardedUser `json:"forwarded_users"`
}

// NewDailyRecord returns an empty record for the date of now.
func NewDailyRecord(now time.Time) DailyRecord {
	return DailyRecord{
		Date:           now.Format(DateLayout),
		ForwardedUsers: make(map[string]ForwardedUser),
	}
}

// TrackingEntry is a recent decision about a sender. Reason is only set on
// ignored entries.
type TrackingEntry struct {
	Name          string  `json:"name"`
	Timestamp     float64 `json:"timestamp"`
	Reason        string  `json:"reason,omitempty"`
	TimeFormatted string  `json:"time_formatted"`
}

// NewTrackingEntry stamps an entry with now.
func NewTrackingEntry(name, reason string, now time.Time) TrackingEntry {
	return TrackingEntry{
		Name:          name,
		Timestamp:     EpochSeconds(now),
		Reason:        reason,
		TimeFormatted: now.Format(TimeLayout),
	}
}

// ActiveAt reports whether the entry is younger than window.
func (e TrackingEntry) ActiveAt(now time.Time, window time.Duration) bool {
	return EpochSeconds(now)-e.Timestamp < window.Seconds()
}

// TrackingState is the persisted tracking document.
type TrackingState struct {
	Ignored   map[string]TrackingEntry `json:"ignored"`
	Collected map[string]TrackingEntry `json:"collected"`
}

// NewTrackingState returns {ignored: {}, collected: {}}.
func NewTrackingState() TrackingState {
	return TrackingState{
		Ignored:   make(map[string]TrackingEntry),
		Collected: make(map[string]TrackingEntry),
	}
}

// EpochSeconds converts t to fractional unix seconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
