package tracking

import (
	"fmt"
	"io"
	"sort"
	"time"

	"dmrelay/internal/model"

	"go.uber.org/zap"
)

const statsListLimit = 5

type EntrySummary struct {
	SenderID      string
	Name          string
	Reason        string
	TimeFormatted string
	Timestamp     float64
}

type ForwardedSummary struct {
	SenderID string
	Name     string
	Time     string
}

// Stats is a point-in-time view of the tracking state.
type Stats struct {
	Enabled         bool
	Window          time.Duration
	RecentIgnored   int
	RecentCollected int
	TotalIgnored    int
	TotalCollected  int
	LatestIgnored   []EntrySummary
	LatestCollected []EntrySummary
	DailyDate       string
	ForwardedToday  []ForwardedSummary
	GeneratedAt     time.Time
}

func (s *Store) Stats(now time.Time) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Enabled:     s.opts.Enabled,
		Window:      s.opts.Window,
		DailyDate:   s.daily.Date,
		GeneratedAt: now,
	}

	for id, u := range s.daily.ForwardedUsers {
		st.ForwardedToday = append(st.ForwardedToday, ForwardedSummary{SenderID: id, Name: u.Name, Time: u.Time})
	}
	sort.Slice(st.ForwardedToday, func(i, j int) bool {
		a, b := st.ForwardedToday[i], st.ForwardedToday[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.SenderID < b.SenderID
	})

	if !st.Enabled {
		return st
	}

	st.TotalIgnored = len(s.tracking.Ignored)
	st.TotalCollected = len(s.tracking.Collected)
	st.LatestIgnored = activeEntries(s.tracking.Ignored, now, s.opts.Window)
	st.LatestCollected = activeEntries(s.tracking.Collected, now, s.opts.Window)
	st.RecentIgnored = len(st.LatestIgnored)
	st.RecentCollected = len(st.LatestCollected)
	if len(st.LatestIgnored) > statsListLimit {
		st.LatestIgnored = st.LatestIgnored[:statsListLimit]
	}
	if len(st.LatestCollected) > statsListLimit {
		st.LatestCollected = st.LatestCollected[:statsListLimit]
	}
	return st
}

// activeEntries returns the active entries, newest first.
func activeEntries(entries map[string]model.TrackingEntry, now time.Time, window time.Duration) []EntrySummary {
	var out []EntrySummary
	for id, e := range entries {
		if !e.ActiveAt(now, window) {
			continue
		}
		out = append(out, EntrySummary{
			SenderID:      id,
			Name:          e.Name,
			Reason:        e.Reason,
			TimeFormatted: e.TimeFormatted,
			Timestamp:     e.Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].SenderID < out[j].SenderID
	})
	return out
}

// LogStats writes the tracking configuration banner.
func LogStats(logger *zap.Logger, st Stats) {
	if !st.Enabled {
		logger.Info("Message tracking is disabled")
		return
	}

	logger.Info("Message tracking configuration",
		zap.Duration("ignore_duration", st.Window),
		zap.Int("recent_ignored", st.RecentIgnored),
		zap.Int("recent_collected", st.RecentCollected),
		zap.Int("total_ignored", st.TotalIgnored),
		zap.Int("total_collected", st.TotalCollected),
		zap.Int("forwarded_today", len(st.ForwardedToday)),
		zap.String("last_cleanup", st.GeneratedAt.Format(model.TimeLayout)),
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// WriteStats renders st in the report layout printed by the stats command.
func WriteStats(w io.Writer, st Stats) error {
	hours := st.Window.Hours()
	seconds := int64(st.Window / time.Second)

	p := &errWriter{w: w}
	p.printf("=== Message Tracking Statistics ===\n")
	p.printf("Tracking Enabled: %t\n", st.Enabled)
	p.printf("Ignore Duration: %.1f hours (%d seconds)\n", hours, seconds)

	if st.Enabled {
		p.printf("\nRecent Activity (last %.1f hours):\n", hours)
		p.printf("  Ignored Messages: %d\n", st.RecentIgnored)
		p.printf("  Collected Messages: %d\n", st.RecentCollected)

		p.printf("\nAll Time Totals:\n")
		p.printf("  Total Ignored: %d\n", st.TotalIgnored)
		p.printf("  Total Collected: %d\n", st.TotalCollected)

		if len(st.LatestIgnored) > 0 {
			p.printf("\nRecent Ignored Messages:\n")
			for _, e := range st.LatestIgnored {
				reason := e.Reason
				if reason == "" {
					reason = "No reason"
				}
				p.printf("  %s (ID: %s) - %s - %s\n", orUnknown(e.Name), e.SenderID, reason, orUnknown(e.TimeFormatted))
			}
		}
		if len(st.LatestCollected) > 0 {
			p.printf("\nRecent Collected Messages:\n")
			for _, e := range st.LatestCollected {
				p.printf("  %s (ID: %s) - %s\n", orUnknown(e.Name), e.SenderID, orUnknown(e.TimeFormatted))
			}
		}
	}

	p.printf("\nDaily Forwarding Stats:\n")
	p.printf("  Date: %s\n", orUnknown(st.DailyDate))
	p.printf("  Users Forwarded Today: %d\n", len(st.ForwardedToday))
	if len(st.ForwardedToday) > 0 {
		p.printf("  Recent Forwarded Users:\n")
		for i, u := range st.ForwardedToday {
			if i == statsListLimit {
				break
			}
			p.printf("    %s (ID: %s) - %s\n", orUnknown(u.Name), u.SenderID, orUnknown(u.Time))
		}
	}
	p.printf("==================================\n")
	return p.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (p *errWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
