package tracking

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"dmrelay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCountsAndOrdering(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t, enabled())

	for i := 0; i < 7; i++ {
		s.RecordIgnored(ctx, int64(100+i), fmt.Sprintf("sender %d", i), model.ReasonNoMatch, t0.Add(time.Duration(i)*time.Minute))
	}
	s.RecordIgnored(ctx, 99, "stale", model.ReasonForwardFailed, t0.Add(-2*time.Hour))
	s.RecordCollected(ctx, 200, "John Doe", t0)
	s.RecordDailyForward(ctx, 200, "John Doe", t0)

	st := s.Stats(t0.Add(10 * time.Minute))
	assert.True(t, st.Enabled)
	assert.Equal(t, 7, st.RecentIgnored)
	assert.Equal(t, 8, st.TotalIgnored)
	assert.Equal(t, 1, st.RecentCollected)
	require.Len(t, st.LatestIgnored, 5)
	assert.Equal(t, "106", st.LatestIgnored[0].SenderID, "newest first")
	assert.Equal(t, "2026-03-14", st.DailyDate)
	require.Len(t, st.ForwardedToday, 1)
	assert.Equal(t, "John Doe", st.ForwardedToday[0].Name)
}

func TestWriteStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t, enabled())
	s.RecordIgnored(ctx, 1, "@bob", model.ReasonNoMatch, t0)
	s.RecordCollected(ctx, 2, "John Doe", t0)
	s.RecordDailyForward(ctx, 2, "John Doe", t0)

	var buf bytes.Buffer
	require.NoError(t, WriteStats(&buf, s.Stats(t0)))
	out := buf.String()

	assert.Contains(t, out, "=== Message Tracking Statistics ===\n")
	assert.Contains(t, out, "Tracking Enabled: true\n")
	assert.Contains(t, out, "Ignore Duration: 1.0 hours (3600 seconds)\n")
	assert.Contains(t, out, "  Ignored Messages: 1\n")
	assert.Contains(t, out, "  @bob (ID: 1) - Doesn't match forwarding criteria - 2026-03-14 10:00:00\n")
	assert.Contains(t, out, "  John Doe (ID: 2) - 2026-03-14 10:00:00\n")
	assert.Contains(t, out, "  Users Forwarded Today: 1\n")
	assert.Contains(t, out, "    John Doe (ID: 2) - 2026-03-14 10:00:00\n")
}

func TestWriteStatsDisabled(t *testing.T) {
	s, _ := newFileStore(t, Options{Window: 30 * time.Minute, Enabled: false})

	var buf bytes.Buffer
	require.NoError(t, WriteStats(&buf, s.Stats(t0)))
	out := buf.String()

	assert.Contains(t, out, "Tracking Enabled: false\n")
	assert.Contains(t, out, "Ignore Duration: 0.5 hours (1800 seconds)\n")
	assert.NotContains(t, out, "Recent Activity")
	assert.Contains(t, out, "  Date: Unknown\n")
}
