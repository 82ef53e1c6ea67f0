package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"dmrelay/internal/model"
	"dmrelay/internal/repository"

	"go.uber.org/zap"
)

type Options struct {
	// Window is how long a tracking entry stays active.
	Window  time.Duration
	Enabled bool
}

// PruneResult reports what a prune kept and removed.
type PruneResult struct {
	KeptIgnored      int
	KeptCollected    int
	RemovedIgnored   int
	RemovedCollected int
}

// Store holds the daily forward record and the ignored/collected tracking
// entries, writing the affected document back after every mutation. Save
// failures are logged; memory stays authoritative.
type Store struct {
	repo   repository.StateRepository
	opts   Options
	logger *zap.Logger

	mu       sync.RWMutex
	daily    model.DailyRecord
	tracking model.TrackingState
}

func NewStore(repo repository.StateRepository, opts Options, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		opts:     opts,
		logger:   logger,
		tracking: model.NewTrackingState(),
	}
}

func (s *Store) Window() time.Duration { return s.opts.Window }
func (s *Store) Enabled() bool         { return s.opts.Enabled }

// Load reads both documents. Missing or unreadable documents start empty, and
// a daily record from another date is discarded.
func (s *Store) Load(ctx context.Context, now time.Time) {
	s.load(ctx, now, false)
}

// LoadSnapshot reads both documents as stored, keeping a daily record from an
// earlier date. It is meant for reporting; a relaying store uses Load.
func (s *Store) LoadSnapshot(ctx context.Context, now time.Time) {
	s.load(ctx, now, true)
}

func (s *Store) load(ctx context.Context, now time.Time, keepStale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily = model.DailyRecord{}
	var daily model.DailyRecord
	if s.loadDoc(ctx, repository.DocDailyMessages, &daily) {
		if keepStale || daily.Date == now.Format(model.DateLayout) {
			if daily.ForwardedUsers == nil {
				daily.ForwardedUsers = make(map[string]model.ForwardedUser)
			}
			s.daily = daily
		} else {
			s.logger.Info("New day detected. Resetting forwarded messages tracking.",
				zap.String("stored_date", daily.Date),
			)
		}
	}

	tracking := model.NewTrackingState()
	if s.loadDoc(ctx, repository.DocMessageTracking, &tracking) {
		if tracking.Ignored == nil {
			tracking.Ignored = make(map[string]model.TrackingEntry)
		}
		if tracking.Collected == nil {
			tracking.Collected = make(map[string]model.TrackingEntry)
		}
	} else {
		tracking = model.NewTrackingState()
	}
	s.tracking = tracking

	s.logger.Info("Tracking state loaded",
		zap.String("daily_date", s.daily.Date),
		zap.Int("forwarded", len(s.daily.ForwardedUsers)),
		zap.Int("ignored", len(s.tracking.Ignored)),
		zap.Int("collected", len(s.tracking.Collected)),
	)
}

func (s *Store) loadDoc(ctx context.Context, doc string, v any) bool {
	data, err := s.repo.Load(ctx, doc)
	if errors.Is(err, repository.ErrStateNotFound) {
		return false
	}
	if err != nil {
		s.logger.Error("Error loading state document", zap.String("doc", doc), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Error("Error parsing state document, starting empty", zap.String("doc", doc), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) saveLocked(ctx context.Context, doc string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Error("Error encoding state document", zap.String("doc", doc), zap.Error(err))
		return
	}
	if err := s.repo.Save(ctx, doc, data); err != nil {
		s.logger.Error("Error saving state document", zap.String("doc", doc), zap.Error(err))
	}
}

func senderKey(senderID int64) string {
	return strconv.FormatInt(senderID, 10)
}

// RecordDailyForward marks the sender as relayed today, resetting the record
// first when it belongs to another date.
func (s *Store) RecordDailyForward(ctx context.Context, senderID int64, name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := now.Format(model.DateLayout)
	if s.daily.Date != today || s.daily.ForwardedUsers == nil {
		s.daily = model.NewDailyRecord(now)
	}
	s.daily.ForwardedUsers[senderKey(senderID)] = model.ForwardedUser{
		Name: name,
		Time: now.Format(model.TimeLayout),
	}
	s.saveLocked(ctx, repository.DocDailyMessages, s.daily)
}

func (s *Store) HasForwardedToday(senderID int64, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.daily.Date != now.Format(model.DateLayout) {
		return false
	}
	_, ok := s.daily.ForwardedUsers[senderKey(senderID)]
	return ok
}

func (s *Store) RecordIgnored(ctx context.Context, senderID int64, name, reason string, now time.Time) {
	if !s.opts.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracking.Ignored[senderKey(senderID)] = model.NewTrackingEntry(name, reason, now)
	s.saveLocked(ctx, repository.DocMessageTracking, s.tracking)

	s.logger.Info("Tracked ignored message",
		zap.Int64("sender_id", senderID),
		zap.String("sender_name", name),
		zap.String("reason", reason),
	)
}

func (s *Store) RecordCollected(ctx context.Context, senderID int64, name string, now time.Time) {
	if !s.opts.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracking.Collected[senderKey(senderID)] = model.NewTrackingEntry(name, "", now)
	s.saveLocked(ctx, repository.DocMessageTracking, s.tracking)

	s.logger.Info("Tracked collected message",
		zap.Int64("sender_id", senderID),
		zap.String("sender_name", name),
	)
}

// IsRecentlyHandled reports an active entry in either category. Always false
// while tracking is disabled.
func (s *Store) IsRecentlyHandled(senderID int64, now time.Time) bool {
	if !s.opts.Enabled {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := senderKey(senderID)
	if e, ok := s.tracking.Ignored[key]; ok && e.ActiveAt(now, s.opts.Window) {
		return true
	}
	if e, ok := s.tracking.Collected[key]; ok && e.ActiveAt(now, s.opts.Window) {
		return true
	}
	return false
}

// Prune drops every entry whose age is at least the window and persists the
// result.
func (s *Store) Prune(ctx context.Context, now time.Time) PruneResult {
	if !s.opts.Enabled {
		return PruneResult{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res PruneResult
	res.RemovedIgnored = pruneEntries(s.tracking.Ignored, now, s.opts.Window)
	res.RemovedCollected = pruneEntries(s.tracking.Collected, now, s.opts.Window)
	res.KeptIgnored = len(s.tracking.Ignored)
	res.KeptCollected = len(s.tracking.Collected)

	s.saveLocked(ctx, repository.DocMessageTracking, s.tracking)
	return res
}

func pruneEntries(entries map[string]model.TrackingEntry, now time.Time, window time.Duration) int {
	removed := 0
	for key, e := range entries {
		if !e.ActiveAt(now, window) {
			delete(entries, key)
			removed++
		}
	}
	return removed
}
