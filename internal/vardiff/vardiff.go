// Package vardiff tracks per-channel share cadence and decides when a
// channel's difficulty should be retargeted. Slots are keyed by the
// (downstream, channel) pair because one downstream connection can carry
// many mining channels.
package vardiff

import (
	"fmt"
	"sync"
	"time"
)

// Key identifies one variance-tracking slot.
type Key struct {
	DownstreamID uint64
	ChannelID    uint32
}

// String returns the key's canonical form, also used for store lookups.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.DownstreamID, k.ChannelID)
}

// Config tunes the retarget decision.
type Config struct {
	// TargetInterval is the desired time between shares.
	TargetInterval time.Duration
	// RetargetWindow is the minimum observation period before adjusting.
	RetargetWindow time.Duration
	// MinDifficulty and MaxDifficulty bound the suggested difficulty.
	MinDifficulty float64
	MaxDifficulty float64
}

// DefaultConfig returns the tuning used when none is configured.
func DefaultConfig() Config {
	return Config{
		TargetInterval: 30 * time.Second,
		RetargetWindow: 90 * time.Second,
		MinDifficulty:  1.0,
		MaxDifficulty:  1_000_000.0,
	}
}

type slot struct {
	difficulty    float64
	shareCount    int64
	windowStart   time.Time
	lastShareTime time.Time
}

// Tracker holds the live variance-tracking slots.
type Tracker struct {
	config Config
	now    func() time.Time

	mu    sync.Mutex
	slots map[Key]*slot
}

// NewTracker creates a tracker with the given tuning.
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config: config,
		now:    time.Now,
		slots:  make(map[Key]*slot),
	}
}

// Open registers a slot with its starting difficulty. Reopening an existing
// key resets its window.
func (t *Tracker) Open(key Key, difficulty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots[key] = &slot{
		difficulty:  difficulty,
		windowStart: t.now(),
	}
}

// Close removes a slot, typically when the owning channel or connection
// goes away.
func (t *Tracker) Close(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, key)
}

// RecordShare notes one accepted share for the slot. Unknown keys are
// ignored; shares can race with channel teardown.
func (t *Tracker) RecordShare(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		return
	}
	s.shareCount++
	s.lastShareTime = t.now()
}

// Difficulty returns the slot's current difficulty.
func (t *Tracker) Difficulty(key Key) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		return 0, false
	}
	return s.difficulty, true
}

// ShouldAdjust reports whether the slot's difficulty should change and what
// the new value would be. A positive decision resets the observation window
// and records the new difficulty.
func (t *Tracker) ShouldAdjust(key Key) (bool, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		return false, 0
	}

	now := t.now()
	elapsed := now.Sub(s.windowStart)
	if elapsed < t.config.RetargetWindow || s.shareCount == 0 {
		return false, s.difficulty
	}

	avgInterval := elapsed / time.Duration(s.shareCount)
	ratio := avgInterval.Seconds() / t.config.TargetInterval.Seconds()

	// 10% hysteresis so a slot hovering near target does not oscillate.
	const minAdjustment = 0.1
	if ratio < 1+minAdjustment && ratio > 1-minAdjustment {
		s.windowStart = now
		s.shareCount = 0
		return false, s.difficulty
	}

	newDifficulty := s.difficulty / ratio
	if newDifficulty < t.config.MinDifficulty {
		newDifficulty = t.config.MinDifficulty
	}
	if newDifficulty > t.config.MaxDifficulty {
		newDifficulty = t.config.MaxDifficulty
	}

	s.difficulty = newDifficulty
	s.windowStart = now
	s.shareCount = 0
	return true, newDifficulty
}

// ActiveSlots returns the number of live slots.
func (t *Tracker) ActiveSlots() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// CloseDownstream removes every slot belonging to a downstream connection
// and returns the closed keys.
func (t *Tracker) CloseDownstream(downstreamID uint64) []Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	var closed []Key
	for key := range t.slots {
		if key.DownstreamID == downstreamID {
			delete(t.slots, key)
			closed = append(closed, key)
		}
	}
	return closed
}
