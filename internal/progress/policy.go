package progress

import (
	"sync"
	"time"

	"mangashelf/pkg/clock"
)

// HistoryPolicy gates history writes: at most one entry per manga per
// Interval while the reader stays on the same chapter. Switching chapter
// always writes.
type HistoryPolicy struct {
	Interval time.Duration
	Clock    clock.Clock

	mu   sync.Mutex
	last map[string]historyMark
}

type historyMark struct {
	chapterID string
	at        time.Time
}

func NewHistoryPolicy(interval time.Duration, clk clock.Clock) *HistoryPolicy {
	return &HistoryPolicy{
		Interval: interval,
		Clock:    clock.OrReal(clk),
		last:     map[string]historyMark{},
	}
}

// Allow reports whether a history entry for (mangaID, chapterID) may be
// written now, and records it if so.
func (p *HistoryPolicy) Allow(mangaID, chapterID string) bool {
	now := p.Clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.last[mangaID]
	if ok && prev.chapterID == chapterID && now.Sub(prev.at) < p.Interval {
		return false
	}
	p.last[mangaID] = historyMark{chapterID: chapterID, at: now}
	return true
}
