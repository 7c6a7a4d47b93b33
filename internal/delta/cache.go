// Package delta implements the bandwidth-reduction cache that decides
// whether a parsed command carries new information worth re-emitting to
// downstream transports.
package delta

import (
	"sync"

	"github.com/m8gateway/m8gateway/internal/protocol"
)

const screenClearArea = 320 * 200

type textKey struct{ x, y uint16 }
type rectKey struct{ x, y, w, h uint16 }

// Stats tracks how many commands were sent vs. skipped, independent of
// the cache's own reset lifecycle.
type Stats struct {
	mu      sync.Mutex
	sent    uint64
	skipped uint64
}

func (s *Stats) record(sent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sent {
		s.sent++
	} else {
		s.skipped++
	}
}

// Reset zeroes the counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent, s.skipped = 0, 0
}

// Snapshot is a point-in-time read of the counters plus the derived ratio.
type Snapshot struct {
	Sent    uint64  `json:"sent"`
	Skipped uint64  `json:"skipped"`
	Total   uint64  `json:"total"`
	Ratio   float64 `json:"ratio"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.sent + s.skipped
	ratio := 0.0
	if total > 0 {
		ratio = float64(s.sent) / float64(total)
	}
	return Snapshot{Sent: s.sent, Skipped: s.skipped, Total: total, Ratio: ratio}
}

// Cache memoizes the last-emitted text and rectangle commands per
// position, suppressing re-emission of commands that would not change
// what an idempotent consumer has already applied.
type Cache struct {
	mu    sync.Mutex
	text  map[textKey]protocol.Text
	rects map[rectKey]protocol.Rectangle
	stats Stats
}

// New returns an empty delta cache.
func New() *Cache {
	return &Cache{
		text:  make(map[textKey]protocol.Text),
		rects: make(map[rectKey]protocol.Rectangle),
	}
}

// Stats returns the cache's running sent/skipped statistics.
func (c *Cache) Stats() *Stats {
	return &c.stats
}

// ShouldSend reports whether cmd carries new information and must be
// forwarded downstream, atomically updating the cache's memoized state.
// Wave, Joypad and System commands are always forwarded; they carry no
// idempotent re-application cost worth suppressing.
func (c *Cache) ShouldSend(cmd protocol.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var send bool
	switch cmd.Kind {
	case protocol.KindText:
		send = c.shouldSendText(cmd.Text)
	case protocol.KindRectangle:
		send = c.shouldSendRectangle(cmd.Rectangle)
	default:
		send = true
	}
	c.stats.record(send)
	return send
}

func (c *Cache) shouldSendText(t protocol.Text) bool {
	key := textKey{t.X, t.Y}
	if cached, ok := c.text[key]; ok {
		if cached.CharCode == t.CharCode && cached.FG == t.FG && cached.BG == t.BG {
			return false
		}
	}
	c.text[key] = t
	return true
}

func (c *Cache) shouldSendRectangle(r protocol.Rectangle) bool {
	if r.Area() >= screenClearArea {
		c.text = make(map[textKey]protocol.Text)
		c.rects = make(map[rectKey]protocol.Rectangle)
		return true
	}
	key := rectKey{r.X, r.Y, r.W, r.H}
	if cached, ok := c.rects[key]; ok {
		if cached.Color == r.Color {
			return false
		}
	}
	c.rects[key] = r
	return true
}

// Reset empties both memoization maps unconditionally, without touching
// the sent/skipped statistics.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = make(map[textKey]protocol.Text)
	c.rects = make(map[rectKey]protocol.Rectangle)
}
