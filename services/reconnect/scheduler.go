package reconnect

import (
	"sort"
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler collects scheduled callbacks and runs them only when told
// to. It lets tests step through reconnect timing without real timers.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
	seq     int
}

type manualTimer struct {
	scheduler *ManualScheduler
	seq       int
	delay     time.Duration
	f         func()
	stopped   bool
	fired     bool
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTimer{scheduler: s, seq: s.seq, delay: d, f: f}
	s.pending = append(s.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, in scheduling order.
func (s *ManualScheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []time.Duration
	for _, t := range s.active() {
		out = append(out, t.delay)
	}
	return out
}

// FireNext runs the oldest live timer and returns its delay. It returns false
// when nothing is pending.
func (s *ManualScheduler) FireNext() (time.Duration, bool) {
	s.mu.Lock()
	live := s.active()
	if len(live) == 0 {
		s.mu.Unlock()
		return 0, false
	}
	t := live[0]
	t.fired = true
	s.mu.Unlock()

	t.f()
	return t.delay, true
}

func (s *ManualScheduler) active() []*manualTimer {
	var live []*manualTimer
	for _, t := range s.pending {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	return live
}
