package survey

import (
	"sync"
	"time"
)

const (
	DefaultReminderWindow = 60 * time.Second
	DefaultTimeoutWindow  = 120 * time.Second
)

// TimeoutHandler receives timer firings. gen identifies the Arm call that
// scheduled the timer; handlers confirm it with TimeoutScheduler.Current while
// holding the conversation slot, which drops firings that lost a race with a
// re-arm or cancel.
type TimeoutHandler interface {
	Remind(id string, gen uint64)
	Expire(id string, gen uint64)
}

// TimeoutScheduler owns the reminder and hard-timeout timers of every active
// conversation. Both timers of a pair are measured from the same Arm call.
type TimeoutScheduler struct {
	reminder time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	pairs   map[string]*timerPair
	seq     uint64
	handler TimeoutHandler
}

type timerPair struct {
	gen      uint64
	reminder *time.Timer
	timeout  *time.Timer
}

func (p *timerPair) stop() {
	p.reminder.Stop()
	p.timeout.Stop()
}

// NewTimeoutScheduler creates a scheduler. Non-positive windows take the
// defaults (60s reminder, 120s timeout).
func NewTimeoutScheduler(reminder, timeout time.Duration) *TimeoutScheduler {
	if reminder <= 0 {
		reminder = DefaultReminderWindow
	}
	if timeout <= 0 {
		timeout = DefaultTimeoutWindow
	}
	return &TimeoutScheduler{
		reminder: reminder,
		timeout:  timeout,
		pairs:    make(map[string]*timerPair),
	}
}

// SetHandler installs the receiver of timer firings.
func (s *TimeoutScheduler) SetHandler(h TimeoutHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Arm cancels any pair armed for id and schedules a fresh one. It returns the
// generation of the new pair.
func (s *TimeoutScheduler) Arm(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pairs[id]; ok {
		old.stop()
	}
	s.seq++
	gen := s.seq
	s.pairs[id] = &timerPair{
		gen:      gen,
		reminder: time.AfterFunc(s.reminder, func() { s.fire(id, gen, false) }),
		timeout:  time.AfterFunc(s.timeout, func() { s.fire(id, gen, true) }),
	}
	return gen
}

// Cancel stops both timers for id. It is a no-op if nothing is armed.
func (s *TimeoutScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pairs[id]; ok {
		p.stop()
		delete(s.pairs, id)
	}
}

// CancelIfCurrent cancels the pair for id only if it is still generation gen.
func (s *TimeoutScheduler) CancelIfCurrent(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[id]
	if !ok || p.gen != gen {
		return false
	}
	p.stop()
	delete(s.pairs, id)
	return true
}

// Current reports whether gen is the live pair for id.
func (s *TimeoutScheduler) Current(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[id]
	return ok && p.gen == gen
}

// Armed reports whether id has a live timer pair.
func (s *TimeoutScheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pairs[id]
	return ok
}

// Len returns the number of armed pairs.
func (s *TimeoutScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

// Stop cancels every armed pair.
func (s *TimeoutScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pairs {
		p.stop()
		delete(s.pairs, id)
	}
}

func (s *TimeoutScheduler) fire(id string, gen uint64, expire bool) {
	s.mu.Lock()
	p, ok := s.pairs[id]
	live := ok && p.gen == gen
	h := s.handler
	s.mu.Unlock()

	if !live || h == nil {
		return
	}
	if expire {
		h.Expire(id, gen)
	} else {
		h.Remind(id, gen)
	}
}
