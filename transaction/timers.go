package transaction

import (
	"sync"
	"time"

	"github.com/ghettovoice/siptx/internal/timeutil"
)

// TimerService is the default [Timers] implementation backed by real timers.
// The zero value is ready to use.
type TimerService struct {
	mu     sync.Mutex
	timers map[ID]map[TimerKind]*timeutil.Timer
}

// NewTimerService creates an empty timer service.
func NewTimerService() *TimerService {
	return &TimerService{}
}

// Arm starts the timer kind of the transaction, replacing the running one.
func (s *TimerService) Arm(id ID, kind TimerKind, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timers == nil {
		s.timers = make(map[ID]map[TimerKind]*timeutil.Timer)
	}
	kinds, ok := s.timers[id]
	if !ok {
		kinds = make(map[TimerKind]*timeutil.Timer)
		s.timers[id] = kinds
	}
	if t, ok := kinds[kind]; ok {
		t.Stop()
	}
	kinds[kind] = timeutil.AfterFunc(d, fn)
}

// ReleaseAll stops every timer of the transaction.
func (s *TimerService) ReleaseAll(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers[id] {
		t.Stop()
	}
	delete(s.timers, id)
}

// Running returns the number of running timers of the transaction.
func (s *TimerService) Running(id ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, t := range s.timers[id] {
		if t.State() == timeutil.TimerStateRunning {
			n++
		}
	}
	return n
}
