package realtime

import (
	"sync"
	"time"

	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
)

// DeleteScheduler holds one cancellable deletion timer per room. The
// end_game grace period runs through it, and any earlier teardown path
// (host disconnect, eviction) cancels the pending timer so a room is
// never deleted twice or after it was already replaced.
type DeleteScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	logger  *logger.Logger
}

func NewDeleteScheduler(log *logger.Logger) *DeleteScheduler {
	return &DeleteScheduler{
		timers: make(map[string]*time.Timer),
		logger: log.WithComponent("delete_scheduler"),
	}
}

// Schedule arms (or re-arms) the deletion timer for a room
func (s *DeleteScheduler) Schedule(roomID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if existing, ok := s.timers[roomID]; ok {
		existing.Stop()
	}

	s.timers[roomID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[roomID]
		delete(s.timers, roomID)
		stopped := s.stopped
		s.mu.Unlock()

		// A cancel that raced the timer firing wins
		if !live || stopped {
			return
		}
		fn()
	})

	s.logger.WithRoomID(roomID).Debug("Deletion scheduled in " + delay.String())
}

// Cancel disarms a pending deletion. Reports whether one was pending.
func (s *DeleteScheduler) Cancel(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[roomID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, roomID)
	return true
}

// Pending reports whether a deletion is armed for the room
func (s *DeleteScheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[roomID]
	return ok
}

// Stop cancels every pending timer. Shutdown path only.
func (s *DeleteScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for roomID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, roomID)
	}
}
