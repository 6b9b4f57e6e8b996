package realtime

import (
	"sync"
	"time"

	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

// Room is one short-lived game session: a host, its members, and the
// question currently in play.
//
// State machine:
//
//	waiting --start_question--> playing --end_game--> finished
//
// Status never regresses. start_question is also legal while already
// playing (next question of the same match) and resets the reference
// start instant. Deletion is handled outside the room: host disconnect,
// idle eviction, or the post-end_game grace timer.
//
// Each room carries its own lock, so concurrent handlers for different
// rooms never serialize against each other.
type Room struct {
	ID           string
	Code         string
	HostDeviceID string
	CreatedAt    time.Time

	mu                sync.RWMutex
	status            qzmodels.RoomStatus
	closed            bool
	players           map[string]struct{}
	currentQuestionID string
	questionStartTime time.Time
}

func newRoom(id, code, hostDeviceID string, now time.Time) *Room {
	return &Room{
		ID:           id,
		Code:         code,
		HostDeviceID: hostDeviceID,
		CreatedAt:    now,
		status:       qzmodels.StatusWaiting,
		players:      map[string]struct{}{hostDeviceID: {}},
	}
}

// Status returns the current lifecycle state
func (r *Room) Status() qzmodels.RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Players returns a snapshot of the member device ids, host included
func (r *Room) Players() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.players))
	for id := range r.players {
		members = append(members, id)
	}
	return members
}

// PlayerCount returns the number of members
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// HasPlayer reports membership
func (r *Room) HasPlayer(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.players[deviceID]
	return ok
}

// AddPlayer admits a device while the room is still waiting. Returns
// the member count after the join.
func (r *Room) AddPlayer(deviceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A join that resolved the room just before its teardown must not
	// land a member in a room no longer reachable by anyone
	if r.closed {
		return 0, ErrRoomNotFound
	}
	if r.status != qzmodels.StatusWaiting {
		return 0, ErrRoomNotWaiting
	}
	if _, exists := r.players[deviceID]; exists {
		return 0, ErrAlreadyJoined
	}

	r.players[deviceID] = struct{}{}
	return len(r.players), nil
}

// RemovePlayer drops a member. Reports whether the room is now empty
// and whether the removed device was the host.
func (r *Room) RemovePlayer(deviceID string) (empty bool, wasHost bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.players, deviceID)
	return len(r.players) == 0, deviceID == r.HostDeviceID
}

// StartQuestion begins a question round. Host only; rejected once the
// game is finished. The recorded instant is the single source of truth
// for response-time measurement.
func (r *Room) StartQuestion(deviceID, questionID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deviceID != r.HostDeviceID {
		return ErrNotHost
	}
	if r.status == qzmodels.StatusFinished {
		return ErrGameFinished
	}

	r.status = qzmodels.StatusPlaying
	r.currentQuestionID = questionID
	r.questionStartTime = now
	return nil
}

// ActiveQuestion returns the question in play and its start instant,
// or ErrNoActiveRound when the room is not playing
func (r *Room) ActiveQuestion() (questionID string, startTime time.Time, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.status != qzmodels.StatusPlaying {
		return "", time.Time{}, ErrNoActiveRound
	}
	return r.currentQuestionID, r.questionStartTime, nil
}

// Finish ends the match. Host only; idempotent calls after the first
// are rejected.
func (r *Room) Finish(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deviceID != r.HostDeviceID {
		return ErrNotHost
	}
	if r.status == qzmodels.StatusFinished {
		return ErrGameFinished
	}

	r.status = qzmodels.StatusFinished
	r.currentQuestionID = ""
	r.questionStartTime = time.Time{}
	return nil
}

// MarkClosed flags the room as torn down. Set before the room leaves
// the table so a join holding a stale reference fails instead of
// binding the joiner to a deleted room.
func (r *Room) MarkClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// IsIdle reports whether the room is empty and older than the given
// threshold, making it eligible for eviction
func (r *Room) IsIdle(now time.Time, threshold time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players) == 0 && now.Sub(r.CreatedAt) > threshold
}
