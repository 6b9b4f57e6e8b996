package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const roomCodeLength = 6

// RoomTable owns every open room, indexed by id and by shareable code.
// Codes are unique among open rooms only; once a room is removed its
// code may be handed out again.
type RoomTable struct {
	mu     sync.RWMutex
	rooms  map[string]*Room // roomID -> room
	codes  map[string]string // roomCode -> roomID
	logger *logger.Logger
}

func NewRoomTable(log *logger.Logger) *RoomTable {
	return &RoomTable{
		rooms:  make(map[string]*Room),
		codes:  make(map[string]string),
		logger: log.WithComponent("room_table"),
	}
}

// Create opens a new waiting room hosted by the given device. The room
// id embeds the creation timestamp, so it stays unique even if a code
// is ever reissued.
func (t *RoomTable) Create(hostDeviceID string, now time.Time) *Room {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := generateRoomID(now)
	code := t.generateCodeLocked(now)
	room := newRoom(id, code, hostDeviceID, now)

	t.rooms[id] = room
	t.codes[code] = id

	t.logger.WithRoomID(id).Info("Room created with code " + code)
	return room
}

// Get returns a room by id
func (t *RoomTable) Get(roomID string) (*Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room, ok := t.rooms[roomID]
	return room, ok
}

// GetByCode resolves a shareable code to its room
func (t *RoomTable) GetByCode(code string) (*Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	roomID, ok := t.codes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, false
	}
	room, ok := t.rooms[roomID]
	return room, ok
}

// Remove deletes a room and frees its code
func (t *RoomTable) Remove(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		return false
	}

	delete(t.codes, room.Code)
	delete(t.rooms, roomID)
	return true
}

// Count returns the number of open rooms
func (t *RoomTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

// CountByStatus returns open room counts grouped by lifecycle state
func (t *RoomTable) CountByStatus() map[qzmodels.RoomStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[qzmodels.RoomStatus]int)
	for _, room := range t.rooms {
		counts[room.Status()]++
	}
	return counts
}

// Snapshot returns every open room
func (t *RoomTable) Snapshot() []*Room {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]*Room, 0, len(t.rooms))
	for _, room := range t.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// generateCodeLocked draws 6-character codes until one does not collide
// with a currently open room. Collisions are close to impossible at the
// scale of simultaneous physical rooms, but a reissued code joining the
// wrong quiz would be a terrible failure mode to debug.
func (t *RoomTable) generateCodeLocked(now time.Time) string {
	for attempt := 0; attempt < 100; attempt++ {
		code := randomCode()
		if _, taken := t.codes[code]; !taken {
			return code
		}
	}
	// Practically unreachable; derive a code from the timestamp instead
	return strings.ToUpper(fmt.Sprintf("%06X", now.UnixMilli()&0xFFFFFF))
}

func generateRoomID(now time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("room_%d", now.UnixNano())
	}
	return fmt.Sprintf("room_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}

func randomCode() string {
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		// Random source failure; fall back to the clock
		return fmt.Sprintf("%06X", time.Now().UnixNano()&0xFFFFFF)
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b)
}
