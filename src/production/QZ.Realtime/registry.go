package realtime

import (
	"sync"
	"time"

	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

type registryEntry struct {
	device *qzmodels.Device
	sink   Sink
}

// Registry maps device ids to their live connection and liveness
// metadata. Pure bookkeeping: no business rules live here.
//
// Registration is last-wins: a second registration for the same id
// (same console reconnecting, or a simulator reusing a token) closes
// the previous connection and takes over the entry.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*registryEntry
	logger  *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*registryEntry),
		logger:  log.WithComponent("registry"),
	}
}

// Register admits a device under the id derived from its token and
// binds the connection sink to it. Returns the live device record.
func (r *Registry) Register(token, kind string, sink Sink) *qzmodels.Device {
	id := qzmodels.DeviceIDFromToken(token)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	device := &qzmodels.Device{
		DeviceID:     id,
		Kind:         kind,
		ConnectedAt:  now,
		LastActivity: now,
	}

	if old, exists := r.devices[id]; exists {
		if old.sink != sink {
			// Last registration wins
			_ = old.sink.Close()
			r.logger.WithDeviceID(id).Info("Replaced previous connection for device")
		}
		// A reconnecting device is still the same participant: it keeps
		// its room membership, so a later disconnect still cascades
		device.RoomID = old.device.RoomID
	}

	r.devices[id] = &registryEntry{device: device, sink: sink}

	return device
}

// Get returns the device record for an id
func (r *Registry) Get(deviceID string) (*qzmodels.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	return entry.device, true
}

// SinkFor returns the connection sink for an id
func (r *Registry) SinkFor(deviceID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	return entry.sink, true
}

// SinkMatches reports whether the registered sink for an id is the
// given one. A stale connection that lost its registration to a
// reconnect must not clean up the fresh entry on close.
func (r *Registry) SinkMatches(deviceID string, sink Sink) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.devices[deviceID]
	return ok && entry.sink == sink
}

// Touch bumps last_activity. Called for every inbound frame and pong.
func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.devices[deviceID]; ok {
		entry.device.LastActivity = time.Now()
	}
}

// SetRoom records room membership on the device
func (r *Registry) SetRoom(deviceID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.devices[deviceID]; ok {
		entry.device.RoomID = roomID
	}
}

// ClearRoomIf clears the device's room only if it still points at the
// given room (it may have joined another one since)
func (r *Registry) ClearRoomIf(deviceID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.devices[deviceID]; ok && entry.device.RoomID == roomID {
		entry.device.RoomID = ""
	}
}

// RoomOf returns the room the device currently belongs to
func (r *Registry) RoomOf(deviceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.devices[deviceID]; ok {
		return entry.device.RoomID
	}
	return ""
}

// Remove closes the device's connection and forgets it
func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	entry, ok := r.devices[deviceID]
	if ok {
		delete(r.devices, deviceID)
	}
	r.mu.Unlock()

	if ok {
		_ = entry.sink.Close()
	}
}

// Count returns the number of registered devices
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// StaleIDs returns the ids of devices whose last activity predates the
// cutoff instant
func (r *Registry) StaleIDs(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, entry := range r.devices {
		if entry.device.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// EachSink calls fn for every live sink. Used by the ping sweep.
func (r *Registry) EachSink(fn func(deviceID string, sink Sink)) {
	r.mu.RLock()
	sinks := make(map[string]Sink, len(r.devices))
	for id, entry := range r.devices {
		sinks[id] = entry.sink
	}
	r.mu.RUnlock()

	for id, sink := range sinks {
		fn(id, sink)
	}
}

// CloseAll closes every connection and empties the registry. Shutdown
// path only.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.devices
	r.devices = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		_ = entry.sink.Close()
	}
}
