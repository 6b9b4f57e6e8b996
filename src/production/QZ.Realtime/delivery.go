package realtime

import (
	"encoding/json"

	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
)

// Sink is the write side of one device connection. The registry owns
// the handle; everything else talks through this interface, which also
// keeps the router testable without sockets.
type Sink interface {
	// Push enqueues one serialized frame. It must not block; a closed
	// sink returns an error the caller is free to ignore.
	Push(payload []byte) error

	// Ping sends a transport-level keep-alive
	Ping() error

	// Close tears the connection down. Idempotent.
	Close() error

	// IsOpen reports whether the sink still accepts frames
	IsOpen() bool
}

// Delivery serializes payloads and fans them out to devices. Delivery
// is best-effort: a closed or saturated connection is skipped silently,
// the sweeper reconciles dead connections later.
type Delivery struct {
	registry *Registry
	logger   *logger.Logger
}

func NewDelivery(registry *Registry, log *logger.Logger) *Delivery {
	return &Delivery{
		registry: registry,
		logger:   log.WithComponent("delivery"),
	}
}

// Send delivers one payload to a single device
func (d *Delivery) Send(deviceID string, payload any) {
	sink, ok := d.registry.SinkFor(deviceID)
	if !ok {
		return
	}
	d.push(deviceID, sink, payload)
}

// SendTo delivers one payload to a raw sink. Used for replies on
// connections that have not registered yet.
func (d *Delivery) SendTo(sink Sink, payload any) {
	d.push("", sink, payload)
}

// Broadcast delivers one payload to every member of a room, optionally
// skipping one device id (the usual sender-echo exclusion). Ordering is
// only guaranteed per recipient, not across recipients.
func (d *Delivery) Broadcast(room *Room, payload any, excludeID string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.ErrorWithError(err, "Failed to serialize broadcast payload")
		return
	}

	for _, deviceID := range room.Players() {
		if deviceID == excludeID {
			continue
		}
		sink, ok := d.registry.SinkFor(deviceID)
		if !ok || !sink.IsOpen() {
			continue
		}
		if err := sink.Push(raw); err != nil {
			d.logger.WithDeviceID(deviceID).Debug("Dropped broadcast frame: " + err.Error())
		}
	}
}

func (d *Delivery) push(deviceID string, sink Sink, payload any) {
	if !sink.IsOpen() {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.ErrorWithError(err, "Failed to serialize payload")
		return
	}

	if err := sink.Push(raw); err != nil {
		if deviceID != "" {
			d.logger.WithDeviceID(deviceID).Debug("Dropped frame: " + err.Error())
		}
	}
}
