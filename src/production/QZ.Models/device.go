package qzmodels

import (
	"strings"
	"time"
)

// Device is one connected participant: a physical button console or a
// web quiz client. The connection handle itself is owned by the
// registry, never by the model.
type Device struct {
	DeviceID     string    `json:"device_id"`
	Kind         string    `json:"kind"`
	RoomID       string    `json:"room_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// DeviceIDFromToken derives the stable device id from the MAC-like
// token supplied at registration. The derivation is deterministic so a
// reconnecting console maps back to the same id.
func DeviceIDFromToken(token string) string {
	return "device_" + strings.ReplaceAll(token, ":", "_")
}

// IsRealArduino reports whether the declared kind identifies a genuine
// hardware console rather than a software simulator
func (d *Device) IsRealArduino() bool {
	return strings.Contains(strings.ToLower(d.Kind), "arduino")
}
