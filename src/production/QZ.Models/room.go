package qzmodels

// RoomStatus is the lifecycle state of a physical room.
//
// The machine only advances:
//
//	waiting → playing → finished
//
// A room in any state can be deleted outright (host disconnect, idle
// eviction, post-game grace expiry); deletion is removal, not a status.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"  // accepting joins
	StatusPlaying  RoomStatus = "playing"  // a question is live
	StatusFinished RoomStatus = "finished" // match over, grace period running
)
