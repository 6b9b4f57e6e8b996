package qzmodels

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types accepted over a device connection
const (
	TypeRegister      = "register"
	TypeCreateRoom    = "create_room"
	TypeJoinRoom      = "join_room"
	TypeStartQuestion = "start_question"
	TypeButtonPress   = "button_press"
	TypeEndGame       = "end_game"
	TypePing          = "ping"
)

// Outbound frame types
const (
	TypeRegistered     = "registered"
	TypeRoomCreated    = "room_created"
	TypeRoomJoined     = "room_joined"
	TypePlayerJoined   = "player_joined"
	TypeQuestionStart  = "question_start"
	TypeAnswerCorrect  = "answer_correct"
	TypeAnswerWrong    = "answer_wrong"
	TypeBuzzRegistered = "buzz_registered"
	TypePlayerAnswered = "player_answered"
	TypeGameEnd        = "game_end"
	TypeRoomClosed     = "room_closed"
	TypePong           = "pong"
	TypeError          = "error"
)

// Inbound is implemented by every message kind a device may send.
// Dispatch over it is an exhaustive type switch; adding a kind means
// adding a case, not extending a string switch.
type Inbound interface {
	inbound()
}

// RegisterMessage announces a device after the socket opens.
// Device carries the declared kind ("arduino", "web_client", ...),
// MAC the identifier token the device id is derived from.
type RegisterMessage struct {
	Device string `json:"device"`
	MAC    string `json:"mac"`
}

// CreateRoomMessage asks for a fresh room with the sender as host
type CreateRoomMessage struct{}

// JoinRoomMessage joins an open room by its shareable code
type JoinRoomMessage struct {
	RoomCode string `json:"room_code"`
}

// StartQuestionMessage begins a question round (host only).
// QuestionData is relayed to the members untouched.
type StartQuestionMessage struct {
	QuestionID   string          `json:"question_id"`
	QuestionData json.RawMessage `json:"question_data"`
}

// ButtonPressMessage submits an answer. Timestamp is the client clock
// in epoch milliseconds at the moment of the press.
type ButtonPressMessage struct {
	Button    string  `json:"button"`
	Timestamp float64 `json:"timestamp"`
}

// EndGameMessage finishes the match (host only)
type EndGameMessage struct {
	Stats json.RawMessage `json:"stats,omitempty"`
}

// PingMessage is the application-level keep-alive
type PingMessage struct{}

func (*RegisterMessage) inbound()      {}
func (*CreateRoomMessage) inbound()    {}
func (*JoinRoomMessage) inbound()      {}
func (*StartQuestionMessage) inbound() {}
func (*ButtonPressMessage) inbound()   {}
func (*EndGameMessage) inbound()       {}
func (*PingMessage) inbound()          {}

// UnknownTypeError reports a frame whose type field names no known kind.
// The connection survives it; the sender gets an error frame.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses one wire frame into its typed message
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var msg Inbound
	switch env.Type {
	case TypeRegister:
		msg = &RegisterMessage{}
	case TypeCreateRoom:
		msg = &CreateRoomMessage{}
	case TypeJoinRoom:
		msg = &JoinRoomMessage{}
	case TypeStartQuestion:
		msg = &StartQuestionMessage{}
	case TypeButtonPress:
		msg = &ButtonPressMessage{}
	case TypeEndGame:
		msg = &EndGameMessage{}
	case TypePing:
		msg = &PingMessage{}
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", env.Type, err)
	}
	return msg, nil
}

// Outbound frames. Each carries its own type tag so it can be handed
// straight to the delivery layer.

// Registered acknowledges a register frame
type Registered struct {
	Type          string `json:"type"`
	DeviceID      string `json:"device_id"`
	ServerTime    int64  `json:"server_time"`
	IsRealArduino bool   `json:"is_real_arduino"`
}

// RoomCreated acknowledges create_room
type RoomCreated struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	RoomCode string `json:"room_code"`
}

// RoomJoined acknowledges join_room to the joiner
type RoomJoined struct {
	Type         string `json:"type"`
	RoomID       string `json:"room_id"`
	RoomCode     string `json:"room_code"`
	HostDeviceID string `json:"host_device_id"`
	TotalPlayers int    `json:"total_players"`
}

// PlayerJoined is broadcast to every member, joiner included
type PlayerJoined struct {
	Type         string `json:"type"`
	DeviceID     string `json:"device_id"`
	TotalPlayers int    `json:"total_players"`
}

// QuestionStart relays the question payload with the authoritative
// start instant (epoch milliseconds) members measure response time from
type QuestionStart struct {
	Type         string          `json:"type"`
	QuestionID   string          `json:"question_id"`
	QuestionData json.RawMessage `json:"question_data"`
	StartTime    int64           `json:"start_time"`
}

// AnswerVerdict is the private reply to the device that pressed a button.
// Type is answer_correct or answer_wrong.
type AnswerVerdict struct {
	Type         string  `json:"type"`
	QuestionID   string  `json:"question_id"`
	ResponseTime float64 `json:"response_time"`
}

// BuzzRegistered is the private reply to a FAST (buzz-in) press
type BuzzRegistered struct {
	Type         string  `json:"type"`
	QuestionID   string  `json:"question_id"`
	ResponseTime float64 `json:"response_time"`
}

// PlayerAnswered is broadcast to the room, excluding the answering device
type PlayerAnswered struct {
	Type         string  `json:"type"`
	DeviceID     string  `json:"device_id"`
	QuestionID   string  `json:"question_id"`
	Correct      bool    `json:"correct"`
	Buzz         bool    `json:"buzz,omitempty"`
	ResponseTime float64 `json:"response_time"`
}

// GameEnd broadcasts the final stats provided by the host
type GameEnd struct {
	Type       string          `json:"type"`
	FinalStats json.RawMessage `json:"final_stats,omitempty"`
}

// RoomClosed tells remaining members their room is gone
type RoomClosed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Pong answers an application-level ping
type Pong struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
}

// ErrorReply carries a validation failure back to the sender only
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorReply builds an error frame
func NewErrorReply(message string) ErrorReply {
	return ErrorReply{Type: TypeError, Message: message}
}
