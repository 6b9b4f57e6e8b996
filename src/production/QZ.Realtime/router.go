package realtime

import (
	"context"
	"errors"
	"time"

	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

// Session is the per-connection handling state. A session starts
// anonymous; the first valid register frame binds it to a device id.
type Session struct {
	sink     Sink
	deviceID string
}

// NewSession wraps a freshly accepted connection
func NewSession(sink Sink) *Session {
	return &Session{sink: sink}
}

// DeviceID returns the bound device id, empty before registration
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Router is the single entry point for inbound frames. It owns every
// business rule of the coordination protocol; registry, room table and
// delivery stay pure bookkeeping.
//
// Frames for one session arrive from a single read loop, so handling
// per device is serialized; handling across devices is concurrent and
// relies on the registry/table/room locks.
type Router struct {
	registry  *Registry
	rooms     *RoomTable
	delivery  *Delivery
	verdicts  *VerdictResolver
	scheduler *DeleteScheduler
	cfg       *config.RealtimeConfig
	logger    *logger.Logger

	// now is the clock; swapped in tests
	now func() time.Time
}

func NewRouter(registry *Registry, rooms *RoomTable, delivery *Delivery, verdicts *VerdictResolver, scheduler *DeleteScheduler, cfg *config.RealtimeConfig, log *logger.Logger) *Router {
	return &Router{
		registry:  registry,
		rooms:     rooms,
		delivery:  delivery,
		verdicts:  verdicts,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    log.WithComponent("router"),
		now:       time.Now,
	}
}

// HandleFrame processes one inbound wire frame for a session. Every
// failure mode answers the sender with an error frame; the connection
// itself stays open.
func (r *Router) HandleFrame(s *Session, raw []byte) {
	msg, err := qzmodels.DecodeInbound(raw)
	if err != nil {
		var unknown *qzmodels.UnknownTypeError
		if errors.As(err, &unknown) {
			r.replyError(s, "Tipo de mensagem desconhecido: "+unknown.Type)
		} else {
			r.logger.Debug("Malformed frame: " + err.Error())
			r.replyError(s, "Mensagem inválida")
		}
		return
	}

	if s.deviceID != "" {
		r.registry.Touch(s.deviceID)
	}

	switch m := msg.(type) {
	case *qzmodels.RegisterMessage:
		r.handleRegister(s, m)
	case *qzmodels.CreateRoomMessage:
		r.handleCreateRoom(s)
	case *qzmodels.JoinRoomMessage:
		r.handleJoinRoom(s, m)
	case *qzmodels.StartQuestionMessage:
		r.handleStartQuestion(s, m)
	case *qzmodels.ButtonPressMessage:
		r.handleButtonPress(s, m)
	case *qzmodels.EndGameMessage:
		r.handleEndGame(s, m)
	case *qzmodels.PingMessage:
		r.handlePing(s)
	}
}

// HandleDisconnect is the sole cancellation signal for a session:
// socket close, protocol teardown or eviction all end up here. It
// synchronously removes the device from its room and cascades a host
// disconnect into room teardown.
func (r *Router) HandleDisconnect(s *Session) {
	if s.deviceID == "" {
		_ = s.sink.Close()
		return
	}

	// A reconnect may have taken over this device id; the stale
	// connection must not tear down the fresh registration.
	if !r.registry.SinkMatches(s.deviceID, s.sink) {
		_ = s.sink.Close()
		return
	}

	r.dropDevice(s.deviceID)
}

// EvictDevice removes an inactive device the same way a disconnect
// would. Called by the sweeper.
func (r *Router) EvictDevice(deviceID string) {
	r.dropDevice(deviceID)
}

// HandlePong records transport-level liveness for a session
func (r *Router) HandlePong(s *Session) {
	if s.deviceID != "" {
		r.registry.Touch(s.deviceID)
	}
}

func (r *Router) handleRegister(s *Session, m *qzmodels.RegisterMessage) {
	if m.MAC == "" {
		r.replyError(s, "Campo 'mac' é obrigatório")
		return
	}

	id := qzmodels.DeviceIDFromToken(m.MAC)
	if s.deviceID != "" && s.deviceID != id {
		r.replyError(s, "Dispositivo já registrado nesta conexão")
		return
	}

	device := r.registry.Register(m.MAC, m.Device, s.sink)
	s.deviceID = device.DeviceID

	r.logger.WithDeviceID(device.DeviceID).Info("Device registered as " + device.Kind)

	r.delivery.SendTo(s.sink, qzmodels.Registered{
		Type:          qzmodels.TypeRegistered,
		DeviceID:      device.DeviceID,
		ServerTime:    r.now().UnixMilli(),
		IsRealArduino: device.IsRealArduino(),
	})
}

func (r *Router) handleCreateRoom(s *Session) {
	deviceID, ok := r.requireDevice(s)
	if !ok {
		return
	}

	if r.registry.RoomOf(deviceID) != "" {
		r.replyError(s, ErrAlreadyInRoom.Error())
		return
	}

	room := r.rooms.Create(deviceID, r.now())
	r.registry.SetRoom(deviceID, room.ID)

	r.delivery.Send(deviceID, qzmodels.RoomCreated{
		Type:     qzmodels.TypeRoomCreated,
		RoomID:   room.ID,
		RoomCode: room.Code,
	})
}

func (r *Router) handleJoinRoom(s *Session, m *qzmodels.JoinRoomMessage) {
	deviceID, ok := r.requireDevice(s)
	if !ok {
		return
	}

	if m.RoomCode == "" {
		r.replyError(s, "Campo 'room_code' é obrigatório")
		return
	}
	if r.registry.RoomOf(deviceID) != "" {
		r.replyError(s, ErrAlreadyInRoom.Error())
		return
	}

	room, found := r.rooms.GetByCode(m.RoomCode)
	if !found {
		r.replyError(s, ErrRoomNotFound.Error())
		return
	}

	total, err := room.AddPlayer(deviceID)
	if err != nil {
		r.replyError(s, err.Error())
		return
	}
	r.registry.SetRoom(deviceID, room.ID)

	r.logger.WithRoomID(room.ID).WithDeviceID(deviceID).Info("Device joined room")

	r.delivery.Send(deviceID, qzmodels.RoomJoined{
		Type:         qzmodels.TypeRoomJoined,
		RoomID:       room.ID,
		RoomCode:     room.Code,
		HostDeviceID: room.HostDeviceID,
		TotalPlayers: total,
	})

	// Every member sees the join, the new member included
	r.delivery.Broadcast(room, qzmodels.PlayerJoined{
		Type:         qzmodels.TypePlayerJoined,
		DeviceID:     deviceID,
		TotalPlayers: total,
	}, "")
}

func (r *Router) handleStartQuestion(s *Session, m *qzmodels.StartQuestionMessage) {
	deviceID, ok := r.requireDevice(s)
	if !ok {
		return
	}

	if m.QuestionID == "" {
		r.replyError(s, "Campo 'question_id' é obrigatório")
		return
	}

	room, ok := r.requireRoom(s, deviceID)
	if !ok {
		return
	}

	startTime := r.now()
	if err := room.StartQuestion(deviceID, m.QuestionID, startTime); err != nil {
		r.replyError(s, err.Error())
		return
	}

	r.logger.WithRoomID(room.ID).Info("Question " + m.QuestionID + " started")

	// The broadcast start instant is the authoritative reference every
	// member measures response time against, so client clock skew never
	// enters the comparison between players.
	r.delivery.Broadcast(room, qzmodels.QuestionStart{
		Type:         qzmodels.TypeQuestionStart,
		QuestionID:   m.QuestionID,
		QuestionData: m.QuestionData,
		StartTime:    startTime.UnixMilli(),
	}, "")
}

func (r *Router) handleButtonPress(s *Session, m *qzmodels.ButtonPressMessage) {
	deviceID, ok := r.requireDevice(s)
	if !ok {
		return
	}

	room, ok := r.requireRoom(s, deviceID)
	if !ok {
		return
	}

	questionID, startTime, err := room.ActiveQuestion()
	if err != nil {
		r.replyError(s, err.Error())
		return
	}

	option, buzz, err := ButtonOption(m.Button)
	if err != nil {
		r.replyError(s, err.Error())
		return
	}

	responseTime := (m.Timestamp - float64(startTime.UnixMilli())) / 1000.0
	if responseTime < 0 {
		// Client clock behind the server: report zero, never negative
		r.logger.WithDeviceID(deviceID).Warn("Negative response time clamped to zero")
		responseTime = 0
	}

	if buzz {
		r.delivery.Send(deviceID, qzmodels.BuzzRegistered{
			Type:         qzmodels.TypeBuzzRegistered,
			QuestionID:   questionID,
			ResponseTime: responseTime,
		})
		r.delivery.Broadcast(room, qzmodels.PlayerAnswered{
			Type:         qzmodels.TypePlayerAnswered,
			DeviceID:     deviceID,
			QuestionID:   questionID,
			Buzz:         true,
			ResponseTime: responseTime,
		}, deviceID)
		return
	}

	correct, err := r.verdicts.Resolve(context.Background(), questionID, option)
	if err != nil {
		// Degraded verdict: the player still gets an answer
		r.logger.WithDeviceID(deviceID).ErrorWithError(err, "Verdict lookup failed, treating answer as wrong")
		correct = false
	}
	r.verdicts.RecordAsync(questionID, deviceID, correct, responseTime)

	verdictType := qzmodels.TypeAnswerWrong
	if correct {
		verdictType = qzmodels.TypeAnswerCorrect
	}

	r.delivery.Send(deviceID, qzmodels.AnswerVerdict{
		Type:         verdictType,
		QuestionID:   questionID,
		ResponseTime: responseTime,
	})
	r.delivery.Broadcast(room, qzmodels.PlayerAnswered{
		Type:         qzmodels.TypePlayerAnswered,
		DeviceID:     deviceID,
		QuestionID:   questionID,
		Correct:      correct,
		ResponseTime: responseTime,
	}, deviceID)
}

func (r *Router) handleEndGame(s *Session, m *qzmodels.EndGameMessage) {
	deviceID, ok := r.requireDevice(s)
	if !ok {
		return
	}

	room, ok := r.requireRoom(s, deviceID)
	if !ok {
		return
	}

	if err := room.Finish(deviceID); err != nil {
		r.replyError(s, err.Error())
		return
	}

	r.logger.WithRoomID(room.ID).Info("Game ended by host")

	r.delivery.Broadcast(room, qzmodels.GameEnd{
		Type:       qzmodels.TypeGameEnd,
		FinalStats: m.Stats,
	}, "")

	// Grace period before the room becomes unreachable, so late reads
	// of the final stats still resolve
	roomID := room.ID
	r.scheduler.Schedule(roomID, r.cfg.EndGameGracePeriod, func() {
		r.reapRoom(roomID)
	})
}

func (r *Router) handlePing(s *Session) {
	r.delivery.SendTo(s.sink, qzmodels.Pong{
		Type:       qzmodels.TypePong,
		ServerTime: r.now().UnixMilli(),
	})
}

// dropDevice removes a device from the registry and its room, closing
// the connection and cascading host departure into room teardown
func (r *Router) dropDevice(deviceID string) {
	roomID := r.registry.RoomOf(deviceID)
	r.registry.Remove(deviceID)

	if roomID == "" {
		return
	}

	room, ok := r.rooms.Get(roomID)
	if !ok {
		return
	}

	_, wasHost := room.RemovePlayer(deviceID)
	if wasHost {
		r.teardownRoom(room, "Host desconectou")
		return
	}

	r.logger.WithRoomID(roomID).WithDeviceID(deviceID).Info("Device left room")
	// An emptied room is reclaimed by the eviction sweep
}

// teardownRoom closes a room immediately: remaining members are told
// once, unlinked, and the room becomes unresolvable by id and code
func (r *Router) teardownRoom(room *Room, reason string) {
	room.MarkClosed()
	r.scheduler.Cancel(room.ID)

	closed := qzmodels.RoomClosed{Type: qzmodels.TypeRoomClosed, Reason: reason}
	for _, memberID := range room.Players() {
		r.delivery.Send(memberID, closed)
		r.registry.ClearRoomIf(memberID, room.ID)
	}

	r.rooms.Remove(room.ID)
	r.logger.WithRoomID(room.ID).Info("Room closed: " + reason)
}

// reapRoom deletes a finished room after the grace period without
// notifying anyone; members simply stop resolving it
func (r *Router) reapRoom(roomID string) {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return
	}
	room.MarkClosed()

	for _, memberID := range room.Players() {
		r.registry.ClearRoomIf(memberID, roomID)
	}
	r.rooms.Remove(roomID)
	r.logger.WithRoomID(roomID).Info("Finished room reclaimed")
}

// requireDevice resolves the session's device, answering the frame
// with an error when the session never registered
func (r *Router) requireDevice(s *Session) (string, bool) {
	if s.deviceID == "" {
		r.replyError(s, ErrNotRegistered.Error())
		return "", false
	}
	if _, ok := r.registry.Get(s.deviceID); !ok {
		r.replyError(s, ErrNotRegistered.Error())
		return "", false
	}
	return s.deviceID, true
}

// requireRoom resolves the device's current room
func (r *Router) requireRoom(s *Session, deviceID string) (*Room, bool) {
	roomID := r.registry.RoomOf(deviceID)
	if roomID == "" {
		r.replyError(s, ErrNotInRoom.Error())
		return nil, false
	}
	room, ok := r.rooms.Get(roomID)
	if !ok {
		r.replyError(s, ErrRoomNotFound.Error())
		return nil, false
	}
	return room, true
}

func (r *Router) replyError(s *Session, message string) {
	r.delivery.SendTo(s.sink, qzmodels.NewErrorReply(message))
}
