package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

// fakeSink records every frame pushed to it
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	pings  int
	open   bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{open: true}
}

func (s *fakeSink) Push(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errors.New("sink closed")
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSink) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *fakeSink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSink) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// decoded returns every recorded frame as a generic map
func (s *fakeSink) decoded(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]any, 0, len(s.frames))
	for _, raw := range s.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

// lastFrame returns the most recent recorded frame
func (s *fakeSink) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	frames := s.decoded(t)
	require.NotEmpty(t, frames, "expected at least one frame")
	return frames[len(frames)-1]
}

// framesOfType filters recorded frames by their type tag
func (s *fakeSink) framesOfType(t *testing.T, frameType string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range s.decoded(t) {
		if m["type"] == frameType {
			out = append(out, m)
		}
	}
	return out
}

// memQuestionRepo is an in-memory question store
type memQuestionRepo struct {
	mu      sync.Mutex
	answers map[string]int
	err     error
}

func newMemQuestionRepo() *memQuestionRepo {
	return &memQuestionRepo{answers: make(map[string]int)}
}

func (r *memQuestionRepo) GetCorrectOption(_ context.Context, questionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	option, ok := r.answers[questionID]
	if !ok {
		return 0, fmt.Errorf("question %s not found", questionID)
	}
	return option, nil
}

// memUsageRepo records answer attempts in memory
type memUsageRepo struct {
	mu      sync.Mutex
	records []qzmodels.AnswerUsage
	err     error
}

func (r *memUsageRepo) RecordAnswer(_ context.Context, usage qzmodels.AnswerUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, usage)
	return nil
}

func (r *memUsageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memUsageRepo) last() qzmodels.AnswerUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

func testLogger() *logger.Logger {
	nop := zerolog.Nop()
	return &logger.Logger{Logger: &nop}
}

func testConfig() *config.RealtimeConfig {
	return &config.RealtimeConfig{
		PingInterval:        30 * time.Second,
		EvictionInterval:    60 * time.Second,
		DeviceInactiveAfter: 5 * time.Minute,
		RoomIdleAfter:       10 * time.Minute,
		EndGameGracePeriod:  25 * time.Millisecond,
		VerdictTimeout:      time.Second,
		SendBufferSize:      16,
		WriteWait:           time.Second,
		PongWait:            5 * time.Second,
		MaxFrameSize:        65536,
	}
}

// rig bundles a router with all its collaborators for protocol tests
type rig struct {
	router    *Router
	registry  *Registry
	rooms     *RoomTable
	scheduler *DeleteScheduler
	questions *memQuestionRepo
	usage     *memUsageRepo
	clock     time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()

	log := testLogger()
	registry := NewRegistry(log)
	rooms := NewRoomTable(log)
	questions := newMemQuestionRepo()
	usage := &memUsageRepo{}
	cfg := testConfig()
	scheduler := NewDeleteScheduler(log)
	t.Cleanup(scheduler.Stop)

	verdicts := NewVerdictResolver(questions, usage, cfg.VerdictTimeout, log)
	router := NewRouter(registry, rooms, NewDelivery(registry, log), verdicts, scheduler, cfg, log)

	r := &rig{
		router:    router,
		registry:  registry,
		rooms:     rooms,
		scheduler: scheduler,
		questions: questions,
		usage:     usage,
		clock:     time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	router.now = func() time.Time { return r.clock }
	return r
}

func (r *rig) send(s *Session, frame string) {
	r.router.HandleFrame(s, []byte(frame))
}

// connect registers a fresh session under the given token
func (r *rig) connect(t *testing.T, token, kind string) (*Session, *fakeSink) {
	t.Helper()

	sink := newFakeSink()
	s := NewSession(sink)
	r.send(s, fmt.Sprintf(`{"type":"register","device":%q,"mac":%q}`, kind, token))
	require.Equal(t, qzmodels.DeviceIDFromToken(token), s.DeviceID())
	return s, sink
}

// openRoom registers a host and creates a room, returning the join code
func (r *rig) openRoom(t *testing.T, hostToken string) (*Session, *fakeSink, *Room) {
	t.Helper()

	host, sink := r.connect(t, hostToken, "web_client")
	r.send(host, `{"type":"create_room"}`)

	created := sink.framesOfType(t, qzmodels.TypeRoomCreated)
	require.Len(t, created, 1)

	room, ok := r.rooms.Get(created[0]["room_id"].(string))
	require.True(t, ok)
	return host, sink, room
}

func TestRegister(t *testing.T) {
	t.Run("binds session to derived device id", func(t *testing.T) {
		r := newRig(t)
		sink := newFakeSink()
		s := NewSession(sink)

		r.send(s, `{"type":"register","device":"arduino_uno","mac":"AA:BB:CC:DD"}`)

		assert.Equal(t, "device_AA_BB_CC_DD", s.DeviceID())
		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeRegistered, frame["type"])
		assert.Equal(t, "device_AA_BB_CC_DD", frame["device_id"])
		assert.Equal(t, true, frame["is_real_arduino"])
		assert.EqualValues(t, r.clock.UnixMilli(), frame["server_time"])
	})

	t.Run("web client is not a real arduino", func(t *testing.T) {
		r := newRig(t)
		_, sink := r.connect(t, "web-123", "web_client")

		frame := sink.lastFrame(t)
		assert.Equal(t, false, frame["is_real_arduino"])
	})

	t.Run("missing mac is rejected", func(t *testing.T) {
		r := newRig(t)
		sink := newFakeSink()
		s := NewSession(sink)

		r.send(s, `{"type":"register","device":"arduino_uno"}`)

		assert.Empty(t, s.DeviceID())
		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, "Campo 'mac' é obrigatório", frame["message"])
	})

	t.Run("re-register with same token is idempotent", func(t *testing.T) {
		r := newRig(t)
		s, sink := r.connect(t, "AA:BB", "arduino_uno")

		r.send(s, `{"type":"register","device":"arduino_uno","mac":"AA:BB"}`)

		assert.Equal(t, "device_AA_BB", s.DeviceID())
		assert.Len(t, sink.framesOfType(t, qzmodels.TypeRegistered), 2)
		assert.Empty(t, sink.framesOfType(t, qzmodels.TypeError))
	})

	t.Run("re-register with different token on live session is rejected", func(t *testing.T) {
		r := newRig(t)
		s, sink := r.connect(t, "AA:BB", "arduino_uno")

		r.send(s, `{"type":"register","device":"arduino_uno","mac":"CC:DD"}`)

		assert.Equal(t, "device_AA_BB", s.DeviceID())
		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, "Dispositivo já registrado nesta conexão", frame["message"])
	})

	t.Run("reconnect takes over and closes the previous connection", func(t *testing.T) {
		r := newRig(t)
		_, oldSink := r.connect(t, "AA:BB", "arduino_uno")

		fresh, _ := r.connect(t, "AA:BB", "arduino_uno")

		assert.False(t, oldSink.IsOpen())
		sink, ok := r.registry.SinkFor(fresh.DeviceID())
		require.True(t, ok)
		assert.True(t, sink.IsOpen())
	})
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	t.Run("unknown type answers an error and keeps the connection", func(t *testing.T) {
		r := newRig(t)
		s, sink := r.connect(t, "AA:BB", "web_client")

		r.send(s, `{"type":"launch_missiles"}`)

		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, "Tipo de mensagem desconhecido: launch_missiles", frame["message"])
		assert.True(t, sink.IsOpen())

		// Session still works afterwards
		r.send(s, `{"type":"ping"}`)
		assert.Equal(t, qzmodels.TypePong, sink.lastFrame(t)["type"])
	})

	t.Run("malformed json answers a generic error", func(t *testing.T) {
		r := newRig(t)
		s, sink := r.connect(t, "AA:BB", "web_client")

		r.send(s, `{"type":`)

		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, "Mensagem inválida", frame["message"])
	})

	t.Run("operations before registration are rejected", func(t *testing.T) {
		r := newRig(t)
		sink := newFakeSink()
		s := NewSession(sink)

		r.send(s, `{"type":"create_room"}`)

		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, ErrNotRegistered.Error(), frame["message"])
	})
}

func TestCreateRoom(t *testing.T) {
	t.Run("host gets id and shareable code", func(t *testing.T) {
		r := newRig(t)
		host, sink, room := r.openRoom(t, "host-1")

		frame := sink.framesOfType(t, qzmodels.TypeRoomCreated)[0]
		assert.Equal(t, room.ID, frame["room_id"])
		assert.Equal(t, room.Code, frame["room_code"])
		assert.Len(t, room.Code, 6)
		assert.Equal(t, room.ID, r.registry.RoomOf(host.DeviceID()))
		assert.Equal(t, qzmodels.StatusWaiting, room.Status())
	})

	t.Run("device already in a room cannot create another", func(t *testing.T) {
		r := newRig(t)
		host, sink, _ := r.openRoom(t, "host-1")

		r.send(host, `{"type":"create_room"}`)

		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, ErrAlreadyInRoom.Error(), frame["message"])
		assert.Equal(t, 1, r.rooms.Count())
	})
}

func TestJoinRoom(t *testing.T) {
	t.Run("join by code notifies joiner and every member", func(t *testing.T) {
		r := newRig(t)
		host, hostSink, room := r.openRoom(t, "host-1")

		player, playerSink := r.connect(t, "player-1", "arduino_nano")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		joined := playerSink.framesOfType(t, qzmodels.TypeRoomJoined)
		require.Len(t, joined, 1)
		assert.Equal(t, room.ID, joined[0]["room_id"])
		assert.Equal(t, host.DeviceID(), joined[0]["host_device_id"])
		assert.EqualValues(t, 2, joined[0]["total_players"])

		for _, sink := range []*fakeSink{hostSink, playerSink} {
			events := sink.framesOfType(t, qzmodels.TypePlayerJoined)
			require.Len(t, events, 1)
			assert.Equal(t, player.DeviceID(), events[0]["device_id"])
			assert.EqualValues(t, 2, events[0]["total_players"])
		}
		assert.Equal(t, room.ID, r.registry.RoomOf(player.DeviceID()))
	})

	t.Run("code lookup ignores case and surrounding space", func(t *testing.T) {
		r := newRig(t)
		_, _, room := r.openRoom(t, "host-1")

		player, playerSink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":"  %s  "}`, strings.ToLower(room.Code)))

		assert.Len(t, playerSink.framesOfType(t, qzmodels.TypeRoomJoined), 1)
	})

	t.Run("unknown code", func(t *testing.T) {
		r := newRig(t)
		player, sink := r.connect(t, "player-1", "web_client")

		r.send(player, `{"type":"join_room","room_code":"ZZZZZZ"}`)

		frame := sink.lastFrame(t)
		assert.Equal(t, qzmodels.TypeError, frame["type"])
		assert.Equal(t, ErrRoomNotFound.Error(), frame["message"])
	})

	t.Run("missing code", func(t *testing.T) {
		r := newRig(t)
		player, sink := r.connect(t, "player-1", "web_client")

		r.send(player, `{"type":"join_room"}`)

		assert.Equal(t, "Campo 'room_code' é obrigatório", sink.lastFrame(t)["message"])
	})

	t.Run("room already playing rejects joins", func(t *testing.T) {
		r := newRig(t)
		host, _, room := r.openRoom(t, "host-1")
		r.send(host, `{"type":"start_question","question_id":"q1"}`)

		player, sink := r.connect(t, "late-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		assert.Equal(t, ErrRoomNotWaiting.Error(), sink.lastFrame(t)["message"])
		assert.Empty(t, r.registry.RoomOf(player.DeviceID()))
	})
}

func TestStartQuestion(t *testing.T) {
	t.Run("host broadcast carries the authoritative start instant", func(t *testing.T) {
		r := newRig(t)
		host, hostSink, room := r.openRoom(t, "host-1")
		player, playerSink := r.connect(t, "player-1", "arduino_uno")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		r.send(host, `{"type":"start_question","question_id":"q1","question_data":{"text":"2+2?"}}`)

		assert.Equal(t, qzmodels.StatusPlaying, room.Status())
		for _, sink := range []*fakeSink{hostSink, playerSink} {
			frames := sink.framesOfType(t, qzmodels.TypeQuestionStart)
			require.Len(t, frames, 1)
			assert.Equal(t, "q1", frames[0]["question_id"])
			assert.EqualValues(t, r.clock.UnixMilli(), frames[0]["start_time"])
			assert.Equal(t, map[string]any{"text": "2+2?"}, frames[0]["question_data"])
		}
	})

	t.Run("next question while playing resets the reference instant", func(t *testing.T) {
		r := newRig(t)
		host, hostSink, room := r.openRoom(t, "host-1")

		r.send(host, `{"type":"start_question","question_id":"q1"}`)
		r.clock = r.clock.Add(20 * time.Second)
		r.send(host, `{"type":"start_question","question_id":"q2"}`)

		assert.Equal(t, qzmodels.StatusPlaying, room.Status())
		questionID, startTime, err := room.ActiveQuestion()
		require.NoError(t, err)
		assert.Equal(t, "q2", questionID)
		assert.Equal(t, r.clock, startTime)
		assert.Len(t, hostSink.framesOfType(t, qzmodels.TypeQuestionStart), 2)
	})

	t.Run("only the host may start", func(t *testing.T) {
		r := newRig(t)
		_, _, room := r.openRoom(t, "host-1")
		player, sink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		r.send(player, `{"type":"start_question","question_id":"q1"}`)

		assert.Equal(t, ErrNotHost.Error(), sink.lastFrame(t)["message"])
		assert.Equal(t, qzmodels.StatusWaiting, room.Status())
	})

	t.Run("missing question id", func(t *testing.T) {
		r := newRig(t)
		host, sink, _ := r.openRoom(t, "host-1")

		r.send(host, `{"type":"start_question"}`)

		assert.Equal(t, "Campo 'question_id' é obrigatório", sink.lastFrame(t)["message"])
	})

	t.Run("device outside a room cannot start", func(t *testing.T) {
		r := newRig(t)
		lone, sink := r.connect(t, "lone-1", "web_client")

		r.send(lone, `{"type":"start_question","question_id":"q1"}`)

		assert.Equal(t, ErrNotInRoom.Error(), sink.lastFrame(t)["message"])
	})
}

func TestButtonPress(t *testing.T) {
	// playingRoom sets up host+player with question q1 (correct option B)
	playingRoom := func(t *testing.T, r *rig) (host, player *Session, hostSink, playerSink *fakeSink) {
		t.Helper()
		r.questions.answers["q1"] = 1

		host, hostSink, room := r.openRoom(t, "host-1")
		player, playerSink = r.connect(t, "player-1", "arduino_uno")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))
		r.send(host, `{"type":"start_question","question_id":"q1"}`)
		return host, player, hostSink, playerSink
	}

	t.Run("correct answer with measured response time", func(t *testing.T) {
		r := newRig(t)
		_, player, hostSink, playerSink := playingRoom(t, r)

		pressAt := float64(r.clock.UnixMilli()) + 3000
		r.send(player, fmt.Sprintf(`{"type":"button_press","button":"B","timestamp":%v}`, pressAt))

		verdicts := playerSink.framesOfType(t, qzmodels.TypeAnswerCorrect)
		require.Len(t, verdicts, 1)
		assert.Equal(t, "q1", verdicts[0]["question_id"])
		assert.InDelta(t, 3.0, verdicts[0]["response_time"], 0.001)

		// Broadcast excludes the answering device
		assert.Empty(t, playerSink.framesOfType(t, qzmodels.TypePlayerAnswered))
		answered := hostSink.framesOfType(t, qzmodels.TypePlayerAnswered)
		require.Len(t, answered, 1)
		assert.Equal(t, player.DeviceID(), answered[0]["device_id"])
		assert.Equal(t, true, answered[0]["correct"])
		assert.InDelta(t, 3.0, answered[0]["response_time"], 0.001)

		require.Eventually(t, func() bool { return r.usage.count() == 1 }, time.Second, 5*time.Millisecond)
		usage := r.usage.last()
		assert.Equal(t, "q1", usage.QuestionID)
		assert.Equal(t, player.DeviceID(), usage.UserID)
		assert.True(t, usage.WasCorrect)
		assert.InDelta(t, 3.0, usage.TimeSpent, 0.001)
	})

	t.Run("wrong answer", func(t *testing.T) {
		r := newRig(t)
		_, player, hostSink, playerSink := playingRoom(t, r)

		pressAt := float64(r.clock.UnixMilli()) + 1500
		r.send(player, fmt.Sprintf(`{"type":"button_press","button":"D","timestamp":%v}`, pressAt))

		require.Len(t, playerSink.framesOfType(t, qzmodels.TypeAnswerWrong), 1)
		answered := hostSink.framesOfType(t, qzmodels.TypePlayerAnswered)
		require.Len(t, answered, 1)
		assert.Equal(t, false, answered[0]["correct"])
	})

	t.Run("verdict store failure degrades to wrong", func(t *testing.T) {
		r := newRig(t)
		_, player, _, playerSink := playingRoom(t, r)
		r.questions.err = errors.New("store down")

		pressAt := float64(r.clock.UnixMilli()) + 1000
		r.send(player, fmt.Sprintf(`{"type":"button_press","button":"B","timestamp":%v}`, pressAt))

		assert.Len(t, playerSink.framesOfType(t, qzmodels.TypeAnswerWrong), 1)
		assert.Empty(t, playerSink.framesOfType(t, qzmodels.TypeAnswerCorrect))
	})

	t.Run("client clock behind the server clamps to zero", func(t *testing.T) {
		r := newRig(t)
		_, player, _, playerSink := playingRoom(t, r)

		pressAt := float64(r.clock.UnixMilli()) - 4000
		r.send(player, fmt.Sprintf(`{"type":"button_press","button":"B","timestamp":%v}`, pressAt))

		verdicts := playerSink.framesOfType(t, qzmodels.TypeAnswerCorrect)
		require.Len(t, verdicts, 1)
		assert.EqualValues(t, 0, verdicts[0]["response_time"])
	})

	t.Run("buzz press skips the verdict", func(t *testing.T) {
		r := newRig(t)
		_, player, hostSink, playerSink := playingRoom(t, r)

		pressAt := float64(r.clock.UnixMilli()) + 700
		r.send(player, fmt.Sprintf(`{"type":"button_press","button":"FAST","timestamp":%v}`, pressAt))

		buzz := playerSink.framesOfType(t, qzmodels.TypeBuzzRegistered)
		require.Len(t, buzz, 1)
		assert.InDelta(t, 0.7, buzz[0]["response_time"], 0.001)

		answered := hostSink.framesOfType(t, qzmodels.TypePlayerAnswered)
		require.Len(t, answered, 1)
		assert.Equal(t, true, answered[0]["buzz"])

		// A buzz is not an answer attempt for the usage log
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, r.usage.count())
	})

	t.Run("invalid button symbol", func(t *testing.T) {
		r := newRig(t)
		_, player, _, playerSink := playingRoom(t, r)

		r.send(player, `{"type":"button_press","button":"E","timestamp":1}`)

		assert.Equal(t, ErrInvalidButton.Error(), playerSink.lastFrame(t)["message"])
	})

	t.Run("press without an active round", func(t *testing.T) {
		r := newRig(t)
		_, _, room := r.openRoom(t, "host-1")
		player, sink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		r.send(player, `{"type":"button_press","button":"A","timestamp":1}`)

		assert.Equal(t, ErrNoActiveRound.Error(), sink.lastFrame(t)["message"])
	})
}

func TestEndGame(t *testing.T) {
	t.Run("broadcasts final stats and schedules deletion", func(t *testing.T) {
		r := newRig(t)
		host, hostSink, room := r.openRoom(t, "host-1")
		player, playerSink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))
		r.send(host, `{"type":"start_question","question_id":"q1"}`)

		r.send(host, `{"type":"end_game","stats":{"winner":"player-1"}}`)

		assert.Equal(t, qzmodels.StatusFinished, room.Status())
		for _, sink := range []*fakeSink{hostSink, playerSink} {
			frames := sink.framesOfType(t, qzmodels.TypeGameEnd)
			require.Len(t, frames, 1)
			assert.Equal(t, map[string]any{"winner": "player-1"}, frames[0]["final_stats"])
		}
		assert.True(t, r.scheduler.Pending(room.ID))

		// The grace period elapses and the room becomes unresolvable
		require.Eventually(t, func() bool {
			_, found := r.rooms.GetByCode(room.Code)
			return !found
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, r.registry.RoomOf(player.DeviceID()))
	})

	t.Run("only the host may end", func(t *testing.T) {
		r := newRig(t)
		_, _, room := r.openRoom(t, "host-1")
		player, sink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		r.send(player, `{"type":"end_game"}`)

		assert.Equal(t, ErrNotHost.Error(), sink.lastFrame(t)["message"])
	})

	t.Run("second end_game is rejected", func(t *testing.T) {
		r := newRig(t)
		host, sink, _ := r.openRoom(t, "host-1")

		r.send(host, `{"type":"end_game"}`)
		r.send(host, `{"type":"end_game"}`)

		assert.Equal(t, ErrGameFinished.Error(), sink.lastFrame(t)["message"])
		assert.Len(t, sink.framesOfType(t, qzmodels.TypeGameEnd), 1)
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("member leaving keeps the room open", func(t *testing.T) {
		r := newRig(t)
		_, _, room := r.openRoom(t, "host-1")
		player, _ := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		r.router.HandleDisconnect(player)

		_, found := r.rooms.Get(room.ID)
		assert.True(t, found)
		assert.Equal(t, 1, room.PlayerCount())
		_, registered := r.registry.Get(player.DeviceID())
		assert.False(t, registered)
	})

	t.Run("host disconnect tears the room down", func(t *testing.T) {
		r := newRig(t)
		host, _, room := r.openRoom(t, "host-1")
		player, playerSink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		r.router.HandleDisconnect(host)

		closed := playerSink.framesOfType(t, qzmodels.TypeRoomClosed)
		require.Len(t, closed, 1)
		assert.Equal(t, "Host desconectou", closed[0]["reason"])

		_, found := r.rooms.GetByCode(room.Code)
		assert.False(t, found)
		assert.Empty(t, r.registry.RoomOf(player.DeviceID()))
	})

	t.Run("host disconnect cancels a pending deletion", func(t *testing.T) {
		r := newRig(t)
		host, _, room := r.openRoom(t, "host-1")
		r.send(host, `{"type":"end_game"}`)
		require.True(t, r.scheduler.Pending(room.ID))

		r.router.HandleDisconnect(host)

		assert.False(t, r.scheduler.Pending(room.ID))
		_, found := r.rooms.Get(room.ID)
		assert.False(t, found)
	})

	t.Run("host reconnect keeps membership and still cascades", func(t *testing.T) {
		r := newRig(t)
		host, _, room := r.openRoom(t, "host-1")
		player, playerSink := r.connect(t, "player-1", "web_client")
		r.send(player, fmt.Sprintf(`{"type":"join_room","room_code":%q}`, room.Code))

		// The host's console reconnects under the same token
		freshHost, _ := r.connect(t, "host-1", "web_client")
		require.Equal(t, host.DeviceID(), freshHost.DeviceID())
		assert.Equal(t, room.ID, r.registry.RoomOf(freshHost.DeviceID()))

		r.router.HandleDisconnect(freshHost)

		closed := playerSink.framesOfType(t, qzmodels.TypeRoomClosed)
		require.Len(t, closed, 1)
		assert.Equal(t, "Host desconectou", closed[0]["reason"])
		_, found := r.rooms.GetByCode(room.Code)
		assert.False(t, found)
		assert.Zero(t, r.rooms.Count())
	})

	t.Run("re-register on the same socket keeps membership", func(t *testing.T) {
		r := newRig(t)
		host, _, room := r.openRoom(t, "host-1")

		r.send(host, `{"type":"register","device":"web_client","mac":"host-1"}`)

		assert.Equal(t, room.ID, r.registry.RoomOf(host.DeviceID()))
	})

	t.Run("teardown racing a join rejects the late joiner", func(t *testing.T) {
		r := newRig(t)
		host, _, room := r.openRoom(t, "host-1")
		player, playerSink := r.connect(t, "player-1", "web_client")

		// The joiner resolved the room by code, then the host's
		// disconnect tears it down before the membership write lands
		resolved, found := r.rooms.GetByCode(room.Code)
		require.True(t, found)
		r.router.HandleDisconnect(host)

		_, err := resolved.AddPlayer(player.DeviceID())
		assert.ErrorIs(t, err, ErrRoomNotFound)

		// The joiner is not wedged: it can still open a room of its own
		r.send(player, `{"type":"create_room"}`)
		assert.Len(t, playerSink.framesOfType(t, qzmodels.TypeRoomCreated), 1)
	})

	t.Run("stale connection does not tear down a fresh registration", func(t *testing.T) {
		r := newRig(t)
		stale, _ := r.connect(t, "AA:BB", "arduino_uno")
		r.send(stale, `{"type":"create_room"}`)

		fresh, _ := r.connect(t, "AA:BB", "arduino_uno")

		// The old socket finally reports its close
		r.router.HandleDisconnect(stale)

		_, registered := r.registry.Get(fresh.DeviceID())
		assert.True(t, registered)
	})

	t.Run("anonymous session disconnect is a no-op", func(t *testing.T) {
		r := newRig(t)
		sink := newFakeSink()
		s := NewSession(sink)

		r.router.HandleDisconnect(s)

		assert.False(t, sink.IsOpen())
		assert.Zero(t, r.registry.Count())
	})
}

func TestPing(t *testing.T) {
	r := newRig(t)
	s, sink := r.connect(t, "AA:BB", "web_client")

	r.send(s, `{"type":"ping"}`)

	frame := sink.lastFrame(t)
	assert.Equal(t, qzmodels.TypePong, frame["type"])
	assert.EqualValues(t, r.clock.UnixMilli(), frame["server_time"])
}
