package realtime

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

func TestRoomLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	table := NewRoomTable(testLogger())

	room := table.Create("device_host", now)

	require.NotNil(t, room)
	assert.Equal(t, "device_host", room.HostDeviceID)
	assert.Equal(t, qzmodels.StatusWaiting, room.Status())
	assert.True(t, room.HasPlayer("device_host"), "host is a member of its own room")
	assert.Equal(t, 1, room.PlayerCount())

	// waiting -> playing
	err := room.StartQuestion("device_host", "q1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, qzmodels.StatusPlaying, room.Status())

	questionID, startTime, err := room.ActiveQuestion()
	require.NoError(t, err)
	assert.Equal(t, "q1", questionID)
	assert.Equal(t, now.Add(time.Minute), startTime)

	// playing -> finished
	require.NoError(t, room.Finish("device_host"))
	assert.Equal(t, qzmodels.StatusFinished, room.Status())

	_, _, err = room.ActiveQuestion()
	assert.ErrorIs(t, err, ErrNoActiveRound)

	// finished never regresses
	assert.ErrorIs(t, room.StartQuestion("device_host", "q2", now), ErrGameFinished)
	assert.ErrorIs(t, room.Finish("device_host"), ErrGameFinished)
}

func TestRoomAddPlayer(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(room *Room)
		deviceID  string
		wantCount int
		wantErr   error
	}{
		{
			name:      "joins while waiting",
			setup:     func(*Room) {},
			deviceID:  "device_p1",
			wantCount: 2,
		},
		{
			name: "duplicate join",
			setup: func(room *Room) {
				_, _ = room.AddPlayer("device_p1")
			},
			deviceID: "device_p1",
			wantErr:  ErrAlreadyJoined,
		},
		{
			name: "room already playing",
			setup: func(room *Room) {
				_ = room.StartQuestion("device_host", "q1", time.Now())
			},
			deviceID: "device_p1",
			wantErr:  ErrRoomNotWaiting,
		},
		{
			name: "room finished",
			setup: func(room *Room) {
				_ = room.Finish("device_host")
			},
			deviceID: "device_p1",
			wantErr:  ErrRoomNotWaiting,
		},
		{
			name: "room torn down",
			setup: func(room *Room) {
				room.MarkClosed()
			},
			deviceID: "device_p1",
			wantErr:  ErrRoomNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := NewRoomTable(testLogger()).Create("device_host", time.Now())
			tt.setup(room)

			count, err := room.AddPlayer(tt.deviceID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, count)
			assert.True(t, room.HasPlayer(tt.deviceID))
		})
	}
}

func TestRoomRemovePlayer(t *testing.T) {
	room := NewRoomTable(testLogger()).Create("device_host", time.Now())
	_, err := room.AddPlayer("device_p1")
	require.NoError(t, err)

	empty, wasHost := room.RemovePlayer("device_p1")
	assert.False(t, empty)
	assert.False(t, wasHost)

	empty, wasHost = room.RemovePlayer("device_host")
	assert.True(t, empty)
	assert.True(t, wasHost)
}

func TestRoomHostOnlyOperations(t *testing.T) {
	room := NewRoomTable(testLogger()).Create("device_host", time.Now())
	_, err := room.AddPlayer("device_p1")
	require.NoError(t, err)

	assert.ErrorIs(t, room.StartQuestion("device_p1", "q1", time.Now()), ErrNotHost)
	assert.ErrorIs(t, room.Finish("device_p1"), ErrNotHost)
	assert.Equal(t, qzmodels.StatusWaiting, room.Status())
}

func TestRoomIsIdle(t *testing.T) {
	now := time.Now()
	room := NewRoomTable(testLogger()).Create("device_host", now)

	assert.False(t, room.IsIdle(now.Add(time.Hour), 10*time.Minute), "occupied rooms are never idle")

	room.RemovePlayer("device_host")
	assert.False(t, room.IsIdle(now.Add(5*time.Minute), 10*time.Minute), "young empty room")
	assert.True(t, room.IsIdle(now.Add(11*time.Minute), 10*time.Minute))
}

func TestRoomTableCodes(t *testing.T) {
	t.Run("codes draw from the uppercase alphanumeric alphabet", func(t *testing.T) {
		table := NewRoomTable(testLogger())
		room := table.Create("device_host", time.Now())

		assert.Len(t, room.Code, 6)
		for _, c := range room.Code {
			assert.Contains(t, roomCodeAlphabet, string(c))
		}
	})

	t.Run("lookup normalizes case and whitespace", func(t *testing.T) {
		table := NewRoomTable(testLogger())
		room := table.Create("device_host", time.Now())

		got, ok := table.GetByCode("  " + strings.ToLower(room.Code) + " ")
		require.True(t, ok)
		assert.Same(t, room, got)
	})

	t.Run("open rooms have distinct codes", func(t *testing.T) {
		table := NewRoomTable(testLogger())
		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			room := table.Create("device_host", time.Now())
			assert.False(t, seen[room.Code], "code %s issued twice", room.Code)
			seen[room.Code] = true
		}
	})

	t.Run("remove frees the code", func(t *testing.T) {
		table := NewRoomTable(testLogger())
		room := table.Create("device_host", time.Now())

		assert.True(t, table.Remove(room.ID))
		_, ok := table.GetByCode(room.Code)
		assert.False(t, ok)
		_, ok = table.Get(room.ID)
		assert.False(t, ok)

		assert.False(t, table.Remove(room.ID), "second remove reports false")
	})
}

func TestRoomTableCounts(t *testing.T) {
	table := NewRoomTable(testLogger())
	waiting := table.Create("device_a", time.Now())
	playing := table.Create("device_b", time.Now())
	require.NoError(t, playing.StartQuestion("device_b", "q1", time.Now()))

	assert.Equal(t, 2, table.Count())
	assert.Equal(t, map[qzmodels.RoomStatus]int{
		qzmodels.StatusWaiting: 1,
		qzmodels.StatusPlaying: 1,
	}, table.CountByStatus())

	snapshot := table.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Contains(t, snapshot, waiting)
	assert.Contains(t, snapshot, playing)
}
