package realtime

import (
	"sync"
	"time"

	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
)

// Sweeper runs the two periodic liveness actions:
//
//   - ping sweep: keep-alive frames to every open connection, so idle
//     sockets survive network intermediaries
//   - eviction sweep: drop devices inactive beyond the threshold and
//     rooms that sat empty beyond theirs, bounding memory
//
// The two run on independent tickers; their thresholds are unrelated
// to the ping interval on purpose.
type Sweeper struct {
	registry  *Registry
	rooms     *RoomTable
	router    *Router
	scheduler *DeleteScheduler
	cfg       *config.RealtimeConfig
	logger    *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSweeper(registry *Registry, rooms *RoomTable, router *Router, scheduler *DeleteScheduler, cfg *config.RealtimeConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{
		registry:  registry,
		rooms:     rooms,
		router:    router,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    log.WithComponent("sweeper"),
		stopCh:    make(chan struct{}),
	}
}

// Start launches both sweep loops
func (s *Sweeper) Start() {
	s.wg.Add(2)
	go s.pingLoop()
	go s.evictionLoop()
}

// Stop terminates both loops and waits for them
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.PingSweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) evictionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.EvictionSweep(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// PingSweep sends a keep-alive on every open connection. A pong lands
// back in the connection's pong handler, which bumps last_activity.
func (s *Sweeper) PingSweep() {
	s.registry.EachSink(func(deviceID string, sink Sink) {
		if !sink.IsOpen() {
			return
		}
		if err := sink.Ping(); err != nil {
			s.logger.WithDeviceID(deviceID).Debug("Keep-alive failed: " + err.Error())
		}
	})
}

// EvictionSweep removes stale devices and idle rooms as of the given
// instant. Exposed for tests; the loop passes time.Now.
func (s *Sweeper) EvictionSweep(now time.Time) {
	deviceCutoff := now.Add(-s.cfg.DeviceInactiveAfter)
	for _, deviceID := range s.registry.StaleIDs(deviceCutoff) {
		s.logger.WithDeviceID(deviceID).Info("Evicting inactive device")
		s.router.EvictDevice(deviceID)
	}

	for _, room := range s.rooms.Snapshot() {
		if !room.IsIdle(now, s.cfg.RoomIdleAfter) {
			continue
		}
		room.MarkClosed()
		s.scheduler.Cancel(room.ID)
		if s.rooms.Remove(room.ID) {
			s.logger.WithRoomID(room.ID).Info("Removing idle empty room")
		}
	}
}
