package qzbridge

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
)

// Bridge relays wire frames between MQTT-only button consoles and the
// realtime server. Consoles publish protocol frames (register,
// button_press, ...) to <prefix>/<mac>/out; the bridge keeps one
// websocket session per console and publishes every server frame back
// to <prefix>/<mac>/in.
//
// The bridge carries no business rules: it is just a client of the
// wire protocol on behalf of hardware that cannot speak websocket.
type Bridge struct {
	cfg        *config.BridgeConfig
	mqttClient mqtt.Client
	logger     *logger.Logger

	mu       sync.Mutex
	sessions map[string]*consoleSession

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// consoleSession is one console's websocket leg
type consoleSession struct {
	mac  string
	conn *websocket.Conn

	writeMu sync.Mutex

	activityMu   sync.Mutex
	lastActivity time.Time

	done chan struct{}
	once sync.Once
}

func New(cfg *config.BridgeConfig, log *logger.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		logger:   log.WithComponent("bridge"),
		sessions: make(map[string]*consoleSession),
		stopCh:   make(chan struct{}),
	}
}

// Start connects to the broker and begins relaying
func (b *Bridge) Start() error {
	clientID := fmt.Sprintf("%s-%s", b.cfg.MQTT.ClientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.GetBrokerURL()).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetKeepAlive(b.cfg.MQTT.KeepAlive).
		SetPingTimeout(b.cfg.MQTT.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if b.cfg.MQTT.BrokerUser != "" {
		opts.SetUsername(b.cfg.MQTT.BrokerUser)
		opts.SetPassword(b.cfg.MQTT.BrokerPass)
	}

	if b.cfg.MQTT.UseTLS {
		tlsCfg, err := b.tlsConfig(b.cfg.MQTT.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := b.cfg.TopicPrefix + "/+/out"
		if b.cfg.MQTT.SharedGroup != "" {
			topic = fmt.Sprintf("$share/%s/%s", b.cfg.MQTT.SharedGroup, topic)
		}
		b.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to console topic")
		if token := c.Subscribe(topic, 1, b.onConsoleFrame); token.Wait() && token.Error() != nil {
			b.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to console topic")
		}
	}

	b.mqttClient = mqtt.NewClient(opts)
	if tk := b.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	// idle session reaper
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.reapLoop()
	}()

	return nil
}

// Stop disconnects from the broker and closes every console session
func (b *Bridge) Stop() {
	close(b.stopCh)

	if b.mqttClient != nil && b.mqttClient.IsConnected() {
		b.mqttClient.Disconnect(500)
	}

	b.mu.Lock()
	sessions := make([]*consoleSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[string]*consoleSession)
	b.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	b.wg.Wait()
}

// IsConnected reports broker connectivity for health checks
func (b *Bridge) IsConnected() bool {
	return b.mqttClient != nil && b.mqttClient.IsConnected()
}

// SessionCount returns the number of live console sessions
func (b *Bridge) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// onConsoleFrame relays one console-originated frame to the realtime
// server, dialing the console's websocket session on first use
func (b *Bridge) onConsoleFrame(_ mqtt.Client, msg mqtt.Message) {
	mac, ok := macFromTopic(msg.Topic())
	if !ok {
		b.logger.Logger.Warn().Str("topic", msg.Topic()).Msg("Ignoring frame on unexpected topic")
		return
	}

	session, err := b.sessionFor(mac)
	if err != nil {
		b.logger.Logger.Error().Err(err).Str("mac", mac).Msg("Failed to open realtime session for console")
		return
	}

	if err := session.write(msg.Payload()); err != nil {
		b.logger.Logger.Error().Err(err).Str("mac", mac).Msg("Failed to forward console frame")
		b.dropSession(mac, session)
	}
}

// sessionFor returns the console's session, dialing a new one if needed
func (b *Bridge) sessionFor(mac string) (*consoleSession, error) {
	b.mu.Lock()
	if session, ok := b.sessions[mac]; ok {
		b.mu.Unlock()
		session.touch()
		return session, nil
	}
	b.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(b.cfg.RealtimeWSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", b.cfg.RealtimeWSURL, err)
	}

	session := &consoleSession{
		mac:          mac,
		conn:         conn,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}

	b.mu.Lock()
	if existing, ok := b.sessions[mac]; ok {
		// Lost the race to another frame; keep the first session
		b.mu.Unlock()
		_ = conn.Close()
		existing.touch()
		return existing, nil
	}
	b.sessions[mac] = session
	b.mu.Unlock()

	b.logger.Logger.Info().Str("mac", mac).Msg("Opened realtime session for console")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.readServerFrames(session)
	}()

	return session, nil
}

// readServerFrames publishes every server frame back to the console
func (b *Bridge) readServerFrames(session *consoleSession) {
	defer b.dropSession(session.mac, session)

	inTopic := fmt.Sprintf("%s/%s/in", b.cfg.TopicPrefix, session.mac)
	for {
		_, payload, err := session.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.stopCh:
			default:
				b.logger.Logger.Warn().Err(err).Str("mac", session.mac).Msg("Realtime session closed")
			}
			return
		}
		session.touch()

		if token := b.mqttClient.Publish(inTopic, 1, false, payload); token.Wait() && token.Error() != nil {
			b.logger.Logger.Error().Err(token.Error()).Str("mac", session.mac).Msg("Failed to publish server frame")
		}
	}
}

// dropSession closes and forgets a session if it is still the current
// one for its console
func (b *Bridge) dropSession(mac string, session *consoleSession) {
	b.mu.Lock()
	if current, ok := b.sessions[mac]; ok && current == session {
		delete(b.sessions, mac)
	}
	b.mu.Unlock()
	session.close()
}

// reapLoop closes sessions for consoles that went silent; the realtime
// server evicts the matching device on its own schedule
func (b *Bridge) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-b.cfg.SessionIdleAfter)
			b.mu.Lock()
			var idle []*consoleSession
			for mac, session := range b.sessions {
				if session.lastActive().Before(cutoff) {
					idle = append(idle, session)
					delete(b.sessions, mac)
				}
			}
			b.mu.Unlock()

			for _, session := range idle {
				b.logger.Logger.Info().Str("mac", session.mac).Msg("Closing idle console session")
				session.close()
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bridge) tlsConfig(caPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// macFromTopic extracts the console identifier from <prefix>/<mac>/out
func macFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "out" {
		return "", false
	}
	mac := parts[len(parts)-2]
	return mac, mac != ""
}

func (s *consoleSession) write(payload []byte) error {
	s.touch()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *consoleSession) touch() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

func (s *consoleSession) lastActive() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.lastActivity
}

func (s *consoleSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
