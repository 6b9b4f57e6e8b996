package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the realtime service
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Realtime coordination configuration
	Realtime RealtimeConfig `json:"realtime"`

	// Mongo configuration (question store + usage log)
	Mongo MongoConfig `json:"mongo"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RealtimeConfig holds the coordination timings and connection limits.
// Defaults are the reference values the physical consoles were tuned
// against; every one of them can be overridden per deployment.
type RealtimeConfig struct {
	PingInterval        time.Duration `json:"ping_interval"`
	EvictionInterval    time.Duration `json:"eviction_interval"`
	DeviceInactiveAfter time.Duration `json:"device_inactive_after"`
	RoomIdleAfter       time.Duration `json:"room_idle_after"`
	EndGameGracePeriod  time.Duration `json:"end_game_grace_period"`
	VerdictTimeout      time.Duration `json:"verdict_timeout"`
	SendBufferSize      int           `json:"send_buffer_size"`
	WriteWait           time.Duration `json:"write_wait"`
	PongWait            time.Duration `json:"pong_wait"`
	MaxFrameSize        int64         `json:"max_frame_size"`
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI                 string        `json:"-"`
	Database            string        `json:"database"`
	QuestionsCollection string        `json:"questions_collection"`
	UsageCollection     string        `json:"usage_collection"`
	ConnectTimeout      time.Duration `json:"connect_timeout"`
}

// MQTTConfig holds MQTT broker configuration for the console bridge
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"-"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	ClientID    string        `json:"client_id"`
	SharedGroup string        `json:"shared_group"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS configuration for the web quiz clients
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// BridgeConfig holds configuration for the MQTT console bridge service
type BridgeConfig struct {
	Server           ServerConfig  `json:"server"`
	MQTT             MQTTConfig    `json:"mqtt"`
	Logging          LoggingConfig `json:"logging"`
	RealtimeWSURL    string        `json:"realtime_ws_url"`
	TopicPrefix      string        `json:"topic_prefix"`
	SessionIdleAfter time.Duration `json:"session_idle_after"`
}

// Load loads configuration for the realtime service from environment
// variables with fallback defaults
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		// Environment variables can also be set directly
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "9010"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Realtime: RealtimeConfig{
			PingInterval:        getDuration("RT_PING_INTERVAL", 30*time.Second),
			EvictionInterval:    getDuration("RT_EVICTION_INTERVAL", 60*time.Second),
			DeviceInactiveAfter: getDuration("RT_DEVICE_INACTIVE_AFTER", 5*time.Minute),
			RoomIdleAfter:       getDuration("RT_ROOM_IDLE_AFTER", 10*time.Minute),
			EndGameGracePeriod:  getDuration("RT_END_GAME_GRACE", 60*time.Second),
			VerdictTimeout:      getDuration("RT_VERDICT_TIMEOUT", 3*time.Second),
			SendBufferSize:      getInt("RT_SEND_BUFFER_SIZE", 256),
			WriteWait:           getDuration("RT_WRITE_WAIT", 10*time.Second),
			PongWait:            getDuration("RT_PONG_WAIT", 75*time.Second),
			MaxFrameSize:        int64(getInt("RT_MAX_FRAME_SIZE", 65536)),
		},
		Mongo: MongoConfig{
			URI:                 getRequiredEnv("MONGODB_URI"),
			Database:            getEnv("DB_NAME", "quiz"),
			QuestionsCollection: getEnv("QUESTIONS_COLL_NAME", "questions"),
			UsageCollection:     getEnv("USAGE_COLL_NAME", "answer_usage"),
			ConnectTimeout:      getDuration("MONGODB_CONNECT_TIMEOUT", 20*time.Second),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadBridgeConfig loads configuration for the MQTT console bridge
func LoadBridgeConfig() (*BridgeConfig, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		// Environment variables can also be set directly
	}

	config := &BridgeConfig{
		Server: ServerConfig{
			Port:         getEnv("BRIDGE_PORT", "9011"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT: MQTTConfig{
			BrokerHost:  getEnv("BROKER_HOST", "localhost"),
			BrokerPort:  getInt("BROKER_PORT", 1883),
			BrokerUser:  getEnv("BROKER_USER", ""),
			BrokerPass:  getEnv("BROKER_PASS", ""),
			UseTLS:      getBool("BROKER_TLS", false),
			CACertPath:  getEnv("BROKER_CA_FILE", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "console-bridge"),
			SharedGroup: getEnv("MQTT_SHARED_GROUP", ""),
			KeepAlive:   getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout: getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		RealtimeWSURL:    getEnv("REALTIME_WS_URL", "ws://realtime-service:9010/ws"),
		TopicPrefix:      getEnv("BRIDGE_TOPIC_PREFIX", "consoles"),
		SessionIdleAfter: getDuration("BRIDGE_SESSION_IDLE_AFTER", 5*time.Minute),
	}

	if config.RealtimeWSURL == "" {
		return nil, fmt.Errorf("REALTIME_WS_URL is required")
	}
	if strings.ContainsAny(config.TopicPrefix, "+#") {
		return nil, fmt.Errorf("BRIDGE_TOPIC_PREFIX must not contain MQTT wildcards")
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("MONGODB_URI is required")
	}
	if c.Realtime.SendBufferSize < 1 {
		return fmt.Errorf("RT_SEND_BUFFER_SIZE must be at least 1")
	}
	if c.Realtime.PongWait <= c.Realtime.PingInterval {
		return fmt.Errorf("RT_PONG_WAIT must be greater than RT_PING_INTERVAL")
	}
	return nil
}

// GetBrokerURL returns the MQTT broker URL
func (c *BridgeConfig) GetBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("missing required environment variable: %s", key)
	}
	return value
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
