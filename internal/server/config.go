package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/tripdiary/internal/events"
	"github.com/shaunagostinho/tripdiary/internal/gps"
	"github.com/shaunagostinho/tripdiary/internal/logger"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/tripdiary/config.yaml"

// Config holds all tripdiary configuration.
type Config struct {
	mu sync.RWMutex

	// Location source
	GPS GPSConfig `yaml:"gps" json:"gps"`

	// Trip detection thresholds and preferences
	Detection DetectionConfig `yaml:"detection" json:"detection"`

	// Remote trips table and identity
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Pending trip queue
	Queue QueueConfig `yaml:"queue" json:"queue"`

	// Trip event publishing
	Events EventsConfig `yaml:"events" json:"events"`

	// Raw sample recorder
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Trip statistics
	Stats StatsConfig `yaml:"stats" json:"stats"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type GPSConfig struct {
	Type     string           `yaml:"type" json:"type"`          // "nmea" or "demo"
	PortPath string           `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate int              `yaml:"baud_rate" json:"baudRate"`
	PollMs   int              `yaml:"poll_ms" json:"pollMs"` // provider polling interval
	Watch    gps.WatchOptions `yaml:"watch" json:"watch"`
}

type DetectionConfig struct {
	trip.Thresholds `yaml:",inline"`
	AutoStart       bool `yaml:"auto_start" json:"autoStart"`       // start tracking on boot
	SyncOnStart     bool `yaml:"sync_on_start" json:"syncOnStart"` // sync pending trips on boot
}

type RemoteConfig struct {
	DatabaseURL     string `yaml:"database_url" json:"-"` // empty: queue every trip
	AccessTokenFile string `yaml:"access_token_file" json:"accessTokenFile"`
	AccessTokenEnv  string `yaml:"access_token_env" json:"accessTokenEnv"`
	JWTSecret       string `yaml:"jwt_secret" json:"-"`
}

type QueueConfig struct {
	Type          string `yaml:"type" json:"type"` // "file" or "redis"
	Path          string `yaml:"path" json:"path"`
	RedisAddr     string `yaml:"redis_addr" json:"redisAddr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redisDb"`
	RedisKey      string `yaml:"redis_key" json:"redisKey"`
}

type EventsConfig struct {
	Type    string            `yaml:"type" json:"type"` // "none", "nats" or "amqp"
	NATS    events.NATSConfig `yaml:"nats" json:"nats"`
	AMQPURL string            `yaml:"amqp_url" json:"-"`
	Buffer  int               `yaml:"buffer" json:"buffer"`
}

type StatsConfig struct {
	Path     string `yaml:"path" json:"path"` // empty: next to the config file
	SaveSecs int    `yaml:"save_secs" json:"saveSecs"`
}

type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr" json:"listenAddr"`
	CorsOrigins []string `yaml:"cors_origins" json:"corsOrigins"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Type:     "demo",
			PortPath: "/dev/ttyGPS",
			BaudRate: 9600,
			PollMs:   100,
			Watch:    gps.DefaultWatchOptions(),
		},
		Detection: DetectionConfig{
			Thresholds:  trip.DefaultThresholds(),
			AutoStart:   false,
			SyncOnStart: true,
		},
		Remote: RemoteConfig{
			AccessTokenFile: "/etc/tripdiary/token",
			AccessTokenEnv:  "TRIPDIARY_TOKEN",
		},
		Queue: QueueConfig{
			Type:     "file",
			Path:     "/var/lib/tripdiary/pending.json",
			RedisKey: "tripdiary:pendingTrips",
		},
		Events: EventsConfig{
			Type: "none",
			NATS: events.NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				MaxReconnects:  -1,
				ReconnectWait:  2 * time.Second,
				ConnectTimeout: 5 * time.Second,
			},
			Buffer: 64,
		},
		Logging: logger.Config{
			Enabled:    false,
			Path:       "/var/log/tripdiary",
			IntervalMs: 1000,
		},
		Stats: StatsConfig{
			SaveSecs: 30,
		},
		Server: ServerConfig{
			ListenAddr:  ":8080",
			CorsOrigins: []string{"*"},
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD.
	// Real environment variables take precedence.
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		if _, err := os.Stat(ep); err != nil {
			continue
		}
		if err := godotenv.Load(ep); err != nil {
			log.Printf("[config] .env %s: %v", ep, err)
			continue
		}
		log.Printf("[config] loaded .env from %s", ep)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	return cfg
}

func envBool(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GPS_TYPE, GPS_PORT, GPS_BAUD, LISTEN_ADDR, DATABASE_URL,
// ACCESS_TOKEN_FILE, JWT_SECRET, QUEUE_TYPE, QUEUE_PATH, REDIS_ADDR,
// EVENTS_TYPE, NATS_URL, AMQP_URL, MIN_DISTANCE_M, STOP_DURATION,
// MIN_MOVEMENT_M, AUTO_START, LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Remote
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Remote.DatabaseURL = v
	}
	if v := os.Getenv("ACCESS_TOKEN_FILE"); v != "" {
		c.Remote.AccessTokenFile = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Remote.JWTSecret = v
	}
	// Queue
	if v := os.Getenv("QUEUE_TYPE"); v != "" {
		c.Queue.Type = v
	}
	if v := os.Getenv("QUEUE_PATH"); v != "" {
		c.Queue.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Queue.RedisAddr = v
	}
	// Events
	if v := os.Getenv("EVENTS_TYPE"); v != "" {
		c.Events.Type = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATS.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.Events.AMQPURL = v
	}
	// Detection
	if v := os.Getenv("MIN_DISTANCE_M"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Detection.MinDistanceMeters = n
		}
	}
	if v := os.Getenv("STOP_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Detection.StopDuration = d
		}
	}
	if v := os.Getenv("MIN_MOVEMENT_M"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Detection.MinMovementMeters = n
		}
	}
	if v := os.Getenv("AUTO_START"); v != "" {
		c.Detection.AutoStart = envBool(v)
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = envBool(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.IntervalMs = n
		}
	}
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return DefaultConfigPath
	}
	return c.path
}

// AutoStart reports whether tracking should resume on boot.
func (c *Config) AutoStart() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Detection.AutoStart
}

// LoggingEnabled reports whether the sample recorder should run.
func (c *Config) LoggingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.Enabled
}

// SetAutoStart records the tracking preference. Call Save to persist it.
func (c *Config) SetAutoStart(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detection.AutoStart = on
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = DefaultConfigPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// ToJSON serializes config for the API. Secrets are left out.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved, and so are secrets, which the API never sees.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	// Deep merge patch into base
	deepMerge(base, patch)

	// Marshal merged result and validate it on a scratch copy before
	// touching the live config.
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	var probe struct {
		GPS       GPSConfig       `json:"gps"`
		Detection DetectionConfig `json:"detection"`
		Queue     QueueConfig     `json:"queue"`
		Events    EventsConfig    `json:"events"`
	}
	if err := json.Unmarshal(merged, &probe); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := validate(probe.GPS, probe.Detection, probe.Queue, probe.Events); err != nil {
		return err
	}
	return json.Unmarshal(merged, c)
}

func validate(g GPSConfig, d DetectionConfig, q QueueConfig, e EventsConfig) error {
	switch g.Type {
	case "nmea", "demo":
	default:
		return fmt.Errorf("invalid gps.type %q", g.Type)
	}
	switch q.Type {
	case "file", "redis":
	default:
		return fmt.Errorf("invalid queue.type %q", q.Type)
	}
	switch strings.ToLower(e.Type) {
	case "", "none", "nats", "amqp":
	default:
		return fmt.Errorf("invalid events.type %q", e.Type)
	}
	if d.MinDistanceMeters < 0 || d.MinMovementMeters < 0 || d.StopDuration < 0 {
		return fmt.Errorf("detection thresholds must not be negative")
	}
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
