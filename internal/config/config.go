package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFile   LogFileConfig   `json:"log_file" yaml:"log_file"`
	Timezone  string          `json:"timezone" yaml:"timezone"`
	Window    WindowConfig    `json:"window" yaml:"window"`
	Refresh   RefreshConfig   `json:"refresh" yaml:"refresh"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Settings  SettingsConfig  `json:"settings" yaml:"settings"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	API       APIConfig       `json:"api" yaml:"api"`
}

type LogFileConfig struct {
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type WindowConfig struct {
	Duration     time.Duration `json:"duration" yaml:"duration"`
	PageSize     int           `json:"page_size" yaml:"page_size"`
	MaxRows      int           `json:"max_rows" yaml:"max_rows"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
}

type RefreshConfig struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	// ConfigReload is how often the config file is checked for changes.
	ConfigReload time.Duration `json:"config_reload" yaml:"config_reload"`
}

type AlertsConfig struct {
	Cooldown           time.Duration `json:"cooldown" yaml:"cooldown"`
	AlertOnOpenTooLong bool          `json:"alert_on_open_too_long" yaml:"alert_on_open_too_long"`
	StoreLimit         int           `json:"store_limit" yaml:"store_limit"`
	ThrottleBackend    string        `json:"throttle_backend" yaml:"throttle_backend"`
	ThrottleKeyPrefix  string        `json:"throttle_key_prefix" yaml:"throttle_key_prefix"`
}

type NotifyConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Token   string        `json:"token" yaml:"token"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type ReconcileConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	URL         string        `json:"url" yaml:"url"`
	Token       string        `json:"token" yaml:"token"`
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type SettingsConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Key     string `json:"key" yaml:"key"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Insert  bool   `json:"insert" yaml:"insert"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
	Insert  bool     `json:"insert" yaml:"insert"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`
	Insert   bool   `json:"insert" yaml:"insert"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogFile:  LogFileConfig{MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 14, Compress: true},
		Timezone: "Local",
		Window: WindowConfig{
			Duration:     24 * time.Hour,
			PageSize:     1000,
			MaxRows:      20000,
			FetchTimeout: 10 * time.Second,
		},
		Refresh: RefreshConfig{PollInterval: 3 * time.Second, ConfigReload: 3 * time.Second},
		Alerts: AlertsConfig{
			Cooldown:           5 * time.Minute,
			AlertOnOpenTooLong: true,
			StoreLimit:         1000,
			ThrottleBackend:    "memory",
			ThrottleKeyPrefix:  "doorguard:alert:last_sent:",
		},
		Notify:    NotifyConfig{Enabled: false, Timeout: 10 * time.Second},
		Reconcile: ReconcileConfig{Enabled: false, MinInterval: 5 * time.Second, Timeout: 30 * time.Second},
		Storage:   StorageConfig{Driver: "sqlite", DSN: "file:doorguard.db?_pragma=busy_timeout(5000)"},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Settings:  SettingsConfig{Backend: "storage", Key: "security_settings"},
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "doorguard", Topic: "facility/door/readings", QoS: 1},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9400", Insert: true},
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Window.Duration <= 0 {
		cfg.Window.Duration = def.Window.Duration
	}
	if cfg.Window.PageSize <= 0 {
		cfg.Window.PageSize = def.Window.PageSize
	}
	if cfg.Window.MaxRows <= 0 {
		cfg.Window.MaxRows = def.Window.MaxRows
	}
	if cfg.Refresh.PollInterval <= 0 {
		cfg.Refresh.PollInterval = def.Refresh.PollInterval
	}
	if cfg.Refresh.ConfigReload <= 0 {
		cfg.Refresh.ConfigReload = def.Refresh.ConfigReload
	}
	if cfg.Alerts.Cooldown <= 0 {
		cfg.Alerts.Cooldown = def.Alerts.Cooldown
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Alerts.ThrottleBackend == "" {
		cfg.Alerts.ThrottleBackend = def.Alerts.ThrottleBackend
	}
	if cfg.Alerts.ThrottleKeyPrefix == "" {
		cfg.Alerts.ThrottleKeyPrefix = def.Alerts.ThrottleKeyPrefix
	}
	if cfg.Reconcile.MinInterval <= 0 {
		cfg.Reconcile.MinInterval = def.Reconcile.MinInterval
	}
	if cfg.Settings.Backend == "" {
		cfg.Settings.Backend = def.Settings.Backend
	}
	if cfg.Settings.Key == "" {
		cfg.Settings.Key = def.Settings.Key
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.MQTT.Enabled && (cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "") {
		return errors.New("ingest.mqtt requires broker and topic")
	}
	if cfg.Notify.Enabled && cfg.Notify.URL == "" {
		return errors.New("notify.url required when notify.enabled is true")
	}
	if cfg.Reconcile.Enabled && cfg.Reconcile.URL == "" {
		return errors.New("reconcile.url required when reconcile.enabled is true")
	}
	switch strings.ToLower(cfg.Alerts.ThrottleBackend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("alerts.throttle_backend must be memory or redis, got %q", cfg.Alerts.ThrottleBackend)
	}
	switch strings.ToLower(cfg.Settings.Backend) {
	case "storage", "redis", "memory":
	default:
		return fmt.Errorf("settings.backend must be storage, redis or memory, got %q", cfg.Settings.Backend)
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves the configured timezone used for night-window checks.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

// Manager holds the config loaded from path and picks up edits to the file.
type Manager struct {
	path string
	cfg  atomic.Value

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the file. An invalid file leaves the current config in place.
func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	m.touch()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) touch() {
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.modTime = info.ModTime()
	m.mu.Unlock()
}

// Watch polls the file every interval until ctx ends. onReload receives each
// successfully loaded config; onError receives stat and load failures.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				// Skip this version of the file until it changes again.
				m.touch()
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		}
	}
}
