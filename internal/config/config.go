package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultAddr             = ":8080"
	DefaultServer           = "localhost:8080"
	DefaultSTUN             = "stun:stun.l.google.com:19302"
	DefaultRoomCapacity     = 4
	DefaultKeyframeInterval = 3 * time.Second
	DefaultLogLevel         = "error"
)

// Config holds application configuration. The server half is read by
// `huddle serve`, the client half by `huddle join`; both share ICE and logging.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	ICE     ICEConfig     `yaml:"ice"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the SFU and its HTTP surface.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	RoomCapacity     int           `yaml:"room_capacity"`
	KeyframeInterval time.Duration `yaml:"keyframe_interval"`

	// DebugRTPAddr mirrors every forwarded RTP packet to this UDP address
	// (e.g. 127.0.0.1:4002 for VLC). Empty disables the tap.
	DebugRTPAddr string `yaml:"debug_rtp_addr"`

	Metrics bool `yaml:"metrics"`
}

// ClientConfig configures the call client.
type ClientConfig struct {
	// Server is host[:port] or a full ws:// / wss:// / http(s):// URL.
	Server      string `yaml:"server"`
	DisplayName string `yaml:"display_name"`

	// VideoFile is an IVF (VP8) file looped as the camera; AudioFile an Ogg
	// (Opus) file looped as the microphone. Empty means a generated test source.
	VideoFile string `yaml:"video_file"`
	AudioFile string `yaml:"audio_file"`

	// RecordDir receives one file per remote stream when set.
	RecordDir string `yaml:"record_dir"`
}

// ICEConfig holds the ICE servers handed to every PeerConnection.
type ICEConfig struct {
	STUNServer string `yaml:"stun"`
	TURNServer string `yaml:"turn"`
	TURNUser   string `yaml:"turn_user"`
	TURNPass   string `yaml:"turn_pass"`
	ForceRelay bool   `yaml:"force_relay"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Options for loading config with CLI flag overrides. Zero values mean "not set".
type Options struct {
	File string

	Addr             string
	RoomCapacity     int
	KeyframeInterval time.Duration
	DebugRTPAddr     string

	Server      string
	DisplayName string
	VideoFile   string
	AudioFile   string
	RecordDir   string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	LogLevel string
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             DefaultAddr,
			RoomCapacity:     DefaultRoomCapacity,
			KeyframeInterval: DefaultKeyframeInterval,
			Metrics:          true,
		},
		Client: ClientConfig{
			Server: DefaultServer,
		},
		ICE: ICEConfig{
			STUNServer: DefaultSTUN,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML file (Options.File or HUDDLE_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.File
	if path == "" {
		path = os.Getenv("HUDDLE_CONFIG")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}
	cfg.mergeOptions(opts)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	setString(&c.Server.Addr, "HUDDLE_ADDR")
	setString(&c.Server.DebugRTPAddr, "HUDDLE_DEBUG_RTP_ADDR")
	setString(&c.Client.Server, "HUDDLE_SERVER")
	setString(&c.Client.DisplayName, "HUDDLE_NAME")
	setString(&c.Client.RecordDir, "HUDDLE_RECORD_DIR")
	setString(&c.ICE.STUNServer, "STUN_SERVER")
	setString(&c.ICE.TURNServer, "TURN_SERVER")
	setString(&c.ICE.TURNUser, "TURN_USERNAME")
	setString(&c.ICE.TURNPass, "TURN_PASSWORD")
	setString(&c.Logging.Level, "LOG_LEVEL")

	// PORT is what most PaaS runtimes hand us.
	if port, ok := os.LookupEnv("PORT"); ok && port != "" && os.Getenv("HUDDLE_ADDR") == "" {
		c.Server.Addr = ":" + port
	}

	if v, ok := os.LookupEnv("HUDDLE_ROOM_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HUDDLE_ROOM_CAPACITY: %w", err)
		}
		c.Server.RoomCapacity = n
	}
	if v, ok := os.LookupEnv("HUDDLE_KEYFRAME_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HUDDLE_KEYFRAME_INTERVAL: %w", err)
		}
		c.Server.KeyframeInterval = d
	}
	if v, ok := os.LookupEnv("HUDDLE_FORCE_RELAY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HUDDLE_FORCE_RELAY: %w", err)
		}
		c.ICE.ForceRelay = b
	}
	return nil
}

func (c *Config) mergeOptions(opts Options) {
	override(&c.Server.Addr, opts.Addr)
	override(&c.Server.DebugRTPAddr, opts.DebugRTPAddr)
	override(&c.Client.Server, opts.Server)
	override(&c.Client.DisplayName, opts.DisplayName)
	override(&c.Client.VideoFile, opts.VideoFile)
	override(&c.Client.AudioFile, opts.AudioFile)
	override(&c.Client.RecordDir, opts.RecordDir)
	override(&c.ICE.STUNServer, opts.STUNServer)
	override(&c.ICE.TURNServer, opts.TURNServer)
	override(&c.ICE.TURNUser, opts.TURNUser)
	override(&c.ICE.TURNPass, opts.TURNPass)
	override(&c.Logging.Level, opts.LogLevel)

	if opts.RoomCapacity != 0 {
		c.Server.RoomCapacity = opts.RoomCapacity
	}
	if opts.KeyframeInterval != 0 {
		c.Server.KeyframeInterval = opts.KeyframeInterval
	}
	if opts.ForceRelay {
		c.ICE.ForceRelay = true
	}
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.ICE.Validate(); err != nil {
		return fmt.Errorf("ice config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if s.RoomCapacity < 2 {
		return fmt.Errorf("room_capacity must be at least 2, got %d", s.RoomCapacity)
	}
	if s.KeyframeInterval < 0 {
		return fmt.Errorf("keyframe_interval cannot be negative, got %s", s.KeyframeInterval)
	}
	return nil
}

// Validate validates ICE configuration
func (i *ICEConfig) Validate() error {
	if i.ForceRelay && i.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// WebSocketURL returns the signaling endpoint for the configured server.
// A bare host uses ws://, https:// maps to wss:// and an explicit ws(s) URL
// is kept as is. The path defaults to /ws.
func (c *ClientConfig) WebSocketURL() (string, error) {
	raw := c.Server
	if raw == "" {
		raw = DefaultServer
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// HTTPURL returns the base http(s) URL of the configured server.
func (c *ClientConfig) HTTPURL() (string, error) {
	ws, err := c.WebSocketURL()
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(ws)
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = ""
	return u.String(), nil
}

// RoomLink returns the browser link that opens roomID.
func (c *ClientConfig) RoomLink(roomID string) (string, error) {
	base, err := c.HTTPURL()
	if err != nil {
		return "", err
	}
	return base + "/?room=" + url.QueryEscape(roomID), nil
}

// GetSTUNServers returns STUN server URLs as strings
func (i *ICEConfig) GetSTUNServers() []string {
	if i.STUNServer == "" {
		return nil
	}
	return []string{i.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (i *ICEConfig) GetTURNServers() []string {
	if i.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(i.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (i *ICEConfig) GetTURNCredentials() (string, string) {
	return i.TURNUser, i.TURNPass
}
