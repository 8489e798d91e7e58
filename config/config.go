package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "tvremote"
	// DataDirEnv overrides the resolved data directory when set.
	DataDirEnv = "TVREMOTE_DATA_DIR"

	// DefaultServiceName is the service name used in pairing and broadcast discovery.
	DefaultServiceName = "_anymote._tcp"
	// DefaultPairingWireFormat is the pairing payload encoding.
	DefaultPairingWireFormat = WireFormatJSON
	// DefaultSecretTimeout bounds how long pairing waits for the user's PIN.
	DefaultSecretTimeout = 60 * time.Second
	// DefaultMaxConnectionAttempts bounds secure command-channel handshakes per attempt.
	DefaultMaxConnectionAttempts = 3
	// DefaultRetryDelay separates consecutive handshake tries.
	DefaultRetryDelay = time.Second
	// DefaultDialTimeout bounds TCP connect plus TLS handshake.
	DefaultDialTimeout = 10 * time.Second
	// DefaultHeartbeatPeriod is the liveness probe interval.
	DefaultHeartbeatPeriod = 3 * time.Second
	// DefaultMaxLostAcks is the number of unacknowledged heartbeats tolerated.
	DefaultMaxLostAcks = 3
	// DefaultBroadcastPort is the UDP port devices answer discovery probes on.
	DefaultBroadcastPort = 9101
	// DefaultProbeInterval separates consecutive broadcast probes.
	DefaultProbeInterval = 2 * time.Second
	// DefaultScanTimeout bounds one discovery scan.
	DefaultScanTimeout = 4 * time.Second
	// DefaultSecurityEventRetention is how long pairing and trust events are kept.
	DefaultSecurityEventRetention = 90 * 24 * time.Hour
	// DefaultLogLevel is the zerolog level used when none is configured.
	DefaultLogLevel = "info"

	// WireFormatJSON encodes pairing payloads as JSON.
	WireFormatJSON = "json"
	// WireFormatCBOR encodes pairing payloads as CBOR.
	WireFormatCBOR = "cbor"

	configFileName = "config.yaml"
)

// ClientConfig contains persistent remote-control client settings.
type ClientConfig struct {
	InstallID  string           `yaml:"install_id"`
	ClientName string           `yaml:"client_name"`
	Pairing    PairingConfig    `yaml:"pairing"`
	Connection ConnectionConfig `yaml:"connection"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Security   SecurityConfig   `yaml:"security"`
	Log        LogConfig        `yaml:"log"`
}

// PairingConfig controls the pairing handshake.
type PairingConfig struct {
	ServiceName   string        `yaml:"service_name"`
	WireFormat    string        `yaml:"wire_format"`
	SecretTimeout time.Duration `yaml:"secret_timeout"`
}

// ConnectionConfig controls the secure command-channel connect loop.
type ConnectionConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LivenessConfig controls heartbeat-based dead connection detection.
type LivenessConfig struct {
	Period      time.Duration `yaml:"period"`
	MaxLostAcks int           `yaml:"max_lost_acks"`
}

// DiscoveryConfig controls LAN device discovery.
type DiscoveryConfig struct {
	BroadcastPort int           `yaml:"broadcast_port"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ScanTimeout   time.Duration `yaml:"scan_timeout"`
	EnableMDNS    bool          `yaml:"enable_mdns"`
}

// SecurityConfig controls the security event log.
type SecurityConfig struct {
	// EventRetention prunes older events; a negative value keeps them forever.
	EventRetention time.Duration `yaml:"event_retention"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If TVREMOTE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectory creates the app data directory if needed.
func EnsureDataDirectory(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.yaml from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.yaml to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	return LoadOrCreateIn(dataDir)
}

// LoadOrCreateIn is LoadOrCreate for an explicit data directory.
func LoadOrCreateIn(dataDir string) (*ClientConfig, string, error) {
	if err := EnsureDataDirectory(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// Default returns a fresh configuration with a new install ID.
func Default() *ClientConfig {
	return defaultConfig()
}

func defaultConfig() *ClientConfig {
	cfg := &ClientConfig{}
	normalizeDefaults(cfg)
	return cfg
}

func defaultClientName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "tvremote"
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.InstallID == "" {
		cfg.InstallID = uuid.NewString()
		updated = true
	}
	if strings.TrimSpace(cfg.ClientName) == "" {
		cfg.ClientName = defaultClientName()
		updated = true
	}

	if cfg.Pairing.ServiceName == "" {
		cfg.Pairing.ServiceName = DefaultServiceName
		updated = true
	}
	if format := normalizeWireFormat(cfg.Pairing.WireFormat); format != cfg.Pairing.WireFormat {
		cfg.Pairing.WireFormat = format
		updated = true
	}
	if cfg.Pairing.SecretTimeout <= 0 {
		cfg.Pairing.SecretTimeout = DefaultSecretTimeout
		updated = true
	}

	if cfg.Connection.MaxAttempts <= 0 {
		cfg.Connection.MaxAttempts = DefaultMaxConnectionAttempts
		updated = true
	}
	if cfg.Connection.RetryDelay <= 0 {
		cfg.Connection.RetryDelay = DefaultRetryDelay
		updated = true
	}
	if cfg.Connection.DialTimeout <= 0 {
		cfg.Connection.DialTimeout = DefaultDialTimeout
		updated = true
	}

	if cfg.Liveness.Period <= 0 {
		cfg.Liveness.Period = DefaultHeartbeatPeriod
		updated = true
	}
	if cfg.Liveness.MaxLostAcks <= 0 {
		cfg.Liveness.MaxLostAcks = DefaultMaxLostAcks
		updated = true
	}

	if cfg.Discovery.BroadcastPort <= 0 {
		cfg.Discovery.BroadcastPort = DefaultBroadcastPort
		updated = true
	}
	if cfg.Discovery.ProbeInterval <= 0 {
		cfg.Discovery.ProbeInterval = DefaultProbeInterval
		updated = true
	}
	if cfg.Discovery.ScanTimeout <= 0 {
		cfg.Discovery.ScanTimeout = DefaultScanTimeout
		updated = true
	}

	if cfg.Security.EventRetention == 0 {
		cfg.Security.EventRetention = DefaultSecurityEventRetention
		updated = true
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
		updated = true
	}

	return updated
}

func normalizeWireFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case WireFormatCBOR:
		return WireFormatCBOR
	default:
		return DefaultPairingWireFormat
	}
}
