package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ListenerConfig describes one listening endpoint.
type ListenerConfig struct {
	Port            int    `yaml:"port"`
	BindAddress     string `yaml:"bind_address"`
	Backlog         int    `yaml:"backlog"`
	SoSndbuf        int    `yaml:"so_sndbuf"`
	SoMss           int    `yaml:"so_mss"`
	TLS             bool   `yaml:"tls"`
	ShoutcastCompat bool   `yaml:"shoutcast_compat"`
	ShoutcastMount  string `yaml:"shoutcast_mount"`
}

// Alias rewrites a request URI, optionally restricted to the port and bind
// address of the listener the request arrived on.
type Alias struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
}

// AccessLogConfig controls access-log behaviour for listener requests.
type AccessLogConfig struct {
	// ExcludeExt is a space-separated list of URI extensions whose
	// requests are flagged to skip the access log.
	ExcludeExt string `yaml:"exclude_ext"`
}

// GeoIPConfig enables country-based admission filtering.
type GeoIPConfig struct {
	Database      string   `yaml:"database"`
	DenyCountries []string `yaml:"deny_countries"`
}

// Config is one immutable configuration snapshot. Snapshots are never
// mutated after publication; holders may read without locking.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`

	CertFile   string `yaml:"cert_file"`
	CipherList string `yaml:"cipher_list"`

	BanFile   string `yaml:"ban_file"`
	AllowFile string `yaml:"allow_file"`
	AgentFile string `yaml:"agent_file"`

	GeoIP GeoIPConfig `yaml:"geoip"`

	// HeaderTimeout is the per-client deadline, in seconds, for the full
	// request header block to arrive after accept.
	HeaderTimeout int `yaml:"header_timeout"`
	ClientLimit   int `yaml:"client_limit"`

	// Slowdown multiplies a 5ms accept-loop sleep for back-pressure.
	Slowdown int `yaml:"slowdown"`

	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	RelayUser     string `yaml:"relay_user"`
	RelayPassword string `yaml:"relay_password"`

	SourcePassword string `yaml:"source_password"`
	// IceLogin permits the deprecated ice-password header for sources.
	IceLogin bool `yaml:"ice_login"`

	// XForward lists immediate peer IPs whose X-Forwarded-For header is
	// honoured.
	XForward []string `yaml:"xforward"`

	Aliases []Alias `yaml:"aliases"`

	AccessLog AccessLogConfig `yaml:"access_log"`

	LogLevel string `yaml:"log_level"`
}

// Defaults applied to fields the file leaves unset.
const (
	DefaultHeaderTimeout = 15
	DefaultClientLimit   = 256
	DefaultBacklog       = 10
	DefaultCipherList    = "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"
)

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = DefaultHeaderTimeout
	}
	if c.ClientLimit <= 0 {
		c.ClientLimit = DefaultClientLimit
	}
	if c.CipherList == "" {
		c.CipherList = DefaultCipherList
	}
	for i := range c.Listeners {
		if c.Listeners[i].Backlog <= 0 {
			c.Listeners[i].Backlog = DefaultBacklog
		}
		if c.Listeners[i].ShoutcastCompat && c.Listeners[i].ShoutcastMount == "" {
			c.Listeners[i].ShoutcastMount = "/stream"
		}
	}
}

func (c *Config) validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("no listeners configured")
	}
	for _, l := range c.Listeners {
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("invalid listener port %d", l.Port)
		}
	}
	return nil
}

// Store publishes configuration snapshots to the rest of the server.
type Store struct {
	mu  sync.RWMutex
	cur *Config
}

// NewStore creates a store holding an initial snapshot.
func NewStore(cfg *Config) *Store {
	return &Store{cur: cfg}
}

// Get returns the current snapshot. Snapshots are immutable; the caller
// must not modify the returned value.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Replace publishes a new snapshot.
func (s *Store) Replace(cfg *Config) {
	s.mu.Lock()
	s.cur = cfg
	s.mu.Unlock()
}
