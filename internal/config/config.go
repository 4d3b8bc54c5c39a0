package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultListenAddr   = ":3000"
	DefaultPath         = "/ws"
	DefaultServerURL    = "ws://localhost:3000/ws"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultRetryDelay   = 5 * time.Second
	DefaultPingInterval = 5 * time.Second
	DefaultStartDelay   = 3 * time.Second
	DefaultRateLimit    = 20.0
	DefaultRateBurst    = 40
)

// Config holds application configuration
type Config struct {
	// Rendezvous server
	ListenAddr string
	Path       string
	RateLimit  float64
	RateBurst  int

	// ServerURL is the rendezvous endpoint a watch client dials
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	// ForceRelay restricts ICE to TURN relay candidates
	ForceRelay bool

	// Protocol timings
	RetryDelay   time.Duration
	PingInterval time.Duration
	StartDelay   time.Duration

	// OffsetEstimation lets the slave derive the master clock offset from pings.
	// When false the offset stays zero.
	OffsetEstimation bool

	// ObserverAddr is the optional local observer endpoint, e.g. "127.0.0.1:3001"
	ObserverAddr string

	LogLevel string
	LogFile  string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile   string
	ListenAddr   string
	ServerURL    string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	ObserverAddr string
	LogLevel     string
	LogFile      string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (LOCKSTEP_*, e.g. LOCKSTEP_SYNC_START_DELAY=2s)
// 3. Config file (YAML, optional)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen", DefaultListenAddr)
	v.SetDefault("server.path", DefaultPath)
	v.SetDefault("server.rate_limit", DefaultRateLimit)
	v.SetDefault("server.rate_burst", DefaultRateBurst)
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("ice.stun", DefaultSTUN)
	v.SetDefault("ice.turn", "")
	v.SetDefault("ice.turn_user", "")
	v.SetDefault("ice.turn_pass", "")
	v.SetDefault("ice.force_relay", false)
	v.SetDefault("signaling.retry_delay", DefaultRetryDelay)
	v.SetDefault("sync.ping_interval", DefaultPingInterval)
	v.SetDefault("sync.start_delay", DefaultStartDelay)
	v.SetDefault("sync.offset_estimation", true)
	v.SetDefault("observer.listen", "")
	v.SetDefault("log.level", "")
	v.SetDefault("log.file", "")

	v.SetEnvPrefix("LOCKSTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("log.level", "LOCKSTEP_LOG_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	overrides := map[string]string{
		"server.listen":   opts.ListenAddr,
		"server_url":      opts.ServerURL,
		"ice.stun":        opts.STUNServer,
		"ice.turn":        opts.TURNServer,
		"ice.turn_user":   opts.TURNUser,
		"ice.turn_pass":   opts.TURNPass,
		"observer.listen": opts.ObserverAddr,
		"log.level":       opts.LogLevel,
		"log.file":        opts.LogFile,
	}
	for key, value := range overrides {
		if value != "" {
			v.Set(key, value)
		}
	}
	if opts.ForceRelay {
		v.Set("ice.force_relay", true)
	}

	cfg := &Config{
		ListenAddr:       v.GetString("server.listen"),
		Path:             v.GetString("server.path"),
		RateLimit:        v.GetFloat64("server.rate_limit"),
		RateBurst:        v.GetInt("server.rate_burst"),
		ServerURL:        v.GetString("server_url"),
		STUNServer:       v.GetString("ice.stun"),
		TURNServer:       v.GetString("ice.turn"),
		TURNUser:         v.GetString("ice.turn_user"),
		TURNPass:         v.GetString("ice.turn_pass"),
		ForceRelay:       v.GetBool("ice.force_relay"),
		RetryDelay:       v.GetDuration("signaling.retry_delay"),
		PingInterval:     v.GetDuration("sync.ping_interval"),
		StartDelay:       v.GetDuration("sync.start_delay"),
		OffsetEstimation: v.GetBool("sync.offset_estimation"),
		ObserverAddr:     v.GetString("observer.listen"),
		LogLevel:         v.GetString("log.level"),
		LogFile:          v.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("signaling.retry_delay must be positive, got %s", c.RetryDelay))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync.ping_interval must be positive, got %s", c.PingInterval))
	}
	if c.StartDelay <= 0 {
		errs = append(errs, fmt.Errorf("sync.start_delay must be positive, got %s", c.StartDelay))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must be positive"))
	}
	if c.ForceRelay && c.TURNServer == "" {
		errs = append(errs, errors.New("cannot force relay mode without TURN server configured"))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path must start with /, got %q", c.Path))
	}
	return errors.Join(errs...)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
