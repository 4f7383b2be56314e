package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServerURL = "ws://localhost:8080/ws"
	DefaultListen    = ":8080"
	DefaultSTUN      = "stun:stun.l.google.com:19302"

	EnvPrefix = "WARPCALL"
)

// Config holds application configuration
type Config struct {
	// ServerURL is the signaling document websocket endpoint
	ServerURL string

	// Listen, ServerMode and the rate limits only matter to "serve"
	Listen     string
	ServerMode string
	RateLimit  float64
	RateBurst  int

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Room admission
	AtomicAdmission bool
	ReleaseOnLeave  bool
	JoinAttempts    int

	NegotiationTimeout time.Duration

	Audio bool
	Video bool
}

// Options carry CLI flag overrides. Zero values mean "not set".
type Options struct {
	ConfigFile string
	ServerURL  string
	Listen     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.url", DefaultServerURL)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("ice.stun", DefaultSTUN)
	v.SetDefault("ice.turn", "")
	v.SetDefault("ice.turn_user", "")
	v.SetDefault("ice.turn_pass", "")
	v.SetDefault("ice.force_relay", false)

	v.SetDefault("room.atomic_admission", true)
	v.SetDefault("room.release_on_leave", false)
	v.SetDefault("room.join_attempts", 5)

	v.SetDefault("negotiation.timeout", "30s")

	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (WARPCALL_SERVER_URL, WARPCALL_ICE_STUN, ...)
// 3. Config file (--config, or warpcall.yaml in . or $HOME/.config/warpcall)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("warpcall")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/warpcall")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	override(v, "server.url", opts.ServerURL)
	override(v, "server.listen", opts.Listen)
	override(v, "ice.stun", opts.STUNServer)
	override(v, "ice.turn", opts.TURNServer)
	override(v, "ice.turn_user", opts.TURNUser)
	override(v, "ice.turn_pass", opts.TURNPass)
	if opts.ForceRelay {
		v.Set("ice.force_relay", true)
	}

	cfg := &Config{
		ServerURL:          v.GetString("server.url"),
		Listen:             v.GetString("server.listen"),
		ServerMode:         v.GetString("server.mode"),
		RateLimit:          v.GetFloat64("server.rate_limit"),
		RateBurst:          v.GetInt("server.rate_burst"),
		STUNServer:         v.GetString("ice.stun"),
		TURNServer:         v.GetString("ice.turn"),
		TURNUser:           v.GetString("ice.turn_user"),
		TURNPass:           v.GetString("ice.turn_pass"),
		ForceRelay:         v.GetBool("ice.force_relay"),
		AtomicAdmission:    v.GetBool("room.atomic_admission"),
		ReleaseOnLeave:     v.GetBool("room.release_on_leave"),
		JoinAttempts:       v.GetInt("room.join_attempts"),
		NegotiationTimeout: v.GetDuration("negotiation.timeout"),
		Audio:              v.GetBool("media.audio"),
		Video:              v.GetBool("media.video"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func override(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func (c *Config) validate() error {
	if c.JoinAttempts < 1 {
		return fmt.Errorf("room.join_attempts must be at least 1, got %d", c.JoinAttempts)
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be positive")
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation.timeout must be positive")
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return nil
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
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// APIURL maps the signaling websocket URL onto the HTTP inspection API,
// e.g. ws://host:8080/ws becomes http://host:8080/api/rooms.
func (c *Config) APIURL(path string) (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	base := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.Path = base + "/api/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}
