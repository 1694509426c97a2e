package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"aifshop/cmd/internal/auth/session"
	"aifshop/cmd/internal/realtime"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// Config is the client runtime configuration. Values come from DefaultConfig,
// then an optional TOML or YAML file, then AIFSHOP_* environment variables.
type Config struct {
	Hub     HubConfig     `toml:"hub" yaml:"hub"`
	REST    RESTConfig    `toml:"rest" yaml:"rest"`
	Chat    ChatConfig    `toml:"chat" yaml:"chat"`
	Auth    AuthConfig    `toml:"auth" yaml:"auth"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

type HubConfig struct {
	BaseURL           string          `toml:"base_url" yaml:"base_url" env:"AIFSHOP_BASE_URL" env-description:"marketplace API base URL" validate:"required,url"`
	Path              string          `toml:"path" yaml:"path" env:"AIFSHOP_HUB_PATH" env-description:"hub path, relative to the base URL or absolute"`
	AutoReconnect     bool            `toml:"auto_reconnect" yaml:"auto_reconnect" env:"AIFSHOP_HUB_AUTO_RECONNECT" env-description:"reconnect dropped hub connections"`
	ReconnectDelays   []time.Duration `toml:"reconnect_delays" yaml:"reconnect_delays" env:"AIFSHOP_HUB_RECONNECT_DELAYS" env-separator:"," env-description:"comma separated reconnect delays"`
	SkipNegotiation   bool            `toml:"skip_negotiation" yaml:"skip_negotiation" env:"AIFSHOP_HUB_SKIP_NEGOTIATION" env-description:"dial the websocket without negotiating"`
	Transport         string          `toml:"transport" yaml:"transport" env:"AIFSHOP_HUB_TRANSPORT" env-description:"hub transport, only websockets"`
	KeepAliveInterval time.Duration   `toml:"keepalive_interval" yaml:"keepalive_interval" env:"AIFSHOP_HUB_KEEPALIVE_INTERVAL" env-description:"client ping interval, negative disables"`
}

type RESTConfig struct {
	Timeout   time.Duration `toml:"timeout" yaml:"timeout" env:"AIFSHOP_REST_TIMEOUT" env-description:"REST call timeout"`
	RateLimit float64       `toml:"rate_limit" yaml:"rate_limit" env:"AIFSHOP_REST_RATE_LIMIT" env-description:"REST requests per second, 0 disables throttling" validate:"gte=0"`
	Burst     int           `toml:"burst" yaml:"burst" env:"AIFSHOP_REST_BURST" env-description:"REST request burst" validate:"gte=0"`
}

type ChatConfig struct {
	Enabled           bool          `toml:"enabled" yaml:"enabled" env:"AIFSHOP_CHAT_ENABLED" env-description:"enable the conversation store and hub connection"`
	PollInterval      time.Duration `toml:"poll_interval" yaml:"poll_interval" env:"AIFSHOP_CHAT_POLL_INTERVAL" env-description:"polling interval"`
	PageSize          int           `toml:"page_size" yaml:"page_size" env:"AIFSHOP_CHAT_PAGE_SIZE" env-description:"conversations per page" validate:"min=1,max=100"`
	MessagePageSize   int           `toml:"message_page_size" yaml:"message_page_size" env:"AIFSHOP_CHAT_MESSAGE_PAGE_SIZE" env-description:"messages per page" validate:"min=1,max=200"`
	ResyncOnReconnect bool          `toml:"resync_on_reconnect" yaml:"resync_on_reconnect" env:"AIFSHOP_CHAT_RESYNC_ON_RECONNECT" env-description:"reload everything after a hub reconnect"`
}

// AuthConfig names where the bearer token comes from. Sources are tried in
// order: Token, TokenFile, TokenEnv.
type AuthConfig struct {
	Token     string `toml:"token" yaml:"token" env:"AIFSHOP_TOKEN" env-description:"bearer token"`
	TokenFile string `toml:"token_file" yaml:"token_file" env:"AIFSHOP_TOKEN_FILE" env-description:"file holding the bearer token, re-read on every connect"`
	TokenEnv  string `toml:"token_env" yaml:"token_env" env:"AIFSHOP_TOKEN_ENV" env-description:"environment variable holding the bearer token"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" env:"AIFSHOP_LOG_LEVEL" env-description:"debug, info, warn or error"`
	Format string `toml:"format" yaml:"format" env:"AIFSHOP_LOG_FORMAT" env-description:"pretty or json" validate:"omitempty,oneof=pretty json"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" env:"AIFSHOP_METRICS_ENABLED" env-description:"serve /metrics, /healthz and /readyz"`
	Addr    string `toml:"addr" yaml:"addr" env:"AIFSHOP_METRICS_ADDR" env-description:"metrics listen address" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Hub: HubConfig{
			BaseURL:           "http://127.0.0.1:8080",
			Path:              realtime.DefaultHubPath,
			AutoReconnect:     true,
			ReconnectDelays:   append([]time.Duration(nil), realtime.DefaultReconnectDelays...),
			Transport:         realtime.TransportWebSockets,
			KeepAliveInterval: 15 * time.Second,
		},
		REST: RESTConfig{
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     20,
		},
		Chat: ChatConfig{
			Enabled:         true,
			PollInterval:    5 * time.Second,
			PageSize:        20,
			MessagePageSize: 50,
		},
		Logging: LoggingConfig{Level: "info", Format: "pretty"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// LoadConfig reads path (TOML or YAML, chosen by extension) over the defaults
// and applies environment overrides. An empty path skips the file.
// ${VAR} references in the file are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := decodeConfig(path, expandEnvVars(string(data)), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// EnvHelp describes the environment variables LoadConfig reads.
func EnvHelp() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return desc
}

func decodeConfig(path, data string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		_, err := toml.Decode(data, cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing when unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

var validate = validator.New()

// Validate checks struct tags, then the rules that span fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	u, err := url.Parse(c.Hub.BaseURL)
	if err != nil {
		return fmt.Errorf("hub.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("hub.base_url must be http or https, got %q", c.Hub.BaseURL)
	}
	if _, err := c.HubURL(); err != nil {
		return fmt.Errorf("hub.path: %w", err)
	}
	if t := strings.TrimSpace(c.Hub.Transport); t != "" && !strings.EqualFold(t, realtime.TransportWebSockets) {
		return fmt.Errorf("hub.transport: %w: %q", realtime.ErrUnsupportedTransport, t)
	}
	for _, d := range c.Hub.ReconnectDelays {
		if d < 0 {
			return fmt.Errorf("hub.reconnect_delays: negative delay %s", d)
		}
	}
	if c.Hub.KeepAliveInterval == 0 {
		return errors.New("hub.keepalive_interval must be non-zero; use a negative value to disable pings")
	}
	if c.REST.Timeout <= 0 {
		return errors.New("rest.timeout must be positive")
	}
	if c.Chat.PollInterval <= 0 {
		return errors.New("chat.poll_interval must be positive")
	}
	if _, ok := parseLevel(c.Logging.Level); !ok && strings.TrimSpace(c.Logging.Level) != "" {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	return nil
}

// HubURL resolves the hub endpoint from the base URL and hub path.
func (c Config) HubURL() (string, error) {
	return realtime.ResolveHubURL(c.Hub.BaseURL, c.Hub.Path)
}

// TokenSource chains the configured token sources. With nothing configured it
// falls back to the AIFSHOP_TOKEN variable at call time.
func (c Config) TokenSource() oauth2.TokenSource {
	var srcs []oauth2.TokenSource
	if t := strings.TrimSpace(c.Auth.Token); t != "" {
		srcs = append(srcs, session.StaticSource(t))
	}
	if f := strings.TrimSpace(c.Auth.TokenFile); f != "" {
		srcs = append(srcs, session.FileSource(f))
	}
	if e := strings.TrimSpace(c.Auth.TokenEnv); e != "" {
		srcs = append(srcs, session.EnvSource(e))
	}
	if len(srcs) == 0 {
		return session.EnvSource("AIFSHOP_TOKEN")
	}
	return session.FirstOf(srcs...)
}

// RealtimeConfig builds the hub connection settings.
func (c Config) RealtimeConfig(tokens oauth2.TokenSource, m *realtime.Metrics) (realtime.Config, error) {
	hubURL, err := c.HubURL()
	if err != nil {
		return realtime.Config{}, err
	}
	return realtime.Config{
		HubURL:            hubURL,
		TokenSource:       tokens,
		AutoReconnect:     c.Hub.AutoReconnect,
		ReconnectDelays:   c.Hub.ReconnectDelays,
		SkipNegotiation:   c.Hub.SkipNegotiation,
		Transport:         c.Hub.Transport,
		KeepAliveInterval: c.Hub.KeepAliveInterval,
		Metrics:           m,
	}, nil
}
