package callsdk

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment names a backend deployment.
type Environment string

const (
	Environment_Staging    Environment = "staging"
	Environment_Production Environment = "production"
	Environment_Custom     Environment = "custom"
)

var environmentHosts = map[Environment]string{
	Environment_Staging:    "sqecc-be.stg.squantumengine.com",
	Environment_Production: "sqecc-be.squantumengine.com",
}

// WebSocketPath is appended to WSBaseURL to reach the signaling endpoint.
const WebSocketPath = "web-widget/cable"

type Config struct {
	Environment       Environment       `mapstructure:"environment"`
	APIBaseURL        string            `mapstructure:"api_base_url"`
	WSBaseURL         string            `mapstructure:"ws_base_url"`
	WebsiteToken      string            `mapstructure:"website_token"`
	CommunicationMode CommunicationMode `mapstructure:"communication_mode"`

	// ProtocolVersion is the signaling protocol revision of the backend.
	ProtocolVersion string   `mapstructure:"protocol_version"`
	Kinds           []string `mapstructure:"kinds"`

	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

// DefaultConfig returns the staging configuration without a website token.
func DefaultConfig() Config {
	return Config{
		Environment:       Environment_Staging,
		CommunicationMode: CommunicationMode_AudioVideo,
		ProtocolVersion:   "1.0.0",
		Kinds:             []string{string(MediaKind_Audio), string(MediaKind_Video)},
		RequestTimeout:    RequestTimeout,
		HTTPTimeout:       10 * time.Second,
		HandshakeTimeout:  30 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingPeriod:        54 * time.Second,
		ReadLimit:         1 << 20,
	}
}

// LoadConfig reads a YAML file at path, if any, then CALLSDK_ environment
// variables on top of the defaults.
func LoadConfig(path string) (Config, error) {
	return LoadConfigFlags(path, nil)
}

// LoadConfigFlags is LoadConfig with command line flags taking precedence.
// A flag named "website-token" overrides the key "website_token".
func LoadConfigFlags(path string, flags *pflag.FlagSet) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("callsdk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", string(def.Environment))
	v.SetDefault("api_base_url", "")
	v.SetDefault("ws_base_url", "")
	v.SetDefault("website_token", "")
	v.SetDefault("communication_mode", string(def.CommunicationMode))
	v.SetDefault("protocol_version", def.ProtocolVersion)
	v.SetDefault("kinds", def.Kinds)
	v.SetDefault("request_timeout", def.RequestTimeout.String())
	v.SetDefault("http_timeout", def.HTTPTimeout.String())
	v.SetDefault("handshake_timeout", def.HandshakeTimeout.String())
	v.SetDefault("write_timeout", def.WriteTimeout.String())
	v.SetDefault("ping_period", def.PingPeriod.String())
	v.SetDefault("read_limit", def.ReadLimit)

	if flags != nil {
		var bindErr error

		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if isConfigKey(key) {
				if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
					bindErr = err
				}
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if len(path) > 0 {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isConfigKey(key string) bool {
	switch key {
	case "environment", "api_base_url", "ws_base_url", "website_token", "communication_mode",
		"protocol_version", "kinds", "request_timeout", "http_timeout", "handshake_timeout",
		"write_timeout", "ping_period", "read_limit":
		return true
	}
	return false
}

// Validate fills the base URLs from the environment preset and checks the
// required fields.
func (c *Config) Validate() error {
	if len(c.Environment) == 0 {
		c.Environment = Environment_Custom
	}
	if host, ok := environmentHosts[c.Environment]; ok {
		if len(c.APIBaseURL) == 0 {
			c.APIBaseURL = "https://" + host
		}
		if len(c.WSBaseURL) == 0 {
			c.WSBaseURL = "wss://" + host
		}
	} else if c.Environment != Environment_Custom {
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if len(c.WebsiteToken) == 0 {
		return errors.New("website_token is required")
	}
	for name, raw := range map[string]string{"api_base_url": c.APIBaseURL, "ws_base_url": c.WSBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || len(u.Scheme) == 0 || len(u.Host) == 0 {
			return fmt.Errorf("invalid %s %q", name, raw)
		}
	}
	if len(c.CommunicationMode) == 0 {
		c.CommunicationMode = CommunicationMode_AudioVideo
	}
	if len(c.ProtocolVersion) == 0 {
		c.ProtocolVersion = "1.0.0"
	}
	if _, err := version.NewVersion(c.ProtocolVersion); err != nil {
		return fmt.Errorf("invalid protocol_version: %w", err)
	}
	if _, err := c.MediaKinds(); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = RequestTimeout
	}
	return nil
}

// MediaKinds returns the configured kinds, audio and video if none.
func (c Config) MediaKinds() ([]MediaKind, error) {
	if len(c.Kinds) == 0 {
		return []MediaKind{MediaKind_Audio, MediaKind_Video}, nil
	}
	kinds := make([]MediaKind, 0, len(c.Kinds))
	seen := make(map[MediaKind]bool)

	for _, k := range c.Kinds {
		kind := MediaKind(strings.ToLower(strings.TrimSpace(k)))
		if !kind.Valid() {
			return nil, fmt.Errorf("invalid kind %q", k)
		}
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// SignalingURL returns the WebSocket endpoint.
func (c Config) SignalingURL() string {
	return strings.TrimRight(c.WSBaseURL, "/") + "/" + WebSocketPath
}

// approvalEvents returns the push events that approve a room join under the
// configured protocol revision.
func (c Config) approvalEvents() map[Event]bool {
	events := map[Event]bool{EventRequestToJoinApproved: true}

	current, err := version.NewVersion(c.ProtocolVersion)
	if err != nil {
		return events
	}
	if current.GreaterThanOrEqual(version.Must(version.NewVersion("2.0.0"))) {
		events[EventUserJoinedMeetingRoom] = true
	}
	return events
}
