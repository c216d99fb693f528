package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/dumpvoice/internal/store"
)

type Audio struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleDuration time.Duration `mapstructure:"sample_duration"`
	MaxStreams     int           `mapstructure:"max_streams"`
}

type Store struct {
	Driver string     `mapstructure:"driver"`
	DSN    string     `mapstructure:"dsn"`
	Seed   store.Seed `mapstructure:"seed"`
}

type Config struct {
	Mode               string        `mapstructure:"mode"`
	Port               int           `mapstructure:"port"`
	LogLevel           string        `mapstructure:"log_level"`
	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	SendBuffer         int           `mapstructure:"send_buffer"`
	Secret             string        `mapstructure:"secret"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	TokenTTL           time.Duration `mapstructure:"token_ttl"`
	RelayToSender      bool          `mapstructure:"relay_to_sender"`
	BackpressurePolicy string        `mapstructure:"backpressure_policy"`
	HandshakeLimit     int           `mapstructure:"handshake_limit"`
	HandshakeInterval  time.Duration `mapstructure:"handshake_interval"`
	StunURLs           []string      `mapstructure:"stun_urls"`
	Audio              Audio         `mapstructure:"audio"`
	Store              Store         `mapstructure:"store"`
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// VOICE_* environment variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("voice")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "dumpvoice-cookie-secret")
	v.SetDefault("jwt_secret", "dumpvoice-jwt-secret")
	v.SetDefault("token_ttl", "30m")
	v.SetDefault("relay_to_sender", false)
	v.SetDefault("backpressure_policy", "ignore")
	v.SetDefault("handshake_limit", 10)
	v.SetDefault("handshake_interval", "1m")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.sample_duration", "20ms")
	v.SetDefault("audio.max_streams", 0)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.BackpressurePolicy {
	case "ignore", "kick":
	default:
		return fmt.Errorf("unknown backpressure_policy %q", c.BackpressurePolicy)
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	return nil
}
