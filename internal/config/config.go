package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrMissingSecret = errors.New("secret is required in release mode")

type Config struct {
	Mode         string        `mapstructure:"mode"`
	LogLevel     string        `mapstructure:"log_level"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	SignalLimit  int           `mapstructure:"signal_limit"`
	SignalWindow time.Duration `mapstructure:"signal_window"`
	Backpressure string        `mapstructure:"backpressure"`

	World WorldConfig `mapstructure:"world"`
	Voice VoiceConfig `mapstructure:"voice"`
	Agent AgentConfig `mapstructure:"agent"`
}

type WorldConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	VoiceRange   float64       `mapstructure:"voice_range"`
	Bots         int           `mapstructure:"bots"`
	SpawnRadius  float64       `mapstructure:"spawn_radius"`
	Wander       float64       `mapstructure:"wander"`
	Seed         uint64        `mapstructure:"seed"`
	BotMinBand   float64       `mapstructure:"bot_min_band"`
	BotMaxBand   float64       `mapstructure:"bot_max_band"`
	BotSpring    float64       `mapstructure:"bot_spring"`
}

type VoiceConfig struct {
	GatingMode             string        `mapstructure:"gating_mode"`
	VADThreshold           float64       `mapstructure:"vad_threshold"`
	Sensitivity            float64       `mapstructure:"sensitivity"`
	FFTSize                int           `mapstructure:"fft_size"`
	Smoothing              float64       `mapstructure:"smoothing"`
	FrameInterval          time.Duration `mapstructure:"frame_interval"`
	MasterVolume           float64       `mapstructure:"master_volume"`
	GainTimeConstant       time.Duration `mapstructure:"gain_time_constant"`
	NegotiationTimeout     time.Duration `mapstructure:"negotiation_timeout"`
	MaxNegotiationAttempts int           `mapstructure:"max_negotiation_attempts"`
	RetryCooldown          time.Duration `mapstructure:"retry_cooldown"`
	ICEServers             []string      `mapstructure:"ice_servers"`
}

type AgentConfig struct {
	ServerURL    string        `mapstructure:"server_url"`
	World        string        `mapstructure:"world"`
	Name         string        `mapstructure:"name"`
	X            float64       `mapstructure:"x"`
	Y            float64       `mapstructure:"y"`
	MicSource    string        `mapstructure:"mic_source"`
	SampleRate   int           `mapstructure:"sample_rate"`
	Output       string        `mapstructure:"output"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("signal_limit", 200)
	v.SetDefault("signal_window", "10s")
	v.SetDefault("backpressure", "kick")

	v.SetDefault("world.tick_interval", "100ms")
	v.SetDefault("world.voice_range", 300.0)
	v.SetDefault("world.bots", 6)
	v.SetDefault("world.spawn_radius", 500.0)
	v.SetDefault("world.wander", 0.15)
	v.SetDefault("world.seed", 1)
	v.SetDefault("world.bot_min_band", 40.0)
	v.SetDefault("world.bot_max_band", 400.0)
	v.SetDefault("world.bot_spring", 0.002)

	v.SetDefault("voice.gating_mode", "vad")
	v.SetDefault("voice.vad_threshold", 0.15)
	v.SetDefault("voice.sensitivity", 0.5)
	v.SetDefault("voice.fft_size", 256)
	v.SetDefault("voice.smoothing", 0.8)
	v.SetDefault("voice.frame_interval", "16ms")
	v.SetDefault("voice.master_volume", 1.0)
	v.SetDefault("voice.gain_time_constant", "100ms")
	v.SetDefault("voice.negotiation_timeout", "15s")
	v.SetDefault("voice.max_negotiation_attempts", 3)
	v.SetDefault("voice.retry_cooldown", "1m")
	v.SetDefault("voice.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("agent.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("agent.world", "main")
	v.SetDefault("agent.name", "agent")
	v.SetDefault("agent.sample_rate", 8000)
	v.SetDefault("agent.reconnect_min", "1s")
	v.SetDefault("agent.reconnect_max", "30s")
}

// agentFlagKeys maps voice-agent flags to config keys.
var agentFlagKeys = map[string]string{
	"server":    "agent.server_url",
	"world":     "agent.world",
	"name":      "agent.name",
	"x":         "agent.x",
	"y":         "agent.y",
	"mic":       "agent.mic_source",
	"output":    "agent.output",
	"gating":    "voice.gating_mode",
	"volume":    "voice.master_volume",
	"log-level": "log_level",
}

// AgentFlags declares the voice-agent command line. Unset flags leave the
// file and environment values alone.
func AgentFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voice-agent", pflag.ContinueOnError)
	fs.String("server", "", "relay websocket url")
	fs.String("world", "", "world to join")
	fs.String("name", "", "display name")
	fs.Float64("x", 0, "initial x position")
	fs.Float64("y", 0, "initial y position")
	fs.String("mic", "", "PCM source file, - for stdin, empty for silence")
	fs.String("output", "", "PCM output file, empty to discard")
	fs.String("gating", "", "vad or ptt")
	fs.Float64("volume", 1, "master volume in [0, 1]")
	fs.String("log-level", "", "log level")
	return fs
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. VOICE_*
// environment variables and flags (when given) override the file.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range agentFlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

// SessionKey returns the cookie session signing key. Release mode needs a
// configured secret; other modes get a random key that lasts for the
// process.
func (c *Config) SessionKey() ([]byte, error) {
	if c.Secret != "" {
		return []byte(c.Secret), nil
	}
	if c.Mode == "release" {
		return nil, ErrMissingSecret
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	log.Warn().Str("module", "config").Str("mode", c.Mode).Msg("no secret configured, sessions reset on restart")
	return key, nil
}
