// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	VAD      VADConfig      `mapstructure:"vad" yaml:"vad"`
	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Mission  MissionConfig  `mapstructure:"mission" yaml:"mission"`
	// Session gets its marching orders from CLI flags, not the config file.
	Session SessionConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AudioConfig tunes microphone capture and speaker playback.
type AudioConfig struct {
	// Capture side. The agent expects 16 kHz mono s16le frames.
	CaptureSampleRate int           `mapstructure:"capture_sample_rate" yaml:"capture_sample_rate"`
	FrameDuration     time.Duration `mapstructure:"frame_duration" yaml:"frame_duration"`
	CaptureDevice     string        `mapstructure:"capture_device" yaml:"capture_device"`

	// Playback side. Incoming chunks are pcm_f32le unless the session
	// negotiates otherwise.
	PlaybackSampleRate int           `mapstructure:"playback_sample_rate" yaml:"playback_sample_rate"`
	InitialBuffer      time.Duration `mapstructure:"initial_buffer" yaml:"initial_buffer"`
	EndDebounce        time.Duration `mapstructure:"end_debounce" yaml:"end_debounce"`
	PreBufferChunks    int           `mapstructure:"pre_buffer_chunks" yaml:"pre_buffer_chunks"`
}

// VADConfig tunes the energy based voice activity detector.
type VADConfig struct {
	EnergyThreshold   float64       `mapstructure:"energy_threshold" yaml:"energy_threshold"`
	SilenceThreshold  float64       `mapstructure:"silence_threshold" yaml:"silence_threshold"`
	MinSpeechDuration time.Duration `mapstructure:"min_speech_duration" yaml:"min_speech_duration"`
	SilenceTimeout    time.Duration `mapstructure:"silence_timeout" yaml:"silence_timeout"`
}

// ProtocolConfig tunes the websocket link to the agent backend.
type ProtocolConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
	MaxReconnectTries int           `mapstructure:"max_reconnect_tries" yaml:"max_reconnect_tries"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleMaxWait     time.Duration `mapstructure:"settle_max_wait" yaml:"settle_max_wait"`
	SettleQuiet       time.Duration `mapstructure:"settle_quiet" yaml:"settle_quiet"`
	ScrollSettleQuiet time.Duration `mapstructure:"scroll_settle_quiet" yaml:"scroll_settle_quiet"`
	MaxElements       int           `mapstructure:"max_elements" yaml:"max_elements"`
}

// MissionConfig controls persistence of in flight mission state.
type MissionConfig struct {
	Dir       string        `mapstructure:"dir" yaml:"dir"`
	Freshness time.Duration `mapstructure:"freshness" yaml:"freshness"`
}

// SessionConfig holds settings populated from CLI flags for a single run.
type SessionConfig struct {
	TargetURL       string
	ServerURL       string
	InteractionMode string
	Goal            string
	Turbo           bool
	Resume          bool
	Mute            bool
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "copilot")
	v.SetDefault("logger.log_file", "copilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Audio --
	v.SetDefault("audio.capture_sample_rate", 16000)
	v.SetDefault("audio.frame_duration", "20ms")
	v.SetDefault("audio.capture_device", "default")
	v.SetDefault("audio.playback_sample_rate", 44100)
	v.SetDefault("audio.initial_buffer", "20ms")
	v.SetDefault("audio.end_debounce", "500ms")
	v.SetDefault("audio.pre_buffer_chunks", 3)

	// -- VAD --
	v.SetDefault("vad.energy_threshold", 0.018)
	v.SetDefault("vad.silence_threshold", 0.015)
	v.SetDefault("vad.min_speech_duration", "250ms")
	v.SetDefault("vad.silence_timeout", "1s")

	// -- Protocol --
	v.SetDefault("protocol.handshake_timeout", "15s")
	v.SetDefault("protocol.ping_interval", "30s")
	v.SetDefault("protocol.write_timeout", "10s")
	v.SetDefault("protocol.reconnect_max", "30s")
	v.SetDefault("protocol.max_reconnect_tries", 5)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.settle_max_wait", "3s")
	v.SetDefault("browser.settle_quiet", "300ms")
	v.SetDefault("browser.scroll_settle_quiet", "800ms")
	v.SetDefault("browser.max_elements", 400)

	// -- Mission --
	v.SetDefault("mission.freshness", "5m")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Audio.CaptureSampleRate <= 0 {
		return fmt.Errorf("audio.capture_sample_rate must be a positive integer")
	}
	if c.Audio.PlaybackSampleRate <= 0 {
		return fmt.Errorf("audio.playback_sample_rate must be a positive integer")
	}
	if c.Audio.FrameDuration <= 0 {
		return fmt.Errorf("audio.frame_duration must be a positive duration")
	}
	if c.VAD.EnergyThreshold <= 0 {
		return fmt.Errorf("vad.energy_threshold must be greater than 0")
	}
	if c.VAD.SilenceThreshold > c.VAD.EnergyThreshold {
		return fmt.Errorf("vad.silence_threshold must not exceed vad.energy_threshold")
	}
	if c.Browser.MaxElements <= 0 {
		return fmt.Errorf("browser.max_elements must be a positive integer")
	}
	if c.Browser.SettleQuiet <= 0 || c.Browser.SettleMaxWait < c.Browser.SettleQuiet {
		return fmt.Errorf("browser.settle_max_wait must be at least browser.settle_quiet")
	}
	if c.Mission.Freshness <= 0 {
		return fmt.Errorf("mission.freshness must be a positive duration")
	}
	return nil
}
