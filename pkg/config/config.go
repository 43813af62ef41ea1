// Package config loads service settings from the environment and parses
// workout description files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/loudness"
	"github.com/realtime-ai/workout-audio/pkg/mix"
	"github.com/realtime-ai/workout-audio/pkg/trace"
	"github.com/realtime-ai/workout-audio/pkg/tts"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// Config holds all service settings.
type Config struct {
	Language   string           `yaml:"language"`
	TTS        TTSConfig        `yaml:"tts"`
	Audio      AudioConfig      `yaml:"audio"`
	Countdown  CountdownConfig  `yaml:"countdown"`
	Background BackgroundConfig `yaml:"background"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Trace      TraceConfig      `yaml:"trace"`
}

// TTSConfig selects the speech provider.
type TTSConfig struct {
	Provider         string `yaml:"provider"`
	Voice            string `yaml:"voice"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIModel      string `yaml:"openai_model"`
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key"`
	ElevenLabsModel  string `yaml:"elevenlabs_model"`
}

// AudioConfig controls mixing, loudness and output encoding.
type AudioConfig struct {
	TargetLUFS        float64 `yaml:"target_lufs"`
	BedGainDB         float64 `yaml:"bed_gain_db"`
	Format            string  `yaml:"format"`
	SpeechConcurrency int     `yaml:"speech_concurrency"`
}

// CountdownConfig describes when a spoken countdown is added to a slot.
type CountdownConfig struct {
	Enabled    bool   `yaml:"enabled"`
	From       int    `yaml:"from"`
	MinSeconds int    `yaml:"min_seconds"`
	Placement  string `yaml:"placement"`
}

// BackgroundConfig controls music bed acquisition.
type BackgroundConfig struct {
	YtDLPBinary        string        `yaml:"ytdlp_binary"`
	InvidiousInstances []string      `yaml:"invidious_instances"`
	CacheDir           string        `yaml:"cache_dir"`
	Retries            int           `yaml:"retries"`
	Concurrency        int           `yaml:"concurrency"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	Exporter     string `yaml:"exporter"` // none, stdout or otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Language: workout.DefaultLanguage,
		TTS: TTSConfig{
			Provider: "google",
		},
		Audio: AudioConfig{
			TargetLUFS:        loudness.DefaultTargetLUFS,
			BedGainDB:         mix.DefaultBedGainDB,
			Format:            "mp3",
			SpeechConcurrency: 4,
		},
		Countdown: CountdownConfig{
			Enabled:    true,
			From:       mix.DefaultCountdownFrom,
			MinSeconds: mix.DefaultCountdownMinSeconds,
			Placement:  mix.PlacementTrailing.String(),
		},
		Background: BackgroundConfig{
			YtDLPBinary:    "yt-dlp",
			CacheDir:       defaultCacheDir(),
			Retries:        2,
			Concurrency:    3,
			AttemptTimeout: 5 * time.Minute,
		},
		Server: ServerConfig{
			Addr:           ":8000",
			RequestTimeout: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Trace: TraceConfig{
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return dir + string(os.PathSeparator) + "workout-audio"
}

// Load builds the configuration: defaults, then the YAML file named by
// WORKOUT_CONFIG_FILE, then individual environment variables. A .env file
// in the working directory is read first and never overrides variables that
// are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("WORKOUT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	var errs []string
	cfg.applyEnv(&errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(errs *[]string) {
	c.Language = getEnv("WORKOUT_LANGUAGE", c.Language)

	c.TTS.Provider = getEnv("TTS_PROVIDER", c.TTS.Provider)
	c.TTS.Voice = getEnv("TTS_VOICE", c.TTS.Voice)
	c.TTS.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.TTS.OpenAIAPIKey)
	c.TTS.OpenAIModel = getEnv("OPENAI_TTS_MODEL", c.TTS.OpenAIModel)
	c.TTS.ElevenLabsAPIKey = getEnv("ELEVENLABS_API_KEY", c.TTS.ElevenLabsAPIKey)
	c.TTS.ElevenLabsModel = getEnv("ELEVENLABS_MODEL", c.TTS.ElevenLabsModel)

	c.Audio.TargetLUFS = getEnvFloat("WORKOUT_TARGET_LUFS", c.Audio.TargetLUFS, errs)
	c.Audio.BedGainDB = getEnvFloat("WORKOUT_BED_GAIN_DB", c.Audio.BedGainDB, errs)
	c.Audio.Format = getEnv("WORKOUT_FORMAT", c.Audio.Format)
	c.Audio.SpeechConcurrency = getEnvInt("WORKOUT_SPEECH_CONCURRENCY", c.Audio.SpeechConcurrency, errs)

	c.Countdown.Enabled = getEnvSwitch("WORKOUT_COUNTDOWN", c.Countdown.Enabled, errs)
	c.Countdown.From = getEnvInt("WORKOUT_COUNTDOWN_FROM", c.Countdown.From, errs)
	c.Countdown.MinSeconds = getEnvInt("WORKOUT_COUNTDOWN_MIN_SECONDS", c.Countdown.MinSeconds, errs)
	c.Countdown.Placement = getEnv("WORKOUT_COUNTDOWN_PLACEMENT", c.Countdown.Placement)

	c.Background.YtDLPBinary = getEnv("YTDLP_BINARY", c.Background.YtDLPBinary)
	if v := getEnv("INVIDIOUS_INSTANCES", ""); v != "" {
		c.Background.InvidiousInstances = splitList(v)
	}
	c.Background.CacheDir = getEnv("BACKGROUND_CACHE_DIR", c.Background.CacheDir)
	c.Background.Retries = getEnvInt("BACKGROUND_RETRIES", c.Background.Retries, errs)
	c.Background.Concurrency = getEnvInt("BACKGROUND_CONCURRENCY", c.Background.Concurrency, errs)
	c.Background.AttemptTimeout = getEnvDuration("BACKGROUND_ATTEMPT_TIMEOUT", c.Background.AttemptTimeout, errs)

	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout, errs)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Trace.Exporter = getEnv("TRACE_EXPORTER", c.Trace.Exporter)
	c.Trace.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Trace.OTLPEndpoint)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.TTS.Provider) {
	case "", "google", "gtts":
	case "openai":
		if c.TTS.OpenAIAPIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required for the openai provider")
		}
	case "elevenlabs":
		if c.TTS.ElevenLabsAPIKey == "" {
			errs = append(errs, "ELEVENLABS_API_KEY is required for the elevenlabs provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown TTS provider %q", c.TTS.Provider))
	}

	switch strings.ToLower(c.Audio.Format) {
	case "mp3", "wav":
	default:
		errs = append(errs, fmt.Sprintf("unsupported output format %q", c.Audio.Format))
	}
	if c.Audio.TargetLUFS >= 0 {
		errs = append(errs, "target loudness must be negative")
	}
	if c.Audio.BedGainDB > 0 {
		errs = append(errs, "bed gain must not be positive")
	}
	if c.Audio.SpeechConcurrency < 1 {
		errs = append(errs, "speech concurrency must be at least 1")
	}

	if c.Countdown.Enabled {
		if c.Countdown.From < 1 {
			errs = append(errs, "countdown must start from at least 1")
		}
		if c.Countdown.MinSeconds < 0 {
			errs = append(errs, "countdown minimum slot must not be negative")
		}
		if _, err := mix.ParsePlacement(c.Countdown.Placement); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.Background.Retries < 0 {
		errs = append(errs, "background retries must not be negative")
	}
	if c.Background.Concurrency < 1 {
		errs = append(errs, "background concurrency must be at least 1")
	}
	if c.Background.AttemptTimeout <= 0 {
		errs = append(errs, "background attempt timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "request timeout must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Trace.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Sprintf("unknown trace exporter %q", c.Trace.Exporter))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed: " + strings.Join(errs, "; "))
	}
	return nil
}

// CountdownPolicy returns the policy the countdown settings describe.
func (c *Config) CountdownPolicy() mix.CountdownPolicy {
	if !c.Countdown.Enabled {
		return mix.NoCountdown
	}
	placement, err := mix.ParsePlacement(c.Countdown.Placement)
	if err != nil {
		placement = mix.PlacementTrailing
	}
	return mix.ThresholdPolicy{
		Count:      c.Countdown.From,
		Placement:  placement,
		MinSeconds: c.Countdown.MinSeconds,
	}
}

// TTSProviderConfig returns the settings for tts.NewProvider.
func (c *Config) TTSProviderConfig() tts.Config {
	return tts.Config{
		Provider:         c.TTS.Provider,
		Voice:            c.TTS.Voice,
		OpenAIAPIKey:     c.TTS.OpenAIAPIKey,
		OpenAIModel:      c.TTS.OpenAIModel,
		ElevenLabsAPIKey: c.TTS.ElevenLabsAPIKey,
		ElevenLabsModel:  c.TTS.ElevenLabsModel,
	}
}

// LoggerConfig returns the settings for logger.New.
func (c *Config) LoggerConfig(name string) logger.Config {
	return logger.Config{
		Name:  name,
		Level: c.Log.Level,
		JSON:  strings.EqualFold(c.Log.Format, "json"),
		File:  c.Log.File,
	}
}

// TracingConfig returns the settings for trace.Initialize.
func (c *Config) TracingConfig() *trace.Config {
	tc := trace.DefaultConfig()
	tc.Exporter = strings.ToLower(c.Trace.Exporter)
	tc.OTLPEndpoint = c.Trace.OTLPEndpoint
	return tc
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]string) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]string) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a number", key, value))
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}

func getEnvSwitch(key string, defaultValue bool, errs *[]string) bool {
	value := getEnv(key, "")
	switch strings.ToLower(value) {
	case "":
		return defaultValue
	case "on", "true", "1", "yes":
		return true
	case "off", "false", "0", "no":
		return false
	default:
		*errs = append(*errs, fmt.Sprintf("%s: %q is not on or off", key, value))
		return defaultValue
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
