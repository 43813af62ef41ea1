package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/workout-audio/pkg/mix"
	"github.com/realtime-ai/workout-audio/pkg/trace"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WORKOUT_CONFIG_FILE", "WORKOUT_LANGUAGE", "TTS_PROVIDER", "TTS_VOICE",
		"OPENAI_API_KEY", "OPENAI_TTS_MODEL", "ELEVENLABS_API_KEY", "ELEVENLABS_MODEL",
		"WORKOUT_TARGET_LUFS", "WORKOUT_BED_GAIN_DB", "WORKOUT_FORMAT", "WORKOUT_SPEECH_CONCURRENCY",
		"WORKOUT_COUNTDOWN", "WORKOUT_COUNTDOWN_FROM", "WORKOUT_COUNTDOWN_MIN_SECONDS",
		"WORKOUT_COUNTDOWN_PLACEMENT", "YTDLP_BINARY", "INVIDIOUS_INSTANCES", "BACKGROUND_CACHE_DIR",
		"BACKGROUND_RETRIES", "BACKGROUND_CONCURRENCY", "BACKGROUND_ATTEMPT_TIMEOUT",
		"HTTP_ADDR", "REQUEST_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
		"TRACE_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
	// Keep godotenv away from any .env in the package directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, "google", cfg.TTS.Provider)
	assert.Equal(t, -16.0, cfg.Audio.TargetLUFS)
	assert.Equal(t, -10.0, cfg.Audio.BedGainDB)
	assert.Equal(t, "mp3", cfg.Audio.Format)
	assert.True(t, cfg.Countdown.Enabled)
	assert.Equal(t, 5, cfg.Countdown.From)
	assert.Equal(t, 15, cfg.Countdown.MinSeconds)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Background.AttemptTimeout)
	assert.Equal(t, mix.DefaultPolicy(), cfg.CountdownPolicy())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKOUT_LANGUAGE", "fr")
	t.Setenv("TTS_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WORKOUT_FORMAT", "wav")
	t.Setenv("WORKOUT_TARGET_LUFS", "-14.5")
	t.Setenv("WORKOUT_COUNTDOWN_FROM", "3")
	t.Setenv("WORKOUT_COUNTDOWN_PLACEMENT", "leading")
	t.Setenv("INVIDIOUS_INSTANCES", "https://a.example, https://b.example,,")
	t.Setenv("BACKGROUND_ATTEMPT_TIMEOUT", "90s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fr", cfg.Language)
	assert.Equal(t, "wav", cfg.Audio.Format)
	assert.Equal(t, -14.5, cfg.Audio.TargetLUFS)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Background.InvidiousInstances)
	assert.Equal(t, 90*time.Second, cfg.Background.AttemptTimeout)
	assert.Equal(t, mix.ThresholdPolicy{Count: 3, Placement: mix.PlacementLeading, MinSeconds: 15}, cfg.CountdownPolicy())

	tc := cfg.TTSProviderConfig()
	assert.Equal(t, "openai", tc.Provider)
	assert.Equal(t, "sk-test", tc.OpenAIAPIKey)
	assert.True(t, cfg.LoggerConfig("test").JSON)
}

func TestLoadCountdownOff(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKOUT_COUNTDOWN", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, mix.NoCountdown, cfg.CountdownPolicy())
	count, _ := cfg.CountdownPolicy().Plan(0, workout.Instruction{Text: "x", DurationSeconds: 60})
	assert.Zero(t, count)
}

func TestLoadMalformedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKGROUND_RETRIES", "many")
	t.Setenv("WORKOUT_COUNTDOWN", "maybe")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKGROUND_RETRIES")
	assert.Contains(t, err.Error(), "WORKOUT_COUNTDOWN")
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
language: de
audio:
  format: wav
  bed_gain_db: -12
background:
  retries: 4
  attempt_timeout: 2m
  invidious_instances:
    - https://inv.example
server:
  request_timeout: 30s
`), 0o644))
	t.Setenv("WORKOUT_CONFIG_FILE", path)
	t.Setenv("WORKOUT_LANGUAGE", "es")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "es", cfg.Language, "environment wins over the file")
	assert.Equal(t, "wav", cfg.Audio.Format)
	assert.Equal(t, -12.0, cfg.Audio.BedGainDB)
	assert.Equal(t, -16.0, cfg.Audio.TargetLUFS, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Background.Retries)
	assert.Equal(t, 2*time.Minute, cfg.Background.AttemptTimeout)
	assert.Equal(t, []string{"https://inv.example"}, cfg.Background.InvidiousInstances)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKOUT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.TTS.Provider = "elevenlabs"
	cfg.Audio.Format = "ogg"
	cfg.Audio.TargetLUFS = 3
	cfg.Countdown.Placement = "middle"
	cfg.Background.Concurrency = 0
	cfg.Trace.Exporter = "zipkin"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"ELEVENLABS_API_KEY",
		`unsupported output format "ogg"`,
		"target loudness",
		`unknown countdown placement "middle"`,
		"background concurrency",
		`unknown trace exporter "zipkin"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateDisabledCountdownSkipsPolicyChecks(t *testing.T) {
	cfg := Default()
	cfg.Countdown.Enabled = false
	cfg.Countdown.From = 0
	cfg.Countdown.Placement = "nowhere"
	assert.NoError(t, cfg.Validate())
}

func TestTracingConfig(t *testing.T) {
	cfg := Default()
	cfg.Trace.Exporter = "otlp"
	cfg.Trace.OTLPEndpoint = "collector:4317"

	tc := cfg.TracingConfig()
	assert.Equal(t, trace.ExporterOTLP, tc.Exporter)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.Equal(t, "workout-audio", tc.Service)
}
