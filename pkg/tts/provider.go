package tts

import (
	"context"
	"fmt"
	"strings"
)

// Encodings reported in AudioFormat.Encoding.
const (
	EncodingPCM = "pcm_s16le" // raw little-endian 16-bit PCM
	EncodingMP3 = "mp3"
	EncodingWAV = "wav"
)

// AudioFormat defines the audio format configuration
type AudioFormat struct {
	SampleRate int    // Sample rate in Hz (e.g., 24000, 16000)
	Channels   int    // Number of audio channels (1 for mono, 2 for stereo)
	MediaType  string // MIME type, e.g. "audio/mpeg"
	Encoding   string // Audio encoding format (e.g., "pcm_s16le", "mp3")
}

// IsRawPCM reports whether the data can be used without a container decoder.
func (f AudioFormat) IsRawPCM() bool {
	return f.Encoding == EncodingPCM
}

// SynthesizeRequest represents a request to synthesize speech
type SynthesizeRequest struct {
	Text     string                 // Text to synthesize
	Voice    string                 // Voice ID or name
	Language string                 // Language code (e.g., "en", "de")
	Options  map[string]interface{} // Additional provider-specific options
}

// SynthesizeResponse represents the response from speech synthesis
type SynthesizeResponse struct {
	AudioData   []byte      // Raw audio data
	AudioFormat AudioFormat // Format of the audio data
}

// TTSProvider defines the interface that all TTS services must implement
type TTSProvider interface {
	// Name returns the name of the TTS provider (e.g., "google", "openai", "elevenlabs")
	Name() string

	// Synthesize converts text to speech
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// GetDefaultVoice returns the default voice for this provider
	GetDefaultVoice() string

	// ValidateConfig validates the provider's configuration
	// Returns an error if credentials or required settings are missing
	ValidateConfig() error
}

// Config selects and configures a provider.
type Config struct {
	Provider string // "google" (default), "openai" or "elevenlabs"
	Voice    string

	OpenAIAPIKey string
	OpenAIModel  string

	ElevenLabsAPIKey string
	ElevenLabsModel  string
}

// NewProvider builds the provider named in cfg and validates its settings.
func NewProvider(cfg Config) (TTSProvider, error) {
	var p TTSProvider
	switch strings.ToLower(cfg.Provider) {
	case "", "google", "gtts":
		p = NewGoogleTTSProvider()
	case "openai":
		op := NewOpenAITTSProvider(cfg.OpenAIAPIKey)
		if cfg.OpenAIModel != "" {
			op.SetModel(cfg.OpenAIModel)
		}
		if cfg.Voice != "" {
			op.voice = cfg.Voice
		}
		p = op
	case "elevenlabs":
		ep, err := NewElevenLabsTTSProvider(ElevenLabsTTSConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.Voice,
			Model:   cfg.ElevenLabsModel,
		})
		if err != nil {
			return nil, err
		}
		p = ep
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.Provider)
	}

	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	return p, nil
}
