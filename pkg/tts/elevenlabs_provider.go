// ElevenLabs TTS Provider
//
// Implements TTSProvider using the ElevenLabs text-to-speech HTTP API.
// Outputs 16kHz mono PCM audio.
//
// Reference: https://elevenlabs.io/docs/api-reference/text-to-speech/convert

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	elevenLabsEndpoint     = "https://api.elevenlabs.io/v1/text-to-speech"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel
	elevenLabsOutputFormat = "pcm_16000"            // 16kHz mono PCM
	elevenLabsSampleRate   = 16000
)

// ElevenLabsTTSConfig holds the configuration for ElevenLabs TTS
type ElevenLabsTTSConfig struct {
	APIKey          string  // Required: ElevenLabs API key
	VoiceID         string  // Optional: Voice ID (default: Rachel)
	Model           string  // Optional: Model ID (default: eleven_multilingual_v2)
	Speed           float64 // Optional: Speed 0.7-1.2 (default: 1.0)
	Stability       float64 // Optional: Voice stability 0-1 (default: 0.5)
	SimilarityBoost float64 // Optional: Similarity boost 0-1 (default: 0.75)
	Endpoint        string  // Optional: API base, for proxies and tests
}

// ElevenLabsTTSProvider implements TTSProvider over HTTP
type ElevenLabsTTSProvider struct {
	apiKey          string
	voiceID         string
	model           string
	speed           float64
	stability       float64
	similarityBoost float64
	endpoint        string
	httpClient      *http.Client
}

// NewElevenLabsTTSProvider creates a new ElevenLabs TTS provider
func NewElevenLabsTTSProvider(config ElevenLabsTTSConfig) (*ElevenLabsTTSProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key is required")
	}

	p := &ElevenLabsTTSProvider{
		apiKey:          config.APIKey,
		voiceID:         config.VoiceID,
		model:           config.Model,
		speed:           config.Speed,
		stability:       config.Stability,
		similarityBoost: config.SimilarityBoost,
		endpoint:        config.Endpoint,
		httpClient:      &http.Client{},
	}
	if p.voiceID == "" {
		p.voiceID = elevenLabsDefaultVoice
	}
	if p.model == "" {
		p.model = elevenLabsDefaultModel
	}
	if p.speed == 0 {
		p.speed = 1.0
	}
	if p.stability == 0 {
		p.stability = 0.5
	}
	if p.similarityBoost == 0 {
		p.similarityBoost = 0.75
	}
	if p.endpoint == "" {
		p.endpoint = elevenLabsEndpoint
	}
	return p, nil
}

// Name returns the provider name
func (p *ElevenLabsTTSProvider) Name() string {
	return "elevenlabs"
}

// Synthesize converts text to speech
func (p *ElevenLabsTTSProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	voiceID := req.Voice
	if voiceID == "" {
		voiceID = p.voiceID
	}

	params := url.Values{}
	params.Set("output_format", elevenLabsOutputFormat)
	requestURL := fmt.Sprintf("%s/%s?%s", p.endpoint, url.PathEscape(voiceID), params.Encode())

	requestBody := elevenLabsRequestBody{
		Text:         req.Text,
		ModelID:      p.model,
		LanguageCode: req.Language,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       p.stability,
			SimilarityBoost: p.similarityBoost,
			Speed:           p.speed,
		},
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &SynthesizeResponse{
		AudioData: audioData,
		AudioFormat: AudioFormat{
			SampleRate: elevenLabsSampleRate,
			Channels:   1,
			MediaType:  "audio/pcm",
			Encoding:   EncodingPCM,
		},
	}, nil
}

// GetDefaultVoice returns the configured voice ID
func (p *ElevenLabsTTSProvider) GetDefaultVoice() string {
	return p.voiceID
}

// ValidateConfig validates the provider configuration
func (p *ElevenLabsTTSProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("ElevenLabs API key is not set")
	}
	if p.voiceID == "" {
		return fmt.Errorf("ElevenLabs Voice ID is not set")
	}
	return nil
}

// HTTP request body types

type elevenLabsRequestBody struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	LanguageCode  string                   `json:"language_code,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

var _ TTSProvider = (*ElevenLabsTTSProvider)(nil)
