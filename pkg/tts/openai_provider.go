package tts

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sashabaranov/go-openai"
)

const (
	openAIDefaultModel      = "tts-1"
	openAIDefaultVoice      = "alloy"
	openAIDefaultSampleRate = 24000
)

// OpenAI supported voices
var openAIVoices = []string{
	"alloy",   // Neutral and balanced
	"echo",    // More expressive
	"fable",   // British accent
	"onyx",    // Deep and authoritative
	"nova",    // Energetic and lively
	"shimmer", // Soft and gentle
}

// OpenAITTSProvider implements TTSProvider for OpenAI's speech API. It asks
// for raw PCM so no container decoding is needed.
type OpenAITTSProvider struct {
	apiKey string
	model  string // "tts-1" or "tts-1-hd"
	voice  string
	client *openai.Client
}

// NewOpenAITTSProvider creates a new OpenAI TTS provider
func NewOpenAITTSProvider(apiKey string) *OpenAITTSProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &OpenAITTSProvider{
		apiKey: apiKey,
		model:  openAIDefaultModel,
		voice:  openAIDefaultVoice,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// SetBaseURL points the client at another OpenAI-compatible server.
func (p *OpenAITTSProvider) SetBaseURL(baseURL string) {
	clientConfig := openai.DefaultConfig(p.apiKey)
	clientConfig.BaseURL = baseURL
	p.client = openai.NewClientWithConfig(clientConfig)
}

// Name returns the provider name
func (p *OpenAITTSProvider) Name() string {
	return "openai"
}

// SetModel sets the TTS model ("tts-1" or "tts-1-hd")
func (p *OpenAITTSProvider) SetModel(model string) {
	p.model = model
}

// Synthesize converts text to 24kHz mono PCM. The language is inferred by
// the model from the text itself.
func (p *OpenAITTSProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	speed := 1.0
	if req.Options != nil {
		if s, ok := req.Options["speed"].(float64); ok {
			speed = s
		}
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &SynthesizeResponse{
		AudioData: audioData,
		AudioFormat: AudioFormat{
			SampleRate: openAIDefaultSampleRate,
			Channels:   1,
			MediaType:  "audio/pcm",
			Encoding:   EncodingPCM,
		},
	}, nil
}

// GetSupportedVoices returns the list of supported OpenAI voices
func (p *OpenAITTSProvider) GetSupportedVoices() []string {
	return openAIVoices
}

// GetDefaultVoice returns the default voice
func (p *OpenAITTSProvider) GetDefaultVoice() string {
	return p.voice
}

// ValidateConfig validates the provider configuration
func (p *OpenAITTSProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("OpenAI API key is not set. Please set OPENAI_API_KEY environment variable")
	}
	return nil
}
