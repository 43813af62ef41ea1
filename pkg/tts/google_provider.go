package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	googleTTSEndpoint     = "https://translate.google.com/translate_tts"
	googleMaxChunkRunes   = 100
	googleDefaultLanguage = "en"
	googleSampleRate      = 24000
	googleUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// GoogleTTSProvider speaks through the public Google Translate TTS endpoint.
// It needs no credentials. The endpoint rejects long input, so text is sent
// in chunks of at most 100 characters and the returned MP3 streams are
// concatenated (MP3 frames are self-delimiting).
type GoogleTTSProvider struct {
	endpoint   string
	slow       bool
	httpClient *http.Client
}

// NewGoogleTTSProvider creates a provider using the public endpoint.
func NewGoogleTTSProvider() *GoogleTTSProvider {
	return &GoogleTTSProvider{
		endpoint:   googleTTSEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetEndpoint overrides the endpoint URL.
func (p *GoogleTTSProvider) SetEndpoint(endpoint string) {
	p.endpoint = endpoint
}

// SetSlow selects the slower speaking rate.
func (p *GoogleTTSProvider) SetSlow(slow bool) {
	p.slow = slow
}

// Name returns the provider name
func (p *GoogleTTSProvider) Name() string {
	return "google"
}

// Synthesize converts text to MP3 speech.
func (p *GoogleTTSProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	chunks := SplitText(req.Text, googleMaxChunkRunes)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text to speak")
	}

	lang := req.Language
	if lang == "" {
		lang = googleDefaultLanguage
	}

	var audioData []byte
	for i, chunk := range chunks {
		data, err := p.fetch(ctx, chunk, lang, i, len(chunks))
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audioData = append(audioData, data...)
	}

	return &SynthesizeResponse{
		AudioData: audioData,
		AudioFormat: AudioFormat{
			SampleRate: googleSampleRate,
			Channels:   1,
			MediaType:  "audio/mpeg",
			Encoding:   EncodingMP3,
		},
	}, nil
}

func (p *GoogleTTSProvider) fetch(ctx context.Context, text, lang string, idx, total int) ([]byte, error) {
	speed := "1"
	if p.slow {
		speed = "0.3"
	}
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", lang)
	params.Set("ttsspeed", speed)
	params.Set("idx", strconv.Itoa(idx))
	params.Set("total", strconv.Itoa(total))
	params.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", googleUserAgent)
	httpReq.Header.Set("Referer", "https://translate.google.com/")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio response")
	}
	return data, nil
}

// GetDefaultVoice returns the default voice. Google TTS picks the voice from
// the language.
func (p *GoogleTTSProvider) GetDefaultVoice() string {
	return ""
}

// ValidateConfig validates the provider configuration
func (p *GoogleTTSProvider) ValidateConfig() error {
	if p.endpoint == "" {
		return fmt.Errorf("google TTS endpoint is not set")
	}
	return nil
}
