package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"short", "Push ups", 100, []string{"Push ups"}},
		{"blank", "   ", 100, nil},
		{"sentences", "Warm up. Now run! Rest?", 12, []string{"Warm up.", "Now run!", "Rest?"}},
		{"sentences packed", "Go. Go. Go.", 7, []string{"Go. Go.", "Go."}},
		{"words", "one two three four", 9, []string{"one two", "three", "four"}},
		{"long word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"decimal stays", "Hold 2.5 minutes", 100, []string{"Hold 2.5 minutes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitText(tt.text, tt.max))
		})
	}
}

func TestSplitTextRespectsLimit(t *testing.T) {
	text := strings.Repeat("Keep your core tight and breathe steadily through the movement. ", 8)
	chunks := SplitText(text, googleMaxChunkRunes)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), googleMaxChunkRunes)
	}
	assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(chunks, " "))
}

func TestGoogleTTSProvider(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		assert.Equal(t, "de", r.URL.Query().Get("tl"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	}))
	defer server.Close()

	p := NewGoogleTTSProvider()
	p.SetEndpoint(server.URL)

	text := strings.Repeat("Kniebeugen langsam. ", 8)
	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: text, Language: "de"})
	require.NoError(t, err)

	assert.Greater(t, len(queries), 1, "long text is sent in chunks")
	assert.Equal(t, strings.Repeat("ID3", len(queries)), string(resp.AudioData))
	assert.Equal(t, EncodingMP3, resp.AudioFormat.Encoding)
	assert.False(t, resp.AudioFormat.IsRawPCM())
}

func TestGoogleTTSProviderHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewGoogleTTSProvider()
	p.SetEndpoint(server.URL)
	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "Plank"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = p.Synthesize(context.Background(), &SynthesizeRequest{Text: " "})
	assert.Error(t, err)
}

func TestOpenAITTSProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pcm", body["response_format"])
		assert.Equal(t, "Jumping jacks", body["input"])
		assert.Equal(t, "nova", body["voice"])
		_, _ = w.Write([]byte{0x00, 0x10, 0x00, 0x20})
	}))
	defer server.Close()

	p := NewOpenAITTSProvider("sk-test")
	p.SetBaseURL(server.URL + "/v1")

	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "Jumping jacks", Voice: "nova"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x10, 0x00, 0x20}, resp.AudioData)
	assert.True(t, resp.AudioFormat.IsRawPCM())
	assert.Equal(t, 24000, resp.AudioFormat.SampleRate)
}

func TestOpenAITTSProviderValidateConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	assert.Error(t, NewOpenAITTSProvider("").ValidateConfig())
	assert.NoError(t, NewOpenAITTSProvider("sk-test").ValidateConfig())
	assert.Len(t, NewOpenAITTSProvider("sk-test").GetSupportedVoices(), 6)
}

func TestElevenLabsTTSProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice-1", r.URL.Path)
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var body elevenLabsRequestBody
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "fr", body.LanguageCode)
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer server.Close()

	p, err := NewElevenLabsTTSProvider(ElevenLabsTTSConfig{APIKey: "test-key", VoiceID: "voice-1", Endpoint: server.URL})
	require.NoError(t, err)

	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "Fentes", Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, resp.AudioData)
	assert.Equal(t, elevenLabsSampleRate, resp.AudioFormat.SampleRate)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{name: "default", cfg: Config{}, wantName: "google"},
		{name: "openai", cfg: Config{Provider: "openai", OpenAIAPIKey: "sk"}, wantName: "openai"},
		{name: "elevenlabs", cfg: Config{Provider: "ElevenLabs", ElevenLabsAPIKey: "k"}, wantName: "elevenlabs"},
		{name: "elevenlabs without key", cfg: Config{Provider: "elevenlabs"}, wantErr: true},
		{name: "unknown", cfg: Config{Provider: "espeak"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
