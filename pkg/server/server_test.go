package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/mix"
	"github.com/realtime-ai/workout-audio/pkg/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

// beepSynth speaks half a second of constant signal per instruction.
type beepSynth struct {
	calls  atomic.Int32
	block  bool
	failAt int
}

func (s *beepSynth) Synthesize(ctx context.Context, index int, text, language string) (*audio.Segment, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.failAt > 0 && index == s.failAt {
		return nil, errors.New("provider unavailable")
	}
	seg := audio.Silence(testFormat, testFormat.SampleRate/2)
	for i := range seg.Samples {
		seg.Samples[i] = 0.25
	}
	return seg, nil
}

// rawEncoder writes little-endian PCM.
type rawEncoder struct {
	contentType string
	ext         string
}

func (e rawEncoder) Export(_ context.Context, seg *audio.Segment, w io.Writer) error {
	_, err := w.Write(seg.S16LE())
	return err
}

func (e rawEncoder) ContentType() string { return e.contentType }
func (e rawEncoder) Extension() string   { return e.ext }

func newTestServer(t *testing.T, synth *beepSynth, timeout time.Duration) *Server {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{
		Speech:     synth,
		Compositor: mix.NewCompositor(nil),
	})
	require.NoError(t, err)

	srv, err := New(p, Config{
		RequestTimeout: timeout,
		Encoders: map[string]Encoder{
			"mp3": rawEncoder{contentType: "audio/mpeg", ext: ".mp3"},
			"wav": rawEncoder{contentType: "audio/wav", ext: ".wav"},
		},
	})
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

const twoInstructions = `{
	"instructions": [
		{"text": "Warm up", "duration_seconds": 10},
		{"text": "Sprint", "duration_seconds": 12}
	],
	"language": "en"
}`

func TestWorkoutReturnsAudio(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)

	w := do(srv, http.MethodPost, "/workout", twoInstructions)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=workout_guide.mp3", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "22.000", w.Header().Get("X-Workout-Duration"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, 22*testFormat.SampleRate*2, w.Body.Len())
}

func TestWorkoutFormatSelection(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)

	w := do(srv, http.MethodPost, "/workout?format=WAV", twoInstructions)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=workout_guide.wav", w.Header().Get("Content-Disposition"))

	w = do(srv, http.MethodPost, "/workout?format=ogg", twoInstructions)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Detail, "ogg")
}

func TestWorkoutBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"instructions": [`},
		{"missing instructions", `{"language": "en"}`},
		{"wrong types", `{"instructions": [{"text": 5, "duration_seconds": 10}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &beepSynth{}
			srv := newTestServer(t, synth, time.Minute)

			w := do(srv, http.MethodPost, "/workout", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "bad_request", decodeError(t, w).Error)
			assert.Zero(t, synth.calls.Load())
		})
	}
}

func TestWorkoutValidationFailure(t *testing.T) {
	synth := &beepSynth{}
	srv := newTestServer(t, synth, time.Minute)

	w := do(srv, http.MethodPost, "/workout", `{"instructions": [
		{"text": "Warm up", "duration_seconds": 10},
		{"text": "Too short", "duration_seconds": 5}
	]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, "validation", resp.Error)
	assert.Equal(t, "min_duration", resp.Rule)
	require.NotNil(t, resp.Index)
	assert.Equal(t, 1, *resp.Index)
	assert.Zero(t, synth.calls.Load(), "nothing is synthesized for an invalid workout")
}

func TestWorkoutEmptyInstructions(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)

	w := do(srv, http.MethodPost, "/workout", `{"instructions": []}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "empty_instructions", resp.Rule)
	assert.Nil(t, resp.Index)
}

func TestWorkoutSynthesisFailure(t *testing.T) {
	srv := newTestServer(t, &beepSynth{failAt: 1}, time.Minute)

	w := do(srv, http.MethodPost, "/workout", twoInstructions)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeError(t, w).Detail, "provider unavailable")
}

func TestWorkoutTimeout(t *testing.T) {
	srv := newTestServer(t, &beepSynth{block: true}, 50*time.Millisecond)

	w := do(srv, http.MethodPost, "/workout", twoInstructions)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "timeout", decodeError(t, w).Error)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)

	w := do(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)
	do(srv, http.MethodGet, "/health", "")

	w := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "workout_audio_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)

	w := do(srv, http.MethodOptions, "/workout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestNewErrors(t *testing.T) {
	p, err := pipeline.New(pipeline.Options{Speech: &beepSynth{}, Compositor: mix.NewCompositor(nil)})
	require.NoError(t, err)

	_, err = New(nil, Config{Encoders: map[string]Encoder{"mp3": rawEncoder{}}})
	assert.Error(t, err)

	_, err = New(p, Config{})
	assert.Error(t, err)

	_, err = New(p, Config{Encoders: map[string]Encoder{"wav": rawEncoder{}}})
	assert.ErrorContains(t, err, "default format")

	srv, err := New(p, Config{DefaultFormat: "wav", Encoders: map[string]Encoder{"wav": rawEncoder{}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"wav"}, srv.formats())
}

func TestListenAndServeShutsDown(t *testing.T) {
	srv := newTestServer(t, &beepSynth{}, time.Second)
	srv.cfg.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
