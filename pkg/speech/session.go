package speech

import (
	"context"
	"sync"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

type sessionKey struct{}

// session memoizes synthesized speech and countdowns for one render. It is
// dropped with the render's context, so nothing outlives a request.
type session struct {
	mu   sync.Mutex
	segs map[string]*audio.Segment
}

// WithSession returns a context carrying a fresh memo scope. Producer and
// Countdown calls made with it reuse each other's results; calls without a
// session always synthesize.
func WithSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, &session{segs: make(map[string]*audio.Segment)})
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

func (s *session) speech(key string) (*audio.Segment, bool) {
	return s.get("speech\x00" + key)
}

func (s *session) storeSpeech(key string, seg *audio.Segment) {
	s.put("speech\x00"+key, seg)
}

func (s *session) countdown(key string) (*audio.Segment, bool) {
	return s.get("countdown\x00" + key)
}

func (s *session) storeCountdown(key string, seg *audio.Segment) {
	s.put("countdown\x00"+key, seg)
}

func (s *session) get(key string) (*audio.Segment, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segs[key]
	return seg, ok
}

func (s *session) put(key string, seg *audio.Segment) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.segs[key] = seg
	s.mu.Unlock()
}
