package playback

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

const bytesPerSample = audio.BytesPerSample

// Pacer buffers 16-bit PCM and hands it to the device callback period by
// period. Underruns and pauses are filled with silence.
type Pacer struct {
	mu       sync.Mutex
	buffer   []byte
	paused   bool
	closed   bool
	played   int
	rate     int
	channels int
}

// NewPacer returns an empty pacer for the given layout.
func NewPacer(sampleRate, channels int) *Pacer {
	return &Pacer{rate: sampleRate, channels: channels}
}

// Write appends PCM. Writes after Close are dropped.
func (p *Pacer) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.buffer = append(p.buffer, data...)
}

// Fill copies the next len(out) bytes into out, padding with silence, and
// returns how many bytes of real audio were copied.
func (p *Pacer) Fill(out []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		clear(out)
		return 0
	}
	n := copy(out, p.buffer)
	clear(out[n:])
	p.buffer = p.buffer[n:]
	p.played += n
	return n
}

// FadeOut keeps only the next d of buffered audio, ramped down linearly to
// silence, and discards the rest.
func (p *Pacer) FadeOut(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameBytes := bytesPerSample * p.channels
	keep := int(d.Seconds()*float64(p.rate)) * frameBytes
	if keep > len(p.buffer) {
		keep = len(p.buffer) / frameBytes * frameBytes
	}
	frames := keep / frameBytes
	for i := 0; i < frames; i++ {
		factor := float32(frames-i) / float32(frames)
		for c := 0; c < p.channels; c++ {
			idx := (i*p.channels + c) * bytesPerSample
			sample := int16(binary.LittleEndian.Uint16(p.buffer[idx:]))
			binary.LittleEndian.PutUint16(p.buffer[idx:], uint16(int16(float32(sample)*factor)))
		}
	}
	p.buffer = p.buffer[:keep]
	p.paused = false
}

// Pause makes Fill return silence until Resume.
func (p *Pacer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *Pacer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Remaining is the buffered audio not yet handed to the device.
func (p *Pacer) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration(len(p.buffer))
}

// Position is how much audio has been played.
func (p *Pacer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration(p.played)
}

// Drained reports whether all written audio has been played.
func (p *Pacer) Drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer) == 0
}

// Close drops buffered audio.
func (p *Pacer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = nil
	p.closed = true
}

func (p *Pacer) duration(n int) time.Duration {
	perSecond := p.rate * p.channels * bytesPerSample
	if perSecond == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(perSecond))
}
