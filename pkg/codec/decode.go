package codec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/asticode/go-astiav"
	"github.com/google/uuid"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// ErrNoAudioStream is returned when a container has no decodable audio.
var ErrNoAudioStream = errors.New("no audio stream")

// Decoder turns compressed audio (mp3, wav, opus, m4a...) into segments.
// The zero value keeps the source sample rate and folds anything wider than
// stereo down to two channels.
type Decoder struct {
	// Target, when valid, is the format every decoded segment is converted to.
	Target audio.Format
	// TempDir holds spill files for in-memory input. Defaults to os.TempDir().
	TempDir string
}

// NewDecoder returns a Decoder converting to target (zero for native).
func NewDecoder(target audio.Format) *Decoder {
	return &Decoder{Target: target}
}

// Decode decodes an in-memory file. FFmpeg probes containers from a seekable
// source, so the bytes are spilled to a temporary file first.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*audio.Segment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: empty input")
	}
	dir := d.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "workout-audio-"+uuid.NewString())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("spill audio to disk: %w", err)
	}
	defer os.Remove(path)

	return d.DecodeFile(ctx, path)
}

// DecodeFile decodes the first audio stream of the file at path.
func (d *Decoder) DecodeFile(ctx context.Context, path string) (*audio.Segment, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("failed to allocate format context")
	}
	defer fc.Free()

	if err := fc.OpenInput(path, nil, nil); err != nil {
		return nil, fmt.Errorf("open input %s: %w", filepath.Base(path), err)
	}
	defer fc.CloseInput()

	if err := fc.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	var stream *astiav.Stream
	for _, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			stream = s
			break
		}
	}
	if stream == nil {
		return nil, ErrNoAudioStream
	}

	codec := astiav.FindDecoder(stream.CodecParameters().CodecID())
	if codec == nil {
		return nil, fmt.Errorf("no decoder for %s", stream.CodecParameters().CodecID())
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("failed to allocate codec context")
	}
	defer cc.Free()

	if err := stream.CodecParameters().ToCodecContext(cc); err != nil {
		return nil, fmt.Errorf("copy codec parameters: %w", err)
	}
	if err := cc.Open(codec, nil); err != nil {
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	frame := astiav.AllocFrame()
	defer frame.Free()

	dec := &streamDecoder{target: d.Target}
	defer dec.Free()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fc.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return nil, fmt.Errorf("read packet: %w", err)
		}
		if pkt.StreamIndex() != stream.Index() {
			pkt.Unref()
			continue
		}
		err := cc.SendPacket(pkt)
		pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return nil, fmt.Errorf("send packet: %w", err)
		}
		if err := dec.drain(cc, frame); err != nil {
			return nil, err
		}
	}

	// Flush the decoder.
	if err := cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("flush decoder: %w", err)
	}
	if err := dec.drain(cc, frame); err != nil {
		return nil, err
	}
	return dec.finish()
}

// streamDecoder converts decoded frames to packed float in the output format
// chosen from the first frame.
type streamDecoder struct {
	target  audio.Format
	format  audio.Format
	conv    *astiav.SoftwareResampleContext
	out     *astiav.Frame
	samples []float32
	inRate  int
}

func (s *streamDecoder) Free() {
	if s.conv != nil {
		s.conv.Free()
	}
	if s.out != nil {
		s.out.Free()
	}
}

func (s *streamDecoder) drain(cc *astiav.CodecContext, frame *astiav.Frame) error {
	for {
		err := cc.ReceiveFrame(frame)
		if err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		err = s.convert(frame)
		frame.Unref()
		if err != nil {
			return err
		}
	}
}

func (s *streamDecoder) convert(frame *astiav.Frame) error {
	if s.conv == nil {
		s.inRate = frame.SampleRate()
		s.format = s.target
		if !s.format.Valid() {
			channels := frame.ChannelLayout().Channels()
			if channels > 2 {
				channels = 2
			}
			if channels < 1 {
				channels = 1
			}
			s.format = audio.Format{SampleRate: frame.SampleRate(), Channels: channels}
		}
		s.conv = astiav.AllocSoftwareResampleContext()
		s.out = astiav.AllocFrame()
		if s.conv == nil || s.out == nil {
			return fmt.Errorf("failed to allocate resample context")
		}
	}

	capacity := frame.NbSamples()*s.format.SampleRate/s.inRate + 256
	if err := prepareOutput(s.out, s.format, capacity); err != nil {
		return err
	}
	if err := s.conv.ConvertFrame(frame, s.out); err != nil {
		return fmt.Errorf("convert decoded frame: %w", err)
	}
	var err error
	s.samples, err = readFloats(s.samples, s.out, s.format.Channels)
	return err
}

func (s *streamDecoder) finish() (*audio.Segment, error) {
	if s.conv == nil {
		return nil, fmt.Errorf("decode: %w", ErrNoAudioStream)
	}
	for i := 0; i < maxFlushRounds; i++ {
		if err := prepareOutput(s.out, s.format, 4096); err != nil {
			return nil, err
		}
		if err := s.conv.ConvertFrame(nil, s.out); err != nil {
			return nil, fmt.Errorf("flush converter: %w", err)
		}
		if s.out.NbSamples() == 0 {
			break
		}
		var err error
		if s.samples, err = readFloats(s.samples, s.out, s.format.Channels); err != nil {
			return nil, err
		}
	}
	return audio.NewSegment(s.format, s.samples), nil
}
