package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/asticode/go-astiav"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// Output formats.
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
)

// DefaultBitRate is the MP3 bit rate in bits per second.
const DefaultBitRate = 192000

// ErrUnsupportedFormat is returned for output formats other than mp3 and wav.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ExportError reports an encoder, muxer or I/O failure during export.
type ExportError struct {
	Format string
	Op     string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %s: %v", e.Format, e.Op, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// ContentType returns the MIME type served for an output format.
func ContentType(format string) string {
	if strings.EqualFold(format, FormatWAV) {
		return "audio/wav"
	}
	return "audio/mpeg"
}

// Exporter encodes a finished segment into a compressed file.
type Exporter struct {
	Format  string // FormatMP3 (default) or FormatWAV
	BitRate int64  // MP3 only
}

// NewExporter returns an Exporter for format with default settings.
func NewExporter(format string) (*Exporter, error) {
	e := &Exporter{Format: strings.ToLower(format), BitRate: DefaultBitRate}
	if e.Format == "" {
		e.Format = FormatMP3
	}
	if _, err := e.encoder(); err != nil {
		return nil, err
	}
	return e, nil
}

// Extension returns the file extension including the dot.
func (e *Exporter) Extension() string {
	return "." + e.format()
}

// ContentType returns the MIME type of the encoded output.
func (e *Exporter) ContentType() string {
	return ContentType(e.format())
}

func (e *Exporter) format() string {
	if e.Format == "" {
		return FormatMP3
	}
	return e.Format
}

type encoderSpec struct {
	muxer        string
	codec        string
	sampleFormat astiav.SampleFormat
}

func (e *Exporter) encoder() (encoderSpec, error) {
	switch e.format() {
	case FormatMP3:
		return encoderSpec{muxer: "mp3", codec: "libmp3lame", sampleFormat: astiav.SampleFormatFltp}, nil
	case FormatWAV:
		return encoderSpec{muxer: "wav", codec: "pcm_s16le", sampleFormat: astiav.SampleFormatS16}, nil
	default:
		return encoderSpec{}, &ExportError{Format: e.Format, Op: "select encoder", Err: ErrUnsupportedFormat}
	}
}

// Export encodes seg and streams the result to w.
func (e *Exporter) Export(ctx context.Context, seg *audio.Segment, w io.Writer) error {
	tmp, err := os.CreateTemp("", "workout-audio-*"+e.Extension())
	if err != nil {
		return &ExportError{Format: e.format(), Op: "create temp file", Err: err}
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := e.encodeFile(ctx, seg, path); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return &ExportError{Format: e.format(), Op: "reopen output", Err: err}
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return &ExportError{Format: e.format(), Op: "write output", Err: err}
	}
	return nil
}

// ExportFile encodes seg to path. The file is written next to its
// destination and renamed into place, so a failed export never leaves a
// truncated file behind.
func (e *Exporter) ExportFile(ctx context.Context, seg *audio.Segment, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*"+e.Extension())
	if err != nil {
		return &ExportError{Format: e.format(), Op: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := e.encodeFile(ctx, seg, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &ExportError{Format: e.format(), Op: "rename output", Err: err}
	}
	return nil
}

func (e *Exporter) encodeFile(ctx context.Context, seg *audio.Segment, path string) error {
	spec, err := e.encoder()
	if err != nil {
		return err
	}
	fail := func(op string, err error) error {
		return &ExportError{Format: e.format(), Op: op, Err: err}
	}
	if !seg.Format.Valid() {
		return fail("check input", fmt.Errorf("invalid format %s", seg.Format))
	}
	layout, err := layoutFor(seg.Channels)
	if err != nil {
		return fail("check input", err)
	}

	codec := astiav.FindEncoderByName(spec.codec)
	if codec == nil {
		return fail("find encoder", fmt.Errorf("encoder %s not available", spec.codec))
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return fail("allocate encoder", errors.New("failed to allocate codec context"))
	}
	defer cc.Free()

	cc.SetChannelLayout(layout)
	cc.SetSampleRate(seg.SampleRate)
	cc.SetSampleFormat(spec.sampleFormat)
	cc.SetTimeBase(astiav.NewRational(1, seg.SampleRate))
	if e.format() == FormatMP3 {
		bitRate := e.BitRate
		if bitRate <= 0 {
			bitRate = DefaultBitRate
		}
		cc.SetBitRate(bitRate)
	}
	if err := cc.Open(codec, nil); err != nil {
		return fail("open encoder", err)
	}

	fc, err := astiav.AllocOutputFormatContext(nil, spec.muxer, path)
	if err != nil {
		return fail("allocate muxer", err)
	}
	defer fc.Free()

	stream := fc.NewStream(nil)
	if stream == nil {
		return fail("new stream", errors.New("failed to create output stream"))
	}
	if err := stream.CodecParameters().FromCodecContext(cc); err != nil {
		return fail("copy codec parameters", err)
	}
	stream.SetTimeBase(cc.TimeBase())

	pb, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		return fail("open output", err)
	}
	defer pb.Close()
	fc.SetPb(pb)

	if err := fc.WriteHeader(nil); err != nil {
		return fail("write header", err)
	}

	enc := &frameEncoder{
		cc:     cc,
		fc:     fc,
		stream: stream,
		format: spec.sampleFormat,
		layout: layout,
		rate:   seg.SampleRate,
	}
	defer enc.Free()
	if err := enc.init(); err != nil {
		return fail("allocate frame", err)
	}

	size := cc.FrameSize()
	if size <= 0 {
		size = 1024
	}
	frames := seg.Frames()
	for from := 0; from < frames; from += size {
		if err := ctx.Err(); err != nil {
			return fail("encode", err)
		}
		to := from + size
		if to > frames {
			to = frames
		}
		if err := enc.encode(seg.Samples[from*seg.Channels:to*seg.Channels], seg.Channels, int64(from)); err != nil {
			return fail("encode", err)
		}
	}
	if err := enc.flush(); err != nil {
		return fail("flush encoder", err)
	}
	if err := fc.WriteTrailer(); err != nil {
		return fail("write trailer", err)
	}
	return nil
}

// frameEncoder feeds frames to the encoder and muxes the resulting packets.
type frameEncoder struct {
	cc     *astiav.CodecContext
	fc     *astiav.FormatContext
	stream *astiav.Stream
	format astiav.SampleFormat
	layout astiav.ChannelLayout
	rate   int
	frame  *astiav.Frame
	pkt    *astiav.Packet
}

func (f *frameEncoder) init() error {
	f.frame = astiav.AllocFrame()
	f.pkt = astiav.AllocPacket()
	if f.frame == nil || f.pkt == nil {
		return errors.New("out of memory")
	}
	return nil
}

func (f *frameEncoder) Free() {
	if f.frame != nil {
		f.frame.Free()
	}
	if f.pkt != nil {
		f.pkt.Free()
	}
}

func (f *frameEncoder) encode(samples []float32, channels int, pts int64) error {
	n := len(samples) / channels
	f.frame.Unref()
	f.frame.SetChannelLayout(f.layout)
	f.frame.SetSampleFormat(f.format)
	f.frame.SetSampleRate(f.rate)
	f.frame.SetNbSamples(n)
	f.frame.SetPts(pts)
	if err := f.frame.AllocBuffer(align); err != nil {
		return fmt.Errorf("failed to allocate frame buffer: %w", err)
	}
	if err := f.frame.MakeWritable(); err != nil {
		return fmt.Errorf("making frame writable failed: %w", err)
	}

	var data []byte
	if f.format == astiav.SampleFormatFltp {
		data = planarFloatBytes(samples, channels)
	} else {
		data = audio.NewSegment(audio.Format{SampleRate: f.rate, Channels: channels}, samples).S16LE()
	}
	if err := f.frame.Data().SetBytes(data, align); err != nil {
		return fmt.Errorf("setting frame data failed: %w", err)
	}

	if err := f.cc.SendFrame(f.frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return f.writePackets()
}

func (f *frameEncoder) flush() error {
	if err := f.cc.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("send flush frame: %w", err)
	}
	return f.writePackets()
}

func (f *frameEncoder) writePackets() error {
	for {
		err := f.cc.ReceivePacket(f.pkt)
		if err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive packet: %w", err)
		}
		f.pkt.RescaleTs(f.cc.TimeBase(), f.stream.TimeBase())
		f.pkt.SetStreamIndex(f.stream.Index())
		err = f.fc.WriteInterleavedFrame(f.pkt)
		f.pkt.Unref()
		if err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}
}

// planarFloatBytes lays interleaved samples out as consecutive FLTP planes.
func planarFloatBytes(samples []float32, channels int) []byte {
	n := len(samples) / channels
	out := make([]byte, len(samples)*bytesPerFloat)
	for c := 0; c < channels; c++ {
		plane := out[c*n*bytesPerFloat:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(plane[i*bytesPerFloat:], math.Float32bits(samples[i*channels+c]))
		}
	}
	return out
}
