package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// Media kinds as they appear on tracks and in media-state messages.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	testFrameRate     = 30
)

// opusSilence is a 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Black is an 8x8 black VP8 key frame.
var vp8Black = []byte{
	0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x08, 0x00, 0x08, 0x00, 0x00, 0x47,
	0x08, 0x85, 0x85, 0x88, 0x85, 0x84, 0x88, 0x02, 0x02, 0x00, 0x0c, 0x0d,
	0x60, 0x00, 0xfe, 0xff, 0xab, 0x50, 0x80,
}

// fillerFrame returns the frame written while a source of kind is disabled.
// Receivers only learn about a track once RTP flows on it.
func fillerFrame(kind string) []byte {
	if kind == KindAudio {
		return opusSilence
	}
	return vp8Black
}

// SampleReader yields encoded media samples. NextSample returns io.EOF when
// the media ends.
type SampleReader interface {
	NextSample() (media.Sample, error)
	io.Closer
}

// LocalSource feeds one local track from a SampleReader.
type LocalSource struct {
	kind   string
	track  *pion.TrackLocalStaticSample
	reader SampleReader

	enabled atomic.Bool
	started atomic.Bool
	ended   chan struct{}
	once    sync.Once
}

// NewLocalSource creates an enabled source for kind ("audio" or "video").
// The track is part of the stream streamID.
func NewLocalSource(kind, streamID string, reader SampleReader) (*LocalSource, error) {
	capability := pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
	if kind == KindAudio {
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}

	track, err := pion.NewTrackLocalStaticSample(capability, kind, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	s := &LocalSource{
		kind:   kind,
		track:  track,
		reader: reader,
		ended:  make(chan struct{}),
	}
	s.enabled.Store(true)
	return s, nil
}

// Kind returns "audio" or "video".
func (s *LocalSource) Kind() string { return s.kind }

// Track returns the pion track to add to a PeerConnection.
func (s *LocalSource) Track() *pion.TrackLocalStaticSample { return s.track }

// Enabled reports whether samples are being written.
func (s *LocalSource) Enabled() bool { return s.enabled.Load() }

// SetEnabled turns sample writing on or off. The track stays attached.
func (s *LocalSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Ended is closed when Run returns.
func (s *LocalSource) Ended() <-chan struct{} { return s.ended }

// Run writes samples to the track at their natural pace until ctx is done or
// the reader is exhausted. A disabled source keeps pacing and writes silence
// or black frames in place of its samples.
func (s *LocalSource) Run(ctx context.Context) {
	s.started.Store(true)
	defer s.finish()

	for {
		sample, err := s.reader.NextSample()
		if errors.Is(err, io.EOF) {
			slog.Debug("Local source ended", "kind", s.kind)
			return
		}
		if err != nil {
			slog.Error("Error reading local media", "kind", s.kind, "error", err)
			return
		}

		if sample = s.outgoing(sample); len(sample.Data) > 0 {
			if err := s.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				slog.Error("Error writing sample", "kind", s.kind, "error", err)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sample.Duration):
		}
	}
}

// outgoing returns what is written for sample in the current state.
func (s *LocalSource) outgoing(sample media.Sample) media.Sample {
	if s.enabled.Load() {
		return sample
	}
	return media.Sample{Data: fillerFrame(s.kind), Duration: sample.Duration}
}

// Close releases the reader of a source that was never run. A running
// source is stopped through the context given to Run.
func (s *LocalSource) Close() {
	if !s.started.Load() {
		s.finish()
	}
}

func (s *LocalSource) finish() {
	s.once.Do(func() {
		s.reader.Close()
		close(s.ended)
	})
}

// ivfSource reads VP8 frames from an IVF file.
type ivfSource struct {
	f        *os.File
	reader   *ivfreader.IVFReader
	duration time.Duration
	loop     bool
}

// OpenIVF opens a VP8 IVF file. With loop set the file restarts at EOF.
func OpenIVF(path string, loop bool) (SampleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("ivf file %s carries %q, want VP80", path, header.FourCC)
	}

	duration := time.Second / testFrameRate
	if header.TimebaseDenominator > 0 {
		duration = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}
	return &ivfSource{f: f, reader: reader, duration: duration, loop: loop}, nil
}

func (s *ivfSource) NextSample() (media.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.loop {
		if err := s.rewind(); err != nil {
			return media.Sample{}, err
		}
		frame, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.duration}, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}

func (s *ivfSource) Close() error { return s.f.Close() }

// oggSource reads Opus pages from an Ogg file.
type oggSource struct {
	f           *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
	loop        bool
}

// OpenOgg opens an Ogg Opus file. With loop set the file restarts at EOF.
func OpenOgg(path string, loop bool) (SampleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	return &oggSource{f: f, reader: reader, loop: loop}, nil
}

func (s *oggSource) NextSample() (media.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if errors.Is(err, io.EOF) && s.loop {
		if err := s.rewind(); err != nil {
			return media.Sample{}, err
		}
		page, header, err = s.reader.ParseNextPage()
	}
	if err != nil {
		return media.Sample{}, err
	}

	// Granule positions count 48kHz samples.
	samples := header.GranulePosition - s.lastGranule
	s.lastGranule = header.GranulePosition
	duration := time.Duration(float64(samples)/48000*1000) * time.Millisecond
	if duration <= 0 {
		duration = opusFrameDuration
	}
	return media.Sample{Data: page, Duration: duration}, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.reader = reader
	s.lastGranule = 0
	return nil
}

func (s *oggSource) Close() error { return s.f.Close() }

// testSource repeats one frame forever.
type testSource struct {
	frame    []byte
	duration time.Duration
	closed   atomic.Bool
}

// SilenceSource returns an endless Opus silence source.
func SilenceSource() SampleReader {
	return &testSource{frame: opusSilence, duration: opusFrameDuration}
}

// BlackSource returns an endless 30fps source of black VP8 key frames.
func BlackSource() SampleReader {
	return &testSource{frame: vp8Black, duration: time.Second / testFrameRate}
}

func (s *testSource) NextSample() (media.Sample, error) {
	if s.closed.Load() {
		return media.Sample{}, io.EOF
	}
	return media.Sample{Data: s.frame, Duration: s.duration}, nil
}

func (s *testSource) Close() error {
	s.closed.Store(true)
	return nil
}

// OpenSource opens path for kind, or a generated source when path is empty.
func OpenSource(kind, path string, loop bool) (SampleReader, error) {
	switch {
	case path == "" && kind == KindAudio:
		return SilenceSource(), nil
	case path == "":
		return BlackSource(), nil
	case kind == KindAudio:
		return OpenOgg(path, loop)
	default:
		return OpenIVF(path, loop)
	}
}
