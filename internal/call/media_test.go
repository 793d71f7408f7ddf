package call

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// finiteSource yields n one-millisecond samples then io.EOF.
type finiteSource struct {
	n      int
	closed bool
}

func (f *finiteSource) NextSample() (media.Sample, error) {
	if f.n == 0 {
		return media.Sample{}, io.EOF
	}
	f.n--
	return media.Sample{Data: []byte{0x01}, Duration: time.Millisecond}, nil
}

func (f *finiteSource) Close() error {
	f.closed = true
	return nil
}

func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()

	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))
	buf.Write(header)

	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		buf.Write(fh)
		buf.Write(f)
	}

	path := filepath.Join(t.TempDir(), "camera.ivf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenIVF(t *testing.T) {
	path := writeIVF(t, []byte{0xaa, 0xbb}, []byte{0xcc})

	tests := []struct {
		name string
		loop bool
		want [][]byte
		eof  bool
	}{
		{"once", false, [][]byte{{0xaa, 0xbb}, {0xcc}}, true},
		{"loop", true, [][]byte{{0xaa, 0xbb}, {0xcc}, {0xaa, 0xbb}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := OpenIVF(path, tt.loop)
			if err != nil {
				t.Fatalf("OpenIVF: %v", err)
			}
			defer src.Close()

			for i, want := range tt.want {
				s, err := src.NextSample()
				if err != nil {
					t.Fatalf("sample %d: %v", i, err)
				}
				if !bytes.Equal(s.Data, want) {
					t.Errorf("sample %d = %x, want %x", i, s.Data, want)
				}
				if want := time.Second / 30; s.Duration != want {
					t.Errorf("duration = %v, want %v", s.Duration, want)
				}
			}
			if tt.eof {
				if _, err := src.NextSample(); !errors.Is(err, io.EOF) {
					t.Errorf("after last frame err = %v, want EOF", err)
				}
			}
		})
	}
}

func TestOpenSourceErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := OpenSource(KindVideo, missing, true); err == nil {
		t.Error("OpenSource video with missing file succeeded")
	}
	if _, err := OpenSource(KindAudio, missing, true); err == nil {
		t.Error("OpenSource audio with missing file succeeded")
	}

	notIVF := filepath.Join(t.TempDir(), "bad.ivf")
	os.WriteFile(notIVF, []byte("definitely not an ivf header, definitely"), 0o644)
	if _, err := OpenIVF(notIVF, false); err == nil {
		t.Error("OpenIVF accepted a bad header")
	}
}

func TestGeneratedSources(t *testing.T) {
	tests := []struct {
		kind     string
		data     []byte
		duration time.Duration
	}{
		{KindAudio, opusSilence, 20 * time.Millisecond},
		{KindVideo, vp8Black, time.Second / 30},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			src, err := OpenSource(tt.kind, "", true)
			if err != nil {
				t.Fatalf("OpenSource: %v", err)
			}
			s, err := src.NextSample()
			if err != nil {
				t.Fatalf("NextSample: %v", err)
			}
			if !bytes.Equal(s.Data, tt.data) || s.Duration != tt.duration {
				t.Errorf("sample = %x/%v, want %x/%v", s.Data, s.Duration, tt.data, tt.duration)
			}

			src.Close()
			if _, err := src.NextSample(); !errors.Is(err, io.EOF) {
				t.Errorf("after Close err = %v, want EOF", err)
			}
		})
	}
}

func TestLocalSourceRunsToEnd(t *testing.T) {
	reader := &finiteSource{n: 3}
	src, err := NewLocalSource(KindVideo, "local", reader)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	if !src.Enabled() {
		t.Error("new source is disabled")
	}
	src.SetEnabled(false)

	go src.Run(context.Background())
	select {
	case <-src.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("source did not end")
	}
	if !reader.closed {
		t.Error("reader not closed after end")
	}
	if reader.n != 0 {
		t.Errorf("%d samples left unread", reader.n)
	}
}

func TestLocalSourceWritesFillerWhenDisabled(t *testing.T) {
	tests := []struct {
		kind string
		want []byte
	}{
		{KindAudio, opusSilence},
		{KindVideo, vp8Black},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			src, err := NewLocalSource(tt.kind, "local", &finiteSource{n: 1})
			if err != nil {
				t.Fatalf("NewLocalSource: %v", err)
			}
			defer src.Close()

			in := media.Sample{Data: []byte{1, 2, 3}, Duration: 40 * time.Millisecond}
			if got := src.outgoing(in); !bytes.Equal(got.Data, in.Data) {
				t.Errorf("enabled source wrote %x, want %x", got.Data, in.Data)
			}

			src.SetEnabled(false)
			got := src.outgoing(in)
			if !bytes.Equal(got.Data, tt.want) {
				t.Errorf("disabled source wrote %x, want %x", got.Data, tt.want)
			}
			if got.Duration != in.Duration {
				t.Errorf("disabled duration = %v, want %v", got.Duration, in.Duration)
			}
		})
	}
}

func TestBlackFrameIsKeyFrame(t *testing.T) {
	// Key frames clear bit 0 of the frame tag and carry the 9d 01 2a start code.
	if vp8Black[0]&0x01 != 0 {
		t.Error("frame tag marks an interframe")
	}
	if !bytes.Equal(vp8Black[3:6], []byte{0x9d, 0x01, 0x2a}) {
		t.Errorf("start code = %x", vp8Black[3:6])
	}
	if w, h := int(vp8Black[6])|int(vp8Black[7]&0x3f)<<8, int(vp8Black[8])|int(vp8Black[9]&0x3f)<<8; w != 8 || h != 8 {
		t.Errorf("size = %dx%d, want 8x8", w, h)
	}
}

func TestLocalSourceCloseBeforeRun(t *testing.T) {
	reader := &finiteSource{n: 1}
	src, err := NewLocalSource(KindAudio, "local", reader)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	if src.Track().Codec().MimeType != pion.MimeTypeOpus {
		t.Errorf("audio track codec = %s", src.Track().Codec().MimeType)
	}

	src.Close()
	src.Close()
	if !reader.closed {
		t.Error("reader not closed")
	}
	select {
	case <-src.Ended():
	default:
		t.Error("Ended not closed")
	}
}

func TestRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")

	vp8 := pion.RTPCodecParameters{RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}}
	w, path, err := newRecorder(dir, "stream-abc", vp8)
	if err != nil {
		t.Fatalf("newRecorder: %v", err)
	}
	if want := filepath.Join(dir, "stream-abc.ivf"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("record file missing: %v", err)
	}

	again, againPath, err := newRecorder(dir, "stream-abc", vp8)
	if err != nil {
		t.Fatalf("second newRecorder: %v", err)
	}
	if want := filepath.Join(dir, "stream-abc (1).ivf"); againPath != want {
		t.Errorf("second path = %s, want %s", againPath, want)
	}
	again.Close()

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.WriteRTP(&rtp.Packet{}); !errors.Is(err, os.ErrClosed) {
		t.Errorf("WriteRTP after Close = %v, want os.ErrClosed", err)
	}

	h264 := pion.RTPCodecParameters{RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeH264}}
	if _, _, err := newRecorder(dir, "stream-abc", h264); err == nil {
		t.Error("newRecorder accepted H264")
	}
}

func TestRecordPath(t *testing.T) {
	tests := []struct {
		kind pion.RTPCodecType
		want string
	}{
		{pion.RTPCodecTypeVideo, filepath.Join("out", "stream-p.ivf")},
		{pion.RTPCodecTypeAudio, filepath.Join("out", "stream-p.ogg")},
	}
	for _, tt := range tests {
		if got := RecordPath("out", "stream-p", tt.kind); got != tt.want {
			t.Errorf("RecordPath(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}
