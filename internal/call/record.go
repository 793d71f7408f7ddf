package call

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/BioHazard786/huddle/internal/utils"
)

// rtpWriter is implemented by ivfwriter and oggwriter.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// lockedWriter lets the registry close a recorder while its track is still
// being read.
type lockedWriter struct {
	mu     sync.Mutex
	w      rtpWriter
	closed bool
}

func (l *lockedWriter) WriteRTP(pkt *rtp.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	return l.w.WriteRTP(pkt)
}

func (l *lockedWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.w.Close()
}

// RecordPath returns the file a remote track of streamID is recorded to.
// newRecorder picks a numbered variant when it already exists.
func RecordPath(dir, streamID string, kind pion.RTPCodecType) string {
	ext := ".ivf"
	if kind == pion.RTPCodecTypeAudio {
		ext = ".ogg"
	}
	return filepath.Join(dir, streamID+ext)
}

func newRecorder(dir, streamID string, codec pion.RTPCodecParameters) (rtpWriter, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create record dir: %w", err)
	}

	var (
		w    rtpWriter
		path string
		err  error
	)
	switch {
	case strings.EqualFold(codec.MimeType, pion.MimeTypeVP8):
		path = utils.UniquePath(RecordPath(dir, streamID, pion.RTPCodecTypeVideo))
		w, err = ivfwriter.New(path)
	case strings.EqualFold(codec.MimeType, pion.MimeTypeOpus):
		path = utils.UniquePath(RecordPath(dir, streamID, pion.RTPCodecTypeAudio))
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		w, err = oggwriter.New(path, codec.ClockRate, channels)
	default:
		return nil, "", fmt.Errorf("cannot record codec %s", codec.MimeType)
	}
	if err != nil {
		return nil, "", err
	}
	return &lockedWriter{w: w}, path, nil
}

// consumeTrack reads track until it ends, writing packets to w when w is
// not nil.
func consumeTrack(track *pion.TrackRemote, w rtpWriter) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("Remote track read ended", "track", track.ID(), "error", err)
			}
			return
		}
		if w == nil {
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			if errors.Is(err, os.ErrClosed) {
				w = nil
				continue
			}
			slog.Warn("Error recording packet", "track", track.ID(), "error", err)
			w = nil
		}
	}
}
