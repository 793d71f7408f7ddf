package sfu

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/protocol"
)

// forwardTrack is one published remote track and the local track it is
// re-sent on to every other peer.
type forwardTrack struct {
	id        string
	publisher *Peer
	remote    *webrtc.TrackRemote
	local     *webrtc.TrackLocalStaticRTP
}

func newForwardTrack(p *Peer, remote *webrtc.TrackRemote) (*forwardTrack, error) {
	id := fmt.Sprintf("%s-%s-%d", remote.Kind(), p.ID, remote.SSRC())

	local, err := webrtc.NewTrackLocalStaticRTP(
		remote.Codec().RTPCodecCapability,
		id,
		protocol.StreamID(p.ID.String()),
	)
	if err != nil {
		return nil, opErr("create forward track", p, err)
	}
	return &forwardTrack{id: id, publisher: p, remote: remote, local: local}, nil
}

// requestKeyframe asks the publisher for a key frame.
func (f *forwardTrack) requestKeyframe() {
	if f.remote.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	err := f.publisher.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(f.remote.SSRC())},
	})
	if err != nil {
		f.publisher.log.Debug("Error sending PLI", "error", err)
		return
	}
	f.publisher.room.manager.metrics.RecordKeyframeRequest()
}

// pump copies RTP from the remote track to the local one until the remote
// track ends or the publisher leaves.
func (f *forwardTrack) pump(tap *net.UDPConn) {
	kind := f.remote.Kind().String()
	m := f.publisher.room.manager.metrics

	for {
		select {
		case <-f.publisher.done:
			return
		default:
		}

		pkt, _, err := f.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.publisher.log.Debug("Remote track read ended", "trackId", f.id, "error", err)
			}
			return
		}

		if err := f.write(pkt, tap); err != nil {
			f.publisher.log.Error("Error writing to forward track", "trackId", f.id, "error", err)
			return
		}
		m.RecordForward(kind, pkt.MarshalSize())
	}
}

func (f *forwardTrack) write(pkt *rtp.Packet, tap *net.UDPConn) error {
	if tap != nil {
		if b, err := pkt.Marshal(); err == nil {
			_, _ = tap.Write(b)
		}
	}
	// ErrClosedPipe only means no subscriber is bound yet.
	if err := f.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// dialTap opens the debug RTP mirror when configured.
func dialTap(addr string) (*net.UDPConn, error) {
	if addr == "" {
		return nil, nil
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, raddr)
}
