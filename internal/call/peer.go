package call

import (
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/netutil"
	"github.com/BioHazard786/huddle/internal/protocol"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
)

func newPeerConnection(api *pion.API, ice config.ICEConfig) (*pion.PeerConnection, error) {
	if !ice.ForceRelay && netutil.ShouldForceRelay() {
		ice.ForceRelay = true
	}

	pc, err := api.NewPeerConnection(rtc.PeerConnectionConfig(ice))
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return pc, nil
}

func createControlChannel(pc *pion.PeerConnection) (*pion.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(rtc.ControlChannelLabel, &pion.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, NewError("create data channel", err)
	}
	return dc, nil
}

func createOffer(pc *pion.PeerConnection) (*pion.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, NewError("create offer", err)
	}

	if err = pc.SetLocalDescription(offer); err != nil {
		return nil, NewError("set local description", err)
	}

	return pc.LocalDescription(), nil
}

func createAnswer(pc *pion.PeerConnection, sdp string) (*pion.SessionDescription, error) {
	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, NewError("set remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, NewError("create answer", err)
	}

	if err = pc.SetLocalDescription(answer); err != nil {
		return nil, NewError("set local description", err)
	}

	return pc.LocalDescription(), nil
}

func toCandidate(c *pion.ICECandidate) protocol.Candidate {
	init := c.ToJSON()
	out := protocol.Candidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		out.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		out.SDPMLineIndex = *init.SDPMLineIndex
	}
	return out
}

func fromCandidate(c protocol.Candidate) pion.ICECandidateInit {
	mid := c.SDPMid
	index := c.SDPMLineIndex
	return pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}

// drainRTCP reads a sender's RTCP so the interceptors see it. It returns when
// the sender stops.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
