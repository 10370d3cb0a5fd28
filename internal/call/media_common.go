package call

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopchat/internal/mq"
)

// EngineConfig tunes the pion stack.
type EngineConfig struct {
	ICEServers          []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAlive           time.Duration
	VideoBitRate        int
}

// DefaultEngineConfig keeps ICE alive through short relay outages.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAlive:           2 * time.Second,
		VideoBitRate:        1_500_000,
	}
}

type captureFunc func(ctx context.Context, t CallType) ([]LocalTrack, error)

// Engine is the pion-backed PeerFactory and MediaSource.
type Engine struct {
	api     *webrtc.API
	ice     []webrtc.ICEServer
	capture captureFunc
}

// NewEngine registers codecs and the default interceptors and returns an
// engine ready to build peer connections.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	mediaEngine, capture, err := newMediaEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("call: media engine: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("call: interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAlive)
	}

	var ice []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		ice:     ice,
		capture: capture,
	}, nil
}

func (e *Engine) NewPeerConnection() (PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.ice})
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (e *Engine) Acquire(ctx context.Context, t CallType) ([]LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.capture(ctx, t)
}

// readRemote drains one remote track until the receiver stops. Video tracks
// get a keyframe request up front so the picture starts without waiting for
// the sender's next interval.
func readRemote(callID string, pc PeerConnection, track *webrtc.TrackRemote, sink RemoteSink) {
	kind := track.Kind()
	log.Infof("CALL [%s]: remote %s track %s (%s)", callID, kind, track.ID(), track.Codec().MimeType)
	if kind == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			log.Debugf("CALL [%s]: PLI: %v", callID, err)
		}
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debugf("CALL [%s]: remote %s track ended: %v", callID, kind, err)
			return
		}
		if sink != nil {
			sink.WriteRTP(callID, kind, pkt)
		}
	}
}

func toWireSDP(sd webrtc.SessionDescription) mq.SessionDescription {
	return mq.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func fromWireSDP(w mq.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(w.Type)
	if t == webrtc.SDPTypeUnknown || w.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("call: bad session description type %q", w.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: w.SDP}, nil
}

func toWireCandidate(c webrtc.ICECandidateInit) mq.ICECandidateInit {
	return mq.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromWireCandidate(c mq.ICECandidateInit) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
