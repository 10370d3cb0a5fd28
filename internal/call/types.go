package call

import (
	"context"
	"errors"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Status is the lifecycle state of the one call a client may have.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusOutgoing   Status = "outgoing"
	StatusIncoming   Status = "incoming"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
)

// transitions lists the legal moves. Every non-idle state may fall back to
// idle; connected may drop back to connecting while ICE recovers.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusOutgoing, StatusIncoming},
	StatusOutgoing:   {StatusConnecting, StatusIdle},
	StatusIncoming:   {StatusConnecting, StatusIdle},
	StatusConnecting: {StatusConnected, StatusIdle},
	StatusConnected:  {StatusConnecting, StatusIdle},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// CallType selects the media a call carries.
type CallType string

const (
	Audio CallType = "audio"
	Video CallType = "video"
)

// Session is a snapshot of the call as the presentation layer sees it.
type Session struct {
	Status    Status   `json:"status"`
	CallID    string   `json:"call_id,omitempty"`
	CallType  CallType `json:"call_type,omitempty"`
	PeerID    string   `json:"peer_id,omitempty"`
	PeerName  string   `json:"peer_name,omitempty"`
	Error     string   `json:"error,omitempty"`
	Muted     bool     `json:"muted"`
	CameraOff bool     `json:"camera_off"`
}

var (
	ErrNoPeer           = errors.New("call: no peer selected")
	ErrCallActive       = errors.New("call: a call is already in progress")
	ErrNotIncoming      = errors.New("call: no incoming call")
	ErrCallEnded        = errors.New("call: call ended during setup")
	ErrMediaDenied      = errors.New("call: media access denied")
	ErrMediaUnsupported = errors.New("call: media capture not supported")
)

// User-facing banner texts.
const (
	msgBusy        = "User is busy."
	msgDeclined    = "Call was declined."
	msgFailed      = "Call connection failed. Please try again."
	msgDenied      = "Camera or microphone access was denied."
	msgUnsupported = "Calls are not supported on this device."
	msgSetup       = "Could not start the call."
)

// Signaler is the only surface the call package needs from the channel.
// mq.Channel satisfies it.
type Signaler interface {
	Publish(name string, payload any) error
}

// PeerConnection is the subset of *webrtc.PeerConnection the machine drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	WriteRTCP(pkts []rtcp.Packet) error
	Close() error
}

// PeerFactory builds a fresh connection per call attempt.
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// LocalTrack is a captured camera or microphone track.
type LocalTrack interface {
	webrtc.TrackLocal
	Close() error
}

// MediaSource acquires local tracks for a call type.
type MediaSource interface {
	Acquire(ctx context.Context, t CallType) ([]LocalTrack, error)
}

// Roster resolves user ids to display names.
type Roster interface {
	DisplayName(userID string) (string, bool)
}

// RemoteSink receives the peer's media, one RTP packet at a time.
type RemoteSink interface {
	WriteRTP(callID string, kind webrtc.RTPCodecType, pkt *rtp.Packet)
}
