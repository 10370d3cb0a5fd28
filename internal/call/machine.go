// Package call drives one peer-to-peer call at a time through its signaling
// handshake: offer, answer, trickle ICE and teardown.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopchat/internal/mq"
	"github.com/petervdpas/goopchat/internal/util"
)

var log = logging.Logger("call")

// DefaultErrorTTL is how long a call error stays on display.
const DefaultErrorTTL = 4 * time.Second

// Options configures a Machine. Signaler, Peers and Media are required.
type Options struct {
	SelfName string
	Signaler Signaler
	Peers    PeerFactory
	Media    MediaSource
	Roster   Roster
	Sink     RemoteSink
	ErrorTTL time.Duration

	// OnTransition observes every status change.
	OnTransition func(from, to Status)
}

type localTrack struct {
	LocalTrack
	sender  *webrtc.RTPSender
	enabled bool
}

// callState is everything one attempt owns. It is replaced wholesale on
// reset so no field outlives its call.
type callState struct {
	Session

	offer      *webrtc.SessionDescription
	pc         PeerConnection
	tracks     []*localTrack
	receivers  []*webrtc.RTPReceiver
	pendingICE []webrtc.ICECandidateInit
	outbox     []mq.ICECandidateInit
	signaled   bool
}

// resources are detached under the lock and released outside it.
type resources struct {
	pc        PeerConnection
	tracks    []*localTrack
	receivers []*webrtc.RTPReceiver
}

func (r resources) release() {
	for _, rc := range r.receivers {
		_ = rc.Stop()
	}
	for _, t := range r.tracks {
		_ = t.Close()
	}
	if r.pc != nil {
		_ = r.pc.Close()
	}
}

// Machine owns the call session, the peer connection and the local media.
type Machine struct {
	mu  sync.Mutex
	cur callState

	errTimer *time.Timer
	errGen   uint64

	selfName     string
	sig          Signaler
	peers        PeerFactory
	media        MediaSource
	roster       Roster
	sink         RemoteSink
	errorTTL     time.Duration
	onTransition func(from, to Status)

	listenerMu sync.RWMutex
	listeners  map[chan Session]struct{}
}

func New(opts Options) *Machine {
	ttl := opts.ErrorTTL
	if ttl <= 0 {
		ttl = DefaultErrorTTL
	}
	return &Machine{
		cur:          callState{Session: Session{Status: StatusIdle}},
		selfName:     opts.SelfName,
		sig:          opts.Signaler,
		peers:        opts.Peers,
		media:        opts.Media,
		roster:       opts.Roster,
		sink:         opts.Sink,
		errorTTL:     ttl,
		onTransition: opts.OnTransition,
		listeners:    make(map[chan Session]struct{}),
	}
}

// Session returns a snapshot of the current call.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Session
}

// Subscribe returns a channel of session snapshots, sent after every change.
func (m *Machine) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 16)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Machine) notify() {
	s := m.Session()
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for ch := range m.listeners {
		select {
		case ch <- s:
		default:
		}
	}
}

// Start places an outgoing call. The session is reserved as outgoing before
// media is acquired so a concurrent inbound offer is answered busy.
func (m *Machine) Start(ctx context.Context, peerID string, t CallType) error {
	if peerID == "" {
		return ErrNoPeer
	}
	if t != Audio && t != Video {
		return fmt.Errorf("call: unknown call type %q", t)
	}

	m.mu.Lock()
	if m.cur.Status != StatusIdle {
		m.mu.Unlock()
		return ErrCallActive
	}
	callID := uuid.NewString()
	m.resetLocked(callState{Session: Session{
		Status:   StatusOutgoing,
		CallID:   callID,
		CallType: t,
		PeerID:   peerID,
		PeerName: m.displayNameLocked(peerID, ""),
	}})
	m.mu.Unlock()
	m.notify()
	log.Infof("CALL [%s]: calling %s (%s)", callID, peerID, t)

	pc, err := m.prepare(ctx, callID, t)
	if errors.Is(err, ErrCallActive) {
		return err
	}
	if err != nil {
		m.fail(callID, "", setupMessage(err))
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		m.fail(callID, "", msgSetup)
		return fmt.Errorf("call: create offer: %w", err)
	}

	err = m.sig.Publish(mq.EventCallOffer, mq.CallOfferPayload{
		ToUserID:     peerID,
		CallType:     string(t),
		CallID:       callID,
		Offer:        toWireSDP(offer),
		FromUserName: m.selfName,
	})
	if err != nil {
		m.fail(callID, "", msgSetup)
		return fmt.Errorf("call: send offer: %w", err)
	}

	m.mu.Lock()
	if m.cur.CallID == callID {
		m.flushOutboxLocked()
		if m.cur.Status == StatusOutgoing {
			m.setStatusLocked(StatusConnecting)
		}
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// Accept answers the pending incoming call. Any failure tells the caller
// with reason "error" and resets.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	if m.cur.Status != StatusIncoming || m.cur.offer == nil {
		m.mu.Unlock()
		return ErrNotIncoming
	}
	// Taking the offer reserves the attempt; a second Accept sees none.
	callID, t, offer := m.cur.CallID, m.cur.CallType, *m.cur.offer
	m.cur.offer = nil
	m.mu.Unlock()
	log.Infof("CALL [%s]: accepting", callID)

	pc, err := m.prepare(ctx, callID, t)
	if errors.Is(err, ErrCallActive) {
		return err
	}
	if err != nil {
		m.fail(callID, mq.EndReasonError, setupMessage(err))
		return err
	}

	m.mu.Lock()
	if m.cur.CallID != callID {
		m.mu.Unlock()
		return ErrCallEnded
	}
	err = pc.SetRemoteDescription(offer)
	if err == nil {
		m.flushPendingICELocked()
	}
	m.mu.Unlock()
	if err != nil {
		m.fail(callID, mq.EndReasonError, msgSetup)
		return fmt.Errorf("call: apply offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		m.fail(callID, mq.EndReasonError, msgSetup)
		return fmt.Errorf("call: create answer: %w", err)
	}

	m.mu.Lock()
	peerID := m.cur.PeerID
	m.mu.Unlock()
	err = m.sig.Publish(mq.EventCallAnswer, mq.CallAnswerPayload{
		ToUserID: peerID,
		CallID:   callID,
		Answer:   toWireSDP(answer),
	})
	if err != nil {
		m.fail(callID, mq.EndReasonError, msgSetup)
		return fmt.Errorf("call: send answer: %w", err)
	}

	m.mu.Lock()
	if m.cur.CallID == callID {
		m.flushOutboxLocked()
		if m.cur.Status == StatusIncoming {
			m.setStatusLocked(StatusConnecting)
		}
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// Decline rejects the pending incoming call without a local banner.
func (m *Machine) Decline() error {
	m.mu.Lock()
	if m.cur.Status != StatusIncoming {
		m.mu.Unlock()
		return ErrNotIncoming
	}
	callID, peerID := m.cur.CallID, m.cur.PeerID
	res := m.detachLocked("")
	m.mu.Unlock()
	res.release()

	log.Infof("CALL [%s]: declined", callID)
	m.sendEnd(peerID, callID, mq.EndReasonDeclined)
	m.notify()
	return nil
}

// End hangs up and tells the peer. It is a no-op while idle.
func (m *Machine) End() {
	m.end(true)
}

// Close tears down any call without telling the peer. Used on logout and
// channel loss.
func (m *Machine) Close() {
	m.end(false)
	m.mu.Lock()
	m.cancelErrorLocked()
	m.cur.Error = ""
	m.mu.Unlock()
}

func (m *Machine) end(tell bool) {
	m.mu.Lock()
	if m.cur.Status == StatusIdle {
		m.mu.Unlock()
		return
	}
	callID, peerID := m.cur.CallID, m.cur.PeerID
	res := m.detachLocked("")
	m.mu.Unlock()
	res.release()

	log.Infof("CALL [%s]: ended", callID)
	if tell {
		m.sendEnd(peerID, callID, mq.EndReasonEnded)
	}
	m.notify()
}

// ToggleMute flips every local audio track and returns the new muted flag.
func (m *Machine) ToggleMute() bool {
	return m.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleCamera flips every local video track and returns the new camera-off
// flag.
func (m *Machine) ToggleCamera() bool {
	return m.toggle(webrtc.RTPCodecTypeVideo)
}

func (m *Machine) toggle(kind webrtc.RTPCodecType) bool {
	m.mu.Lock()
	flag := &m.cur.Muted
	if kind == webrtc.RTPCodecTypeVideo {
		flag = &m.cur.CameraOff
	}
	var matched []*localTrack
	for _, lt := range m.cur.tracks {
		if lt.Kind() == kind {
			matched = append(matched, lt)
		}
	}
	if len(matched) == 0 {
		v := *flag
		m.mu.Unlock()
		return v
	}
	off := !*flag
	*flag = off
	for _, lt := range matched {
		lt.enabled = !off
		if lt.sender == nil {
			continue
		}
		var next webrtc.TrackLocal
		if lt.enabled {
			next = lt.LocalTrack
		}
		if err := lt.sender.ReplaceTrack(next); err != nil {
			log.Warnf("CALL [%s]: replace %s track: %v", m.cur.CallID, kind, err)
		}
	}
	m.mu.Unlock()
	m.notify()
	return off
}

// prepare acquires media, builds the connection and attaches the tracks.
// The result is stored only if callID is still the current attempt.
func (m *Machine) prepare(ctx context.Context, callID string, t CallType) (PeerConnection, error) {
	if m.media == nil || m.peers == nil {
		return nil, ErrMediaUnsupported
	}
	tracks, err := m.media.Acquire(ctx, t)
	if err != nil {
		return nil, err
	}
	pc, err := m.peers.NewPeerConnection()
	if err != nil {
		for _, tr := range tracks {
			_ = tr.Close()
		}
		return nil, fmt.Errorf("call: peer connection: %w", err)
	}

	locals := make([]*localTrack, 0, len(tracks))
	for _, tr := range tracks {
		sender, err := pc.AddTrack(tr)
		if err != nil {
			log.Warnf("CALL [%s]: AddTrack %s: %v", callID, tr.Kind(), err)
		}
		locals = append(locals, &localTrack{LocalTrack: tr, sender: sender, enabled: true})
	}
	m.bind(pc, callID)

	m.mu.Lock()
	if m.cur.CallID != callID || m.cur.Status == StatusIdle {
		m.mu.Unlock()
		resources{pc: pc, tracks: locals}.release()
		return nil, ErrCallEnded
	}
	if m.cur.pc != nil {
		m.mu.Unlock()
		resources{pc: pc, tracks: locals}.release()
		return nil, ErrCallActive
	}
	m.cur.pc = pc
	m.cur.tracks = locals
	m.mu.Unlock()
	return pc, nil
}

// bind routes pion callbacks to the attempt they were created for. Callbacks
// for an attempt that is no longer current are dropped.
func (m *Machine) bind(pc PeerConnection, callID string) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.LocalCandidate(callID, toWireCandidate(c.ToJSON()))
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.ConnectionState(callID, s)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.mu.Lock()
		if m.cur.CallID != callID {
			m.mu.Unlock()
			_ = receiver.Stop()
			return
		}
		m.cur.receivers = append(m.cur.receivers, receiver)
		m.mu.Unlock()
		go readRemote(callID, pc, track, m.sink)
	})
}

// fail resets the attempt with a banner and, when reason is set, tells the
// peer why.
func (m *Machine) fail(callID, reason, msg string) {
	m.mu.Lock()
	if m.cur.CallID != callID || m.cur.Status == StatusIdle {
		m.mu.Unlock()
		return
	}
	peerID := m.cur.PeerID
	res := m.detachLocked(msg)
	m.mu.Unlock()
	res.release()

	log.Warnf("CALL [%s]: failed: %s", callID, msg)
	if reason != "" {
		m.sendEnd(peerID, callID, reason)
	}
	m.notify()
}

func (m *Machine) sendEnd(peerID, callID, reason string) {
	if peerID == "" {
		return
	}
	err := m.sig.Publish(mq.EventCallEnd, mq.CallEndPayload{ToUserID: peerID, CallID: callID, Reason: reason})
	if err != nil {
		log.Warnf("CALL [%s]: send end (%s): %v", callID, reason, err)
	}
}

func (m *Machine) setStatusLocked(next Status) bool {
	from := m.cur.Status
	if !from.CanTransition(next) {
		log.Debugf("CALL [%s]: ignoring %s -> %s", m.cur.CallID, from, next)
		return false
	}
	m.cur.Status = next
	if m.onTransition != nil {
		m.onTransition(from, next)
	}
	return true
}

// resetLocked replaces the whole call state.
func (m *Machine) resetLocked(next callState) {
	from := m.cur.Status
	m.cancelErrorLocked()
	m.cur = next
	if m.onTransition != nil && from != next.Status {
		m.onTransition(from, next.Status)
	}
}

// detachLocked returns to idle, keeping msg as the banner, and hands back
// what the caller must release once the lock is dropped.
func (m *Machine) detachLocked(msg string) resources {
	res := resources{pc: m.cur.pc, tracks: m.cur.tracks, receivers: m.cur.receivers}
	m.resetLocked(callState{Session: Session{Status: StatusIdle, Error: msg}})
	if msg != "" {
		m.scheduleErrorClearLocked()
	}
	return res
}

func (m *Machine) scheduleErrorClearLocked() {
	m.errGen++
	gen := m.errGen
	m.errTimer = time.AfterFunc(m.errorTTL, func() {
		m.mu.Lock()
		if gen != m.errGen || m.cur.Status != StatusIdle || m.cur.Error == "" {
			m.mu.Unlock()
			return
		}
		m.cur.Error = ""
		m.errTimer = nil
		m.mu.Unlock()
		m.notify()
	})
}

func (m *Machine) cancelErrorLocked() {
	m.errGen++
	if m.errTimer != nil {
		m.errTimer.Stop()
		m.errTimer = nil
	}
}

// DismissError clears the banner early.
func (m *Machine) DismissError() {
	m.mu.Lock()
	if m.cur.Error == "" {
		m.mu.Unlock()
		return
	}
	m.cancelErrorLocked()
	m.cur.Error = ""
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) displayNameLocked(peerID, offered string) string {
	if m.roster != nil {
		if name, ok := m.roster.DisplayName(peerID); ok && name != "" {
			return name
		}
	}
	if offered != "" {
		return offered
	}
	return "User " + util.ShortID(peerID, 6)
}

func setupMessage(err error) string {
	switch {
	case errors.Is(err, ErrMediaDenied):
		return msgDenied
	case errors.Is(err, ErrMediaUnsupported):
		return msgUnsupported
	default:
		return msgSetup
	}
}
