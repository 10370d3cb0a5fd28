package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopchat/internal/mq"
)

// HandleOffer takes an inbound offer. While any call is pending or active
// the caller is told busy and nothing else changes; a redelivery of the
// current call's own offer is dropped.
func (m *Machine) HandleOffer(p mq.CallOfferPayload) {
	if p.CallID == "" || p.FromUserID == "" {
		log.Debugf("CALL: dropping offer without call or caller id")
		return
	}
	sd, err := fromWireSDP(p.Offer)
	if err != nil {
		log.Warnf("CALL [%s]: bad offer from %s: %v", p.CallID, p.FromUserID, err)
		return
	}

	m.mu.Lock()
	if m.cur.Status != StatusIdle && p.CallID == m.cur.CallID {
		m.mu.Unlock()
		log.Debugf("CALL [%s]: offer redelivered", p.CallID)
		return
	}
	if m.cur.Status != StatusIdle {
		active := m.cur.CallID
		m.mu.Unlock()
		log.Infof("CALL [%s]: busy with %s, rejecting %s", p.CallID, active, p.FromUserID)
		m.sendEnd(p.FromUserID, p.CallID, mq.EndReasonBusy)
		return
	}
	callType := CallType(p.CallType)
	if callType != Video {
		callType = Audio
	}
	m.resetLocked(callState{
		Session: Session{
			Status:   StatusIncoming,
			CallID:   p.CallID,
			CallType: callType,
			PeerID:   p.FromUserID,
			PeerName: m.displayNameLocked(p.FromUserID, p.FromUserName),
		},
		offer: &sd,
	})
	m.mu.Unlock()

	log.Infof("CALL [%s]: incoming %s call from %s", p.CallID, callType, p.FromUserID)
	m.notify()
}

// HandleAnswer applies the peer's answer to the matching outgoing call.
// Redelivered answers are ignored once a remote description is set.
func (m *Machine) HandleAnswer(p mq.CallAnswerPayload) {
	sd, err := fromWireSDP(p.Answer)
	if err != nil {
		log.Warnf("CALL [%s]: bad answer: %v", p.CallID, err)
		return
	}

	m.mu.Lock()
	if p.CallID == "" || p.CallID != m.cur.CallID || m.cur.pc == nil {
		m.mu.Unlock()
		log.Debugf("CALL [%s]: answer for unknown call", p.CallID)
		return
	}
	if m.cur.pc.RemoteDescription() != nil {
		m.mu.Unlock()
		log.Debugf("CALL [%s]: answer already applied", p.CallID)
		return
	}
	if err := m.cur.pc.SetRemoteDescription(sd); err != nil {
		m.mu.Unlock()
		log.Warnf("CALL [%s]: apply answer: %v", p.CallID, err)
		return
	}
	m.flushPendingICELocked()
	if m.cur.Status == StatusOutgoing {
		m.setStatusLocked(StatusConnecting)
	}
	m.mu.Unlock()
	m.notify()
}

// HandleICE applies a remote candidate, queueing it until the remote
// description is in place.
func (m *Machine) HandleICE(p mq.CallICEPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CallID == "" || p.CallID != m.cur.CallID {
		return
	}
	c := fromWireCandidate(p.Candidate)
	if m.cur.pc == nil || m.cur.pc.RemoteDescription() == nil {
		m.cur.pendingICE = append(m.cur.pendingICE, c)
		return
	}
	if err := m.cur.pc.AddICECandidate(c); err != nil {
		log.Warnf("CALL [%s]: AddICECandidate: %v", p.CallID, err)
	}
}

// HandleEnd resets on the peer's hangup. Busy and declined leave a banner.
func (m *Machine) HandleEnd(p mq.CallEndPayload) {
	m.mu.Lock()
	if p.CallID == "" || p.CallID != m.cur.CallID || m.cur.Status == StatusIdle {
		m.mu.Unlock()
		return
	}
	var msg string
	switch p.Reason {
	case mq.EndReasonBusy:
		msg = msgBusy
	case mq.EndReasonDeclined:
		msg = msgDeclined
	}
	res := m.detachLocked(msg)
	m.mu.Unlock()
	res.release()

	log.Infof("CALL [%s]: peer ended (%s)", p.CallID, p.Reason)
	m.notify()
}

// LocalCandidate sends a locally gathered candidate. Candidates found before
// the offer or answer went out are held and sent right after it.
func (m *Machine) LocalCandidate(callID string, c mq.ICECandidateInit) {
	if c.Candidate == "" {
		return
	}
	m.mu.Lock()
	if callID != m.cur.CallID || m.cur.PeerID == "" {
		m.mu.Unlock()
		return
	}
	if !m.cur.signaled {
		m.cur.outbox = append(m.cur.outbox, c)
		m.mu.Unlock()
		return
	}
	peerID := m.cur.PeerID
	m.mu.Unlock()
	m.sendCandidate(peerID, callID, c)
}

// ConnectionState follows the transport state of the given attempt.
func (m *Machine) ConnectionState(callID string, s webrtc.PeerConnectionState) {
	m.mu.Lock()
	if callID != m.cur.CallID || m.cur.Status == StatusIdle {
		m.mu.Unlock()
		return
	}
	log.Debugf("CALL [%s]: connection %s", callID, s)

	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.setStatusLocked(StatusConnected)
	case webrtc.PeerConnectionStateDisconnected:
		if m.cur.Status == StatusConnected {
			m.setStatusLocked(StatusConnecting)
		}
	case webrtc.PeerConnectionStateFailed:
		m.mu.Unlock()
		m.fail(callID, mq.EndReasonFailed, msgFailed)
		return
	case webrtc.PeerConnectionStateClosed:
		res := m.detachLocked("")
		m.mu.Unlock()
		res.release()
		m.notify()
		return
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) sendCandidate(peerID, callID string, c mq.ICECandidateInit) {
	err := m.sig.Publish(mq.EventCallICE, mq.CallICEPayload{ToUserID: peerID, CallID: callID, Candidate: c})
	if err != nil {
		log.Debugf("CALL [%s]: send candidate: %v", callID, err)
	}
}

// flushOutboxLocked marks the description as sent and emits the held
// candidates in gathering order.
func (m *Machine) flushOutboxLocked() {
	m.cur.signaled = true
	held := m.cur.outbox
	m.cur.outbox = nil
	for _, c := range held {
		m.sendCandidate(m.cur.PeerID, m.cur.CallID, c)
	}
}

// flushPendingICELocked applies queued remote candidates in arrival order.
func (m *Machine) flushPendingICELocked() {
	queued := m.cur.pendingICE
	m.cur.pendingICE = nil
	for _, c := range queued {
		if err := m.cur.pc.AddICECandidate(c); err != nil {
			log.Warnf("CALL [%s]: queued AddICECandidate: %v", m.cur.CallID, err)
		}
	}
}
