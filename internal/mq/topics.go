package mq

import "github.com/petervdpas/goopchat/internal/chat"

// ── Event names ───────────────────────────────────────────────────────────────
// Single source of truth for every event string on the session channel.
const (
	// Message deltas (server to client)
	EventMessageNew          = "message:new"
	EventMessageDeleted      = "message:deleted"
	EventReactionUpdated     = "message:reaction_updated"
	EventConversationCleared = "conversation:cleared"

	// Room membership (server to client)
	EventRoomMembership = "room:membership_changed"
	EventRoomRemoved    = "room:removed"

	// Call signaling, relayed peer to peer through the server
	EventCallOffer  = "call:offer"
	EventCallAnswer = "call:answer"
	EventCallICE    = "call:ice-candidate"
	EventCallEnd    = "call:end"

	// Conversation presence (client to server)
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
)

// ── call:end reasons ──────────────────────────────────────────────────────────
const (
	EndReasonBusy     = "busy"
	EndReasonDeclined = "declined"
	EndReasonError    = "error"
	EndReasonFailed   = "failed"
	EndReasonEnded    = "ended"
)

// ── Message payloads ──────────────────────────────────────────────────────────

// MessageNewPayload carries one pushed message.
type MessageNewPayload struct {
	Message chat.Message `json:"message"`
}

// MessageDeletedPayload names a removed message.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

// ReactionUpdatedPayload carries the full new reaction list of a message.
type ReactionUpdatedPayload struct {
	MessageID string          `json:"messageId"`
	Reactions []chat.Reaction `json:"reactions"`
}

// ConversationClearedPayload names the cleared target (room id or user id).
type ConversationClearedPayload struct {
	Target string `json:"receiverUserIdOrRoomId"`
}

// RoomMembershipPayload carries the updated room.
type RoomMembershipPayload struct {
	Room chat.Room `json:"room"`
}

// RoomRemovedPayload is sent either as {roomId} or as {room}.
type RoomRemovedPayload struct {
	RoomID string     `json:"roomId,omitempty"`
	Room   *chat.Room `json:"room,omitempty"`
}

// ID returns the removed room's id, whichever shape was sent.
func (p RoomRemovedPayload) ID() string {
	if p.RoomID != "" {
		return p.RoomID
	}
	if p.Room != nil {
		return p.Room.ID
	}
	return ""
}

// ConversationPayload is the body of conversation:join / conversation:leave.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// ── Call signal payloads ──────────────────────────────────────────────────────
//
// Outbound frames carry toUserId; the server rewrites them to fromUserId on
// delivery. Signaling sequence:
//
//   caller                          callee
//   ──────────────────────────────────────────────────────────────
//   call:offer      ────────────────► (incoming call)
//                   ◄──────────────── call:answer   (on accept)
//   call:ice-candidate ◄────────────► call:ice-candidate (trickle, both ways)
//   call:end        ◄───────────────► (either side, any time)

// SessionDescription is the W3C RTCSessionDescriptionInit shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidateInit is the W3C RTCIceCandidateInit shape.
type ICECandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CallOfferPayload starts a call attempt.
type CallOfferPayload struct {
	ToUserID     string             `json:"toUserId,omitempty"`
	FromUserID   string             `json:"fromUserId,omitempty"`
	CallType     string             `json:"callType"`
	CallID       string             `json:"callId"`
	Offer        SessionDescription `json:"offer"`
	FromUserName string             `json:"fromUserName,omitempty"`
}

// CallAnswerPayload accepts a call attempt.
type CallAnswerPayload struct {
	ToUserID   string             `json:"toUserId,omitempty"`
	FromUserID string             `json:"fromUserId,omitempty"`
	CallID     string             `json:"callId"`
	Answer     SessionDescription `json:"answer"`
}

// CallICEPayload carries one trickle ICE candidate.
type CallICEPayload struct {
	ToUserID   string           `json:"toUserId,omitempty"`
	FromUserID string           `json:"fromUserId,omitempty"`
	CallID     string           `json:"callId"`
	Candidate  ICECandidateInit `json:"candidate"`
}

// CallEndPayload ends a call attempt, with one of the EndReason values.
type CallEndPayload struct {
	ToUserID   string `json:"toUserId,omitempty"`
	FromUserID string `json:"fromUserId,omitempty"`
	CallID     string `json:"callId"`
	Reason     string `json:"reason"`
}
