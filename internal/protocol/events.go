// Package protocol defines the wire-level event surface: envelope framing,
// event names and the typed payloads exchanged with clients.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/pulseim/realtime/internal/model"
)

// Inbound event names.
const (
	EventMessageSend    = "message:send"
	EventMessagesGet    = "messages:get"
	EventMessagesRead   = "messages:read"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventReactionAdd    = "reaction:add"
	EventReactionRemove = "reaction:remove"
	EventCallStart      = "call:start"
	EventCallAccept     = "call:accept"
	EventCallReject     = "call:reject"
	EventCallEnd        = "call:end"
	EventCallSignal     = "call:signal"
	EventHeartbeat      = "heartbeat"
)

// Outbound event names.
const (
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventMessageSent    = "message:sent"
	EventMessageReceive = "message:receive"
	EventMessageHistory = "message:history"
	EventMessageRead    = "message:read"
	EventCallIncoming   = "call:incoming"
	EventCallAccepted   = "call:accepted"
	EventCallRejected   = "call:rejected"
	EventCallEnded      = "call:ended"
	EventCallError      = "call:error"
	EventError          = "error"
	EventPong           = "pong"
)

// Envelope frames every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Marshal frames a payload under the given event name.
func Marshal(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// SendRequest is the payload of message:send.
type SendRequest struct {
	ReceiverID string          `json:"receiverId,omitempty"`
	GroupID    string          `json:"groupId,omitempty"`
	Content    string          `json:"content"`
	Kind       string          `json:"kind,omitempty"`
	Private    bool            `json:"isPrivate,omitempty"`
	ReplyTo    *model.ReplyRef `json:"replyTo,omitempty"`
}

// HistoryRequest is the payload of messages:get.
type HistoryRequest struct {
	OtherUserID string `json:"otherUserId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

// ReadRequest is the payload of messages:read. SenderID names the user whose
// messages to the requestor should be marked read.
type ReadRequest struct {
	SenderID string `json:"senderId"`
}

// TypingNotice is both the inbound payload of typing:start/stop and the
// relayed outbound payload (SenderID filled in by the server).
type TypingNotice struct {
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

// ReactionRequest is the payload of reaction:add / reaction:remove.
type ReactionRequest struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// ReactionDelta is broadcast to all parties of a conversation after a
// reaction mutation. Timestamp and UserName are set for adds only.
type ReactionDelta struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Reaction  string    `json:"reaction"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// CallStartRequest is the payload of call:start.
type CallStartRequest struct {
	ReceiverID string `json:"receiverId"`
	Kind       string `json:"kind,omitempty"`
}

// CallControlRequest is the payload of call:accept, call:reject and call:end.
// TargetID is the counterpart to notify; optional for call:end.
type CallControlRequest struct {
	CallID   string `json:"callId"`
	TargetID string `json:"targetId,omitempty"`
}

// CallSignalRequest is the payload of call:signal. Signal is blind-relayed.
type CallSignalRequest struct {
	TargetID string          `json:"targetId"`
	Signal   json.RawMessage `json:"signal"`
}

// CallSignalRelay is the outbound form of a relayed signal.
type CallSignalRelay struct {
	SenderID string          `json:"senderId"`
	Signal   json.RawMessage `json:"signal"`
}

// CallNotice carries call lifecycle context to the counterpart.
type CallNotice struct {
	Call   *model.Call `json:"call"`
	UserID string      `json:"userId"`
}

// ReadNotice tells a sender that ReaderID has read their messages.
type ReadNotice struct {
	ReaderID string `json:"readerId"`
}

// PresenceNotice announces a user coming online or going offline.
type PresenceNotice struct {
	UserID string    `json:"userId"`
	Name   string    `json:"name,omitempty"`
	At     time.Time `json:"at"`
}

// ErrorNotice is emitted to the originating connection only.
type ErrorNotice struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorNotice.
const (
	CodeRateLimited = "RATE_LIMIT_EXCEEDED"
	CodeInvalid     = "INVALID_PAYLOAD"
	CodeInternal    = "INTERNAL_ERROR"
)

// Pong is the reply to an application-level heartbeat.
type Pong struct {
	Timestamp int64 `json:"ts"`
}
