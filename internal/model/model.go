// Package model defines the persisted entities of the realtime chat core.
package model

import "time"

// MessageKind enumerates the supported message content kinds.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageImage    MessageKind = "image"
	MessageFile     MessageKind = "file"
	MessageVideo    MessageKind = "video"
	MessageDocument MessageKind = "document"
)

// Valid reports whether k is one of the enumerated message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageFile, MessageVideo, MessageDocument:
		return true
	}
	return false
}

// ReplyRef is a lightweight quoted-message annotation. All three fields are
// required together; a message either carries a complete reference or none.
type ReplyRef struct {
	MessageID  string `json:"messageId"`
	SenderName string `json:"senderName"`
	Snippet    string `json:"snippet"`
}

// Message is a persisted chat message. Exactly one of ReceiverID / GroupID
// is set: ReceiverID for direct messages, GroupID for group messages.
type Message struct {
	ID         string              `json:"id"`
	SenderID   string              `json:"senderId"`
	SenderName string              `json:"senderName,omitempty"`
	SenderPic  string              `json:"senderPic,omitempty"`
	ReceiverID string              `json:"receiverId,omitempty"`
	GroupID    string              `json:"groupId,omitempty"`
	Content    string              `json:"content"`
	Kind       MessageKind         `json:"kind"`
	Read       bool                `json:"read"`
	Private    bool                `json:"private"`
	ReplyTo    *ReplyRef           `json:"replyTo,omitempty"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// IsGroup reports whether the message belongs to a group conversation.
func (m *Message) IsGroup() bool { return m.GroupID != "" }

// CallStatus enumerates the call state machine:
// initiated → ongoing → completed, with initiated → missed|rejected|busy
// as terminal alternates.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallOngoing   CallStatus = "ongoing"
	CallCompleted CallStatus = "completed"
	CallMissed    CallStatus = "missed"
	CallRejected  CallStatus = "rejected"
	CallBusy      CallStatus = "busy"
)

// CallKind is the media kind of a call.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// Call is a persisted call record mutated through its lifecycle.
type Call struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"callerId"`
	ReceiverID string     `json:"receiverId"`
	Status     CallStatus `json:"status"`
	Kind       CallKind   `json:"kind"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Duration   int64      `json:"durationMs"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// User is the directory view of an account; the core only reads profile
// fields and mirrors the online flag.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Pic      string    `json:"pic,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}
