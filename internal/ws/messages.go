package ws

import (
	"encoding/json"
	"time"

	"chatrelay/internal/services/message"
)

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "send-message"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// Client → server events go through the Router; server → client pushes are
// written directly. Replies follow the "<event>-ack" convention.
const (
	EventIdentify        = "identify"
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventSendMessage     = "send-message"
	EventMessageReceived = "message-received"
	EventHeartbeat       = "heartbeat"
	EventHeartbeatAck    = "heartbeat-ack"

	EventNewMessage = "new-message"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventError      = "error"

	ackSuffix = "-ack"
)

// ──────────────────────────── Request / Response DTOs ─────────────────────────

type IdentifyRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

type SendMessageRequest struct {
	RoomID  string `json:"roomId"  validate:"required"`
	Content string `json:"content" validate:"required"`
}

type MessageReceivedNote struct {
	MessageID string `json:"messageId" validate:"required"`
}

type JoinedRoomBody struct {
	RoomID string `json:"roomId"`
}

// MessageBody is the immutable unit fanned out to subscribers. The id is
// assigned once by the authoritative write path.
type MessageBody struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type PresenceBody struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// Empty ACK body (useful for many handlers).
type AckBody struct{}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

// NewMessageEnvelope wraps an authoritative message record for broadcast.
func NewMessageEnvelope(dto *message.MessageDTO) Envelope {
	return mustEnvelope(EventNewMessage, MessageBody{
		MessageID: dto.ID,
		RoomID:    dto.RoomID,
		SenderID:  dto.SenderID,
		Content:   dto.Content,
		CreatedAt: dto.CreatedAt,
	})
}

// mustEnvelope marshals body into an Envelope; body types here are all
// plain structs so marshalling cannot fail.
func mustEnvelope(event string, body any) Envelope {
	raw, err := json.Marshal(body)
	if err != nil {
		panic("ws: unmarshalable envelope body: " + err.Error())
	}
	return Envelope{Event: event, Body: raw}
}
