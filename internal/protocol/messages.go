// Package protocol models the tagged events exchanged on a signaling
// WebSocket. Signal payloads are opaque to the relay and are carried as raw
// JSON; this package validates envelopes, never payloads.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type EventType string

// Client -> server events.
const (
	EventAuth       EventType = "auth"
	EventJoinRoom   EventType = "join-room"
	EventSendSignal EventType = "send-signal"
	EventSendEmoji  EventType = "send-emoji"
	EventLeaveRoom  EventType = "leave-room"
)

// Server -> client events.
const (
	EventRoomFull         EventType = "room-full"
	EventRoomUsers        EventType = "room-users"
	EventUserConnected    EventType = "user-connected"
	EventUserSignal       EventType = "user-signal"
	EventUserDisconnected EventType = "user-disconnected"
	EventReceiveEmoji     EventType = "receive-emoji"
	EventError            EventType = "error"
)

// maxEmojiLen bounds the reaction token. Reactions are small symbolic
// payloads, not a general message channel.
const maxEmojiLen = 64

// User is one room member as seen in a room-users snapshot.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClientMessage is the envelope for every client -> server event.
//
// Field presence is validated per event type; unknown fields are rejected so
// schema mistakes surface as protocol errors instead of silent no-ops.
type ClientMessage struct {
	Type EventType `json:"type"`

	// join-room
	RoomID   string `json:"roomId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// join-room, send-signal, send-emoji (sender id)
	UserID string `json:"userId,omitempty"`

	// send-signal
	Signal json.RawMessage `json:"signal,omitempty"`
	To     string          `json:"to,omitempty"`

	// send-emoji
	Emoji string `json:"emoji,omitempty"`

	// auth
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

// ServerMessage is the envelope for every server -> client event.
type ServerMessage struct {
	Type EventType `json:"type"`

	// room-users
	Users []User `json:"users,omitempty"`

	// user-connected, user-disconnected, receive-emoji
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// user-signal
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`

	// receive-emoji
	Emoji string `json:"emoji,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseClientMessage decodes and validates one inbound event.
//
// Decoding is strict: unknown fields and trailing data are rejected.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

// Validate checks that exactly the fields belonging to the event type are
// set. Join requests with missing identity fields fail here, before any room
// state is touched.
func (m ClientMessage) Validate() error {
	switch m.Type {
	case EventAuth:
		if m.APIKey == "" && m.Token == "" {
			return fmt.Errorf("auth message missing apiKey/token")
		}
		if m.RoomID != "" || m.UserID != "" || m.UserName != "" || m.Signal != nil || m.To != "" || m.Emoji != "" {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case EventJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if m.UserID == "" {
			return fmt.Errorf("join-room message missing userId")
		}
		if m.UserName == "" {
			return fmt.Errorf("join-room message missing userName")
		}
		if m.Signal != nil || m.To != "" || m.Emoji != "" || m.APIKey != "" || m.Token != "" {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	case EventSendSignal:
		if m.UserID == "" {
			return fmt.Errorf("send-signal message missing userId")
		}
		if m.To == "" {
			return fmt.Errorf("send-signal message missing to")
		}
		if len(m.Signal) == 0 {
			return fmt.Errorf("send-signal message missing signal")
		}
		if m.RoomID != "" || m.UserName != "" || m.Emoji != "" || m.APIKey != "" || m.Token != "" {
			return fmt.Errorf("send-signal message has unexpected fields")
		}
	case EventSendEmoji:
		if m.UserID == "" {
			return fmt.Errorf("send-emoji message missing userId")
		}
		if m.Emoji == "" {
			return fmt.Errorf("send-emoji message missing emoji")
		}
		if len(m.Emoji) > maxEmojiLen {
			return fmt.Errorf("send-emoji message emoji too long")
		}
		if m.RoomID != "" || m.UserName != "" || m.Signal != nil || m.To != "" || m.APIKey != "" || m.Token != "" {
			return fmt.Errorf("send-emoji message has unexpected fields")
		}
	case EventLeaveRoom:
		if m.RoomID != "" || m.UserID != "" || m.UserName != "" || m.Signal != nil || m.To != "" || m.Emoji != "" || m.APIKey != "" || m.Token != "" {
			return fmt.Errorf("leave-room message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// RoomUsers builds the snapshot event delivered to a joiner.
func RoomUsers(users []User) ServerMessage {
	return ServerMessage{Type: EventRoomUsers, Users: users}
}

// RoomFull builds the join rejection event.
func RoomFull() ServerMessage {
	return ServerMessage{Type: EventRoomFull}
}

// UserConnected builds the presence event broadcast on a successful join.
func UserConnected(userID, userName string) ServerMessage {
	return ServerMessage{Type: EventUserConnected, UserID: userID, UserName: userName}
}

// UserSignal builds the point-to-point forwarded negotiation payload.
func UserSignal(from string, signal json.RawMessage) ServerMessage {
	return ServerMessage{Type: EventUserSignal, From: from, Signal: signal}
}

// UserDisconnected builds the presence event broadcast on departure.
func UserDisconnected(userID string) ServerMessage {
	return ServerMessage{Type: EventUserDisconnected, UserID: userID}
}

// ReceiveEmoji builds the reaction fan-out event.
func ReceiveEmoji(userID, emoji string) ServerMessage {
	return ServerMessage{Type: EventReceiveEmoji, UserID: userID, Emoji: emoji}
}

// Error builds the error event sent before a policy-violation close.
func Error(code, message string) ServerMessage {
	return ServerMessage{Type: EventError, Code: code, Message: message}
}
