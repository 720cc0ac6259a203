package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessageValid(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
		typ  EventType
	}{
		{"join", `{"type":"join-room","roomId":"r1","userId":"u1","userName":"Alice"}`, EventJoinRoom},
		{"signal", `{"type":"send-signal","userId":"u1","to":"u2","signal":{"sdp":"offer"}}`, EventSendSignal},
		{"emoji", `{"type":"send-emoji","userId":"u1","emoji":"🎉"}`, EventSendEmoji},
		{"leave", `{"type":"leave-room"}`, EventLeaveRoom},
		{"auth key", `{"type":"auth","apiKey":"secret"}`, EventAuth},
		{"auth token", `{"type":"auth","token":"abc.def.ghi"}`, EventAuth},
	} {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tc.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if msg.Type != tc.typ {
				t.Fatalf("expected %q, got %q", tc.typ, msg.Type)
			}
		})
	}
}

func TestParseClientMessageInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"trailing data", `{"type":"leave-room"}{"type":"leave-room"}`},
		{"unknown field", `{"type":"leave-room","bogus":1}`},
		{"unknown type", `{"type":"launch-missiles"}`},
		{"empty type", `{}`},
		{"join without room", `{"type":"join-room","userId":"u1","userName":"Alice"}`},
		{"join without user id", `{"type":"join-room","roomId":"r1","userName":"Alice"}`},
		{"join without name", `{"type":"join-room","roomId":"r1","userId":"u1"}`},
		{"join with stray field", `{"type":"join-room","roomId":"r1","userId":"u1","userName":"Alice","emoji":"x"}`},
		{"signal without to", `{"type":"send-signal","userId":"u1","signal":{}}`},
		{"signal without payload", `{"type":"send-signal","userId":"u1","to":"u2"}`},
		{"signal without sender", `{"type":"send-signal","to":"u2","signal":{}}`},
		{"emoji without sender", `{"type":"send-emoji","emoji":"🎉"}`},
		{"emoji without emoji", `{"type":"send-emoji","userId":"u1"}`},
		{"emoji too long", `{"type":"send-emoji","userId":"u1","emoji":"` + strings.Repeat("x", 65) + `"}`},
		{"leave with fields", `{"type":"leave-room","roomId":"r1"}`},
		{"auth without credential", `{"type":"auth"}`},
		{"auth with stray field", `{"type":"auth","apiKey":"k","roomId":"r1"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestSignalPayloadIsOpaque(t *testing.T) {
	raw := `{"type":"send-signal","userId":"u1","to":"u2","signal":{"nested":{"deep":[1,2,3]},"sdp":"v=0"}}`
	msg, err := ParseClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	fwd := UserSignal(msg.UserID, msg.Signal)
	out, err := json.Marshal(fwd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got struct {
		Type   string          `json:"type"`
		From   string          `json:"from"`
		Signal json.RawMessage `json:"signal"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "user-signal" || got.From != "u1" {
		t.Fatalf("unexpected envelope: %s", out)
	}
	if string(got.Signal) != `{"nested":{"deep":[1,2,3]},"sdp":"v=0"}` {
		t.Fatalf("payload was altered: %s", got.Signal)
	}
}

func TestServerMessageShapes(t *testing.T) {
	snap, err := json.Marshal(RoomUsers([]User{{ID: "u1", Name: "Alice"}}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(snap) != `{"type":"room-users","users":[{"id":"u1","name":"Alice"}]}` {
		t.Fatalf("unexpected snapshot wire form: %s", snap)
	}

	full, err := json.Marshal(RoomFull())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(full) != `{"type":"room-full"}` {
		t.Fatalf("unexpected room-full wire form: %s", full)
	}

	gone, err := json.Marshal(UserDisconnected("u1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(gone) != `{"type":"user-disconnected","userId":"u1"}` {
		t.Fatalf("unexpected user-disconnected wire form: %s", gone)
	}
}
