package transport

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOutbound_RoundTrip(t *testing.T) {
	out := NewUserMessage("What is RAG?", Metadata{
		MessageID:   "3f1c0a3e-8f5e-4c1b-9a63-2b0b6a1f7d10",
		Model:       "chaatu-v1.2",
		Temperature: 0.7,
		WebSearch:   true,
	})
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseOutbound(data)
	if err != nil {
		t.Fatalf("ParseOutbound: %v", err)
	}
	if got.Content != out.Content {
		t.Errorf("Content = %q, want %q", got.Content, out.Content)
	}
	if got.Metadata.MessageID != out.Metadata.MessageID {
		t.Errorf("MessageID = %q, want %q", got.Metadata.MessageID, out.Metadata.MessageID)
	}
}

func TestOutbound_WireShape(t *testing.T) {
	data, _ := json.Marshal(NewUserMessage("hi", Metadata{MessageID: "m1", Model: "x"}))
	s := string(data)
	for _, want := range []string{`"event":"user_message"`, `"content":"hi"`, `"metadata":{`, `"message_id":"m1"`, `"web_search":false`} {
		if !strings.Contains(s, want) {
			t.Errorf("payload %s missing %s", s, want)
		}
	}
}

func TestParseOutbound_WrongEvent(t *testing.T) {
	if _, err := ParseOutbound([]byte(`{"event":"ping"}`)); err == nil {
		t.Error("expected error for unknown outbound event")
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"connected", `{"event":"connected","conversation_id":"c1"}`, ""},
		{"started", `{"event":"assistant_message_started","message_id":"m1"}`, ""},
		{"chunk", `{"event":"assistant_message_chunk","message_id":"m1","delta":"x"}`, ""},
		{"completed", `{"event":"assistant_message_completed","message_id":"m1","content":"x","sources":[{"id":"s","title":"t","url":"u"}]}`, ""},
		{"error", `{"event":"error","detail":"boom"}`, ""},
		{"not json", `{`, "decode inbound"},
		{"missing event", `{"message_id":"m1"}`, "missing event"},
		{"unknown event", `{"event":"typing"}`, "unknown inbound event"},
		{"chunk without id", `{"event":"assistant_message_chunk","delta":"x"}`, "without message_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tt.payload))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseInbound_Sources(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"event":"assistant_message_completed","message_id":"m1","content":"done","sources":[{"id":"source-1","title":"KB","url":"https://chaatu.ai/handbook","snippet":"s"}]}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if len(msg.Sources) != 1 || msg.Sources[0].Snippet != "s" || msg.Sources[0].URL != "https://chaatu.ai/handbook" {
		t.Errorf("Sources = %+v", msg.Sources)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct{ base, id, want string }{
		{"ws://localhost:8000", "abc", "ws://localhost:8000/ws/chat/abc"},
		{"wss://api.chaatu.ai/", "abc", "wss://api.chaatu.ai/ws/chat/abc"},
		{"ws://h", "a b", "ws://h/ws/chat/a%20b"},
	}
	for _, tt := range tests {
		if got := StreamURL(tt.base, tt.id); got != tt.want {
			t.Errorf("StreamURL(%q, %q) = %q, want %q", tt.base, tt.id, got, tt.want)
		}
	}
}
