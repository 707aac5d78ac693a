package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Inbound event discriminators sent by the streaming endpoint.
const (
	InboundConnected          = "connected"
	InboundAssistantStarted   = "assistant_message_started"
	InboundAssistantChunk     = "assistant_message_chunk"
	InboundAssistantCompleted = "assistant_message_completed"
	InboundError              = "error"
)

// OutboundUserMessage is the only outbound event the client sends.
const OutboundUserMessage = "user_message"

// Source is a citation record attached to a completed response.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// InboundMessage is a parsed server event. Which fields are set depends on
// Event.
type InboundMessage struct {
	Event          string   `json:"event"`
	ConversationID string   `json:"conversation_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	Delta          string   `json:"delta,omitempty"`
	Content        string   `json:"content,omitempty"`
	Sources        []Source `json:"sources,omitempty"`
	Detail         string   `json:"detail,omitempty"`
}

// Metadata carries the correlation id and generation settings.
type Metadata struct {
	MessageID   string  `json:"message_id"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	WebSearch   bool    `json:"web_search"`
}

// OutboundMessage is a user message sent over the socket.
type OutboundMessage struct {
	Event    string   `json:"event"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// NewUserMessage builds an outbound user_message.
func NewUserMessage(content string, meta Metadata) OutboundMessage {
	return OutboundMessage{Event: OutboundUserMessage, Content: content, Metadata: meta}
}

// ParseInbound decodes and validates a server payload.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("transport: decode inbound: %w", err)
	}
	switch msg.Event {
	case InboundConnected, InboundError:
	case InboundAssistantStarted, InboundAssistantChunk, InboundAssistantCompleted:
		if msg.MessageID == "" {
			return InboundMessage{}, fmt.Errorf("transport: %s without message_id", msg.Event)
		}
	case "":
		return InboundMessage{}, fmt.Errorf("transport: inbound payload missing event")
	default:
		return InboundMessage{}, fmt.Errorf("transport: unknown inbound event %q", msg.Event)
	}
	return msg, nil
}

// ParseOutbound decodes an outbound payload.
func ParseOutbound(data []byte) (OutboundMessage, error) {
	var msg OutboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return OutboundMessage{}, fmt.Errorf("transport: decode outbound: %w", err)
	}
	if msg.Event != OutboundUserMessage {
		return OutboundMessage{}, fmt.Errorf("transport: unknown outbound event %q", msg.Event)
	}
	return msg, nil
}

// StreamURL returns the per-conversation socket URL under base.
func StreamURL(base, conversationID string) string {
	return strings.TrimRight(base, "/") + "/ws/chat/" + url.PathEscape(conversationID)
}
