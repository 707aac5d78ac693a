package api

import (
	"fmt"
	"strings"
	"time"
)

// Chat is a conversation as returned by the API.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt Timestamp `json:"created_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
}

// Source is a citation stored with an assistant message.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Document describes an uploaded file.
type Document struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	Size           int64  `json:"size"`
	ConversationID string `json:"conversation_id"`
	MimeType       string `json:"mime_type"`
	URL            string `json:"url"`
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO 8601 form some
// backends emit; zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("api: unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}
