// Package store holds the client-side conversation state and the pure
// transitions that are the only way to change it.
package store

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle position of a message.
//
//	(none) -> streaming -> complete
//	              |
//	              +------> error
//
// complete and error are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Terminal reports whether no further content or status changes are allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Source is a citation attached to a completed assistant message.
type Source struct {
	ID      string
	Title   string
	URL     string
	Snippet string
}

// Message is one entry in the active conversation's log. IDs are assigned by
// the caller before the message is dispatched; the store never creates them.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Status      Status
	Attachments []string
	Sources     []Source
}

// Chat is a conversation as it appears in the chat list.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// CustomModelConfig names a user-supplied model endpoint.
type CustomModelConfig struct {
	Name   string
	APIKey string
}

// State is the complete client view. Chats are ordered most-recent-first;
// Messages are in insertion order.
type State struct {
	Chats          []Chat
	CurrentChatID  string
	Messages       []Message
	IsStreaming    bool
	UploadProgress *int

	Model       string
	Temperature float64
	WebSearch   bool
	CustomModel *CustomModelConfig
}

// Message returns the message with the given id.
func (s State) Message(id string) (Message, bool) {
	if i := s.messageIndex(id); i >= 0 {
		return s.Messages[i], true
	}
	return Message{}, false
}

// Chat returns the chat list entry with the given id.
func (s State) Chat(id string) (Chat, bool) {
	if i := s.chatIndex(id); i >= 0 {
		return s.Chats[i], true
	}
	return Chat{}, false
}

// StreamingMessageIDs returns the ids of all messages still streaming, in
// log order.
func (s State) StreamingMessageIDs() []string {
	var ids []string
	for _, m := range s.Messages {
		if m.Status == StatusStreaming {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// EffectiveModel is the model label shown to the user: the custom model's
// name when the custom model is selected.
func (s State) EffectiveModel() string {
	if s.Model == CustomModelKey && s.CustomModel != nil {
		return s.CustomModel.Name
	}
	return s.Model
}

// CustomModelKey is the model value that selects CustomModel.
const CustomModelKey = "custom"

func (s State) messageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) chatIndex(id string) int {
	for i := range s.Chats {
		if s.Chats[i].ID == id {
			return i
		}
	}
	return -1
}

// clone returns a deep copy so transitions never alias a previous state.
func (s State) clone() State {
	out := s
	out.Chats = append([]Chat(nil), s.Chats...)
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.clone()
		}
	}
	if s.UploadProgress != nil {
		p := *s.UploadProgress
		out.UploadProgress = &p
	}
	if s.CustomModel != nil {
		cm := *s.CustomModel
		out.CustomModel = &cm
	}
	return out
}

func (m Message) clone() Message {
	out := m
	out.Attachments = append([]string(nil), m.Attachments...)
	out.Sources = append([]Source(nil), m.Sources...)
	return out
}
