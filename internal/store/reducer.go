package store

import "time"

// Action is a declared state transition. The set is closed: only types in
// this package implement it.
type Action interface {
	apply(s *State)
}

// Reduce returns the state that results from applying a to s. It is pure:
// s is never modified and the result shares no mutable memory with it.
func Reduce(s State, a Action) State {
	next := s.clone()
	if a != nil {
		a.apply(&next)
	}
	return next
}

// ---------------------------------------------------------------------------
// Chat list
// ---------------------------------------------------------------------------

// SetChats replaces the chat list wholesale.
type SetChats struct{ Chats []Chat }

func (a SetChats) apply(s *State) {
	s.Chats = append([]Chat(nil), a.Chats...)
}

// AddChat inserts a chat at the front of the list.
type AddChat struct{ Chat Chat }

func (a AddChat) apply(s *State) {
	s.Chats = append([]Chat{a.Chat}, s.Chats...)
}

// UpsertChat merges non-zero fields into the chat with the same id, or
// inserts it at the front when absent.
type UpsertChat struct{ Chat Chat }

func (a UpsertChat) apply(s *State) {
	i := s.chatIndex(a.Chat.ID)
	if i < 0 {
		s.Chats = append([]Chat{a.Chat}, s.Chats...)
		return
	}
	if a.Chat.Title != "" {
		s.Chats[i].Title = a.Chat.Title
	}
	if !a.Chat.CreatedAt.IsZero() {
		s.Chats[i].CreatedAt = a.Chat.CreatedAt
	}
}

// ReplaceChatID renames a chat and, when it is the active conversation, the
// active id too. Any other entry already holding RealID is dropped so the
// list never contains duplicates.
type ReplaceChatID struct {
	TempID string
	RealID string
}

func (a ReplaceChatID) apply(s *State) {
	i := s.chatIndex(a.TempID)
	if i < 0 {
		return
	}
	renamed := s.Chats[i]
	renamed.ID = a.RealID
	chats := make([]Chat, 0, len(s.Chats))
	for j, c := range s.Chats {
		switch {
		case j == i:
			chats = append(chats, renamed)
		case c.ID == a.RealID:
		default:
			chats = append(chats, c)
		}
	}
	s.Chats = chats
	if s.CurrentChatID == a.TempID {
		s.CurrentChatID = a.RealID
	}
}

// RemoveChat drops a chat. Removing the active conversation also clears the
// active id, the message log and the streaming flag.
type RemoveChat struct{ ID string }

func (a RemoveChat) apply(s *State) {
	i := s.chatIndex(a.ID)
	if i >= 0 {
		s.Chats = append(s.Chats[:i:i], s.Chats[i+1:]...)
	}
	if s.CurrentChatID == a.ID && a.ID != "" {
		s.CurrentChatID = ""
		s.Messages = nil
		s.IsStreaming = false
	}
}

// SetCurrentChatID sets the active conversation id ("" for none).
type SetCurrentChatID struct{ ID string }

func (a SetCurrentChatID) apply(s *State) { s.CurrentChatID = a.ID }

// ---------------------------------------------------------------------------
// Message log
// ---------------------------------------------------------------------------

// SetMessages replaces the message log.
type SetMessages struct{ Messages []Message }

func (a SetMessages) apply(s *State) {
	s.Messages = make([]Message, len(a.Messages))
	for i, m := range a.Messages {
		s.Messages[i] = m.clone()
	}
}

// AddMessage appends a message to the log.
type AddMessage struct{ Message Message }

func (a AddMessage) apply(s *State) {
	s.Messages = append(s.Messages, a.Message.clone())
}

// AppendToMessage appends Delta to a non-terminal message's content. It is a
// no-op when the id is unknown.
type AppendToMessage struct {
	ID    string
	Delta string
}

func (a AppendToMessage) apply(s *State) {
	i := s.messageIndex(a.ID)
	if i < 0 || s.Messages[i].Status.Terminal() {
		return
	}
	s.Messages[i].Content += a.Delta
}

// UpdateMessage changes a non-terminal message. Nil Content keeps the
// accumulated text; a non-nil Content replaces it. Unknown ids are a no-op.
type UpdateMessage struct {
	ID      string
	Status  Status
	Content *string
	Sources []Source
}

func (a UpdateMessage) apply(s *State) {
	i := s.messageIndex(a.ID)
	if i < 0 || s.Messages[i].Status.Terminal() {
		return
	}
	m := &s.Messages[i]
	if a.Status != "" {
		m.Status = a.Status
	}
	if a.Content != nil {
		m.Content = *a.Content
	}
	if a.Sources != nil {
		m.Sources = append([]Source(nil), a.Sources...)
	}
}

// ---------------------------------------------------------------------------
// UI flags and settings
// ---------------------------------------------------------------------------

// SetStreaming sets the streaming-in-progress flag.
type SetStreaming struct{ Streaming bool }

func (a SetStreaming) apply(s *State) { s.IsStreaming = a.Streaming }

// SetUploadProgress sets upload progress in percent; nil hides it.
type SetUploadProgress struct{ Percent *int }

func (a SetUploadProgress) apply(s *State) {
	if a.Percent == nil {
		s.UploadProgress = nil
		return
	}
	p := *a.Percent
	s.UploadProgress = &p
}

// SetModel selects the model sent with each message.
type SetModel struct{ Model string }

func (a SetModel) apply(s *State) { s.Model = a.Model }

// SetTemperature sets the sampling temperature sent with each message.
type SetTemperature struct{ Temperature float64 }

func (a SetTemperature) apply(s *State) { s.Temperature = a.Temperature }

// ToggleWebSearch flips the web-search setting.
type ToggleWebSearch struct{}

func (ToggleWebSearch) apply(s *State) { s.WebSearch = !s.WebSearch }

// SetCustomModel stores (or clears, when nil) the custom model config.
type SetCustomModel struct{ Config *CustomModelConfig }

func (a SetCustomModel) apply(s *State) {
	if a.Config == nil {
		s.CustomModel = nil
		return
	}
	cm := *a.Config
	s.CustomModel = &cm
}

// ResetChat clears the message log, active id, streaming flag and upload
// progress together.
type ResetChat struct{}

func (ResetChat) apply(s *State) {
	s.Messages = nil
	s.CurrentChatID = ""
	s.IsStreaming = false
	s.UploadProgress = nil
}

// NewChat builds a chat list entry stamped with the current time.
func NewChat(id, title string) Chat {
	return Chat{ID: id, Title: title, CreatedAt: time.Now().UTC()}
}
