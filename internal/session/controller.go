// Package session sequences chat operations across the conversation store,
// the persistence API and the streaming transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/store"
	"github.com/zulandar/chaatu/internal/transport"
)

var (
	// ErrEmptyMessage is returned by Send for blank content. Nothing is
	// dispatched or sent.
	ErrEmptyMessage = errors.New("session: message is empty")
	// ErrBusy is returned by Send while a response is still streaming.
	ErrBusy = errors.New("session: a response is still streaming")
	// ErrNoConversation is returned by operations that need an active
	// persisted conversation.
	ErrNoConversation = errors.New("session: no active conversation")
	// ErrConversationChanged is returned by Send when the active
	// conversation changed while a request was in flight. The store is left
	// showing the new conversation; the caller may retry.
	ErrConversationChanged = errors.New("session: active conversation changed")
)

// API is the subset of the persistence client the controller uses.
type API interface {
	CreateChat(ctx context.Context, title, userID string) (*api.Chat, error)
	ListChats(ctx context.Context, userID string) ([]api.Chat, error)
	GetChat(ctx context.Context, chatID string) (*api.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	AddMessage(ctx context.Context, chatID, role, content string) (*api.Message, error)
	UploadDocument(ctx context.Context, conversationID, name, mimeType string, r io.Reader, size int64, progress api.ProgressFunc) (*api.Document, error)
}

// Transport is the subset of the streaming client the controller uses.
// The controller is its only caller of Connect, Close and Send.
type Transport interface {
	Connect(conversationID string) error
	Close()
	Send(msg transport.OutboundMessage) error
	IsOpen() bool
	On(kind transport.EventKind, h transport.Handler) (unsubscribe func())
}

// Navigator is told when the active conversation changes so an external
// location (URL, prompt, window title) can follow. "" means no conversation.
type Navigator interface {
	Navigate(conversationID string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(conversationID string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(conversationID string) { f(conversationID) }

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Store     *store.Store
	API       API
	Transport Transport
	UserID    string
	Navigator Navigator     // optional
	NewID     func() string // message ids; defaults to uuid.NewString
}

// Controller owns the send pipeline and conversation switching.
type Controller struct {
	store     *store.Store
	api       API
	transport Transport
	userID    string
	nav       Navigator
	newID     func() string

	loadGen atomic.Uint64

	// bindMu serializes binding the transport to a conversation with the
	// check that the conversation is still current. Held before mu, never
	// inside a transport event handler.
	bindMu sync.Mutex

	mu        sync.Mutex
	outbound  *queuedSend // waiting for the socket to open
	navigated string      // last conversation id seen by or pushed to the navigator
	unsubs    []func()
}

// queuedSend is an outbound message held until its conversation's socket
// opens.
type queuedSend struct {
	conversationID string
	msg            transport.OutboundMessage
}

// NewController creates a Controller and subscribes it to transport events.
func NewController(opts ControllerOpts) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if opts.API == nil {
		return nil, fmt.Errorf("session: api is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	userID := opts.UserID
	if userID == "" {
		userID = "anonymous"
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	c := &Controller{
		store:     opts.Store,
		api:       opts.API,
		transport: opts.Transport,
		userID:    userID,
		nav:       opts.Navigator,
		newID:     newID,
	}
	c.unsubs = []func(){
		c.transport.On(transport.EventOpen, c.onOpen),
		c.transport.On(transport.EventMessage, c.onMessage),
		c.transport.On(transport.EventClose, c.onDisconnect),
		c.transport.On(transport.EventError, c.onDisconnect),
		c.transport.On(transport.EventReconnect, c.onReconnect),
	}
	return c, nil
}

// Close unsubscribes from the transport and closes the connection.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.outbound = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	c.transport.Close()
}

// Store returns the store the controller drives.
func (c *Controller) Store() *store.Store { return c.store }

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

// EnsureConversation returns the active conversation id, creating a
// conversation titled after firstText when none is active. A failed create
// leaves no trace of the optimistic entry.
func (c *Controller) EnsureConversation(ctx context.Context, firstText string) (string, error) {
	if id := c.store.State().CurrentChatID; id != "" {
		return id, nil
	}

	title := chatTitle(firstText)
	p := stageChat(c.store, title)
	created, err := c.api.CreateChat(ctx, title, c.userID)
	if err != nil {
		p.abort()
		log.Printf("session: create chat %q failed: %v", title, err)
		return "", fmt.Errorf("session: create chat: %w", err)
	}
	if !p.commit(created) {
		log.Printf("session: chat %s created after switching away [title=%q]", created.ID, created.Title)
		return "", ErrConversationChanged
	}
	log.Printf("session: chat %s created [title=%q]", created.ID, created.Title)

	c.navigate(created.ID)
	return created.ID, nil
}

// Send appends a user message, persists it and streams the assistant's
// reply into a new message.
func (c *Controller) Send(ctx context.Context, content string, attachments []string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return ErrEmptyMessage
	}
	if c.store.State().IsStreaming {
		return ErrBusy
	}

	chatID, err := c.EnsureConversation(ctx, text)
	if err != nil {
		return err
	}

	userMsg := store.Message{
		ID:          c.newID(),
		Role:        store.RoleUser,
		Content:     text,
		Status:      store.StatusPending,
		Attachments: append([]string(nil), attachments...),
	}
	if !c.updateIfCurrent(chatID, store.AddMessage{Message: userMsg}) {
		return ErrConversationChanged
	}

	if _, err := c.api.AddMessage(ctx, chatID, string(store.RoleUser), text); err != nil {
		c.store.Dispatch(store.UpdateMessage{ID: userMsg.ID, Status: store.StatusError})
		log.Printf("session: save message [chat=%s]: %v", chatID, err)
		return fmt.Errorf("session: save message: %w", err)
	}

	assistantID := c.newID()
	if !c.updateIfCurrent(chatID,
		store.UpdateMessage{ID: userMsg.ID, Status: store.StatusComplete},
		store.AddMessage{Message: store.Message{ID: assistantID, Role: store.RoleAssistant, Status: store.StatusStreaming}},
		store.SetStreaming{Streaming: true},
	) {
		log.Printf("session: message saved to chat %s after switching away", chatID)
		return ErrConversationChanged
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	st := c.store.State()
	if st.CurrentChatID != chatID {
		// The switch already replaced the message log and cleared streaming.
		return ErrConversationChanged
	}
	if err := c.transport.Connect(chatID); err != nil {
		c.failStreaming(err.Error())
		return fmt.Errorf("session: connect: %w", err)
	}

	out := transport.NewUserMessage(text, transport.Metadata{
		MessageID:   assistantID,
		Model:       st.EffectiveModel(),
		Temperature: st.Temperature,
		WebSearch:   st.WebSearch,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.transport.IsOpen() {
		c.outbound = &queuedSend{conversationID: chatID, msg: out}
		return nil
	}
	if err := c.transport.Send(out); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			c.outbound = &queuedSend{conversationID: chatID, msg: out}
			return nil
		}
		c.failStreaming(err.Error())
		return fmt.Errorf("session: send: %w", err)
	}
	return nil
}

// updateIfCurrent applies actions only while chatID is the active
// conversation and reports whether they were applied.
func (c *Controller) updateIfCurrent(chatID string, actions ...store.Action) bool {
	applied := false
	c.store.Update(func(st store.State) []store.Action {
		if st.CurrentChatID != chatID {
			return nil
		}
		applied = true
		return actions
	})
	return applied
}

// LoadConversation fetches a conversation and makes it active. When loads
// overlap only the most recently started one is applied.
func (c *Controller) LoadConversation(ctx context.Context, chatID string) error {
	gen := c.loadGen.Add(1)

	chat, err := c.api.GetChat(ctx, chatID)
	if err != nil {
		log.Printf("session: load chat %s: %v", chatID, err)
		return fmt.Errorf("session: load chat: %w", err)
	}

	messages := make([]store.Message, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		msg := store.Message{
			ID:      m.ID,
			Role:    store.Role(m.Role),
			Content: m.Content,
			Status:  store.StatusComplete,
		}
		for _, src := range m.Sources {
			msg.Sources = append(msg.Sources, store.Source(src))
		}
		messages = append(messages, msg)
	}

	applied := false
	c.store.Update(func(st store.State) []store.Action {
		if c.loadGen.Load() != gen {
			return nil
		}
		applied = true
		return []store.Action{
			store.UpsertChat{Chat: store.Chat{ID: chat.ID, Title: chat.Title, CreatedAt: chat.CreatedAt.Time}},
			store.SetCurrentChatID{ID: chat.ID},
			store.SetMessages{Messages: messages},
			store.SetStreaming{Streaming: false},
			store.SetUploadProgress{},
		}
	})
	if !applied {
		log.Printf("session: discarding stale load of chat %s", chatID)
		return nil
	}

	c.bindMu.Lock()
	if c.loadGen.Load() != gen {
		// A newer load or reset owns the binding.
		c.bindMu.Unlock()
		return nil
	}
	c.dropOutbound()
	err = c.transport.Connect(chat.ID)
	c.bindMu.Unlock()
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	c.navigate(chat.ID)
	return nil
}

// SyncNavigation reconciles the store with an externally observed
// conversation id. Matching ids are left alone, a new id is loaded and a
// cleared id resets the active conversation.
func (c *Controller) SyncNavigation(ctx context.Context, externalID string) error {
	c.mu.Lock()
	c.navigated = externalID
	c.mu.Unlock()

	current := c.store.State().CurrentChatID
	switch {
	case externalID == current:
		return nil
	case externalID == "":
		if IsTempID(current) {
			return nil // creation in flight; the navigator hears the real id on commit
		}
		c.NewChat()
		return nil
	default:
		return c.LoadConversation(ctx, externalID)
	}
}

// NewChat clears the active conversation and closes its stream.
func (c *Controller) NewChat() {
	c.loadGen.Add(1)
	c.store.Dispatch(store.ResetChat{})
	c.unbind()
	c.navigate("")
}

// RefreshChats replaces the chat list with the user's persisted chats. A
// chat still being created stays at the front.
func (c *Controller) RefreshChats(ctx context.Context) ([]store.Chat, error) {
	remote, err := c.api.ListChats(ctx, c.userID)
	if err != nil {
		return nil, fmt.Errorf("session: list chats: %w", err)
	}
	chats := make([]store.Chat, 0, len(remote)+1)
	for _, ch := range remote {
		chats = append(chats, store.Chat{ID: ch.ID, Title: ch.Title, CreatedAt: ch.CreatedAt.Time})
	}
	st := c.store.Update(func(st store.State) []store.Action {
		list := chats
		if IsTempID(st.CurrentChatID) {
			if staged, ok := st.Chat(st.CurrentChatID); ok {
				list = append([]store.Chat{staged}, chats...)
			}
		}
		return []store.Action{store.SetChats{Chats: list}}
	})
	return st.Chats, nil
}

// DeleteChat deletes a chat on the backend and drops it from the store. A
// chat the backend no longer knows is dropped as well.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) error {
	if err := c.api.DeleteChat(ctx, chatID); err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("session: delete chat: %w", err)
	}
	wasCurrent := false
	c.store.Update(func(st store.State) []store.Action {
		wasCurrent = st.CurrentChatID == chatID
		return []store.Action{store.RemoveChat{ID: chatID}}
	})
	if wasCurrent {
		c.loadGen.Add(1)
		c.unbind()
		c.navigate("")
	}
	log.Printf("session: chat %s deleted", chatID)
	return nil
}

// Upload sends a document for the active conversation, reporting progress
// through the store.
func (c *Controller) Upload(ctx context.Context, path string) (*api.Document, error) {
	chatID := c.store.State().CurrentChatID
	if chatID == "" || IsTempID(chatID) {
		return nil, ErrNoConversation
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open upload: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("session: stat upload: %w", err)
	}

	name := filepath.Base(path)
	mimeType := api.MimeTypeFor(name)
	if err := api.ValidateUpload(chatID, name, mimeType, info.Size()); err != nil {
		return nil, err
	}

	defer c.store.Dispatch(store.SetUploadProgress{})
	doc, err := c.api.UploadDocument(ctx, chatID, name, mimeType, f, info.Size(), func(pct int) {
		c.store.Dispatch(store.SetUploadProgress{Percent: &pct})
	})
	if err != nil {
		return nil, fmt.Errorf("session: upload %s: %w", name, err)
	}
	log.Printf("session: uploaded %s [chat=%s doc=%s]", name, chatID, doc.ID)
	return doc, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// SetModel selects the generation model.
func (c *Controller) SetModel(model string) {
	c.store.Dispatch(store.SetModel{Model: model})
}

// SetTemperature sets the sampling temperature, which must be in [0, 2].
func (c *Controller) SetTemperature(t float64) error {
	if t < 0 || t > 2 {
		return fmt.Errorf("session: temperature %.2f out of range [0, 2]", t)
	}
	c.store.Dispatch(store.SetTemperature{Temperature: t})
	return nil
}

// ToggleWebSearch flips web search and returns the new setting.
func (c *Controller) ToggleWebSearch() bool {
	return c.store.Dispatch(store.ToggleWebSearch{}).WebSearch
}

// SetCustomModel stores a custom model endpoint and selects it.
func (c *Controller) SetCustomModel(name, apiKey string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("session: custom model name is required")
	}
	c.store.Dispatch(
		store.SetCustomModel{Config: &store.CustomModelConfig{Name: name, APIKey: apiKey}},
		store.SetModel{Model: store.CustomModelKey},
	)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// navigate pushes id to the navigator unless it already shows it.
func (c *Controller) navigate(id string) {
	c.mu.Lock()
	if c.navigated == id {
		c.mu.Unlock()
		return
	}
	c.navigated = id
	c.mu.Unlock()
	if c.nav != nil {
		c.nav.Navigate(id)
	}
}

// unbind drops any queued send and closes the stream.
func (c *Controller) unbind() {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	c.dropOutbound()
	c.transport.Close()
}

func (c *Controller) dropOutbound() {
	c.mu.Lock()
	c.outbound = nil
	c.mu.Unlock()
}
