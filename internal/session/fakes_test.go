package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/store"
	"github.com/zulandar/chaatu/internal/transport"
)

// fakeAPI is an in-memory persistence backend.
type fakeAPI struct {
	mu        sync.Mutex
	chats     map[string]*api.Chat
	order     []string
	nextID    int
	createErr error
	addErr    error
	deleteErr error
	created   int
	saved     []api.Message
	gates     map[string]chan struct{} // GetChat blocks on gates[id] when set
	fetching  chan string              // receives ids as GetChat starts, when set
	uploads   int
	gets      int

	createGate chan struct{} // CreateChat blocks until closed, when set
	creating   chan struct{} // signalled as CreateChat starts, when set
	addGate    chan struct{} // AddMessage blocks until closed, when set
	adding     chan struct{} // signalled as AddMessage starts, when set
}

// awaitGate signals started and blocks on gate; either may be nil.
func awaitGate(started, gate chan struct{}) {
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{chats: make(map[string]*api.Chat), gates: make(map[string]chan struct{})}
}

func (f *fakeAPI) seed(id, title string, msgs ...api.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[id] = &api.Chat{ID: id, Title: title, Messages: msgs}
	f.order = append([]string{id}, f.order...)
}

func (f *fakeAPI) CreateChat(_ context.Context, title, _ string) (*api.Chat, error) {
	f.mu.Lock()
	started, gate := f.creating, f.createGate
	f.mu.Unlock()
	awaitGate(started, gate)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("c-%d", f.nextID)
	chat := &api.Chat{ID: id, Title: title}
	f.chats[id] = chat
	f.order = append([]string{id}, f.order...)
	out := *chat
	return &out, nil
}

func (f *fakeAPI) ListChats(context.Context, string) ([]api.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.Chat, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, api.Chat{ID: id, Title: f.chats[id].Title})
	}
	return out, nil
}

func (f *fakeAPI) GetChat(ctx context.Context, id string) (*api.Chat, error) {
	f.mu.Lock()
	f.gets++
	gate := f.gates[id]
	fetching := f.fetching
	f.mu.Unlock()
	if fetching != nil {
		fetching <- id
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[id]
	if !ok {
		return nil, &api.APIError{Op: "get chat", StatusCode: 404, Message: "Chat not found"}
	}
	out := *chat
	out.Messages = append([]api.Message(nil), chat.Messages...)
	return &out, nil
}

func (f *fakeAPI) DeleteChat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.chats[id]; !ok {
		return &api.APIError{Op: "delete chat", StatusCode: 404}
	}
	delete(f.chats, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) AddMessage(_ context.Context, chatID, role, content string) (*api.Message, error) {
	f.mu.Lock()
	started, gate := f.adding, f.addGate
	f.mu.Unlock()
	awaitGate(started, gate)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	msg := api.Message{ID: fmt.Sprintf("srv-%d", len(f.saved)+1), Role: role, Content: content}
	f.saved = append(f.saved, msg)
	if chat, ok := f.chats[chatID]; ok {
		chat.Messages = append(chat.Messages, msg)
	}
	return &msg, nil
}

func (f *fakeAPI) UploadDocument(_ context.Context, conversationID, name, mimeType string, r io.Reader, size int64, progress api.ProgressFunc) (*api.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, errors.New("short read")
	}
	if progress != nil {
		progress(50)
		progress(100)
	}
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	return &api.Document{ID: "doc-1", Filename: name, Size: size, ConversationID: conversationID, MimeType: mimeType}, nil
}

func (f *fakeAPI) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeAPI) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

// fakeTransport records calls and lets tests emit events synchronously.
type fakeTransport struct {
	mu       sync.Mutex
	autoOpen bool
	open     bool
	current  string
	connects []string
	closes   int
	sent     []transport.OutboundMessage
	sendErr  error
	subs     map[transport.EventKind]map[int]transport.Handler
	nextSub  int
}

func newFakeTransport(autoOpen bool) *fakeTransport {
	return &fakeTransport{autoOpen: autoOpen, subs: make(map[transport.EventKind]map[int]transport.Handler)}
}

func (f *fakeTransport) Connect(id string) error {
	f.mu.Lock()
	if f.current == id {
		f.mu.Unlock()
		return nil
	}
	f.current = id
	f.open = false
	f.connects = append(f.connects, id)
	auto := f.autoOpen
	f.mu.Unlock()
	if auto {
		f.openNow()
	}
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closes++
	f.current = ""
	f.open = false
	f.mu.Unlock()
}

func (f *fakeTransport) Send(msg transport.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.open {
		return transport.ErrNotOpen
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) On(kind transport.EventKind, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	if f.subs[kind] == nil {
		f.subs[kind] = make(map[int]transport.Handler)
	}
	f.subs[kind][id] = h
	return func() {
		f.mu.Lock()
		delete(f.subs[kind], id)
		f.mu.Unlock()
	}
}

// openNow marks the socket open and emits EventOpen.
func (f *fakeTransport) openNow() {
	f.mu.Lock()
	f.open = true
	id := f.current
	f.mu.Unlock()
	f.emit(transport.Event{Kind: transport.EventOpen, ConversationID: id})
}

// dropNow marks the socket closed and emits EventClose.
func (f *fakeTransport) dropNow(err error) {
	f.mu.Lock()
	f.open = false
	id := f.current
	f.mu.Unlock()
	f.emit(transport.Event{Kind: transport.EventClose, ConversationID: id, Err: err})
}

// inbound emits a message event for the current binding.
func (f *fakeTransport) inbound(msg transport.InboundMessage) {
	f.mu.Lock()
	id := f.current
	f.mu.Unlock()
	f.emitFor(id, msg)
}

func (f *fakeTransport) emitFor(conversationID string, msg transport.InboundMessage) {
	f.emit(transport.Event{Kind: transport.EventMessage, ConversationID: conversationID, Message: msg})
}

func (f *fakeTransport) emit(ev transport.Event) {
	f.mu.Lock()
	var hs []transport.Handler
	for _, h := range f.subs[ev.Kind] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeTransport) sentMessages() []transport.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.OutboundMessage(nil), f.sent...)
}

func (f *fakeTransport) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.subs {
		n += len(m)
	}
	return n
}

// navRecorder records navigator pushes.
type navRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (n *navRecorder) Navigate(id string) {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
}

func (n *navRecorder) pushes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

// seqIDs returns an id generator yielding m-1, m-2, ...
func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("m-%d", n)
	}
}

type harness struct {
	ctrl  *Controller
	store *store.Store
	api   *fakeAPI
	tr    *fakeTransport
	nav   *navRecorder
}

func newHarness(autoOpen bool) *harness {
	h := &harness{
		store: store.New(store.State{Model: "chaatu-v1.2", Temperature: 0.7}),
		api:   newFakeAPI(),
		tr:    newFakeTransport(autoOpen),
		nav:   &navRecorder{},
	}
	ctrl, err := NewController(ControllerOpts{
		Store:     h.store,
		API:       h.api,
		Transport: h.tr,
		UserID:    "u-1",
		Navigator: h.nav,
		NewID:     seqIDs(),
	})
	if err != nil {
		panic(err)
	}
	h.ctrl = ctrl
	return h
}
