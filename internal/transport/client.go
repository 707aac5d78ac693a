// Package transport implements the reconnecting streaming connection that
// carries one conversation's user messages and assistant responses.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultInitialBackoff is the reconnect wait after the first unexpected close.
	DefaultInitialBackoff = 500 * time.Millisecond
	// DefaultMaxBackoff caps the exponential reconnect wait.
	DefaultMaxBackoff = 8 * time.Second
	// writeTimeout bounds a single socket write.
	writeTimeout = 10 * time.Second
)

var (
	// ErrNotOpen is returned by Send when no socket is currently open.
	ErrNotOpen = errors.New("transport: connection not open")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("transport: client shut down")
)

// EventKind names a client lifecycle event.
type EventKind string

const (
	EventOpen      EventKind = "open"
	EventMessage   EventKind = "message"
	EventClose     EventKind = "close"
	EventError     EventKind = "error"
	EventReconnect EventKind = "reconnect"
)

// Event is delivered to subscribers. ConversationID is the binding of the
// socket that produced it.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        InboundMessage // EventMessage
	Err            error          // EventError, EventClose
	Delay          time.Duration  // EventReconnect
}

// Handler receives events. Handlers run one at a time on the client's
// delivery goroutine, in arrival order.
type Handler func(Event)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL        string        // ws(s) base; "/ws/chat/{id}" is appended
	Dialer         Dialer        // defaults to websocket.DefaultDialer
	Header         http.Header   // sent on every dial
	InitialBackoff time.Duration // defaults to DefaultInitialBackoff
	MaxBackoff     time.Duration // defaults to DefaultMaxBackoff
}

// Client owns at most one live connection, bound to one conversation at a
// time. It reconnects with exponential backoff after unexpected closes until
// Close is called. There is no retry limit.
type Client struct {
	baseURL        string
	dialer         Dialer
	header         http.Header
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu              sync.Mutex
	gen             uint64 // bumped on every rebind/close; stale work checks it
	conversationID  string
	bound           bool
	shouldReconnect bool
	conn            *websocket.Conn
	cancel          context.CancelFunc
	timer           *time.Timer
	backoff         time.Duration
	dials           int
	shutdown        bool

	writeMu sync.Mutex

	subsMu sync.Mutex
	subID  int
	subs   map[EventKind]map[int]Handler

	queue *mailbox
	done  chan struct{}
}

// New creates a Client and starts its delivery goroutine. Call Shutdown to
// release it.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("transport: base url is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	c := &Client{
		baseURL:        opts.BaseURL,
		dialer:         opts.Dialer,
		header:         opts.Header,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		backoff:        opts.InitialBackoff,
		subs:           make(map[EventKind]map[int]Handler),
		queue:          newMailbox(),
		done:           make(chan struct{}),
	}
	go c.deliver()
	return c, nil
}

// Connect binds the client to conversationID. It is a no-op when already
// bound to the same id. A different id tears down the current socket
// without triggering reconnect before dialing the new one. The dial happens
// in the background; watch for EventOpen.
func (c *Client) Connect(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	if c.bound && c.conversationID == conversationID {
		return nil
	}
	c.teardownLocked()
	c.conversationID = conversationID
	c.bound = true
	c.shouldReconnect = true
	c.backoff = c.initialBackoff

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.dial(ctx, c.gen, conversationID)
	return nil
}

// Close drops the connection and disables auto-reconnect. A later Connect
// starts a fresh binding.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Shutdown closes the connection and stops event delivery for good.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.teardownLocked()
	c.mu.Unlock()
	close(c.done)
}

// teardownLocked invalidates the current generation so no reconnect, dial
// or read loop belonging to it can emit again. Caller holds c.mu.
func (c *Client) teardownLocked() {
	c.gen++
	c.bound = false
	c.shouldReconnect = false
	c.conversationID = ""
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// ConversationID returns the current binding ("" when unbound).
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// IsOpen reports whether a socket is currently open.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// DialCount returns the number of dial attempts made so far.
func (c *Client) DialCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Send writes msg if the socket is open. Otherwise the message is dropped,
// a warning is logged, and ErrNotOpen is returned.
func (c *Client) Send(msg OutboundMessage) error {
	c.mu.Lock()
	conn := c.conn
	id := c.conversationID
	c.mu.Unlock()

	if conn == nil {
		log.Printf("transport: send while not open [conv=%s message=%s], dropping", id, msg.Metadata.MessageID)
		return ErrNotOpen
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: encode outbound: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// On subscribes h to events of the given kind and returns a function that
// removes the subscription.
func (c *Client) On(kind EventKind, h Handler) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.subID
	c.subID++
	if c.subs[kind] == nil {
		c.subs[kind] = make(map[int]Handler)
	}
	c.subs[kind][id] = h
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs[kind], id)
		c.subsMu.Unlock()
	}
}

// dial opens one socket for generation gen. Only one dial per generation is
// ever in flight: the next one is scheduled only after this one's socket
// has failed or closed.
func (c *Client) dial(ctx context.Context, gen uint64, conversationID string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.dials++
	c.mu.Unlock()

	target := StreamURL(c.baseURL, conversationID)
	conn, _, err := c.dialer.DialContext(ctx, target, c.header)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		log.Printf("transport: dial %s: %v", target, err)
		c.emit(gen, Event{Kind: EventError, ConversationID: conversationID, Err: err})
		c.emit(gen, Event{Kind: EventClose, ConversationID: conversationID, Err: err})
		c.scheduleReconnect(gen, conversationID)
		return
	}
	c.conn = conn
	c.backoff = c.initialBackoff
	c.mu.Unlock()

	c.emit(gen, Event{Kind: EventOpen, ConversationID: conversationID})
	go c.readLoop(gen, conversationID, conn)
}

// readLoop parses frames in arrival order until the socket fails.
func (c *Client) readLoop(gen uint64, conversationID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, conversationID, conn, err)
			return
		}
		msg, perr := ParseInbound(data)
		if perr != nil {
			log.Printf("transport: dropping malformed payload [conv=%s]: %v (data=%q)", conversationID, perr, truncate(string(data), 200))
			continue
		}
		c.emit(gen, Event{Kind: EventMessage, ConversationID: conversationID, Message: msg})
	}
}

// handleDisconnect reports an unexpected close and schedules a reconnect.
// Closes caused by teardown belong to a stale generation and are silent.
func (c *Client) handleDisconnect(gen uint64, conversationID string, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	c.emit(gen, Event{Kind: EventClose, ConversationID: conversationID, Err: err})
	c.scheduleReconnect(gen, conversationID)
}

// scheduleReconnect waits the current backoff, announces the attempt, doubles
// the backoff (capped) and redials.
func (c *Client) scheduleReconnect(gen uint64, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.shouldReconnect {
		return
	}
	delay := c.backoff
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.backoff = nextBackoff(c.backoff, c.maxBackoff)
		ctx, cancel := context.WithCancel(context.Background())
		if c.cancel != nil {
			c.cancel()
		}
		c.cancel = cancel
		c.mu.Unlock()

		c.emit(gen, Event{Kind: EventReconnect, ConversationID: conversationID, Delay: delay})
		c.dial(ctx, gen, conversationID)
	})
}

// nextBackoff doubles cur, capped at max.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

type queued struct {
	gen uint64
	ev  Event
}

func (c *Client) emit(gen uint64, ev Event) {
	c.queue.push(queued{gen: gen, ev: ev})
}

// deliver runs handlers for queued events one at a time. Events whose
// generation is no longer current are dropped, so nothing from a torn-down
// socket reaches subscribers after a rebind.
func (c *Client) deliver() {
	for {
		select {
		case <-c.done:
			return
		case <-c.queue.ready():
		}
		for _, q := range c.queue.drain() {
			c.mu.Lock()
			stale := q.gen != c.gen
			c.mu.Unlock()
			if stale {
				continue
			}
			for _, h := range c.handlers(q.ev.Kind) {
				h(q.ev)
			}
		}
	}
}

func (c *Client) handlers(kind EventKind) []Handler {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	m := c.subs[kind]
	if len(m) == 0 {
		return nil
	}
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, m[id])
	}
	return hs
}

// mailbox is an unbounded FIFO so producers never block on slow handlers.
type mailbox struct {
	mu     sync.Mutex
	items  []queued
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(q queued) {
	m.mu.Lock()
	m.items = append(m.items, q)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) ready() <-chan struct{} { return m.signal }

func (m *mailbox) drain() []queued {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
