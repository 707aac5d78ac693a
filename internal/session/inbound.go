package session

import (
	"log"

	"github.com/zulandar/chaatu/internal/store"
	"github.com/zulandar/chaatu/internal/transport"
)

// HandleInbound applies one server event to the store.
func (c *Controller) HandleInbound(msg transport.InboundMessage) {
	switch msg.Event {
	case transport.InboundConnected:
		log.Printf("session: stream ready [chat=%s]", msg.ConversationID)

	case transport.InboundAssistantStarted:
		c.store.Update(func(st store.State) []store.Action {
			m, ok := st.Message(msg.MessageID)
			if !ok {
				return []store.Action{
					store.AddMessage{Message: store.Message{ID: msg.MessageID, Role: store.RoleAssistant, Status: store.StatusStreaming}},
					store.SetStreaming{Streaming: true},
				}
			}
			if m.Status.Terminal() {
				return nil
			}
			return []store.Action{
				store.UpdateMessage{ID: msg.MessageID, Status: store.StatusStreaming},
				store.SetStreaming{Streaming: true},
			}
		})

	case transport.InboundAssistantChunk:
		c.store.Dispatch(store.AppendToMessage{ID: msg.MessageID, Delta: msg.Delta})

	case transport.InboundAssistantCompleted:
		content := msg.Content
		c.store.Dispatch(
			store.UpdateMessage{
				ID:      msg.MessageID,
				Status:  store.StatusComplete,
				Content: &content,
				Sources: toStoreSources(msg.Sources),
			},
			store.SetStreaming{Streaming: false},
		)

	case transport.InboundError:
		log.Printf("session: stream error [message=%s]: %s", msg.MessageID, msg.Detail)
		if msg.MessageID != "" {
			c.store.Dispatch(
				store.UpdateMessage{ID: msg.MessageID, Status: store.StatusError},
				store.SetStreaming{Streaming: false},
			)
			return
		}
		c.failStreaming(msg.Detail)

	default:
		log.Printf("session: ignoring inbound event %q", msg.Event)
	}
}

// failStreaming marks every streaming message as failed and clears the
// streaming flag. Must not take c.mu.
func (c *Controller) failStreaming(reason string) {
	st := c.store.Update(func(st store.State) []store.Action {
		ids := st.StreamingMessageIDs()
		if len(ids) == 0 && !st.IsStreaming {
			return nil
		}
		actions := make([]store.Action, 0, len(ids)+1)
		for _, id := range ids {
			actions = append(actions, store.UpdateMessage{ID: id, Status: store.StatusError})
		}
		return append(actions, store.SetStreaming{Streaming: false})
	})
	log.Printf("session: streaming stopped [chat=%s]: %s", st.CurrentChatID, reason)
}

// isCurrent reports whether a transport event belongs to the active chat.
func (c *Controller) isCurrent(conversationID string) bool {
	return conversationID != "" && conversationID == c.store.State().CurrentChatID
}

func (c *Controller) onMessage(ev transport.Event) {
	if !c.isCurrent(ev.ConversationID) {
		log.Printf("session: dropping %s for inactive chat %s", ev.Message.Event, ev.ConversationID)
		return
	}
	if id := ev.Message.ConversationID; id != "" && id != ev.ConversationID {
		log.Printf("session: dropping %s addressed to chat %s on chat %s", ev.Message.Event, id, ev.ConversationID)
		return
	}
	c.HandleInbound(ev.Message)
}

// onOpen flushes an outbound message queued while the socket was down.
func (c *Controller) onOpen(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.outbound
	if q == nil || q.conversationID != ev.ConversationID {
		return
	}
	c.outbound = nil
	if m, ok := c.store.State().Message(q.msg.Metadata.MessageID); !ok || m.Status != store.StatusStreaming {
		return
	}
	if err := c.transport.Send(q.msg); err != nil {
		c.failStreaming(err.Error())
	}
}

// onDisconnect fails the in-flight response when the active chat's socket
// errors or closes.
func (c *Controller) onDisconnect(ev transport.Event) {
	if !c.isCurrent(ev.ConversationID) {
		return
	}
	c.mu.Lock()
	c.outbound = nil
	c.mu.Unlock()

	if !c.store.State().IsStreaming {
		return
	}
	reason := string(ev.Kind)
	if ev.Err != nil {
		reason = ev.Err.Error()
	}
	c.failStreaming(reason)
}

func (c *Controller) onReconnect(ev transport.Event) {
	log.Printf("session: reconnecting to chat %s after %s", ev.ConversationID, ev.Delay)
}

func toStoreSources(in []transport.Source) []store.Source {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.Source, len(in))
	for i, s := range in {
		out[i] = store.Source{ID: s.ID, Title: s.Title, URL: s.URL, Snippet: s.Snippet}
	}
	return out
}
