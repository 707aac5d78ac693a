package session

import (
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/store"
)

// TempIDPrefix marks chat ids that exist only in the store while the backend
// creates the real conversation.
const TempIDPrefix = "temp-"

// IsTempID reports whether id is an optimistic placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// pendingChat is an optimistic chat entry awaiting its backend id. It ends
// in exactly one of commit or abort.
type pendingChat struct {
	store    *store.Store
	tempID   string
	previous string
	done     bool
}

// stageChat registers a placeholder chat and makes it current.
func stageChat(s *store.Store, title string) *pendingChat {
	p := &pendingChat{store: s, tempID: TempIDPrefix + uuid.NewString()}
	s.Update(func(st store.State) []store.Action {
		p.previous = st.CurrentChatID
		return []store.Action{
			store.AddChat{Chat: store.NewChat(p.tempID, title)},
			store.SetCurrentChatID{ID: p.tempID},
		}
	})
	return p
}

// commit swaps the placeholder for the persisted chat in one transition and
// reports whether the placeholder was still the active conversation. When
// it was not, the chat stays in the list but does not become current.
func (p *pendingChat) commit(created *api.Chat) (current bool) {
	if p.done {
		return false
	}
	p.done = true
	chat := store.Chat{ID: created.ID, Title: created.Title, CreatedAt: created.CreatedAt.Time}
	p.store.Update(func(st store.State) []store.Action {
		current = st.CurrentChatID == p.tempID
		return []store.Action{
			store.ReplaceChatID{TempID: p.tempID, RealID: created.ID},
			store.UpsertChat{Chat: chat},
		}
	})
	return current
}

// abort removes the placeholder and restores the previously current chat if
// the placeholder is still current.
func (p *pendingChat) abort() {
	if p.done {
		return
	}
	p.done = true
	p.store.Update(func(st store.State) []store.Action {
		actions := []store.Action{store.RemoveChat{ID: p.tempID}}
		if st.CurrentChatID == p.tempID && p.previous != "" {
			actions = append(actions, store.SetCurrentChatID{ID: p.previous})
		}
		return actions
	})
}

// maxTitleRunes bounds titles derived from the first message.
const maxTitleRunes = 40

// DefaultTitle names a chat whose first message has no usable text.
const DefaultTitle = "New chat"

// chatTitle derives a chat title from the first message text.
func chatTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return DefaultTitle
	}
	runes := []rune(text)
	if len(runes) <= maxTitleRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
}
