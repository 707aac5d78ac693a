package mockapi

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zulandar/chaatu/internal/models"
	"github.com/zulandar/chaatu/internal/transport"
	"gorm.io/gorm"
)

const replyPreamble = "Thanks for sharing! Here's a concise summary of what you asked about, " +
	"followed by suggestions pulled from the unified knowledge base."

// handbookSource is the synthetic citation attached to every reply.
var handbookSource = transport.Source{
	ID:      "source-1",
	Title:   "Unified Knowledge Base",
	URL:     "https://chaatu.ai/handbook",
	Snippet: "Synthetic reference for development builds.",
}

// handleStream upgrades to a websocket and answers each user_message with a
// streamed reply.
func (s *Server) handleStream(c *gin.Context) {
	chatID := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("mockapi: upgrade [chat=%s]: %v", chatID, err)
		return
	}
	s.track(conn)
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	if err := conn.WriteJSON(transport.InboundMessage{Event: transport.InboundConnected, ConversationID: chatID}); err != nil {
		return
	}

	var chat models.Chat
	if err := s.db.First(&chat, "id = ?", chatID).Error; err != nil {
		msg := "Chat not found"
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			msg = err.Error()
		}
		conn.WriteJSON(transport.InboundMessage{Event: transport.InboundError, Detail: msg})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("mockapi: stream read [chat=%s]: %v", chatID, err)
			}
			return
		}
		msg, err := transport.ParseOutbound(data)
		if err != nil {
			log.Printf("mockapi: ignoring payload [chat=%s]: %v", chatID, err)
			continue
		}
		if err := s.reply(ctx, conn, chatID, msg); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("mockapi: reply [chat=%s]: %v", chatID, err)
				conn.WriteJSON(transport.InboundMessage{Event: transport.InboundError, Detail: err.Error()})
			}
			return
		}
	}
}

// reply streams one assistant response and persists it.
func (s *Server) reply(ctx context.Context, conn *websocket.Conn, chatID string, in transport.OutboundMessage) error {
	messageID := in.Metadata.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	if err := conn.WriteJSON(transport.InboundMessage{Event: transport.InboundAssistantStarted, MessageID: messageID}); err != nil {
		return err
	}

	var streamed strings.Builder
	for _, token := range strings.Fields(replyText(in)) {
		if s.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.chunkDelay):
			}
		}
		delta := token + " "
		streamed.WriteString(delta)
		if err := conn.WriteJSON(transport.InboundMessage{
			Event:     transport.InboundAssistantChunk,
			MessageID: messageID,
			Delta:     delta,
		}); err != nil {
			return err
		}
	}

	content := strings.TrimSpace(streamed.String())
	stored := models.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      "assistant",
		Content:   content,
		Sources:   []models.Source{models.Source(handbookSource)},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&stored).Error; err != nil {
		return err
	}

	return conn.WriteJSON(transport.InboundMessage{
		Event:     transport.InboundAssistantCompleted,
		MessageID: messageID,
		Content:   content,
		Sources:   []transport.Source{handbookSource},
	})
}

// replyText is the canned response for a prompt and its settings.
func replyText(in transport.OutboundMessage) string {
	var b strings.Builder
	if in.Metadata.Model != "" {
		b.WriteString("[" + in.Metadata.Model + "] ")
	}
	b.WriteString(replyPreamble)
	if in.Metadata.WebSearch {
		b.WriteString(" I also searched the web for relevant information.")
	}
	prompt := strings.TrimSpace(in.Content)
	if prompt == "" {
		prompt = "No prompt content provided."
	}
	b.WriteString("\n\n> ")
	b.WriteString(prompt)
	return b.String()
}
