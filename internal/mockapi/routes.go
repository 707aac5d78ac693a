package mockapi

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/models"
	"gorm.io/gorm"
)

// registerRoutes sets up all routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", handleHealth())

	router.POST("/chats/", s.handleCreateChat)
	router.GET("/chats/", s.handleListChats)
	router.GET("/chats/:id", s.handleGetChat)
	router.DELETE("/chats/:id", s.handleDeleteChat)
	router.POST("/chats/:id/messages", s.handleAddMessage)

	router.POST("/documents/upload", s.handleUpload)
	router.Static("/uploads", s.uploadDir)

	s.registerDataSourceRoutes(router)

	router.GET("/ws/chat/:id", s.handleStream)
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "chaatu-mock"})
	}
}

// detail writes an error body in the {"detail": "..."} shape clients parse.
func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

type createChatRequest struct {
	Title  string `json:"title" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	chat := models.Chat{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&chat).Error; err != nil {
		log.Printf("mockapi: create chat: %v", err)
		detail(c, http.StatusInternalServerError, "could not create chat")
		return
	}
	c.JSON(http.StatusOK, toAPIChat(chat, []models.ChatMessage{}))
}

func (s *Server) handleListChats(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		detail(c, http.StatusUnprocessableEntity, "user_id is required")
		return
	}
	var chats []models.Chat
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&chats).Error; err != nil {
		detail(c, http.StatusInternalServerError, "could not list chats")
		return
	}
	out := make([]api.Chat, 0, len(chats))
	for _, ch := range chats {
		out = append(out, toAPIChat(ch, []models.ChatMessage{}))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetChat(c *gin.Context) {
	chat, ok := s.findChat(c, c.Param("id"))
	if !ok {
		return
	}
	var msgs []models.ChatMessage
	if err := s.db.Where("chat_id = ?", chat.ID).Order("created_at ASC").Find(&msgs).Error; err != nil {
		detail(c, http.StatusInternalServerError, "could not load messages")
		return
	}
	c.JSON(http.StatusOK, toAPIChat(chat, msgs))
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	chat, ok := s.findChat(c, c.Param("id"))
	if !ok {
		return
	}
	var docs []models.Document
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chat.ID).Find(&docs).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&models.Document{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chat).Error
	})
	if err != nil {
		log.Printf("mockapi: delete chat %s: %v", chat.ID, err)
		detail(c, http.StatusInternalServerError, "could not delete chat")
		return
	}
	for _, d := range docs {
		s.removeUpload(d)
	}
	c.Status(http.StatusNoContent)
}

type addMessageRequest struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

func (s *Server) handleAddMessage(c *gin.Context) {
	chat, ok := s.findChat(c, c.Param("id"))
	if !ok {
		return
	}
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      req.Role,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&msg).Error; err != nil {
		detail(c, http.StatusInternalServerError, "could not save message")
		return
	}
	c.JSON(http.StatusOK, toAPIMessage(msg))
}

func (s *Server) handleUpload(c *gin.Context) {
	chatID := c.PostForm("conversation_id")
	if chatID == "" {
		detail(c, http.StatusUnprocessableEntity, "conversation_id is required")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "file is required")
		return
	}
	mimeType := fh.Header.Get("Content-Type")
	if !api.AllowedMimeTypes[mimeType] {
		detail(c, http.StatusBadRequest, "Unsupported file type")
		return
	}
	if fh.Size > api.MaxUploadSize {
		detail(c, http.StatusBadRequest, "File too large (15MB max)")
		return
	}
	if _, ok := s.findChat(c, chatID); !ok {
		return
	}

	doc := models.Document{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Filename:  filepath.Base(fh.Filename),
		MimeType:  mimeType,
		Size:      fh.Size,
		CreatedAt: time.Now().UTC(),
	}
	doc.StoredName = doc.ID + "_" + doc.Filename
	if err := c.SaveUploadedFile(fh, filepath.Join(s.uploadDir, doc.StoredName)); err != nil {
		log.Printf("mockapi: save upload: %v", err)
		detail(c, http.StatusInternalServerError, "could not store file")
		return
	}
	if err := s.db.Create(&doc).Error; err != nil {
		s.removeUpload(doc)
		detail(c, http.StatusInternalServerError, "could not record upload")
		return
	}
	c.JSON(http.StatusOK, toAPIDocument(doc))
}

// findChat loads a chat or writes a 404.
func (s *Server) findChat(c *gin.Context, id string) (models.Chat, bool) {
	var chat models.Chat
	err := s.db.First(&chat, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		detail(c, http.StatusNotFound, "Chat not found")
		return chat, false
	case err != nil:
		detail(c, http.StatusInternalServerError, err.Error())
		return chat, false
	}
	return chat, true
}

// SweepUploads deletes documents created before cutoff, along with their
// files, and returns how many were removed.
func (s *Server) SweepUploads(cutoff time.Time) (int, error) {
	var docs []models.Document
	if err := s.db.Where("created_at < ?", cutoff.UTC()).Find(&docs).Error; err != nil {
		return 0, fmt.Errorf("mockapi: find expired uploads: %w", err)
	}
	for _, d := range docs {
		if err := s.db.Delete(&d).Error; err != nil {
			return 0, fmt.Errorf("mockapi: delete upload %s: %w", d.ID, err)
		}
		s.removeUpload(d)
	}
	if len(docs) > 0 {
		log.Printf("mockapi: swept %d expired uploads", len(docs))
	}
	return len(docs), nil
}

func (s *Server) removeUpload(d models.Document) {
	if err := os.Remove(filepath.Join(s.uploadDir, d.StoredName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("mockapi: remove upload %s: %v", d.StoredName, err)
	}
}

func toAPIChat(ch models.Chat, msgs []models.ChatMessage) api.Chat {
	out := api.Chat{
		ID:        ch.ID,
		Title:     ch.Title,
		CreatedAt: api.Timestamp{Time: ch.CreatedAt},
		Messages:  make([]api.Message, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toAPIMessage(m))
	}
	return out
}

func toAPIMessage(m models.ChatMessage) api.Message {
	out := api.Message{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: api.Timestamp{Time: m.CreatedAt}}
	for _, src := range m.Sources {
		out.Sources = append(out.Sources, api.Source(src))
	}
	return out
}

func toAPIDocument(d models.Document) api.Document {
	return api.Document{
		ID:             d.ID,
		Filename:       d.Filename,
		Size:           d.Size,
		ConversationID: d.ChatID,
		MimeType:       d.MimeType,
		URL:            "/uploads/" + d.StoredName,
	}
}
