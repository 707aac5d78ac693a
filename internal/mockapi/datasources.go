package mockapi

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/models"
	"gorm.io/gorm"
)

const (
	// manualUpload labels files that were attached in a chat.
	manualUpload = "Manual Upload"
	addedBySelf  = "You"
)

func (s *Server) registerDataSourceRoutes(router *gin.Engine) {
	ds := router.Group("/datasources")
	ds.GET("/connections", s.handleListConnections)
	ds.POST("/connections", s.handleCreateConnection)
	ds.DELETE("/connections/:id", s.handleDeleteConnection)
	ds.GET("/files", s.handleListFiles)
	ds.DELETE("/files/:id", s.handleDeleteFile)
}

type createConnectionRequest struct {
	Name       string `json:"name" binding:"required"`
	SourceType string `json:"source_type" binding:"required"`
	UserID     string `json:"user_id" binding:"required"`
}

func (s *Server) handleListConnections(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		detail(c, http.StatusUnprocessableEntity, "user_id is required")
		return
	}
	var conns []models.Connection
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&conns).Error; err != nil {
		detail(c, http.StatusInternalServerError, "could not list connections")
		return
	}
	out := make([]api.Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toAPIConnection(conn))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	sourceType, ok := api.LookupSourceType(req.SourceType)
	if !ok {
		detail(c, http.StatusUnprocessableEntity, "Unsupported source type "+req.SourceType)
		return
	}
	now := time.Now().UTC()
	conn := models.Connection{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Name:         req.Name,
		SourceType:   sourceType,
		Status:       "Ready",
		LastSyncedAt: now,
		CreatedAt:    now,
	}
	if err := s.db.Create(&conn).Error; err != nil {
		log.Printf("mockapi: create connection: %v", err)
		detail(c, http.StatusInternalServerError, "could not create connection")
		return
	}
	c.JSON(http.StatusOK, toAPIConnection(conn))
}

func (s *Server) handleDeleteConnection(c *gin.Context) {
	var conn models.Connection
	err := s.db.First(&conn, "id = ?", c.Param("id")).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		detail(c, http.StatusNotFound, "Connection not found")
		return
	case err != nil:
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.db.Delete(&conn).Error; err != nil {
		detail(c, http.StatusInternalServerError, "could not delete connection")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListFiles lists documents attached to any of the user's chats.
func (s *Server) handleListFiles(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		detail(c, http.StatusUnprocessableEntity, "user_id is required")
		return
	}
	var docs []models.Document
	err := s.db.Joins("JOIN chats ON chats.id = documents.chat_id").
		Where("chats.user_id = ?", userID).
		Order("documents.created_at DESC").
		Find(&docs).Error
	if err != nil {
		detail(c, http.StatusInternalServerError, "could not list files")
		return
	}
	out := make([]api.DataFile, 0, len(docs))
	for _, d := range docs {
		out = append(out, api.DataFile{
			ID:         d.ID,
			Filename:   d.Filename,
			Size:       d.Size,
			CreatedAt:  api.Timestamp{Time: d.CreatedAt},
			Connection: manualUpload,
			AddedBy:    addedBySelf,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	var doc models.Document
	err := s.db.First(&doc, "id = ?", c.Param("id")).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		detail(c, http.StatusNotFound, "File not found")
		return
	case err != nil:
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.db.Delete(&doc).Error; err != nil {
		detail(c, http.StatusInternalServerError, "could not delete file")
		return
	}
	s.removeUpload(doc)
	c.Status(http.StatusNoContent)
}

func toAPIConnection(conn models.Connection) api.Connection {
	return api.Connection{
		ID:           conn.ID,
		Name:         conn.Name,
		SourceType:   conn.SourceType,
		Status:       conn.Status,
		LastSyncedAt: api.Timestamp{Time: conn.LastSyncedAt},
		CreatedAt:    api.Timestamp{Time: conn.CreatedAt},
		AddedBy:      addedBySelf,
	}
}
