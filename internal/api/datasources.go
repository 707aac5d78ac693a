package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// SourceTypes lists the external data sources a connection can point at.
var SourceTypes = []string{
	"Amazon S3",
	"Confluence",
	"Dropbox",
	"Freshdesk",
	"Jira",
	"Google Cloud Storage",
	"Gmail",
	"Google Drive",
	"HubSpot",
	"Notion",
	"OneDrive",
	"Salesforce",
	"Slack",
}

// LookupSourceType returns the canonical spelling of a source type, matched
// case-insensitively.
func LookupSourceType(name string) (string, bool) {
	for _, st := range SourceTypes {
		if strings.EqualFold(st, strings.TrimSpace(name)) {
			return st, true
		}
	}
	return "", false
}

// Connection is a linked external data source.
type Connection struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SourceType   string    `json:"source_type"`
	Status       string    `json:"status"`
	LastSyncedAt Timestamp `json:"last_synced_at"`
	CreatedAt    Timestamp `json:"created_at"`
	AddedBy      string    `json:"added_by"`
}

// DataFile is an uploaded file as listed on the data page. Connection names
// where it came from ("Manual Upload" for documents attached in a chat).
type DataFile struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	CreatedAt  Timestamp `json:"created_at"`
	Connection string    `json:"connection"`
	AddedBy    string    `json:"added_by"`
}

// ListConnections returns the user's connections, most recent first.
func (c *Client) ListConnections(ctx context.Context, userID string) ([]Connection, error) {
	var out []Connection
	path := "/datasources/connections?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, "list connections", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConnection links a new data source for the user.
func (c *Client) CreateConnection(ctx context.Context, name, sourceType, userID string) (*Connection, error) {
	var out Connection
	body := map[string]string{"name": name, "source_type": sourceType, "user_id": userID}
	if err := c.do(ctx, "create connection", http.MethodPost, "/datasources/connections", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &APIError{Op: "create connection", Message: "response has no id"}
	}
	return &out, nil
}

// DeleteConnection removes a connection.
func (c *Client) DeleteConnection(ctx context.Context, connectionID string) error {
	return c.do(ctx, "delete connection", http.MethodDelete, "/datasources/connections/"+url.PathEscape(connectionID), nil, nil)
}

// ListFiles returns the user's uploaded files, most recent first.
func (c *Client) ListFiles(ctx context.Context, userID string) ([]DataFile, error) {
	var out []DataFile
	path := "/datasources/files?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, "list files", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.do(ctx, "delete file", http.MethodDelete, "/datasources/files/"+url.PathEscape(fileID), nil, nil)
}
