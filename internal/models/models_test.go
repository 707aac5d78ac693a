package models

import (
	"reflect"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestChat_Fields(t *testing.T) {
	typ := reflect.TypeOf(Chat{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "UserID", "not null")
	assertGormTag(t, typ, "UserID", "index")
	assertGormTag(t, typ, "Title", "size:256")
	assertGormTag(t, typ, "Messages", "foreignKey:ChatID")
	assertGormTag(t, typ, "Messages", "OnDelete:CASCADE")
	assertGormTag(t, typ, "Documents", "foreignKey:ChatID")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestChatMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(ChatMessage{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ChatID", "index")
	assertGormTag(t, typ, "Role", "size:16")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "Sources", "serializer:json")
	assertFieldType(t, typ, "Sources", "[]models.Source")
}

func TestDocument_Fields(t *testing.T) {
	typ := reflect.TypeOf(Document{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ChatID", "not null")
	assertGormTag(t, typ, "StoredName", "not null")
	assertFieldType(t, typ, "Size", "int64")
}

func TestConnection_Fields(t *testing.T) {
	typ := reflect.TypeOf(Connection{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "UserID", "index")
	assertGormTag(t, typ, "SourceType", "not null")
	assertGormTag(t, typ, "Status", "default:Ready")
	assertFieldType(t, typ, "LastSyncedAt", "time.Time")
}

func TestChatMessage_SourcesRoundTrip(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Chat{}, &ChatMessage{}, &Document{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	chat := Chat{ID: "c1", UserID: "u1", Title: "Hello"}
	if err := db.Create(&chat).Error; err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg := ChatMessage{
		ID:      "m1",
		ChatID:  "c1",
		Role:    "assistant",
		Content: "hi",
		Sources: []Source{{ID: "source-1", Title: "KB", URL: "https://chaatu.ai/handbook"}},
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}

	var got Chat
	if err := db.Preload("Messages").First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(got.Messages))
	}
	if src := got.Messages[0].Sources; len(src) != 1 || src[0].URL != "https://chaatu.ai/handbook" {
		t.Errorf("Sources = %+v", src)
	}
	if got.Messages[0].Role != "assistant" {
		t.Errorf("Role = %q", got.Messages[0].Role)
	}
}
