package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/config"
	"github.com/zulandar/chaatu/internal/db"
	"github.com/zulandar/chaatu/internal/mockapi"
)

// backend runs the mock server and writes a config file pointing at it.
type backend struct {
	cfgPath string
	client  *api.Client
}

func startBackend(t *testing.T) *backend {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: db.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	srv, err := mockapi.New(mockapi.Opts{DB: gdb, UploadDir: t.TempDir(), ChunkDelay: -1})
	if err != nil {
		t.Fatalf("mockapi.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseSockets()
		ts.Close()
		db.Close(gdb)
	})

	cfgPath := filepath.Join(t.TempDir(), "chaatu.yaml")
	yaml := fmt.Sprintf(`user_id: cli-user
api:
  base_url: %s
transport:
  initial_backoff_ms: 50
  max_backoff_ms: 200
`, ts.URL)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	client, err := api.New(api.Opts{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return &backend{cfgPath: cfgPath, client: client}
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func TestChatsCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaatu.yaml")
	if err := os.WriteFile(path, []byte("api:\n  base_url: ftp://nowhere\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCmd(t, "", "chats", "list", "--config", path)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestChatsList(t *testing.T) {
	b := startBackend(t)

	out, err := runCmd(t, "", "chats", "list", "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("chats list: %v", err)
	}
	if !strings.Contains(out, "No conversations.") {
		t.Errorf("expected empty list message, got: %s", out)
	}

	ctx := context.Background()
	if _, err := b.client.CreateChat(ctx, "Quarterly report", "cli-user"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.client.CreateChat(ctx, "Someone else's", "other-user"); err != nil {
		t.Fatal(err)
	}

	out, err = runCmd(t, "", "chats", "list", "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("chats list: %v", err)
	}
	if !strings.Contains(out, "TITLE") || !strings.Contains(out, "Quarterly report") {
		t.Errorf("expected table with chat title, got: %s", out)
	}
	if strings.Contains(out, "Someone else's") {
		t.Errorf("listed another user's chat: %s", out)
	}

	out, err = runCmd(t, "", "chats", "list", "-c", b.cfgPath, "--user", "other-user")
	if err != nil {
		t.Fatalf("chats list --user: %v", err)
	}
	if !strings.Contains(out, "Someone else's") {
		t.Errorf("expected other user's chat, got: %s", out)
	}
}

func TestChatsShowAndDelete(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	chat, err := b.client.CreateChat(ctx, "Notes", "cli-user")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.client.AddMessage(ctx, chat.ID, "user", "hi"); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "", "chats", "show", chat.ID, "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("chats show: %v", err)
	}
	if !strings.Contains(out, "Notes") || !strings.Contains(out, "user> hi") {
		t.Errorf("unexpected show output: %s", out)
	}

	out, err = runCmd(t, "", "chats", "delete", chat.ID, "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("chats delete: %v", err)
	}
	if !strings.Contains(out, "Deleted chat "+chat.ID) {
		t.Errorf("unexpected delete output: %s", out)
	}

	_, err = runCmd(t, "", "chats", "show", chat.ID, "-c", b.cfgPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("show after delete: err = %v, want not found", err)
	}
	_, err = runCmd(t, "", "chats", "delete", chat.ID, "-c", b.cfgPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("second delete: err = %v, want not found", err)
	}
}

func TestUploadCmd(t *testing.T) {
	b := startBackend(t)
	chat, err := b.client.CreateChat(context.Background(), "Docs", "cli-user")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "", "upload", path, "--chat", chat.ID, "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	if !strings.Contains(out, "100%") {
		t.Errorf("expected progress to reach 100%%, got: %s", out)
	}
	if !strings.Contains(out, "Uploaded report.pdf (2,048 bytes)") {
		t.Errorf("unexpected upload output: %s", out)
	}
}

func TestUploadCmd_RejectsUnsupportedType(t *testing.T) {
	b := startBackend(t)
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCmd(t, "", "upload", path, "--chat", "c-1", "-c", b.cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported file type") {
		t.Errorf("err = %v, want unsupported file type", err)
	}
}

func TestChatCmd_StreamsReply(t *testing.T) {
	b := startBackend(t)

	out, err := runCmd(t, "Hello\n/quit\n", "chat", "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	for _, want := range []string{"(conversation ", "assistant> ", "> Hello", "[1] Unified Knowledge Base <https://chaatu.ai/handbook>"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}

	chats, err := b.client.ListChats(context.Background(), "cli-user")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Title != "Hello" {
		t.Fatalf("chats = %+v, want one chat titled Hello", chats)
	}
	full, err := b.client.GetChat(context.Background(), chats[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Messages) != 2 {
		t.Errorf("persisted %d messages, want 2", len(full.Messages))
	}
}

func TestChatCmd_Settings(t *testing.T) {
	b := startBackend(t)

	input := strings.Join([]string{
		"/temp 3",
		"/temp 1.5",
		"/web",
		"/custom my-llm sk-test",
		"/settings",
		"/bogus",
		"/upload report.pdf",
	}, "\n") + "\n"
	out, err := runCmd(t, input, "chat", "-c", b.cfgPath)
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	for _, want := range []string{
		"error: session: temperature 3.00 out of range",
		"Temperature: 1.50",
		"Web search: on",
		"Model: my-llm (custom)",
		"Model: my-llm  Temperature: 1.50  Web search: on",
		"unknown command /bogus",
		"error: session: no active conversation",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestChatCmd_ResumeAndSwitch(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	first, err := b.client.CreateChat(ctx, "First", "cli-user")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.client.AddMessage(ctx, first.ID, "user", "earlier question"); err != nil {
		t.Fatal(err)
	}
	second, err := b.client.CreateChat(ctx, "Second", "cli-user")
	if err != nil {
		t.Fatal(err)
	}

	input := "/chats\n/load " + second.ID + "\n/delete " + second.ID + "\n/chats\n"
	out, err := runCmd(t, input, "chat", "-c", b.cfgPath, "--chat", first.ID)
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	if !strings.Contains(out, "user> earlier question") {
		t.Errorf("expected resumed history, got: %s", out)
	}
	if !strings.Contains(out, "* "+first.ID) {
		t.Errorf("expected current chat marker on %s, got: %s", first.ID, out)
	}
	if !strings.Contains(out, "(conversation "+second.ID+")") {
		t.Errorf("expected switch to %s, got: %s", second.ID, out)
	}
	if !strings.Contains(out, "Deleted chat "+second.ID) {
		t.Errorf("expected delete confirmation, got: %s", out)
	}

	chats, err := b.client.ListChats(ctx, "cli-user")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].ID != first.ID {
		t.Errorf("remaining chats = %+v, want only %s", chats, first.ID)
	}
}
