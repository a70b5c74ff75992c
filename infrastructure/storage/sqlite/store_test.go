package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dbpilot/dbpilot/domain/chat"
	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/etp"
	"github.com/dbpilot/dbpilot/infrastructure/storage/sqlite"
)

func openStore(t *testing.T, key string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		EncryptionKey: key,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "perf investigation", 1, 2)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Title != "perf investigation" || sess.ConnectionID != 1 || sess.ProviderID != 2 {
		t.Errorf("session = %+v", sess)
	}
	if sess.AutoApprove {
		t.Error("new session should not auto-approve")
	}

	if err := s.SetSessionAutoApprove(ctx, id, true); err != nil {
		t.Fatalf("SetSessionAutoApprove() error = %v", err)
	}
	sess, _ = s.GetSession(ctx, id)
	if !sess.AutoApprove {
		t.Error("auto-approve flag not persisted")
	}

	if _, err := s.GetSession(ctx, 9999); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("missing session error = %v", err)
	}

	list, err := s.ListSessions(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Errorf("ListSessions() = %v, %v", list, err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	msgs := []chat.Message{
		chat.User("how many users?"),
		chat.AssistantCalls("checking", []chat.ToolCall{
			{ID: "tc1", Name: "execute_safe_query", Arguments: map[string]any{"sql": "SELECT COUNT(*) FROM users"}},
		}),
		chat.ToolResult("tc1", `{"status":"success","data":[{"count":7}]}`),
		chat.Assistant("there are 7 users"),
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, id, m); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := s.LoadHistory(ctx, id)
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("history = %d messages, want %d", len(got), len(msgs))
	}
	if got[1].Role != chat.RoleAssistant || len(got[1].ToolCalls) != 1 {
		t.Errorf("assistant message = %+v", got[1])
	}
	if got[1].ToolCalls[0].Arguments["sql"] != "SELECT COUNT(*) FROM users" {
		t.Errorf("tool call arguments = %v", got[1].ToolCalls[0].Arguments)
	}
	if got[2].ToolCallID != "tc1" {
		t.Errorf("tool message = %+v", got[2])
	}
}

func TestUpdateLastPending(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	pending := tool.Pending("operation queued for user confirmation at index 0").JSON()
	for _, m := range []chat.Message{
		chat.ToolResult("tc1", pending),
		chat.ToolResult("tc2", pending),
	} {
		if err := s.AppendMessage(ctx, id, m); err != nil {
			t.Fatal(err)
		}
	}

	// Exact tool call ID match rewrites the right row even when a newer
	// pending message exists.
	done := tool.SuccessMessage("statement executed, 3 rows affected").JSON()
	if err := s.UpdateLastPending(ctx, id, "tc1", done); err != nil {
		t.Fatalf("UpdateLastPending() error = %v", err)
	}
	history, _ := s.LoadHistory(ctx, id)
	if history[0].Content != done {
		t.Errorf("tc1 content = %q", history[0].Content)
	}
	if history[1].Content != pending {
		t.Errorf("tc2 should stay pending, got %q", history[1].Content)
	}

	// Unknown ID falls back to the newest pending message.
	if err := s.UpdateLastPending(ctx, id, "missing", done); err != nil {
		t.Fatalf("fallback error = %v", err)
	}
	history, _ = s.LoadHistory(ctx, id)
	if history[1].Content != done {
		t.Errorf("fallback did not rewrite tc2: %q", history[1].Content)
	}

	// Nothing pending left.
	if err := s.UpdateLastPending(ctx, id, "", done); !errors.Is(err, chat.ErrNoPendingMessage) {
		t.Errorf("error = %v, want ErrNoPendingMessage", err)
	}
}

func TestConnectionEncryptionRoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t, "super-secret-passphrase")
	ctx := context.Background()

	id, err := s.SaveConnection(ctx, config.ConnectionDescriptor{
		Name:     "prod",
		Driver:   "postgres",
		Host:     "db.internal",
		Port:     5432,
		Database: "app",
		Username: "svc",
		Password: "hunter2",
		SSLMode:  "require",
	})
	if err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}

	c, err := s.GetConnection(ctx, id)
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if c.Password != "hunter2" {
		t.Errorf("password = %q, want decrypted round trip", c.Password)
	}

	// Listing never exposes passwords.
	list, err := s.ListConnections(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListConnections() = %v, %v", list, err)
	}
	if list[0].Password != "" {
		t.Error("list leaked a password")
	}

	if err := s.SetActiveConnection(ctx, id); err != nil {
		t.Fatalf("SetActiveConnection() error = %v", err)
	}
	active, err := s.GetActiveConnection(ctx)
	if err != nil || active.ID != id {
		t.Errorf("GetActiveConnection() = %+v, %v", active, err)
	}
	if err := s.SetActiveConnection(ctx, 9999); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("activating missing connection: %v", err)
	}
}

func TestSecretsRequireCipher(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	_, err := s.SaveConnection(ctx, config.ConnectionDescriptor{
		Name: "prod", Driver: "postgres", Database: "app", Password: "x",
	})
	if !errors.Is(err, sqlite.ErrNoCipher) {
		t.Errorf("SaveConnection error = %v, want ErrNoCipher", err)
	}

	_, err = s.SaveProvider(ctx, config.ProviderDescriptor{Name: "p", Type: "openai", APIKey: "sk-x"})
	if !errors.Is(err, sqlite.ErrNoCipher) {
		t.Errorf("SaveProvider error = %v, want ErrNoCipher", err)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t, "super-secret-passphrase")
	ctx := context.Background()

	id, err := s.SaveProvider(ctx, config.ProviderDescriptor{
		Name: "main", Type: "anthropic", APIKey: "sk-test", Model: "m", Default: true,
	})
	if err != nil {
		t.Fatalf("SaveProvider() error = %v", err)
	}

	p, err := s.GetProvider(ctx, id)
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if p.APIKey != "sk-test" || !p.Default {
		t.Errorf("provider = %+v", p)
	}

	def, err := s.GetDefaultProvider(ctx)
	if err != nil || def.ID != id {
		t.Errorf("GetDefaultProvider() = %+v, %v", def, err)
	}
}

func TestServerConfigUpsert(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	cfg := etp.ServerConfig{
		Name:    "files",
		Command: "files-server",
		Args:    []string{"--root", "/srv"},
		Env:     map[string]string{"LOG": "debug"},
		Enabled: true,
	}
	if err := s.SaveServer(ctx, cfg); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}

	cfg.Command = "files-server-v2"
	if err := s.SaveServer(ctx, cfg); err != nil {
		t.Fatalf("upsert error = %v", err)
	}

	list, err := s.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("servers = %d, want upsert not duplicate", len(list))
	}
	got := list[0]
	if got.Command != "files-server-v2" || len(got.Args) != 2 || len(got.Env) != 1 || !got.Enabled {
		t.Errorf("server = %+v", got)
	}

	if err := s.DeleteServer(ctx, "files"); err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}
	if err := s.DeleteServer(ctx, "files"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("second delete = %v", err)
	}
}

func TestPreferences(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	v, err := s.GetPreference(ctx, "theme", "dark")
	if err != nil || v != "dark" {
		t.Errorf("unset preference = %q, %v", v, err)
	}
	if err := s.SetPreference(ctx, "theme", "light"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPreference(ctx, "theme", "solarized"); err != nil {
		t.Fatal(err)
	}
	v, _ = s.GetPreference(ctx, "theme", "dark")
	if v != "solarized" {
		t.Errorf("preference = %q", v)
	}
}

func TestAuditTrail(t *testing.T) {
	t.Parallel()
	s := openStore(t, "")
	ctx := context.Background()

	entries := []sqlite.AuditEntry{
		{SessionID: 1, Tool: "execute_sql", Statement: "DELETE FROM logs", Status: "success"},
		{SessionID: 1, Tool: "create_index", Statement: "CREATE INDEX idx ON t(a)", Status: "error", Detail: "exists"},
		{SessionID: 2, Tool: "execute_sql", Statement: "UPDATE t SET a=1", Status: "success"},
	}
	for _, e := range entries {
		if err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit() error = %v", err)
		}
	}

	got, err := s.ListAudit(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want session scoping", len(got))
	}
	if got[0].Tool != "create_index" {
		t.Errorf("newest first expected, got %+v", got[0])
	}
}
