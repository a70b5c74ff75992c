package database_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/pack/database"

	_ "github.com/mattn/go-sqlite3"
)

// openPack connects to a throwaway sqlite database seeded with a users table.
func openPack(t *testing.T) map[string]tool.Tool {
	t.Helper()

	db, err := database.Open(config.ConnectionDescriptor{
		Driver:   "sqlite3",
		Database: filepath.Join(t.TempDir(), "target.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	seed := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`,
		`INSERT INTO users (name, email) VALUES ('ada', 'ada@example.com')`,
		`INSERT INTO users (name, email) VALUES ('grace', 'grace@example.com')`,
		`INSERT INTO users (name, email) VALUES ('edsger', NULL)`,
	}
	for _, stmt := range seed {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	byName := make(map[string]tool.Tool)
	for _, tl := range database.Tools(db) {
		byName[tl.Name()] = tl
	}
	return byName
}

func dataRows(t *testing.T, res tool.Result) []map[string]any {
	t.Helper()
	if res.Status != tool.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	var rows []map[string]any
	if err := json.Unmarshal(res.Data, &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	return rows
}

func TestListTables(t *testing.T) {
	t.Parallel()
	tools := openPack(t)

	rows := dataRows(t, tools["list_tables"].Execute(context.Background(), nil))
	found := false
	for _, r := range rows {
		if r["table_name"] == "users" {
			found = true
		}
	}
	if !found {
		t.Errorf("users table missing from %v", rows)
	}
}

func TestDescribeTable(t *testing.T) {
	t.Parallel()
	tools := openPack(t)

	rows := dataRows(t, tools["describe_table"].Execute(context.Background(),
		map[string]any{"table": "users"}))
	if len(rows) != 3 {
		t.Fatalf("columns = %d, want 3", len(rows))
	}

	res := tools["describe_table"].Execute(context.Background(),
		map[string]any{"table": "users; DROP TABLE users"})
	if res.Status != tool.StatusError {
		t.Errorf("invalid identifier accepted: %+v", res)
	}
}

func TestGetSampleData(t *testing.T) {
	t.Parallel()
	tools := openPack(t)

	rows := dataRows(t, tools["get_sample_data"].Execute(context.Background(),
		map[string]any{"table": "users", "limit": float64(2)}))
	if len(rows) != 2 {
		t.Errorf("rows = %d, want limit applied", len(rows))
	}
}

func TestExecuteSafeQueryRejectsWrites(t *testing.T) {
	t.Parallel()
	tools := openPack(t)

	res := tools["execute_safe_query"].Execute(context.Background(),
		map[string]any{"sql": "DELETE FROM users"})
	if res.Status != tool.StatusError {
		t.Fatalf("mutating statement accepted: %+v", res)
	}
	if !strings.Contains(res.Error, "read-only") {
		t.Errorf("error = %q", res.Error)
	}

	rows := dataRows(t, tools["execute_safe_query"].Execute(context.Background(),
		map[string]any{"sql": "SELECT name FROM users ORDER BY name"}))
	if len(rows) != 3 || rows[0]["name"] != "ada" {
		t.Errorf("rows = %v", rows)
	}
}

func TestExecuteSQL(t *testing.T) {
	t.Parallel()
	tools := openPack(t)
	sqlTool := tools["execute_sql"]

	// The gate fires only for statements with side effects.
	gater, ok := sqlTool.(tool.ConfirmGater)
	if !ok {
		t.Fatal("execute_sql must expose a confirmation gate")
	}
	if gater.ConfirmRequired(map[string]any{"sql": "SELECT 1"}) {
		t.Error("read-only statement should not need confirmation")
	}
	if !gater.ConfirmRequired(map[string]any{"sql": "DELETE FROM users"}) {
		t.Error("mutating statement must need confirmation")
	}

	// Execution itself is ungated; the dispatch loop enforces the gate.
	res := sqlTool.Execute(context.Background(),
		map[string]any{"sql": "UPDATE users SET email = NULL WHERE name = 'ada'"})
	if res.Status != tool.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Message, "1 rows affected") {
		t.Errorf("message = %q", res.Message)
	}

	rows := dataRows(t, sqlTool.Execute(context.Background(),
		map[string]any{"sql": "SELECT COUNT(*) AS n FROM users WHERE email IS NULL"}))
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestGetTableStatsFallsBackToCount(t *testing.T) {
	t.Parallel()
	tools := openPack(t)

	// No pg_stat_user_tables on sqlite; the tool degrades to COUNT(*).
	rows := dataRows(t, tools["get_table_stats"].Execute(context.Background(),
		map[string]any{"table": "users"}))
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestCreateIndexStatement(t *testing.T) {
	t.Parallel()
	tools := openPack(t)
	idx := tools["create_index"]

	if !idx.Annotations().RequiresConfirmation {
		t.Error("create_index must always require confirmation")
	}

	res := idx.Execute(context.Background(), map[string]any{
		"table":        "users",
		"columns":      []any{"name"},
		"concurrently": false,
	})
	if res.Status != tool.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Message, "idx_users_name") {
		t.Errorf("message = %q, want generated index name", res.Message)
	}

	res = idx.Execute(context.Background(), map[string]any{
		"table":   "users",
		"columns": []any{"name; DROP TABLE users"},
	})
	if res.Status != tool.StatusError {
		t.Errorf("invalid column accepted: %+v", res)
	}
}

func TestAnalyzeTable(t *testing.T) {
	t.Parallel()
	tools := openPack(t)

	res := tools["analyze_table"].Execute(context.Background(), map[string]any{"table": "users"})
	if res.Status != tool.StatusSuccess {
		t.Errorf("result = %+v", res)
	}
}
