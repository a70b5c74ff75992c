package database_test

import (
	"testing"

	"github.com/dbpilot/dbpilot/pack/database"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		want database.Kind
	}{
		{"select", "SELECT * FROM users", database.KindReadOnly},
		{"lowercase select", "select 1", database.KindReadOnly},
		{"show", "SHOW search_path", database.KindReadOnly},
		{"explain", "EXPLAIN SELECT 1", database.KindReadOnly},
		{"values", "VALUES (1), (2)", database.KindReadOnly},
		{"leading whitespace", "   \n\tSELECT 1", database.KindReadOnly},
		{"leading comment", "-- cleanup\nSELECT 1", database.KindReadOnly},
		{"block comment", "/* hide DELETE here */ SELECT 1", database.KindReadOnly},
		{"with readonly", "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent", database.KindReadOnly},
		{"with embedded delete", "WITH gone AS (DELETE FROM orders RETURNING id) SELECT * FROM gone", database.KindMutating},
		{"insert", "INSERT INTO users (name) VALUES ('x')", database.KindMutating},
		{"update", "UPDATE users SET name = 'y'", database.KindMutating},
		{"delete", "DELETE FROM users", database.KindMutating},
		{"merge", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN UPDATE SET a = 1", database.KindMutating},
		{"grant", "GRANT SELECT ON users TO reporter", database.KindMutating},
		{"vacuum", "VACUUM users", database.KindMutating},
		{"copy", "COPY users FROM '/tmp/u.csv'", database.KindMutating},
		{"create table", "CREATE TABLE t (id INT)", database.KindDDL},
		{"create index", "CREATE INDEX CONCURRENTLY idx ON t(a)", database.KindDDL},
		{"alter", "ALTER TABLE t ADD COLUMN b INT", database.KindDDL},
		{"drop", "DROP TABLE t", database.KindDDL},
		{"truncate", "TRUNCATE t", database.KindDDL},
		{"semicolon after verb", "SELECT;", database.KindReadOnly},
		{"unknown verb stays gated", "FROBNICATE the database", database.KindMutating},
		{"empty", "", database.KindReadOnly},
		{"comment only", "-- nothing", database.KindReadOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := database.Classify(tt.sql); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.sql, got, tt.want)
			}
		})
	}
}

func TestIsReadOnly(t *testing.T) {
	t.Parallel()

	if !database.IsReadOnly("SELECT 1") {
		t.Error("SELECT should be read-only")
	}
	if database.IsReadOnly("DROP TABLE users") {
		t.Error("DDL is not read-only")
	}
}
