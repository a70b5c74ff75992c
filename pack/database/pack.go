package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/domain/tool"
)

// Open connects to the target database described by the descriptor.
func Open(desc config.ConnectionDescriptor) (*sql.DB, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	driver := "pgx"
	if desc.Driver == "sqlite" || desc.Driver == "sqlite3" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, desc.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", desc.Driver, err)
	}
	return db, nil
}

// Tools builds the full database tool pack bound to the given connection.
func Tools(db *sql.DB) []tool.Tool {
	p := &pack{db: db}
	return []tool.Tool{
		p.listTables(),
		p.describeTable(),
		p.getSampleData(),
		p.executeSafeQuery(),
		p.executeSQL(),
		p.runExplain(),
		p.getTableStats(),
		p.checkIndexUsage(),
		p.createIndex(),
		p.analyzeTable(),
		p.identifySlowQueries(),
		p.getRunningQueries(),
	}
}

type pack struct {
	db *sql.DB
}

func schema(s string) json.RawMessage { return json.RawMessage(s) }

func (p *pack) listTables() tool.Tool {
	return tool.NewBuilder("list_tables").
		WithDescription("List all tables in the connected database with their schemas.").
		WithParameters(schema(`{"type":"object","properties":{}}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, _ map[string]any) tool.Result {
			rows, err := queryRows(ctx, p.db,
				`SELECT table_schema, table_name, table_type
				 FROM information_schema.tables
				 WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
				 ORDER BY table_schema, table_name`)
			if err != nil {
				// sqlite has no information_schema.
				rows, err = queryRows(ctx, p.db,
					`SELECT 'main' AS table_schema, name AS table_name, type AS table_type
					 FROM sqlite_master WHERE type IN ('table', 'view') ORDER BY name`)
			}
			if err != nil {
				return tool.Errorf("list tables: %v", err)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) describeTable() tool.Tool {
	return tool.NewBuilder("describe_table").
		WithDescription("Show the columns of a table: name, type, nullability, and default.").
		WithParameters(schema(`{"type":"object","properties":{"table":{"type":"string","description":"Table name, optionally schema-qualified."}},"required":["table"]}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			table, err := stringArg(args, "table")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if !validIdent(table) {
				return tool.Errorf("invalid table name: %s", table)
			}

			name := table
			schemaName := ""
			if i := strings.IndexByte(table, '.'); i >= 0 {
				schemaName, name = table[:i], table[i+1:]
			}

			query := `SELECT column_name, data_type, is_nullable, column_default
				 FROM information_schema.columns WHERE table_name = $1`
			qargs := []any{name}
			if schemaName != "" {
				query += ` AND table_schema = $2`
				qargs = append(qargs, schemaName)
			}
			query += ` ORDER BY ordinal_position`

			rows, err := queryRows(ctx, p.db, query, qargs...)
			if err != nil || len(rows) == 0 {
				rows, err = queryRows(ctx, p.db, fmt.Sprintf(`PRAGMA table_info(%s)`, name))
			}
			if err != nil {
				return tool.Errorf("describe table %s: %v", table, err)
			}
			if len(rows) == 0 {
				return tool.Errorf("table %s not found", table)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) getSampleData() tool.Tool {
	return tool.NewBuilder("get_sample_data").
		WithDescription("Fetch a few sample rows from a table.").
		WithParameters(schema(`{"type":"object","properties":{"table":{"type":"string"},"limit":{"type":"integer","default":10}},"required":["table"]}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			table, err := stringArg(args, "table")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if !validIdent(table) {
				return tool.Errorf("invalid table name: %s", table)
			}
			limit := intArg(args, "limit", 10)
			if limit < 1 || limit > 100 {
				limit = 10
			}
			rows, err := queryRows(ctx, p.db, fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, table, limit))
			if err != nil {
				return tool.Errorf("sample %s: %v", table, err)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) executeSafeQuery() tool.Tool {
	return tool.NewBuilder("execute_safe_query").
		WithDescription("Run a read-only SQL query (SELECT, SHOW, EXPLAIN). Mutating statements are rejected.").
		WithParameters(schema(`{"type":"object","properties":{"sql":{"type":"string"}},"required":["sql"]}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			query, err := stringArg(args, "sql")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if !IsReadOnly(query) {
				return tool.Errorf("only read-only statements are allowed here; use execute_sql for writes")
			}
			rows, err := queryRows(ctx, p.db, query)
			if err != nil {
				return tool.Errorf("query failed: %v", err)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) executeSQL() tool.Tool {
	return tool.NewBuilder("execute_sql").
		WithDescription("Execute a SQL statement. Read-only statements run immediately; INSERT/UPDATE/DELETE/DDL require user confirmation.").
		WithParameters(schema(`{"type":"object","properties":{"sql":{"type":"string"}},"required":["sql"]}`)).
		WithConfirmGate(func(args map[string]any) bool {
			query, err := stringArg(args, "sql")
			if err != nil {
				return false
			}
			return !IsReadOnly(query)
		}).
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			query, err := stringArg(args, "sql")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if IsReadOnly(query) {
				rows, err := queryRows(ctx, p.db, query)
				if err != nil {
					return tool.Errorf("query failed: %v", err)
				}
				return tool.Success(rows)
			}
			res, err := p.db.ExecContext(ctx, query)
			if err != nil {
				return tool.Errorf("statement failed: %v", err)
			}
			affected, _ := res.RowsAffected()
			return tool.SuccessMessage("statement executed, %d rows affected", affected)
		}).
		MustBuild()
}

func (p *pack) runExplain() tool.Tool {
	return tool.NewBuilder("run_explain").
		WithDescription("Show the execution plan for a query. Set analyze=true to actually run it and get timings.").
		WithParameters(schema(`{"type":"object","properties":{"sql":{"type":"string"},"analyze":{"type":"boolean","default":false}},"required":["sql"]}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			query, err := stringArg(args, "sql")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if boolArg(args, "analyze", false) && !IsReadOnly(query) {
				return tool.Errorf("EXPLAIN ANALYZE executes the statement; only read-only queries are allowed")
			}
			prefix := "EXPLAIN "
			if boolArg(args, "analyze", false) {
				prefix = "EXPLAIN ANALYZE "
			}
			rows, err := queryRows(ctx, p.db, prefix+query)
			if err != nil {
				return tool.Errorf("explain failed: %v", err)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) getTableStats() tool.Tool {
	return tool.NewBuilder("get_table_stats").
		WithDescription("Show row counts, dead tuples, and maintenance timestamps for a table.").
		WithParameters(schema(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			table, err := stringArg(args, "table")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if !validIdent(table) {
				return tool.Errorf("invalid table name: %s", table)
			}
			rows, err := queryRows(ctx, p.db,
				`SELECT relname, n_live_tup, n_dead_tup, seq_scan, idx_scan,
					last_vacuum, last_autovacuum, last_analyze, last_autoanalyze
				 FROM pg_stat_user_tables WHERE relname = $1`, unqualified(table))
			if err != nil || len(rows) == 0 {
				// Fall back to a plain count for non-postgres targets.
				rows, err = queryRows(ctx, p.db, fmt.Sprintf(`SELECT COUNT(*) AS row_count FROM %s`, table))
			}
			if err != nil {
				return tool.Errorf("stats for %s: %v", table, err)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) checkIndexUsage() tool.Tool {
	return tool.NewBuilder("check_index_usage").
		WithDescription("List the indexes of a table with their scan counts and sizes.").
		WithParameters(schema(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			table, err := stringArg(args, "table")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if !validIdent(table) {
				return tool.Errorf("invalid table name: %s", table)
			}
			rows, err := queryRows(ctx, p.db,
				`SELECT indexrelname, idx_scan, idx_tup_read, idx_tup_fetch,
					pg_size_pretty(pg_relation_size(indexrelid)) AS index_size
				 FROM pg_stat_user_indexes WHERE relname = $1 ORDER BY idx_scan DESC`, unqualified(table))
			if err != nil {
				return tool.Errorf("index usage for %s: %v", table, err)
			}
			if len(rows) == 0 {
				return tool.SuccessMessage("table %s has no indexes", table)
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) createIndex() tool.Tool {
	return tool.NewBuilder("create_index").
		WithDescription("Create an index on a table. Always requires user confirmation; uses CREATE INDEX CONCURRENTLY by default.").
		WithParameters(schema(`{"type":"object","properties":{"table":{"type":"string"},"columns":{"type":"array","items":{"type":"string"}},"name":{"type":"string"},"unique":{"type":"boolean","default":false},"concurrently":{"type":"boolean","default":true}},"required":["table","columns"]}`)).
		RequiresConfirmation().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			stmt, err := buildCreateIndex(args)
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				return tool.Errorf("create index: %v", err)
			}
			return tool.SuccessMessage("index created: %s", stmt)
		}).
		MustBuild()
}

func (p *pack) analyzeTable() tool.Tool {
	return tool.NewBuilder("analyze_table").
		WithDescription("Refresh planner statistics for a table with ANALYZE.").
		WithParameters(schema(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`)).
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			table, err := stringArg(args, "table")
			if err != nil {
				return tool.Errorf("%v", err)
			}
			if !validIdent(table) {
				return tool.Errorf("invalid table name: %s", table)
			}
			if _, err := p.db.ExecContext(ctx, "ANALYZE "+table); err != nil {
				return tool.Errorf("analyze %s: %v", table, err)
			}
			return tool.SuccessMessage("analyzed %s", table)
		}).
		MustBuild()
}

func (p *pack) identifySlowQueries() tool.Tool {
	return tool.NewBuilder("identify_slow_queries").
		WithDescription("List the slowest queries from pg_stat_statements, falling back to currently active long-running queries.").
		WithParameters(schema(`{"type":"object","properties":{"limit":{"type":"integer","default":10}}}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, args map[string]any) tool.Result {
			limit := intArg(args, "limit", 10)
			if limit < 1 || limit > 50 {
				limit = 10
			}
			rows, err := queryRows(ctx, p.db, fmt.Sprintf(
				`SELECT query, calls, total_exec_time, mean_exec_time, rows
				 FROM pg_stat_statements ORDER BY mean_exec_time DESC LIMIT %d`, limit))
			if err != nil {
				// pg_stat_statements may not be installed.
				rows, err = queryRows(ctx, p.db, fmt.Sprintf(
					`SELECT pid, now() - query_start AS duration, state, query
					 FROM pg_stat_activity
					 WHERE state <> 'idle' AND query_start IS NOT NULL
					 ORDER BY query_start LIMIT %d`, limit))
			}
			if err != nil {
				return tool.Errorf("slow queries: %v", err)
			}
			if len(rows) == 0 {
				return tool.SuccessMessage("no slow queries found")
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

func (p *pack) getRunningQueries() tool.Tool {
	return tool.NewBuilder("get_running_queries").
		WithDescription("Show currently executing queries with their runtimes and wait states.").
		WithParameters(schema(`{"type":"object","properties":{}}`)).
		ReadOnly().
		WithHandler(func(ctx context.Context, _ map[string]any) tool.Result {
			rows, err := queryRows(ctx, p.db,
				`SELECT pid, usename, state, wait_event_type, now() - query_start AS duration, query
				 FROM pg_stat_activity
				 WHERE state <> 'idle' AND pid <> pg_backend_pid()
				 ORDER BY query_start`)
			if err != nil {
				return tool.Errorf("running queries: %v", err)
			}
			if len(rows) == 0 {
				return tool.SuccessMessage("no active queries")
			}
			return tool.Success(rows)
		}).
		MustBuild()
}

// unqualified strips a schema prefix from a table name.
func unqualified(table string) string {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

// buildCreateIndex assembles a CREATE INDEX statement from validated
// arguments.
func buildCreateIndex(args map[string]any) (string, error) {
	table, err := stringArg(args, "table")
	if err != nil {
		return "", err
	}
	if !validIdent(table) {
		return "", fmt.Errorf("invalid table name: %s", table)
	}

	rawCols, ok := args["columns"].([]any)
	if !ok || len(rawCols) == 0 {
		return "", fmt.Errorf("argument \"columns\" must be a non-empty array of column names")
	}
	cols := make([]string, 0, len(rawCols))
	for _, c := range rawCols {
		col, ok := c.(string)
		if !ok || !validIdent(col) {
			return "", fmt.Errorf("invalid column name: %v", c)
		}
		cols = append(cols, col)
	}

	name := ""
	if v, ok := args["name"].(string); ok && v != "" {
		if !validIdent(v) {
			return "", fmt.Errorf("invalid index name: %s", v)
		}
		name = v
	} else {
		name = fmt.Sprintf("idx_%s_%s", unqualified(table), strings.Join(cols, "_"))
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if boolArg(args, "unique", false) {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if boolArg(args, "concurrently", true) {
		b.WriteString("CONCURRENTLY ")
	}
	b.WriteString(name)
	b.WriteString(" ON ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(")")
	return b.String(), nil
}
