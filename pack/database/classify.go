// Package database provides the built-in database tool pack: schema
// inspection, query execution with mutation gating, and performance
// diagnostics.
package database

import (
	"regexp"
	"strings"
)

// Kind classifies a SQL statement by its effect.
type Kind string

// Statement kinds. The orchestrator gates KindMutating and KindDDL behind
// user confirmation.
const (
	KindReadOnly Kind = "read_only"
	KindMutating Kind = "mutating"
	KindDDL      Kind = "ddl"
)

var (
	commentLine  = regexp.MustCompile(`--[^\n]*`)
	commentBlock = regexp.MustCompile(`(?s)/\*.*?\*/`)
	mutatingVerb = regexp.MustCompile(`(?i)\b(insert|update|delete|merge)\b`)
)

// Classify determines the effect of a SQL statement. Comments are stripped
// first; WITH chains are scanned for embedded DML since CTEs can write.
func Classify(sql string) Kind {
	cleaned := commentBlock.ReplaceAllString(sql, " ")
	cleaned = commentLine.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return KindReadOnly
	}

	first := strings.ToLower(firstWord(cleaned))
	switch first {
	case "select", "show", "explain", "values", "table":
		return KindReadOnly
	case "with":
		if mutatingVerb.MatchString(cleaned) {
			return KindMutating
		}
		return KindReadOnly
	case "create", "alter", "drop", "truncate", "comment", "rename", "reindex":
		return KindDDL
	case "insert", "update", "delete", "merge", "grant", "revoke", "vacuum", "analyze", "copy", "call", "set":
		return KindMutating
	default:
		// Unknown statements are treated as mutating so they stay gated.
		return KindMutating
	}
}

// IsReadOnly reports whether a statement has no side effects.
func IsReadOnly(sql string) bool {
	return Classify(sql) == KindReadOnly
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';' {
			return s[:i]
		}
	}
	return s
}
