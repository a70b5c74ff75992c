package tool_test

import (
	"strings"
	"testing"

	"github.com/dbpilot/dbpilot/domain/tool"
)

func TestResultSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result tool.Result
		want   string
	}{
		{
			name:   "rows",
			result: tool.Success([]map[string]any{{"a": 1}, {"a": 2}, {"a": 3}}),
			want:   "3 rows",
		},
		{
			name:   "error text",
			result: tool.Errorf("relation %q does not exist", "users"),
			want:   `relation "users" does not exist`,
		},
		{
			name:   "message",
			result: tool.SuccessMessage("analyzed %s", "orders"),
			want:   "analyzed orders",
		},
		{
			name:   "pending",
			result: tool.Pending("operation queued at index %d", 0),
			want:   "operation queued at index 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.result.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummaryTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 500)
	got := tool.Errorf("%s", long).Summary()
	if len(got) > 210 {
		t.Errorf("summary length = %d, want truncation around 200", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated summary should end with ellipsis, got %q", got[len(got)-10:])
	}
}

func TestParseResultRoundTrip(t *testing.T) {
	t.Parallel()

	orig := tool.Pending("waiting for approval")
	parsed := tool.ParseResult(orig.JSON())
	if parsed.Status != tool.StatusPending {
		t.Errorf("status = %q, want %q", parsed.Status, tool.StatusPending)
	}
	if parsed.Message != orig.Message {
		t.Errorf("message = %q, want %q", parsed.Message, orig.Message)
	}
}

func TestParseResultPlainText(t *testing.T) {
	t.Parallel()

	parsed := tool.ParseResult("plain tool output from an older session")
	if parsed.Status != tool.StatusSuccess {
		t.Errorf("status = %q, want %q", parsed.Status, tool.StatusSuccess)
	}
}
