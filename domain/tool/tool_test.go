package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dbpilot/dbpilot/domain/tool"
)

func TestBuilderBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		builder *tool.Builder
		wantErr error
	}{
		{
			name: "valid tool",
			builder: tool.NewBuilder("list_tables").
				WithDescription("lists tables").
				ReadOnly().
				WithHandler(func(context.Context, map[string]any) tool.Result {
					return tool.Success(nil)
				}),
		},
		{
			name:    "empty name",
			builder: tool.NewBuilder("").WithHandler(func(context.Context, map[string]any) tool.Result { return tool.Success(nil) }),
			wantErr: tool.ErrInvalidName,
		},
		{
			name:    "missing handler",
			builder: tool.NewBuilder("no_handler"),
			wantErr: tool.ErrNoHandler,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.builder.Build()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadOnlyImpliesIdempotent(t *testing.T) {
	t.Parallel()

	tl := tool.NewBuilder("probe").
		ReadOnly().
		WithHandler(func(context.Context, map[string]any) tool.Result { return tool.Success(nil) }).
		MustBuild()

	ann := tl.Annotations()
	if !ann.ReadOnly || !ann.Idempotent {
		t.Errorf("annotations = %+v, want read-only and idempotent", ann)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	tl := tool.NewBuilder("explode").
		WithHandler(func(context.Context, map[string]any) tool.Result {
			panic("boom")
		}).
		MustBuild()

	res := tl.Execute(context.Background(), nil)
	if res.Status != tool.StatusError {
		t.Fatalf("status = %q, want %q", res.Status, tool.StatusError)
	}
	if res.Error == "" {
		t.Error("expected a panic description in the error")
	}
}

func TestConfirmGate(t *testing.T) {
	t.Parallel()

	tl := tool.NewBuilder("execute_sql").
		WithConfirmGate(func(args map[string]any) bool {
			s, _ := args["sql"].(string)
			return s != "SELECT 1"
		}).
		WithHandler(func(context.Context, map[string]any) tool.Result { return tool.Success(nil) }).
		MustBuild()

	gater, ok := tl.(tool.ConfirmGater)
	if !ok {
		t.Fatal("built tool does not expose ConfirmGater")
	}
	if gater.ConfirmRequired(map[string]any{"sql": "SELECT 1"}) {
		t.Error("read query should not require confirmation")
	}
	if !gater.ConfirmRequired(map[string]any{"sql": "DELETE FROM t"}) {
		t.Error("write should require confirmation")
	}
}
