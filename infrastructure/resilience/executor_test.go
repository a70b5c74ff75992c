package resilience_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/resilience"
)

func fastConfig() resilience.ExecutorConfig {
	cfg := resilience.DefaultExecutorConfig()
	cfg.RetryInitialDelay = time.Millisecond
	cfg.DefaultTimeout = 200 * time.Millisecond
	return cfg
}

func TestExecutorRetriesIdempotentTool(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	flaky := tool.NewBuilder("list_tables").
		ReadOnly().
		WithHandler(func(_ context.Context, _ map[string]any) tool.Result {
			if attempts.Add(1) < 3 {
				return tool.Errorf("transient failure")
			}
			return tool.SuccessMessage("ok")
		}).
		MustBuild()

	ex := resilience.NewExecutor(fastConfig())
	res := ex.Execute(context.Background(), flaky, nil)
	if res.Status != tool.StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestExecutorDoesNotRetryMutatingTool(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	mutating := tool.NewBuilder("execute_sql").
		Mutating().
		WithHandler(func(_ context.Context, _ map[string]any) tool.Result {
			attempts.Add(1)
			return tool.Errorf("deadlock detected")
		}).
		MustBuild()

	ex := resilience.NewExecutor(fastConfig())
	res := ex.Execute(context.Background(), mutating, nil)
	if res.Status != tool.StatusError {
		t.Fatalf("result = %+v", res)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want exactly 1 for non-idempotent tool", got)
	}
}

func TestExecutorRetryExhaustionStaysStructured(t *testing.T) {
	t.Parallel()

	always := tool.NewBuilder("get_table_stats").
		ReadOnly().
		WithHandler(func(_ context.Context, _ map[string]any) tool.Result {
			return tool.Errorf("relation does not exist")
		}).
		MustBuild()

	ex := resilience.NewExecutor(fastConfig())
	res := ex.Execute(context.Background(), always, nil)
	if res.Status != tool.StatusError || res.Error != "relation does not exist" {
		t.Errorf("result = %+v, want the tool's own error after exhaustion", res)
	}
}

func TestExecutorTimeout(t *testing.T) {
	t.Parallel()

	slow := tool.NewBuilder("execute_sql").
		Mutating().
		WithHandler(func(ctx context.Context, _ map[string]any) tool.Result {
			<-ctx.Done()
			return tool.Errorf("%v", ctx.Err())
		}).
		MustBuild()

	cfg := fastConfig()
	cfg.DefaultTimeout = 20 * time.Millisecond
	ex := resilience.NewExecutor(cfg)

	res := ex.Execute(context.Background(), slow, nil)
	if res.Status != tool.StatusError {
		t.Fatalf("result = %+v", res)
	}
}
