// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	result, err := crew.Kickoff(ctx, nil)
//	testutil.AssertStatuses(t, result, map[string]crews.TaskStatus{"draft": crews.TaskCompleted})
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
)

// TestContext 返回 30 秒超时的测试上下文, 测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertStatuses 断言每个任务的终态, 未列出的任务不检查
func AssertStatuses(t *testing.T, result *crews.CrewResult, expected map[string]crews.TaskStatus) {
	t.Helper()
	if result == nil {
		t.Errorf("crew result is nil")
		return
	}
	for id, want := range expected {
		rec, ok := result.Records[id]
		if !ok {
			t.Errorf("task %q has no record", id)
			continue
		}
		if rec.Status != want {
			t.Errorf("task %q status: expected %s, got %s (error: %s)", id, want, rec.Status, rec.Error)
		}
	}
}
