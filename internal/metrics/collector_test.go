package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/testutil/fixtures"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector.crewRunsTotal)
	assert.NotNil(t, collector.taskExecutionsTotal)
	assert.NotNil(t, collector.flowRunsTotal)
	assert.NotNil(t, collector.llmRequestsTotal)

	// Vec 在没有标签值之前不产生样本
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector("dup", reg, nil)
	assert.Panics(t, func() { NewCollector("dup", reg, nil) })
}

func TestCollector_CrewListener(t *testing.T) {
	collector, _ := newTestCollector(t)

	var calls atomic.Int32
	completer := mocks.NewMockCompleter().WithCompletionFunc(
		func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if calls.Add(1) == 1 {
				return nil, llm.NewError(llm.KindRateLimited, "mock", "slow down")
			}
			return &llm.CompletionResponse{Text: "done"}, nil
		})

	cfg := crews.DefaultProcessConfig()
	cfg.RetryFailed = true
	cfg.RetryInterval = time.Millisecond
	crew, err := fixtures.SingleTaskCrew("drafting", "Write the draft", completer).
		ProcessConfig(cfg).
		Listener(collector).
		Build()
	require.NoError(t, err)

	res, err := crew.Kickoff(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.crewRunsTotal.WithLabelValues("drafting", "succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.crewRunsInFlight.WithLabelValues("drafting")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.crewRunDuration))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.taskExecutionsTotal.WithLabelValues("drafting", "writer", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.taskRetriesTotal.WithLabelValues("drafting", "writer")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.tasksInFlight.WithLabelValues("drafting")))
}

func TestCollector_CrewListenerRecordsFailures(t *testing.T) {
	collector, _ := newTestCollector(t)

	completer := mocks.NewErrorCompleter(llm.NewError(llm.KindInvalidModel, "mock", "no such model"))
	crew, err := fixtures.SingleTaskCrew("broken", "Write", completer).
		Listener(collector).
		Build()
	require.NoError(t, err)

	res, _ := crew.Kickoff(context.Background(), nil)
	require.False(t, res.Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.crewRunsTotal.WithLabelValues("broken", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.taskExecutionsTotal.WithLabelValues("broken", "writer", "failed")))
	assert.Equal(t, 0, testutil.CollectAndCount(collector.taskRetriesTotal))
}

func TestCollector_FlowListener(t *testing.T) {
	collector, _ := newTestCollector(t)

	crew, err := fixtures.SingleTaskCrew("drafting", "Write the draft", mocks.NewSuccessCompleter("draft")).Build()
	require.NoError(t, err)

	flow, err := workflow.NewFlowBuilder("publish").
		Crew("drafting", crew).
		State(workflow.State{ID: "start", Initial: true}).
		State(workflow.State{ID: "draft", CrewID: "drafting"}).
		State(workflow.State{ID: "done", Final: true}).
		Transition(workflow.Transition{From: "start", To: "draft", Condition: workflow.Always{}}).
		Transition(workflow.Transition{From: "draft", To: "done", Condition: workflow.OnSuccess{}}).
		Listener(collector).
		Build()
	require.NoError(t, err)

	_, err = flow.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.flowRunsTotal.WithLabelValues("publish", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.flowStatesEntered.WithLabelValues("publish", "draft")))
	assert.Equal(t, 3, testutil.CollectAndCount(collector.flowStatesEntered))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.flowTransitions.WithLabelValues("publish", "draft", "done")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.flowRunDuration))
}

// =============================================================================
// 🤖 LLM 指标测试
// =============================================================================

func TestCollector_InstrumentCompleter(t *testing.T) {
	collector, _ := newTestCollector(t)

	next := llm.CompleterFunc(func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Text:  "ok",
			Model: "gpt-4-0613",
			Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50},
		}, nil
	})
	completer := collector.InstrumentCompleter(next, "openai")

	resp, err := completer.Complete(context.Background(), &llm.CompletionRequest{Model: "gpt-4", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4-0613", "success")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4-0613", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4-0613", "completion")))
}

func TestCollector_InstrumentCompleterErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{name: "backend kind", err: llm.NewError(llm.KindTimeout, "openai", "slow"), status: "timeout"},
		{name: "cancelled", err: context.Canceled, status: "cancelled"},
		{name: "other", err: errors.New("boom"), status: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector, _ := newTestCollector(t)
			completer := collector.InstrumentCompleter(mocks.NewErrorCompleter(tt.err), "openai")

			_, err := completer.Complete(context.Background(), &llm.CompletionRequest{Model: "gpt-4"})
			require.Error(t, err)
			assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4", tt.status)))
		})
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordLLMRequest("openai", "gpt-4", "success", 500*time.Millisecond, 100, 50)
			collector.OnTaskStart(crews.TaskEvent{CrewID: "c"})
			collector.OnTaskComplete(crews.TaskEvent{CrewID: "c", Record: crews.TaskRecord{AgentID: "a", Status: crews.TaskCompleted}})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4", "success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.taskExecutionsTotal.WithLabelValues("c", "a", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.tasksInFlight.WithLabelValues("c")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}
