package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutputSeparator 分隔各 Crew 的输出
const OutputSeparator = "\n\n---\n\n"

var errStateTimeout = errors.New("state timeout")

// FlowStatus 是一次 Flow 运行的终态
type FlowStatus string

const (
	FlowSucceeded FlowStatus = "succeeded"
	FlowFailed    FlowStatus = "failed"
	FlowCancelled FlowStatus = "cancelled"
)

// FlowStats 运行统计
type FlowStats struct {
	StatesVisited    int           `json:"states_visited"`
	TransitionsTaken int           `json:"transitions_taken"`
	CrewsExecuted    int           `json:"crews_executed"`
	TotalTime        time.Duration `json:"total_time"`
}

// FlowResult 是一次 Run 的结果. 运行失败时依然包含已访问的状态与 Crew 结果.
type FlowResult struct {
	RunID  string `json:"run_id"`
	FlowID string `json:"flow_id"`
	// Visited 按进入顺序记录状态, 重复进入会重复出现
	Visited     []string            `json:"visited"`
	CrewResults []*crews.CrewResult `json:"crew_results"`
	FinalState  string              `json:"final_state"`
	Output      string              `json:"output"`
	Success     bool                `json:"success"`
	Status      FlowStatus          `json:"status"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
	Stats       FlowStats           `json:"stats"`
	Variables   map[string]any      `json:"variables"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

type runOptions struct {
	maxSteps  int
	variables map[string]any
	inputs    map[string]string
	listeners []Listener
	hooks     []StateHook
}

// RunOption 调整单次运行
type RunOption func(*runOptions)

// WithMaxSteps 覆盖 Flow 的步数上限
func WithMaxSteps(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithVariables 设置运行变量的初始值
func WithVariables(vars map[string]any) RunOption {
	return func(o *runOptions) { o.variables = vars }
}

// WithInputs 传给每个 Crew 的 {key} 占位符输入
func WithInputs(inputs map[string]string) RunOption {
	return func(o *runOptions) { o.inputs = inputs }
}

// WithListener 仅对本次运行追加监听器
func WithListener(l Listener) RunOption {
	return func(o *runOptions) { o.listeners = append(o.listeners, l) }
}

// WithHook 仅对本次运行追加状态钩子
func WithHook(h StateHook) RunOption {
	return func(o *runOptions) { o.hooks = append(o.hooks, h) }
}

// Run 从初始状态开始执行直到停机.
//
// 返回的 FlowResult 总是非 nil; error 与 FlowResult.Err 相同, 为
// NO_ELIGIBLE_TRANSITION、STEP_LIMIT_EXCEEDED 或 CANCELLED 之一.
// 绑定 Crew 的失败不会直接使 Flow 失败, 由转移条件决定去向.
func (f *Flow) Run(ctx context.Context, opts ...RunOption) (*FlowResult, error) {
	o := runOptions{maxSteps: f.maxSteps}
	for _, opt := range opts {
		opt(&o)
	}

	runID := uuid.NewString()
	ctx = types.WithFlowRunID(ctx, runID)
	rc := newRunContext(runID, f.id, o.variables)
	listeners := append(append([]Listener(nil), f.listeners...), o.listeners...)
	hooks := append(append([]StateHook(nil), f.hooks...), o.hooks...)
	logger := f.logger.With(zap.String("flow_run_id", runID))

	ctx, span := f.tracer.Start(ctx, "flow.run",
		trace.WithAttributes(
			attribute.String("flow.id", f.id),
			attribute.String("flow.run_id", runID),
			attribute.Int("flow.max_steps", o.maxSteps),
		),
	)
	defer span.End()

	res := &FlowResult{RunID: runID, FlowID: f.id, StartedAt: time.Now()}
	emit := func(fn func(Listener)) {
		for _, l := range listeners {
			func() {
				defer func() {
					if p := recover(); p != nil {
						logger.Error("listener panicked", zap.Any("panic", p))
					}
				}()
				fn(l)
			}()
		}
	}

	logger.Info("flow started", zap.String("initial", f.initial), zap.Int("max_steps", o.maxSteps))
	emit(func(l Listener) { l.OnFlowStart(FlowEvent{RunID: runID, FlowID: f.id, InitialState: f.initial}) })

	current := f.initial
	for step := 1; ; step++ {
		if ctx.Err() != nil {
			res.Err = types.NewError(types.ErrCancelled, "flow run cancelled").WithCause(context.Cause(ctx))
			break
		}
		if step > o.maxSteps {
			res.Err = types.Errorf(types.ErrStepLimitExceeded,
				"flow %s exceeded %d steps at state %q", f.id, o.maxSteps, current)
			break
		}

		state := f.states[f.stateIndex[current]]
		res.Visited = append(res.Visited, state.ID)
		res.FinalState = state.ID
		emit(func(l Listener) { l.OnStateEnter(StateEvent{RunID: runID, FlowID: f.id, State: state, Step: step}) })

		result, err := f.enter(ctx, rc, state, o.inputs, step, logger)
		if result != nil {
			res.CrewResults = append(res.CrewResults, result)
			res.Stats.CrewsExecuted++
		}
		emit(func(l Listener) {
			l.OnStateExit(StateEvent{RunID: runID, FlowID: f.id, State: state, Step: step, Result: result})
		})
		if err != nil {
			res.Err = err
			break
		}

		for _, h := range hooks {
			h(ctx, rc, state, result)
		}

		if state.Final {
			break
		}
		t, ok := f.next(state.ID, Evaluation{Result: result, Vars: rc})
		if !ok {
			res.Err = types.Errorf(types.ErrNoEligibleTransition,
				"flow %s: no eligible transition from state %q", f.id, state.ID)
			break
		}
		logger.Debug("transition",
			zap.String("from", t.From),
			zap.String("to", t.To),
			zap.String("condition", t.Condition.String()),
			zap.Int("priority", t.Priority),
		)
		emit(func(l Listener) { l.OnTransition(TransitionEvent{RunID: runID, FlowID: f.id, Transition: t}) })
		res.Stats.TransitionsTaken++
		current = t.To
	}

	f.finish(res, rc)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Status))
		logger.Warn("flow halted",
			zap.String("status", string(res.Status)),
			zap.String("state", res.FinalState),
			zap.Error(res.Err),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Info("flow completed",
			zap.String("final_state", res.FinalState),
			zap.Int("states_visited", res.Stats.StatesVisited),
			zap.Int("crews_executed", res.Stats.CrewsExecuted),
			zap.Duration("duration", res.Stats.TotalTime),
		)
	}
	emit(func(l Listener) { l.OnFlowComplete(res) })

	return res, res.Err
}

// enter 执行状态绑定的 Crew. 只有运行被取消时返回 error.
func (f *Flow) enter(ctx context.Context, rc *RunContext, state State, inputs map[string]string, step int, logger *zap.Logger) (*crews.CrewResult, error) {
	if state.CrewID == "" {
		return nil, nil
	}
	crew := f.crews[state.CrewID]

	stateCtx, span := f.tracer.Start(ctx, "flow.state",
		trace.WithAttributes(
			attribute.String("flow.state", state.ID),
			attribute.String("crew.id", state.CrewID),
			attribute.Int("flow.step", step),
		),
	)
	defer span.End()
	if state.Timeout > 0 {
		var cancel context.CancelFunc
		stateCtx, cancel = context.WithTimeoutCause(stateCtx, state.Timeout, errStateTimeout)
		defer cancel()
	}

	logger.Debug("running crew", zap.String("state", state.ID), zap.String("crew", state.CrewID))
	result, err := crew.Kickoff(stateCtx, rc.inputs(inputs))
	if ctx.Err() != nil {
		if result != nil {
			result.Success = false
		}
		return result, types.NewError(types.ErrCancelled, "flow run cancelled").WithCause(context.Cause(ctx))
	}
	if result == nil {
		if err == nil {
			err = types.Errorf(types.ErrTaskExecution, "crew %s returned no result", state.CrewID)
		}
		result = &crews.CrewResult{CrewID: state.CrewID, Status: crews.RunFailed, Err: err}
	} else if err != nil && result.Err == nil {
		result.Err = err
	}
	if errors.Is(context.Cause(stateCtx), errStateTimeout) {
		result.Err = types.Errorf(types.ErrTaskTimeout, "state %s exceeded timeout %s", state.ID, state.Timeout).
			WithCause(context.DeadlineExceeded)
		result.Status = crews.RunFailed
	}
	if result.Err != nil {
		result.Success = false
		result.Error = result.Err.Error()
		span.RecordError(result.Err)
		logger.Warn("crew failed", zap.String("state", state.ID), zap.String("crew", state.CrewID), zap.Error(result.Err))
	}
	return result, nil
}

func (f *Flow) finish(res *FlowResult, rc *RunContext) {
	res.FinishedAt = time.Now()
	res.Stats.StatesVisited = len(res.Visited)
	res.Stats.TotalTime = res.FinishedAt.Sub(res.StartedAt)
	res.Variables = rc.Snapshot()

	outputs := make([]string, 0, len(res.CrewResults))
	for _, r := range res.CrewResults {
		outputs = append(outputs, r.Output)
	}
	res.Output = strings.Join(outputs, OutputSeparator)

	switch {
	case res.Err == nil:
		res.Success = true
		res.Status = FlowSucceeded
	case errors.Is(res.Err, types.ErrCancelledKind):
		res.Status = FlowCancelled
	default:
		res.Status = FlowFailed
	}
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
}
