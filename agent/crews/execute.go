package crews

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// runTask 执行一个已被 admit 的任务并写入它的执行记录.
// 任务超时只取消本任务；运行级取消使任务报告 Cancelled.
func (r *run) runTask(ctx context.Context, task Task, agentID, assignedBy string) {
	agent := r.crew.agentIndex[agentID]
	task = r.interpolateTask(task)
	logger := r.logger.With(
		zap.String("task_id", task.ID),
		zap.String("agent_id", agentID),
	)

	started := r.assign(task.ID, agentID, assignedBy)
	r.emit(func(l Listener) {
		l.OnTaskStart(TaskEvent{RunID: r.id, CrewID: r.crew.id, Task: task, Record: started})
	})

	ctx, span := r.crew.tracer.Start(ctx, "crew.task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("agent.id", agentID),
			attribute.String("task.assigned_by", assignedBy),
		),
	)
	defer span.End()

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = agent.MaxExecutionTime()
	}
	taskCtx, cancel := context.WithTimeoutCause(ctx, timeout, errTaskTimeout)
	defer cancel()

	output, attempts, err := r.perform(taskCtx, task, agent, logger)

	var status TaskStatus
	switch {
	case err == nil:
		status = TaskCompleted
	case ctx.Err() != nil:
		status = TaskCancelled
		err = types.NewError(types.ErrCancelled, "task cancelled").WithCause(context.Cause(ctx))
	case errors.Is(context.Cause(taskCtx), errTaskTimeout):
		status = TaskFailed
		err = types.Errorf(types.ErrTaskTimeout, "task %s exceeded timeout %s", task.ID, timeout).
			WithCause(context.DeadlineExceeded)
	default:
		status = TaskFailed
		var te *types.Error
		if !errors.As(err, &te) || te.Code != types.ErrTaskExecution {
			err = types.Errorf(types.ErrTaskExecution, "task %s failed", task.ID).
				WithCause(err).
				WithRetryable(llm.IsRetryable(err))
		}
	}

	rec := r.settle(task.ID, status, output, err, attempts)
	ev := TaskEvent{RunID: r.id, CrewID: r.crew.id, Task: task, Record: rec}

	switch status {
	case TaskCompleted:
		span.SetStatus(codes.Ok, "")
		logger.Info("task completed", zap.Int("attempts", attempts), zap.Duration("duration", rec.Duration))
		r.remember(ctx, task, agent, output, logger)
		r.emit(func(l Listener) { l.OnTaskComplete(ev) })
	case TaskCancelled:
		span.SetStatus(codes.Error, "cancelled")
		logger.Info("task cancelled")
		r.emit(func(l Listener) { l.OnTaskFail(ev) })
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("task failed", zap.Int("attempts", attempts), zap.Error(err))
		r.emit(func(l Listener) { l.OnTaskFail(ev) })
	}
}

// perform 构建提示词、调用补全后端（含重试）并经过审批门
func (r *run) perform(ctx context.Context, task Task, agent *Agent, logger *zap.Logger) (string, int, error) {
	deps := r.dependencyContext(task.ID)
	memories := r.recall(ctx, task, agent, logger)

	tools := task.Tools
	if len(tools) == 0 {
		tools = agent.Tools()
	}
	req := &llm.CompletionRequest{
		Model:       agent.Model(),
		System:      agent.SystemPrompt(),
		Prompt:      taskPrompt(task, deps, memories),
		Temperature: agent.Temperature(),
	}
	for _, name := range tools {
		req.Tools = append(req.Tools, llm.ToolSchema{Name: name})
	}
	if r.crew.verbose || agent.Verbose() {
		logger.Info("task prompt", zap.String("prompt", req.Prompt))
	}

	retries := task.MaxRetries
	if retries <= 0 && r.crew.cfg.RetryFailed {
		retries = r.crew.cfg.MaxRetries
	}

	var output string
	attempts := 0
	op := func() error {
		attempts++
		text, err := r.call(ctx, req)
		if err != nil {
			if ctx.Err() != nil || !llm.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		output = text
		return nil
	}
	err := backoff.RetryNotify(op, r.retryPolicy(ctx, retries), func(err error, wait time.Duration) {
		logger.Debug("retrying task", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return "", attempts, err
	}

	if task.HumanInput && r.crew.approver != nil {
		ok, feedback, err := r.crew.approver.Approve(ctx, task, output)
		if err != nil {
			return "", attempts, err
		}
		if !ok {
			return "", attempts, types.Errorf(types.ErrTaskExecution, "task %s rejected by approver: %s", task.ID, feedback)
		}
	}
	return output, attempts, nil
}

// call 调用补全后端；ctx 结束时立即返回，不再等待进行中的请求
func (r *run) call(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	type reply struct {
		resp *llm.CompletionResponse
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		resp, err := r.crew.completer.Complete(ctx, req)
		ch <- reply{resp, err}
	}()
	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case rep := <-ch:
		if rep.err != nil {
			return "", rep.err
		}
		if rep.resp == nil {
			return "", llm.NewError(llm.KindProviderError, "", "empty completion response")
		}
		return rep.resp.Text, nil
	}
}

func (r *run) retryPolicy(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.crew.cfg.RetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (r *run) dependencyContext(taskID string) []DependencyOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.crew.graph.DependencyContext(taskID, r.records)
}

// recall 检索记忆，失败时只记录日志
func (r *run) recall(ctx context.Context, task Task, agent *Agent, logger *zap.Logger) []memory.Snippet {
	store, ok := r.stores[agent.ID()]
	if !ok {
		return nil
	}
	snippets, err := store.Retrieve(ctx, task.Description)
	if err != nil {
		logger.Warn("memory retrieve failed", zap.Error(err))
		return nil
	}
	if limit := agent.Memory().Limit(); len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets
}

func (r *run) remember(ctx context.Context, task Task, agent *Agent, output string, logger *zap.Logger) {
	store, ok := r.stores[agent.ID()]
	if !ok {
		return
	}
	err := store.Record(ctx, memory.Snippet{
		Content: memoryContent(task, output),
		Metadata: map[string]string{
			"task_id": task.ID,
			"crew_id": r.crew.id,
			"run_id":  r.id,
		},
	})
	if err != nil {
		logger.Warn("memory record failed", zap.Error(err))
	}
}
