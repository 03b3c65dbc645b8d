package crews

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// run 持有一次 Kickoff 的全部可变状态，不与其他运行共享.
type run struct {
	crew   *Crew
	id     string
	inputs map[string]string
	logger *zap.Logger

	mu      sync.Mutex
	records map[string]*TaskRecord
	order   []string
	aborted bool

	// ShortTerm 与非持久记忆的运行期后端，Kickoff 返回后丢弃
	stores map[string]memory.Store

	emitMu    sync.Mutex
	startedAt time.Time
}

func newRun(c *Crew, id string, inputs map[string]string, logger *zap.Logger) *run {
	r := &run{
		crew:      c,
		id:        id,
		inputs:    inputs,
		logger:    logger,
		records:   make(map[string]*TaskRecord, c.graph.Len()),
		stores:    make(map[string]memory.Store),
		startedAt: time.Now(),
	}
	for _, t := range c.graph.tasks {
		r.records[t.ID] = &TaskRecord{
			TaskID:     t.ID,
			AgentID:    t.AgentID,
			AssignedBy: AssignedStatic,
			Status:     TaskPending,
		}
	}
	r.openMemory()
	return r
}

func (r *run) openMemory() {
	var scratch memory.Backend
	for _, a := range r.crew.agents {
		cfg := a.Memory()
		if !cfg.Enabled() {
			continue
		}
		deps := memory.Deps{
			Embedder:  r.crew.embedder,
			Extractor: r.crew.extractor,
			Logger:    r.logger,
		}
		if cfg.RunScoped() {
			if scratch == nil {
				scratch = memory.NewInMemoryBackend(memory.InMemoryBackendConfig{}, r.logger)
			}
			deps.Backend = scratch
		} else {
			deps.Backend = r.crew.sharedMemory
			deps.Index = r.crew.memoryIndex
		}
		store, err := memory.New(a.ID(), cfg, deps)
		if err != nil {
			r.logger.Warn("memory disabled for agent", zap.String("agent_id", a.ID()), zap.Error(err))
			continue
		}
		r.stores[a.ID()] = store
	}
}

// execute 是执行策略的唯一分派点
func (r *run) execute(ctx context.Context) {
	switch p := r.crew.process.(type) {
	case Sequential:
		r.sequential(ctx, nil)
	case Hierarchical:
		r.sequential(ctx, r.delegate)
	case Parallel:
		r.parallel(ctx, p.MaxConcurrency)
	}
}

type assignFunc func(ctx context.Context, task Task) (agentID, assignedBy string)

func (r *run) sequential(ctx context.Context, assign assignFunc) {
	for {
		progressed := false
		for _, id := range r.ready() {
			progressed = true
			if !r.admit(ctx, id) {
				continue
			}
			task, _ := r.crew.graph.Task(id)
			agentID, by := task.AgentID, AssignedStatic
			if assign != nil {
				agentID, by = assign(ctx, task)
			}
			r.runTask(ctx, task, agentID, by)
			// 每完成一个任务重新计算就绪集合
			break
		}
		if !progressed {
			return
		}
	}
}

func (r *run) parallel(ctx context.Context, limit int) {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	done := make(chan struct{}, r.crew.graph.Len())
	inflight := 0

	for {
		progressed := false
		for _, id := range r.ready() {
			if limit > 0 && inflight >= limit {
				break
			}
			progressed = true
			if !r.admit(ctx, id) {
				continue
			}
			task, _ := r.crew.graph.Task(id)
			inflight++
			g.Go(func() error {
				r.runTask(ctx, task, task.AgentID, AssignedStatic)
				done <- struct{}{}
				return nil
			})
		}
		if progressed {
			continue
		}
		if inflight == 0 {
			break
		}
		<-done
		inflight--
	}
	_ = g.Wait()
}

func (r *run) ready() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make(map[string]TaskStatus, len(r.records))
	for id, rec := range r.records {
		statuses[id] = rec.Status
	}
	return r.crew.graph.Ready(statuses)
}

// admit 将就绪任务置为 Running；不能执行的任务直接进入终态并返回 false.
func (r *run) admit(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[id]
	now := time.Now()
	switch {
	case ctx.Err() != nil:
		r.settleLocked(rec, TaskCancelled, "", types.NewError(types.ErrCancelled, "run cancelled before task started").
			WithCause(context.Cause(ctx)), now)
		return false
	case r.aborted:
		rec.Status = TaskAborted
		rec.FinishedAt = now
		rec.Reason = "run aborted after a task failure"
		r.order = append(r.order, id)
		r.logger.Debug("task aborted", zap.String("task_id", id))
		return false
	}

	task, _ := r.crew.graph.Task(id)
	for _, dep := range task.DependsOn {
		if st := r.records[dep].Status; st != TaskCompleted {
			rec.Status = TaskSkipped
			rec.FinishedAt = now
			rec.Reason = fmt.Sprintf("dependency %q ended %s", dep, st)
			r.order = append(r.order, id)
			r.logger.Info("task skipped",
				zap.String("task_id", id),
				zap.String("dependency", dep),
				zap.String("dependency_status", string(st)),
			)
			return false
		}
	}

	rec.Status = TaskRunning
	rec.StartedAt = now
	return true
}

func (r *run) settleLocked(rec *TaskRecord, status TaskStatus, output string, err error, now time.Time) {
	rec.finish(status, output, err, now)
	r.order = append(r.order, rec.TaskID)
	if status == TaskFailed && r.crew.cfg.FailurePolicy == FailAbort {
		r.aborted = true
	}
}

func (r *run) settle(taskID string, status TaskStatus, output string, err error, attempts int) TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[taskID]
	rec.Attempts = attempts
	r.settleLocked(rec, status, output, err, time.Now())
	return *rec
}

func (r *run) assign(taskID, agentID, by string) TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[taskID]
	rec.AgentID = agentID
	rec.AssignedBy = by
	return *rec
}

// delegate 咨询管理者智能体. 管理者的决定是权威的，
// 与静态指派不一致时仅记录日志；无法解析时回退到静态指派.
func (r *run) delegate(ctx context.Context, task Task) (string, string) {
	manager := r.crew.manager
	resp, err := r.crew.completer.Complete(ctx, &llm.CompletionRequest{
		Model:       manager.Model(),
		System:      manager.SystemPrompt(),
		Prompt:      managerPrompt(r.interpolateTask(task), task.AgentID, r.crew.agents),
		Temperature: manager.Temperature(),
	})
	if err != nil {
		r.logger.Warn("manager consultation failed, keeping static assignment",
			zap.String("task_id", task.ID),
			zap.String("manager", manager.ID()),
			zap.Error(err),
		)
		return task.AgentID, AssignedStatic
	}

	choice := parseManagerChoice(resp.Text)
	agent, ok := r.crew.Agent(choice)
	if !ok {
		for _, a := range r.crew.agents {
			if strings.EqualFold(a.ID(), choice) {
				agent, ok = a, true
				break
			}
		}
	}
	if !ok {
		r.logger.Warn("manager chose an unknown agent, keeping static assignment",
			zap.String("task_id", task.ID),
			zap.String("choice", choice),
		)
		return task.AgentID, AssignedStatic
	}
	if agent.ID() != task.AgentID {
		r.logger.Info("manager reassigned task",
			zap.String("task_id", task.ID),
			zap.String("static_agent", task.AgentID),
			zap.String("assigned_agent", agent.ID()),
		)
	}
	if missing := missingTools(agent, task.Tools); len(missing) > 0 {
		r.logger.Warn("manager assigned an agent lacking task tools",
			zap.String("task_id", task.ID),
			zap.String("assigned_agent", agent.ID()),
			zap.Strings("missing_tools", missing),
		)
	}
	return agent.ID(), AssignedManager
}

// missingTools 返回 agent 不具备的任务工具
func missingTools(agent *Agent, required []string) []string {
	var missing []string
	for _, t := range required {
		if !agent.HasTool(t) {
			missing = append(missing, t)
		}
	}
	return missing
}

func (r *run) interpolateTask(t Task) Task {
	t.Description = interpolate(t.Description, r.inputs)
	t.ExpectedOutput = interpolate(t.ExpectedOutput, r.inputs)
	t.ContextInstructions = interpolate(t.ContextInstructions, r.inputs)
	return t
}

// emit 串行调用监听器，单个监听器的 panic 不影响运行
func (r *run) emit(fn func(Listener)) {
	if len(r.crew.listeners) == 0 {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	for _, l := range r.crew.listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("listener panicked", zap.Any("panic", p))
				}
			}()
			fn(l)
		}()
	}
}

func (r *run) result() *CrewResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &CrewResult{
		RunID:      r.id,
		CrewID:     r.crew.id,
		Records:    make(map[string]*TaskRecord, len(r.records)),
		Order:      append([]string(nil), r.order...),
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
	}
	for id, rec := range r.records {
		cp := *rec
		res.Records[id] = &cp
		switch rec.Status {
		case TaskCompleted:
			res.Stats.Attempted++
			res.Stats.Succeeded++
		case TaskFailed:
			res.Stats.Attempted++
			res.Stats.Failed++
		case TaskCancelled:
			if !rec.StartedAt.IsZero() {
				res.Stats.Attempted++
			}
			res.Stats.Cancelled++
		case TaskSkipped:
			res.Stats.Skipped++
		case TaskAborted:
			res.Stats.Aborted++
		}
	}
	res.Stats.TotalTime = res.FinishedAt.Sub(r.startedAt)
	res.Output = combineOutput(r.crew.graph, res.Records)
	res.Success = res.Stats.Succeeded == len(r.records)
	res.Status = RunSucceeded
	if !res.Success {
		res.Status = RunFailed
	}
	return res
}
