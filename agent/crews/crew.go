package crews

import (
	"context"
	"errors"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/crewflow/agent/crews"

var (
	errCrewTimeout = errors.New("crew timeout")
	errTaskTimeout = errors.New("task timeout")
)

// Approver 人工审批门，返回 false 时任务以 TaskExecutionError 失败
type Approver interface {
	Approve(ctx context.Context, task Task, output string) (approved bool, feedback string, err error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, task Task, output string) (bool, string, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, task Task, output string) (bool, string, error) {
	return f(ctx, task, output)
}

// Crew 是可复用的团队模板，构建后只读，可并发 Kickoff.
type Crew struct {
	id      string
	name    string
	verbose bool

	agents     []*Agent
	agentIndex map[string]*Agent
	graph      *TaskGraph
	process    Process
	manager    *Agent
	cfg        ProcessConfig

	completer llm.Completer
	approver  Approver
	listeners []Listener

	// 持久记忆后端，按 agent id 隔离；运行期记忆每次 Kickoff 单独分配
	sharedMemory memory.Backend
	memoryIndex  memory.VectorIndex
	embedder     llm.Embedder
	extractor    memory.EntityExtractor

	tracer trace.Tracer
	logger *zap.Logger
}

func (c *Crew) ID() string            { return c.id }
func (c *Crew) Name() string          { return c.name }
func (c *Crew) Process() Process      { return c.process }
func (c *Crew) Graph() *TaskGraph     { return c.graph }
func (c *Crew) Config() ProcessConfig { return c.cfg }

// Agents returns the crew's agents in declaration order.
func (c *Crew) Agents() []*Agent { return append([]*Agent(nil), c.agents...) }

// Agent looks up an agent by id.
func (c *Crew) Agent(id string) (*Agent, bool) {
	a, ok := c.agentIndex[id]
	return a, ok
}

// Manager returns the hierarchical coordinator, nil for other processes.
func (c *Crew) Manager() *Agent { return c.manager }

// Kickoff 执行一次完整运行. inputs 替换任务文本中的 {key} 占位符.
//
// 单个任务的失败只体现在 CrewResult 中（Success=false），返回的 error
// 仅在调用方取消（CANCELLED）或整次运行超时（TASK_TIMEOUT）时非 nil，
// 此时 CrewResult 依然包含全部任务记录.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*CrewResult, error) {
	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)

	runCtx := ctx
	if c.cfg.CrewTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, c.cfg.CrewTimeout, errCrewTimeout)
		defer cancel()
	}

	runCtx, span := c.tracer.Start(runCtx, "crew.kickoff",
		trace.WithAttributes(
			attribute.String("crew.id", c.id),
			attribute.String("crew.run_id", runID),
			attribute.String("crew.process", string(c.process.Kind())),
			attribute.Int("crew.tasks", c.graph.Len()),
		),
	)
	defer span.End()

	logger := c.logger.With(zap.String("run_id", runID))
	logger.Info("crew kickoff",
		zap.String("process", string(c.process.Kind())),
		zap.Int("tasks", c.graph.Len()),
		zap.Int("agents", len(c.agents)),
	)

	r := newRun(c, runID, inputs, logger)
	r.emit(func(l Listener) {
		l.OnCrewStart(CrewEvent{RunID: runID, CrewID: c.id, Process: c.process.Kind(), Tasks: c.graph.Len()})
	})

	r.execute(runCtx)
	result := r.result()

	switch {
	case errors.Is(context.Cause(runCtx), errCrewTimeout):
		result.Err = types.Errorf(types.ErrTaskTimeout, "crew %s exceeded timeout %s", c.id, c.cfg.CrewTimeout).
			WithCause(context.DeadlineExceeded)
		result.Status = RunFailed
	case ctx.Err() != nil:
		result.Err = types.NewError(types.ErrCancelled, "crew run cancelled").WithCause(context.Cause(ctx))
		result.Status = RunCancelled
	}
	if result.Err != nil {
		result.Success = false
		result.Error = result.Err.Error()
		span.RecordError(result.Err)
	}
	if result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(result.Status))
	}

	logger.Info("crew finished",
		zap.String("status", string(result.Status)),
		zap.Int("succeeded", result.Stats.Succeeded),
		zap.Int("failed", result.Stats.Failed),
		zap.Int("skipped", result.Stats.Skipped),
		zap.Int("aborted", result.Stats.Aborted),
		zap.Int("cancelled", result.Stats.Cancelled),
		zap.Duration("duration", result.Stats.TotalTime),
	)
	r.emit(func(l Listener) { l.OnCrewComplete(result) })

	return result, result.Err
}

// Builder 以链式调用构建 Crew，错误在 Build 时统一返回.
type Builder struct {
	id        string
	name      string
	verbose   bool
	agents    []AgentConfig
	tasks     []Task
	process   Process
	cfg       ProcessConfig
	completer llm.Completer
	approver  Approver
	listeners []Listener
	backend   memory.Backend
	index     memory.VectorIndex
	embedder  llm.Embedder
	extractor memory.EntityExtractor
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewBuilder 创建构建器
func NewBuilder(id string) *Builder {
	return &Builder{id: id, process: Sequential{}, cfg: DefaultProcessConfig()}
}

func (b *Builder) Name(name string) *Builder          { b.name = name; return b }
func (b *Builder) Verbose(v bool) *Builder            { b.verbose = v; return b }
func (b *Builder) Agent(cfg AgentConfig) *Builder     { b.agents = append(b.agents, cfg); return b }
func (b *Builder) Task(t Task) *Builder               { b.tasks = append(b.tasks, t.clone()); return b }
func (b *Builder) Process(p Process) *Builder         { b.process = p; return b }
func (b *Builder) Completer(c llm.Completer) *Builder { b.completer = c; return b }
func (b *Builder) Approver(a Approver) *Builder       { b.approver = a; return b }
func (b *Builder) Listener(l Listener) *Builder       { b.listeners = append(b.listeners, l); return b }
func (b *Builder) Tracer(t trace.Tracer) *Builder     { b.tracer = t; return b }
func (b *Builder) Logger(l *zap.Logger) *Builder      { b.logger = l; return b }

// ProcessConfig 设置运行策略，零值字段使用默认值
func (b *Builder) ProcessConfig(cfg ProcessConfig) *Builder {
	b.cfg = cfg
	return b
}

// MemoryBackend 设置持久记忆的共享后端（LongTerm/Entity/Episodic 且 Persist 的智能体）
func (b *Builder) MemoryBackend(backend memory.Backend) *Builder {
	b.backend = backend
	return b
}

// VectorIndex 设置持久记忆的向量索引
func (b *Builder) VectorIndex(index memory.VectorIndex) *Builder {
	b.index = index
	return b
}

// Embedder 设置 use_embeddings 所需的向量化能力
func (b *Builder) Embedder(e llm.Embedder) *Builder {
	b.embedder = e
	return b
}

// EntityExtractor 替换默认的实体抽取器
func (b *Builder) EntityExtractor(x memory.EntityExtractor) *Builder {
	b.extractor = x
	return b
}

// Build 校验并构建 Crew
func (b *Builder) Build() (*Crew, error) {
	if b.id == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "crew id is required")
	}
	if b.completer == nil {
		return nil, types.Errorf(types.ErrInvalidConfig, "crew %s: completer is required", b.id)
	}
	if b.process == nil {
		b.process = Sequential{}
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	c := &Crew{
		id:          b.id,
		name:        b.name,
		verbose:     b.verbose,
		agentIndex:  make(map[string]*Agent, len(b.agents)),
		process:     b.process,
		cfg:         b.cfg.withDefaults(),
		completer:   b.completer,
		approver:    b.approver,
		listeners:   append([]Listener(nil), b.listeners...),
		memoryIndex: b.index,
		embedder:    b.embedder,
		extractor:   b.extractor,
		tracer:      tracer,
		logger:      logger.With(zap.String("component", "crew"), zap.String("crew_id", b.id)),
	}
	if c.name == "" {
		c.name = b.id
	}

	for _, cfg := range b.agents {
		a, err := NewAgent(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := c.agentIndex[a.ID()]; dup {
			return nil, types.Errorf(types.ErrDuplicateID, "crew %s: duplicate agent id %q", b.id, a.ID())
		}
		c.agents = append(c.agents, a)
		c.agentIndex[a.ID()] = a
	}

	graph, err := NewTaskGraph(b.tasks)
	if err != nil {
		return nil, err
	}
	for _, t := range graph.tasks {
		if _, ok := c.agentIndex[t.AgentID]; !ok {
			return nil, types.Errorf(types.ErrUnknownAgentReference,
				"crew %s: task %q assigned to undeclared agent %q", b.id, t.ID, t.AgentID)
		}
	}
	c.graph = graph

	switch p := b.process.(type) {
	case Sequential:
	case Parallel:
		if p.MaxConcurrency < 0 {
			return nil, types.Errorf(types.ErrInvalidConfig, "crew %s: max concurrency must be >= 0", b.id)
		}
	case Hierarchical:
		manager, err := c.resolveManager(p.Manager)
		if err != nil {
			return nil, err
		}
		c.manager = manager
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "crew %s: unsupported process %T", b.id, b.process)
	}

	maxItems := 0
	for _, a := range c.agents {
		m := a.Memory()
		if m.Enabled() && !m.RunScoped() && m.Limit() > maxItems {
			maxItems = m.Limit()
		}
	}
	if maxItems > 0 {
		c.sharedMemory = b.backend
		if c.sharedMemory == nil {
			c.sharedMemory = memory.NewInMemoryBackend(memory.InMemoryBackendConfig{MaxItemsPerAgent: maxItems}, logger)
		}
	}

	return c, nil
}

func (c *Crew) resolveManager(explicit string) (*Agent, error) {
	if explicit != "" {
		a, ok := c.agentIndex[explicit]
		if !ok {
			return nil, types.Errorf(types.ErrUnknownAgentReference,
				"crew %s: manager %q is not a declared agent", c.id, explicit)
		}
		return a, nil
	}
	for _, a := range c.agents {
		if a.AllowDelegation() {
			return a, nil
		}
	}
	return nil, types.Errorf(types.ErrNoManagerAgent,
		"crew %s: hierarchical process needs an agent with allow_delegation or an explicit manager", c.id)
}
