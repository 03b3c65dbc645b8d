package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
	"github.com/BaSui01/crewflow/workflow"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Bundle 是一个文档构建出的全部对象
type Bundle struct {
	Document  *Document
	Crews     map[string]*crews.Crew
	Flows     map[string]*workflow.Flow
	CrewOrder []string
	FlowOrder []string
}

// Crew looks up a built crew.
func (b *Bundle) Crew(id string) (*crews.Crew, bool) {
	c, ok := b.Crews[id]
	return c, ok
}

// Flow looks up a built flow.
func (b *Bundle) Flow(id string) (*workflow.Flow, bool) {
	f, ok := b.Flows[id]
	return f, ok
}

// Parser DSL 解析器
type Parser struct {
	completer llm.Completer
	inputs    map[string]string
	defaults  Defaults
	logger    *zap.Logger
	// crewOptions / flowOptions 在 Build 前作用于每个构建器
	crewOptions []func(*crews.Builder)
	flowOptions []func(*workflow.FlowBuilder)
}

// Option 配置 Parser
type Option func(*Parser)

// WithInputs 提供 {var} 占位符的值, 覆盖文档中的默认值
func WithInputs(inputs map[string]string) Option {
	return func(p *Parser) { p.inputs = inputs }
}

// Defaults 是文档未设置相应字段时使用的引擎默认值.
// RetryFailed 无法区分未设置与 false, 两者任一为 true 即开启重试.
type Defaults struct {
	Model         string
	Process       string
	MaxParallel   int
	FailurePolicy string
	RetryFailed   bool
	MaxRetries    int
	RetryInterval time.Duration
	CrewTimeout   time.Duration
	MaxSteps      int
	// MemoryTTL 作用于启用记忆但未设置 ttl 的智能体
	MemoryTTL time.Duration
}

// WithDefaults 设置引擎默认值
func WithDefaults(d Defaults) Option {
	return func(p *Parser) { p.defaults = d }
}

// WithLogger 设置构建出的 Crew 与 Flow 使用的 logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// WithCrewOption 对每个 Crew 构建器追加配置, 例如记忆后端或监听器
func WithCrewOption(fn func(*crews.Builder)) Option {
	return func(p *Parser) { p.crewOptions = append(p.crewOptions, fn) }
}

// WithFlowOption 对每个 Flow 构建器追加配置
func WithFlowOption(fn func(*workflow.FlowBuilder)) Option {
	return func(p *Parser) { p.flowOptions = append(p.flowOptions, fn) }
}

// NewParser 创建 DSL 解析器. completer 驱动所有构建出的 Crew.
func NewParser(completer llm.Completer, opts ...Option) *Parser {
	p := &Parser{completer: completer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Decode 把 YAML 解码为 Document, 未知字段视为错误
func Decode(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, types.NewError(types.ErrInvalidConfig, "dsl: document is empty")
		}
		return nil, types.NewError(types.ErrInvalidConfig, "dsl: parse YAML").WithCause(err)
	}
	return &doc, nil
}

// ParseFile 从文件解析并构建
func (p *Parser) ParseFile(filename string) (*Bundle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 解码、校验并构建文档中的全部 Crew 与 Flow
func (p *Parser) Parse(data []byte) (*Bundle, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Build(doc)
}

// ParseCrews 只返回文档中的 Crew
func (p *Parser) ParseCrews(data []byte) (map[string]*crews.Crew, error) {
	b, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	return b.Crews, nil
}

// ParseFlow 返回指定 Flow; flowID 为空时文档必须恰好定义一个 Flow
func (p *Parser) ParseFlow(data []byte, flowID string) (*workflow.Flow, error) {
	b, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	if flowID == "" {
		if len(b.FlowOrder) != 1 {
			return nil, types.Errorf(types.ErrInvalidConfig, "dsl: expected exactly one flow, found %d", len(b.FlowOrder))
		}
		flowID = b.FlowOrder[0]
	}
	f, ok := b.Flows[flowID]
	if !ok {
		return nil, types.Errorf(types.ErrInvalidConfig, "dsl: flow %q not found", flowID)
	}
	return f, nil
}

// Build 校验文档并构建对象. 校验失败返回 INVALID_CONFIG, Cause 为 ValidationErrors.
func (p *Parser) Build(doc *Document) (*Bundle, error) {
	if errs := NewValidator(p.inputs).Validate(doc); len(errs) > 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "dsl: %d validation errors", len(errs)).WithCause(errs)
	}

	vars := p.resolveVariables(doc.Variables)
	agents := make(map[string]AgentDef, len(doc.Agents))
	for _, a := range doc.Agents {
		agents[a.ID] = a
	}
	tasks := make(map[string]TaskDef, len(doc.Tasks))
	for _, t := range doc.Tasks {
		tasks[t.ID] = t
	}

	b := &Bundle{
		Document: doc,
		Crews:    make(map[string]*crews.Crew, len(doc.Crews)),
		Flows:    make(map[string]*workflow.Flow, len(doc.Flows)),
	}
	for _, def := range doc.Crews {
		crew, err := p.buildCrew(def, agents, tasks, vars)
		if err != nil {
			return nil, fmt.Errorf("build crew %s: %w", def.ID, err)
		}
		b.Crews[def.ID] = crew
		b.CrewOrder = append(b.CrewOrder, def.ID)
	}
	for _, def := range doc.Flows {
		flow, err := p.buildFlow(def, b.Crews, vars)
		if err != nil {
			return nil, fmt.Errorf("build flow %s: %w", def.ID, err)
		}
		b.Flows[def.ID] = flow
		b.FlowOrder = append(b.FlowOrder, def.ID)
	}

	p.logger.Debug("dsl document built",
		zap.String("name", doc.Name),
		zap.Int("crews", len(b.Crews)),
		zap.Int("flows", len(b.Flows)),
	)
	return b, nil
}

// resolveVariables 文档默认值 + 调用方输入
func (p *Parser) resolveVariables(defs map[string]VariableDef) map[string]string {
	vars := make(map[string]string, len(defs)+len(p.inputs))
	for name, def := range defs {
		if def.Default != "" {
			vars[name] = def.Default
		}
	}
	for k, v := range p.inputs {
		vars[k] = v
	}
	return vars
}

// interpolate 替换已知的 {var}, 其余占位符保留给运行时输入
func interpolate(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func (p *Parser) buildCrew(def CrewDef, agents map[string]AgentDef, tasks map[string]TaskDef, vars map[string]string) (*crews.Crew, error) {
	d := p.defaults
	process, err := crews.ParseProcess(firstNonEmpty(def.Process, d.Process))
	if err != nil {
		return nil, err
	}
	switch proc := process.(type) {
	case crews.Parallel:
		proc.MaxConcurrency = def.MaxParallel
		if proc.MaxConcurrency == 0 {
			proc.MaxConcurrency = d.MaxParallel
		}
		process = proc
	case crews.Hierarchical:
		proc.Manager = def.Manager
		process = proc
	}

	cfg := crews.ProcessConfig{
		FailurePolicy: crews.FailurePolicy(firstNonEmpty(def.FailurePolicy, d.FailurePolicy)),
		RetryFailed:   def.RetryFailed || d.RetryFailed,
		MaxRetries:    def.MaxRetries,
		RetryInterval: mustDuration(def.RetryInterval),
		CrewTimeout:   mustDuration(def.Timeout),
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = d.RetryInterval
	}
	if cfg.CrewTimeout == 0 {
		cfg.CrewTimeout = d.CrewTimeout
	}

	b := crews.NewBuilder(def.ID).
		Name(interpolate(def.Name, vars)).
		Verbose(def.Verbose).
		Process(process).
		ProcessConfig(cfg).
		Completer(p.completer).
		Logger(p.logger)

	for _, id := range crewAgents(def, tasks) {
		a := agentConfig(agents[id], vars)
		if a.Model == "" {
			a.Model = d.Model
		}
		if a.Memory.Enabled() && a.Memory.TTL == 0 {
			a.Memory.TTL = d.MemoryTTL
		}
		b.Agent(a)
	}
	for _, id := range def.Tasks {
		b.Task(taskDefinition(tasks[id], vars))
	}
	for _, opt := range p.crewOptions {
		opt(b)
	}
	return b.Build()
}

func agentConfig(a AgentDef, vars map[string]string) crews.AgentConfig {
	cfg := crews.AgentConfig{
		ID:               a.ID,
		Role:             interpolate(a.Role, vars),
		Goal:             interpolate(a.Goal, vars),
		Backstory:        interpolate(a.Backstory, vars),
		Model:            a.Model,
		Temperature:      a.Temperature,
		Tools:            a.Tools,
		AllowDelegation:  a.AllowDelegation,
		Verbose:          a.Verbose,
		MaxIterations:    a.MaxIterations,
		MaxExecutionTime: mustDuration(a.MaxExecutionTime),
	}
	if a.Memory != nil {
		cfg.Memory = memory.Config{
			Policy:        memory.Policy(a.Memory.Policy),
			MaxItems:      a.Memory.MaxItems,
			UseEmbeddings: a.Memory.UseEmbeddings,
			TTL:           mustDuration(a.Memory.TTL),
			Persist:       a.Memory.Persist,
		}
	}
	return cfg
}

func taskDefinition(t TaskDef, vars map[string]string) crews.Task {
	return crews.Task{
		ID:                  t.ID,
		Name:                interpolate(t.Name, vars),
		Description:         interpolate(t.Description, vars),
		ExpectedOutput:      interpolate(t.ExpectedOutput, vars),
		AgentID:             t.Agent,
		DependsOn:           t.DependsOn,
		Timeout:             mustDuration(t.Timeout),
		HumanInput:          t.HumanInput,
		Tools:               t.Tools,
		ContextInstructions: interpolate(t.Context, vars),
		ExcludeFromOutput:   t.IncludeInOutput != nil && !*t.IncludeInOutput,
		MaxRetries:          t.MaxRetries,
	}
}

func (p *Parser) buildFlow(def FlowDef, built map[string]*crews.Crew, vars map[string]string) (*workflow.Flow, error) {
	maxSteps := def.MaxSteps
	if maxSteps == 0 {
		maxSteps = p.defaults.MaxSteps
	}
	b := workflow.NewFlowBuilder(def.ID).
		Name(interpolate(def.Name, vars)).
		Description(interpolate(def.Description, vars)).
		MaxSteps(maxSteps).
		Logger(p.logger)

	registered := make(map[string]bool)
	for _, s := range def.States {
		if s.Crew != "" && !registered[s.Crew] {
			registered[s.Crew] = true
			b.Crew(s.Crew, built[s.Crew])
		}
		b.State(workflow.State{
			ID:          s.ID,
			Name:        interpolate(s.Name, vars),
			Description: interpolate(s.Description, vars),
			CrewID:      s.Crew,
			Initial:     s.Initial,
			Final:       s.Final,
			Timeout:     mustDuration(s.Timeout),
			Metadata:    s.Metadata,
		})
	}
	for _, t := range def.Transitions {
		cond, err := ParseCondition(t.When)
		if err != nil {
			return nil, types.Errorf(types.ErrInvalidFlow, "transition %s -> %s: %v", t.From, t.To, err)
		}
		b.Transition(workflow.Transition{
			ID:          t.ID,
			From:        t.From,
			To:          t.To,
			Condition:   cond,
			Priority:    t.Priority,
			Description: t.Description,
		})
	}
	for _, opt := range p.flowOptions {
		opt(b)
	}
	return b.Build()
}

// mustDuration 只用于已经过校验的字段
func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
