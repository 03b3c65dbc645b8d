package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/crewflow/workflow"

// DefaultMaxSteps 是单次运行最多进入状态的次数
const DefaultMaxSteps = 1000

// State 是 Flow 中的一个节点
type State struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	CrewID      string         `yaml:"crew,omitempty" json:"crew_id,omitempty"`
	Initial     bool           `yaml:"initial,omitempty" json:"initial,omitempty"`
	Final       bool           `yaml:"final,omitempty" json:"final,omitempty"`
	Timeout     time.Duration  `yaml:"timeout,omitempty" json:"timeout,omitempty"` // 限制该状态上 Crew 的执行时间, 0 表示不限
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Transition 是带条件的有向边. Priority 越大越先被选中.
type Transition struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Condition   Condition `json:"-"`
	Priority    int       `json:"priority"`
	Description string    `json:"description,omitempty"`
}

// CrewRunner 是 Flow 对 Crew 的唯一依赖, *crews.Crew 实现了它
type CrewRunner interface {
	Kickoff(ctx context.Context, inputs map[string]string) (*crews.CrewResult, error)
}

var _ CrewRunner = (*crews.Crew)(nil)

// StateHook 在状态的 Crew 结束后、选择转移前调用, 可通过 RunContext 写入变量.
type StateHook func(ctx context.Context, rc *RunContext, state State, result *crews.CrewResult)

// Flow 是构建完成的不可变状态机, 可以并发运行多次.
type Flow struct {
	id          string
	name        string
	description string

	states     []State
	stateIndex map[string]int
	initial    string
	// outgoing 中的转移已按优先级降序、声明顺序稳定排列
	outgoing map[string][]Transition

	crews     map[string]CrewRunner
	listeners []Listener
	hooks     []StateHook
	maxSteps  int

	tracer trace.Tracer
	logger *zap.Logger
}

func (f *Flow) ID() string           { return f.id }
func (f *Flow) Name() string         { return f.name }
func (f *Flow) Description() string  { return f.description }
func (f *Flow) InitialState() string { return f.initial }
func (f *Flow) MaxSteps() int        { return f.maxSteps }

// States returns the states in declaration order.
func (f *Flow) States() []State { return append([]State(nil), f.states...) }

// State looks up a state by id.
func (f *Flow) State(id string) (State, bool) {
	i, ok := f.stateIndex[id]
	if !ok {
		return State{}, false
	}
	return f.states[i], true
}

// Transitions returns the outgoing transitions of a state in evaluation order.
func (f *Flow) Transitions(from string) []Transition {
	return append([]Transition(nil), f.outgoing[from]...)
}

// next 选出第一个条件成立的转移
func (f *Flow) next(from string, in Evaluation) (Transition, bool) {
	for _, t := range f.outgoing[from] {
		if Evaluate(t.Condition, in) {
			return t, true
		}
	}
	return Transition{}, false
}

// FlowBuilder 以链式调用构建 Flow, 错误在 Build 时统一返回.
type FlowBuilder struct {
	id          string
	name        string
	description string
	states      []State
	transitions []Transition
	crewIDs     []string
	crews       map[string]CrewRunner
	dupCrews    []string
	listeners   []Listener
	hooks       []StateHook
	maxSteps    int
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewFlowBuilder starts a flow definition.
func NewFlowBuilder(id string) *FlowBuilder {
	return &FlowBuilder{id: id, crews: make(map[string]CrewRunner)}
}

func (b *FlowBuilder) Name(name string) *FlowBuilder      { b.name = name; return b }
func (b *FlowBuilder) Description(d string) *FlowBuilder  { b.description = d; return b }
func (b *FlowBuilder) State(s State) *FlowBuilder         { b.states = append(b.states, s); return b }
func (b *FlowBuilder) Hook(h StateHook) *FlowBuilder      { b.hooks = append(b.hooks, h); return b }
func (b *FlowBuilder) MaxSteps(n int) *FlowBuilder        { b.maxSteps = n; return b }
func (b *FlowBuilder) Tracer(t trace.Tracer) *FlowBuilder { b.tracer = t; return b }
func (b *FlowBuilder) Logger(l *zap.Logger) *FlowBuilder  { b.logger = l; return b }

func (b *FlowBuilder) Transition(t Transition) *FlowBuilder {
	b.transitions = append(b.transitions, t)
	return b
}

func (b *FlowBuilder) Listener(l Listener) *FlowBuilder {
	b.listeners = append(b.listeners, l)
	return b
}

// Crew 注册一个可被状态引用的 Crew
func (b *FlowBuilder) Crew(id string, c CrewRunner) *FlowBuilder {
	if _, dup := b.crews[id]; dup {
		b.dupCrews = append(b.dupCrews, id)
		return b
	}
	b.crewIDs = append(b.crewIDs, id)
	b.crews[id] = c
	return b
}

// Build validates the definition.
func (b *FlowBuilder) Build() (*Flow, error) {
	if strings.TrimSpace(b.id) == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "flow id is required")
	}
	if b.maxSteps < 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "flow %s: max steps must be >= 0", b.id)
	}
	if len(b.dupCrews) > 0 {
		return nil, types.Errorf(types.ErrDuplicateID, "flow %s: duplicate crew id %q", b.id, b.dupCrews[0])
	}
	for _, id := range b.crewIDs {
		if id == "" || b.crews[id] == nil {
			return nil, types.Errorf(types.ErrInvalidConfig, "flow %s: crew %q must have an id and a runner", b.id, id)
		}
	}
	if len(b.states) == 0 {
		return nil, types.Errorf(types.ErrInvalidFlow, "flow %s has no states", b.id)
	}

	f := &Flow{
		id:          b.id,
		name:        b.name,
		description: b.description,
		stateIndex:  make(map[string]int, len(b.states)),
		outgoing:    make(map[string][]Transition),
		crews:       make(map[string]CrewRunner, len(b.crews)),
		listeners:   append([]Listener(nil), b.listeners...),
		hooks:       append([]StateHook(nil), b.hooks...),
		maxSteps:    b.maxSteps,
	}
	if f.name == "" {
		f.name = b.id
	}
	if f.maxSteps == 0 {
		f.maxSteps = DefaultMaxSteps
	}
	for id, c := range b.crews {
		f.crews[id] = c
	}

	var initial []string
	for _, s := range b.states {
		if strings.TrimSpace(s.ID) == "" {
			return nil, types.Errorf(types.ErrInvalidFlow, "flow %s: state id is required", b.id)
		}
		if _, dup := f.stateIndex[s.ID]; dup {
			return nil, types.Errorf(types.ErrDuplicateID, "flow %s: duplicate state id %q", b.id, s.ID)
		}
		if s.Timeout < 0 {
			return nil, types.Errorf(types.ErrInvalidFlow, "flow %s: state %q has a negative timeout", b.id, s.ID)
		}
		if s.CrewID != "" {
			if _, ok := f.crews[s.CrewID]; !ok {
				return nil, types.Errorf(types.ErrUnknownCrewReference,
					"flow %s: state %q binds unregistered crew %q", b.id, s.ID, s.CrewID)
			}
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Initial {
			initial = append(initial, s.ID)
		}
		f.stateIndex[s.ID] = len(f.states)
		f.states = append(f.states, s)
	}
	switch len(initial) {
	case 1:
		f.initial = initial[0]
	case 0:
		return nil, types.Errorf(types.ErrInvalidFlow, "flow %s has no initial state", b.id)
	default:
		return nil, types.Errorf(types.ErrInvalidFlow,
			"flow %s must have exactly one initial state, found %s", b.id, strings.Join(initial, ", "))
	}

	seen := make(map[string]bool, len(b.transitions))
	for _, t := range b.transitions {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.ID] {
			return nil, types.Errorf(types.ErrDuplicateID, "flow %s: duplicate transition id %q", b.id, t.ID)
		}
		seen[t.ID] = true
		if _, ok := f.stateIndex[t.From]; !ok {
			return nil, types.Errorf(types.ErrInvalidFlow,
				"flow %s: transition %s leaves undeclared state %q", b.id, t.ID, t.From)
		}
		if _, ok := f.stateIndex[t.To]; !ok {
			return nil, types.Errorf(types.ErrInvalidFlow,
				"flow %s: transition %s enters undeclared state %q", b.id, t.ID, t.To)
		}
		if err := ValidateCondition(t.Condition); err != nil {
			return nil, types.Errorf(types.ErrInvalidFlow,
				"flow %s: transition %s: %v", b.id, t.ID, err).WithCause(err)
		}
		if t.Condition == nil {
			t.Condition = Always{}
		}
		f.outgoing[t.From] = append(f.outgoing[t.From], t)
	}
	for _, ts := range f.outgoing {
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].Priority > ts[j].Priority })
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f.logger = logger.With(zap.String("component", "flow"), zap.String("flow_id", b.id))
	f.tracer = b.tracer
	if f.tracer == nil {
		f.tracer = otel.Tracer(tracerName)
	}
	return f, nil
}
