package dsl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/testutil/mocks"
	"github.com/BaSui01/crewflow/types"
	"github.com/BaSui01/crewflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 测试文档
// =============================================================================

const reviewDoc = `
version: "1"
name: review-pipeline
variables:
  topic:
    default: "Go generics"
  audience:
    required: true
agents:
  - id: writer
    role: "Writer for {audience}"
    goal: "Write about {topic}"
    temperature: 0.3
    max_execution_time: 30s
    memory:
      policy: short_term
      max_items: 5
  - id: reviewer
    role: Reviewer
    goal: Review drafts
tasks:
  - id: draft
    description: "Draft an article about {topic}"
    expected_output: An article
    agent: writer
  - id: review
    description: "Review the draft for {audience}. Reply APPROVED or REJECTED."
    agent: reviewer
    depends_on: [draft]
    include_in_output: true
    timeout: 10s
crews:
  - id: writing
    process: sequential
    failure_policy: abort
    retry_interval: 500ms
    tasks: [draft, review]
  - id: fixing
    tasks: [draft]
flows:
  - id: publish
    max_steps: 20
    states:
      - id: write
        crew: writing
        initial: true
      - id: fix
        crew: fixing
      - id: done
        final: true
    transitions:
      - from: write
        to: done
        when: 'success && output_contains("APPROVED")'
        priority: 10
      - from: write
        to: fix
      - from: fix
        to: done
`

func newTestParser(t *testing.T, completer *mocks.MockCompleter, opts ...Option) *Parser {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewParser(completer, opts...)
}

// =============================================================================
// 🔧 解码与构建
// =============================================================================

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte("version: \"1\"\nagnets: []\n"))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	_, err = Decode([]byte(""))
	require.Error(t, err)
}

func TestParser_BuildsCrewsAndFlows(t *testing.T) {
	p := newTestParser(t, mocks.NewSuccessCompleter("ok"), WithInputs(map[string]string{"audience": "gophers"}))

	b, err := p.Parse([]byte(reviewDoc))
	require.NoError(t, err)
	assert.Equal(t, []string{"writing", "fixing"}, b.CrewOrder)
	assert.Equal(t, []string{"publish"}, b.FlowOrder)

	writing, ok := b.Crew("writing")
	require.True(t, ok)
	assert.Equal(t, crews.FailAbort, writing.Config().FailurePolicy)
	assert.Equal(t, 500*time.Millisecond, writing.Config().RetryInterval)
	assert.Equal(t, crews.Sequential{}, writing.Process())

	writer, ok := writing.Agent("writer")
	require.True(t, ok)
	assert.Equal(t, "Writer for gophers", writer.Role())
	assert.Equal(t, "Write about Go generics", writer.Goal())
	assert.Equal(t, 0.3, writer.Temperature())
	assert.Equal(t, 30*time.Second, writer.MaxExecutionTime())
	assert.Equal(t, memory.ShortTerm, writer.Memory().Policy)
	assert.Equal(t, 5, writer.Memory().MaxItems)

	review, ok := writing.Graph().Task("review")
	require.True(t, ok)
	assert.Equal(t, "Review the draft for gophers. Reply APPROVED or REJECTED.", review.Description)
	assert.Equal(t, 10*time.Second, review.Timeout)
	assert.False(t, review.ExcludeFromOutput)

	// fixing 没有显式 agents, 从任务推导
	fixing, _ := b.Crew("fixing")
	assert.Len(t, fixing.Agents(), 1)

	flow, ok := b.Flow("publish")
	require.True(t, ok)
	assert.Equal(t, "write", flow.InitialState())
	assert.Equal(t, 20, flow.MaxSteps())
	out := flow.Transitions("write")
	require.Len(t, out, 2)
	assert.Equal(t, "done", out[0].To)
	assert.Equal(t, workflow.Always{}, out[1].Condition)
}

func TestParser_UnresolvedPlaceholdersKeptForRuntime(t *testing.T) {
	doc := `
agents:
  - id: a
    role: R
    goal: G
tasks:
  - id: t
    description: "Summarize {subject}"
    agent: a
crews:
  - id: c
    tasks: [t]
`
	completer := mocks.NewSuccessCompleter("summary")
	p := newTestParser(t, completer)
	cs, err := p.ParseCrews([]byte(doc))
	require.NoError(t, err)

	task, _ := cs["c"].Graph().Task("t")
	assert.Equal(t, "Summarize {subject}", task.Description)

	res, err := cs["c"].Kickoff(context.Background(), map[string]string{"subject": "the news"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, completer.PromptsContaining("Summarize the news"))
}

func TestParser_ValidationFailureReportsEverything(t *testing.T) {
	doc := `
agents:
  - id: a
    role: R
    goal: G
    temperature: 3
tasks:
  - id: t1
    description: first
    agent: ghost
  - id: t2
    description: second
    agent: a
    depends_on: [t3]
crews:
  - id: c
    process: round_robin
    tasks: [t1, t2]
flows:
  - id: f
    states:
      - id: s
        crew: missing
    transitions:
      - from: s
        to: nowhere
        when: "maybe"
`
	p := newTestParser(t, mocks.NewSuccessCompleter("x"), WithInputs(nil))
	_, err := p.Parse([]byte(doc))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	paths := make([]string, 0, len(verrs))
	for _, e := range verrs {
		paths = append(paths, e.Path)
	}
	joined := strings.Join(paths, " ")
	for _, want := range []string{
		"agents.a.temperature",
		"tasks.t1.agent",
		"tasks.t2.depends_on",
		"crews.c.process",
		"flows.f.states.s.crew",
		"flows.f.transitions[0].to",
		"flows.f.transitions[0].when",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestParser_RequiredVariable(t *testing.T) {
	p := newTestParser(t, mocks.NewSuccessCompleter("x"))
	_, err := p.Parse([]byte(reviewDoc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audience")
}

// =============================================================================
// 🚀 端到端运行
// =============================================================================

func TestParser_RunFlowFromYAML(t *testing.T) {
	completer := mocks.NewMockCompleter().
		On("Review the draft", "REJECTED: too short").
		WithResponse("draft text")
	p := newTestParser(t, completer, WithInputs(map[string]string{"audience": "gophers"}))

	flow, err := p.ParseFlow([]byte(reviewDoc), "")
	require.NoError(t, err)

	res, err := flow.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"write", "fix", "done"}, res.Visited)
	assert.Equal(t, workflow.FlowSucceeded, res.Status)
	assert.Equal(t, 2, res.Stats.CrewsExecuted)
}

func TestParser_ParseFlowByID(t *testing.T) {
	p := newTestParser(t, mocks.NewSuccessCompleter("x"), WithInputs(map[string]string{"audience": "a"}))

	_, err := p.ParseFlow([]byte(reviewDoc), "nope")
	require.Error(t, err)

	f, err := p.ParseFlow([]byte(reviewDoc), "publish")
	require.NoError(t, err)
	assert.Equal(t, "publish", f.ID())
}

func TestParser_OptionsApplyToEveryBuilder(t *testing.T) {
	var crewCalls, flowCalls int
	p := newTestParser(t, mocks.NewSuccessCompleter("x"),
		WithInputs(map[string]string{"audience": "a"}),
		WithCrewOption(func(*crews.Builder) { crewCalls++ }),
		WithFlowOption(func(*workflow.FlowBuilder) { flowCalls++ }),
	)
	_, err := p.Parse([]byte(reviewDoc))
	require.NoError(t, err)
	assert.Equal(t, 2, crewCalls)
	assert.Equal(t, 1, flowCalls)
}

func TestParser_ParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reviewDoc), 0o600))

	p := newTestParser(t, mocks.NewSuccessCompleter("x"), WithInputs(map[string]string{"audience": "a"}))
	b, err := p.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "review-pipeline", b.Document.Name)

	_, err = p.ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParser_HierarchicalAndParallel(t *testing.T) {
	doc := `
agents:
  - id: boss
    role: Manager
    goal: Delegate
    allow_delegation: true
  - id: a
    role: Worker
    goal: Work
tasks:
  - id: t1
    description: one
    agent: a
  - id: t2
    description: two
    agent: a
crews:
  - id: h
    process: hierarchical
    manager: boss
    tasks: [t1]
  - id: p
    process: parallel
    max_parallel: 2
    tasks: [t1, t2]
`
	cs, err := newTestParser(t, mocks.NewSuccessCompleter("a")).ParseCrews([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, crews.Hierarchical{Manager: "boss"}, cs["h"].Process())
	require.NotNil(t, cs["h"].Manager())
	assert.Equal(t, "boss", cs["h"].Manager().ID())
	assert.Equal(t, crews.Parallel{MaxConcurrency: 2}, cs["p"].Process())
}

func TestParser_WithDefaults(t *testing.T) {
	doc := `
agents:
  - id: a
    role: Worker
    goal: Work
  - id: b
    role: Worker
    goal: Work
    model: claude-3-5-sonnet
    memory:
      policy: short_term
tasks:
  - id: t1
    description: one
    agent: a
  - id: t2
    description: two
    agent: b
crews:
  - id: fallback
    tasks: [t1, t2]
  - id: explicit
    process: sequential
    failure_policy: continue
    max_retries: 5
    tasks: [t1]
flows:
  - id: f
    states:
      - id: s
        crew: fallback
        initial: true
        final: true
`
	p := NewParser(mocks.NewSuccessCompleter("ok"), WithDefaults(Defaults{
		Model:         "gpt-4o",
		Process:       "parallel",
		MaxParallel:   3,
		FailurePolicy: "abort",
		MaxRetries:    4,
		RetryInterval: 2 * time.Second,
		CrewTimeout:   time.Minute,
		MaxSteps:      50,
		MemoryTTL:     time.Hour,
	}))
	bundle, err := p.Parse([]byte(doc))
	require.NoError(t, err)

	fallback, _ := bundle.Crew("fallback")
	assert.Equal(t, crews.Parallel{MaxConcurrency: 3}, fallback.Process())
	cfg := fallback.Config()
	assert.Equal(t, crews.FailAbort, cfg.FailurePolicy)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryInterval)
	assert.Equal(t, time.Minute, cfg.CrewTimeout)

	a, _ := fallback.Agent("a")
	assert.Equal(t, "gpt-4o", a.Model())
	b, _ := fallback.Agent("b")
	assert.Equal(t, "claude-3-5-sonnet", b.Model())
	assert.Equal(t, time.Hour, b.Memory().TTL)
	assert.Zero(t, a.Memory().TTL)

	explicit, _ := bundle.Crew("explicit")
	assert.Equal(t, crews.Sequential{}, explicit.Process())
	assert.Equal(t, crews.FailContinue, explicit.Config().FailurePolicy)
	assert.Equal(t, 5, explicit.Config().MaxRetries)

	flow, _ := bundle.Flow("f")
	assert.Equal(t, 50, flow.MaxSteps())
}
