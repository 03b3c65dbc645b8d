package crews

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BaSui01/crewflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func diamond() []Task {
	return []Task{
		{ID: "plan", AgentID: "a"},
		{ID: "left", AgentID: "a", DependsOn: []string{"plan"}},
		{ID: "right", AgentID: "a", DependsOn: []string{"plan"}},
		{ID: "merge", AgentID: "a", DependsOn: []string{"right", "left"}},
	}
}

func TestNewTaskGraph_Diamond(t *testing.T) {
	g, err := NewTaskGraph(diamond())
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, id := range g.Order() {
		pos[id] = i
	}
	assert.Len(t, pos, 4)
	assert.Less(t, pos["plan"], pos["left"])
	assert.Less(t, pos["plan"], pos["right"])
	assert.Less(t, pos["left"], pos["merge"])
	assert.Less(t, pos["right"], pos["merge"])

	assert.Equal(t, []string{"merge"}, g.Sinks())
	assert.Equal(t, []string{"left", "right"}, g.Successors("plan"))
}

func TestTaskGraph_Ready(t *testing.T) {
	g, err := NewTaskGraph(diamond())
	require.NoError(t, err)

	assert.Equal(t, []string{"plan"}, g.Ready(nil))
	assert.Equal(t, []string{"left", "right"}, g.Ready(map[string]TaskStatus{"plan": TaskCompleted}))
	assert.Equal(t, []string{"right"}, g.Ready(map[string]TaskStatus{
		"plan": TaskCompleted, "left": TaskRunning,
	}))
	// 失败同样是终态，下游进入就绪集合（由执行策略决定跳过）
	assert.Equal(t, []string{"merge"}, g.Ready(map[string]TaskStatus{
		"plan": TaskCompleted, "left": TaskFailed, "right": TaskCompleted,
	}))
	assert.Empty(t, g.Ready(map[string]TaskStatus{
		"plan": TaskCompleted, "left": TaskCompleted, "right": TaskCompleted, "merge": TaskCompleted,
	}))
}

func TestTaskGraph_DependencyContextUsesDeclarationOrder(t *testing.T) {
	g, err := NewTaskGraph(diamond())
	require.NoError(t, err)

	records := map[string]*TaskRecord{
		"plan":  {Status: TaskCompleted, Output: "p"},
		"left":  {Status: TaskCompleted, Output: "L"},
		"right": {Status: TaskCompleted, Output: "R"},
	}
	// merge 声明的是 right, left；上下文按 crew 中的声明顺序 left, right
	ctx := g.DependencyContext("merge", records)
	assert.Equal(t, []DependencyOutput{{TaskID: "left", Output: "L"}, {TaskID: "right", Output: "R"}}, ctx)

	records["left"].Status = TaskFailed
	ctx = g.DependencyContext("merge", records)
	assert.Equal(t, []DependencyOutput{{TaskID: "right", Output: "R"}}, ctx)

	assert.Nil(t, g.DependencyContext("missing", records))
}

func TestNewTaskGraph_Errors(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		code  types.ErrorCode
	}{
		{
			name:  "self dependency",
			tasks: []Task{{ID: "a", DependsOn: []string{"a"}}},
			code:  types.ErrCyclicDependency,
		},
		{
			name: "three cycle",
			tasks: []Task{
				{ID: "a", DependsOn: []string{"c"}},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"b"}},
			},
			code: types.ErrCyclicDependency,
		},
		{
			name:  "unknown reference",
			tasks: []Task{{ID: "a", DependsOn: []string{"ghost"}}},
			code:  types.ErrUnknownTaskReference,
		},
		{
			name:  "duplicate",
			tasks: []Task{{ID: "a"}, {ID: "a"}},
			code:  types.ErrDuplicateID,
		},
		{
			name:  "empty id",
			tasks: []Task{{ID: ""}},
			code:  types.ErrInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewTaskGraph(tt.tasks)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.True(t, types.IsConstructionError(err))
		})
	}
}

func TestNewTaskGraph_CycleMessageNamesPath(t *testing.T) {
	_, err := NewTaskGraph([]Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCyclicDependencyKind))
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestNewTaskGraph_DuplicateDependencyIsIgnored(t *testing.T) {
	g, err := NewTaskGraph([]Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a", "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Order())
	task, ok := g.Task("b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, task.DependsOn)
}

// 构建失败当且仅当存在环或引用了未声明的任务
func TestNewTaskGraph_FailsIffCycleOrUnknownReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		tasks := make([]Task, n)
		for i := range tasks {
			tasks[i].ID = fmt.Sprintf("t%d", i)
			k := rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("deps%d", i))
			for j := 0; j < k; j++ {
				// n 表示未声明的任务
				d := rapid.IntRange(0, n).Draw(t, fmt.Sprintf("dep%d_%d", i, j))
				tasks[i].DependsOn = append(tasks[i].DependsOn, fmt.Sprintf("t%d", d))
			}
		}

		unknown := false
		for _, task := range tasks {
			for _, d := range task.DependsOn {
				if d == fmt.Sprintf("t%d", n) {
					unknown = true
				}
			}
		}
		cyclic := !unknown && hasCycle(tasks)

		_, err := NewTaskGraph(tasks)
		switch {
		case unknown:
			if types.GetErrorCode(err) != types.ErrUnknownTaskReference {
				t.Fatalf("expected unknown reference error, got %v", err)
			}
		case cyclic:
			if types.GetErrorCode(err) != types.ErrCyclicDependency {
				t.Fatalf("expected cycle error, got %v", err)
			}
		default:
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
		}
	})
}

// hasCycle 使用 Kahn 算法独立判定
func hasCycle(tasks []Task) bool {
	indeg := make(map[string]int)
	out := make(map[string][]string)
	for _, t := range tasks {
		seen := map[string]bool{}
		indeg[t.ID] += 0
		for _, d := range t.DependsOn {
			if seen[d] {
				continue
			}
			seen[d] = true
			indeg[t.ID]++
			out[d] = append(out[d], t.ID)
		}
	}
	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, s := range out[id] {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	return visited != len(tasks)
}
