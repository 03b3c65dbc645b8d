package crews

import (
	"strings"

	"github.com/BaSui01/crewflow/types"
	"github.com/gammazero/toposort"
)

// TaskGraph 是经过校验的任务依赖 DAG，只读.
type TaskGraph struct {
	tasks      []Task
	index      map[string]int
	successors map[string][]string
	order      []string
}

// NewTaskGraph validates ids, references and acyclicity.
func NewTaskGraph(tasks []Task) (*TaskGraph, error) {
	g := &TaskGraph{
		tasks:      make([]Task, 0, len(tasks)),
		index:      make(map[string]int, len(tasks)),
		successors: make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		if t.ID == "" {
			return nil, types.NewError(types.ErrInvalidConfig, "task id is required")
		}
		if _, dup := g.index[t.ID]; dup {
			return nil, types.Errorf(types.ErrDuplicateID, "duplicate task id %q", t.ID)
		}
		t = t.clone()
		t.DependsOn = dedupe(t.DependsOn)
		g.index[t.ID] = len(g.tasks)
		g.tasks = append(g.tasks, t)
	}

	for _, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, types.Errorf(types.ErrUnknownTaskReference,
					"task %q depends on undeclared task %q", t.ID, dep)
			}
			g.successors[dep] = append(g.successors[dep], t.ID)
		}
	}

	// Edge{nil, id} 保证无依赖任务也出现在排序结果中
	edges := make([]toposort.Edge, 0, len(g.tasks))
	for _, t := range g.tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		cycle := g.findCycle()
		return nil, types.Errorf(types.ErrCyclicDependency,
			"dependency cycle: %s", strings.Join(cycle, " -> ")).WithCause(err)
	}
	for _, id := range sorted {
		if id != nil {
			g.order = append(g.order, id.(string))
		}
	}
	if len(g.order) != len(g.tasks) {
		return nil, types.Errorf(types.ErrCyclicDependency,
			"dependency cycle: %d of %d tasks unreachable", len(g.tasks)-len(g.order), len(g.tasks))
	}
	return g, nil
}

// findCycle returns one cycle as a path of task ids, first id repeated at the end.
func (g *TaskGraph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.tasks[g.index[id]].DependsOn {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, t := range g.tasks {
		if color[t.ID] == white && visit(t.ID) {
			return cycle
		}
	}
	return nil
}

// Len returns the number of tasks.
func (g *TaskGraph) Len() int { return len(g.tasks) }

// Tasks returns the tasks in declaration order.
func (g *TaskGraph) Tasks() []Task {
	out := make([]Task, len(g.tasks))
	for i, t := range g.tasks {
		out[i] = t.clone()
	}
	return out
}

// Task looks up a task by id.
func (g *TaskGraph) Task(id string) (Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return Task{}, false
	}
	return g.tasks[i].clone(), true
}

// Order returns a dependency-respecting topological order.
func (g *TaskGraph) Order() []string {
	return append([]string(nil), g.order...)
}

// Successors returns the direct dependents of id in declaration order.
func (g *TaskGraph) Successors(id string) []string {
	return append([]string(nil), g.successors[id]...)
}

// Sinks returns tasks without successors, in declaration order.
func (g *TaskGraph) Sinks() []string {
	var out []string
	for _, t := range g.tasks {
		if len(g.successors[t.ID]) == 0 {
			out = append(out, t.ID)
		}
	}
	return out
}

// Ready returns pending tasks whose dependencies are all terminal, in
// declaration order. Tasks missing from statuses count as pending.
func (g *TaskGraph) Ready(statuses map[string]TaskStatus) []string {
	var out []string
	for _, t := range g.tasks {
		if s, ok := statuses[t.ID]; ok && s != TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !statuses[dep].IsTerminal() {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t.ID)
		}
	}
	return out
}

// DependencyOutput is one dependency's contribution to a task's context.
type DependencyOutput struct {
	TaskID string
	Output string
}

// DependencyContext returns the outputs of the task's completed direct
// dependencies, ordered by crew declaration order.
func (g *TaskGraph) DependencyContext(taskID string, records map[string]*TaskRecord) []DependencyOutput {
	i, ok := g.index[taskID]
	if !ok {
		return nil
	}
	deps := make(map[string]bool, len(g.tasks[i].DependsOn))
	for _, d := range g.tasks[i].DependsOn {
		deps[d] = true
	}
	var out []DependencyOutput
	for _, t := range g.tasks {
		if !deps[t.ID] {
			continue
		}
		rec, ok := records[t.ID]
		if !ok || rec.Status != TaskCompleted || rec.Output == "" {
			continue
		}
		out = append(out, DependencyOutput{TaskID: t.ID, Output: rec.Output})
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
