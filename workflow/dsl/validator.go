package dsl

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/agent/memory"
)

// ValidationError 指向文档中的一个问题
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors 汇总全部问题
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(es), strings.Join(msgs, "; "))
}

// Validator DSL 验证器
type Validator struct {
	inputs map[string]string
}

// NewValidator 创建验证器. inputs 用于检查必填变量.
func NewValidator(inputs map[string]string) *Validator {
	return &Validator{inputs: inputs}
}

type collector struct {
	errs ValidationErrors
}

func (c *collector) add(path, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) duration(path, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.add(path, "invalid duration %q", value)
		return
	}
	if d < 0 {
		c.add(path, "duration must not be negative")
	}
}

// Validate 验证文档并返回全部问题, 没有问题时返回 nil
func (v *Validator) Validate(doc *Document) ValidationErrors {
	c := &collector{}
	if doc == nil {
		c.add("", "document is empty")
		return c.errs
	}
	if len(doc.Crews) == 0 && len(doc.Flows) == 0 {
		c.add("", "document defines no crews or flows")
	}

	for name, def := range doc.Variables {
		if _, ok := v.inputs[name]; !ok && def.Required && def.Default == "" {
			c.add("variables."+name, "required variable has no value")
		}
	}

	agents := v.validateAgents(c, doc.Agents)
	tasks := v.validateTasks(c, doc.Tasks, agents)
	crewIDs := v.validateCrews(c, doc.Crews, agents, tasks)
	v.validateFlows(c, doc.Flows, crewIDs)

	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func (v *Validator) validateAgents(c *collector, defs []AgentDef) map[string]AgentDef {
	agents := make(map[string]AgentDef, len(defs))
	for i, a := range defs {
		path := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			c.add(path, "id is required")
			continue
		}
		path = "agents." + a.ID
		if _, dup := agents[a.ID]; dup {
			c.add(path, "duplicate agent id")
			continue
		}
		agents[a.ID] = a
		if strings.TrimSpace(a.Role) == "" {
			c.add(path, "role is required")
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			c.add(path+".temperature", "must be between 0 and 2")
		}
		c.duration(path+".max_execution_time", a.MaxExecutionTime)
		if a.Memory != nil {
			if !memory.Policy(a.Memory.Policy).Valid() {
				c.add(path+".memory.policy", "unknown memory policy %q", a.Memory.Policy)
			}
			if a.Memory.MaxItems < 0 {
				c.add(path+".memory.max_items", "must be >= 0")
			}
			c.duration(path+".memory.ttl", a.Memory.TTL)
		}
	}
	return agents
}

func (v *Validator) validateTasks(c *collector, defs []TaskDef, agents map[string]AgentDef) map[string]TaskDef {
	tasks := make(map[string]TaskDef, len(defs))
	for i, t := range defs {
		if t.ID == "" {
			c.add(fmt.Sprintf("tasks[%d]", i), "id is required")
			continue
		}
		if _, dup := tasks[t.ID]; dup {
			c.add("tasks."+t.ID, "duplicate task id")
			continue
		}
		tasks[t.ID] = t
	}

	for _, t := range defs {
		if t.ID == "" {
			continue
		}
		path := "tasks." + t.ID
		if strings.TrimSpace(t.Description) == "" {
			c.add(path, "description is required")
		}
		if t.Agent == "" {
			c.add(path, "agent is required")
		} else if _, ok := agents[t.Agent]; !ok {
			c.add(path+".agent", "unknown agent %q", t.Agent)
		}
		for _, dep := range t.DependsOn {
			if _, ok := tasks[dep]; !ok {
				c.add(path+".depends_on", "unknown task %q", dep)
			}
		}
		if t.MaxRetries < 0 {
			c.add(path+".max_retries", "must be >= 0")
		}
		c.duration(path+".timeout", t.Timeout)
	}
	return tasks
}

func (v *Validator) validateCrews(c *collector, defs []CrewDef, agents map[string]AgentDef, tasks map[string]TaskDef) map[string]bool {
	ids := make(map[string]bool, len(defs))
	for i, cr := range defs {
		if cr.ID == "" {
			c.add(fmt.Sprintf("crews[%d]", i), "id is required")
			continue
		}
		path := "crews." + cr.ID
		if ids[cr.ID] {
			c.add(path, "duplicate crew id")
			continue
		}
		ids[cr.ID] = true

		process, err := crews.ParseProcess(cr.Process)
		if err != nil {
			c.add(path+".process", "unknown process %q", cr.Process)
		}
		switch crews.FailurePolicy(cr.FailurePolicy) {
		case "", crews.FailContinue, crews.FailAbort:
		default:
			c.add(path+".failure_policy", "unknown failure policy %q", cr.FailurePolicy)
		}
		if cr.MaxParallel < 0 {
			c.add(path+".max_parallel", "must be >= 0")
		}
		if cr.MaxRetries < 0 {
			c.add(path+".max_retries", "must be >= 0")
		}
		c.duration(path+".retry_interval", cr.RetryInterval)
		c.duration(path+".timeout", cr.Timeout)

		if len(cr.Tasks) == 0 {
			c.add(path+".tasks", "at least one task is required")
		}
		members := make(map[string]bool, len(cr.Agents))
		for _, a := range cr.Agents {
			if _, ok := agents[a]; !ok {
				c.add(path+".agents", "unknown agent %q", a)
			}
			members[a] = true
		}
		inCrew := make(map[string]bool, len(cr.Tasks))
		for _, id := range cr.Tasks {
			inCrew[id] = true
		}
		var graphTasks []crews.Task
		complete := true
		for _, id := range cr.Tasks {
			t, ok := tasks[id]
			if !ok {
				c.add(path+".tasks", "unknown task %q", id)
				complete = false
				continue
			}
			if len(cr.Agents) > 0 && t.Agent != "" && !members[t.Agent] {
				c.add(path+".tasks", "task %q is assigned to agent %q outside the crew", id, t.Agent)
			}
			for _, dep := range t.DependsOn {
				if !inCrew[dep] {
					c.add(path+".tasks", "task %q depends on %q which is not part of the crew", id, dep)
					complete = false
				}
			}
			graphTasks = append(graphTasks, crews.Task{ID: t.ID, DependsOn: t.DependsOn})
		}
		if complete && len(graphTasks) > 0 {
			if _, err := crews.NewTaskGraph(graphTasks); err != nil {
				c.add(path+".tasks", "%v", err)
			}
		}

		if cr.Manager != "" {
			if _, ok := agents[cr.Manager]; !ok {
				c.add(path+".manager", "unknown agent %q", cr.Manager)
			}
		}
		if _, ok := process.(crews.Hierarchical); ok && cr.Manager == "" {
			delegates := false
			for _, id := range crewAgents(cr, tasks) {
				if agents[id].AllowDelegation {
					delegates = true
					break
				}
			}
			if !delegates {
				c.add(path+".manager", "hierarchical crew needs a manager or an agent with allow_delegation")
			}
		}
	}
	return ids
}

func (v *Validator) validateFlows(c *collector, defs []FlowDef, crewIDs map[string]bool) {
	ids := make(map[string]bool, len(defs))
	for i, f := range defs {
		if f.ID == "" {
			c.add(fmt.Sprintf("flows[%d]", i), "id is required")
			continue
		}
		path := "flows." + f.ID
		if ids[f.ID] {
			c.add(path, "duplicate flow id")
			continue
		}
		ids[f.ID] = true
		if f.MaxSteps < 0 {
			c.add(path+".max_steps", "must be >= 0")
		}
		if len(f.States) == 0 {
			c.add(path+".states", "at least one state is required")
		}

		states := make(map[string]bool, len(f.States))
		initial := 0
		for j, s := range f.States {
			if s.ID == "" {
				c.add(fmt.Sprintf("%s.states[%d]", path, j), "id is required")
				continue
			}
			spath := path + ".states." + s.ID
			if states[s.ID] {
				c.add(spath, "duplicate state id")
				continue
			}
			states[s.ID] = true
			if s.Initial {
				initial++
			}
			if s.Crew != "" && !crewIDs[s.Crew] {
				c.add(spath+".crew", "unknown crew %q", s.Crew)
			}
			c.duration(spath+".timeout", s.Timeout)
		}
		if len(f.States) > 0 && initial != 1 {
			c.add(path+".states", "exactly one initial state is required, found %d", initial)
		}

		for j, t := range f.Transitions {
			tpath := fmt.Sprintf("%s.transitions[%d]", path, j)
			if !states[t.From] {
				c.add(tpath+".from", "unknown state %q", t.From)
			}
			if !states[t.To] {
				c.add(tpath+".to", "unknown state %q", t.To)
			}
			if _, err := ParseCondition(t.When); err != nil {
				c.add(tpath+".when", "%v", err)
			}
		}
	}
}

// crewAgents 返回 Crew 的成员: 显式列出的 agent, 否则按任务顺序推导; manager 总是包含在内
func crewAgents(cr CrewDef, tasks map[string]TaskDef) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(cr.Agents) > 0 {
		for _, id := range cr.Agents {
			add(id)
		}
	} else {
		for _, id := range cr.Tasks {
			add(tasks[id].Agent)
		}
	}
	add(cr.Manager)
	return out
}
