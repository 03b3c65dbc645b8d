package crews

import (
	"time"
)

// Task 是分配给单个智能体的工作单元，构建后不可变.
type Task struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name,omitempty" yaml:"name"`
	Description    string        `json:"description" yaml:"description"`
	ExpectedOutput string        `json:"expected_output,omitempty" yaml:"expected_output"`
	AgentID        string        `json:"agent" yaml:"agent"`
	DependsOn      []string      `json:"depends_on,omitempty" yaml:"depends_on"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	HumanInput     bool          `json:"human_input,omitempty" yaml:"human_input"`
	// Tools 为空时使用智能体的工具集
	Tools               []string `json:"tools,omitempty" yaml:"tools"`
	ContextInstructions string   `json:"context_instructions,omitempty" yaml:"context_instructions"`
	// ExcludeFromOutput 让汇点任务不参与最终输出拼接
	ExcludeFromOutput bool `json:"exclude_from_output,omitempty" yaml:"exclude_from_output"`
	// MaxRetries 为 0 时使用 crew 的重试策略
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries"`
}

func (t Task) clone() Task {
	t.DependsOn = append([]string(nil), t.DependsOn...)
	t.Tools = append([]string(nil), t.Tools...)
	return t
}

// DisplayName returns Name, falling back to ID.
func (t Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// TaskStatus 任务执行状态
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
	TaskAborted   TaskStatus = "aborted"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task will not progress further.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskAborted, TaskCancelled:
		return true
	}
	return false
}

// Assignment sources
const (
	AssignedStatic  = "static"
	AssignedManager = "manager"
)

// TaskRecord 是一次运行中单个任务的执行记录.
type TaskRecord struct {
	TaskID     string     `json:"task_id"`
	AgentID    string     `json:"agent_id"`
	AssignedBy string     `json:"assigned_by"`
	Status     TaskStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Err        error      `json:"-"`
	Error      string     `json:"error,omitempty"`
	// Reason 说明任务为何未执行（Skipped/Aborted）
	Reason     string        `json:"reason,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
}

func (r *TaskRecord) finish(status TaskStatus, output string, err error, now time.Time) {
	r.Status = status
	r.Output = output
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = now
	if !r.StartedAt.IsZero() {
		r.Duration = now.Sub(r.StartedAt)
	}
}
