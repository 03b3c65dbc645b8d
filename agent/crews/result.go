package crews

import (
	"strings"
	"time"
)

// RunStatus 整次运行的终态
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// CrewStats 运行统计
type CrewStats struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Aborted   int           `json:"aborted"`
	Cancelled int           `json:"cancelled"`
	TotalTime time.Duration `json:"total_time"`
}

// CrewResult 是一次 Kickoff 的完整结果
type CrewResult struct {
	RunID   string                 `json:"run_id"`
	CrewID  string                 `json:"crew_id"`
	Output  string                 `json:"output"`
	Records map[string]*TaskRecord `json:"records"`
	// Order 按任务到达终态的先后顺序记录任务 id
	Order      []string  `json:"order"`
	Stats      CrewStats `json:"stats"`
	Success    bool      `json:"success"`
	Status     RunStatus `json:"status"`
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Record returns the execution record of a task.
func (r *CrewResult) Record(taskID string) (*TaskRecord, bool) {
	rec, ok := r.Records[taskID]
	return rec, ok
}

// FailedTasks lists tasks that ended Failed, in completion order.
func (r *CrewResult) FailedTasks() []string {
	var out []string
	for _, id := range r.Order {
		if r.Records[id].Status == TaskFailed {
			out = append(out, id)
		}
	}
	return out
}

// combineOutput 汇点唯一时取其输出，多个汇点按声明顺序以空行拼接
func combineOutput(g *TaskGraph, records map[string]*TaskRecord) string {
	sinks := g.Sinks()
	var included, all []string
	for _, id := range sinks {
		rec := records[id]
		if rec == nil || rec.Status != TaskCompleted {
			continue
		}
		all = append(all, rec.Output)
		if t, _ := g.Task(id); !t.ExcludeFromOutput {
			included = append(included, rec.Output)
		}
	}
	if len(included) == 0 {
		included = all
	}
	return strings.Join(included, "\n\n")
}
