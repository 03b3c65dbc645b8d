package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/types"
	"github.com/BaSui01/crewflow/workflow"
	"github.com/BaSui01/crewflow/workflow/dsl"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind 作业类型
type Kind string

const (
	KindCrew Kind = "crew"
	KindFlow Kind = "flow"
)

// Job 是一次编排运行的工作单元
type Job struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
	// Inputs 替换任务描述中的 {key} 占位符
	Inputs map[string]string `json:"inputs,omitempty"`
	// Variables 仅对 Flow 生效, 作为运行变量初始值
	Variables   map[string]any `json:"variables,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Result 是投递给 ResultSink 的作业结果
type Result struct {
	JobID      string               `json:"job_id"`
	Kind       Kind                 `json:"kind"`
	Target     string               `json:"target"`
	RunID      string               `json:"run_id,omitempty"`
	Success    bool                 `json:"success"`
	Status     string               `json:"status"`
	Output     string               `json:"output"`
	Error      string               `json:"error,omitempty"`
	ErrorCode  types.ErrorCode      `json:"error_code,omitempty"`
	Crew       *crews.CrewResult    `json:"crew,omitempty"`
	Flow       *workflow.FlowResult `json:"flow,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// ResultSink 接收作业结果
type ResultSink interface {
	Publish(ctx context.Context, result *Result) error
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(ctx context.Context, result *Result) error

// Publish implements ResultSink.
func (f SinkFunc) Publish(ctx context.Context, result *Result) error { return f(ctx, result) }

// Runner 执行作业并投递结果
type Runner struct {
	bundle *dsl.Bundle
	sink   ResultSink
	logger *zap.Logger
}

// NewRunner 创建作业执行器. sink 为 nil 时结果只返回给调用方.
func NewRunner(bundle *dsl.Bundle, sink ResultSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		bundle: bundle,
		sink:   sink,
		logger: logger.With(zap.String("component", "jobs")),
	}
}

// Run 按 job.Kind 分发
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	switch job.Kind {
	case KindCrew:
		return r.RunCrew(ctx, job)
	case KindFlow:
		return r.RunFlow(ctx, job)
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown job kind %q", job.Kind)
	}
}

// RunCrew 启动 job.Target 指定的 Crew.
// 返回的 error 为运行错误; 投递失败时, 若运行本身成功则返回投递错误.
func (r *Runner) RunCrew(ctx context.Context, job Job) (*Result, error) {
	job.Kind = KindCrew
	crew, ok := r.bundle.Crew(job.Target)
	if !ok {
		return nil, types.Errorf(types.ErrUnknownCrewReference, "job references unknown crew %q", job.Target)
	}

	ctx, job, logger := r.begin(ctx, job)
	res := &Result{JobID: job.ID, Kind: job.Kind, Target: job.Target, StartedAt: time.Now()}

	cr, err := crew.Kickoff(ctx, job.Inputs)
	if cr != nil {
		res.Crew = cr
		res.RunID = cr.RunID
		res.Success = cr.Success
		res.Status = string(cr.Status)
		res.Output = cr.Output
		if err == nil {
			err = cr.Err
		}
	} else {
		res.Status = string(crews.RunFailed)
	}
	return r.finish(ctx, res, err, logger)
}

// RunFlow 运行 job.Target 指定的 Flow
func (r *Runner) RunFlow(ctx context.Context, job Job) (*Result, error) {
	job.Kind = KindFlow
	flow, ok := r.bundle.Flow(job.Target)
	if !ok {
		return nil, types.Errorf(types.ErrInvalidFlow, "job references unknown flow %q", job.Target)
	}

	ctx, job, logger := r.begin(ctx, job)
	res := &Result{JobID: job.ID, Kind: job.Kind, Target: job.Target, StartedAt: time.Now()}

	fr, err := flow.Run(ctx, workflow.WithInputs(job.Inputs), workflow.WithVariables(job.Variables))
	res.Flow = fr
	res.RunID = fr.RunID
	res.Success = fr.Success
	res.Status = string(fr.Status)
	res.Output = fr.Output
	return r.finish(ctx, res, err, logger)
}

func (r *Runner) begin(ctx context.Context, job Job) (context.Context, Job, *zap.Logger) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	logger := r.logger.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("target", job.Target),
	)
	logger.Info("job started", zap.Duration("queued", time.Since(job.SubmittedAt)))
	return types.WithJobID(ctx, job.ID), job, logger
}

func (r *Runner) finish(ctx context.Context, res *Result, runErr error, logger *zap.Logger) (*Result, error) {
	res.FinishedAt = time.Now()
	if runErr != nil {
		res.Success = false
		res.Error = runErr.Error()
		res.ErrorCode = types.GetErrorCode(runErr)
	}

	if r.sink != nil {
		// 运行被取消时仍然投递结果
		pubCtx := context.WithoutCancel(ctx)
		if err := r.sink.Publish(pubCtx, res); err != nil {
			logger.Error("publish job result failed", zap.Error(err))
			if runErr == nil {
				return res, fmt.Errorf("publish result of job %s: %w", res.JobID, err)
			}
			runErr = errors.Join(runErr, err)
		}
	}

	logger.Info("job finished",
		zap.Bool("success", res.Success),
		zap.String("status", res.Status),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, runErr
}
