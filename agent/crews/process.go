package crews

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/types"
)

// ProcessKind 执行策略标签
type ProcessKind string

const (
	KindSequential   ProcessKind = "sequential"
	KindParallel     ProcessKind = "parallel"
	KindHierarchical ProcessKind = "hierarchical"
)

// Process 是封闭的执行策略集合：Sequential、Parallel、Hierarchical.
// 运行时由 run.execute 中唯一的 type switch 分派.
type Process interface {
	Kind() ProcessKind
	sealed()
}

// Sequential 按依赖顺序逐个执行，就绪任务按声明顺序选取.
type Sequential struct{}

// Parallel 并发执行就绪集合中的全部任务.
type Parallel struct {
	// MaxConcurrency 为 0 表示不限制（最多为就绪集合大小）
	MaxConcurrency int
}

// Hierarchical 在每个任务执行前咨询管理者智能体决定实际执行者.
type Hierarchical struct {
	// Manager 显式指定的协调者；为空时选择第一个允许委派的智能体
	Manager string
}

func (Sequential) Kind() ProcessKind   { return KindSequential }
func (Parallel) Kind() ProcessKind     { return KindParallel }
func (Hierarchical) Kind() ProcessKind { return KindHierarchical }

func (Sequential) sealed()   {}
func (Parallel) sealed()     {}
func (Hierarchical) sealed() {}

// ParseProcess maps a textual kind to its variant with zero options.
func ParseProcess(kind string) (Process, error) {
	switch ProcessKind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindSequential, "":
		return Sequential{}, nil
	case KindParallel:
		return Parallel{}, nil
	case KindHierarchical:
		return Hierarchical{}, nil
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown process %q", kind)
	}
}

// FailurePolicy 决定任务失败后其余任务的命运
type FailurePolicy string

const (
	// FailContinue 依赖失败任务的下游标记为 Skipped，其余任务继续
	FailContinue FailurePolicy = "continue"
	// FailAbort 所有尚未执行的任务标记为 Aborted
	FailAbort FailurePolicy = "abort"
)

// ProcessConfig 每个 Crew 的运行策略
type ProcessConfig struct {
	FailurePolicy FailurePolicy `json:"failure_policy" yaml:"failure_policy"`
	// RetryFailed 对可重试的后端错误进行重试
	RetryFailed   bool          `json:"retry_failed" yaml:"retry_failed"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
	// CrewTimeout 整次运行的截止时间，0 表示不限制
	CrewTimeout time.Duration `json:"crew_timeout" yaml:"crew_timeout"`
}

// DefaultProcessConfig 返回默认配置
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		FailurePolicy: FailContinue,
		MaxRetries:    2,
		RetryInterval: time.Second,
	}
}

func (c ProcessConfig) withDefaults() ProcessConfig {
	d := DefaultProcessConfig()
	if c.FailurePolicy == "" {
		c.FailurePolicy = d.FailurePolicy
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	return c
}

// Validate 校验配置
func (c ProcessConfig) Validate() error {
	switch c.FailurePolicy {
	case "", FailContinue, FailAbort:
	default:
		return types.Errorf(types.ErrInvalidConfig, "unknown failure policy %q", c.FailurePolicy)
	}
	if c.MaxRetries < 0 {
		return types.NewError(types.ErrInvalidConfig, "max_retries must be >= 0")
	}
	if c.CrewTimeout < 0 {
		return types.NewError(types.ErrInvalidConfig, "crew_timeout must be >= 0")
	}
	return nil
}

func (c ProcessConfig) String() string {
	return fmt.Sprintf("failure=%s retry=%t/%d", c.FailurePolicy, c.RetryFailed, c.MaxRetries)
}
