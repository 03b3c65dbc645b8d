package crews

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/types"
)

// Agent 默认值
const (
	DefaultModel            = "gpt-4"
	DefaultTemperature      = 0.7
	DefaultMaxIterations    = 10
	DefaultMaxExecutionTime = 300 * time.Second
)

// AgentConfig 描述一个智能体角色.
type AgentConfig struct {
	ID               string        `json:"id" yaml:"id"`
	Role             string        `json:"role" yaml:"role"`
	Goal             string        `json:"goal" yaml:"goal"`
	Backstory        string        `json:"backstory,omitempty" yaml:"backstory"`
	Model            string        `json:"model,omitempty" yaml:"model"`
	Temperature      *float64      `json:"temperature,omitempty" yaml:"temperature"`
	Tools            []string      `json:"tools,omitempty" yaml:"tools"`
	AllowDelegation  bool          `json:"allow_delegation" yaml:"allow_delegation"`
	Memory           memory.Config `json:"memory" yaml:"memory"`
	Verbose          bool          `json:"verbose" yaml:"verbose"`
	MaxIterations    int           `json:"max_iterations,omitempty" yaml:"max_iterations"`
	MaxExecutionTime time.Duration `json:"max_execution_time,omitempty" yaml:"max_execution_time"`
}

// Agent 是不可变的智能体定义，由引用它的 Crew 持有.
type Agent struct {
	cfg AgentConfig
}

// NewAgent 校验配置并填充默认值.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.ID == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "agent id is required")
	}
	if cfg.Role == "" {
		return nil, types.Errorf(types.ErrInvalidConfig, "agent %s: role is required", cfg.ID)
	}
	if !cfg.Memory.Policy.Valid() {
		return nil, types.Errorf(types.ErrInvalidConfig, "agent %s: unknown memory policy %q", cfg.ID, cfg.Memory.Policy)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	} else {
		t := *cfg.Temperature
		cfg.Temperature = &t
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = DefaultMaxExecutionTime
	}
	cfg.Tools = append([]string(nil), cfg.Tools...)
	return &Agent{cfg: cfg}, nil
}

func (a *Agent) ID() string                      { return a.cfg.ID }
func (a *Agent) Role() string                    { return a.cfg.Role }
func (a *Agent) Goal() string                    { return a.cfg.Goal }
func (a *Agent) Backstory() string               { return a.cfg.Backstory }
func (a *Agent) Model() string                   { return a.cfg.Model }
func (a *Agent) Temperature() float64            { return *a.cfg.Temperature }
func (a *Agent) AllowDelegation() bool           { return a.cfg.AllowDelegation }
func (a *Agent) Memory() memory.Config           { return a.cfg.Memory }
func (a *Agent) Verbose() bool                   { return a.cfg.Verbose }
func (a *Agent) MaxExecutionTime() time.Duration { return a.cfg.MaxExecutionTime }

// Tools 返回工具标识的副本.
func (a *Agent) Tools() []string { return append([]string(nil), a.cfg.Tools...) }

// HasTool reports whether the agent may invoke the named tool.
func (a *Agent) HasTool(name string) bool {
	for _, t := range a.cfg.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Config 返回配置副本.
func (a *Agent) Config() AgentConfig {
	cfg := a.cfg
	cfg.Tools = a.Tools()
	t := *a.cfg.Temperature
	cfg.Temperature = &t
	return cfg
}

// SystemPrompt 构建智能体的系统提示词.
func (a *Agent) SystemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a %s.\n\nYour goal is: %s\n", a.cfg.Role, a.cfg.Goal)
	if a.cfg.Backstory != "" {
		fmt.Fprintf(&sb, "\nBackground:\n%s\n", a.cfg.Backstory)
	}
	if len(a.cfg.Tools) > 0 {
		sb.WriteString("\nAvailable tools:\n")
		for _, t := range a.cfg.Tools {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}
	return sb.String()
}
