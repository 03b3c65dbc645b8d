package dsl

// Document 是 YAML 定义文件的顶层结构
type Document struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 文档名称
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables {var} 占位符的默认值
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	Agents []AgentDef `yaml:"agents,omitempty" json:"agents,omitempty"`
	Tasks  []TaskDef  `yaml:"tasks,omitempty" json:"tasks,omitempty"`
	Crews  []CrewDef  `yaml:"crews,omitempty" json:"crews,omitempty"`
	Flows  []FlowDef  `yaml:"flows,omitempty" json:"flows,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// AgentDef Agent 定义. 时长字段使用 time.ParseDuration 格式, 例如 "90s".
type AgentDef struct {
	ID               string     `yaml:"id" json:"id"`
	Role             string     `yaml:"role" json:"role"`
	Goal             string     `yaml:"goal" json:"goal"`
	Backstory        string     `yaml:"backstory,omitempty" json:"backstory,omitempty"`
	Model            string     `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature      *float64   `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Tools            []string   `yaml:"tools,omitempty" json:"tools,omitempty"`
	AllowDelegation  bool       `yaml:"allow_delegation,omitempty" json:"allow_delegation,omitempty"`
	Verbose          bool       `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	MaxIterations    int        `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxExecutionTime string     `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	Memory           *MemoryDef `yaml:"memory,omitempty" json:"memory,omitempty"`
}

// MemoryDef 记忆配置
type MemoryDef struct {
	Policy        string `yaml:"policy" json:"policy"` // short_term, long_term, entity, episodic
	MaxItems      int    `yaml:"max_items,omitempty" json:"max_items,omitempty"`
	UseEmbeddings bool   `yaml:"use_embeddings,omitempty" json:"use_embeddings,omitempty"`
	TTL           string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Persist       bool   `yaml:"persist,omitempty" json:"persist,omitempty"`
}

// TaskDef 任务定义
type TaskDef struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name,omitempty" json:"name,omitempty"`
	Description    string   `yaml:"description" json:"description"` // 支持 {var} 插值
	ExpectedOutput string   `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`
	Agent          string   `yaml:"agent" json:"agent"`
	DependsOn      []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Timeout        string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	HumanInput     bool     `yaml:"human_input,omitempty" json:"human_input,omitempty"`
	Tools          []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Context        string   `yaml:"context,omitempty" json:"context,omitempty"`
	// IncludeInOutput 缺省为 true
	IncludeInOutput *bool `yaml:"include_in_output,omitempty" json:"include_in_output,omitempty"`
	MaxRetries      int   `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// CrewDef Crew 定义. Agents 为空时取其任务引用的 agent 与 manager.
type CrewDef struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name,omitempty" json:"name,omitempty"`
	Process       string   `yaml:"process,omitempty" json:"process,omitempty"` // sequential, parallel, hierarchical
	MaxParallel   int      `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty"`
	Manager       string   `yaml:"manager,omitempty" json:"manager,omitempty"`
	FailurePolicy string   `yaml:"failure_policy,omitempty" json:"failure_policy,omitempty"` // continue, abort
	RetryFailed   bool     `yaml:"retry_failed,omitempty" json:"retry_failed,omitempty"`
	MaxRetries    int      `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryInterval string   `yaml:"retry_interval,omitempty" json:"retry_interval,omitempty"`
	Timeout       string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Verbose       bool     `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	Agents        []string `yaml:"agents,omitempty" json:"agents,omitempty"`
	Tasks         []string `yaml:"tasks" json:"tasks"`
}

// FlowDef Flow 定义
type FlowDef struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name,omitempty" json:"name,omitempty"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	MaxSteps    int             `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	States      []StateDef      `yaml:"states" json:"states"`
	Transitions []TransitionDef `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// StateDef 状态定义
type StateDef struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Crew        string         `yaml:"crew,omitempty" json:"crew,omitempty"`
	Initial     bool           `yaml:"initial,omitempty" json:"initial,omitempty"`
	Final       bool           `yaml:"final,omitempty" json:"final,omitempty"`
	Timeout     string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// TransitionDef 转移定义, When 为条件表达式, 缺省为 always
type TransitionDef struct {
	ID          string `yaml:"id,omitempty" json:"id,omitempty"`
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	When        string `yaml:"when,omitempty" json:"when,omitempty"`
	Priority    int    `yaml:"priority,omitempty" json:"priority,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}
