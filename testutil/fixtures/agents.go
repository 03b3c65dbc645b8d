// =============================================================================
// 📦 测试数据工厂 - 智能体与任务
// =============================================================================
// 提供预定义的智能体、任务与 Crew 构建器，用于测试
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/llm"
)

// =============================================================================
// 🤖 智能体配置工厂
// =============================================================================

// ResearcherAgent 返回研究员智能体
func ResearcherAgent() crews.AgentConfig {
	return crews.AgentConfig{
		ID:        "researcher",
		Role:      "Senior Researcher",
		Goal:      "Uncover facts about {topic}",
		Backstory: "A meticulous analyst.",
		Tools:     []string{"web_search"},
	}
}

// WriterAgent 返回写作智能体
func WriterAgent() crews.AgentConfig {
	return crews.AgentConfig{
		ID:   "writer",
		Role: "Technical Writer",
		Goal: "Write clear reports",
	}
}

// ManagerAgent 返回允许委派的管理者智能体
func ManagerAgent() crews.AgentConfig {
	return crews.AgentConfig{
		ID:              "manager",
		Role:            "Project Manager",
		Goal:            "Route work to the right specialist",
		AllowDelegation: true,
	}
}

// MemoryAgent 返回启用指定记忆策略的智能体
func MemoryAgent(policy memory.Policy, persist bool) crews.AgentConfig {
	cfg := ResearcherAgent()
	cfg.ID = "archivist"
	cfg.Memory = memory.Config{Policy: policy, MaxItems: 5, Persist: persist}
	return cfg
}

// =============================================================================
// 📋 任务工厂
// =============================================================================

// ResearchTask 返回研究任务
func ResearchTask() crews.Task {
	return crews.Task{
		ID:             "research",
		Description:    "Research {topic}",
		ExpectedOutput: "A list of findings",
		AgentID:        "researcher",
		Timeout:        5 * time.Second,
	}
}

// WriteTask 返回依赖研究任务的写作任务
func WriteTask() crews.Task {
	return crews.Task{
		ID:             "write",
		Description:    "Write a report about {topic}",
		ExpectedOutput: "A short report",
		AgentID:        "writer",
		DependsOn:      []string{"research"},
		Timeout:        5 * time.Second,
	}
}

// =============================================================================
// 👥 Crew 工厂
// =============================================================================

// ResearchCrew 返回 research -> write 的顺序 Crew 构建器
func ResearchCrew(c llm.Completer) *crews.Builder {
	return crews.NewBuilder("research-crew").
		Name("Research Crew").
		Agent(ResearcherAgent()).
		Agent(WriterAgent()).
		Task(ResearchTask()).
		Task(WriteTask()).
		Completer(c)
}

// SingleTaskCrew 返回只有一个任务的 Crew 构建器
func SingleTaskCrew(id, description string, c llm.Completer) *crews.Builder {
	return crews.NewBuilder(id).
		Agent(WriterAgent()).
		Task(crews.Task{ID: id + "-task", Description: description, AgentID: "writer"}).
		Completer(c)
}
