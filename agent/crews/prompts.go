package crews

import (
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/agent/memory"
)

// interpolate 将 {key} 占位符替换为 inputs 中的值，未知占位符保持原样
func interpolate(s string, inputs map[string]string) string {
	if len(inputs) == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, len(inputs)*2)
	for k, v := range inputs {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func taskPrompt(task Task, deps []DependencyOutput, memories []memory.Snippet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Task\n%s\n\n# Expected Output\n%s", task.Description, task.ExpectedOutput)

	if len(deps) > 0 {
		sb.WriteString("\n\n# Context from Previous Tasks\n")
		for _, d := range deps {
			fmt.Fprintf(&sb, "\n## From Task: %s\n%s\n", d.TaskID, d.Output)
		}
	}
	if len(memories) > 0 {
		sb.WriteString("\n\n# Relevant Context from Memory\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	if task.ContextInstructions != "" {
		fmt.Fprintf(&sb, "\n\n# Additional Instructions\n%s", task.ContextInstructions)
	}
	return sb.String()
}

func managerPrompt(task Task, staticAgent string, agents []*Agent) string {
	var sb strings.Builder
	sb.WriteString("You are coordinating a crew. Decide which agent should perform the next task.\n\n# Agents\n")
	for _, a := range agents {
		fmt.Fprintf(&sb, "- %s: %s\n", a.ID(), a.Role())
	}
	fmt.Fprintf(&sb, "\n# Task\n- %s: %s\n", task.ID, task.Description)
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "\nExpected output: %s\n", task.ExpectedOutput)
	}
	fmt.Fprintf(&sb, "\nCurrently assigned to: %s\n\nReply with the id of the chosen agent on the first line.", staticAgent)
	return sb.String()
}

// parseManagerChoice 取回复的第一行非空文本作为智能体 id
func parseManagerChoice(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*# ")
		line = strings.Trim(line, "`\"'.: ")
		if line != "" {
			return line
		}
	}
	return ""
}

func memoryContent(task Task, output string) string {
	return fmt.Sprintf("Task: %s\n\nResult: %s", task.Description, output)
}
