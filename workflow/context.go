package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// RunContext 保存单次 Flow 运行的变量表, 可并发读写
type RunContext struct {
	runID  string
	flowID string

	mu   sync.RWMutex
	vars map[string]any
}

func newRunContext(runID, flowID string, initial map[string]any) *RunContext {
	vars := make(map[string]any, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &RunContext{runID: runID, flowID: flowID, vars: vars}
}

func (rc *RunContext) RunID() string  { return rc.runID }
func (rc *RunContext) FlowID() string { return rc.flowID }

// Set 写入变量, 对之后的条件求值可见
func (rc *RunContext) Set(key string, value any) {
	rc.mu.Lock()
	rc.vars[key] = value
	rc.mu.Unlock()
}

// Get 读取变量. nil RunContext 总是返回 false.
func (rc *RunContext) Get(key string) (any, bool) {
	if rc == nil {
		return nil, false
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.vars[key]
	return v, ok
}

// Snapshot 返回变量表的浅拷贝
func (rc *RunContext) Snapshot() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]any, len(rc.vars))
	for k, v := range rc.vars {
		out[k] = v
	}
	return out
}

// inputs 把变量转成 Crew 的 {key} 占位符输入, 变量覆盖同名的静态输入
func (rc *RunContext) inputs(static map[string]string) map[string]string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]string, len(static)+len(rc.vars))
	for k, v := range static {
		out[k] = v
	}
	keys := make([]string, 0, len(rc.vars))
	for k := range rc.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = fmt.Sprint(rc.vars[k])
	}
	return out
}
