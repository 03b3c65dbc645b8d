package workflow

import "github.com/BaSui01/crewflow/agent/crews"

// FlowEvent 描述一次 Flow 运行的开始
type FlowEvent struct {
	RunID        string
	FlowID       string
	InitialState string
}

// StateEvent 描述进入或离开一个状态. Result 只在离开时设置, 且仅当状态绑定了 Crew.
type StateEvent struct {
	RunID  string
	FlowID string
	State  State
	Step   int
	Result *crews.CrewResult
}

// TransitionEvent 描述一次被选中的转移
type TransitionEvent struct {
	RunID      string
	FlowID     string
	Transition Transition
}

// Listener 接收 Flow 运行事件, 在驱动运行的 goroutine 上依次调用.
type Listener interface {
	OnFlowStart(ev FlowEvent)
	OnStateEnter(ev StateEvent)
	OnStateExit(ev StateEvent)
	OnTransition(ev TransitionEvent)
	OnFlowComplete(result *FlowResult)
}

// NopListener 可嵌入以只实现部分回调
type NopListener struct{}

func (NopListener) OnFlowStart(FlowEvent)        {}
func (NopListener) OnStateEnter(StateEvent)      {}
func (NopListener) OnStateExit(StateEvent)       {}
func (NopListener) OnTransition(TransitionEvent) {}
func (NopListener) OnFlowComplete(*FlowResult)   {}
