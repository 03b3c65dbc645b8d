package crews

// CrewEvent 描述一次 Crew 运行的开始
type CrewEvent struct {
	RunID   string
	CrewID  string
	Process ProcessKind
	Tasks   int
}

// TaskEvent 描述单个任务的状态变化，Record 是事件发生时的快照
type TaskEvent struct {
	RunID  string
	CrewID string
	Task   Task
	Record TaskRecord
}

// Listener 接收 Crew 运行事件.
// 同一次运行内的回调串行调用，实现无需自行加锁.
// Skipped 与 Aborted 的任务从未开始，不产生任务事件；Cancelled 通过 OnTaskFail 通知.
type Listener interface {
	OnCrewStart(ev CrewEvent)
	OnCrewComplete(result *CrewResult)
	OnTaskStart(ev TaskEvent)
	OnTaskComplete(ev TaskEvent)
	OnTaskFail(ev TaskEvent)
}

// NopListener 可嵌入以只实现部分回调
type NopListener struct{}

func (NopListener) OnCrewStart(CrewEvent)      {}
func (NopListener) OnCrewComplete(*CrewResult) {}
func (NopListener) OnTaskStart(TaskEvent)      {}
func (NopListener) OnTaskComplete(TaskEvent)   {}
func (NopListener) OnTaskFail(TaskEvent)       {}
