package metrics

import (
	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/workflow"
)

var (
	_ crews.Listener    = (*Collector)(nil)
	_ workflow.Listener = (*Collector)(nil)
)

// =============================================================================
// 👥 Crew 事件
// =============================================================================

// OnCrewStart implements crews.Listener.
func (c *Collector) OnCrewStart(ev crews.CrewEvent) {
	c.crewRunsInFlight.WithLabelValues(ev.CrewID).Inc()
}

// OnCrewComplete implements crews.Listener.
func (c *Collector) OnCrewComplete(res *crews.CrewResult) {
	c.crewRunsInFlight.WithLabelValues(res.CrewID).Dec()
	c.crewRunsTotal.WithLabelValues(res.CrewID, string(res.Status)).Inc()
	c.crewRunDuration.WithLabelValues(res.CrewID).Observe(res.Stats.TotalTime.Seconds())
}

// OnTaskStart implements crews.Listener.
func (c *Collector) OnTaskStart(ev crews.TaskEvent) {
	c.tasksInFlight.WithLabelValues(ev.CrewID).Inc()
}

// OnTaskComplete implements crews.Listener.
func (c *Collector) OnTaskComplete(ev crews.TaskEvent) { c.taskDone(ev) }

// OnTaskFail implements crews.Listener.
func (c *Collector) OnTaskFail(ev crews.TaskEvent) { c.taskDone(ev) }

func (c *Collector) taskDone(ev crews.TaskEvent) {
	rec := ev.Record
	c.tasksInFlight.WithLabelValues(ev.CrewID).Dec()
	c.taskExecutionsTotal.WithLabelValues(ev.CrewID, rec.AgentID, string(rec.Status)).Inc()
	c.taskDuration.WithLabelValues(ev.CrewID, rec.AgentID).Observe(rec.Duration.Seconds())
	if rec.Attempts > 1 {
		c.taskRetriesTotal.WithLabelValues(ev.CrewID, rec.AgentID).Add(float64(rec.Attempts - 1))
	}
}

// =============================================================================
// 🔀 Flow 事件
// =============================================================================

// OnFlowStart implements workflow.Listener.
func (c *Collector) OnFlowStart(workflow.FlowEvent) {}

// OnStateEnter implements workflow.Listener.
func (c *Collector) OnStateEnter(ev workflow.StateEvent) {
	c.flowStatesEntered.WithLabelValues(ev.FlowID, ev.State.ID).Inc()
}

// OnStateExit implements workflow.Listener.
func (c *Collector) OnStateExit(workflow.StateEvent) {}

// OnTransition implements workflow.Listener.
func (c *Collector) OnTransition(ev workflow.TransitionEvent) {
	c.flowTransitions.WithLabelValues(ev.FlowID, ev.Transition.From, ev.Transition.To).Inc()
}

// OnFlowComplete implements workflow.Listener.
func (c *Collector) OnFlowComplete(res *workflow.FlowResult) {
	c.flowRunsTotal.WithLabelValues(res.FlowID, string(res.Status)).Inc()
	c.flowRunDuration.WithLabelValues(res.FlowID).Observe(res.Stats.TotalTime.Seconds())
}
