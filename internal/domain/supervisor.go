package domain

import "time"

// Supervisor task types.
const (
	SupervisorMonitor = "monitor"
	SupervisorAnalyze = "analyze"
	SupervisorAlert   = "alert"
)

// Snapshot is the per-cycle view of one agent.
type Snapshot struct {
	Status     AgentStatus `json:"status"`
	LastUpdate time.Time   `json:"last_update"`
}

// Metric is one sample in an agent's rolling window.
type Metric struct {
	Timestamp  time.Time   `json:"timestamp"`
	Status     AgentStatus `json:"status"`
	TaskCount  int         `json:"task_count"`
	LastUpdate time.Time   `json:"last_update"`
}

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alert is a supervisor finding about one agent.
type Alert struct {
	Timestamp time.Time  `json:"timestamp"`
	AgentID   string     `json:"agent_id"`
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
}

// Trend classifies the movement between the two most recent task counts.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// AgentAnalysis is the per-agent output of the analyze operation.
type AgentAnalysis struct {
	TotalTasks    int         `json:"total_tasks"`
	CurrentStatus AgentStatus `json:"current_status"`
	Trend         Trend       `json:"trend"`
}

// AlertReport is the output of the alert operation.
type AlertReport struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
}

// MonitorReport is the output of the monitor operation.
type MonitorReport struct {
	Agents    map[string]Snapshot `json:"agents"`
	Timestamp time.Time           `json:"timestamp"`
}
