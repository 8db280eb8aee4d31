package protocol

import "time"

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	NATSRunning bool           `json:"nats_running"`
	StartedAt   time.Time      `json:"started_at"`
	Device      string         `json:"device"`
	Workflow    WorkflowStatus `json:"workflow"`
	Stream      StreamStatus   `json:"stream"`
	Exchanges   ExchangeStatus `json:"exchanges"`
	Scripts     int            `json:"scripts"`
}

// WorkflowStatus reports the progress of the configuration workflow.
type WorkflowStatus struct {
	State      string            `json:"state"` // pending, running, completed, failed, disabled
	Step       string            `json:"step,omitempty"`
	Error      string            `json:"error,omitempty"`
	Completed  []string          `json:"completed"`
	Output     *OutputDescriptor `json:"output,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// StreamStatus reports stream receiver counters.
type StreamStatus struct {
	Port       int   `json:"port"`
	Running    bool  `json:"running"`
	Packets    int64 `json:"packets"`
	Bytes      int64 `json:"bytes"`
	EmptyPolls int64 `json:"empty_polls"`
	Truncated  int64 `json:"truncated"`
	Dropped    int64 `json:"dropped"`
	SinkErrors int64 `json:"sink_errors"`
}

// ExchangeStatus reports control channel counters.
type ExchangeStatus struct {
	Total    int64 `json:"total"`
	Timeouts int64 `json:"timeouts"`
	Failures int64 `json:"failures"`
}

// CommandRequest is the body of POST /api/v1/command.
type CommandRequest struct {
	Cmd    string `json:"cmd"`
	Params []any  `json:"params"`
}

// CommandResponse is returned by POST /api/v1/command.
type CommandResponse struct {
	Cmd      string   `json:"cmd"`
	Response Response `json:"response"`
}

// OutputsResponse is returned by GET /api/v1/outputs.
type OutputsResponse struct {
	Outputs []OutputDescriptor `json:"outputs"`
}
