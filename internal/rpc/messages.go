package rpc

import pipeline "github.com/masbolt/masbolt/internal/agent"

// Event types carried by RunFlowEvent.
const (
	EventActivity = "activity"
	EventResult   = "result"
	EventError    = "error"
	EventDone     = "done"
)

// RunFlowRequest starts one pipeline run.
type RunFlowRequest struct {
	UserRequest   string `json:"user_request"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RunFlowEvent streams back progress from the daemon.
type RunFlowEvent struct {
	Type          string             `json:"type"` // activity|result|error|done
	RunID         string             `json:"run_id,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Activity      *pipeline.Activity `json:"activity,omitempty"`
	Result        *pipeline.Result   `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
	Done          bool               `json:"done,omitempty"`
}

// RunFlowStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the run; a later message may ask to stop streaming.
type RunFlowStreamRequest struct {
	Run           *RunFlowRequest `json:"run,omitempty"`
	Cancel        bool            `json:"cancel,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}
