package agent

import "time"

// Stage names a pipeline state. Only planning, coding and testing are ever completed.
type Stage string

const (
	StageInit     Stage = "init"
	StagePlanning Stage = "planning"
	StageCoding   Stage = "coding"
	StageTesting  Stage = "testing"
)

// Status is the aggregate outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Messages reported when a run stops after some stages have committed.
const (
	PartialAfterPlanning = "Generated plan but encountered an error during code generation. You can try again or implement the plan manually."
	PartialAfterCoding   = "Generated code changes but encountered an error during testing. You may want to review the changes carefully before implementing."
)

// ActivityKind classifies an activity log entry.
type ActivityKind string

const (
	ActivityStageStarted   ActivityKind = "stage_started"
	ActivityStageCompleted ActivityKind = "stage_completed"
	ActivityStageFailed    ActivityKind = "stage_failed"
	ActivityFileWritten    ActivityKind = "file_written"
	ActivityDone           ActivityKind = "done"
)

// Activity is one entry of a run's activity log.
type Activity struct {
	Kind    ActivityKind `json:"kind"`
	Stage   Stage        `json:"stage,omitempty"`
	Path    string       `json:"path,omitempty"`
	Message string       `json:"message,omitempty"`
	At      time.Time    `json:"at"`
}

// Result is the aggregate outcome of RunMultiAgentFlow.
type Result struct {
	ID             string     `json:"id"`
	Plan           *string    `json:"plan"`
	CodeChanges    *string    `json:"codeChanges"`
	TestResults    *string    `json:"testResults"`
	Status         Status     `json:"status"`
	Error          string     `json:"error,omitempty"`
	CompletedSteps []Stage    `json:"completedSteps"`
	FilesWritten   []string   `json:"filesWritten"`
	Activity       []Activity `json:"activity"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     time.Time  `json:"finishedAt"`
}

// Observer receives activity entries as they happen, in order.
type Observer interface {
	OnActivity(Activity)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Activity)

// OnActivity calls f.
func (f ObserverFunc) OnActivity(a Activity) {
	f(a)
}

// Recorder receives pipeline accounting. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordStage(stage string, failed bool, duration time.Duration)
	RecordRun(status string, duration time.Duration)
}
