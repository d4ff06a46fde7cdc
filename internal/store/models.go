package store

import "time"

// RunRecord is the persisted form of one pipeline run.
type RunRecord struct {
	ID             string    `gorm:"column:id;primaryKey"`
	Request        string    `gorm:"column:request;not null;default:''"`
	Status         string    `gorm:"column:status;not null;default:'';index"`
	Error          string    `gorm:"column:error;not null;default:''"`
	Plan           *string   `gorm:"column:plan"`
	CodeChanges    *string   `gorm:"column:code_changes"`
	TestResults    *string   `gorm:"column:test_results"`
	CompletedSteps string    `gorm:"column:completed_steps;not null;default:'[]'"`
	FilesWritten   string    `gorm:"column:files_written;not null;default:'[]'"`
	Activity       string    `gorm:"column:activity;not null;default:'[]'"`
	StartedAt      time.Time `gorm:"column:started_at;index"`
	FinishedAt     time.Time `gorm:"column:finished_at"`
}

func (RunRecord) TableName() string {
	return "runs"
}
