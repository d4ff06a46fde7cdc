// Package store persists pipeline results in SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/masbolt/masbolt/internal/agent"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is a stored result together with the request that produced it.
type Run struct {
	Request string `json:"request"`
	agent.Result
}

// Summary is the list view of a run.
type Summary struct {
	ID             string        `json:"id"`
	Request        string        `json:"request"`
	Status         agent.Status  `json:"status"`
	Error          string        `json:"error,omitempty"`
	CompletedSteps []agent.Stage `json:"completedSteps"`
	StartedAt      string        `json:"startedAt"`
}

// Store is a run history backed by gorm.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := gdb.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return &Store{db: gdb}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save inserts or replaces the run with res.ID.
func (s *Store) Save(ctx context.Context, request string, res agent.Result) error {
	rec, err := toRecord(request, res)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("save run %s: %w", res.ID, err)
	}
	return nil
}

// Get loads a run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run %s: %w", id, err)
	}
	return fromRecord(rec)
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var recs []RunRecord
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		var steps []agent.Stage
		if err := json.Unmarshal([]byte(rec.CompletedSteps), &steps); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", rec.ID, err)
		}
		if steps == nil {
			steps = []agent.Stage{}
		}
		out = append(out, Summary{
			ID:             rec.ID,
			Request:        rec.Request,
			Status:         agent.Status(rec.Status),
			Error:          rec.Error,
			CompletedSteps: steps,
			StartedAt:      rec.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}

func toRecord(request string, res agent.Result) (RunRecord, error) {
	steps, err := json.Marshal(res.CompletedSteps)
	if err != nil {
		return RunRecord{}, err
	}
	written, err := json.Marshal(res.FilesWritten)
	if err != nil {
		return RunRecord{}, err
	}
	activity, err := json.Marshal(res.Activity)
	if err != nil {
		return RunRecord{}, err
	}
	return RunRecord{
		ID:             res.ID,
		Request:        request,
		Status:         string(res.Status),
		Error:          res.Error,
		Plan:           res.Plan,
		CodeChanges:    res.CodeChanges,
		TestResults:    res.TestResults,
		CompletedSteps: string(steps),
		FilesWritten:   string(written),
		Activity:       string(activity),
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
	}, nil
}

func fromRecord(rec RunRecord) (Run, error) {
	res := agent.Result{
		ID:          rec.ID,
		Plan:        rec.Plan,
		CodeChanges: rec.CodeChanges,
		TestResults: rec.TestResults,
		Status:      agent.Status(rec.Status),
		Error:       rec.Error,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	}
	if err := json.Unmarshal([]byte(rec.CompletedSteps), &res.CompletedSteps); err != nil {
		return Run{}, fmt.Errorf("decode steps: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.FilesWritten), &res.FilesWritten); err != nil {
		return Run{}, fmt.Errorf("decode files: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.Activity), &res.Activity); err != nil {
		return Run{}, fmt.Errorf("decode activity: %w", err)
	}
	if res.CompletedSteps == nil {
		res.CompletedSteps = []agent.Stage{}
	}
	if res.FilesWritten == nil {
		res.FilesWritten = []string{}
	}
	if res.Activity == nil {
		res.Activity = []agent.Activity{}
	}
	return Run{Request: rec.Request, Result: res}, nil
}
