package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/config"
	"github.com/masbolt/masbolt/internal/llm"
	"github.com/masbolt/masbolt/internal/parser"
	"github.com/masbolt/masbolt/internal/semantic"
)

const (
	defaultMaxTokens = 2000
	defaultModel     = "claude-2"
)

// ErrEmptyRequest is reported when the user request is blank.
var ErrEmptyRequest = errors.New("userRequest is required")

// FileStore is the part of the file store the pipeline uses.
type FileStore interface {
	Snapshot(ctx context.Context) (map[string]string, error)
	SaveFile(ctx context.Context, path, content string) error
	IsRecorded(path string) bool
	RecordModification(path, content string)
}

// Options configures an Orchestrator.
type Options struct {
	Pipeline config.PipelineConfig
	Logger   *zap.Logger
	Recorder Recorder
	// Ranker orders files when Pipeline.MaxContextBytes is set; a default engine is used when nil.
	Ranker *semantic.Engine
	Now    func() time.Time
	NewID  func() string
}

// Orchestrator runs the plan, code and test pipeline. Runs are independent; callers that share a
// file store should not run two at once.
type Orchestrator struct {
	strategy *StrategyEngine
	store    FileStore
	cfg      config.PipelineConfig
	logger   *zap.Logger
	recorder Recorder
	ranker   *semantic.Engine
	now      func() time.Time
	newID    func() string
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(strategy *StrategyEngine, store FileStore, opts Options) *Orchestrator {
	o := &Orchestrator{
		strategy: strategy,
		store:    store,
		cfg:      opts.Pipeline,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		ranker:   opts.Ranker,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.ranker == nil {
		o.ranker = semantic.NewEngine(0)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// RunMultiAgentFlow runs the pipeline for userRequest without an observer.
func (o *Orchestrator) RunMultiAgentFlow(ctx context.Context, userRequest string) Result {
	return o.Run(ctx, userRequest, nil)
}

// Run executes Init, Planning, Coding and Testing in order and classifies the outcome by the
// number of committed stages. Stages are never retried here.
func (o *Orchestrator) Run(ctx context.Context, userRequest string, obs Observer) Result {
	r := &run{
		o:      o,
		obs:    obs,
		logger: o.logger,
		result: Result{
			ID:             o.newID(),
			Status:         StatusError,
			CompletedSteps: []Stage{},
			FilesWritten:   []string{},
			Activity:       []Activity{},
			StartedAt:      o.now(),
		},
	}
	r.logger = r.logger.With(zap.String("run_id", r.result.ID))

	err := r.execute(ctx, userRequest)
	r.finish(err)

	if o.recorder != nil {
		o.recorder.RecordRun(string(r.result.Status), r.result.FinishedAt.Sub(r.result.StartedAt))
	}
	return r.result
}

type run struct {
	o      *Orchestrator
	obs    Observer
	logger *zap.Logger

	mu     sync.Mutex
	result Result
}

func (r *run) execute(ctx context.Context, userRequest string) error {
	userRequest = strings.TrimSpace(userRequest)
	if userRequest == "" {
		return ErrEmptyRequest
	}

	var currentCode string
	if err := r.stage(StageInit, func() error {
		files, err := r.snapshot(ctx, userRequest)
		if err != nil {
			return err
		}
		currentCode = parser.FormatFiles(files)
		return nil
	}); err != nil {
		return err
	}

	var plan string
	if err := r.stage(StagePlanning, func() error {
		out, err := r.complete(ctx, RolePlanner, plannerPrompt(userRequest))
		if err != nil {
			return err
		}
		plan = out
		r.commit(StagePlanning, func(res *Result) { res.Plan = &plan })
		return nil
	}); err != nil {
		return err
	}

	var code string
	if err := r.stage(StageCoding, func() error {
		out, err := r.complete(ctx, RoleCoder, coderPrompt(userRequest, plan, currentCode))
		if err != nil {
			return err
		}
		code = out
		r.commit(StageCoding, func(res *Result) { res.CodeChanges = &code })
		return r.apply(ctx, code)
	}); err != nil {
		return err
	}

	return r.stage(StageTesting, func() error {
		files, err := r.snapshot(ctx, userRequest)
		if err != nil {
			return err
		}
		out, err := r.complete(ctx, RoleTester, testerPrompt(userRequest, plan, parser.FormatFiles(files)))
		if err != nil {
			return err
		}
		r.commit(StageTesting, func(res *Result) { res.TestResults = &out })
		return nil
	})
}

func (r *run) stage(stage Stage, fn func() error) error {
	start := r.o.now()
	r.emit(Activity{Kind: ActivityStageStarted, Stage: stage, Message: fmt.Sprintf("%s started", stage)})
	r.logger.Info("stage started", zap.String("stage", string(stage)))

	err := fn()
	elapsed := r.o.now().Sub(start)
	if r.o.recorder != nil {
		r.o.recorder.RecordStage(string(stage), err != nil, elapsed)
	}
	if err != nil {
		r.emit(Activity{Kind: ActivityStageFailed, Stage: stage, Message: err.Error()})
		r.logger.Warn("stage failed", zap.String("stage", string(stage)), zap.Duration("elapsed", elapsed), zap.Error(err))
		return fmt.Errorf("%s: %w", stage, err)
	}
	r.emit(Activity{Kind: ActivityStageCompleted, Stage: stage, Message: fmt.Sprintf("%s completed", stage)})
	r.logger.Info("stage completed", zap.String("stage", string(stage)), zap.Duration("elapsed", elapsed))
	return nil
}

// commit stores a stage output and marks the stage completed before any later side effects.
func (r *run) commit(stage Stage, set func(*Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set(&r.result)
	r.result.CompletedSteps = append(r.result.CompletedSteps, stage)
}

func (r *run) snapshot(ctx context.Context, userRequest string) (map[string]string, error) {
	files, err := r.o.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if budget := r.o.cfg.MaxContextBytes; budget > 0 {
		selected, dropped := r.o.ranker.Select(userRequest, files, budget)
		if len(dropped) > 0 {
			r.logger.Info("context budget applied",
				zap.Int("budget_bytes", budget),
				zap.Int("kept", len(selected)),
				zap.Int("dropped", len(dropped)),
			)
		}
		files = selected
	}
	return files, nil
}

func (r *run) complete(ctx context.Context, role Role, prompt string) (string, error) {
	provider, route, err := r.o.strategy.ResolveModel(role)
	if err != nil {
		return "", fmt.Errorf("resolve %s model: %w", role, err)
	}

	req := llm.CompletionRequest{
		Prompt:      prompt,
		Model:       route.Model,
		MaxTokens:   pickMaxTokens(route.MaxTokens, r.o.cfg.MaxTokens),
		Temperature: pickTemperature(route.Temperature, r.o.cfg.Temperature),
		TopP:        route.TopP,
		TopK:        route.TopK,
	}
	if req.Model == "" {
		req.Model = defaultModel
	}

	r.logger.Debug("calling model",
		zap.String("role", string(role)),
		zap.String("provider", provider.Name()),
		zap.String("model", req.Model),
		zap.Int("prompt_bytes", len(prompt)),
	)
	out, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	r.logger.Debug("model answered", zap.String("role", string(role)), zap.String("preview", truncateForLog(out.Text, 120)))
	return out.Text, nil
}

// apply writes parsed updates in parser order. The first write failure aborts the rest.
func (r *run) apply(ctx context.Context, code string) error {
	updates := parser.ParseFileChangesWithLogger(code, r.logger)
	if len(updates) == 0 {
		r.logger.Info("coder response contained no file changes")
		return nil
	}

	before, err := r.o.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read files before write: %w", err)
	}

	for _, u := range updates {
		u.Path = sandboxPath(u.Path)
		if u.Path == "" {
			r.logger.Warn("skipping file change without a path")
			continue
		}
		if !r.o.store.IsRecorded(u.Path) {
			r.o.store.RecordModification(u.Path, before[u.Path])
		}
		if err := r.o.store.SaveFile(ctx, u.Path, u.Content); err != nil {
			return fmt.Errorf("write %s: %w", u.Path, err)
		}
		r.mu.Lock()
		r.result.FilesWritten = append(r.result.FilesWritten, u.Path)
		r.mu.Unlock()
		r.emit(Activity{Kind: ActivityFileWritten, Stage: StageCoding, Path: u.Path, Message: fmt.Sprintf("wrote %s", u.Path)})
	}
	return nil
}

// sandboxPath maps a model-supplied path to the store's key form. A leading slash means the
// project root, not the host root; ".." segments are left for the sandbox guard to reject.
func sandboxPath(p string) string {
	return strings.TrimLeft(strings.TrimSpace(p), "/")
}

func (r *run) finish(err error) {
	r.mu.Lock()
	steps := len(r.result.CompletedSteps)
	switch {
	case err == nil && steps == 3:
		r.result.Status = StatusSuccess
	case steps == 0:
		r.result.Status = StatusError
		if err == nil {
			err = errors.New("pipeline stopped before any stage completed")
		}
		r.result.Error = rootMessage(err)
	default:
		r.result.Status = StatusPartial
		switch r.result.CompletedSteps[steps-1] {
		case StagePlanning:
			r.result.Error = PartialAfterPlanning
		case StageCoding:
			r.result.Error = PartialAfterCoding
		}
	}
	status := r.result.Status
	message := r.result.Error
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("pipeline failed", zap.String("status", string(status)), zap.Error(err))
	} else {
		r.logger.Info("pipeline finished", zap.String("status", string(status)))
	}
	if message == "" {
		message = string(status)
	}
	r.emit(Activity{Kind: ActivityDone, Message: message})

	r.mu.Lock()
	r.result.FinishedAt = r.o.now()
	r.mu.Unlock()
}

func (r *run) emit(a Activity) {
	a.At = r.o.now()
	r.mu.Lock()
	r.result.Activity = append(r.result.Activity, a)
	r.mu.Unlock()
	if r.obs != nil {
		r.obs.OnActivity(a)
	}
}

// rootMessage strips the stage prefix added by run.stage so the result carries the provider's message.
func rootMessage(err error) string {
	if u := errors.Unwrap(err); u != nil {
		return u.Error()
	}
	return err.Error()
}

func pickMaxTokens(route, pipeline int) int {
	switch {
	case route > 0:
		return route
	case pipeline > 0:
		return pipeline
	default:
		return defaultMaxTokens
	}
}

func pickTemperature(route, pipeline float64) float64 {
	if route > 0 {
		return route
	}
	return pipeline
}
