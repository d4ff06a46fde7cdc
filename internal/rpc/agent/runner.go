package agent

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	pipeline "github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/rpc"
)

// ErrBusy is returned when a run is already in flight.
var ErrBusy = errors.New("a pipeline run is already in progress")

// Runner executes a run and yields streamed events.
type Runner interface {
	Run(ctx context.Context, req rpc.RunFlowRequest) (<-chan rpc.RunFlowEvent, error)
}

// Pipeline is the orchestrator entry point.
type Pipeline interface {
	Run(ctx context.Context, userRequest string, obs pipeline.Observer) pipeline.Result
}

// History persists finished runs.
type History interface {
	Save(ctx context.Context, request string, res pipeline.Result) error
}

// FlowRunner bridges the orchestrator to RPC events. It admits one run at a time.
//
// Runs execute under Lifetime rather than the caller's context: a client that disconnects stops
// receiving events but does not abort a run that may already be writing files.
type FlowRunner struct {
	Pipeline Pipeline
	History  History
	Logger   *zap.Logger
	Lifetime context.Context

	busy atomic.Bool
}

// Run starts a pipeline run and streams its activity, its result and a final done event.
func (r *FlowRunner) Run(ctx context.Context, req rpc.RunFlowRequest) (<-chan rpc.RunFlowEvent, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	out := make(chan rpc.RunFlowEvent, 16)
	go func() {
		defer close(out)
		defer r.busy.Store(false)

		send := func(ev rpc.RunFlowEvent) {
			ev.CorrelationID = req.CorrelationID
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}

		res := r.execute(req.UserRequest, pipeline.ObserverFunc(func(a pipeline.Activity) {
			send(rpc.RunFlowEvent{Type: rpc.EventActivity, Activity: &a})
		}))

		send(rpc.RunFlowEvent{Type: rpc.EventResult, RunID: res.ID, Result: &res})
		if res.Status == pipeline.StatusError {
			send(rpc.RunFlowEvent{Type: rpc.EventError, RunID: res.ID, Error: res.Error})
		}
		send(rpc.RunFlowEvent{Type: rpc.EventDone, RunID: res.ID, Done: true})
	}()
	return out, nil
}

// RunSync runs the pipeline to completion and returns its result.
func (r *FlowRunner) RunSync(ctx context.Context, userRequest string) (pipeline.Result, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return pipeline.Result{}, ErrBusy
	}
	defer r.busy.Store(false)
	return r.execute(userRequest, nil), nil
}

// Busy reports whether a run is in flight.
func (r *FlowRunner) Busy() bool {
	return r.busy.Load()
}

func (r *FlowRunner) execute(userRequest string, obs pipeline.Observer) pipeline.Result {
	ctx := r.Lifetime
	if ctx == nil {
		ctx = context.Background()
	}

	res := r.Pipeline.Run(ctx, userRequest, obs)
	if r.History != nil {
		if err := r.History.Save(ctx, userRequest, res); err != nil {
			r.logger().Warn("failed to save run", zap.String("run_id", res.ID), zap.Error(err))
		}
	}
	return res
}

func (r *FlowRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
