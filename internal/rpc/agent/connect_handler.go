package agent

import (
	"context"
	"errors"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/masbolt/masbolt/internal/observability"
	"github.com/masbolt/masbolt/internal/rpc"
	"github.com/masbolt/masbolt/internal/rpc/connectjson"
)

const ConnectRunFlowProcedure = "/masbolt.pipeline.v1.PipelineService/RunFlow"

// NewConnectHandler builds a Connect bidi stream handler for RunFlow.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectRunHandler{runner: runner, metrics: metrics}
	return ConnectRunFlowProcedure, connect.NewBidiStreamHandler(ConnectRunFlowProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectRunHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

func (h *connectRunHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.RunFlowStreamRequest, rpc.RunFlowEvent]) error {
	h.metrics.IncActiveStreams("connect")
	defer h.metrics.DecActiveStreams("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Run == nil {
		h.metrics.RecordTransportError("connect", "missing_run")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include run payload"))
	}

	req := *first.Run
	if req.CorrelationID == "" {
		req.CorrelationID = first.CorrelationID
	}

	events, runErr := h.runner.Run(ctx, req)
	if runErr != nil {
		if errors.Is(runErr, ErrBusy) {
			h.metrics.RecordTransportError("connect", "busy")
			return connect.NewError(connect.CodeResourceExhausted, runErr)
		}
		h.metrics.RecordTransportError("connect", "runner_error")
		return connect.NewError(connect.CodeInternal, runErr)
	}

	// A cancel message or a closed request side stops delivery; the run itself continues.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	var sendErr error
	for ev := range events {
		if ctx.Err() != nil {
			continue
		}
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			sendErr = err
			cancel()
		}
	}
	return sendErr
}
