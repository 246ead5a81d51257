package actions

import (
	"context"
	"time"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// WaitHandler implements the wait action: suspend for durationMs,
// waking early if the run is cancelled.
type WaitHandler struct{}

func NewWaitHandler() *WaitHandler { return &WaitHandler{} }

func (h *WaitHandler) Execute(ctx context.Context, cfg rules.ActionConfig, _ *rules.ExecutionContext) (map[string]any, error) {
	durationMs := intParam(cfg.Params, "durationMs", 0)
	if durationMs <= 0 {
		return nil, Validationf("param %q must be a positive integer", "durationMs")
	}

	timer := time.NewTimer(time.Duration(durationMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"waitedMs": durationMs}, nil
	case <-ctx.Done():
		return nil, NewActionError(KindTimeout, ctx.Err())
	}
}
