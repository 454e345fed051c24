package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/jobs/worker"
	"github.com/trendsift/trendsift-backend/internal/services"
)

// DiscoveryRunHandler adapts queued discovery_run tasks onto the dispatcher.
type DiscoveryRunHandler struct {
	dispatcher *services.Dispatcher
}

func NewDiscoveryRunHandler(dispatcher *services.Dispatcher) *DiscoveryRunHandler {
	return &DiscoveryRunHandler{dispatcher: dispatcher}
}

func (h *DiscoveryRunHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	var p services.TaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode discovery run payload: %w", err)
	}
	return h.dispatcher.HandleTask(ctx, p)
}

func (h *DiscoveryRunHandler) OnExhausted(ctx context.Context, payload json.RawMessage, lastError string) error {
	var p services.TaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode discovery run payload: %w", err)
	}
	return h.dispatcher.HandleTaskFailure(ctx, p, lastError)
}

// RegisterAll wires every task handler into the worker registry.
func RegisterAll(reg *worker.Registry, dispatcher *services.Dispatcher) {
	reg.Register(types.TaskTypeDiscoveryRun, NewDiscoveryRunHandler(dispatcher))
}
