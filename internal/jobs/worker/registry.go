package worker

import (
	"context"
	"encoding/json"
)

// Handler executes one claimed task. A nil return settles the delivery; an
// error asks for a reschedule. OnExhausted fires once the task's retry budget
// is spent, so the owning pipeline can conclude whatever the task was for.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
	OnExhausted(ctx context.Context, payload json.RawMessage, lastError string) error
}

// Registry maps queued job types to their handlers. Registration happens once
// during app wiring; lookups after that are read-only.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(jobType string, h Handler) {
	r.handlers[jobType] = h
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}
