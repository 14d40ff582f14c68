package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"voxloop-server-go/internal/platform/errors"
)

// Handler executes a tool call with validated arguments. A returned error is
// recoverable: it becomes a structured failure payload for the model, never a
// session failure.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Spec describes a tool to the registry and to the language model.
type Spec struct {
	Name        string
	Description string
	Schema      Schema
}

// Result is what a tool invocation hands back to the turn loop. Exactly one
// of Payload or Err is set.
type Result struct {
	Payload string
	Err     *FailureInfo
}

// FailureInfo mirrors the wire shape of a failed tool result.
type FailureInfo struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

// JSON renders the result as the payload string appended to the conversation.
func (r Result) JSON() string {
	if r.Err != nil {
		data, err := sonic.Marshal(r.Err)
		if err != nil {
			return `{"error":"internal","message":"failed to encode tool error"}`
		}
		return string(data)
	}
	return r.Payload
}

// Failed reports whether the invocation produced an error payload.
func (r Result) Failed() bool { return r.Err != nil }

func failure(kind, message string) Result {
	return Result{Err: &FailureInfo{Kind: kind, Message: message}}
}

type entry struct {
	spec    Spec
	handler Handler
}

// Registry holds the tools available to one session. Registration happens at
// session setup; the set is immutable afterwards (Freeze), matching the rule
// that the model's tool list cannot change mid-conversation.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	order  []string
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. Duplicate names and post-freeze registration are
// programming errors surfaced as KindTool.
func (r *Registry) Register(spec Spec, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New(errors.KindTool, "register",
			fmt.Sprintf("registry is frozen, cannot add %q", spec.Name))
	}
	if spec.Name == "" {
		return errors.New(errors.KindTool, "register", "tool name is empty")
	}
	if handler == nil {
		return errors.New(errors.KindTool, "register",
			fmt.Sprintf("tool %q has nil handler", spec.Name))
	}
	if _, exists := r.tools[spec.Name]; exists {
		return errors.New(errors.KindTool, "register",
			fmt.Sprintf("tool %q already registered", spec.Name))
	}

	r.tools[spec.Name] = entry{spec: spec, handler: handler}
	r.order = append(r.order, spec.Name)
	return nil
}

// Freeze closes the registry for further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Specs returns tool specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].spec)
	}
	return out
}

// Execute runs a tool call end to end: decode arguments, validate against the
// schema, invoke the handler with panic recovery. Every failure mode returns a
// structured Result; Execute itself never returns a Go error to the turn loop.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (result Result) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return failure("unknown_tool", fmt.Sprintf("no tool named %q is registered", name))
	}

	args := map[string]interface{}{}
	if argsJSON != "" {
		if err := sonic.Unmarshal([]byte(argsJSON), &args); err != nil {
			return failure("invalid_arguments", fmt.Sprintf("arguments are not valid JSON: %v", err))
		}
	}

	if err := e.spec.Schema.Validate(args); err != nil {
		return failure("invalid_arguments", err.Error())
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = failure("handler_panic", fmt.Sprintf("tool %q panicked: %v", name, rec))
		}
	}()

	value, err := e.handler(ctx, args)
	if err != nil {
		return failure("execution_failed", err.Error())
	}

	data, err := sonic.Marshal(value)
	if err != nil {
		return failure("encoding_failed", fmt.Sprintf("tool %q result not serializable: %v", name, err))
	}
	return Result{Payload: string(data)}
}
