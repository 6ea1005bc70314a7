package functions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/refaxbot/refaxbot/internal/metrics"
)

var (
	ErrNotAllowed      = errors.New("function not allowed for this turn")
	ErrUnknownFunction = errors.New("unknown function")
)

// Call is a function-call request issued by the model. Arguments is the raw
// JSON object the model produced.
type Call struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CallContext is the conversation context forwarded with every call.
type CallContext struct {
	PointOfSaleID  string
	ConversationID string
	UserID         string
}

// Result is the uniform outcome of a dispatched call.
type Result struct {
	FunctionName string `json:"function_name"`
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Executor runs business functions. Implementations may fail or panic;
// Dispatcher contains both.
type Executor interface {
	Execute(ctx context.Context, call Call, cc CallContext) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call Call, cc CallContext) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, call Call, cc CallContext) (any, error) {
	return f(ctx, call, cc)
}

// Dispatcher forwards model call requests to an Executor.
type Dispatcher struct {
	executor Executor
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(executor Executor) *Dispatcher {
	return &Dispatcher{executor: executor}
}

// Dispatch runs exactly one call if its name is in allowed. It never returns
// an error: failures, including executor panics, become Success=false.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, allowed []string, cc CallContext) (res Result) {
	res = Result{FunctionName: call.Name}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("functions: executor panicked", "function", call.Name, "panic", r,
				"conversation_id", cc.ConversationID)
			res = Result{FunctionName: call.Name, Error: fmt.Sprintf("function %s failed", call.Name)}
		}
		metrics.FunctionCallsTotal.WithLabelValues(call.Name, strconv.FormatBool(res.Success)).Inc()
	}()

	if !slices.Contains(allowed, call.Name) {
		slog.Warn("functions: model requested disallowed function", "function", call.Name,
			"conversation_id", cc.ConversationID)
		res.Error = ErrNotAllowed.Error()
		return res
	}

	data, err := d.executor.Execute(ctx, call, cc)
	if err != nil {
		slog.Warn("functions: call failed", "function", call.Name, "error", err,
			"conversation_id", cc.ConversationID)
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Data = data
	slog.Debug("functions: call succeeded", "function", call.Name, "conversation_id", cc.ConversationID)
	return res
}
