package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"pawchat/internal/connection"
	"pawchat/internal/metrics"
)

// Invoker is the connection the gateway guards.
type Invoker interface {
	State() connection.State
	Call(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	Send(ctx context.Context, method string, args ...any) error
}

const (
	outcomeOK      = "ok"
	outcomeSent    = "sent"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Gateway is the only path for outbound hub calls. It never returns an error: a call
// that was skipped because the connection is not ready and a call that failed both
// report false.
type Gateway struct {
	conn    Invoker
	logger  *zap.Logger
	metrics *metrics.Client
}

func New(conn Invoker, logger *zap.Logger, m *metrics.Client) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		conn:    conn,
		logger:  logger.With(zap.String("component", "gateway")),
		metrics: m,
	}
}

// Ready reports whether calls would currently be attempted.
func (g *Gateway) Ready() bool {
	return g.conn.State() == connection.StateConnected
}

// Invoke performs method and returns its raw result. ok is false when nothing happened.
func (g *Gateway) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, bool) {
	if !g.admit(method) {
		return nil, false
	}
	result, err := g.conn.Call(ctx, method, args...)
	if err != nil {
		g.logger.Error("invoke failed", zap.String("method", method), zap.Error(err))
		g.metrics.IncInvocation(method, outcomeFailed)
		return nil, false
	}
	g.metrics.IncInvocation(method, outcomeOK)
	return result, true
}

// InvokeInto performs method and decodes its result into dst.
func (g *Gateway) InvokeInto(ctx context.Context, dst any, method string, args ...any) bool {
	result, ok := g.Invoke(ctx, method, args...)
	if !ok {
		return false
	}
	if len(result) == 0 || string(result) == "null" {
		g.logger.Error("invoke returned no result", zap.String("method", method))
		return false
	}
	if err := json.Unmarshal(result, dst); err != nil {
		g.logger.Error("decode invoke result", zap.String("method", method), zap.Error(err))
		return false
	}
	return true
}

// Send performs method without waiting for a completion. Use it from push handlers,
// which run on the connection's read goroutine.
func (g *Gateway) Send(ctx context.Context, method string, args ...any) bool {
	if !g.admit(method) {
		return false
	}
	if err := g.conn.Send(ctx, method, args...); err != nil {
		g.logger.Error("send failed", zap.String("method", method), zap.Error(err))
		g.metrics.IncInvocation(method, outcomeFailed)
		return false
	}
	g.metrics.IncInvocation(method, outcomeSent)
	return true
}

func (g *Gateway) admit(method string) bool {
	state := g.conn.State()
	if state == connection.StateConnected {
		return true
	}
	g.logger.Warn("invoke skipped", zap.String("method", method), zap.String("state", state.String()))
	g.metrics.IncInvocation(method, outcomeSkipped)
	return false
}
