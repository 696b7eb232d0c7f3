package mcp

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter throttles tool traffic. Requests first wait on the global limiter, then on
// the limiter of their method; tool calls additionally wait on the limiter of the tool, or
// the "*" limiter when the tool has none of its own. A nil *RateLimiter admits everything.
// The limits are fixed at construction.
type RateLimiter struct {
	global  *rate.Limiter
	methods map[string]*rate.Limiter
	tools   map[string]*rate.Limiter
}

// RateLimitConfig defines rate limiting settings. A zero GlobalRPS disables the global
// limit.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int

	MethodRPS   map[string]float64
	MethodBurst map[string]int

	// ToolRPS is keyed by tool name; "*" applies to tools without their own entry.
	ToolRPS   map[string]float64
	ToolBurst map[string]int
}

// NewRateLimiter creates a rate limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		methods: make(map[string]*rate.Limiter),
		tools:   make(map[string]*rate.Limiter),
	}
	if cfg.GlobalRPS > 0 {
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burstOrOne(cfg.GlobalBurst))
	}
	for method, rps := range cfg.MethodRPS {
		rl.methods[method] = rate.NewLimiter(rate.Limit(rps), burstOrOne(cfg.MethodBurst[method]))
	}
	for tool, rps := range cfg.ToolRPS {
		rl.tools[tool] = rate.NewLimiter(rate.Limit(rps), burstOrOne(cfg.ToolBurst[tool]))
	}

	return rl
}

// Allow blocks until a request for method may proceed or ctx is done.
func (rl *RateLimiter) Allow(ctx context.Context, method string) error {
	if rl == nil {
		return nil
	}
	if rl.global != nil {
		if err := rl.global.Wait(ctx); err != nil {
			return err
		}
	}

	if limiter, exists := rl.methods[method]; exists {
		return limiter.Wait(ctx)
	}
	return nil
}

// AllowTool blocks until a call of the named tool may proceed or ctx is done.
func (rl *RateLimiter) AllowTool(ctx context.Context, toolName string) error {
	if rl == nil {
		return nil
	}

	limiter, exists := rl.tools[toolName]
	if !exists {
		limiter = rl.tools["*"]
	}

	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func burstOrOne(burst int) int {
	if burst < 1 {
		return 1
	}
	return burst
}

func rateLimitError(subject string, err error) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCServerErrorCode,
		Message: fmt.Sprintf("rate limit exceeded for %s: %s", subject, err),
	}
}
