// Package hooks fans billing and account lifecycle events out to external
// listeners. Operators can bridge point movements into accounting systems or
// notification pipelines by attaching a script handler.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// EventType names the lifecycle transitions the server exports.
type EventType string

const (
	// EventUserRegistered is emitted after a new account is created.
	EventUserRegistered EventType = "modul.user.registered"
	// EventPointsDebited is emitted when a generation request spends points.
	EventPointsDebited EventType = "modul.points.debited"
	// EventPointsRefunded is emitted when a failed generation returns points.
	EventPointsRefunded EventType = "modul.points.refunded"
	// EventTransactionCompleted is emitted when a purchase confirms and credits.
	EventTransactionCompleted EventType = "modul.transaction.completed"
	// EventPricingUpdated is emitted when an admin replaces the pricing config.
	EventPricingUpdated EventType = "modul.pricing.updated"
)

// Event envelopes the concrete payload broadcast to hook listeners.
type Event struct {
	ID         string         // globally unique event identifier
	Type       EventType      // lifecycle transition identifier
	OccurredAt time.Time      // timestamp of emission
	UserID     int64          // account associated with the event
	Points     int64          // point delta, when the event moves points
	Metadata   map[string]any // extensible JSON-friendly payload
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// Dispatcher coordinates handler registration and event fan-out.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// Register adds a new handler. Handlers fire sequentially in registration
// order so operators can reason about side effects.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers an event to all registered handlers. Errors are aggregated
// so callers can surface each failure in logs.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ScriptConfig describes how to invoke an external command when events fire.
type ScriptConfig struct {
	Command string            // required executable (absolute or PATH lookup)
	Args    []string          // static arguments passed to the executable
	Env     map[string]string // optional environment overrides
	Timeout time.Duration     // optional max execution time
}

// MarshalEvent converts an Event into the wire format presented to scripts.
var MarshalEvent = JSONMarshaler

// NewScriptHandler returns a Handler that pipes the marshalled event to a
// configured executable via STDIN.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parentCtx context.Context, evt Event) error {
		if cfg.Command == "" {
			return fmt.Errorf("hooks: command not configured")
		}

		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parentCtx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, val))
			}
			cmd.Env = env
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("hooks: stdin pipe: %w", err)
		}

		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hooks: command failed: %w", err)
		}

		return nil
	}
}

// JSONMarshaler serialises the event into a stable JSON envelope.
func JSONMarshaler(evt Event) ([]byte, error) {
	envelope := struct {
		ID         string         `json:"id"`
		Type       EventType      `json:"type"`
		OccurredAt time.Time      `json:"occurred_at"`
		UserID     int64          `json:"user_id"`
		Points     int64          `json:"points"`
		Metadata   map[string]any `json:"metadata"`
	}{
		ID:         evt.ID,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		UserID:     evt.UserID,
		Points:     evt.Points,
		Metadata:   evt.Metadata,
	}
	return json.Marshal(envelope)
}

// Config captures hook-related settings exposed via files/env.
type Config struct {
	Enabled    bool              `json:"enabled"`
	ScriptPath string            `json:"script_path"`
	ScriptArgs []string          `json:"script_args"`
	Env        map[string]string `json:"env"`
	Timeout    time.Duration     `json:"timeout"`
}

// Validate ensures the configuration is coherent before handlers are wired.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ScriptPath == "" {
		return fmt.Errorf("hooks: script_path required when enabled")
	}
	return nil
}

// BuildScriptHandler constructs the handler declared in Config.
func (c Config) BuildScriptHandler() Handler {
	if !c.Enabled {
		return nil
	}
	cfg := ScriptConfig{
		Command: c.ScriptPath,
		Args:    c.ScriptArgs,
		Env:     c.Env,
		Timeout: c.Timeout,
	}
	return NewScriptHandler(cfg)
}
