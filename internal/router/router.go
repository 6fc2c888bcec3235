// Package router decides where each tool call executes: in-process on the
// local machine, behind a human approval gate, or delegated to a remote
// desktop client over the gateway. For delegated calls it owns the
// command/ack correlation table.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/metrics"
)

const (
	defaultActionTimeout = 30 * time.Second
	defaultFrameMaxAge   = 2 * time.Second
)

// Config holds the router-wide settings. One router per process.
type Config struct {
	Mode           domain.ExecutionMode
	TargetClientID string        // optional pinned remote peer
	ActionTimeout  time.Duration // how long to wait for a delegated ack
	FrameMaxAge    time.Duration // max age of a cached frame considered fresh
}

// Classifier maps tool names to risk tiers.
type Classifier interface {
	Risk(tool string) domain.ToolRisk
}

// FrameSource is optionally implemented by the registry. A fresh enough
// frame lets the router answer screenshot calls without a round trip.
type FrameSource interface {
	LatestFrame(clientID string) (payload string, capturedAt time.Time, ok bool)
}

// Router routes tool calls and correlates delegated commands with their
// asynchronous acks. Safe for concurrent use.
type Router struct {
	cfg        Config
	classifier Classifier
	registry   domain.ConnectionRegistry
	audit      domain.AuditLogger // optional
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]chan map[string]any

	now func() time.Time
}

// New validates the configuration and builds a router. Configuration
// problems surface here, never out of Execute.
func New(cfg Config, classifier Classifier, registry domain.ConnectionRegistry, audit domain.AuditLogger, logger *slog.Logger) (*Router, error) {
	switch cfg.Mode {
	case domain.ModeLocal, domain.ModeRemote:
	default:
		return nil, fmt.Errorf("invalid execution mode %q (must be local or remote)", cfg.Mode)
	}
	if cfg.Mode == domain.ModeRemote && registry == nil {
		return nil, fmt.Errorf("remote mode requires a connection registry")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.FrameMaxAge <= 0 {
		cfg.FrameMaxAge = defaultFrameMaxAge
	}
	return &Router{
		cfg:        cfg,
		classifier: classifier,
		registry:   registry,
		audit:      audit,
		logger:     logger,
		pending:    make(map[string]chan map[string]any),
		now:        time.Now,
	}, nil
}

// Execute routes one tool call. Every operational failure comes back as
// a structured Outcome; Execute itself never fails at runtime.
func (r *Router) Execute(ctx context.Context, tool string, args map[string]any) domain.Outcome {
	if r.cfg.Mode == domain.ModeLocal {
		return domain.LocalRoute{}
	}

	risk := r.classifier.Risk(tool)
	switch risk {
	case domain.RiskSafe:
		// Safe tools run in-process even in remote mode.
		r.logRoute(ctx, tool, risk, "local", "", "", "ok", "")
		return domain.LocalRoute{}

	case domain.RiskApproval:
		r.logger.Info("tool requires approval", "tool", tool)
		r.logRoute(ctx, tool, risk, "approval", "", "", "pending_approval", "")
		return domain.ApprovalRequired{
			Tool:      tool,
			Arguments: args,
			Message:   fmt.Sprintf("Tool %q requires human approval before it can run.", tool),
		}

	default:
		return r.executeRemote(ctx, tool, args)
	}
}

func (r *Router) executeRemote(ctx context.Context, tool string, args map[string]any) domain.Outcome {
	target, ok := r.resolveTarget()
	if !ok {
		r.logger.Error("delegated call has no target", "tool", tool)
		r.logRoute(ctx, tool, domain.RiskDelegated, "remote", "", "", "no_client", "")
		return domain.RemoteResult{Success: false, Error: "no desktop client connected"}
	}

	// Screenshot fast path: a frame younger than FrameMaxAge is as good
	// as a fresh capture and saves a full round trip.
	if tool == "screenshot" {
		if fs, isSource := r.registry.(FrameSource); isSource {
			if payload, capturedAt, fresh := fs.LatestFrame(target); fresh && r.now().Sub(capturedAt) <= r.cfg.FrameMaxAge {
				metrics.FrameCacheHits.Inc()
				r.logRoute(ctx, tool, domain.RiskDelegated, "remote", target, "", "ok", "cached frame")
				return domain.RemoteResult{Success: true, Payload: map[string]any{
					"frame":      payload,
					"cached":     true,
					"capturedAt": float64(capturedAt.UnixNano()) / 1e9,
				}}
			}
		}
	}

	commandID := newCommandID()
	envelope := domain.CommandEnvelope{
		Type:      domain.MessageTypeExecuteAction,
		CommandID: commandID,
		Tool:      tool,
		Arguments: args,
		Timestamp: float64(r.now().UnixNano()) / 1e9,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return domain.RemoteResult{Success: false, Error: "encode command: " + err.Error()}
	}

	resultCh := make(chan map[string]any, 1)
	r.mu.Lock()
	r.pending[commandID] = resultCh
	r.mu.Unlock()
	// Cleanup is unconditional: fulfilled, timed out, failed, or
	// cancelled, the entry never outlives this call.
	defer r.removePending(commandID)

	if err := r.registry.Send(target, data); err != nil {
		r.logger.Error("send to desktop client failed", "tool", tool, "client_id", target, "err", err)
		r.logRoute(ctx, tool, domain.RiskDelegated, "remote", target, commandID, "error", err.Error())
		return domain.RemoteResult{Success: false, Error: err.Error()}
	}

	metrics.DelegatedTotal.Inc()
	r.logger.Debug("delegated command sent", "tool", tool, "client_id", target, "command_id", commandID)

	timer := time.NewTimer(r.cfg.ActionTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		r.logRoute(ctx, tool, domain.RiskDelegated, "remote", target, commandID, "ok", "")
		return domain.RemoteResult{Success: true, Payload: result}

	case <-timer.C:
		metrics.DelegatedTimeout.Inc()
		errMsg := fmt.Sprintf("desktop client did not respond within %.0fs", r.cfg.ActionTimeout.Seconds())
		r.logger.Error("delegated command timed out", "tool", tool, "client_id", target, "command_id", commandID)
		r.logRoute(ctx, tool, domain.RiskDelegated, "remote", target, commandID, "timeout", "")
		return domain.RemoteResult{Success: false, Error: errMsg}

	case <-ctx.Done():
		r.logRoute(ctx, tool, domain.RiskDelegated, "remote", target, commandID, "error", ctx.Err().Error())
		return domain.RemoteResult{Success: false, Error: ctx.Err().Error()}
	}
}

// HandleAck resolves the pending command with the peer's result. Returns
// false for unknown or already-resolved ids: a late or duplicate ack is
// an orphan, logged and discarded, never an error.
func (r *Router) HandleAck(commandID string, result map[string]any) bool {
	r.mu.Lock()
	resultCh, ok := r.pending[commandID]
	if ok {
		// Removing under the lock makes resolution exactly-once: a
		// second ack for the same id can no longer find the entry.
		delete(r.pending, commandID)
	}
	r.mu.Unlock()

	if !ok {
		metrics.OrphanAcks.Inc()
		r.logger.Warn("orphan ack discarded", "command_id", commandID)
		return false
	}

	resultCh <- result // buffered, never blocks
	return true
}

// PendingCount reports in-flight delegated commands.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Mode reports the configured execution mode.
func (r *Router) Mode() domain.ExecutionMode {
	return r.cfg.Mode
}

// resolveTarget picks the delegation target: the pinned client when it is
// currently connected, otherwise the first connected desktop-type client.
func (r *Router) resolveTarget() (string, bool) {
	if r.cfg.TargetClientID != "" {
		if _, connected := r.registry.ClientInfo(r.cfg.TargetClientID); connected {
			return r.cfg.TargetClientID, true
		}
		r.logger.Warn("pinned desktop client not connected, scanning", "client_id", r.cfg.TargetClientID)
	}

	for _, id := range r.registry.ActiveClientIDs() {
		info, ok := r.registry.ClientInfo(id)
		if ok && domain.DesktopClientTypes[info.ClientType] {
			return id, true
		}
	}
	return "", false
}

func (r *Router) removePending(commandID string) {
	r.mu.Lock()
	delete(r.pending, commandID)
	r.mu.Unlock()
}

func (r *Router) logRoute(ctx context.Context, tool string, risk domain.ToolRisk, route, clientID, commandID, outcome, details string) {
	if r.audit == nil {
		return
	}
	entry := domain.RouteAudit{
		Tool:      tool,
		Risk:      string(risk),
		Route:     route,
		ClientID:  clientID,
		CommandID: commandID,
		Outcome:   outcome,
		Details:   details,
	}
	if err := r.audit.LogRoute(ctx, entry); err != nil {
		r.logger.Warn("audit write failed", "tool", tool, "err", err)
	}
}

// newCommandID returns an opaque correlation token, e.g. "cmd_3f9a0c21d4b7".
func newCommandID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to a time-derived id rather than crash the call.
		return fmt.Sprintf("cmd_%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return "cmd_" + hex.EncodeToString(b[:])
}
