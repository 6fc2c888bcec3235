package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"deskpilot/internal/domain"
	"deskpilot/internal/uimem"
)

// Executor routes tool calls; implemented by the action router.
type Executor interface {
	Execute(ctx context.Context, tool string, args map[string]any) domain.Outcome
}

// API exposes routing and element-memory operations over HTTP for the
// agent loop and debugging. Operational failures come back as structured
// JSON bodies, not 5xx responses.
type API struct {
	executor Executor
	elements *uimem.Service
	logger   *slog.Logger
}

func NewAPI(executor Executor, elements *uimem.Service, logger *slog.Logger) *API {
	return &API{executor: executor, elements: elements, logger: logger}
}

// Register attaches the API routes to the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/execute", a.handleExecute)
	mux.HandleFunc("POST /api/grid", a.handleGrid)
	mux.HandleFunc("POST /api/elements/lookup", a.handleLookup)
	mux.HandleFunc("POST /api/elements/cache", a.handleCache)
	mux.HandleFunc("POST /api/elements/confirm", a.handleConfirm)
	mux.HandleFunc("POST /api/elements/deny", a.handleDeny)
	mux.HandleFunc("POST /api/elements/invalidate", a.handleInvalidate)
	mux.HandleFunc("GET /api/elements/stats", a.handleStats)
}

type executeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "tool is required"})
		return
	}

	outcome := a.executor.Execute(r.Context(), req.Tool, req.Arguments)

	switch o := outcome.(type) {
	case domain.LocalRoute:
		writeJSON(w, http.StatusOK, map[string]any{"route": "local"})
	case domain.ApprovalRequired:
		writeJSON(w, http.StatusOK, map[string]any{
			"approvalRequired": true,
			"tool":             o.Tool,
			"arguments":        o.Arguments,
			"message":          o.Message,
		})
	case domain.RemoteResult:
		writeJSON(w, http.StatusOK, map[string]any{
			"route":   "remote",
			"success": o.Success,
			"error":   o.Error,
			"result":  o.Payload,
		})
	default:
		a.logger.Error("unknown outcome variant", "tool", req.Tool)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "unknown outcome"})
	}
}

type gridRequest struct {
	ScreenWidth  int                 `json:"screenWidth"`
	ScreenHeight int                 `json:"screenHeight"`
	Elements     []uimem.GridElement `json:"elements"`
}

func (a *API) handleGrid(w http.ResponseWriter, r *http.Request) {
	var req gridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	grid := uimem.RenderGrid(req.Elements, req.ScreenWidth, req.ScreenHeight)
	writeJSON(w, http.StatusOK, map[string]any{"grid": grid})
}

type elementRequest struct {
	Key        string  `json:"key"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	BoxWidth   int     `json:"boxWidth,omitempty"`
	BoxHeight  int     `json:"boxHeight,omitempty"`
	Confidence float64 `json:"confidence"`
}

func (a *API) handleLookup(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeElement(w, r)
	if !ok {
		return
	}
	el, hit := a.elements.Lookup(req.Key, req.Width, req.Height)
	if !hit {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "element": el})
}

func (a *API) handleCache(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeElement(w, r)
	if !ok {
		return
	}
	pos := uimem.Position{X: req.X, Y: req.Y, Width: req.BoxWidth, Height: req.BoxHeight}
	if err := a.elements.Cache(req.Key, req.Width, req.Height, pos, req.Confidence); err != nil {
		a.logger.Error("element cache write failed", "key", req.Key, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "cache write failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	a.mutateElement(w, r, a.elements.Confirm)
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	a.mutateElement(w, r, a.elements.Deny)
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	a.mutateElement(w, r, a.elements.Invalidate)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st := a.elements.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":              st.Count,
		"trustedCount":       st.TrustedCount,
		"oldestEntrySeconds": int64(st.OldestEntryAge.Seconds()),
	})
}

func (a *API) mutateElement(w http.ResponseWriter, r *http.Request, op func(key string) error) {
	req, ok := a.decodeElement(w, r)
	if !ok {
		return
	}
	if err := op(req.Key); err != nil {
		a.logger.Error("element mutation failed", "key", req.Key, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "cache write failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "trusted": a.elements.IsTrusted(req.Key)})
}

func (a *API) decodeElement(w http.ResponseWriter, r *http.Request) (elementRequest, bool) {
	var req elementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return req, false
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "key is required"})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
