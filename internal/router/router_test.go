package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRegistry records sends and simulates connected clients.
type fakeRegistry struct {
	mu      sync.Mutex
	clients map[string]domain.ClientInfo
	sends   [][]byte
	targets []string
	sendErr error
	onSend  func(data []byte)

	framePayload string
	frameAt      time.Time
}

func newFakeRegistry(clients ...domain.ClientInfo) *fakeRegistry {
	m := make(map[string]domain.ClientInfo)
	for _, c := range clients {
		m[c.ID] = c
	}
	return &fakeRegistry{clients: m}
}

func (f *fakeRegistry) Send(clientID string, text []byte) error {
	f.mu.Lock()
	f.sends = append(f.sends, text)
	f.targets = append(f.targets, clientID)
	hook := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(text)
	}
	return nil
}

func (f *fakeRegistry) ActiveClientIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.clients))
	for id := range f.clients {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRegistry) ClientInfo(clientID string) (domain.ClientInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	return c, ok
}

func (f *fakeRegistry) LatestFrame(clientID string) (string, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.framePayload == "" {
		return "", time.Time{}, false
	}
	return f.framePayload, f.frameAt, true
}

func (f *fakeRegistry) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeRegistry) lastEnvelope(t *testing.T) domain.CommandEnvelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		t.Fatal("no envelope sent")
	}
	var env domain.CommandEnvelope
	if err := json.Unmarshal(f.sends[len(f.sends)-1], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func desktopClient(id string) domain.ClientInfo {
	return domain.ClientInfo{ID: id, ClientType: "desktop_capture", ConnectedAt: time.Now()}
}

func mustRouter(t *testing.T, cfg Config, reg domain.ConnectionRegistry) *Router {
	t.Helper()
	r, err := New(cfg, security.NewClassifier(), reg, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// --- Local mode ---

func TestExecute_LocalModeAlwaysLocal(t *testing.T) {
	r := mustRouter(t, Config{Mode: domain.ModeLocal}, nil)
	ctx := context.Background()

	for _, tool := range []string{"click", "shell", "think", "unknown_tool"} {
		out := r.Execute(ctx, tool, map[string]any{"x": 1})
		if _, ok := out.(domain.LocalRoute); !ok {
			t.Fatalf("Execute(%q) in local mode = %T, want LocalRoute", tool, out)
		}
	}
}

// --- Remote mode routing ---

func TestExecute_SafeToolStaysLocalInRemoteMode(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{Mode: domain.ModeRemote}, reg)

	out := r.Execute(context.Background(), "think", nil)
	if _, ok := out.(domain.LocalRoute); !ok {
		t.Fatalf("safe tool = %T, want LocalRoute", out)
	}
	if reg.sendCount() != 0 {
		t.Fatalf("safe tool contacted registry: %d sends", reg.sendCount())
	}
}

func TestExecute_ApprovalToolNeverContactsRegistry(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{Mode: domain.ModeRemote}, reg)

	out := r.Execute(context.Background(), "shell", map[string]any{"command": "ls"})
	appr, ok := out.(domain.ApprovalRequired)
	if !ok {
		t.Fatalf("approval tool = %T, want ApprovalRequired", out)
	}
	if appr.Tool != "shell" {
		t.Fatalf("approval tool name = %q", appr.Tool)
	}
	if appr.Message == "" {
		t.Fatal("approval message empty")
	}
	if reg.sendCount() != 0 {
		t.Fatalf("approval tool contacted registry: %d sends", reg.sendCount())
	}
}

func TestExecute_NoDesktopClientConnected(t *testing.T) {
	reg := newFakeRegistry() // nobody connected
	r := mustRouter(t, Config{Mode: domain.ModeRemote}, reg)

	out := r.Execute(context.Background(), "click", nil)
	res, ok := out.(domain.RemoteResult)
	if !ok {
		t.Fatalf("got %T, want RemoteResult", out)
	}
	if res.Success {
		t.Fatal("expected failure with no client")
	}
	if res.Error != "no desktop client connected" {
		t.Fatalf("error = %q", res.Error)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d after no-target failure", r.PendingCount())
	}
	if reg.sendCount() != 0 {
		t.Fatal("no-target failure must not send")
	}
}

func TestExecute_NonDesktopClientsIgnored(t *testing.T) {
	reg := newFakeRegistry(domain.ClientInfo{ID: "viewer", ClientType: "web_viewer"})
	r := mustRouter(t, Config{Mode: domain.ModeRemote}, reg)

	out := r.Execute(context.Background(), "click", nil)
	res := out.(domain.RemoteResult)
	if res.Success || res.Error != "no desktop client connected" {
		t.Fatalf("got %+v, want no-client failure", res)
	}
}

// --- Round trip ---

func TestExecute_RoundTrip(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{Mode: domain.ModeRemote, ActionTimeout: 2 * time.Second}, reg)

	want := map[string]any{"clicked": true, "x": float64(10)}
	reg.onSend = func(data []byte) {
		var env domain.CommandEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Errorf("bad envelope: %v", err)
			return
		}
		go r.HandleAck(env.CommandID, want)
	}

	out := r.Execute(context.Background(), "click", map[string]any{"x": 10})
	res, ok := out.(domain.RemoteResult)
	if !ok {
		t.Fatalf("got %T, want RemoteResult", out)
	}
	if !res.Success {
		t.Fatalf("round trip failed: %s", res.Error)
	}
	if res.Payload["clicked"] != true {
		t.Fatalf("payload = %v", res.Payload)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d after resolution", r.PendingCount())
	}
}

func TestExecute_EnvelopeFormat(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{Mode: domain.ModeRemote, ActionTimeout: 50 * time.Millisecond}, reg)

	r.Execute(context.Background(), "type_text", map[string]any{"text": "hi"})

	env := reg.lastEnvelope(t)
	if env.Type != domain.MessageTypeExecuteAction {
		t.Fatalf("type = %q", env.Type)
	}
	if !strings.HasPrefix(env.CommandID, "cmd_") || len(env.CommandID) != len("cmd_")+12 {
		t.Fatalf("command id = %q, want cmd_<12 hex>", env.CommandID)
	}
	if env.Tool != "type_text" {
		t.Fatalf("tool = %q", env.Tool)
	}
	if env.Arguments["text"] != "hi" {
		t.Fatalf("arguments = %v", env.Arguments)
	}
	if env.Timestamp <= 0 {
		t.Fatalf("timestamp = %v", env.Timestamp)
	}
}

func TestExecute_Timeout(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	timeout := 80 * time.Millisecond
	r := mustRouter(t, Config{Mode: domain.ModeRemote, ActionTimeout: timeout}, reg)

	start := time.Now()
	out := r.Execute(context.Background(), "click", nil)
	elapsed := time.Since(start)

	res := out.(domain.RemoteResult)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Error, "did not respond") {
		t.Fatalf("error = %q", res.Error)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Fatalf("timeout took %v, limit %v", elapsed, timeout)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d after timeout", r.PendingCount())
	}
}

func TestExecute_SendFailureCleansUp(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	reg.sendErr = errClosedPipe
	r := mustRouter(t, Config{Mode: domain.ModeRemote, ActionTimeout: time.Second}, reg)

	out := r.Execute(context.Background(), "click", nil)
	res := out.(domain.RemoteResult)
	if res.Success {
		t.Fatal("expected transport failure")
	}
	if res.Error != errClosedPipe.Error() {
		t.Fatalf("error = %q", res.Error)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d after send failure", r.PendingCount())
	}
}

func TestExecute_CancellationCleansUp(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{Mode: domain.ModeRemote, ActionTimeout: 10 * time.Second}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	reg.onSend = func([]byte) { cancel() }

	out := r.Execute(ctx, "click", nil)
	res := out.(domain.RemoteResult)
	if res.Success {
		t.Fatal("expected cancellation failure")
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d after cancellation", r.PendingCount())
	}

	// A late ack for the cancelled command is an orphan.
	env := reg.lastEnvelope(t)
	if r.HandleAck(env.CommandID, map[string]any{"late": true}) {
		t.Fatal("late ack after cancellation should be orphaned")
	}
}

// --- Ack semantics ---

func TestHandleAck_ExactlyOnce(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{Mode: domain.ModeRemote, ActionTimeout: 2 * time.Second}, reg)

	sent := make(chan string, 1)
	reg.onSend = func(data []byte) {
		var env domain.CommandEnvelope
		json.Unmarshal(data, &env)
		sent <- env.CommandID
	}

	done := make(chan domain.Outcome, 1)
	go func() {
		done <- r.Execute(context.Background(), "click", nil)
	}()

	id := <-sent
	if !r.HandleAck(id, map[string]any{"n": float64(1)}) {
		t.Fatal("first ack should resolve")
	}
	if r.HandleAck(id, map[string]any{"n": float64(2)}) {
		t.Fatal("second ack should be orphaned")
	}

	res := (<-done).(domain.RemoteResult)
	if !res.Success || res.Payload["n"] != float64(1) {
		t.Fatalf("waiter got %+v, want first ack's result", res)
	}
}

func TestHandleAck_UnknownCommandID(t *testing.T) {
	r := mustRouter(t, Config{Mode: domain.ModeRemote}, newFakeRegistry())

	if r.HandleAck("cmd_000000000000", map[string]any{}) {
		t.Fatal("unknown command id should be orphaned")
	}
}

// --- Target resolution ---

func TestResolveTarget_PinnedClientPreferred(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"), desktopClient("pinned"))
	r := mustRouter(t, Config{
		Mode:           domain.ModeRemote,
		TargetClientID: "pinned",
		ActionTimeout:  50 * time.Millisecond,
	}, reg)

	r.Execute(context.Background(), "click", nil)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.targets) != 1 || reg.targets[0] != "pinned" {
		t.Fatalf("targets = %v, want [pinned]", reg.targets)
	}
}

func TestResolveTarget_PinnedClientDisconnectedFallsBack(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	r := mustRouter(t, Config{
		Mode:           domain.ModeRemote,
		TargetClientID: "gone",
		ActionTimeout:  50 * time.Millisecond,
	}, reg)

	out := r.Execute(context.Background(), "click", nil)
	res := out.(domain.RemoteResult)
	// d1 is connected, so the scan finds it and the call times out
	// rather than failing with no-client.
	if res.Error == "no desktop client connected" {
		t.Fatal("scan should have found the connected desktop client")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.targets) != 1 || reg.targets[0] != "d1" {
		t.Fatalf("targets = %v, want [d1]", reg.targets)
	}
}

// --- Frame fast path ---

func TestExecute_ScreenshotUsesFreshFrame(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	reg.framePayload = "base64frame"
	reg.frameAt = time.Now()
	r := mustRouter(t, Config{Mode: domain.ModeRemote, FrameMaxAge: 2 * time.Second}, reg)

	out := r.Execute(context.Background(), "screenshot", nil)
	res := out.(domain.RemoteResult)
	if !res.Success {
		t.Fatalf("fresh frame path failed: %s", res.Error)
	}
	if res.Payload["frame"] != "base64frame" || res.Payload["cached"] != true {
		t.Fatalf("payload = %v", res.Payload)
	}
	if reg.sendCount() != 0 {
		t.Fatal("fresh frame must not trigger a round trip")
	}
}

func TestExecute_ScreenshotIgnoresStaleFrame(t *testing.T) {
	reg := newFakeRegistry(desktopClient("d1"))
	reg.framePayload = "base64frame"
	reg.frameAt = time.Now().Add(-10 * time.Second)
	r := mustRouter(t, Config{
		Mode:          domain.ModeRemote,
		FrameMaxAge:   2 * time.Second,
		ActionTimeout: 50 * time.Millisecond,
	}, reg)

	r.Execute(context.Background(), "screenshot", nil)
	if reg.sendCount() != 1 {
		t.Fatalf("stale frame should delegate, sends = %d", reg.sendCount())
	}
}

// --- Construction ---

func TestNew_InvalidMode(t *testing.T) {
	_, err := New(Config{Mode: "hybrid"}, security.NewClassifier(), newFakeRegistry(), nil, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestNew_RemoteModeRequiresRegistry(t *testing.T) {
	_, err := New(Config{Mode: domain.ModeRemote}, security.NewClassifier(), nil, nil, testLogger())
	if err == nil {
		t.Fatal("expected error for remote mode without registry")
	}
}

var errClosedPipe = errors.New("write: broken pipe")
