package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"router": {"executionMode": "remote"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.ExecutionMode != "remote" {
		t.Fatalf("mode = %q", cfg.Router.ExecutionMode)
	}
	if cfg.Router.ActionTimeoutSeconds != 30 {
		t.Fatalf("timeout default = %d", cfg.Router.ActionTimeoutSeconds)
	}
	if cfg.Router.FrameMaxAgeMs != 2000 {
		t.Fatalf("frame max age default = %d", cfg.Router.FrameMaxAgeMs)
	}
	if cfg.Gateway.Path != "/ws/desktop" {
		t.Fatalf("gateway path default = %q", cfg.Gateway.Path)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("DESKPILOT_TEST_CLIENT", "workstation-7")
	path := writeConfig(t, `{
		"router": {
			"executionMode": "remote",
			"remoteDesktopClientId": "${DESKPILOT_TEST_CLIENT}"
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.RemoteDesktopClientID != "workstation-7" {
		t.Fatalf("client id = %q", cfg.Router.RemoteDesktopClientID)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("DESKPILOT_UNSET_VAR")
	got := ExpandEnvVars("${DESKPILOT_UNSET_VAR:-fallback}")
	if got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_NoDefaultKeepsOriginal(t *testing.T) {
	os.Unsetenv("DESKPILOT_UNSET_VAR")
	got := ExpandEnvVars("${DESKPILOT_UNSET_VAR}")
	if got != "${DESKPILOT_UNSET_VAR}" {
		t.Fatalf("got %q", got)
	}
}

func TestValidate_RejectsBadMode(t *testing.T) {
	cfg := Defaults()
	cfg.Router.ExecutionMode = "hybrid"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "executionMode") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_RejectsBadTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Router.ActionTimeoutSeconds = 0
	if Validate(cfg) == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate_RejectsBadGatewayPath(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Path = "ws/desktop"
	if Validate(cfg) == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate_AuditNeedsPath(t *testing.T) {
	cfg := Defaults()
	cfg.Audit.Enabled = true
	cfg.Audit.DBPath = ""
	if Validate(cfg) == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.Router.ExecutionMode = "remote"
	cfg.Gateway.Port = 9999

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Router.ExecutionMode != "remote" || loaded.Gateway.Port != 9999 {
		t.Fatalf("loaded = %+v", loaded)
	}
}
