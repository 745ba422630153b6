package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/config"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load(newTestLogger(), "missing")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Client.KeepAliveInterval != time.Second {
		t.Errorf("Expected 1s keep-alive, got %v", cfg.Client.KeepAliveInterval)
	}
	if len(cfg.Events) != len(config.DefaultEvents()) {
		t.Errorf("Expected default events, got %d", len(cfg.Events))
	}
	palette, err := cfg.Palette()
	if err != nil || len(palette) != len(config.DefaultPalette) {
		t.Errorf("Expected default palette, got %v (%v)", palette, err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
  roomCapacity: 2
transport:
  readTimeout: 5s
client:
  deviceId: left-screen
  highlightColor: [0, 1, 0]
colors:
  - [1, 0, 0]
events:
  app_opened:
    actions:
      - name: _record
      - name: _log
        params: ["opened {.payload.id}"]
`)
	t.Setenv("ROOMSYNC_SERVER_ADDRESS", ":9100")

	cfg, err := config.Load(newTestLogger(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9100" {
		t.Errorf("Expected env override, got %q", cfg.Server.Address)
	}
	if cfg.Server.RoomCapacity != 2 || cfg.Transport.ReadTimeout != 5*time.Second {
		t.Errorf("File values not applied: %+v %+v", cfg.Server, cfg.Transport)
	}
	if c, _ := cfg.Client.Highlight(); c != (message.Color{0, 1, 0}) {
		t.Errorf("Expected green highlight, got %v", c)
	}
	ev, ok := cfg.Events["app_opened"]
	if !ok || len(ev.Actions) != 2 || ev.Actions[1].Params[0] != "opened {.payload.id}" {
		t.Errorf("Events not decoded: %+v", cfg.Events)
	}
}

func TestLoadRejectsBadColor(t *testing.T) {
	path := writeConfig(t, "colors:\n  - [2, 0, 0]\n")
	if _, err := config.Load(newTestLogger(), path); err == nil {
		t.Fatal("Expected an out-of-range color to be rejected")
	}
}

func nopStep(*pipeline.Cargo, ...string) error { return nil }

func TestCompilePipelines(t *testing.T) {
	actions := func(name string) (pipeline.ActionFunc, bool) {
		return nopStep, name == "_record" || name == "_forward" || name == "_respond" || name == "_detach"
	}
	modifiers := func(name string) (pipeline.ModifierFunc, bool) {
		return nopStep, name == "rate_limit"
	}

	cfg := &config.Config{Events: config.DefaultEvents()}
	if err := config.CompilePipelines(cfg, actions, modifiers, nil); err != nil {
		t.Fatalf("CompilePipelines failed: %v", err)
	}
	if cfg.Events != nil {
		t.Error("Expected raw events to be released after compiling")
	}
	closed := cfg.Pipelines[message.TagAppClosed]
	if len(closed.Actions) != 3 || closed.Actions[1].Name != "_respond" {
		t.Errorf("Unexpected app_closed pipeline: %+v", closed)
	}
	if ping := cfg.Pipelines[message.TagPingUpdate]; len(ping.Modifiers) != 1 {
		t.Errorf("Expected ping_update to be rate limited, got %+v", ping)
	}

	bad := &config.Config{Events: map[string]config.EventConfig{"self_connected": {}}}
	if err := config.CompilePipelines(bad, actions, modifiers, nil); err == nil {
		t.Error("Expected a relay-only tag to be rejected")
	}
	unknown := &config.Config{Events: map[string]config.EventConfig{
		"app_opened": {Actions: []config.ActionConfig{{Name: "_nope"}}},
	}}
	if err := config.CompilePipelines(unknown, actions, modifiers, nil); err == nil {
		t.Error("Expected an unknown action to be rejected")
	}

	badParam := &config.Config{Events: map[string]config.EventConfig{
		"app_opened": {Actions: []config.ActionConfig{{Name: "_record", Params: []string{"{$nope}"}}}},
	}}
	reject := func([]string) error { return errors.New("unknown") }
	if err := config.CompilePipelines(badParam, actions, modifiers, reject); err == nil {
		t.Error("Expected a param checker failure to be reported")
	}
}
