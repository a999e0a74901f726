package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/kclejeune/kestrel/internal/config"
	"github.com/kclejeune/kestrel/internal/keycode"
	"github.com/kclejeune/kestrel/internal/profile"
)

func TestNewServiceConfigGrabber(t *testing.T) {
	cfg := newServiceConfig(roleGrabber, "")

	if cfg.Name != "kestrel-grabber" {
		t.Errorf("Name = %q, want %q", cfg.Name, "kestrel-grabber")
	}
	if len(cfg.Arguments) != 1 || cfg.Arguments[0] != "grabber" {
		t.Errorf("Arguments = %v, want [grabber]", cfg.Arguments)
	}
	if _, ok := cfg.Option["UserService"]; ok {
		t.Error("grabber service should not set UserService")
	}
	if v, ok := cfg.Option["KeepAlive"]; !ok || v != true {
		t.Errorf("Option[KeepAlive] = %v, want true", v)
	}
}

func TestNewServiceConfigAgent(t *testing.T) {
	cfg := newServiceConfig(roleAgent, "")

	if cfg.Name != "kestrel-agent" {
		t.Errorf("Name = %q, want %q", cfg.Name, "kestrel-agent")
	}
	if len(cfg.Arguments) != 1 || cfg.Arguments[0] != "agent" {
		t.Errorf("Arguments = %v, want [agent]", cfg.Arguments)
	}
	if v, ok := cfg.Option["UserService"]; !ok || v != true {
		t.Errorf("Option[UserService] = %v, want true", v)
	}
}

func TestNewServiceConfigWithConfigPath(t *testing.T) {
	cfg := newServiceConfig(roleGrabber, "/etc/kestrel/config.toml")

	want := []string{"grabber", "--config", "/etc/kestrel/config.toml"}
	if len(cfg.Arguments) != len(want) {
		t.Fatalf("Arguments length = %d, want %d", len(cfg.Arguments), len(want))
	}
	for i, arg := range cfg.Arguments {
		if arg != want[i] {
			t.Errorf("Arguments[%d] = %q, want %q", i, arg, want[i])
		}
	}
}

func TestStateDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	got := stateDir()
	want := filepath.Join(tmpDir, "kestrel")
	if got != want {
		t.Errorf("stateDir() = %q, want %q", got, want)
	}
}

func TestPidFilePath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	if got, want := pidFilePath(roleAgent), filepath.Join(tmpDir, "kestrel", "agent.pid"); got != want {
		t.Errorf("pidFilePath(agent) = %q, want %q", got, want)
	}

	got := pidFilePath(roleGrabber)
	want := filepath.Join(tmpDir, "kestrel", "grabber.pid")
	if os.Geteuid() == 0 {
		want = "/run/kestrel/grabber.pid"
	}
	if got != want {
		t.Errorf("pidFilePath(grabber) = %q, want %q", got, want)
	}
}

func TestReadPID(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	dir := filepath.Join(tmpDir, "kestrel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	wantPID := 12345
	if err := os.WriteFile(
		filepath.Join(dir, "agent.pid"),
		[]byte(strconv.Itoa(wantPID)+"\n"),
		0o644,
	); err != nil {
		t.Fatal(err)
	}

	got, err := readPID(roleAgent)
	if err != nil {
		t.Fatalf("readPID() error = %v", err)
	}
	if got != wantPID {
		t.Errorf("readPID() = %d, want %d", got, wantPID)
	}
}

func TestReadPIDMissing(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	_, err := readPID(roleAgent)
	if err == nil {
		t.Fatal("readPID() expected error for missing file, got nil")
	}
}

func TestPIDLockExcludesSecond(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	first, err := acquirePIDLock(roleAgent)
	if err != nil {
		t.Fatalf("acquirePIDLock() error = %v", err)
	}

	if _, err := acquirePIDLock(roleAgent); err == nil {
		t.Fatal("second acquirePIDLock() expected error, got nil")
	}

	releasePIDLock(first)

	third, err := acquirePIDLock(roleAgent)
	if err != nil {
		t.Fatalf("acquirePIDLock() after release error = %v", err)
	}
	releasePIDLock(third)
}

func TestLivePID(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	if _, alive := livePID(roleAgent); alive {
		t.Error("livePID() = true with no PID file")
	}

	dir := filepath.Join(tmpDir, "kestrel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(
		filepath.Join(dir, "agent.pid"),
		[]byte(strconv.Itoa(os.Getpid())),
		0o644,
	); err != nil {
		t.Fatal(err)
	}

	pid, alive := livePID(roleAgent)
	if !alive {
		t.Fatal("livePID() = false for own PID")
	}
	if pid != os.Getpid() {
		t.Errorf("livePID() = %d, want %d", pid, os.Getpid())
	}
}

func TestResolveSocket(t *testing.T) {
	old := sockPath
	defer func() { sockPath = old }()

	cfg := config.Default()

	sockPath = ""
	if got := resolveSocket(cfg); got != cfg.Grabber.SocketPath {
		t.Errorf("resolveSocket() = %q, want %q", got, cfg.Grabber.SocketPath)
	}

	sockPath = "/tmp/kestrel-test.sock"
	if got := resolveSocket(cfg); got != "/tmp/kestrel-test.sock" {
		t.Errorf("resolveSocket() = %q, want %q", got, "/tmp/kestrel-test.sock")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want keycode.Code
	}{
		{"caps_lock", 58},
		{"esc", 1},
		{"F1", 59},
		{"240", 240},
		{"1", 2}, // key names win over raw codes
	}
	for _, tt := range tests {
		got, err := parseKey(tt.in)
		if err != nil {
			t.Errorf("parseKey(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseKey(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"nosuchkey", "100000", "-5"} {
		if _, err := parseKey(in); err == nil {
			t.Errorf("parseKey(%q) expected error, got nil", in)
		}
	}
}

func TestParseOnOff(t *testing.T) {
	for _, in := range []string{"on", "true", "1"} {
		got, err := parseOnOff(in)
		if err != nil || !got {
			t.Errorf("parseOnOff(%q) = %v, %v, want true, nil", in, got, err)
		}
	}
	for _, in := range []string{"off", "false", "0"} {
		got, err := parseOnOff(in)
		if err != nil || got {
			t.Errorf("parseOnOff(%q) = %v, %v, want false, nil", in, got, err)
		}
	}
	if _, err := parseOnOff("maybe"); err == nil {
		t.Error("parseOnOff(maybe) expected error, got nil")
	}
}

func TestParseOrigin(t *testing.T) {
	if o, err := parseOrigin("console"); err != nil || o != 1 {
		t.Errorf("parseOrigin(console) = %v, %v", o, err)
	}
	if o, err := parseOrigin("dispatcher"); err != nil || o != 0 {
		t.Errorf("parseOrigin(dispatcher) = %v, %v", o, err)
	}
	if _, err := parseOrigin("nowhere"); err == nil {
		t.Error("parseOrigin(nowhere) expected error, got nil")
	}
}

func TestKeyLabel(t *testing.T) {
	if got := keyLabel(58); got != "caps_lock" {
		t.Errorf("keyLabel(58) = %q, want %q", got, "caps_lock")
	}
	if got := keyLabel(240); got != "240" {
		t.Errorf("keyLabel(240) = %q, want %q", got, "240")
	}
}

func TestUnresolvedNames(t *testing.T) {
	p := profile.Profile{
		SimpleModifications: map[string]string{
			"caps_lock": "left_control",
			"flux":      "escape",
		},
		StandaloneModifiers: map[string]string{
			"left_control": "warp",
		},
	}

	got := unresolvedNames(p)
	want := []string{"flux", "warp"}
	if len(got) != len(want) {
		t.Fatalf("unresolvedNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unresolvedNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := unresolvedNames(profile.Default()); len(got) != 0 {
		t.Errorf("unresolvedNames(Default) = %v, want none", got)
	}
}

func TestDefaultProfilesTemplate(t *testing.T) {
	var doc profile.Document
	if err := json.Unmarshal([]byte(defaultProfilesTemplate), &doc); err != nil {
		t.Fatalf("template does not parse: %v", err)
	}

	if len(doc.Profiles) != 2 {
		t.Fatalf("template has %d profiles, want 2", len(doc.Profiles))
	}
	if got := doc.Selected().Name; got != "Default" {
		t.Errorf("Selected().Name = %q, want %q", got, "Default")
	}
	if doc.Profiles[1].Selected {
		t.Error("Example profile should not be selected")
	}

	for _, p := range doc.Profiles {
		if bad := unresolvedNames(p); len(bad) != 0 {
			t.Errorf("profile %q has unresolved key names: %v", p.Name, bad)
		}
	}

	rs := doc.Selected().Rules()
	if len(rs.Fn) != 12 {
		t.Errorf("Default fn table resolved %d rules, want 12", len(rs.Fn))
	}
}

func TestDefaultSettingsTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(defaultSettingsTemplate), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Grabber.SocketPath != "/run/kestrel/grabber.sock" {
		t.Errorf("SocketPath = %q", cfg.Grabber.SocketPath)
	}
	if got := cfg.Grabber.PollInterval.Duration().String(); got != "1s" {
		t.Errorf("PollInterval = %s, want 1s", got)
	}
}

func TestRoleLogCandidates(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	got := roleLogCandidates(roleGrabber)
	if len(got) != 2 {
		t.Fatalf("roleLogCandidates() returned %d paths, want 2", len(got))
	}
	if want := filepath.Join(tmpDir, "kestrel", "kestrel-grabber.out.log"); got[0] != want {
		t.Errorf("candidate[0] = %q, want %q", got[0], want)
	}
	if want := filepath.Join(tmpDir, "kestrel", "grabber.log"); got[1] != want {
		t.Errorf("candidate[1] = %q, want %q", got[1], want)
	}
}
