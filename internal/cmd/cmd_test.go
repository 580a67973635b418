package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/rulesched/internal/config"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetState(t)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// isolateConfig points the config dir at a fresh temp dir for the whole
// test and turns engine logging off.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RULESCHED_LOGGING_ENABLED", "false")
}

// resetState resets viper and package-level flags between executions.
func resetState(t *testing.T) {
	t.Helper()
	viper.Reset()
	runCancelPattern, runCancelAfter, runQuiet = "", 0, false
	deadlockThreads, deadlockTimeout = 2, 10*time.Second
	t.Cleanup(func() {
		viper.Reset()
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
}

func writeWorkload(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workload.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "rulesched" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "rulesched")
	}

	// Compare by Name(), not Use which includes args
	expectedCmds := []string{"run", "watch", "deadlock", "config"}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestConfigShow(t *testing.T) {
	isolateConfig(t)
	out, err := executeCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, "(none - using defaults)") {
		t.Errorf("output does not say defaults are used:\n%s", out)
	}

	var cfg config.Config
	if err := yaml.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if cfg.Scheduler.JoinPollIntervalMs != config.Default().Scheduler.JoinPollIntervalMs {
		t.Errorf("join_poll_interval_ms = %d, want the default", cfg.Scheduler.JoinPollIntervalMs)
	}
	if cfg.Logging.Enabled {
		t.Error("logging.enabled = true, want the environment override")
	}
}

func TestConfigInitAndPath(t *testing.T) {
	isolateConfig(t)
	out, err := executeCommand(t, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if _, err := os.Stat(config.ConfigFile()); err != nil {
		t.Fatalf("config file not created: %v\n%s", err, out)
	}
	if _, err := executeCommand(t, "config", "init"); err == nil {
		t.Error("second config init succeeded, want already exists")
	}

	out, err = executeCommand(t, "config", "path")
	if err != nil {
		t.Fatalf("config path error = %v", err)
	}
	if !strings.Contains(out, "RULESCHED_") {
		t.Errorf("config path output = %q", out)
	}
}

func TestRunCommand(t *testing.T) {
	isolateConfig(t)
	path := writeWorkload(t, `
workers: 2
groups:
  - name: builders
jobs:
  - name: build/core
    rule: project/core
    duration: 20ms
    group: builders
    children:
      - name: build/docs
        rule: project/docs
  - name: lint
    rule: project/core
    fail: true
`)
	out, err := executeCommand(t, "run", path)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	for _, want := range []string{"scheduled", "running", "done", "build/core", "build/docs", "lint", "builders", "error 1", "ok 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}
}

func TestRunCommand_CancelGlob(t *testing.T) {
	isolateConfig(t)
	path := writeWorkload(t, `
jobs:
  - name: build/slow
    duration: 1h
  - name: test/fast
`)
	out, err := executeCommand(t, "run", "--quiet", "--cancel", "build/*", "--cancel-after", "50ms", path)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if strings.Contains(out, "scheduled") {
		t.Errorf("--quiet printed lifecycle lines:\n%s", out)
	}
	if !strings.Contains(out, "cancel 1") || !strings.Contains(out, "ok 1") {
		t.Errorf("summary does not show one canceled and one ok job:\n%s", out)
	}
}

func TestRunCommand_Errors(t *testing.T) {
	isolateConfig(t)
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{"missing file", func(t *testing.T) []string {
			return []string{"run", filepath.Join(t.TempDir(), "nope.yaml")}
		}},
		{"invalid workload", func(t *testing.T) []string {
			return []string{"run", writeWorkload(t, "jobs: []\n")}
		}},
		{"bad glob", func(t *testing.T) []string {
			return []string{"run", "--cancel", "build-{core", writeWorkload(t, "jobs:\n  - name: a\n")}
		}},
		{"no args", func(t *testing.T) []string { return []string{"run"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := executeCommand(t, tt.args(t)...); err == nil {
				t.Error("run succeeded, want error")
			}
		})
	}
}

func TestWatchCommand_FallsBackWithoutTerminal(t *testing.T) {
	isolateConfig(t)
	orig := isTerminal
	isTerminal = func() bool { return false }
	t.Cleanup(func() { isTerminal = orig })

	path := writeWorkload(t, "jobs:\n  - name: only\n")
	out, err := executeCommand(t, "watch", path)
	if err != nil {
		t.Fatalf("watch error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "only") || !strings.Contains(out, "ok 1") {
		t.Errorf("watch fallback output:\n%s", out)
	}
}

func TestDeadlockCommand(t *testing.T) {
	isolateConfig(t)
	for _, n := range []string{"2", "3"} {
		t.Run(n+" threads", func(t *testing.T) {
			out, err := executeCommand(t, "deadlock", "--threads", n)
			if err != nil {
				t.Fatalf("deadlock error = %v\n%s", err, out)
			}
			for _, want := range []string{"lock graph before the cycle closes", "thread-0", "deadlock among", "resolved"} {
				if !strings.Contains(out, want) {
					t.Errorf("deadlock output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestDeadlockCommand_RejectsOneThread(t *testing.T) {
	isolateConfig(t)
	if _, err := executeCommand(t, "deadlock", "--threads", "1"); err == nil {
		t.Error("deadlock --threads 1 succeeded, want error")
	}
}

func TestDeadlockEvent(t *testing.T) {
	lm := lock.NewManager(nil)
	l := lm.NewLock()
	t1, t2 := lock.NewThread("a"), lock.NewThread("b")
	ev := deadlockEvent(lock.Deadlock{Threads: []*lock.Thread{t1, t2}, Candidate: t2, Locks: nil})
	if ev.Candidate != "b" || len(ev.Threads) != 2 || len(ev.Locks) != 0 {
		t.Errorf("deadlockEvent() = %+v", ev)
	}
	ev = deadlockEvent(lock.Deadlock{Threads: []*lock.Thread{t1}, Locks: []rule.Rule{l}})
	if ev.Candidate != "" || len(ev.Locks) != 1 || ev.Locks[0] != l.String() {
		t.Errorf("deadlockEvent() = %+v", ev)
	}
}
