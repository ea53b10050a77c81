package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakesite/ls-dispatch/config"
)

const testConfig = `
logging:
  level: error
  console: false
dispatch:
  workers: 2
  queue_size: 16
schedule:
  enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppLifecycle(t *testing.T) {
	t.Parallel()
	a, err := New(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !a.Dispatcher().Running() {
		t.Fatal("dispatcher not running after app start")
	}
	if _, err := a.Dispatcher().QueueJob(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("QueueJob: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !a.Dispatcher().Finished() {
		if time.Now().After(deadline) {
			t.Fatal("job never drained")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Dispatcher().Running() {
		t.Fatal("dispatcher still running after app stop")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"negative workers": "dispatch:\n  workers: -1\n",
		"bad timezone":     "schedule:\n  enabled: true\n  timezone: Mars/Olympus\n",
		"entry no command": "schedule:\n  enabled: true\n  entries:\n    - name: x\n      spec: \"@hourly\"\n",
		"entry bad spec":   "schedule:\n  enabled: true\n  entries:\n    - name: x\n      spec: nope\n      command: [\"true\"]\n",
	}
	for name, content := range cases {
		if _, err := New(writeConfig(t, content)); err == nil {
			t.Errorf("%s: config accepted, want error", name)
		}
	}
}

func TestAppRegistersConfigEntries(t *testing.T) {
	t.Parallel()
	a, err := New(writeConfig(t, `
schedule:
  enabled: true
  entries:
    - name: heartbeat
      spec: "@hourly"
      command: ["true"]
      priority: 2
`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	snap := a.Schedule().Snapshot()
	if len(snap.Entries) != 1 || snap.Entries[0].Name != "heartbeat" {
		t.Fatalf("schedule entries = %+v, want the heartbeat entry", snap.Entries)
	}
	if snap.Entries[0].Next.IsZero() {
		t.Fatal("registered entry has no next fire time")
	}
}

func TestApplyEntriesRemovesVanished(t *testing.T) {
	t.Parallel()
	a, err := New(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.applyEntries([]config.ScheduleEntry{
		{Name: "a", Spec: "@hourly", Command: []string{"true"}},
		{Name: "b", Spec: "@hourly", Command: []string{"true"}},
	})
	if got := len(a.Schedule().Snapshot().Entries); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}

	a.applyEntries([]config.ScheduleEntry{
		{Name: "b", Spec: "@daily", Command: []string{"true"}},
	})
	snap := a.Schedule().Snapshot()
	if len(snap.Entries) != 1 || snap.Entries[0].Name != "b" {
		t.Fatalf("entries = %+v, want only b", snap.Entries)
	}
	if snap.Entries[0].Spec != "@daily" {
		t.Fatalf("spec = %q, want the upserted @daily", snap.Entries[0].Spec)
	}
}

func TestCommandJob(t *testing.T) {
	t.Parallel()

	if err := commandJob([]string{"true"}, 0)(context.Background()); err != nil {
		t.Fatalf("true: %v", err)
	}
	if err := commandJob([]string{"false"}, 0)(context.Background()); err == nil {
		t.Fatal("false should fail")
	}
	start := time.Now()
	err := commandJob([]string{"sleep", "5"}, 100*time.Millisecond)(context.Background())
	if err == nil {
		t.Fatal("timed-out command should fail")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced; took %v", time.Since(start))
	}
}
