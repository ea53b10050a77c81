package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const sampleYAML = `
logging:
  level: debug
  console: true
dispatch:
  workers: 4
  queue_size: 32
schedule:
  enabled: true
  timezone: UTC
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Dispatch.Workers != 4 || cfg.Dispatch.QueueSize != 32 {
		t.Fatalf("dispatch section = %+v", cfg.Dispatch)
	}
	if !cfg.Schedule.Enabled || cfg.Schedule.Timezone != "UTC" {
		t.Fatalf("schedule section = %+v", cfg.Schedule)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.json")
	writeFile(t, path, `{"logging":{"level":"info","console":false,"file":{"enabled":false,"path":""},"journal":{"enabled":false}},"dispatch":{"workers":2},"schedule":{"enabled":false}}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Dispatch.Workers != 2 {
		t.Fatalf("workers = %d, want 2", cfg.Dispatch.Workers)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, path, "dispatch:\n  workerz: 4\n")

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("misspelled key should be rejected")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.json")
	writeFile(t, path, `{"dispatch":{"workers":1}}{"extra":1}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON tokens should be rejected")
	}
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, path, sampleYAML)

	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, path, sampleYAML)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	// Same content on disk: reload must not publish.
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unchanged content was published")
	default:
	}

	writeFile(t, path, sampleYAML+"    # bump\n")
	// Comment-only edits change the bytes but not the decoded config, so the
	// canonical hash still suppresses the publish.
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("semantically unchanged content was published")
	default:
	}

	writeFile(t, path, sampleYAML[:len(sampleYAML)-len("  timezone: UTC\n")]+"  timezone: America/New_York\n")
	m.reload(context.Background())
	select {
	case cfg := <-ch:
		if cfg.Schedule.Timezone != "America/New_York" {
			t.Fatalf("published timezone = %q", cfg.Schedule.Timezone)
		}
	default:
		t.Fatal("changed content was not published")
	}
}

func TestValidatorRejectionKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, path, sampleYAML)

	m := NewManager(path)
	old, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Dispatch.Workers > 8 {
			return errors.New("too many workers")
		}
		return nil
	})
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	writeFile(t, path, "dispatch:\n  workers: 64\n")
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("rejected config was published")
	default:
	}
	if m.Get() != old {
		t.Fatal("rejected config replaced the committed one")
	}
}

func TestWatchPublishesOnFileChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	writeFile(t, path, sampleYAML)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to attach before the write.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "dispatch:\n  workers: 8\n")

	select {
	case cfg := <-ch:
		if cfg.Dispatch.Workers != 8 {
			t.Fatalf("published workers = %d, want 8", cfg.Dispatch.Workers)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no publish after file change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestSubscriberOverflowKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Dispatch: DispatchConfig{Workers: 1}}
	second := &Config{Dispatch: DispatchConfig{Workers: 2}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Dispatch.Workers != 2 {
		t.Fatalf("kept workers = %d, want the newest (2)", got.Dispatch.Workers)
	}
}
