package config

import (
	"testing"
	"time"
)

func TestSectionTranslations(t *testing.T) {
	t.Parallel()

	dc := DispatchConfig{Workers: 3, QueueSize: 64}.ToDispatch()
	if dc.Workers != 3 || dc.QueueSize != 64 {
		t.Fatalf("ToDispatch = %+v", dc)
	}

	sc := ScheduleConfig{Enabled: true, Timezone: "UTC"}.ToSchedule()
	if !sc.Enabled || sc.Timezone != "UTC" {
		t.Fatalf("ToSchedule = %+v", sc)
	}

	lc := LoggingConfig{
		Level:   "warn",
		Console: true,
		File:    LoggingFile{Enabled: true, Path: "/tmp/d.log"},
		Journal: LoggingJournal{Enabled: true, MinLevel: "error"},
	}.ToLogx()
	if lc.Level != "warn" || !lc.Console || !lc.File.Enabled || lc.File.Path != "/tmp/d.log" {
		t.Fatalf("ToLogx = %+v", lc)
	}
	if !lc.Journal.Enabled || lc.Journal.MinLevel != "error" {
		t.Fatalf("ToLogx journal = %+v", lc.Journal)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be 0, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should be rejected")
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatal("garbage duration should be rejected")
	}

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("explicit value lost: %v, %v", d, err)
	}
}
