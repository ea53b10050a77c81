package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lakesite/ls-dispatch/dispatch"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
)

// Register adds a named recurring submission. Supported specs are whatever
// the cron parser accepts: "*/5 * * * *", "30 4 * * *", "@hourly",
// "@every 90s", plus an optional leading seconds field.
//
// Registration upserts by name, so re-registering across hot-reloads does
// not duplicate triggers. Registering before Start is fine; the definition
// is attached when Start runs.
func (s *Service) Register(name, spec string, opt dispatch.JobOptions, run func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if run == nil {
		return errors.New("run function required")
	}
	spec = strings.TrimSpace(spec)
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	_ = s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name: name,
		spec: spec,
		opt:  opt,
		run:  run,
	})
	if s.c != nil {
		d := &s.defs[len(s.defs)-1]
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Any("err", err))
			return err
		}
		s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Int("priority", opt.Priority))
		return nil
	}
	// Not started yet: keep the definition and register when Start() runs.
	return nil
}

// Remove unschedules the named definition. It returns true if something was
// removed. Safe to call when the service is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeLocked removes all defs matching name and unregisters them from
// cron if running. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// ValidateSpec checks a schedule expression without registering anything.
// Useful for config validation before a hot reload is committed.
func ValidateSpec(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Load shedding on a full intake queue is normal operation for an
	// over-eager schedule; anything else is worth a warning too, but both
	// can be bursty.
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	if s.log.IsZero() {
		return
	}
	if errors.Is(err, dispatch.ErrQueueFull) {
		s.log.Warn("schedule trigger shed: intake queue full", logx.String("schedule", name))
		return
	}
	s.log.Warn("schedule failed to enqueue job", logx.String("schedule", name), logx.Any("err", err))
}
