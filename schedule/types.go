package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lakesite/ls-dispatch/dispatch"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/New_York"
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every/@hourly descriptor
	opt     dispatch.JobOptions
	run     func(ctx context.Context) error
	entryID cron.EntryID
}

// Service registers named cron schedules and enqueues a job into the
// dispatcher on every fire. It never executes jobs itself.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	disp *dispatch.Dispatcher

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// EntryInfo describes one registered schedule for diagnostics.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Timezone string
	Entries  []EntryInfo
}
