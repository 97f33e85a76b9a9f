package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	logx "newsbot/pkg/logx"
)

var (
	ErrOverlapSkip = errors.New("scheduler: previous run still active")
	ErrUnknownJob  = errors.New("scheduler: unknown schedule")
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Job is one scheduled unit of work. The context carries the schedule's
// timeout and is cancelled on Stop.
type Job func(ctx context.Context) error

// runState is shared by every copy of a scheduleDef.
type runState struct {
	running atomic.Bool

	mu      sync.Mutex
	runs    uint64
	skips   uint64
	fails   uint64
	lastAt  time.Time
	lastDur time.Duration
	lastErr error
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	state         *runState
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	clock clockwork.Clock

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skips   uint64
	Fails   uint64
	LastAt  time.Time
	LastDur time.Duration
	LastErr string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
