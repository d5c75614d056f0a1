package pipeline

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper drops idle per-user state and reports how many entries went.
type Sweeper interface {
	Sweep() int
}

// Janitor periodically sweeps the stateful filters.
type Janitor struct {
	log      zerolog.Logger
	interval time.Duration
	names    []string
	sweepers []Sweeper

	mu sync.Mutex
	c  *cron.Cron
}

func NewJanitor(interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{log: log.With().Str("comp", "pipeline").Logger(), interval: interval}
}

// Add registers a sweeper under name. Call before Start.
func (j *Janitor) Add(name string, s Sweeper) *Janitor {
	if s != nil {
		j.names = append(j.names, name)
		j.sweepers = append(j.sweepers, s)
	}
	return j
}

// Start schedules RunOnce every interval. A second Start is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil || j.interval <= 0 {
		return
	}
	j.c = cron.New()
	j.c.Schedule(cron.Every(j.interval), cron.FuncJob(func() { j.RunOnce() }))
	j.c.Start()
	j.log.Debug().Dur("interval", j.interval).Int("sweepers", len(j.sweepers)).Msg("pipeline: janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce sweeps every registered sweeper and returns the removals by name.
func (j *Janitor) RunOnce() map[string]int {
	out := make(map[string]int, len(j.sweepers))
	for i, s := range j.sweepers {
		n := s.Sweep()
		out[j.names[i]] = n
		if n > 0 {
			j.log.Debug().Str("sweeper", j.names[i]).Int("removed", n).Msg("pipeline: swept idle users")
		}
	}
	return out
}
