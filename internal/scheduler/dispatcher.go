package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rallybot/internal/trigger"
	logx "rallybot/pkg/logx"
)

// Handle identifies one registration with a Dispatcher.
type Handle uint64

// Dispatcher is the fixed-time recurring dispatch primitive.
type Dispatcher interface {
	// ScheduleAt arms fn to run at every occurrence of spec.
	ScheduleAt(key string, spec trigger.Spec, fn func()) (Handle, error)
	// Cancel stops future runs. Unknown handles are ignored.
	Cancel(h Handle)
	// Location is the zone used for weekday/hour computation.
	Location() *time.Location
}

type cronJob struct {
	key  string
	spec trigger.Spec
	fn   func()
	id   cron.EntryID
}

// CronDispatcher dispatches through robfig/cron. Changing the location
// rebuilds the cron instance and re-adds every job under its existing handle.
type CronDispatcher struct {
	mu      sync.Mutex
	log     logx.Logger
	parser  cron.Parser
	loc     *time.Location
	c       *cron.Cron
	running bool
	seq     Handle
	jobs    map[Handle]*cronJob
}

func NewCronDispatcher(loc *time.Location, log logx.Logger) *CronDispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	d := &CronDispatcher{
		log:    log.With(logx.String("comp", "cron")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		loc:    loc,
		jobs:   map[Handle]*cronJob{},
	}
	d.c = d.newCronLocked()
	return d
}

func (d *CronDispatcher) newCronLocked() *cron.Cron {
	return cron.New(
		cron.WithParser(d.parser),
		cron.WithLocation(d.loc),
		cron.WithChain(cron.Recover(cronLogger{d.log})),
	)
}

func (d *CronDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.c.Start()
	d.running = true
	d.log.Info("dispatcher started", logx.String("tz", d.loc.String()), logx.Int("jobs", len(d.jobs)))
}

// Stop halts dispatch and waits for running jobs until ctx is done.
// Registrations are kept and resume on the next Start.
func (d *CronDispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	done := d.c.Stop()
	d.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	d.log.Info("dispatcher stopped")
}

func (d *CronDispatcher) ScheduleAt(key string, spec trigger.Spec, fn func()) (Handle, error) {
	if fn == nil {
		return 0, fmt.Errorf("schedule %s: nil callback", key)
	}
	if !spec.Valid() {
		return 0, fmt.Errorf("schedule %s: invalid spec %v", key, spec)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.c.AddFunc(spec.Cron(), fn)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", key, err)
	}
	d.seq++
	h := d.seq
	d.jobs[h] = &cronJob{key: key, spec: spec, fn: fn, id: id}
	d.log.Debug("job added", logx.String("key", key), logx.String("cron", spec.Cron()))
	return h, nil
}

func (d *CronDispatcher) Cancel(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[h]
	if !ok {
		return
	}
	d.c.Remove(j.id)
	delete(d.jobs, h)
	d.log.Debug("job removed", logx.String("key", j.key))
}

func (d *CronDispatcher) Location() *time.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loc
}

// SetLocation switches the dispatch zone. It is a no-op if the zone name is unchanged.
func (d *CronDispatcher) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if loc.String() == d.loc.String() {
		return
	}
	wasRunning := d.running
	if wasRunning {
		<-d.c.Stop().Done()
	}
	d.loc = loc
	d.c = d.newCronLocked()
	for h, j := range d.jobs {
		id, err := d.c.AddFunc(j.spec.Cron(), j.fn)
		if err != nil {
			// Specs were valid when first added; this only happens on parser drift.
			d.log.Error("re-add job failed", logx.String("key", j.key), logx.Err(err))
			delete(d.jobs, h)
			continue
		}
		j.id = id
	}
	if wasRunning {
		d.c.Start()
	}
	d.log.Info("dispatcher location changed", logx.String("tz", loc.String()), logx.Int("jobs", len(d.jobs)))
}

// Len returns the number of armed jobs.
func (d *CronDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok || strings.TrimSpace(k) == "" {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
