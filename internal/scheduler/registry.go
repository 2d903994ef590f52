package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"rallybot/internal/eventbus"
	"rallybot/internal/runtime/supervisor"
	"rallybot/internal/storage"
	"rallybot/internal/trigger"
	logx "rallybot/pkg/logx"
)

// Source lists the seasons whose triggers should be armed.
type Source interface {
	ListActiveSeasons(ctx context.Context) ([]storage.Season, error)
}

// Firing is passed to the Handler each time a trigger fires.
type Firing struct {
	ID       string
	Key      string
	Kind     Kind
	SeasonID int64
	Spec     trigger.Spec
	At       time.Time
}

type Handler interface {
	HandleTrigger(ctx context.Context, f Firing) error
}

type HandlerFunc func(ctx context.Context, f Firing) error

func (fn HandlerFunc) HandleTrigger(ctx context.Context, f Firing) error { return fn(ctx, f) }

const (
	statePending int32 = iota
	stateArmed
	stateCancelled
)

type entry struct {
	Desired
	handle Handle
	state  atomic.Int32
}

// Info describes one registered trigger.
type Info struct {
	Key      string       `json:"key"`
	Kind     Kind         `json:"kind"`
	SeasonID int64        `json:"season_id"`
	Spec     trigger.Spec `json:"spec"`
	Next     time.Time    `json:"next"`
}

const (
	DefaultRetryMin = time.Second
	DefaultRetryMax = 5 * time.Minute
)

type Options struct {
	Log   logx.Logger
	Bus   eventbus.Bus
	Clock clock.Clock

	// RetryMin and RetryMax bound the backoff Run uses after a failed refresh.
	RetryMin time.Duration
	RetryMax time.Duration
}

// Registry holds the live trigger set. Only Refresh mutates it.
type Registry struct {
	refreshMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*entry

	src     Source
	disp    Dispatcher
	handler Handler
	sup     *supervisor.Supervisor

	log logx.Logger
	bus eventbus.Bus
	clk clock.Clock

	kick chan struct{}

	retryMin time.Duration
	retryMax time.Duration
}

// NewRegistry wires a registry. Firings run as detached goroutines of sup.
func NewRegistry(src Source, disp Dispatcher, h Handler, sup *supervisor.Supervisor, opt Options) *Registry {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := opt.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	clk := opt.Clock
	if clk == nil {
		clk = clock.New()
	}
	retryMin, retryMax := opt.RetryMin, opt.RetryMax
	if retryMin <= 0 {
		retryMin = DefaultRetryMin
	}
	if retryMax < retryMin {
		retryMax = max(retryMin, DefaultRetryMax)
	}
	return &Registry{
		entries: map[string]*entry{},
		src:     src,
		disp:    disp,
		handler: h,
		sup:     sup,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		clk:     clk,
		kick:    make(chan struct{}, 1),

		retryMin: retryMin,
		retryMax: retryMax,
	}
}

// Refresh re-reads active seasons and reconciles the trigger set.
//
// Calls are serialized. On error the previously armed set stays armed.
// A season whose settings are invalid keeps whatever triggers it had.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	start := r.clk.Now()
	seasons, err := r.src.ListActiveSeasons(ctx)
	if err != nil {
		r.refreshFailed(err)
		return fmt.Errorf("list seasons: %w", err)
	}
	desired, invalid := Plan(seasons)
	for id, err := range invalid {
		r.log.Warn("season settings invalid; keeping existing triggers", logx.Int64("season", id), logx.Err(err))
	}

	// entries is only written while refreshMu is held, so it can be read here
	// without r.mu.
	current := r.entries
	for key, e := range current {
		if _, bad := invalid[e.SeasonID]; bad {
			desired[key] = e.Desired
		}
	}

	var added, stale []*entry
	for _, key := range sortedKeys(desired) {
		d := desired[key]
		old, ok := current[key]
		if ok && old.Spec == d.Spec {
			continue
		}
		e := &entry{Desired: d}
		h, err := r.disp.ScheduleAt(key, d.Spec, r.fireFunc(e))
		if err != nil {
			for _, a := range added {
				r.disp.Cancel(a.handle)
			}
			err = fmt.Errorf("register %s: %w", key, err)
			r.refreshFailed(err)
			return err
		}
		e.handle = h
		added = append(added, e)
		if ok {
			stale = append(stale, old)
		}
	}
	for key, old := range current {
		if _, ok := desired[key]; !ok {
			stale = append(stale, old)
		}
	}

	next := make(map[string]*entry, len(desired))
	for key, e := range current {
		if _, ok := desired[key]; ok {
			next[key] = e
		}
	}
	for _, e := range added {
		next[e.Key] = e
	}

	// Swap: new entries become armed and replaced ones cancelled in one
	// critical section, so a firing sees exactly one of them.
	r.mu.Lock()
	for _, e := range stale {
		e.state.Store(stateCancelled)
	}
	for _, e := range added {
		e.state.Store(stateArmed)
	}
	r.entries = next
	r.mu.Unlock()

	for _, e := range stale {
		r.disp.Cancel(e.handle)
		r.publish(eventbus.TriggerCancelled, e, "", "")
	}
	for _, e := range added {
		r.publish(eventbus.TriggerRegistered, e, "", "")
	}

	r.log.Info("triggers refreshed",
		logx.Int("seasons", len(seasons)),
		logx.Int("armed", len(next)),
		logx.Int("added", len(added)),
		logx.Int("cancelled", len(stale)),
		logx.Duration("took", r.clk.Now().Sub(start)),
	)
	return nil
}

// RefreshAsync requests a refresh without waiting. Requests made while one
// is pending collapse into a single run. Run must be active for the request
// to be served.
func (r *Registry) RefreshAsync() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run performs an initial refresh and then serves RefreshAsync requests
// until ctx is done. A failed refresh is retried with exponential backoff
// until one succeeds.
func (r *Registry) Run(ctx context.Context) error {
	backoff := r.retryMin
	var timer *time.Timer
	var retry <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, retry = nil, nil
	}
	defer stopTimer()

	refresh := func(what string) {
		stopTimer()
		err := r.Refresh(ctx)
		if err == nil {
			backoff = r.retryMin
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.log.Error(what+" failed; retrying", logx.Duration("backoff", backoff), logx.Err(err))
		timer = time.NewTimer(backoff)
		retry = timer.C
		backoff *= 2
		if backoff > r.retryMax {
			backoff = r.retryMax
		}
	}

	refresh("initial refresh")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.kick:
			refresh("refresh")
		case <-retry:
			refresh("refresh retry")
		}
	}
}

// Snapshot lists armed triggers ordered by key.
func (r *Registry) Snapshot() []Info {
	now := r.clk.Now()
	loc := r.disp.Location()

	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{Key: e.Key, Kind: e.Kind, SeasonID: e.SeasonID, Spec: e.Spec, Next: e.Spec.Next(now, loc)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of armed triggers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) fireFunc(e *entry) func() {
	return func() {
		if e.state.Load() != stateArmed {
			return
		}
		f := Firing{
			ID:       uuid.NewString(),
			Key:      e.Key,
			Kind:     e.Kind,
			SeasonID: e.SeasonID,
			Spec:     e.Spec,
			At:       r.clk.Now(),
		}
		r.sup.GoDetached("trigger:"+e.Key, func(ctx context.Context) error {
			return r.handler.HandleTrigger(ctx, f)
		}, func(err error) {
			if err != nil {
				r.log.Warn("trigger callback failed", logx.String("key", f.Key), logx.String("firing", f.ID), logx.Err(err))
				r.publish(eventbus.TriggerFailed, e, f.ID, err.Error())
				return
			}
			r.log.Debug("trigger fired", logx.String("key", f.Key), logx.String("firing", f.ID))
			r.publish(eventbus.TriggerFired, e, f.ID, "")
		})
	}
}

func (r *Registry) publish(typ string, e *entry, firingID, errText string) {
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clk.Now(), Data: eventbus.TriggerData{
		Key:      e.Key,
		SeasonID: e.SeasonID,
		Spec:     e.Spec.String(),
		FiringID: firingID,
		Err:      errText,
	}})
}

func (r *Registry) refreshFailed(err error) {
	r.bus.Publish(eventbus.Event{Type: eventbus.RefreshFailed, Time: r.clk.Now(), Data: err.Error()})
}

func sortedKeys(m map[string]Desired) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
