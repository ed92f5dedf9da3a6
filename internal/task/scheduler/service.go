package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "outagebot/pkg/logx"
)

var (
	ErrUnknownSchedule = errors.New("unknown schedule")
	ErrSkipped         = errors.New("previous run still in flight")
)

const (
	defaultHistorySize = 32
	failureWarnEvery   = time.Minute
)

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	loc    *time.Location
	c      *cron.Cron
	defs   []*scheduleDef
	parent context.Context
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, lastWarn: map[string]time.Time{}}
}

// Start begins triggering registered schedules. A disabled scheduler keeps its
// definitions and starts when a later Apply enables it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	if s.c != nil {
		return
	}
	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	s.base, s.cancel = context.WithCancel(parent)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for in-flight runs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates the config; a timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	started := s.parent != nil
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(context.Background())
	case !running && cfg.Enabled && started:
		s.mu.Lock()
		s.startLocked()
		s.mu.Unlock()
	case running && strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.Stop(context.Background())
		s.mu.Lock()
		s.startLocked()
		s.mu.Unlock()
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// AddSchedule registers job under name, replacing a schedule with the same
// name. Overlapping triggers are skipped.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job, state: &runState{}}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unschedules name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(d *scheduleDef) {
	spec := d.spec.CronSpec()
	id, err := s.c.AddFunc(spec, func() { s.run(d) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", spec), logx.Err(err))
		return
	}
	d.entryID = id
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", spec),
		logx.Duration("timeout", d.timeout),
		logx.Time("next", s.c.Entry(id).Next),
	)
}

// Trigger runs name now, outside its schedule, unless it is already running.
// It waits for the run to finish.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var d *scheduleDef
	for _, it := range s.defs {
		if it.name == name {
			d = it
			break
		}
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.run(d)
}

func (s *Service) run(d *scheduleDef) (err error) {
	started := time.Now()
	if !d.state.tryAcquire() {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", d.name))
		s.record(HistoryItem{Name: d.name, Started: started, Skipped: true})
		return ErrSkipped
	}
	defer d.state.release()

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx := base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("panic in scheduled job", logx.String("schedule", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		it := HistoryItem{Name: d.name, Started: started, Duration: time.Since(started)}
		if err != nil {
			it.Error = err.Error()
			s.reportFailure(d.name, err)
		}
		s.record(it)
	}()
	return d.job(ctx)
}

func (s *Service) reportFailure(name string, err error) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < failureWarnEvery {
		s.warnMu.Unlock()
		s.log.Debug("scheduled job failed", logx.String("schedule", name), logx.Err(err))
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("scheduled job failed", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	if limit <= 0 {
		limit = defaultHistorySize
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - limit; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
	s.hmu.Unlock()
}

// Snapshot returns schedules with their next/previous trigger and recent runs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if s.loc != nil && snap.Timezone == "" {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec.CronSpec(), Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		d.state.mu.Lock()
		info.Running = d.state.inflight
		d.state.mu.Unlock()
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

// NextRun returns the next trigger time of name, if scheduled.
func (s *Service) NextRun(name string) (time.Time, bool) {
	for _, it := range s.Snapshot().Schedules {
		if it.Name == name && !it.Next.IsZero() {
			return it.Next, true
		}
	}
	return time.Time{}, false
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
