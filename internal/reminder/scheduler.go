package reminder

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/notify"
	"github.com/nzlov/carewire/internal/prefs"
)

const DefaultInactivityThreshold = 3 * 24 * time.Hour

// Dispatcher receives every fired notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification) notify.Notification
}

type Options struct {
	Dispatcher Dispatcher
	Prefs      prefs.Store
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
	// Location is where daily and weekly times are evaluated. Defaults to
	// time.Local.
	Location            *time.Location
	InactivityThreshold time.Duration
}

// Scheduler owns every pending reminder. Each one is driven by its own
// goroutine that computes the next fire time, waits on the clock, fires and
// repeats.
type Scheduler struct {
	dispatch  Dispatcher
	prefs     prefs.Store
	clock     clock.Clock
	log       *zap.SugaredLogger
	loc       *time.Location
	threshold time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	id     string
	next   time.Time
	stop   chan struct{}
	done   chan struct{}
	firing atomic.Bool
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewStore(prefs.NewMemoryKV())
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.InactivityThreshold <= 0 {
		opts.InactivityThreshold = DefaultInactivityThreshold
	}
	return &Scheduler{
		dispatch:  opts.Dispatcher,
		prefs:     opts.Prefs,
		clock:     opts.Clock,
		log:       opts.Logger.With("component", "reminder"),
		loc:       opts.Location,
		threshold: opts.InactivityThreshold,
		entries:   map[string]*entry{},
	}
}

func (s *Scheduler) ScheduleDailyReminder(id, title, body string, hour, minute int, kind notify.Kind) error {
	return s.Schedule(id, Daily{Hour: hour, Minute: minute}, notify.Notification{Title: title, Body: body, Kind: kind})
}

func (s *Scheduler) ScheduleWeeklyReminder(id, title, body string, day time.Weekday, hour, minute int, kind notify.Kind) error {
	return s.Schedule(id, Weekly{Day: day, Hour: hour, Minute: minute}, notify.Notification{Title: title, Body: body, Kind: kind})
}

// Schedule installs a recurring reminder under id, replacing any previous
// one with the same id.
func (s *Scheduler) Schedule(id string, rule Rule, tmpl notify.Notification) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e := s.replace(id)
	s.log.Infow("schedule reminder", "id", id, "spec", rule.Spec(), "kind", tmpl.Kind)
	go s.loop(e, rule, tmpl)
	return nil
}

// ScheduleLocalNotification fires once at at. A time in the past fires
// right away. It returns the generated schedule id.
func (s *Scheduler) ScheduleLocalNotification(title, body string, at time.Time, kind notify.Kind, data map[string]any) string {
	id := "once-" + uuid.NewString()
	e := s.replace(id)
	tmpl := notify.Notification{Title: title, Body: body, Kind: kind, Data: data}
	go s.once(e, at, tmpl)
	return id
}

// Cancel stops the reminder id. It returns false when id is not pending.
// Once Cancel returns the reminder will not fire, unless it was already
// firing.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.stop(e)
	s.log.Infow("cancel reminder", "id", id)
	return true
}

func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = map[string]*entry{}
	s.mu.Unlock()
	for _, e := range entries {
		s.stop(e)
	}
}

// Pending lists the ids of every scheduled reminder, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextFire reports when id fires next. It is false until the reminder's
// goroutine armed its first wait.
func (s *Scheduler) NextFire(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.next.IsZero() {
		return time.Time{}, false
	}
	return e.next, true
}

func (s *Scheduler) replace(id string) *entry {
	e := &entry{id: id, stop: make(chan struct{}), done: make(chan struct{})}
	s.mu.Lock()
	old := s.entries[id]
	s.entries[id] = e
	s.mu.Unlock()
	if old != nil {
		s.stop(old)
	}
	return e
}

func (s *Scheduler) stop(e *entry) {
	close(e.stop)
	// a handler cancelling its own reminder must not wait on itself
	if e.firing.Load() {
		return
	}
	<-e.done
}

func (s *Scheduler) setNext(e *entry, next time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[e.id] != e {
		return false
	}
	e.next = next
	return true
}

func (s *Scheduler) loop(e *entry, rule Rule, tmpl notify.Notification) {
	defer close(e.done)
	for {
		now := s.clock.Now().In(s.loc)
		next, err := NextFireTime(rule, now)
		if err != nil {
			s.log.Errorw("compute next fire time", "id", e.id, "error", err)
			return
		}
		timer := s.clock.Timer(next.Sub(now))
		if !s.setNext(e, next) {
			timer.Stop()
			return
		}

		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		if !s.fire(e, tmpl) {
			return
		}
	}
}

func (s *Scheduler) once(e *entry, at time.Time, tmpl notify.Notification) {
	defer close(e.done)
	now := s.clock.Now()
	if !s.setNext(e, at) {
		return
	}
	if delay := at.Sub(now); delay > 0 {
		timer := s.clock.Timer(delay)
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.fire(e, tmpl)

	s.mu.Lock()
	if s.entries[e.id] == e {
		delete(s.entries, e.id)
	}
	s.mu.Unlock()
}

// fire dispatches one occurrence. It reports false when the reminder was
// stopped before it could fire.
func (s *Scheduler) fire(e *entry, tmpl notify.Notification) bool {
	select {
	case <-e.stop:
		return false
	default:
	}

	n := tmpl
	n.Timestamp = s.clock.Now()
	n.Data = map[string]any{"scheduleId": e.id}
	for k, v := range tmpl.Data {
		n.Data[k] = v
	}

	s.log.Infow("reminder fired", "id", e.id, "kind", n.Kind)
	if s.dispatch == nil {
		return true
	}
	e.firing.Store(true)
	defer e.firing.Store(false)
	s.dispatch.Dispatch(context.Background(), n)
	return true
}
