package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/notify"
	"github.com/nzlov/carewire/internal/prefs"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Dispatch(_ context.Context, n notify.Notification) notify.Notification {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	return n
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) All() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *recorder, *clock.Mock, prefs.Store) {
	t.Helper()
	mc := clock.NewMock()
	mc.Set(now)
	rec := &recorder{}
	store := prefs.NewStore(prefs.NewMemoryKV())
	s := New(Options{
		Dispatcher: rec,
		Prefs:      store,
		Clock:      mc,
		Logger:     zap.NewNop().Sugar(),
		Location:   time.UTC,
	})
	t.Cleanup(s.CancelAll)
	return s, rec, mc, store
}

func waitNextFire(t *testing.T, s *Scheduler, id string, want time.Time) {
	t.Helper()
	require.Eventually(t, func() bool {
		next, ok := s.NextFire(id)
		return ok && next.Equal(want)
	}, waitFor, tick, "next fire of %s never became %s", id, want)
}

func TestDailyReminderFiresAndRearms(t *testing.T) {
	s, rec, mc, _ := newTestScheduler(t, at(2, 19, 0))

	require.NoError(t, s.ScheduleDailyReminder("diary", "Diary", "Write it down", 20, 0, notify.KindDiary))
	waitNextFire(t, s, "diary", at(2, 20, 0))

	mc.Add(59 * time.Minute)
	assert.Never(t, func() bool { return rec.Len() > 0 }, 30*time.Millisecond, tick)

	mc.Add(time.Minute)
	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	waitNextFire(t, s, "diary", at(3, 20, 0))

	n := rec.All()[0]
	assert.Equal(t, "Diary", n.Title)
	assert.Equal(t, notify.KindDiary, n.Kind)
	assert.True(t, n.Timestamp.Equal(at(2, 20, 0)))
	assert.Equal(t, "diary", n.Data["scheduleId"])

	mc.Add(24 * time.Hour)
	require.Eventually(t, func() bool { return rec.Len() == 2 }, waitFor, tick)
	waitNextFire(t, s, "diary", at(4, 20, 0))
}

func TestWeeklyReminderRollsToNextWeek(t *testing.T) {
	s, rec, mc, _ := newTestScheduler(t, at(2, 19, 0))

	require.NoError(t, s.ScheduleWeeklyReminder("checkin", "Check-in", "How are you?", time.Sunday, 18, 0, notify.KindReminder))
	waitNextFire(t, s, "checkin", at(9, 18, 0))

	mc.Add(6 * 24 * time.Hour)
	assert.Never(t, func() bool { return rec.Len() > 0 }, 30*time.Millisecond, tick)

	mc.Add(23 * time.Hour)
	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	waitNextFire(t, s, "checkin", at(16, 18, 0))
}

func TestRescheduleSameIDReplaces(t *testing.T) {
	s, rec, mc, _ := newTestScheduler(t, at(2, 19, 0))

	require.NoError(t, s.ScheduleDailyReminder("diary", "old", "", 20, 0, notify.KindDiary))
	require.NoError(t, s.ScheduleDailyReminder("diary", "new", "", 21, 0, notify.KindDiary))

	assert.Equal(t, []string{"diary"}, s.Pending())
	waitNextFire(t, s, "diary", at(2, 21, 0))

	mc.Add(2 * time.Hour)
	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return rec.Len() > 1 }, 30*time.Millisecond, tick)
	assert.Equal(t, "new", rec.All()[0].Title)
}

func TestCancel(t *testing.T) {
	s, rec, mc, _ := newTestScheduler(t, at(2, 19, 0))

	require.NoError(t, s.ScheduleDailyReminder("a", "a", "", 20, 0, notify.KindReminder))
	require.NoError(t, s.ScheduleDailyReminder("b", "b", "", 20, 0, notify.KindReminder))
	waitNextFire(t, s, "a", at(2, 20, 0))

	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.Equal(t, []string{"b"}, s.Pending())

	s.CancelAll()
	assert.Empty(t, s.Pending())

	mc.Add(48 * time.Hour)
	assert.Never(t, func() bool { return rec.Len() > 0 }, 30*time.Millisecond, tick)
}

func TestScheduleRejectsInvalidRule(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, at(2, 19, 0))

	err := s.ScheduleDailyReminder("bad", "", "", 25, 0, notify.KindReminder)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Empty(t, s.Pending())
}

func TestLocalNotification(t *testing.T) {
	s, rec, mc, _ := newTestScheduler(t, at(2, 19, 0))

	id := s.ScheduleLocalNotification("Session soon", "Your session starts in 10 minutes", at(2, 19, 50), notify.KindSystem, map[string]any{"sessionId": "s1"})
	waitNextFire(t, s, id, at(2, 19, 50))

	mc.Add(50 * time.Minute)
	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(s.Pending()) == 0 }, waitFor, tick)

	n := rec.All()[0]
	assert.Equal(t, "s1", n.Data["sessionId"])
	assert.Equal(t, id, n.Data["scheduleId"])

	// a time in the past fires without waiting
	s.ScheduleLocalNotification("late", "", at(1, 0, 0), notify.KindSystem, nil)
	require.Eventually(t, func() bool { return rec.Len() == 2 }, waitFor, tick)
}

func TestInactivityAfterFourDays(t *testing.T) {
	now := at(6, 12, 0)
	s, rec, _, store := newTestScheduler(t, now)
	ctx := context.Background()
	require.NoError(t, store.SetLastActive(ctx, now.Add(-4*24*time.Hour)))

	inactive, err := s.CheckUserInactivity(ctx)
	require.NoError(t, err)
	assert.True(t, inactive)

	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	n := rec.All()[0]
	assert.Equal(t, notify.KindInactivity, n.Kind)
	assert.Equal(t, 4, n.Data["daysInactive"])

	last, ok, err := store.LastActive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(now))

	inactive, err = s.CheckUserInactivity(ctx)
	require.NoError(t, err)
	assert.False(t, inactive)
	assert.Never(t, func() bool { return rec.Len() > 1 }, 30*time.Millisecond, tick)
}

func TestInactivityBelowThreshold(t *testing.T) {
	now := at(6, 12, 0)
	s, rec, _, store := newTestScheduler(t, now)
	ctx := context.Background()

	// nothing stored yet: record now, no notification
	inactive, err := s.CheckUserInactivity(ctx)
	require.NoError(t, err)
	assert.False(t, inactive)
	_, ok, _ := store.LastActive(ctx)
	assert.True(t, ok)

	require.NoError(t, store.SetLastActive(ctx, now.Add(-71*time.Hour)))
	inactive, err = s.CheckUserInactivity(ctx)
	require.NoError(t, err)
	assert.False(t, inactive)
	assert.Equal(t, 0, rec.Len())
}

func TestWatchInactivity(t *testing.T) {
	now := at(6, 12, 0)
	s, rec, mc, store := newTestScheduler(t, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.MarkActive(ctx))
	done := make(chan struct{})
	go func() {
		s.WatchInactivity(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mc.Add(time.Hour)
		return rec.Len() == 1
	}, waitFor, tick)
	last, _, err := store.LastActive(ctx)
	require.NoError(t, err)
	assert.True(t, last.After(now.Add(71*time.Hour)))

	cancel()
	<-done
}

func TestInstallDefaults(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, at(2, 19, 0))

	require.NoError(t, s.InstallDefaults(DefaultDefaults()))
	assert.Equal(t, []string{DiaryReminderID, WeeklyCheckInID}, s.Pending())
	waitNextFire(t, s, DiaryReminderID, at(2, 20, 0))
	waitNextFire(t, s, WeeklyCheckInID, at(9, 18, 0))

	d := DefaultDefaults()
	d.DiaryEnabled = false
	s.CancelAll()
	require.NoError(t, s.InstallDefaults(d))
	assert.Equal(t, []string{WeeklyCheckInID}, s.Pending())
}
