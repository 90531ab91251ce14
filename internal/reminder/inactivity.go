package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/nzlov/carewire/internal/notify"
)

const (
	DiaryReminderID   = "daily-diary"
	WeeklyCheckInID   = "weekly-checkin"
	inactivityTitle   = "We miss you"
	inactivityBodyFmt = "It has been %d days since your last visit. A short check-in can help."
)

// Defaults are the reminders every user gets.
type Defaults struct {
	DiaryEnabled  bool         `mapstructure:"diary_enabled" yaml:"diary_enabled"`
	DiaryHour     int          `mapstructure:"diary_hour" yaml:"diary_hour"`
	DiaryMinute   int          `mapstructure:"diary_minute" yaml:"diary_minute"`
	CheckInDay    time.Weekday `mapstructure:"checkin_day" yaml:"checkin_day"`
	CheckInHour   int          `mapstructure:"checkin_hour" yaml:"checkin_hour"`
	CheckInMinute int          `mapstructure:"checkin_minute" yaml:"checkin_minute"`
}

func DefaultDefaults() Defaults {
	return Defaults{
		DiaryEnabled: true,
		DiaryHour:    20,
		CheckInDay:   time.Sunday,
		CheckInHour:  18,
	}
}

// InstallDefaults schedules the daily diary reminder, when enabled, and the
// weekly check-in.
func (s *Scheduler) InstallDefaults(d Defaults) error {
	if d.DiaryEnabled {
		err := s.ScheduleDailyReminder(DiaryReminderID,
			"Time for your diary", "Take a few minutes to write about your day.",
			d.DiaryHour, d.DiaryMinute, notify.KindDiary)
		if err != nil {
			return fmt.Errorf("diary reminder: %w", err)
		}
	}
	err := s.ScheduleWeeklyReminder(WeeklyCheckInID,
		"Weekly check-in", "How has your week been? Your expert would like to hear from you.",
		d.CheckInDay, d.CheckInHour, d.CheckInMinute, notify.KindReminder)
	if err != nil {
		return fmt.Errorf("weekly check-in: %w", err)
	}
	return nil
}

// MarkActive records now as the user's last activity.
func (s *Scheduler) MarkActive(ctx context.Context) error {
	return s.prefs.SetLastActive(ctx, s.clock.Now())
}

// CheckUserInactivity sends one inactivity notification when the user has
// been away for at least the threshold, and resets the last-active time.
// With nothing stored yet it records now and reports false.
func (s *Scheduler) CheckUserInactivity(ctx context.Context) (bool, error) {
	now := s.clock.Now()
	last, ok, err := s.prefs.LastActive(ctx)
	if err != nil {
		return false, fmt.Errorf("read last active: %w", err)
	}
	if !ok {
		return false, s.prefs.SetLastActive(ctx, now)
	}
	idle := now.Sub(last)
	if idle < s.threshold {
		return false, nil
	}

	days := int(idle / (24 * time.Hour))
	s.log.Infow("user inactive", "days", days, "last_active", last)
	s.ScheduleLocalNotification(inactivityTitle, fmt.Sprintf(inactivityBodyFmt, days), now,
		notify.KindInactivity, map[string]any{"daysInactive": days})
	if err := s.prefs.SetLastActive(ctx, now); err != nil {
		return true, fmt.Errorf("reset last active: %w", err)
	}
	return true, nil
}

// WatchInactivity runs CheckUserInactivity now and then every interval
// until ctx is done.
func (s *Scheduler) WatchInactivity(ctx context.Context, every time.Duration) {
	check := func() {
		if _, err := s.CheckUserInactivity(ctx); err != nil {
			s.log.Warnw("inactivity check", "error", err)
		}
	}
	check()
	if every <= 0 {
		return
	}
	ticker := s.clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
