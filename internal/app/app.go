// Package app wires the transports, protocol layers, notifications and
// reminders of one signed-in user.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nzlov/carewire/internal/config"
	"github.com/nzlov/carewire/internal/event"
	"github.com/nzlov/carewire/internal/notify"
	"github.com/nzlov/carewire/internal/prefs"
	"github.com/nzlov/carewire/internal/pubsub"
	"github.com/nzlov/carewire/internal/reminder"
	"github.com/nzlov/carewire/internal/signaling"
	"github.com/nzlov/carewire/internal/transport"
)

// Deps are the externally owned pieces. Nil fields get defaults: the
// gorilla dialer, the wall clock, zap.S(), a log alert sink and no sound.
// Redis and DB are used for the matching prefs driver instead of opening
// a connection from the config.
type Deps struct {
	Dialer transport.Dialer
	Clock  clock.Clock
	Alert  notify.AlertSink
	Sound  notify.SoundPlayer
	Logger *zap.SugaredLogger
	Redis  redis.Cmdable
	DB     *gorm.DB
}

type Services struct {
	Config        *config.Client
	Signaling     *signaling.Client
	PubSub        *pubsub.Router
	Notifications *notify.Center
	Reminders     *reminder.Scheduler
	Prefs         prefs.Store

	log     *zap.SugaredLogger
	subs    []*event.Subscription
	closers []func() error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Client, deps Deps) (*Services, error) {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.S()
	}
	log := deps.Logger.With("user", cfg.Identity.UserID)
	if deps.Alert == nil {
		deps.Alert = &notify.LogSink{Log: log}
	}

	loc, err := cfg.Reminders.Location()
	if err != nil {
		return nil, fmt.Errorf("reminders timezone: %w", err)
	}

	s := &Services{Config: cfg, log: log}
	kv, err := s.openPrefs(cfg, deps)
	if err != nil {
		return nil, err
	}
	s.Prefs = prefs.NewStore(kv)

	s.Notifications = notify.NewCenter(notify.Options{
		Alert:  deps.Alert,
		Sound:  deps.Sound,
		Prefs:  s.Prefs,
		Clock:  deps.Clock,
		Logger: log,
	})
	s.Reminders = reminder.New(reminder.Options{
		Dispatcher:          s.Notifications,
		Prefs:               s.Prefs,
		Clock:               deps.Clock,
		Logger:              log,
		Location:            loc,
		InactivityThreshold: cfg.Reminders.InactivityThreshold(),
	})
	s.Signaling = signaling.New(transport.Options{
		Name:   "signaling",
		URL:    cfg.Signaling.URL,
		Config: cfg.Signaling.Transport,
		Dialer: deps.Dialer,
		Clock:  deps.Clock,
		Logger: log,
	})
	s.PubSub = pubsub.New(transport.Options{
		Name:   "pubsub",
		URL:    cfg.PubSub.URL,
		Config: cfg.PubSub.Transport,
		Dialer: deps.Dialer,
		Clock:  deps.Clock,
		Logger: log,
	})
	s.subs = append(s.subs,
		s.PubSub.AddMessageHandler(pubsub.TypeNotification, s.Notifications.HandleMessage),
		s.Signaling.OnError(s.logFatal("signaling")),
		s.PubSub.OnError(s.logFatal("pubsub")),
	)
	return s, nil
}

func (s *Services) openPrefs(cfg *config.Client, deps Deps) (prefs.KV, error) {
	owner := cfg.Identity.UserID
	switch cfg.Prefs.Driver {
	case config.PrefsRedis:
		rdb := deps.Redis
		if rdb == nil {
			c := redis.NewClient(&redis.Options{Addr: cfg.Prefs.RedisAddr, DB: cfg.Prefs.RedisDB})
			s.closers = append(s.closers, c.Close)
			rdb = c
		}
		return prefs.NewRedisKV(rdb, cfg.Prefs.Prefix, owner), nil
	case config.PrefsPostgres:
		db := deps.DB
		if db == nil {
			var err error
			db, err = prefs.OpenPostgres(cfg.Prefs.DSN, cfg.Prefs.DBLog)
			if err != nil {
				return nil, fmt.Errorf("open prefs db: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				s.closers = append(s.closers, sqlDB.Close)
			}
			if err := prefs.Migrate(db); err != nil {
				return nil, fmt.Errorf("migrate prefs db: %w", err)
			}
		}
		return prefs.NewGormKV(db, owner), nil
	default:
		return prefs.NewMemoryKV(), nil
	}
}

func (s *Services) logFatal(site string) func(error) {
	return func(err error) {
		var fatal *transport.FatalError
		if errors.As(err, &fatal) {
			s.log.Errorw("connection gave up", "site", site, "attempts", fatal.Attempts, "dropped", fatal.Dropped, "error", fatal.Err)
			return
		}
		s.log.Warnw("connection error", "site", site, "error", err)
	}
}

// Start connects both transports, installs the default reminders and
// starts the inactivity watch. A failed first dial is not an error.
func (s *Services) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	id := s.Config.Identity.Identity()
	if err := s.connect("signaling", s.Signaling.Connect(ctx, id)); err != nil {
		return err
	}
	if err := s.connect("pubsub", s.PubSub.Connect(ctx, id)); err != nil {
		s.Signaling.Disconnect()
		return err
	}

	s.Notifications.RequestPermission(ctx)
	if err := s.Reminders.InstallDefaults(s.Config.Reminders.Defaults); err != nil {
		s.Signaling.Disconnect()
		s.PubSub.Disconnect()
		return err
	}

	wctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Reminders.WatchInactivity(wctx, s.Config.Reminders.InactivityInterval)
	}()
	s.log.Infow("services started", "role", id.Role)
	return nil
}

// connect keeps going on dial failures, the transport retries on its own.
func (s *Services) connect(site string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrEmptyUserID), errors.Is(err, transport.ErrClosed):
		return fmt.Errorf("%s connect: %w", site, err)
	}
	s.log.Warnw("first dial failed, retrying", "site", site, "error", err)
	return nil
}

// MarkActive records user activity for the inactivity check.
func (s *Services) MarkActive(ctx context.Context) {
	if err := s.Reminders.MarkActive(ctx); err != nil {
		s.log.Warnw("mark active", "error", err)
	}
}

// Close disconnects, cancels every reminder and releases owned stores.
func (s *Services) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.Signaling.Disconnect()
	s.PubSub.Disconnect()
	s.Reminders.CancelAll()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil

	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
