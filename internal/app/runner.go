package app

import (
	"context"
	"time"

	"levelup-reminder/internal/adapters/boltstore"
	"levelup-reminder/internal/adapters/botapi"
	"levelup-reminder/internal/adapters/catalogfile"
	"levelup-reminder/internal/adapters/cli"
	"levelup-reminder/internal/adapters/localdelivery"
	"levelup-reminder/internal/concurrency"
	"levelup-reminder/internal/domain/calendar"
	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/domain/slots"
	"levelup-reminder/internal/infra/config"
	"levelup-reminder/internal/infra/lifecycle"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/storage"
	"levelup-reminder/internal/infra/timeutil"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Узлы жизненного цикла serve.
const (
	nodeDebouncer  = "debouncer"
	nodeSession    = "session"
	nodeDispatcher = "dispatcher"
	nodeCLI        = "cli"
)

// App собирает хранилище, доставку, планировщик и состояние пользователя.
// Init строит граф объектов; Serve поднимает фоновые сервисы и блокируется
// до отмены контекста; Close освобождает bbolt-файл.
type App struct {
	mainCtx  context.Context
	stop     context.CancelFunc
	db       *bbolt.DB
	delivery *localdelivery.Delivery
	deb      *concurrency.Debouncer[string]
	store    *Store
}

func NewApp() *App { return &App{} }

// Init открывает состояние и собирает зависимости по текущей конфигурации.
// interactive - stdin является терминалом: разрешение спрашивается в консоли.
func (a *App) Init(ctx context.Context, stop context.CancelFunc, interactive bool) error {
	env := config.Env()
	a.mainCtx, a.stop = ctx, stop

	db, err := storage.OpenBolt(env.StateFile)
	if err != nil {
		return errors.Wrap(err, "open state")
	}
	a.db = db

	states, err := boltstore.New(db, boltstore.WithInitialSlots(initialSlots(env.DefaultSlots)))
	if err != nil {
		return a.failInit(err)
	}

	var authorizer localdelivery.Authorizer = localdelivery.AutoAuthorizer(env.AutoAuthorize)
	if interactive {
		authorizer = localdelivery.NewPromptAuthorizer(authorizer)
	}
	a.delivery, err = localdelivery.New(db, authorizer)
	if err != nil {
		return a.failInit(err)
	}

	scheduler, err := notifications.NewScheduler(notifications.SchedulerOptions{
		Delivery:    a.delivery,
		Zones:       calendar.Zones{Device: config.AppLocation(), Server: config.ServerLocation()},
		HorizonDays: env.HorizonDays,
	})
	if err != nil {
		return a.failInit(err)
	}

	if env.RescheduleDebounceMS > 0 {
		a.deb = concurrency.NewDebouncer[string](time.Duration(env.RescheduleDebounceMS) * time.Millisecond)
	}

	a.store, err = NewStore(context.WithoutCancel(ctx), Options{
		Loader:      catalogfile.New(env.CatalogDir),
		Selections:  states,
		Preferences: states,
		Delivery:    a.delivery,
		Scheduler:   scheduler,
		Settings:    cli.SettingsHint{},
		Debouncer:   a.deb,
	})
	if err != nil {
		return a.failInit(err)
	}
	logger.Debug("app initialized",
		zap.String("state", env.StateFile),
		zap.String("catalog", env.CatalogDir),
		zap.String("notifier", env.Notifier))
	return nil
}

func (a *App) failInit(err error) error {
	_ = a.Close()
	return errors.Wrap(err, "app init")
}

func initialSlots(values []string) []slots.TimeSlot {
	out := make([]slots.TimeSlot, 0, len(values))
	for _, v := range values {
		h, m, err := timeutil.ParseClock(v)
		if err != nil {
			continue
		}
		out = append(out, slots.New(h, m))
	}
	return out
}

func (a *App) Store() *Store                      { return a.store }
func (a *App) Delivery() *localdelivery.Delivery { return a.delivery }

// Close закрывает bbolt-файл. Повторный вызов безопасен.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Serve поднимает сервисы в порядке зависимостей, ждёт отмены контекста
// и гасит их в обратном порядке.
func (a *App) Serve(interactive bool) error {
	sender, err := newSender()
	if err != nil {
		return err
	}
	dispatcher := localdelivery.NewDispatcher(localdelivery.DispatcherOptions{
		Delivery:     a.delivery,
		Sender:       sender,
		PollInterval: time.Duration(config.Env().DispatchIntervalSec) * time.Second,
	})

	lc := lifecycle.New(a.mainCtx)
	register := func(name string, deps []string, start lifecycle.StartFunc, stop lifecycle.StopFunc) {
		if err == nil {
			err = lc.Register(name, deps, start, stop)
		}
	}

	register(nodeDebouncer, nil,
		func(ctx context.Context) error {
			if a.deb != nil {
				a.deb.Start(ctx)
			}
			return nil
		},
		func(context.Context) error {
			if a.deb != nil {
				a.deb.Stop()
			}
			return nil
		})

	register(nodeSession, []string{nodeDebouncer},
		func(ctx context.Context) error {
			errLoad := a.store.LoadCatalogIfNeeded(ctx)
			if errors.Is(errLoad, catalog.ErrCatalogUnavailable) {
				logger.Warn("catalog unavailable, tracking is disabled", zap.Error(errLoad))
				return nil
			}
			return errLoad
		}, nil)

	register(nodeDispatcher, []string{nodeSession},
		func(ctx context.Context) error {
			dispatcher.Start(ctx)
			return nil
		},
		func(context.Context) error {
			dispatcher.Stop()
			return nil
		})

	if interactive {
		console := cli.NewService(a.store, a.delivery, config.AppLocation(), a.stop)
		register(nodeCLI, []string{nodeSession},
			func(ctx context.Context) error {
				console.Start(ctx)
				return nil
			},
			func(context.Context) error {
				console.Stop()
				return nil
			})
	}
	if err != nil {
		return err
	}

	logger.Info("levelup reminder running...")
	if err = lc.StartAll(); err != nil {
		_ = lc.Shutdown()
		return err
	}

	<-a.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping services...")
	return lc.Shutdown()
}

// newSender выбирает канал доставки сработавших напоминаний.
func newSender() (localdelivery.Sender, error) {
	env := config.Env()
	if env.Notifier != "bot" {
		return localdelivery.ConsoleSender{Location: config.AppLocation()}, nil
	}
	sender, err := botapi.NewSender(botapi.Options{
		Token:        env.BotToken,
		ChatID:       env.BotChatID,
		RPS:          env.ThrottleRPS,
		Burst:        env.ThrottleBurst,
		BaseDelay:    time.Duration(env.ThrottleBaseDelayMS) * time.Millisecond,
		ImageBaseURL: env.ImageBaseURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bot sender")
	}
	return sender, nil
}
