package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultInterval — период опроса хранилища.
const DefaultInterval = 5 * time.Minute

// PassRunner выполняет один проход диспетчера.
type PassRunner interface {
	RunPass(ctx context.Context) (PassReport, error)
}

// StopFunc останавливает будущие запуски. Возвращённый контекст завершается,
// когда закончатся уже идущие проходы.
type StopFunc func() context.Context

// Loop запускает проходы по расписанию "@every interval" и один раз сразу при старте.
// Проходы могут перекрываться, если обработка дольше интервала.
type Loop struct {
	runner   PassRunner
	interval time.Duration
	log      zerolog.Logger
}

// NewLoop создаёт цикл. interval <= 0 заменяется на DefaultInterval.
func NewLoop(runner PassRunner, interval time.Duration, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{runner: runner, interval: interval, log: logger}
}

// Start запускает цикл. Остановка не прерывает идущий проход: проходы выполняются
// в контексте, который не отменяется вместе с ctx.
func (l *Loop) Start(ctx context.Context) (StopFunc, error) {
	if l.runner == nil {
		return nil, errors.New("scheduler: runner is nil")
	}
	passCtx := context.WithoutCancel(ctx)

	recoverer := cron.Recover(cronLogger{log: l.log})
	pass := cron.FuncJob(func() { l.runPass(passCtx) })

	c := cron.New(
		cron.WithLogger(cronLogger{log: l.log}),
		cron.WithChain(recoverer),
	)
	if _, err := c.AddJob(fmt.Sprintf("@every %s", l.interval), pass); err != nil {
		return nil, fmt.Errorf("scheduler: register job: %w", err)
	}

	initialPass := cron.NewChain(recoverer).Then(pass)
	var initial sync.WaitGroup
	initial.Add(1)
	go func() {
		defer initial.Done()
		initialPass.Run()
	}()
	c.Start()
	l.log.Info().Dur("interval", l.interval).Msg("scheduler: цикл запущен")

	var (
		once sync.Once
		done context.Context
	)
	stop := func() context.Context {
		once.Do(func() {
			cronDone := c.Stop()
			stopped, cancel := context.WithCancel(context.Background())
			go func() {
				<-cronDone.Done()
				initial.Wait()
				cancel()
			}()
			done = stopped
			l.log.Info().Msg("scheduler: цикл остановлен")
		})
		return done
	}
	return stop, nil
}

func (l *Loop) runPass(ctx context.Context) {
	if _, err := l.runner.RunPass(ctx); err != nil {
		l.log.Error().Err(err).Msg("scheduler: проход завершился ошибкой")
	}
}

// cronLogger направляет журнал robfig/cron в zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
