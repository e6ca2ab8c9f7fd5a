package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"amber-ink/internal/infra/cache"
)

// Leaser выдаёт аренду на выполнение задачи.
type Leaser interface {
	Lease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Func: периодическая задача.
type Func func(ctx context.Context) error

// Runner запускает периодические задачи по cron-выражениям. Каждая задача
// выполняется под арендой, поэтому две реплики не запускают один проход.
type Runner struct {
	ctx    context.Context
	cron   *cron.Cron
	leases Leaser
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewRunner создаёт планировщик. leases может быть nil: тогда задачи
// выполняются без аренды. ttl ограничивает и аренду, и время прохода.
func NewRunner(ctx context.Context, loc *time.Location, leases Leaser, ttl time.Duration, logger zerolog.Logger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	log := logger.With().Str("component", "jobs").Logger()
	clog := cronLogger{log: log}
	return &Runner{
		ctx: ctx,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		leases: leases,
		ttl:    ttl,
		prefix: "amber-ink:lease:",
		log:    log,
	}
}

// Add регистрирует задачу name с расписанием spec.
func (r *Runner) Add(name, spec string, fn Func) error {
	_, err := r.cron.AddFunc(spec, func() { r.Run(name, fn) })
	if err != nil {
		return err
	}
	r.log.Info().Str("job", name).Str("spec", spec).Msg("jobs: задача зарегистрирована")
	return nil
}

// Run выполняет задачу один раз под арендой. Ошибки только логируются.
func (r *Runner) Run(name string, fn Func) {
	ctx, cancel := context.WithTimeout(r.ctx, r.ttl)
	defer cancel()

	start := time.Now()
	var err error
	if r.leases != nil {
		err = r.leases.Lease(ctx, r.prefix+name, r.ttl, fn)
	} else {
		err = fn(ctx)
	}
	switch {
	case errors.Is(err, cache.ErrLeaseHeld):
		r.log.Debug().Str("job", name).Msg("jobs: аренда занята, пропуск")
	case err != nil:
		r.log.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("jobs: задача завершилась ошибкой")
	default:
		r.log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("jobs: задача выполнена")
	}
}

// Start запускает cron.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Msg("jobs: планировщик запущен")
}

// Stop останавливает cron и ждёт текущие задачи, но не дольше ctx.
func (r *Runner) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	r.log.Info().Msg("jobs: планировщик остановлен")
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
