package chrono

import (
	"lmsync-backend/lib/timezone"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`
type StandardCron struct {
	cron *cron.Cron
}

func NewStandardCron() StandardCron {
	cronner := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithLocation(timezone.Location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

// SkipOverlap wraps callback so an invocation arriving while a
// previous one is still running is dropped instead of running
// concurrently. The cron chain only covers firings of the same job;
// this also covers callers invoking the callback directly.
func SkipOverlap(name string, callback func()) func() {
	var mu sync.Mutex
	return func() {
		if !mu.TryLock() {
			slog.Warn("previous run still in progress, skipping", "job", name)
			return
		}
		defer mu.Unlock()
		callback()
	}
}

type cronLogger struct{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"err", err}, keysAndValues...)
	slog.Error(msg, args...)
}
