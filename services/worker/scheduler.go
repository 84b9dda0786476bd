package worker

import (
	"context"
	"time"

	"investhub-platform/pkg/task"
	"investhub-platform/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	hour    int
	minute  int
	stop    chan struct{}
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{service: svc, hour: 1, stop: make(chan struct{})}
}

// StartScheduler runs the daily accrual sweep for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			close(s.stop)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started income accrual scheduler")

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.hour, s.minute)

		sleep := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleep),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
			s.runDaily(ctx)
		case <-s.stop:
			timer.Stop()
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	job, err := s.service.Enqueue(ctx, taskname.IncomeAccrueAll, "", asynq.Queue(task.QueueLow), asynq.MaxRetry(1))
	if err != nil {
		zap.L().Error("[Scheduler] failed enqueue accrual sweep", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] accrual sweep enqueued", zap.String("job_id", job.ID))
}

// nextRunTime returns the next occurrence of hour:minute after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
