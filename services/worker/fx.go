package worker

import (
	"investhub-platform/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

// Module runs the task handlers and the daily scheduler. It expects an
// asynq mux from task.Server.
var Module = fx.Module("worker.service",
	fx.Provide(NewService, NewScheduler),
	fx.Invoke(RegisterHandlers, StartScheduler),
)

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.IncomeAccrue, svc.HandleAccrueTask)
	mux.HandleFunc(taskname.IncomeAccrueAll, svc.HandleAccrueAllTask)
	mux.HandleFunc(taskname.ReferralBackfill, svc.HandleReferralBackfill)

	for _, name := range []string{
		taskname.RechargeRequested,
		taskname.RechargeCompleted,
		taskname.RechargeRejected,
		taskname.WithdrawalRequested,
		taskname.WithdrawalApproved,
		taskname.WithdrawalRejected,
		taskname.UserRegistered,
		taskname.RewardGranted,
	} {
		mux.HandleFunc(name, svc.HandleEvent)
	}
}
