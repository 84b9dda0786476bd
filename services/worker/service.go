package worker

import (
	"context"
	"encoding/json"
	"time"

	"investhub-platform/pkg/events"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/task"
	"investhub-platform/pkg/taskname"
	"investhub-platform/services/account"
	"investhub-platform/services/ledger"
	"investhub-platform/services/product"
	"investhub-platform/services/referral"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const batchSize = 250

type IncomeAccruer interface {
	AccrueIncome(ctx context.Context, userID string) (*ledger.Ledger, error)
	UsersWithActiveHoldings(ctx context.Context, after string, limit int) ([]string, error)
}

type ProfileBackfiller interface {
	Backfill(ctx context.Context, userIDs []string) (int, error)
}

type UserLister interface {
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	now      func() time.Time

	income   IncomeAccruer
	profiles ProfileBackfiller
	users    UserLister
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer

	Products *product.Service
	Referral *referral.Service
	Accounts *account.Service
}

func NewService(p Params) *Service {
	return newService(p.DB, p.Node, p.Enqueuer, p.Products, p.Referral, p.Accounts)
}

func newService(db *gorm.DB, node *snowflake.Node, enqueuer task.Enqueuer, income IncomeAccruer, profiles ProfileBackfiller, users UserLister) *Service {
	return &Service{
		db:       db,
		node:     node,
		enqueuer: enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
		income:   income,
		profiles: profiles,
		users:    users,
	}
}

func NewTask(name string, p jobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, payload, opts...), nil
}

// Enqueue records a pending job and hands the task to the queue. The job is
// marked failed when the enqueue itself fails.
func (s *Service) Enqueue(ctx context.Context, name, userID string, opts ...asynq.Option) (*Job, error) {
	now := s.now()
	job := &Job{
		ID:        s.node.Generate().String(),
		TaskName:  name,
		UserID:    userID,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}

	t, err := NewTask(name, jobPayload{UserID: userID, JobID: job.ID}, opts...)
	if err != nil {
		return nil, err
	}

	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		s.finish(ctx, job.ID, nil, err)
		return nil, err
	}

	logger.L(ctx).Info("enqueued job",
		zap.String("task", name),
		zap.String("user_id", userID),
		zap.String("job_id", job.ID),
	)
	return job, nil
}

func (s *Service) EnqueueAccrual(ctx context.Context, userID string) (*Job, error) {
	return s.Enqueue(ctx, taskname.IncomeAccrue, userID, asynq.Queue(task.QueueDefault), asynq.MaxRetry(3))
}

// EnqueueAllAccruals enqueues one accrual per user with an active holding.
// A failed enqueue is logged and the sweep continues.
func (s *Service) EnqueueAllAccruals(ctx context.Context) (int, error) {
	after := ""
	total := 0

	for {
		ids, err := s.income.UsersWithActiveHoldings(ctx, after, batchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if _, err := s.EnqueueAccrual(ctx, id); err != nil {
				logger.L(ctx).Error("failed enqueue accrual", zap.String("user_id", id), zap.Error(err))
				continue
			}
			total++
		}

		if len(ids) < batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	logger.L(ctx).Info("finished enqueue all accruals", zap.Int("total_users", total))
	return total, nil
}

// BackfillProfiles creates missing referral profiles for every user.
func (s *Service) BackfillProfiles(ctx context.Context) (int, error) {
	after := ""
	created := 0

	for {
		ids, err := s.users.ListUserIDs(ctx, after, batchSize)
		if err != nil {
			return created, err
		}
		if len(ids) == 0 {
			break
		}

		n, err := s.profiles.Backfill(ctx, ids)
		created += n
		if err != nil {
			return created, err
		}

		if len(ids) < batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	return created, nil
}

func decodePayload(t *asynq.Task) (jobPayload, error) {
	var p jobPayload
	if len(t.Payload()) == 0 {
		return p, nil
	}
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}

func (s *Service) HandleAccrueTask(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil || p.UserID == "" {
		logger.L(ctx).Error("invalid accrual payload", zap.ByteString("payload", t.Payload()), zap.Error(err))
		return asynq.SkipRetry
	}

	return s.run(ctx, t.Type(), p, func(ctx context.Context) (map[string]any, error) {
		l, err := s.income.AccrueIncome(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"income": l.Income.StringFixed(2)}, nil
	})
}

func (s *Service) HandleAccrueAllTask(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return asynq.SkipRetry
	}

	return s.run(ctx, t.Type(), p, func(ctx context.Context) (map[string]any, error) {
		n, err := s.EnqueueAllAccruals(ctx)
		return map[string]any{"enqueued": n}, err
	})
}

func (s *Service) HandleReferralBackfill(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return asynq.SkipRetry
	}

	return s.run(ctx, t.Type(), p, func(ctx context.Context) (map[string]any, error) {
		n, err := s.BackfillProfiles(ctx)
		return map[string]any{"created": n}, err
	})
}

// HandleEvent writes a published domain event to the audit log.
func (s *Service) HandleEvent(ctx context.Context, t *asynq.Task) error {
	e, err := events.Decode(t)
	if err != nil {
		logger.L(ctx).Error("invalid event payload", zap.String("task_type", t.Type()), zap.Error(err))
		return asynq.SkipRetry
	}

	fields := []zap.Field{
		zap.String("event_type", e.Type),
		zap.String("user_id", e.UserID),
		zap.String("resource_id", e.ResourceID),
		zap.String("amount", e.Amount.StringFixed(2)),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", e.Status))
	}
	for k, v := range e.Attributes {
		fields = append(fields, zap.String(k, v))
	}

	logger.L(ctx).Info("audit", fields...)
	return nil
}

// run marks the job running, executes fn and records the outcome. Tasks
// enqueued without a job record get one here.
func (s *Service) run(ctx context.Context, name string, p jobPayload, fn func(context.Context) (map[string]any, error)) error {
	now := s.now()
	jobID := p.JobID

	if jobID == "" {
		jobID = s.node.Generate().String()
		if err := s.db.WithContext(ctx).Create(&Job{
			ID:        jobID,
			TaskName:  name,
			UserID:    p.UserID,
			Status:    JobRunning,
			StartedAt: &now,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error; err != nil {
			return err
		}
	} else if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":     JobRunning,
		"started_at": now,
		"updated_at": now,
	}).Error; err != nil {
		return err
	}

	log := logger.L(ctx).With(zap.String("task", name), zap.String("job_id", jobID), zap.String("user_id", p.UserID))
	log.Info("processing task")

	meta, err := fn(ctx)
	s.finish(ctx, jobID, meta, err)
	if err != nil {
		log.Error("task failed", zap.Error(err))
		return err
	}

	log.Info("task finished")
	return nil
}

func (s *Service) finish(ctx context.Context, jobID string, meta map[string]any, runErr error) {
	now := s.now()
	updates := map[string]any{
		"status":       JobSuccess,
		"completed_at": now,
		"updated_at":   now,
	}
	if runErr != nil {
		updates["status"] = JobFailed
		updates["error_msg"] = runErr.Error()
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			updates["metadata"] = datatypes.JSON(b)
		}
	}

	if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		logger.L(ctx).Warn("failed to record job outcome", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
