package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"investhub-platform/pkg/events"
	"investhub-platform/pkg/taskname"
	"investhub-platform/services/ledger"
	"investhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

type fakeAccruer struct {
	users    []string
	accrued  []string
	err      error
	pageSeen []string
}

func (f *fakeAccruer) AccrueIncome(_ context.Context, userID string) (*ledger.Ledger, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.accrued = append(f.accrued, userID)
	return &ledger.Ledger{UserID: userID, Income: decimal.NewFromInt(45)}, nil
}

func (f *fakeAccruer) UsersWithActiveHoldings(_ context.Context, after string, limit int) ([]string, error) {
	f.pageSeen = append(f.pageSeen, after)
	return page(f.users, after, limit), nil
}

type fakeUsers struct {
	ids []string
}

func (f *fakeUsers) ListUserIDs(_ context.Context, after string, limit int) ([]string, error) {
	return page(f.ids, after, limit), nil
}

type fakeBackfiller struct {
	seen []string
}

func (f *fakeBackfiller) Backfill(_ context.Context, ids []string) (int, error) {
	f.seen = append(f.seen, ids...)
	return len(ids), nil
}

func page(ids []string, after string, limit int) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var out []string
	for _, id := range sorted {
		if id > after && len(out) < limit {
			out = append(out, id)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	enqueuer *fakeEnqueuer
	accruer  *fakeAccruer
	users    *fakeUsers
	profiles *fakeBackfiller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	f := &fixture{
		enqueuer: &fakeEnqueuer{},
		accruer:  &fakeAccruer{},
		users:    &fakeUsers{},
		profiles: &fakeBackfiller{},
	}
	f.svc = newService(db, testutil.NewNode(t), f.enqueuer, f.accruer, f.profiles, f.users)
	return f
}

func TestEnqueueAccrualRecordsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueAccrual(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, JobPending, job.Status)
	require.Len(t, f.enqueuer.tasks, 1)
	require.Equal(t, taskname.IncomeAccrue, f.enqueuer.tasks[0].Type())

	p, err := decodePayload(f.enqueuer.tasks[0])
	require.NoError(t, err)
	require.Equal(t, "user-1", p.UserID)
	require.Equal(t, job.ID, p.JobID)
}

func TestEnqueueFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueuer.err = errors.New("redis down")

	_, err := f.svc.EnqueueAccrual(ctx, "user-1")
	require.Error(t, err)

	var jobs []Job
	require.NoError(t, f.svc.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, JobFailed, jobs[0].Status)
	require.Equal(t, "redis down", jobs[0].ErrorMsg)
}

func TestHandleAccrueTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.EnqueueAccrual(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleAccrueTask(ctx, f.enqueuer.tasks[0]))
	require.Equal(t, []string{"user-1"}, f.accruer.accrued)

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobSuccess, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.CompletedAt)
	require.JSONEq(t, `{"income":"45.00"}`, string(stored.Metadata))
}

func TestHandleAccrueTaskFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accruer.err = errors.New("deadlock")

	job, err := f.svc.EnqueueAccrual(ctx, "user-1")
	require.NoError(t, err)

	require.Error(t, f.svc.HandleAccrueTask(ctx, f.enqueuer.tasks[0]))

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, stored.Status)
	require.Equal(t, "deadlock", stored.ErrorMsg)
}

func TestHandleAccrueTaskRejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleAccrueTask(context.Background(), asynq.NewTask(taskname.IncomeAccrue, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = f.svc.HandleAccrueTask(context.Background(), asynq.NewTask(taskname.IncomeAccrue, []byte(`not-json`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, f.accruer.accrued)
}

func TestEnqueueAllAccrualsPages(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < batchSize+3; i++ {
		f.accruer.users = append(f.accruer.users, fmt.Sprintf("user-%04d", i))
	}

	n, err := f.svc.EnqueueAllAccruals(context.Background())
	require.NoError(t, err)
	require.Equal(t, batchSize+3, n)
	require.Len(t, f.enqueuer.tasks, batchSize+3)
	require.Equal(t, []string{"", fmt.Sprintf("user-%04d", batchSize-1)}, f.accruer.pageSeen)
}

func TestHandleAccrueAllTaskCreatesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accruer.users = []string{"user-a", "user-b"}

	require.NoError(t, f.svc.HandleAccrueAllTask(ctx, asynq.NewTask(taskname.IncomeAccrueAll, nil)))
	require.Len(t, f.enqueuer.tasks, 2)

	var sweep Job
	require.NoError(t, f.svc.db.Where("task_name = ?", taskname.IncomeAccrueAll).First(&sweep).Error)
	require.Equal(t, JobSuccess, sweep.Status)
	require.JSONEq(t, `{"enqueued":2}`, string(sweep.Metadata))
}

func TestHandleReferralBackfill(t *testing.T) {
	f := newFixture(t)
	f.users.ids = []string{"u3", "u1", "u2"}

	require.NoError(t, f.svc.HandleReferralBackfill(context.Background(), asynq.NewTask(taskname.ReferralBackfill, nil)))
	require.Equal(t, []string{"u1", "u2", "u3"}, f.profiles.seen)
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t)

	task, err := events.NewTask(events.Event{
		Type:       taskname.RechargeCompleted,
		UserID:     "user-1",
		ResourceID: "req-1",
		Amount:     decimal.NewFromInt(500),
		Status:     "Completed",
		OccurredAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleEvent(context.Background(), task))

	err = f.svc.HandleEvent(context.Background(), asynq.NewTask(taskname.RechargeCompleted, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNextRunTime(t *testing.T) {
	before := time.Date(2026, 8, 1, 0, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC), nextRunTime(before, 1, 0))

	after := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 2, 1, 0, 0, 0, time.UTC), nextRunTime(after, 1, 0))
}
