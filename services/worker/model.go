package worker

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is an execution record of a background task.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	TaskName    string         `gorm:"column:task_name;index;type:varchar(100);not null" json:"task_name"`
	UserID      string         `gorm:"column:user_id;index" json:"user_id,omitempty"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Job) TableName() string { return "worker_jobs" }

type jobPayload struct {
	UserID string `json:"user_id,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

func Models() []any {
	return []any{&Job{}}
}
