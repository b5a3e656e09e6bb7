package jobs

import "time"

const (
	JobTypeIngestion = "ingestion"
	JobTypeChunking  = "chunking"
	JobTypeEmbedding = "embedding"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DocumentJob is one unit of background work against a document version.
// A parent job (job_type ingestion, ParentJobID nil) represents one ingestion
// run; child jobs carry the chunk index range they are responsible for
// (start inclusive, end exclusive).
type DocumentJob struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentVersionID int64      `gorm:"column:document_version_id;not null;index" json:"document_version_id"`
	JobType           string     `gorm:"column:job_type;size:50;not null;index" json:"job_type"`
	Status            string     `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	ErrorMessage      *string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	StartedAt         *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:now()" json:"updated_at"`

	ParentJobID     *int64 `gorm:"column:parent_job_id;index" json:"parent_job_id,omitempty"`
	ChunkStartIndex *int   `gorm:"column:chunk_start_index" json:"chunk_start_index,omitempty"`
	ChunkEndIndex   *int   `gorm:"column:chunk_end_index" json:"chunk_end_index,omitempty"`

	ChildJobs []DocumentJob `gorm:"foreignKey:ParentJobID;references:ID" json:"child_jobs,omitempty"`
}

func (DocumentJob) TableName() string { return "document_jobs" }

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StatusCounts aggregates child job statuses for one parent job.
type StatusCounts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

func (c StatusCounts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Cancelled
}

// DeriveParentStatus computes a parent job's status from its children.
// Priority order: any failed child fails the run; otherwise outstanding work
// keeps it running; a run whose children all completed is completed. A parent
// explicitly cancelled before its children finished stays cancelled, and a run
// whose remaining children were all cancelled is cancelled. This is the only
// code path allowed to produce a parent status.
func DeriveParentStatus(parentCancelled bool, c StatusCounts) string {
	if c.Failed > 0 {
		return StatusFailed
	}
	if parentCancelled {
		return StatusCancelled
	}
	if c.Pending > 0 || c.Running > 0 {
		return StatusRunning
	}
	if c.Cancelled > 0 {
		return StatusCancelled
	}
	if c.Completed > 0 && c.Completed == c.Total() {
		return StatusCompleted
	}
	// No children yet: the run is created but has not fanned out.
	return StatusPending
}
