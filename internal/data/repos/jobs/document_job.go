package jobs

import (
	"time"

	"gorm.io/gorm"

	types "github.com/aerodocs/techpubs-backend/internal/domain"
	domjobs "github.com/aerodocs/techpubs-backend/internal/domain/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// ParentJobFilter narrows the admin job listing.
type ParentJobFilter struct {
	Status       string
	StartDate    *time.Time
	StaleMinutes int
}

// ParentJobRow joins a parent job with the display name of the document it
// belongs to.
type ParentJobRow struct {
	types.DocumentJob
	DocumentName string `gorm:"column:document_name" json:"document_name"`
}

// ParentStatusTotals counts parent jobs per status within the listing's date
// window, shown as the admin monitor's summary strip.
type ParentStatusTotals struct {
	Pending   int64 `json:"pending_count"`
	Running   int64 `json:"running_count"`
	Completed int64 `json:"completed_count"`
	Failed    int64 `json:"failed_count"`
	Cancelled int64 `json:"cancelled_count"`
}

type DocumentJobRepo interface {
	Create(dbc dbctx.Context, jobs []*types.DocumentJob) ([]*types.DocumentJob, error)
	GetByID(dbc dbctx.Context, id int64) (*types.DocumentJob, error)
	GetWithChildren(dbc dbctx.Context, id int64) (*types.DocumentJob, error)
	GetStatus(dbc dbctx.Context, id int64) (string, error)
	ListParents(dbc dbctx.Context, filter ParentJobFilter) ([]*ParentJobRow, ParentStatusTotals, error)
	ListByVersion(dbc dbctx.Context, versionID int64) ([]*types.DocumentJob, error)
	Children(dbc dbctx.Context, parentID int64) ([]*types.DocumentJob, error)
	ChildStatusCounts(dbc dbctx.Context, parentID int64, jobType string) (types.StatusCounts, error)
	HasActiveParentForVersion(dbc dbctx.Context, versionID int64) (bool, error)
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id int64, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	CancelPendingByType(dbc dbctx.Context, jobType string) (int64, []int64, error)
}

type documentJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentJobRepo(db *gorm.DB, baseLog *logger.Logger) DocumentJobRepo {
	return &documentJobRepo{db: db, log: baseLog.With("repo", "DocumentJobRepo")}
}

func (r *documentJobRepo) Create(dbc dbctx.Context, jobs []*types.DocumentJob) ([]*types.DocumentJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.DocumentJob{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *documentJobRepo) GetByID(dbc dbctx.Context, id int64) (*types.DocumentJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil, nil
	}
	var job types.DocumentJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *documentJobRepo) GetWithChildren(dbc dbctx.Context, id int64) (*types.DocumentJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil, nil
	}
	var job types.DocumentJob
	err := transaction.WithContext(dbc.Ctx).
		Preload("ChildJobs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *documentJobRepo) GetStatus(dbc dbctx.Context, id int64) (string, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var statuses []string
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", nil
	}
	return statuses[0], nil
}

func (r *documentJobRepo) ListParents(dbc dbctx.Context, filter ParentJobFilter) ([]*ParentJobRow, ParentStatusTotals, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(dbc.Ctx).
		Table("document_jobs AS j").
		Select("j.*, d.name AS document_name").
		Joins("JOIN document_versions v ON v.id = j.document_version_id").
		Joins("JOIN documents d ON d.id = v.document_id").
		Where("j.parent_job_id IS NULL")
	if filter.Status != "" {
		q = q.Where("j.status = ?", filter.Status)
	}
	if filter.StartDate != nil {
		q = q.Where("j.created_at >= ?", *filter.StartDate)
	}
	if filter.StaleMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(filter.StaleMinutes) * time.Minute)
		q = q.Where("j.status = ? AND j.started_at IS NOT NULL AND j.started_at < ?", domjobs.StatusRunning, cutoff)
	}

	var rows []*ParentJobRow
	if err := q.Order("j.created_at DESC").Scan(&rows).Error; err != nil {
		return nil, ParentStatusTotals{}, err
	}

	// Totals share the listing's date window but not its status filter, so the
	// summary strip always shows the full status breakdown for the window.
	var totals ParentStatusTotals
	type countRow struct {
		Status string
		N      int64
	}
	cq := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Select("status, COUNT(*) AS n").
		Where("parent_job_id IS NULL")
	if filter.StartDate != nil {
		cq = cq.Where("created_at >= ?", *filter.StartDate)
	}
	var counts []countRow
	err := cq.Group("status").Scan(&counts).Error
	if err != nil {
		return nil, ParentStatusTotals{}, err
	}
	for _, c := range counts {
		switch c.Status {
		case domjobs.StatusPending:
			totals.Pending = c.N
		case domjobs.StatusRunning:
			totals.Running = c.N
		case domjobs.StatusCompleted:
			totals.Completed = c.N
		case domjobs.StatusFailed:
			totals.Failed = c.N
		case domjobs.StatusCancelled:
			totals.Cancelled = c.N
		}
	}
	return rows, totals, nil
}

func (r *documentJobRepo) ListByVersion(dbc dbctx.Context, versionID int64) ([]*types.DocumentJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DocumentJob
	if versionID == 0 {
		return out, nil
	}
	err := transaction.WithContext(dbc.Ctx).
		Where("document_version_id = ?", versionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentJobRepo) Children(dbc dbctx.Context, parentID int64) ([]*types.DocumentJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DocumentJob
	if parentID == 0 {
		return out, nil
	}
	err := transaction.WithContext(dbc.Ctx).
		Where("parent_job_id = ?", parentID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentJobRepo) ChildStatusCounts(dbc dbctx.Context, parentID int64, jobType string) (types.StatusCounts, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var counts types.StatusCounts
	if parentID == 0 {
		return counts, nil
	}
	type row struct {
		Status string
		N      int
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Select("status, COUNT(*) AS n").
		Where("parent_job_id = ?", parentID)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	var rows []row
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return counts, err
	}
	for _, rr := range rows {
		switch rr.Status {
		case domjobs.StatusPending:
			counts.Pending = rr.N
		case domjobs.StatusRunning:
			counts.Running = rr.N
		case domjobs.StatusCompleted:
			counts.Completed = rr.N
		case domjobs.StatusFailed:
			counts.Failed = rr.N
		case domjobs.StatusCancelled:
			counts.Cancelled = rr.N
		}
	}
	return counts, nil
}

func (r *documentJobRepo) HasActiveParentForVersion(dbc dbctx.Context, versionID int64) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if versionID == 0 {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Where("document_version_id = ? AND parent_job_id IS NULL AND status IN ?",
			versionID, []string{domjobs.StatusPending, domjobs.StatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *documentJobRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only while the job is NOT in one of
// the disallowed statuses. Workers use it for terminal writes so a completed
// mark can never overwrite an operator's cancel.
func (r *documentJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id int64, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelPendingByType marks every pending job of the given type cancelled and
// returns the distinct parents of the cancelled rows so the caller can
// re-derive their statuses. Paired with draining the matching work queue so
// ledger and queue stay consistent.
func (r *documentJobRepo) CancelPendingByType(dbc dbctx.Context, jobType string) (int64, []int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobType == "" {
		return 0, nil, nil
	}

	var parentIDs []int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Distinct().
		Where("job_type = ? AND status = ? AND parent_job_id IS NOT NULL", jobType, domjobs.StatusPending).
		Pluck("parent_job_id", &parentIDs).Error
	if err != nil {
		return 0, nil, err
	}

	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentJob{}).
		Where("job_type = ? AND status = ?", jobType, domjobs.StatusPending).
		Updates(map[string]interface{}{
			"status":       domjobs.StatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, nil, res.Error
	}
	return res.RowsAffected, parentIDs, nil
}
