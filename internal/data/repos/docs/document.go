package docs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// DocumentListRow is one row of the admin document listing, including the
// latest ingestion run's status for the document (nil when never ingested).
type DocumentListRow struct {
	ID                int64     `gorm:"column:id" json:"id"`
	GUID              uuid.UUID `gorm:"column:guid" json:"guid"`
	Name              string    `gorm:"column:name" json:"name"`
	AircraftModelCode *string   `gorm:"column:aircraft_model_code" json:"aircraft_model_code"`
	CategoryName      *string   `gorm:"column:category_name" json:"category_name"`
	LatestJobStatus   *string   `gorm:"column:latest_job_status" json:"latest_job_status"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
}

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error)
	GetByGUID(dbc dbctx.Context, guid uuid.UUID) (*types.Document, error)
	GetByID(dbc dbctx.Context, id int64) (*types.Document, error)
	List(dbc dbctx.Context, offset, limit int) ([]*DocumentListRow, int64, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if doc == nil {
		return nil, nil
	}
	if doc.GUID == uuid.Nil {
		doc.GUID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByGUID(dbc dbctx.Context, guid uuid.UUID) (*types.Document, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if guid == uuid.Nil {
		return nil, nil
	}
	var doc types.Document
	err := transaction.WithContext(dbc.Ctx).
		Preload("AircraftModel").
		Preload("Category").
		Preload("SerialRanges").
		Preload("Versions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("guid = ?", guid).
		Limit(1).
		Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id int64) (*types.Document, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil, nil
	}
	var doc types.Document
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (r *documentRepo) List(dbc dbctx.Context, offset, limit int) ([]*DocumentListRow, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var total int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Document{}).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := transaction.WithContext(dbc.Ctx).
		Table("documents AS d").
		Select(`d.id, d.guid, d.name, d.created_at,
			am.code AS aircraft_model_code,
			cat.name AS category_name,
			(SELECT j.status
			   FROM document_jobs j
			   JOIN document_versions v ON v.id = j.document_version_id
			  WHERE v.document_id = d.id AND j.parent_job_id IS NULL
			  ORDER BY j.created_at DESC
			  LIMIT 1) AS latest_job_status`).
		Joins("LEFT JOIN aircraft_models am ON am.id = d.aircraft_model_id").
		Joins("LEFT JOIN categories cat ON cat.id = d.category_id").
		Where("d.deleted_at IS NULL").
		Order("d.created_at DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []*DocumentListRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
