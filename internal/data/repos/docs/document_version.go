package docs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

type DocumentVersionRepo interface {
	Create(dbc dbctx.Context, version *types.DocumentVersion) (*types.DocumentVersion, error)
	GetByID(dbc dbctx.Context, id int64) (*types.DocumentVersion, error)
	// LockByID takes a FOR UPDATE lock on the version row; callers serialize
	// ingestion-run creation on it. Must run inside a transaction.
	LockByID(dbc dbctx.Context, id int64) (*types.DocumentVersion, error)
	GetLatestByDocumentID(dbc dbctx.Context, documentID int64) (*types.DocumentVersion, error)
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
}

type documentVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentVersionRepo(db *gorm.DB, baseLog *logger.Logger) DocumentVersionRepo {
	return &documentVersionRepo{db: db, log: baseLog.With("repo", "DocumentVersionRepo")}
}

func (r *documentVersionRepo) Create(dbc dbctx.Context, version *types.DocumentVersion) (*types.DocumentVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if version == nil {
		return nil, nil
	}
	if version.GUID == uuid.Nil {
		version.GUID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(version).Error; err != nil {
		return nil, err
	}
	return version, nil
}

func (r *documentVersionRepo) GetByID(dbc dbctx.Context, id int64) (*types.DocumentVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil, nil
	}
	var version types.DocumentVersion
	err := transaction.WithContext(dbc.Ctx).
		Preload("Document").
		Where("id = ?", id).
		Limit(1).
		Find(&version).Error
	if err != nil {
		return nil, err
	}
	if version.ID == 0 {
		return nil, nil
	}
	return &version, nil
}

func (r *documentVersionRepo) LockByID(dbc dbctx.Context, id int64) (*types.DocumentVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil, nil
	}
	var version types.DocumentVersion
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&version).Error
	if err != nil {
		return nil, err
	}
	if version.ID == 0 {
		return nil, nil
	}
	return &version, nil
}

func (r *documentVersionRepo) GetLatestByDocumentID(dbc dbctx.Context, documentID int64) (*types.DocumentVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == 0 {
		return nil, nil
	}
	var version types.DocumentVersion
	err := transaction.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(1).
		Find(&version).Error
	if err != nil {
		return nil, err
	}
	if version.ID == 0 {
		return nil, nil
	}
	return &version, nil
}

func (r *documentVersionRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentVersion{}).
		Where("id = ?", id).
		Updates(updates).Error
}
