package docs

import (
	"gorm.io/gorm"

	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// LookupRepo serves the classification tables behind the upload wizard.
type LookupRepo interface {
	ListAircraftModels(dbc dbctx.Context) ([]*types.AircraftModel, error)
	ListCategories(dbc dbctx.Context) ([]*types.Category, error)
	ListPlatforms(dbc dbctx.Context) ([]*types.Platform, error)
	ListDocumentTypes(dbc dbctx.Context) ([]*types.DocumentType, error)
	AircraftModelExists(dbc dbctx.Context, id int64) (bool, error)
	CategoryExists(dbc dbctx.Context, id int64) (bool, error)
}

type lookupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLookupRepo(db *gorm.DB, baseLog *logger.Logger) LookupRepo {
	return &lookupRepo{db: db, log: baseLog.With("repo", "LookupRepo")}
}

func (r *lookupRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *lookupRepo) ListAircraftModels(dbc dbctx.Context) ([]*types.AircraftModel, error) {
	var out []*types.AircraftModel
	if err := r.tx(dbc).Order("code ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lookupRepo) ListCategories(dbc dbctx.Context) ([]*types.Category, error) {
	var out []*types.Category
	if err := r.tx(dbc).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lookupRepo) ListPlatforms(dbc dbctx.Context) ([]*types.Platform, error) {
	var out []*types.Platform
	if err := r.tx(dbc).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lookupRepo) ListDocumentTypes(dbc dbctx.Context) ([]*types.DocumentType, error) {
	var out []*types.DocumentType
	if err := r.tx(dbc).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lookupRepo) AircraftModelExists(dbc dbctx.Context, id int64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	var count int64
	if err := r.tx(dbc).Model(&types.AircraftModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *lookupRepo) CategoryExists(dbc dbctx.Context, id int64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	var count int64
	if err := r.tx(dbc).Model(&types.Category{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
