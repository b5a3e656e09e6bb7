package services

import (
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// LookupService serves the classification lists behind the upload wizard.
type LookupService interface {
	AircraftModels(dbc dbctx.Context) ([]*types.AircraftModel, error)
	Categories(dbc dbctx.Context) ([]*types.Category, error)
	Platforms(dbc dbctx.Context) ([]*types.Platform, error)
	DocumentTypes(dbc dbctx.Context) ([]*types.DocumentType, error)
}

type lookupService struct {
	log     *logger.Logger
	lookups repos.LookupRepo
}

func NewLookupService(baseLog *logger.Logger, lookups repos.LookupRepo) LookupService {
	return &lookupService{
		log:     baseLog.With("service", "LookupService"),
		lookups: lookups,
	}
}

func (s *lookupService) AircraftModels(dbc dbctx.Context) ([]*types.AircraftModel, error) {
	return s.lookups.ListAircraftModels(dbc)
}

func (s *lookupService) Categories(dbc dbctx.Context) ([]*types.Category, error) {
	return s.lookups.ListCategories(dbc)
}

func (s *lookupService) Platforms(dbc dbctx.Context) ([]*types.Platform, error) {
	return s.lookups.ListPlatforms(dbc)
}

func (s *lookupService) DocumentTypes(dbc dbctx.Context) ([]*types.DocumentType, error) {
	return s.lookups.ListDocumentTypes(dbc)
}
