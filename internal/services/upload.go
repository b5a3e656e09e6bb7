package services

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aerodocs/techpubs-backend/internal/clients/gcp"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	domdocs "github.com/aerodocs/techpubs-backend/internal/domain/docs"
	domjobs "github.com/aerodocs/techpubs-backend/internal/domain/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
)

type UploadURLRequest struct {
	Filename        string `json:"filename" binding:"required"`
	ContentType     string `json:"content_type" binding:"required"`
	FileSize        int64  `json:"file_size" binding:"required"`
	DocumentName    string `json:"document_name" binding:"required"`
	AircraftModelID int64  `json:"aircraft_model_id" binding:"required"`
	CategoryID      int64  `json:"category_id" binding:"required"`
	PlatformID      *int64 `json:"platform_id,omitempty"`
	GenerationID    *int64 `json:"generation_id,omitempty"`
	DocumentTypeID  *int64 `json:"document_type_id,omitempty"`
}

type UploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	BlobPath  string `json:"blob_path"`
}

type SerialRangeInput struct {
	Kind        string  `json:"kind" binding:"required"`
	StartSerial string  `json:"start_serial" binding:"required"`
	EndSerial   *string `json:"end_serial,omitempty"`
}

type UploadCompleteRequest struct {
	BlobPath        string             `json:"blob_path" binding:"required"`
	DocumentName    string             `json:"document_name" binding:"required"`
	DocumentGUID    *uuid.UUID         `json:"document_guid,omitempty"`
	VersionName     string             `json:"version_name,omitempty"`
	Filename        string             `json:"filename" binding:"required"`
	ContentType     string             `json:"content_type" binding:"required"`
	FileSize        int64              `json:"file_size" binding:"required"`
	AircraftModelID int64              `json:"aircraft_model_id" binding:"required"`
	CategoryID      int64              `json:"category_id" binding:"required"`
	PlatformID      *int64             `json:"platform_id,omitempty"`
	GenerationID    *int64             `json:"generation_id,omitempty"`
	DocumentTypeID  *int64             `json:"document_type_id,omitempty"`
	SerialRanges    []SerialRangeInput `json:"serial_ranges,omitempty"`
}

type UploadCompleteResponse struct {
	DocumentID int64 `json:"document_id"`
	JobID      int64 `json:"job_id"`
}

// UploadService owns the two-phase upload flow: the browser first asks for a
// signed PUT URL, uploads the file directly to the bucket, then calls back to
// register the document and start ingestion.
type UploadService interface {
	RequestUploadURL(dbc dbctx.Context, req UploadURLRequest) (*UploadURLResponse, error)
	CompleteUpload(dbc dbctx.Context, req UploadCompleteRequest) (*UploadCompleteResponse, error)
}

type uploadService struct {
	db          *gorm.DB
	log         *logger.Logger
	documents   repos.DocumentRepo
	versions    repos.DocumentVersionRepo
	jobs        repos.DocumentJobRepo
	lookups     repos.LookupRepo
	bucket      gcp.BucketService
	enqueuer    queue.Enqueuer
}

func NewUploadService(
	db *gorm.DB,
	baseLog *logger.Logger,
	documents repos.DocumentRepo,
	versions repos.DocumentVersionRepo,
	jobs repos.DocumentJobRepo,
	lookups repos.LookupRepo,
	bucket gcp.BucketService,
	enqueuer queue.Enqueuer,
) UploadService {
	return &uploadService{
		db:        db,
		log:       baseLog.With("service", "UploadService"),
		documents: documents,
		versions:  versions,
		jobs:      jobs,
		lookups:   lookups,
		bucket:    bucket,
		enqueuer:  enqueuer,
	}
}

func (s *uploadService) validateClassification(dbc dbctx.Context, aircraftModelID, categoryID int64) error {
	ok, err := s.lookups.AircraftModelExists(dbc, aircraftModelID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("aircraft model %d not found", aircraftModelID)
	}
	ok, err = s.lookups.CategoryExists(dbc, categoryID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("category %d not found", categoryID)
	}
	return nil
}

func (s *uploadService) RequestUploadURL(dbc dbctx.Context, req UploadURLRequest) (*UploadURLResponse, error) {
	if !strings.EqualFold(path.Ext(req.Filename), ".pdf") {
		return nil, apperr.Validation("only PDF uploads are supported, got %q", req.Filename)
	}
	if err := s.validateClassification(dbc, req.AircraftModelID, req.CategoryID); err != nil {
		return nil, err
	}

	blobPath := fmt.Sprintf("documents/%d/%d/%s_%s",
		req.AircraftModelID, req.CategoryID, uuid.NewString(), sanitizeFilename(req.Filename))

	url, err := s.bucket.SignedUploadURL(blobPath, req.ContentType)
	if err != nil {
		return nil, apperr.External("failed to sign upload URL", err)
	}

	s.log.Info("Issued upload URL", "blob_path", blobPath, "document_name", req.DocumentName)
	return &UploadURLResponse{UploadURL: url, BlobPath: blobPath}, nil
}

func (s *uploadService) CompleteUpload(dbc dbctx.Context, req UploadCompleteRequest) (*UploadCompleteResponse, error) {
	if err := s.validateClassification(dbc, req.AircraftModelID, req.CategoryID); err != nil {
		return nil, err
	}
	for _, sr := range req.SerialRanges {
		switch sr.Kind {
		case domdocs.SerialRangeSingle, domdocs.SerialRangeRange, domdocs.SerialRangeAndSubs:
		default:
			return nil, apperr.Validation("unknown serial range kind %q", sr.Kind)
		}
		if sr.Kind == domdocs.SerialRangeRange && (sr.EndSerial == nil || *sr.EndSerial == "") {
			return nil, apperr.Validation("serial range of kind %q requires end_serial", sr.Kind)
		}
	}

	// The client claims the PUT succeeded; verify before minting ledger rows
	// the chunking worker would immediately fail on.
	exists, err := s.bucket.ObjectExists(dbc.Ctx, req.BlobPath)
	if err != nil {
		return nil, apperr.External("failed to verify uploaded blob", err)
	}
	if !exists {
		return nil, apperr.Validation("no uploaded file found at blob path %q", req.BlobPath)
	}

	var (
		doc       *types.Document
		parentJob *types.DocumentJob
		childJob  *types.DocumentJob
	)

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err = transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		if req.DocumentGUID != nil {
			existing, err := s.documents.GetByGUID(txc, *req.DocumentGUID)
			if err != nil {
				return err
			}
			if existing == nil {
				return apperr.NotFound("document %s not found", req.DocumentGUID)
			}
			doc = existing
		} else {
			created, err := s.documents.Create(txc, &types.Document{
				Name:            req.DocumentName,
				AircraftModelID: &req.AircraftModelID,
				CategoryID:      &req.CategoryID,
				PlatformID:      req.PlatformID,
				GenerationID:    req.GenerationID,
				DocumentTypeID:  req.DocumentTypeID,
			})
			if err != nil {
				return err
			}
			doc = created

			for _, sr := range req.SerialRanges {
				row := &types.SerialRange{
					DocumentID:  doc.ID,
					Kind:        sr.Kind,
					StartSerial: sr.StartSerial,
					EndSerial:   sr.EndSerial,
				}
				if err := tx.Create(row).Error; err != nil {
					return err
				}
			}
		}

		versionName := req.VersionName
		if versionName == "" {
			versionName = req.DocumentName
		}
		version, err := s.versions.Create(txc, &types.DocumentVersion{
			Name:        versionName,
			FileName:    req.Filename,
			DocumentID:  doc.ID,
			ContentType: &req.ContentType,
			FileSize:    &req.FileSize,
			BlobPath:    &req.BlobPath,
		})
		if err != nil {
			return err
		}

		active, err := s.jobs.HasActiveParentForVersion(txc, version.ID)
		if err != nil {
			return err
		}
		if active {
			return apperr.Conflict("ingestion already in progress for version %d", version.ID)
		}

		parentJob = &types.DocumentJob{
			DocumentVersionID: version.ID,
			JobType:           domjobs.JobTypeIngestion,
			Status:            domjobs.StatusPending,
		}
		if _, err := s.jobs.Create(txc, []*types.DocumentJob{parentJob}); err != nil {
			return err
		}

		childJob = &types.DocumentJob{
			DocumentVersionID: version.ID,
			JobType:           domjobs.JobTypeChunking,
			Status:            domjobs.StatusPending,
			ParentJobID:       &parentJob.ID,
		}
		if _, err := s.jobs.Create(txc, []*types.DocumentJob{childJob}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Enqueue only after the transaction commits so the worker can never see
	// a job id that does not exist yet.
	if err := s.enqueuer.EnqueueChunking(dbc.Ctx, childJob.ID); err != nil {
		s.log.Error("Failed to enqueue chunking task; job stays pending for requeue",
			"job_id", childJob.ID, "error", err)
	}

	s.log.Info("Upload completed", "document_id", doc.ID, "parent_job_id", parentJob.ID, "chunking_job_id", childJob.ID)
	return &UploadCompleteResponse{DocumentID: doc.ID, JobID: parentJob.ID}, nil
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
