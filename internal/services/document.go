package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aerodocs/techpubs-backend/internal/clients/gcp"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

const (
	defaultChunkPageSize = 50
	maxChunkPageSize     = 200
	chunkPreviewRunes    = 200
)

type DocumentListResponse struct {
	Documents []*repos.DocumentListRow `json:"documents"`
	Total     int64                    `json:"total"`
}

type ChunkView struct {
	ID             int64   `json:"id"`
	ChunkIndex     int     `json:"chunk_index"`
	ContentPreview string  `json:"content_preview"`
	HasEmbedding   bool    `json:"has_embedding"`
	EmbeddingModel *string `json:"embedding_model"`
	TokenCount     *int    `json:"token_count"`
	PageNumber     *int    `json:"page_number"`
	ChapterTitle   *string `json:"chapter_title"`
}

type ChunkJobSummary struct {
	ID              int64   `json:"id"`
	JobType         string  `json:"job_type"`
	Status          string  `json:"status"`
	ErrorMessage    *string `json:"error_message"`
	StartedAt       *string `json:"started_at"`
	CompletedAt     *string `json:"completed_at"`
	CreatedAt       string  `json:"created_at"`
	ChunkStartIndex *int    `json:"chunk_start_index"`
	ChunkEndIndex   *int    `json:"chunk_end_index"`
}

type DocumentChunksResponse struct {
	DocumentGUID   uuid.UUID         `json:"document_guid"`
	DocumentName   string            `json:"document_name"`
	VersionGUID    uuid.UUID         `json:"version_guid"`
	VersionName    string            `json:"version_name"`
	TotalChunks    int64             `json:"total_chunks"`
	EmbeddedChunks int64             `json:"embedded_chunks"`
	TotalTokens    int64             `json:"total_tokens"`
	EmbeddingModel *string           `json:"embedding_model"`
	Chunks         []ChunkView       `json:"chunks"`
	Jobs           []ChunkJobSummary `json:"jobs"`
	Page           int               `json:"page"`
	PageSize       int               `json:"page_size"`
	TotalPages     int               `json:"total_pages"`
}

type DownloadURLResponse struct {
	DownloadURL string `json:"download_url"`
	FileName    string `json:"file_name"`
}

type DocumentService interface {
	List(dbc dbctx.Context, offset, limit int) (*DocumentListResponse, error)
	GetByGUID(dbc dbctx.Context, guid uuid.UUID) (*types.Document, error)
	Chunks(dbc dbctx.Context, guid uuid.UUID, page, pageSize int) (*DocumentChunksResponse, error)
	DownloadURL(dbc dbctx.Context, guid uuid.UUID) (*DownloadURLResponse, error)
}

type documentService struct {
	db        *gorm.DB
	log       *logger.Logger
	documents repos.DocumentRepo
	versions  repos.DocumentVersionRepo
	chunks    repos.DocumentChunkRepo
	jobs      repos.DocumentJobRepo
	bucket    gcp.BucketService
}

func NewDocumentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	documents repos.DocumentRepo,
	versions repos.DocumentVersionRepo,
	chunks repos.DocumentChunkRepo,
	jobs repos.DocumentJobRepo,
	bucket gcp.BucketService,
) DocumentService {
	return &documentService{
		db:        db,
		log:       baseLog.With("service", "DocumentService"),
		documents: documents,
		versions:  versions,
		chunks:    chunks,
		jobs:      jobs,
		bucket:    bucket,
	}
}

func (s *documentService) List(dbc dbctx.Context, offset, limit int) (*DocumentListResponse, error) {
	rows, total, err := s.documents.List(dbc, offset, limit)
	if err != nil {
		return nil, err
	}
	return &DocumentListResponse{Documents: rows, Total: total}, nil
}

func (s *documentService) GetByGUID(dbc dbctx.Context, guid uuid.UUID) (*types.Document, error) {
	doc, err := s.documents.GetByGUID(dbc, guid)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperr.NotFound("document %s not found", guid)
	}
	return doc, nil
}

func (s *documentService) Chunks(dbc dbctx.Context, guid uuid.UUID, page, pageSize int) (*DocumentChunksResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultChunkPageSize
	}
	if pageSize > maxChunkPageSize {
		pageSize = maxChunkPageSize
	}

	doc, err := s.GetByGUID(dbc, guid)
	if err != nil {
		return nil, err
	}
	version, err := s.versions.GetLatestByDocumentID(dbc, doc.ID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperr.NotFound("document %s has no versions", guid)
	}

	agg, err := s.chunks.Aggregates(dbc, version.ID)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * pageSize
	rows, err := s.chunks.ListByVersion(dbc, version.ID, offset, pageSize)
	if err != nil {
		return nil, err
	}

	history, err := s.jobs.ListByVersion(dbc, version.ID)
	if err != nil {
		return nil, err
	}

	totalPages := int((agg.TotalChunks + int64(pageSize) - 1) / int64(pageSize))

	out := &DocumentChunksResponse{
		DocumentGUID:   doc.GUID,
		DocumentName:   doc.Name,
		VersionGUID:    version.GUID,
		VersionName:    version.Name,
		TotalChunks:    agg.TotalChunks,
		EmbeddedChunks: agg.EmbeddedChunks,
		TotalTokens:    agg.TotalTokens,
		EmbeddingModel: agg.EmbeddingModel,
		Chunks:         make([]ChunkView, 0, len(rows)),
		Jobs:           make([]ChunkJobSummary, 0, len(history)),
		Page:           page,
		PageSize:       pageSize,
		TotalPages:     totalPages,
	}

	for _, c := range rows {
		out.Chunks = append(out.Chunks, ChunkView{
			ID:             c.ID,
			ChunkIndex:     c.ChunkIndex,
			ContentPreview: previewOf(c.Content),
			HasEmbedding:   c.HasEmbedding(),
			EmbeddingModel: c.EmbeddingModel,
			TokenCount:     c.TokenCount,
			PageNumber:     c.PageNumber,
			ChapterTitle:   c.ChapterTitle,
		})
	}
	for _, j := range history {
		out.Jobs = append(out.Jobs, ChunkJobSummary{
			ID:              j.ID,
			JobType:         j.JobType,
			Status:          j.Status,
			ErrorMessage:    j.ErrorMessage,
			StartedAt:       formatTimePtr(j.StartedAt),
			CompletedAt:     formatTimePtr(j.CompletedAt),
			CreatedAt:       j.CreatedAt.UTC().Format(timeWireFormat),
			ChunkStartIndex: j.ChunkStartIndex,
			ChunkEndIndex:   j.ChunkEndIndex,
		})
	}
	return out, nil
}

func (s *documentService) DownloadURL(dbc dbctx.Context, guid uuid.UUID) (*DownloadURLResponse, error) {
	doc, err := s.GetByGUID(dbc, guid)
	if err != nil {
		return nil, err
	}
	version, err := s.versions.GetLatestByDocumentID(dbc, doc.ID)
	if err != nil {
		return nil, err
	}
	if version == nil || version.BlobPath == nil || *version.BlobPath == "" {
		return nil, apperr.NotFound("document %s has no stored file", guid)
	}
	url, err := s.bucket.SignedDownloadURL(*version.BlobPath)
	if err != nil {
		return nil, apperr.External("failed to sign download URL", err)
	}
	return &DownloadURLResponse{DownloadURL: url, FileName: version.FileName}, nil
}

const timeWireFormat = "2006-01-02T15:04:05Z07:00"

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeWireFormat)
	return &s
}

func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= chunkPreviewRunes {
		return content
	}
	return string(runes[:chunkPreviewRunes]) + "…"
}
