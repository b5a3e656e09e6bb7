package repos

import (
	"gorm.io/gorm"

	"github.com/aerodocs/techpubs-backend/internal/data/repos/docs"
	"github.com/aerodocs/techpubs-backend/internal/data/repos/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

type DocumentRepo = docs.DocumentRepo
type DocumentVersionRepo = docs.DocumentVersionRepo
type DocumentChunkRepo = docs.DocumentChunkRepo
type LookupRepo = docs.LookupRepo

type DocumentJobRepo = jobs.DocumentJobRepo

type DocumentListRow = docs.DocumentListRow
type ChunkAggregates = docs.ChunkAggregates
type EmbeddedChunk = docs.EmbeddedChunk
type EmbeddedChunkFilter = docs.EmbeddedChunkFilter

type ParentJobFilter = jobs.ParentJobFilter
type ParentJobRow = jobs.ParentJobRow
type ParentStatusTotals = jobs.ParentStatusTotals

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return docs.NewDocumentRepo(db, baseLog)
}

func NewDocumentVersionRepo(db *gorm.DB, baseLog *logger.Logger) DocumentVersionRepo {
	return docs.NewDocumentVersionRepo(db, baseLog)
}

func NewDocumentChunkRepo(db *gorm.DB, baseLog *logger.Logger) DocumentChunkRepo {
	return docs.NewDocumentChunkRepo(db, baseLog)
}

func NewLookupRepo(db *gorm.DB, baseLog *logger.Logger) LookupRepo {
	return docs.NewLookupRepo(db, baseLog)
}

func NewDocumentJobRepo(db *gorm.DB, baseLog *logger.Logger) DocumentJobRepo {
	return jobs.NewDocumentJobRepo(db, baseLog)
}
