package domain

import (
	"github.com/aerodocs/techpubs-backend/internal/domain/docs"
	"github.com/aerodocs/techpubs-backend/internal/domain/jobs"
)

type AircraftModel = docs.AircraftModel
type Category = docs.Category
type Platform = docs.Platform
type Generation = docs.Generation
type DocumentType = docs.DocumentType
type Document = docs.Document
type SerialRange = docs.SerialRange
type DocumentVersion = docs.DocumentVersion
type DocumentChunk = docs.DocumentChunk
type DocumentJob = jobs.DocumentJob
type StatusCounts = jobs.StatusCounts

const (
	JobTypeIngestion = jobs.JobTypeIngestion
	JobTypeChunking  = jobs.JobTypeChunking
	JobTypeEmbedding = jobs.JobTypeEmbedding

	JobStatusPending   = jobs.StatusPending
	JobStatusRunning   = jobs.StatusRunning
	JobStatusCompleted = jobs.StatusCompleted
	JobStatusFailed    = jobs.StatusFailed
	JobStatusCancelled = jobs.StatusCancelled

	SerialRangeSingle  = docs.SerialRangeSingle
	SerialRangeRange   = docs.SerialRangeRange
	SerialRangeAndSubs = docs.SerialRangeAndSubs
)
