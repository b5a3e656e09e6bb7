package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/aerodocs/techpubs-backend/internal/clients/openai"
	redisclient "github.com/aerodocs/techpubs-backend/internal/clients/redis"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	"github.com/aerodocs/techpubs-backend/internal/data/repos/docs"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

const DefaultSearchLimit = 10

type SearchRequest struct {
	Query           string   `json:"query" binding:"required"`
	Limit           int      `json:"limit,omitempty"`
	MinSimilarity   *float64 `json:"min_similarity,omitempty"`
	CategoryID      *int64   `json:"category_id,omitempty"`
	AircraftModelID *int64   `json:"aircraft_model_id,omitempty"`
}

type ChunkResult struct {
	ID                int64     `json:"id"`
	Content           string    `json:"content"`
	PageNumber        *int      `json:"page_number"`
	ChapterTitle      *string   `json:"chapter_title"`
	DocumentGUID      uuid.UUID `json:"document_guid"`
	DocumentName      string    `json:"document_name"`
	AircraftModelCode *string   `json:"aircraft_model_code"`
	CategoryName      *string   `json:"category_name"`
	Similarity        float64   `json:"similarity"`
}

type SearchResponse struct {
	Query      string        `json:"query"`
	Results    []ChunkResult `json:"results"`
	TotalFound int           `json:"total_found"`
}

// SearchService ranks embedded chunks against a query by cosine similarity.
// The read path never mutates anything; for a fixed corpus the same request
// always returns the same ranking.
type SearchService interface {
	Search(dbc dbctx.Context, req SearchRequest) (*SearchResponse, error)
}

type searchService struct {
	log      *logger.Logger
	chunks   repos.DocumentChunkRepo
	embedder openai.Client
	cache    redisclient.SearchCache
}

// NewSearchService accepts a nil cache; search then always hits the database.
func NewSearchService(
	baseLog *logger.Logger,
	chunks repos.DocumentChunkRepo,
	embedder openai.Client,
	cache redisclient.SearchCache,
) SearchService {
	return &searchService{
		log:      baseLog.With("service", "SearchService"),
		chunks:   chunks,
		embedder: embedder,
		cache:    cache,
	}
}

func (s *searchService) Search(dbc dbctx.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperr.Validation("query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	minSimilarity := 0.0
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}
	if minSimilarity < -1 || minSimilarity > 1 {
		return nil, apperr.Validation("min_similarity must be within [-1, 1]")
	}

	cacheKey := redisclient.CacheKey(
		s.embedder.Model(),
		query,
		fmt.Sprintf("limit=%d", limit),
		fmt.Sprintf("min=%g", minSimilarity),
		fmt.Sprintf("category=%v", req.CategoryID),
		fmt.Sprintf("aircraft=%v", req.AircraftModelID),
	)
	if s.cache != nil {
		var cached SearchResponse
		hit, err := s.cache.Get(dbc.Ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn("Search cache read failed", "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	queryVec, err := s.embedQuery(dbc.Ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := s.chunks.FindEmbedded(dbc, docs.EmbeddedChunkFilter{
		Model:           s.embedder.Model(),
		CategoryID:      req.CategoryID,
		AircraftModelID: req.AircraftModelID,
	})
	if err != nil {
		return nil, err
	}

	type scored struct {
		chunk      *repos.EmbeddedChunk
		similarity float64
	}
	matches := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		vec, err := c.Vector()
		if err != nil {
			s.log.Warn("Skipping chunk with undecodable embedding", "chunk_id", c.ID, "error", err)
			continue
		}
		sim, ok := CosineSimilarity(queryVec, vec)
		if !ok {
			continue
		}
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, scored{chunk: c, similarity: sim})
	}

	// Order by similarity desc; equal scores break ties on chunk id asc so
	// the ranking is stable across runs.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].similarity != matches[j].similarity {
			return matches[i].similarity > matches[j].similarity
		}
		return matches[i].chunk.ID < matches[j].chunk.ID
	})

	totalFound := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]ChunkResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, ChunkResult{
			ID:                m.chunk.ID,
			Content:           m.chunk.Content,
			PageNumber:        m.chunk.PageNumber,
			ChapterTitle:      m.chunk.ChapterTitle,
			DocumentGUID:      m.chunk.DocumentGUID,
			DocumentName:      m.chunk.DocumentName,
			AircraftModelCode: m.chunk.AircraftModelCode,
			CategoryName:      m.chunk.CategoryName,
			Similarity:        m.similarity,
		})
	}

	resp := &SearchResponse{
		Query:      query,
		Results:    results,
		TotalFound: totalFound,
	}
	if s.cache != nil {
		if err := s.cache.Set(dbc.Ctx, cacheKey, resp); err != nil {
			s.log.Warn("Search cache write failed", "error", err)
		}
	}
	return resp, nil
}

func (s *searchService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.External("failed to embed search query", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, apperr.External("embedder returned no vector for query", nil)
	}
	return vecs[0], nil
}

// CosineSimilarity returns the cosine of the angle between a and b. The
// second return is false for mismatched dimensions or zero vectors.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
