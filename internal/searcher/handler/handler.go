// Package handler serves the admin and query HTTP surface of the engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/metrics"
)

const maxDocumentBytes = 16 << 20

// Indexes is what the handler needs from the registry.
type Indexes interface {
	Names() []string
	Get(name string) (indexer.Indexer, error)
	Put(ctx context.Context, docs []document.Document) error
	Delete(ctx context.Context, ids []string) error
}

type Handler struct {
	indexes         Indexes
	cache           *cache.QueryCache
	metrics         *metrics.Metrics
	defaultPageSize int
	maxPageSize     int
	logger          *slog.Logger
}

func New(indexes Indexes, queryCache *cache.QueryCache, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return &Handler{
		indexes:         indexes,
		cache:           queryCache,
		metrics:         m,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		logger:          slog.Default().With("component", "index-handler"),
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/indexes", h.ListIndexes).Methods(http.MethodGet)
	router.HandleFunc("/indexes/{name:.+}/stats", h.IndexStats).Methods(http.MethodGet)
	router.HandleFunc("/indexes/{name:.+}/errors", h.IndexErrors).Methods(http.MethodGet)
	router.HandleFunc("/indexes/{name:.+}/query", h.Query).Methods(http.MethodGet)

	router.HandleFunc("/docs/{id:.+}", h.PutDocument).Methods(http.MethodPut)
	router.HandleFunc("/docs/{id:.+}", h.DeleteDocument).Methods(http.MethodDelete)

	router.HandleFunc("/cache/stats", h.CacheStats).Methods(http.MethodGet)
}

func (h *Handler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	names := h.indexes.Names()
	out := make([]indexer.Stats, 0, len(names))
	for _, name := range names {
		ix, err := h.indexes.Get(name)
		if err != nil {
			continue
		}
		out = append(out, ix.Base().Stats())
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	ix, ok := h.lookup(w, r)
	if !ok {
		return
	}
	base := ix.Base()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stats":       base.Stats(),
		"performance": base.PerformanceStats(),
	})
}

func (h *Handler) IndexErrors(w http.ResponseWriter, r *http.Request) {
	ix, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, ix.Base().Errors())
}

// QueryResponse is the body of a query answer.
type QueryResponse struct {
	Results         []executor.Result `json:"results"`
	TotalResults    int               `json:"totalResults"`
	SkippedResults  int               `json:"skippedResults"`
	IndexTimestamp  time.Time         `json:"indexTimestamp"`
	SnapshotVersion int64             `json:"snapshotVersion"`
	DurationMs      int64             `json:"durationMs"`
	CacheHit        bool              `json:"cacheHit"`
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	ix, ok := h.lookup(w, r)
	if !ok {
		return
	}
	q, err := h.parseQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	base := ix.Base()
	compute := func() (*cache.Page, error) {
		res, err := base.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		results, err := res.Collect()
		if err != nil {
			return nil, err
		}
		return &cache.Page{Results: results, Stats: res.Stats()}, nil
	}

	var page *cache.Page
	cacheHit := false
	if h.cache != nil {
		page, cacheHit, err = h.cache.GetOrCompute(ctx, base.Name(), base.Version(), q, compute)
	} else {
		page, err = compute()
	}
	if err != nil {
		if apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError {
			log.Error("query failed", "index", base.Name(), "query", q.Query, "error", err)
		}
		h.writeError(w, err)
		return
	}
	took := time.Since(start)
	if cacheHit {
		resultType := "hit"
		if page.Stats.TotalResults == 0 {
			resultType = "zero_result"
		}
		base.MarkQueried(time.Now())
		h.metrics.Query(base.Name(), resultType, "hit", took, 0)
	}
	if page.Results == nil {
		page.Results = []executor.Result{}
	}
	log.Info("query completed",
		"index", base.Name(),
		"query", q.Query,
		"total", page.Stats.TotalResults,
		"returned", len(page.Results),
		"cache_hit", cacheHit,
		"latency_ms", took.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, QueryResponse{
		Results:         page.Results,
		TotalResults:    page.Stats.TotalResults,
		SkippedResults:  page.Stats.SkippedResults,
		IndexTimestamp:  page.Stats.IndexTimestamp,
		SnapshotVersion: page.Stats.SnapshotVersion,
		DurationMs:      took.Milliseconds(),
		CacheHit:        cacheHit,
	})
}

// parseQuery reads the query from URL parameters. Highlights are given as
// field[:fragmentLength[:fragmentCount[:fragmentsField]]].
func (h *Handler) parseQuery(r *http.Request) (executor.Query, error) {
	v := r.URL.Query()
	q := executor.Query{
		Query:               v.Get("query"),
		FieldsToFetch:       v["fetch"],
		HighlighterPreTags:  v["preTag"],
		HighlighterPostTags: v["postTag"],
		DefaultField:        v.Get("defaultField"),
		PageSize:            h.defaultPageSize,
	}
	var err error
	if q.Start, err = intParam(v.Get("start"), 0); err != nil {
		return q, apperrors.Validation("start: %s", err.Error())
	}
	if q.PageSize, err = intParam(v.Get("pageSize"), h.defaultPageSize); err != nil {
		return q, apperrors.Validation("pageSize: %s", err.Error())
	}
	if h.maxPageSize > 0 && q.PageSize > h.maxPageSize {
		q.PageSize = h.maxPageSize
	}
	if s := v.Get("distinct"); s != "" {
		if q.IsDistinct, err = strconv.ParseBool(s); err != nil {
			return q, apperrors.Validation("distinct: %s", err.Error())
		}
	}
	if q.DefaultOperator, err = parser.ParseOperator(v.Get("operator")); err != nil {
		return q, apperrors.Validation("%s", err.Error())
	}
	for _, s := range v["sort"] {
		q.SortedFields = append(q.SortedFields, executor.SortedField{Field: s})
	}
	for _, s := range v["highlight"] {
		hf, err := parseHighlight(s)
		if err != nil {
			return q, err
		}
		q.HighlightedFields = append(q.HighlightedFields, hf)
	}
	if v.Has("lat") || v.Has("lng") || v.Has("radius") {
		sq := &executor.SpatialQuery{Field: v.Get("spatialField")}
		for name, dst := range map[string]*float64{"lat": &sq.Lat, "lng": &sq.Lng, "radius": &sq.RadiusKm} {
			if *dst, err = strconv.ParseFloat(v.Get(name), 64); err != nil {
				return q, apperrors.Validation("%s: %s", name, err.Error())
			}
		}
		if s := v.Get("relation"); s != "" {
			if sq.Relation, err = index.ParseSpatialRelation(s); err != nil {
				return q, apperrors.Validation("%s", err.Error())
			}
		}
		q.Spatial = sq
	}
	return q, nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func parseHighlight(s string) (executor.HighlightedField, error) {
	parts := strings.SplitN(s, ":", 4)
	hf := executor.HighlightedField{Field: parts[0]}
	var err error
	if len(parts) > 1 {
		if hf.FragmentLength, err = strconv.Atoi(parts[1]); err != nil {
			return hf, apperrors.Validation("highlight %q: bad fragment length", s)
		}
	}
	if len(parts) > 2 {
		if hf.FragmentCount, err = strconv.Atoi(parts[2]); err != nil {
			return hf, apperrors.Validation("highlight %q: bad fragment count", s)
		}
	}
	if len(parts) > 3 {
		hf.FragmentsField = parts[3]
	}
	return hf, nil
}

func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "reading body: %v", err))
		return
	}
	data, err := document.ParseObject(body)
	if err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document %s: %v", id, err))
		return
	}
	if err := h.indexes.Put(r.Context(), []document.Document{{ID: id, Data: data}}); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "indexed"})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.indexes.Delete(r.Context(), []string{id}); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (indexer.Indexer, bool) {
	ix, err := h.indexes.Get(mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return ix, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
