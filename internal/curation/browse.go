package curation

import (
	"context"
	"maps"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// BrowseRequest selects one page of records.
type BrowseRequest struct {
	Searches       []SearchSpec
	Sorts          []SortSpec
	IncludeInvalid bool
	Offset         int
	Limit          int // 0 selects the configured page size
}

// Stats aggregates the filtered set, not just the page.
type Stats struct {
	Records         int           `json:"recordCount"`
	Species         int           `json:"speciesCount"`
	Clusters        int           `json:"binCount"`
	Curated         int           `json:"curatedCount"`
	Uncurated       int           `json:"uncuratedCount"`
	SharingEvents   int           `json:"binSharingEvents"`
	SplittingEvents int           `json:"binSplittingEvents"`
	Grades          map[Grade]int `json:"gradeCounts"`
}

// EnrichedRecord is a record with its computed grade and grouping annotation.
type EnrichedRecord struct {
	datastore.Record
	Grade       Grade
	ClusterInfo string
}

// BrowseResult is one page plus counts and stats that share its snapshot.
type BrowseResult struct {
	Total    int64
	Filtered int64
	Offset   int
	Limit    int
	Stats    Stats
	Rows     []EnrichedRecord
}

// analysis is everything derived from the filtered set. It is cached per
// predicate and edit generation.
type analysis struct {
	filtered    int64
	grouping    *Grouping
	validCounts map[string]int
	stats       Stats
}

// Browse returns one page of the filtered records with grouping
// diagnostics. Counts, stats and rows come from one store snapshot.
func (e *Engine) Browse(ctx context.Context, req BrowseRequest) (*BrowseResult, error) {
	start := time.Now()

	pred := BuildPredicate(e.policy.Searches(req.Searches), req.IncludeInvalid)
	order := BuildOrder(e.policy.Sorts(req.Sorts))
	offset, limit := e.window(req.Offset, req.Limit)

	res := &BrowseResult{Offset: offset, Limit: limit}
	var a *analysis
	var page []datastore.Record

	// The read lock is taken inside the snapshot, before its first read:
	// both stores fix the snapshot on first read, and edits take viewMu
	// only while already holding their connection.
	err := e.store.Snapshot(ctx, func(view datastore.Store) error {
		e.viewMu.RLock()
		defer e.viewMu.RUnlock()

		key := pred.Signature() + "#" + strconv.FormatUint(e.generation.Load(), 10)
		var err error
		if res.Total, err = view.CountMatching(ctx, datastore.Predicate{}); err != nil {
			return err
		}
		if a, err = e.analysisFor(ctx, view, key, pred); err != nil {
			return err
		}
		page, err = view.Find(ctx, datastore.Query{Where: pred, Order: order, Offset: offset, Limit: limit})
		return err
	})
	if err != nil {
		e.log.WithContext(ctx).Error("browse failed", logger.Error(err))
		return nil, err
	}

	res.Filtered = a.filtered
	res.Stats = a.stats
	res.Stats.Grades = maps.Clone(a.stats.Grades)
	res.Rows = make([]EnrichedRecord, len(page))
	for i := range page {
		res.Rows[i] = EnrichedRecord{
			Record:      page[i],
			Grade:       a.grouping.GradeFor(page[i].Species, a.validCounts[page[i].Species]),
			ClusterInfo: a.grouping.Annotate(&page[i]),
		}
	}

	if e.metrics != nil {
		e.metrics.RecordBrowseDuration(time.Since(start).Seconds())
	}
	e.log.WithContext(ctx).Debug("browse served",
		logger.Int64("filtered", res.Filtered),
		logger.Int("rows", len(res.Rows)),
		logger.Duration("duration", time.Since(start)))

	return res, nil
}

// window applies the page size defaults and bounds.
func (e *Engine) window(offset, limit int) (int, int) {
	offset = max(offset, 0)
	if limit <= 0 {
		limit = e.cfg.PageSize
	}
	return offset, min(limit, e.cfg.MaxPageSize)
}

// analysisFor returns the cached analysis for key or computes it from view.
// Concurrent requests for the same key share one computation.
func (e *Engine) analysisFor(ctx context.Context, view datastore.Store, key string, pred datastore.Predicate) (*analysis, error) {
	if e.stats == nil {
		return analyze(ctx, view, pred)
	}
	if v, ok := e.stats.Get(key); ok {
		e.recordStatsCache(true)
		return v.(*analysis), nil
	}
	e.recordStatsCache(false)

	v, err, _ := e.statsGroup.Do(key, func() (any, error) {
		a, err := analyze(ctx, view, pred)
		if err != nil {
			return nil, err
		}
		e.stats.Set(key, a, cache.DefaultExpiration)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*analysis), nil
}

func (e *Engine) recordStatsCache(hit bool) {
	if e.metrics != nil {
		e.metrics.RecordStatsCache(hit)
	}
}

// analyze computes stats over every record matching pred. Invalid and
// excluded records count towards the totals but not towards grouping and
// grades.
func analyze(ctx context.Context, view datastore.Store, pred datastore.Predicate) (*analysis, error) {
	records, err := view.FindAll(ctx, pred)
	if err != nil {
		return nil, err
	}

	visible := make([]datastore.Record, 0, len(records))
	species := make(stringSet)
	clusters := make(stringSet)
	a := &analysis{
		filtered:    int64(len(records)),
		validCounts: make(map[string]int),
	}
	for i := range records {
		r := &records[i]
		if r.Species != "" {
			species.add(r.Species)
		}
		if r.BinURI != "" {
			clusters.add(r.BinURI)
		}
		if r.Status != "" {
			a.stats.Curated++
		}
		if isHidden(r.Status) {
			continue
		}
		visible = append(visible, *r)
		a.validCounts[r.Species]++
	}

	a.grouping = Analyze(visible)
	a.stats.Records = len(records)
	a.stats.Species = len(species)
	a.stats.Clusters = len(clusters)
	a.stats.Uncurated = a.stats.Records - a.stats.Curated
	a.stats.SharingEvents = a.grouping.SharingClusters()
	a.stats.SplittingEvents = a.grouping.SplittingSpecies()
	a.stats.Grades = emptyHistogram()
	for s := range species {
		a.stats.Grades[a.grouping.GradeFor(s, a.validCounts[s])]++
	}
	return a, nil
}

// DistinctCount counts distinct values of column among records whose
// column contains every term. Empty terms are ignored.
func (e *Engine) DistinctCount(ctx context.Context, column string, terms ...string) (int64, error) {
	if !e.policy.Allows(column) {
		return 0, errors.Newf("column %q is not searchable", column).
			Component("curation").
			Category(errors.CategoryValidation).
			Context("column", column).
			Build()
	}
	specs := make([]SearchSpec, 0, len(terms))
	for _, t := range terms {
		specs = append(specs, SearchSpec{Column: column, Term: t})
	}
	return e.store.DistinctCount(ctx, column, BuildPredicate(e.policy.Searches(specs), true))
}

// Columns lists the columns of the record table.
func (e *Engine) Columns(ctx context.Context) ([]string, error) {
	return e.store.Columns(ctx)
}

// History returns the persisted audit entries of one record, newest first.
func (e *Engine) History(ctx context.Context, recordID string) ([]AuditEntry, error) {
	rows, err := e.store.AuditTrail(ctx, recordID)
	if err != nil {
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(rows))
	for i := range rows {
		entry, err := fromAuditLog(&rows[i])
		if err != nil {
			e.log.Warn("skipping unreadable audit row", logger.String("audit_id", rows[i].ID), logger.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
