package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Results outside the caller's visible sheet set are dropped here, after the
// backend query, so both backends share one access filter.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return buildResponse(results, total, q)
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return buildResponse(results, total, q)
}

func buildResponse(results []Result, total int, q Query) Response {
	filtered := filterVisible(nonNil(results), q.VisibleSheetIDs)
	if len(filtered) != len(results) {
		// Total is an estimate once hidden hits are dropped.
		total -= len(results) - len(filtered)
		if total < len(filtered) {
			total = len(filtered)
		}
	}
	return Response{Results: filtered, Total: total, Query: q.Text}
}

// IndexSheet indexes a sheet (fire-and-forget to Meilisearch).
func (s *Service) IndexSheet(rec SheetRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSheet(rec); err != nil {
			log.Printf("search: index sheet %s: %v", rec.ID, err)
		}
	}()
}

// IndexTestCase indexes a test case (fire-and-forget to Meilisearch).
func (s *Service) IndexTestCase(rec TestCaseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTestCase(rec); err != nil {
			log.Printf("search: index test case %s: %v", rec.ID, err)
		}
	}()
}

// IndexBug indexes a bug report (fire-and-forget to Meilisearch).
func (s *Service) IndexBug(rec BugRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBug(rec); err != nil {
			log.Printf("search: index bug %s: %v", rec.ID, err)
		}
	}()
}

// DeleteSheet removes a sheet from the search index (fire-and-forget).
func (s *Service) DeleteSheet(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSheet(id); err != nil {
			log.Printf("search: delete sheet %s: %v", id, err)
		}
	}()
}

// DeleteTestCase removes a test case from the search index (fire-and-forget).
func (s *Service) DeleteTestCase(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTestCase(id); err != nil {
			log.Printf("search: delete test case %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	sheets, cases, bugs, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexSheets(sheets); err != nil {
		log.Printf("search: reindex sheets: %v", err)
	}
	if err := s.meili.IndexTestCases(cases); err != nil {
		log.Printf("search: reindex test cases: %v", err)
	}
	if err := s.meili.IndexBugs(bugs); err != nil {
		log.Printf("search: reindex bugs: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// filterVisible drops results from sheets the caller cannot see. Public
// sheets pass regardless of membership.
func filterVisible(results []Result, visibleSheetIDs []string) []Result {
	if visibleSheetIDs == nil {
		return results
	}
	visible := make(map[string]bool, len(visibleSheetIDs))
	for _, id := range visibleSheetIDs {
		visible[id] = true
	}
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Visibility == "public" || visible[r.SheetID] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
