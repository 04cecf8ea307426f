package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxSheets    = "qasheet_sheets"
	idxTestCases = "qasheet_test_cases"
	idxBugs      = "qasheet_bugs"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The service
// degrades to the Postgres fallback while Meilisearch is unreachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxSheets,
			primaryKey: "id",
			filterable: []string{"visibility", "kind"},
			searchable: []string{"title", "description"},
		},
		{
			uid:        idxTestCases,
			primaryKey: "id",
			filterable: []string{"sheetId", "workflowStatus"},
			searchable: []string{"title", "steps", "expected"},
		},
		{
			uid:        idxBugs,
			primaryKey: "id",
			filterable: []string{"sheetId", "testCaseId", "severity"},
			searchable: []string{"title", "description"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxSheets, ResultSheet},
		{idxTestCases, ResultTestCase},
		{idxBugs, ResultBug},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterSheetID != "" && ti.rtyp != ResultSheet {
			sr.Filter = []string{fmt.Sprintf("sheetId = %q", q.FilterSheetID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxSheets:
		return ResultSheet
	case idxTestCases:
		return ResultTestCase
	case idxBugs:
		return ResultBug
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.SheetID = decodeString(hit, "sheetId")
	r.Visibility = decodeString(hit, "visibility")

	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	switch rtyp {
	case ResultSheet:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.SheetID = r.ID
	case ResultTestCase:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "steps"), decodeString(hit, "steps"))
	case ResultBug:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSheet adds or updates a sheet in the search index.
func (m *Meili) IndexSheet(s SheetRecord) error {
	_, err := m.client.Index(idxSheets).AddDocuments([]SheetRecord{s}, nil)
	return err
}

// IndexTestCase adds or updates a test case in the search index.
func (m *Meili) IndexTestCase(tc TestCaseRecord) error {
	_, err := m.client.Index(idxTestCases).AddDocuments([]TestCaseRecord{tc}, nil)
	return err
}

// IndexBug adds or updates a bug report in the search index.
func (m *Meili) IndexBug(b BugRecord) error {
	_, err := m.client.Index(idxBugs).AddDocuments([]BugRecord{b}, nil)
	return err
}

// DeleteSheet removes a sheet from the search index.
func (m *Meili) DeleteSheet(id string) error {
	_, err := m.client.Index(idxSheets).DeleteDocument(id, nil)
	return err
}

// DeleteTestCase removes a test case from the search index.
func (m *Meili) DeleteTestCase(id string) error {
	_, err := m.client.Index(idxTestCases).DeleteDocument(id, nil)
	return err
}

// IndexSheets bulk-indexes sheets.
func (m *Meili) IndexSheets(sheets []SheetRecord) error {
	if len(sheets) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSheets).AddDocuments(sheets, nil)
	return err
}

// IndexTestCases bulk-indexes test cases.
func (m *Meili) IndexTestCases(cases []TestCaseRecord) error {
	if len(cases) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTestCases).AddDocuments(cases, nil)
	return err
}

// IndexBugs bulk-indexes bug reports.
func (m *Meili) IndexBugs(bugs []BugRecord) error {
	if len(bugs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxBugs).AddDocuments(bugs, nil)
	return err
}
