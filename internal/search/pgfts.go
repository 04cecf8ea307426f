package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across sheets, test_cases, and
// bug_reports using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultSheet {
		where := "s.fts @@ " + tsQuery + " AND s.archived_at IS NULL"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'sheet'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS sheet_id, s.visibility,
				ts_rank(s.fts, %s) AS rank
			FROM sheets s
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultTestCase {
		where := "tc.fts @@ " + tsQuery
		if q.FilterSheetID != "" {
			where += fmt.Sprintf(" AND tc.sheet_id = $%d", argN)
			args = append(args, q.FilterSheetID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'test_case'::text AS type, tc.id, tc.title,
				ts_headline('english', coalesce(tc.steps, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				tc.sheet_id, s.visibility,
				ts_rank(tc.fts, %s) AS rank
			FROM test_cases tc
			JOIN sheets s ON s.id = tc.sheet_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultBug {
		where := "b.fts @@ " + tsQuery
		if q.FilterSheetID != "" {
			where += fmt.Sprintf(" AND tc.sheet_id = $%d", argN)
			args = append(args, q.FilterSheetID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'bug'::text AS type, b.id, b.title,
				ts_headline('english', coalesce(b.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				tc.sheet_id, s.visibility,
				ts_rank(b.fts, %s) AS rank
			FROM bug_reports b
			JOIN test_cases tc ON tc.id = b.test_case_id
			JOIN sheets s ON s.id = tc.sheet_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, sheet_id, visibility
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SheetID, &r.Visibility); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SheetRecord, []TestCaseRecord, []BugRecord, error) {
	sheetRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, visibility, kind
		FROM sheets
		WHERE archived_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load sheets: %w", err)
	}
	defer sheetRows.Close()

	sheets := make([]SheetRecord, 0)
	for sheetRows.Next() {
		var s SheetRecord
		if err := sheetRows.Scan(&s.ID, &s.Title, &s.Description, &s.Visibility, &s.Kind); err != nil {
			return nil, nil, nil, fmt.Errorf("scan sheet: %w", err)
		}
		sheets = append(sheets, s)
	}
	if err := sheetRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate sheets: %w", err)
	}

	caseRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, steps, expected, sheet_id, workflow_status
		FROM test_cases
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load test cases: %w", err)
	}
	defer caseRows.Close()

	cases := make([]TestCaseRecord, 0)
	for caseRows.Next() {
		var tc TestCaseRecord
		if err := caseRows.Scan(&tc.ID, &tc.Title, &tc.Steps, &tc.Expected, &tc.SheetID, &tc.WorkflowStatus); err != nil {
			return nil, nil, nil, fmt.Errorf("scan test case: %w", err)
		}
		cases = append(cases, tc)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate test cases: %w", err)
	}

	bugRows, err := p.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.description, b.test_case_id, tc.sheet_id, b.severity
		FROM bug_reports b
		JOIN test_cases tc ON tc.id = b.test_case_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load bug reports: %w", err)
	}
	defer bugRows.Close()

	bugs := make([]BugRecord, 0)
	for bugRows.Next() {
		var b BugRecord
		if err := bugRows.Scan(&b.ID, &b.Title, &b.Description, &b.TestCaseID, &b.SheetID, &b.Severity); err != nil {
			return nil, nil, nil, fmt.Errorf("scan bug report: %w", err)
		}
		bugs = append(bugs, b)
	}
	if err := bugRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate bug reports: %w", err)
	}

	return sheets, cases, bugs, nil
}
