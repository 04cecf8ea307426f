package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSheet    ResultType = "sheet"
	ResultTestCase ResultType = "test_case"
	ResultBug      ResultType = "bug"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	SheetID    string     `json:"sheetId"`
	Visibility string     `json:"visibility,omitempty"`
}

// Query describes a search request. VisibleSheetIDs is the set of sheets the
// caller may see; nil means unrestricted (admins).
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterSheetID   string
	Limit           int
	Offset          int
	VisibleSheetIDs []string
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexSheet(s SheetRecord) error
	IndexTestCase(tc TestCaseRecord) error
	IndexBug(b BugRecord) error
	DeleteSheet(id string) error
	DeleteTestCase(id string) error
}

// SheetRecord is the data we index for a sheet.
type SheetRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Kind        string `json:"kind"`
}

// TestCaseRecord is the data we index for a test case.
type TestCaseRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Steps          string `json:"steps"`
	Expected       string `json:"expected"`
	SheetID        string `json:"sheetId"`
	WorkflowStatus string `json:"workflowStatus"`
}

// BugRecord is the data we index for a bug report.
type BugRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TestCaseID  string `json:"testCaseId"`
	SheetID     string `json:"sheetId"`
	Severity    string `json:"severity"`
}
