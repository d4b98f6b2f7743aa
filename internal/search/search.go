package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	ListID    string `json:"listId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Priority  string `json:"priority"`
	Completed bool   `json:"completed"`
}

// Query describes a search request. ListIDs restricts results to the
// lists the caller can read; an empty slice means no results.
type Query struct {
	Text    string
	ListIDs []string
	Limit   int
	Offset  int
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

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	ListID      string `json:"listId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Completed   bool   `json:"completed"`
}
