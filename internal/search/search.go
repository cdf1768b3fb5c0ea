package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDestination ResultType = "destination"
	ResultGrenade     ResultType = "grenade"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	VerifiedOnly bool
	Limit        int
	Offset       int
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

// DestinationRecord is the data we index for a destination.
type DestinationRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// GrenadeRecord is the data we index for a grenade.
type GrenadeRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Verified    bool   `json:"verified"`
}
