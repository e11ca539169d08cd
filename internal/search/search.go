package search

// Query describes a search request. Highlight/crop attributes and the crop
// length are passed to the engine unchanged; all ranking and highlighting
// happen remotely.
type Query struct {
	Text       string
	Limit      int64
	Offset     int64
	Highlight  []string
	Crop       []string
	CropLength int64
}

// HitFormatted carries the engine's highlighted/cropped field variants.
type HitFormatted struct {
	Title   string `json:"title"`
	Notes   string `json:"notes"`
	Content string `json:"content"`
}

// Hit is a single pattern document as stored in the index.
type Hit struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Visibility  string        `json:"visibility"`
	Notes       string        `json:"notes"`
	Content     string        `json:"content"`
	PDFFile     string        `json:"pdf_file"`
	DateCreated string        `json:"date_created"`
	Formatted   *HitFormatted `json:"_formatted,omitempty"`
}

// Response is the envelope returned to callers; counts and timings come
// from the engine verbatim.
type Response struct {
	Hits               []Hit  `json:"hits"`
	EstimatedTotalHits int64  `json:"estimatedTotalHits"`
	ProcessingTimeMs   int64  `json:"processingTimeMs"`
	Query              string `json:"query"`
}

// PatternRecord is the data pushed into the index on pattern create. The
// content field is filled by the external PDF-extraction worker, not here.
type PatternRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Visibility  string `json:"visibility"`
	Notes       string `json:"notes"`
	PDFFile     string `json:"pdf_file"`
	DateCreated string `json:"date_created"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) (Response, error)
	Healthy() bool
}

// Indexer keeps the remote index in step with pattern mutations.
type Indexer interface {
	IndexPattern(rec PatternRecord) error
	DeletePattern(id string) error
}
