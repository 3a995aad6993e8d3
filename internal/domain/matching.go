package domain

// ProfileEmbedding is the cached embedding of a subscriber's profile text
type ProfileEmbedding struct {
	SubscriberID string
	ProfileText  string
	Embedding    []float64
}

// PostingEmbedding is a job posting candidate for matching
type PostingEmbedding struct {
	PostingID string
	Title     string
	Company   string
	URL       string
	Embedding []float64
}

// Posting is a job posting discovered by the scraping handler
type Posting struct {
	Title    string `json:"title"`
	Company  string `json:"company,omitempty"`
	Location string `json:"location,omitempty"`
	URL      string `json:"url"`
}

// Match is a ranked posting for a subscriber
type Match struct {
	PostingID  string  `json:"posting_id"`
	Title      string  `json:"title"`
	Company    string  `json:"company,omitempty"`
	URL        string  `json:"url,omitempty"`
	Similarity float64 `json:"similarity"`
}
