package querylog

import "time"

// Attribution links an answer to one document that was sent as context.
type Attribution struct {
	DocumentName string `json:"document"`
	DocumentID   string `json:"document_id"`
	Excerpt      string `json:"excerpt,omitempty"`
}

// Record is one answered (or failed) query.
type Record struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	Attributions []Attribution `json:"sources"`
	Found        bool          `json:"found"`
}

// Rating is user feedback on a question/answer pair.
type Rating struct {
	ID        string    `json:"id"`
	QueryID   string    `json:"query_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Score     int       `json:"score"`
	Note      string    `json:"note,omitempty"`
}
