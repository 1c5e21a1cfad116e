package book

import "time"

type Book struct {
	ID        string    `json:"id"`
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"createdAt"`
}

type Input struct {
	ISBN      string `json:"isbn"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Available *bool  `json:"available"`
}

// ListParams mirrors the list query string: offset pagination, free-text
// search on title/author, exact ISBN match, availability filter and a single
// sort column with a leading '-' for descending.
type ListParams struct {
	Skip          int
	Limit         int
	Search        string
	ISBN          string
	AvailableOnly bool
	Sort          string
}
