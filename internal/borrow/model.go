package borrow

import "time"

type Record struct {
	ID            string     `json:"id"`
	BookID        string     `json:"bookId"`
	BookTitle     string     `json:"bookTitle"`
	BorrowerID    string     `json:"borrowerId"`
	BorrowerEmail string     `json:"borrowerEmail"`
	BorrowedAt    time.Time  `json:"borrowedAt"`
	ReturnedAt    *time.Time `json:"returnedAt"`
}

type ListParams struct {
	Skip       int
	Limit      int
	ActiveOnly bool
	BookID     string
	BorrowerID string
	Sort       string
}
