package borrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrBookUnavailable = errors.New("book is not available for borrowing")
	ErrRecordNotFound  = errors.New("borrow record not found")
	ErrAlreadyReturned = errors.New("book has already been returned")
	ErrNotBorrower     = errors.New("only the borrower can return this book")
)

var sortColumns = map[string]string{
	"borrowed_at": "br.borrowed_at",
	"borrowedAt":  "br.borrowed_at",
	"returned_at": "br.returned_at",
	"returnedAt":  "br.returned_at",
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Borrow creates a loan in a single transaction: the book row is locked,
// availability flipped and the record inserted, so two concurrent borrowers
// cannot both take the last copy.
func (r *Repository) Borrow(ctx context.Context, bookID, borrowerEmail string) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin borrow tx: %w", err)
	}
	defer tx.Rollback()

	var borrowerID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, borrowerEmail).Scan(&borrowerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("borrower %s not registered", borrowerEmail)
		}
		return Record{}, fmt.Errorf("query borrower: %w", err)
	}

	var title string
	var available bool
	err = tx.QueryRowContext(ctx, `
		SELECT title, available FROM books WHERE id = $1 FOR UPDATE
	`, bookID).Scan(&title, &available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrBookNotFound
		}
		return Record{}, fmt.Errorf("lock book row: %w", err)
	}
	if !available {
		return Record{}, ErrBookUnavailable
	}

	var activeExists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM borrow_records WHERE book_id = $1 AND returned_at IS NULL)
	`, bookID).Scan(&activeExists)
	if err != nil {
		return Record{}, fmt.Errorf("check active loan: %w", err)
	}
	if activeExists {
		return Record{}, ErrBookUnavailable
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate borrow record id: %w", err)
	}
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO borrow_records (id, book_id, user_id, borrowed_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), bookID, borrowerID, now); err != nil {
		return Record{}, fmt.Errorf("insert borrow record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE books SET available = FALSE WHERE id = $1
	`, bookID); err != nil {
		return Record{}, fmt.Errorf("mark book borrowed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit borrow tx: %w", err)
	}

	return Record{
		ID:            id.String(),
		BookID:        bookID,
		BookTitle:     title,
		BorrowerID:    borrowerID,
		BorrowerEmail: borrowerEmail,
		BorrowedAt:    now,
	}, nil
}

// Return closes a loan. Only the original borrower may return; a closed loan
// stays closed.
func (r *Repository) Return(ctx context.Context, recordID, borrowerEmail string) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin return tx: %w", err)
	}
	defer tx.Rollback()

	var record Record
	var returnedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT br.id, br.book_id, b.title, br.user_id, u.email, br.borrowed_at, br.returned_at
		FROM borrow_records br
		JOIN books b ON b.id = br.book_id
		JOIN users u ON u.id = br.user_id
		WHERE br.id = $1
		FOR UPDATE OF br
	`, recordID).Scan(&record.ID, &record.BookID, &record.BookTitle, &record.BorrowerID, &record.BorrowerEmail, &record.BorrowedAt, &returnedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("lock borrow record: %w", err)
	}

	if returnedAt.Valid {
		return Record{}, ErrAlreadyReturned
	}
	if record.BorrowerEmail != borrowerEmail {
		return Record{}, ErrNotBorrower
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE borrow_records SET returned_at = $2 WHERE id = $1
	`, recordID, now); err != nil {
		return Record{}, fmt.Errorf("close borrow record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE books SET available = TRUE WHERE id = $1
	`, record.BookID); err != nil {
		return Record{}, fmt.Errorf("mark book available: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit return tx: %w", err)
	}

	record.ReturnedAt = &now
	return record, nil
}

// ListByBorrower pages one user's loans; List pages everyone's.
func (r *Repository) ListByBorrower(ctx context.Context, borrowerEmail string, params ListParams) ([]Record, int64, error) {
	clauses := []string{"u.email = $1"}
	args := []any{borrowerEmail}
	return r.list(ctx, clauses, args, params)
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]Record, int64, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if params.BorrowerID != "" {
		args = append(args, params.BorrowerID)
		clauses = append(clauses, fmt.Sprintf("br.user_id = $%d", len(args)))
	}
	return r.list(ctx, clauses, args, params)
}

func (r *Repository) list(ctx context.Context, clauses []string, args []any, params ListParams) ([]Record, int64, error) {
	if params.ActiveOnly {
		clauses = append(clauses, "br.returned_at IS NULL")
	}
	if params.BookID != "" {
		args = append(args, params.BookID)
		clauses = append(clauses, fmt.Sprintf("br.book_id = $%d", len(args)))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	base := `
		FROM borrow_records br
		JOIN books b ON b.id = br.book_id
		JOIN users u ON u.id = br.user_id
	` + where

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count borrow records: %w", err)
	}

	query := `SELECT br.id, br.book_id, b.title, br.user_id, u.email, br.borrowed_at, br.returned_at` +
		base + orderClause(params.Sort) +
		fmt.Sprintf(" OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2)
	args = append(args, params.Skip, params.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query borrow records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, params.Limit)
	for rows.Next() {
		var record Record
		var returnedAt sql.NullTime
		if err := rows.Scan(&record.ID, &record.BookID, &record.BookTitle, &record.BorrowerID, &record.BorrowerEmail, &record.BorrowedAt, &returnedAt); err != nil {
			return nil, 0, fmt.Errorf("scan borrow record: %w", err)
		}
		if returnedAt.Valid {
			value := returnedAt.Time.UTC()
			record.ReturnedAt = &value
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate borrow rows: %w", err)
	}

	return records, total, nil
}

func orderClause(sort string) string {
	if sort == "" {
		return " ORDER BY br.borrowed_at DESC"
	}

	direction := "ASC"
	if strings.HasPrefix(sort, "-") {
		direction = "DESC"
		sort = sort[1:]
	}

	column, ok := sortColumns[sort]
	if !ok {
		return " ORDER BY br.borrowed_at DESC"
	}

	return " ORDER BY " + column + " " + direction
}
