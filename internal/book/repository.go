package book

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrISBNConflict signals an ISBN registered with a different title or
// author than an existing copy.
var ErrISBNConflict = errors.New("isbn already registered with different details")

var isbnSeparators = regexp.MustCompile(`[\s-]`)

// NormalizeISBN strips spaces and hyphens so equal ISBNs compare equal
// regardless of formatting.
func NormalizeISBN(isbn string) string {
	return isbnSeparators.ReplaceAllString(isbn, "")
}

// sortColumns whitelists the sortable fields; the request value is never
// interpolated into SQL directly.
var sortColumns = map[string]string{
	"title":      "title",
	"author":     "author",
	"isbn":       "isbn",
	"available":  "available",
	"created_at": "created_at",
	"createdAt":  "created_at",
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]Book, int64, error) {
	where, args := listFilters(params)

	var total int64
	countQuery := `SELECT COUNT(*) FROM books` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	query := `SELECT id, isbn, title, author, available, created_at FROM books` + where +
		orderClause(params.Sort) +
		fmt.Sprintf(" OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2)
	args = append(args, params.Skip, params.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	books := make([]Book, 0, params.Limit)
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Available, &b.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate book rows: %w", err)
	}

	return books, total, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Book, error) {
	var b Book
	err := r.db.QueryRowContext(ctx, `
		SELECT id, isbn, title, author, available, created_at
		FROM books
		WHERE id = $1
	`, id).Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Available, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, err
		}
		return Book{}, fmt.Errorf("query book: %w", err)
	}

	return b, nil
}

func (r *Repository) Create(ctx context.Context, input Input) (Book, error) {
	isbn := NormalizeISBN(input.ISBN)
	if err := r.checkISBNConsistency(ctx, isbn, input.Title, input.Author); err != nil {
		return Book{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Book{}, fmt.Errorf("generate book id: %w", err)
	}

	available := true
	if input.Available != nil {
		available = *input.Available
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, author, available, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id.String(), isbn, input.Title, input.Author, available, now)
	if err != nil {
		return Book{}, fmt.Errorf("insert book: %w", err)
	}

	return Book{
		ID:        id.String(),
		ISBN:      isbn,
		Title:     input.Title,
		Author:    input.Author,
		Available: available,
		CreatedAt: now,
	}, nil
}

func (r *Repository) Update(ctx context.Context, id string, input Input) (Book, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return Book{}, err
	}

	isbn := NormalizeISBN(input.ISBN)
	if isbn != current.ISBN {
		if err := r.checkISBNConsistency(ctx, isbn, input.Title, input.Author); err != nil {
			return Book{}, err
		}
	}

	available := current.Available
	if input.Available != nil {
		available = *input.Available
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE books
		SET isbn = $2, title = $3, author = $4, available = $5
		WHERE id = $1
	`, id, isbn, input.Title, input.Author, available)
	if err != nil {
		return Book{}, fmt.Errorf("update book: %w", err)
	}

	current.ISBN = isbn
	current.Title = input.Title
	current.Author = input.Author
	current.Available = available
	return current, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete book rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// Count reports the total number of catalog rows; used by seeding.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}

// checkISBNConsistency enforces that one ISBN maps to one title/author pair
// across copies.
func (r *Repository) checkISBNConsistency(ctx context.Context, isbn, title, author string) error {
	var existingTitle, existingAuthor string
	err := r.db.QueryRowContext(ctx, `
		SELECT title, author FROM books WHERE isbn = $1 LIMIT 1
	`, isbn).Scan(&existingTitle, &existingAuthor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("query book by isbn: %w", err)
	}

	if existingTitle != title || existingAuthor != author {
		return ErrISBNConflict
	}

	return nil
}

func listFilters(params ListParams) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		args = append(args, pattern)
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(author) LIKE $%d)", n, n))
	}
	if params.ISBN != "" {
		args = append(args, NormalizeISBN(params.ISBN))
		clauses = append(clauses, fmt.Sprintf("isbn = $%d", len(args)))
	}
	if params.AvailableOnly {
		clauses = append(clauses, "available = TRUE")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(sort string) string {
	if sort == "" {
		return " ORDER BY created_at ASC"
	}

	direction := "ASC"
	if strings.HasPrefix(sort, "-") {
		direction = "DESC"
		sort = sort[1:]
	}

	column, ok := sortColumns[sort]
	if !ok {
		return " ORDER BY created_at ASC"
	}

	return " ORDER BY " + column + " " + direction
}
