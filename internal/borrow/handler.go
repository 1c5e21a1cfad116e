package borrow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"library-api/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type borrowRequest struct {
	BookID string `json:"bookId"`
}

type page struct {
	Data  []Record `json:"data"`
	Total int64    `json:"total"`
	Skip  int      `json:"skip"`
	Limit int      `json:"limit"`
}

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body borrowRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if _, err := uuid.Parse(body.BookID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	record, err := h.repo.Borrow(r.Context(), body.BookID, principal.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrBookNotFound):
			writeError(w, http.StatusNotFound, "book not found")
		case errors.Is(err, ErrBookUnavailable):
			writeError(w, http.StatusBadRequest, "book is not available for borrowing")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to borrow book")
		}
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	recordID := r.PathValue("recordId")
	if _, err := uuid.Parse(recordID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid borrow record id")
		return
	}

	record, err := h.repo.Return(r.Context(), recordID, principal.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			writeError(w, http.StatusNotFound, "borrow record not found")
		case errors.Is(err, ErrAlreadyReturned):
			writeError(w, http.StatusBadRequest, "book has already been returned")
		case errors.Is(err, ErrNotBorrower):
			writeError(w, http.StatusForbidden, "you can only return books that you borrowed")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to return book")
		}
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Mine lists the calling user's own loans.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	params, ok := parseListParams(w, r, false)
	if !ok {
		return
	}

	records, total, err := h.repo.ListByBorrower(r.Context(), principal.Email, params)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list borrow records")
		return
	}

	writeJSON(w, http.StatusOK, page{Data: records, Total: total, Skip: params.Skip, Limit: params.Limit})
}

// All lists every loan; reserved for the borrows:read_all capability.
func (h *Handler) All(w http.ResponseWriter, r *http.Request) {
	params, ok := parseListParams(w, r, true)
	if !ok {
		return
	}

	records, total, err := h.repo.List(r.Context(), params)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list borrow records")
		return
	}

	writeJSON(w, http.StatusOK, page{Data: records, Total: total, Skip: params.Skip, Limit: params.Limit})
}

func parseListParams(w http.ResponseWriter, r *http.Request, allowBorrowerFilter bool) (ListParams, bool) {
	query := r.URL.Query()

	params := ListParams{
		Skip:       intParam(query.Get("skip"), 0),
		Limit:      limitParam(query.Get("limit")),
		ActiveOnly: boolParam(query.Get("active_only")),
		Sort:       strings.TrimSpace(query.Get("sort")),
	}

	if bookID := strings.TrimSpace(query.Get("book_id")); bookID != "" {
		if _, err := uuid.Parse(bookID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid book id filter")
			return ListParams{}, false
		}
		params.BookID = bookID
	}

	if allowBorrowerFilter {
		if borrowerID := strings.TrimSpace(query.Get("borrower_id")); borrowerID != "" {
			if _, err := uuid.Parse(borrowerID); err != nil {
				writeError(w, http.StatusBadRequest, "invalid borrower id filter")
				return ListParams{}, false
			}
			params.BorrowerID = borrowerID
		}
	}

	return params, true
}

func intParam(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func limitParam(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 || parsed > 1000 {
		return 100
	}
	return parsed
}

func boolParam(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
