package book

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type page struct {
	Data  []Book `json:"data"`
	Total int64  `json:"total"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	params := ListParams{
		Skip:          intParam(query.Get("skip"), 0),
		Limit:         limitParam(query.Get("limit")),
		Search:        strings.TrimSpace(query.Get("search")),
		ISBN:          strings.TrimSpace(query.Get("isbn")),
		AvailableOnly: boolParam(query.Get("available_only")),
		Sort:          strings.TrimSpace(query.Get("sort")),
	}

	books, total, err := h.repo.List(r.Context(), params)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list books")
		return
	}

	writeJSON(w, http.StatusOK, page{Data: books, Total: total, Skip: params.Skip, Limit: params.Limit})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	found, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get book")
		return
	}

	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	created, err := h.repo.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrISBNConflict) {
			writeError(w, http.StatusBadRequest, "isbn already registered with a different title or author")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create book")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	updated, err := h.repo.Update(r.Context(), id, input)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "book not found")
		case errors.Is(err, ErrISBNConflict):
			writeError(w, http.StatusBadRequest, "isbn already registered with a different title or author")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update book")
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete book")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return Input{}, false
	}

	input.ISBN = strings.TrimSpace(input.ISBN)
	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)

	if input.ISBN == "" || len(NormalizeISBN(input.ISBN)) > 20 {
		writeError(w, http.StatusBadRequest, "isbn is invalid")
		return Input{}, false
	}
	if input.Title == "" || !utf8.ValidString(input.Title) || len(input.Title) > 500 {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return Input{}, false
	}
	if input.Author == "" || !utf8.ValidString(input.Author) || len(input.Author) > 255 {
		writeError(w, http.StatusBadRequest, "author is invalid")
		return Input{}, false
	}

	return input, true
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
