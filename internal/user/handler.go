package user

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"library-api/internal/auth"
)

var (
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	upperRegex = regexp.MustCompile(`[A-Z]`)
	lowerRegex = regexp.MustCompile(`[a-z]`)
	digitRegex = regexp.MustCompile(`[0-9]`)
)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 8
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type page struct {
	Data  []User `json:"data"`
	Total int64  `json:"total"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input CreateInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.FullName = strings.TrimSpace(input.FullName)

	if !emailRegex.MatchString(input.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if message, ok := validatePassword(input.Password); !ok {
		writeError(w, http.StatusBadRequest, message)
		return
	}
	if len(input.Roles) == 0 {
		input.Roles = []string{auth.RoleMember}
	}
	for _, role := range input.Roles {
		if !auth.ValidRole(role) {
			writeError(w, http.StatusBadRequest, "unknown role: "+role)
			return
		}
	}

	created, err := h.repo.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)

	users, total, err := h.repo.List(r.Context(), skip, limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, page{Data: users, Total: total, Skip: skip, Limit: limit})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	found, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func validatePassword(password string) (string, bool) {
	switch {
	case len(password) < minPasswordLength:
		return "password must be at least 8 characters", false
	case len(password) > 200:
		return "password is too long", false
	case !upperRegex.MatchString(password):
		return "password must contain an uppercase letter", false
	case !lowerRegex.MatchString(password):
		return "password must contain a lowercase letter", false
	case !digitRegex.MatchString(password):
		return "password must contain a digit", false
	}
	return "", true
}

func pagination(r *http.Request) (int, int) {
	skip := 0
	if value, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && value >= 0 {
		skip = value
	}

	limit := 100
	if value, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && value > 0 && value <= 1000 {
		limit = value
	}

	return skip, limit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
