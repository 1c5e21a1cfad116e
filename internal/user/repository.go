package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"library-api/internal/auth"
)

var ErrEmailTaken = errors.New("email already registered")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindPrincipal implements auth.PrincipalStore: email -> credential hash and
// role set, read by the login flow.
func (r *Repository) FindPrincipal(ctx context.Context, email string) (auth.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.email, u.full_name, u.password_hash, ur.role
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.email = $1
	`, email)
	if err != nil {
		return auth.Account{}, fmt.Errorf("query principal: %w", err)
	}
	defer rows.Close()

	var account auth.Account
	found := false
	for rows.Next() {
		var role sql.NullString
		if err := rows.Scan(&account.Email, &account.FullName, &account.PasswordHash, &role); err != nil {
			return auth.Account{}, fmt.Errorf("scan principal: %w", err)
		}
		found = true
		if role.Valid {
			account.Roles = append(account.Roles, role.String)
		}
	}
	if err := rows.Err(); err != nil {
		return auth.Account{}, fmt.Errorf("iterate principal rows: %w", err)
	}
	if !found {
		return auth.Account{}, auth.ErrPrincipalNotFound
	}

	return account, nil
}

func (r *Repository) Create(ctx context.Context, input CreateInput) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin create user tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id.String(), input.Email, input.FullName, string(hash), now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	for _, role := range input.Roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		`, id.String(), role); err != nil {
			return User{}, fmt.Errorf("insert user role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit create user tx: %w", err)
	}

	return User{
		ID:        id.String(),
		Email:     input.Email,
		FullName:  input.FullName,
		Roles:     input.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.full_name, u.created_at, u.updated_at, ur.role
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.id = $1
	`, id)
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	defer rows.Close()

	var user User
	found := false
	for rows.Next() {
		var role sql.NullString
		if err := rows.Scan(&user.ID, &user.Email, &user.FullName, &user.CreatedAt, &user.UpdatedAt, &role); err != nil {
			return User{}, fmt.Errorf("scan user: %w", err)
		}
		found = true
		if role.Valid {
			user.Roles = append(user.Roles, role.String)
		}
	}
	if err := rows.Err(); err != nil {
		return User{}, fmt.Errorf("iterate user rows: %w", err)
	}
	if !found {
		return User{}, sql.ErrNoRows
	}

	return user, nil
}

func (r *Repository) List(ctx context.Context, skip, limit int) ([]User, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.email, p.full_name, p.created_at, p.updated_at, ur.role
		FROM (
			SELECT id, email, full_name, created_at, updated_at
			FROM users
			ORDER BY created_at ASC
			OFFSET $1 LIMIT $2
		) p
		LEFT JOIN user_roles ur ON ur.user_id = p.id
		ORDER BY p.created_at ASC
	`, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, limit)
	index := make(map[string]int)
	for rows.Next() {
		var u User
		var role sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt, &u.UpdatedAt, &role); err != nil {
			return nil, 0, fmt.Errorf("scan user row: %w", err)
		}

		pos, seen := index[u.ID]
		if !seen {
			users = append(users, u)
			pos = len(users) - 1
			index[u.ID] = pos
		}
		if role.Valid {
			users[pos].Roles = append(users[pos].Roles, role.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, total, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// EnsureAccount upserts a seed account: password and roles are overwritten so
// boot-time credentials from the environment always win.
func (r *Repository) EnsureAccount(ctx context.Context, email, fullName, plainPassword string, roles []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate seed user id: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, id.String(), email, fullName, string(hash), now).Scan(&userID)
	if err != nil {
		return fmt.Errorf("upsert seed user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("reset seed roles: %w", err)
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		`, userID, role); err != nil {
			return fmt.Errorf("insert seed role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
