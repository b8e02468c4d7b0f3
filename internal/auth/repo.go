package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/platform/db"
	"github.com/gatewarden/gatewarden/internal/shared"
)

// Repository provides persistence for users, roles, and the direct group
// memberships the auth layer hands to the decision engine.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	RolesOf(ctx context.Context, userID string) ([]string, error)
	GroupsOf(ctx context.Context, userID string) ([]string, error)
	CreateUser(ctx context.Context, user User, roles []string) error
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, is_active, created_at, updated_at`

func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PGRepository) findUser(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PGRepository) RolesOf(ctx context.Context, userID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
}

// GroupsOf returns the identities the user directly belongs to. Transitive
// expansion is the decision engine's job.
func (r *PGRepository) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT parent_id FROM identity_hierarchy WHERE child_id = $1 ORDER BY parent_id`, userID)
}

func (r *PGRepository) queryStrings(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateUser persists the user, its registry entry, and its roles in one
// transaction, so a user never exists without its identity registration.
func (r *PGRepository) CreateUser(ctx context.Context, user User, roles []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`INSERT INTO entities (id, entity_type, created_at) VALUES ($1, $2, $3)`,
			user.ID, accesscontrol.TypeUser, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, name, password_hash, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			user.ID, user.Email, user.Name, user.PasswordHash, user.IsActive, now); err != nil {
			return err
		}
		for _, role := range roles {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, user.ID, role); err != nil {
				return err
			}
		}
		return nil
	})
}
