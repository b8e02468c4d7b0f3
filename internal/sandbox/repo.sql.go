package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/platform/db"
	"github.com/gatewarden/gatewarden/internal/shared"
)

// PGRepository persists items in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const itemColumns = `id, name, content, created_by, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Content, &it.CreatedBy, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, repoErr(err)
	}
	return &it, nil
}

func repoErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", accesscontrol.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// CreateItem writes the item, its registry row, and the creator's own
// grant in one transaction.
func (r *PGRepository) CreateItem(ctx context.Context, item Item) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO entities (id, entity_type, created_at) VALUES ($1, $2, $3)`,
			item.ID, TypeItem, item.CreatedAt); err != nil {
			return repoErr(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.Name, item.Content, item.CreatedBy, item.CreatedAt, item.UpdatedAt); err != nil {
			return repoErr(err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO access_policies (id, identity_id, identity_type, resource_id, resource_type, action, public, override, created_at)
			 VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, FALSE, FALSE, $6)`,
			item.CreatedBy, accesscontrol.TypeUser, item.ID, TypeItem, accesscontrol.ActionOwn, item.CreatedAt)
		return repoErr(err)
	})
}

func (r *PGRepository) FindItem(ctx context.Context, id string) (*Item, error) {
	return scanItem(r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
}

func (r *PGRepository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE items SET name = $2, content = $3, updated_at = $4 WHERE id = $1`,
		item.ID, item.Name, item.Content, item.UpdatedAt)
	if err != nil {
		return repoErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteItem removes the item row and its registry row; policies and
// hierarchy edges cascade off the registry row.
func (r *PGRepository) DeleteItem(ctx context.Context, id string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
		if err != nil {
			return repoErr(err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		_, err = tx.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
		return repoErr(err)
	})
}

// ListItems applies the engine's access filter as a WHERE fragment. The
// fragment's placeholders come first; limit and offset are appended after
// whatever the filter used.
func (r *PGRepository) ListItems(ctx context.Context, filter accesscontrol.Filter, limit, offset int) ([]Item, error) {
	args := append([]any{}, filter.Args...)
	query := fmt.Sprintf(
		`SELECT %s FROM items WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		itemColumns, filter.Clause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, repoErr(err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Content, &it.CreatedBy, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
