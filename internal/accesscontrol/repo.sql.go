package accesscontrol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements every store interface on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Postgres error codes of interest.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// storeErr translates driver failures into the package taxonomy.
// Unique violations become ErrConflict, broken references become
// ErrValidation, unreachable-backend errors become ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// --- RegistryStore ---

func (r *Repository) InsertEntity(ctx context.Context, e Entity) (Entity, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO entities (id, entity_type, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Type, e.CreatedAt)
	if err != nil {
		return Entity{}, storeErr(err)
	}
	return r.GetEntity(ctx, e.ID)
}

func (r *Repository) GetEntity(ctx context.Context, id string) (Entity, error) {
	var e Entity
	err := r.pool.QueryRow(ctx,
		`SELECT id, entity_type, created_at FROM entities WHERE id = $1`, id).
		Scan(&e.ID, &e.Type, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, fmt.Errorf("%w: entity %q", ErrNotFound, id)
	}
	if err != nil {
		return Entity{}, storeErr(err)
	}
	return e, nil
}

func (r *Repository) DeleteEntity(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entity %q", ErrNotFound, id)
	}
	return nil
}

// --- PolicyStore ---

func (r *Repository) InsertPolicy(ctx context.Context, p Policy) (Policy, error) {
	var identityID, identityType any
	if !p.Public {
		identityID = p.IdentityID
		identityType = string(p.IdentityType)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO access_policies (id, identity_id, identity_type, resource_id, resource_type, action, public, override, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, identityID, identityType, p.ResourceID, p.ResourceType, p.Action, p.Public, p.Override, p.CreatedAt)
	if err != nil {
		return Policy{}, storeErr(err)
	}
	return p, nil
}

const policyColumns = `id, COALESCE(identity_id, ''), COALESCE(identity_type, ''), resource_id, resource_type, action, public, override, created_at`

func (r *Repository) PoliciesByResource(ctx context.Context, resourceID string, action *Action) ([]Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM access_policies WHERE resource_id = $1`
	args := []any{resourceID}
	if action != nil {
		query += ` AND action = $2`
		args = append(args, *action)
	}
	query += ` ORDER BY created_at, id`
	return r.queryPolicies(ctx, query, args...)
}

func (r *Repository) PoliciesByResources(ctx context.Context, resourceIDs []string) ([]Policy, error) {
	return r.queryPolicies(ctx,
		`SELECT `+policyColumns+` FROM access_policies WHERE resource_id = ANY($1) ORDER BY created_at, id`,
		resourceIDs)
}

func (r *Repository) PoliciesByIdentity(ctx context.Context, identityID string) ([]Policy, error) {
	return r.queryPolicies(ctx,
		`SELECT `+policyColumns+` FROM access_policies WHERE identity_id = $1 ORDER BY created_at, id`,
		identityID)
}

func (r *Repository) GetPolicy(ctx context.Context, policyID string) (Policy, error) {
	policies, err := r.queryPolicies(ctx,
		`SELECT `+policyColumns+` FROM access_policies WHERE id = $1`, policyID)
	if err != nil {
		return Policy{}, err
	}
	if len(policies) == 0 {
		return Policy{}, fmt.Errorf("%w: policy %q", ErrNotFound, policyID)
	}
	return policies[0], nil
}

func (r *Repository) DeletePolicy(ctx context.Context, policyID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM access_policies WHERE id = $1`, policyID)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: policy %q", ErrNotFound, policyID)
	}
	return nil
}

func (r *Repository) queryPolicies(ctx context.Context, query string, args ...any) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.IdentityID, &p.IdentityType, &p.ResourceID, &p.ResourceType,
			&p.Action, &p.Public, &p.Override, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// --- HierarchyStore ---

func (r *Repository) AttachResource(ctx context.Context, e Edge) error {
	return r.attachEdge(ctx, "resource_hierarchy", e)
}

func (r *Repository) DetachResource(ctx context.Context, parentID, childID string) error {
	return r.detachEdge(ctx, "resource_hierarchy", parentID, childID)
}

func (r *Repository) SetResourceInherit(ctx context.Context, parentID, childID string, inherit bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE resource_hierarchy SET inherit = $3 WHERE parent_id = $1 AND child_id = $2`,
		parentID, childID, inherit)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: edge %q->%q", ErrNotFound, parentID, childID)
	}
	return nil
}

func (r *Repository) ParentsOfResource(ctx context.Context, childID string) ([]Edge, error) {
	return r.queryEdges(ctx, "resource_hierarchy", "child_id", childID)
}

func (r *Repository) ChildrenOfResource(ctx context.Context, parentID string) ([]Edge, error) {
	return r.queryEdges(ctx, "resource_hierarchy", "parent_id", parentID)
}

func (r *Repository) AttachIdentity(ctx context.Context, e Edge) error {
	return r.attachEdge(ctx, "identity_hierarchy", e)
}

func (r *Repository) DetachIdentity(ctx context.Context, parentID, childID string) error {
	return r.detachEdge(ctx, "identity_hierarchy", parentID, childID)
}

func (r *Repository) ParentsOfIdentity(ctx context.Context, childID string) ([]Edge, error) {
	return r.queryEdges(ctx, "identity_hierarchy", "child_id", childID)
}

func (r *Repository) ChildrenOfIdentity(ctx context.Context, parentID string) ([]Edge, error) {
	return r.queryEdges(ctx, "identity_hierarchy", "parent_id", parentID)
}

func (r *Repository) attachEdge(ctx context.Context, table string, e Edge) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO `+table+` (parent_id, parent_type, child_id, child_type, inherit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ParentID, e.ParentType, e.ChildID, e.ChildType, e.Inherit, e.CreatedAt)
	return storeErr(err)
}

func (r *Repository) detachEdge(ctx context.Context, table, parentID, childID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE parent_id = $1 AND child_id = $2`, parentID, childID)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: edge %q->%q", ErrNotFound, parentID, childID)
	}
	return nil
}

func (r *Repository) queryEdges(ctx context.Context, table, column, id string) ([]Edge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT parent_id, parent_type, child_id, child_type, inherit, created_at FROM `+table+
			` WHERE `+column+` = $1 ORDER BY parent_id, child_id`, id)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ParentID, &e.ParentType, &e.ChildID, &e.ChildType, &e.Inherit, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// --- LogStore ---

func (r *Repository) InsertLog(ctx context.Context, entry LogEntry) error {
	var identityID any
	if entry.IdentityID != "" {
		identityID = entry.IdentityID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO access_logs (identity_id, resource_id, resource_type, action, status, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identityID, entry.ResourceID, entry.ResourceType, entry.Action, entry.Status, entry.At)
	return storeErr(err)
}

func (r *Repository) Logs(ctx context.Context, filters LogFilters) ([]LogEntry, error) {
	query := `SELECT id, COALESCE(identity_id, ''), resource_id, resource_type, action, status, occurred_at
		FROM access_logs WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.IdentityID != "" {
		query += ` AND identity_id = ` + arg(filters.IdentityID)
	}
	if filters.ResourceID != "" {
		query += ` AND resource_id = ` + arg(filters.ResourceID)
	}
	if !filters.From.IsZero() {
		query += ` AND occurred_at >= ` + arg(filters.From)
	}
	if !filters.To.IsZero() {
		query += ` AND occurred_at <= ` + arg(filters.To)
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if filters.PageSize > 0 {
		query += ` LIMIT ` + arg(filters.PageSize)
		if filters.Page > 1 {
			query += ` OFFSET ` + arg((filters.Page-1)*filters.PageSize)
		}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.IdentityID, &entry.ResourceID, &entry.ResourceType,
			&entry.Action, &entry.Status, &entry.At); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (r *Repository) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM access_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}
