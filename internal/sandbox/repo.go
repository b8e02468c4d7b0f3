package sandbox

import (
	"context"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
)

// Repository persists items. CreateItem must atomically create the item,
// its registry row, and the creator's initial own grant: a visible item
// without an owner would be unreachable by every non-admin caller.
type Repository interface {
	CreateItem(ctx context.Context, item Item) error
	FindItem(ctx context.Context, id string) (*Item, error)
	UpdateItem(ctx context.Context, item Item) error
	// DeleteItem removes the item and its registry row; grants and
	// hierarchy edges referencing it go with the registry row.
	DeleteItem(ctx context.Context, id string) error
	// ListItems returns items matching the access filter, newest first.
	ListItems(ctx context.Context, filter accesscontrol.Filter, limit, offset int) ([]Item, error)
}
