package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service applies access decisions around item persistence.
type Service struct {
	repo   Repository
	engine *accesscontrol.Engine
}

// NewService constructs a Service.
func NewService(repo Repository, engine *accesscontrol.Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// Create stores a new item owned by the caller.
func (s *Service) Create(ctx context.Context, user *accesscontrol.CurrentUser, name, content string) (*Item, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: anonymous callers cannot create items", accesscontrol.ErrDenied)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: item name required", accesscontrol.ErrValidation)
	}
	now := time.Now().UTC()
	item := Item{
		ID:        uuid.NewString(),
		Name:      name,
		Content:   content,
		CreatedBy: user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Get returns an item the caller may read.
func (s *Service) Get(ctx context.Context, user *accesscontrol.CurrentUser, id string) (*Item, error) {
	if err := s.engine.Allows(ctx, user, id, TypeItem, accesscontrol.ActionRead); err != nil {
		return nil, err
	}
	return s.repo.FindItem(ctx, id)
}

// Update modifies an item the caller may write.
func (s *Service) Update(ctx context.Context, user *accesscontrol.CurrentUser, id, name, content string) (*Item, error) {
	if err := s.engine.Allows(ctx, user, id, TypeItem, accesscontrol.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.repo.FindItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		item.Name = name
	}
	item.Content = content
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateItem(ctx, *item); err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes an item the caller owns.
func (s *Service) Delete(ctx context.Context, user *accesscontrol.CurrentUser, id string) error {
	if err := s.engine.Allows(ctx, user, id, TypeItem, accesscontrol.ActionOwn); err != nil {
		return err
	}
	return s.repo.DeleteItem(ctx, id)
}

// List returns the items the caller may read, filtered in the database
// rather than post-hoc.
func (s *Service) List(ctx context.Context, user *accesscontrol.CurrentUser, page, pageSize int) ([]Item, error) {
	filter, err := s.engine.FilterAllowed(ctx, user, accesscontrol.ActionRead, "items.id")
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.repo.ListItems(ctx, filter, pageSize, (page-1)*pageSize)
}
