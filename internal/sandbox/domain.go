// Package sandbox is the demonstration resource vertical: plain "items"
// whose every operation is authorized by the decision engine. It shows the
// intended integration pattern for any resource-owning package.
package sandbox

import (
	"time"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
)

// TypeItem is the entity type items register under.
const TypeItem accesscontrol.EntityType = "Item"

func init() {
	accesscontrol.RegisterEntityType(TypeItem)
}

// Item is a protected resource.
type Item struct {
	ID        string
	Name      string
	Content   string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
