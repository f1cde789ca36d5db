package port

import (
	"context"

	"github.com/bnema/altq/internal/domain"
)

// Generator produces the ALT text for an entity. Failures are returned as
// *domain.GenerateError so callers can branch on the kind.
type Generator interface {
	Generate(ctx context.Context, entityID int64, source string, retryCount int) (string, error)
}

type EntityInspector interface {
	Inspect(ctx context.Context, entityID int64) (domain.Entity, error)
}
