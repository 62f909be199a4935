package ports

import (
	"context"

	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

type FormRepository interface {
	Save(ctx context.Context, form *domain.Form) error
	Get(ctx context.Context, tenantID, id string) (*domain.Form, error)
}

// FieldIndex answers persisted-field lookups for one tenant. Rows of the form
// being validated are left out since its in-memory tree replaces them.
type FieldIndex interface {
	Scoped(tenantID, formID string) uniqueness.Store
}

type ValidationRecorder interface {
	ObserveValidation(kind string, valid bool)
	ObserveDuplicates(kind string, n int)
}
