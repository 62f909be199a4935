package uniqueness

import "context"

// ValidateNested checks one child collection of parent for duplicate values
// of field. It returns true when no record was flagged. An empty collection
// is a no-op.
func ValidateNested[R Record](ctx context.Context, parent Record, records []R, field Field[R], opts Options[R]) (bool, error) {
	if len(records) == 0 {
		return true, nil
	}
	d, err := NewDetector(parent, field, opts)
	if err != nil {
		return false, err
	}
	return d.Detect(ctx, records)
}
