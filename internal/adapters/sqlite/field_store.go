package sqlite

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/nestuniq/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

// fieldColumns maps lookup attributes to form_fields columns. Anything else
// is refused before it reaches SQL.
var fieldColumns = map[string]string{
	"name":    "name",
	"label":   "label",
	"dataset": "dataset",
}

// FieldStore answers uniqueness lookups against saved form fields.
type FieldStore struct {
	db *gormsqlite.DB
}

func NewFieldStore(db *gormsqlite.DB) *FieldStore {
	return &FieldStore{db: db}
}

// Scoped limits lookups to one tenant and, when formID is set, leaves out the
// rows of that form.
func (s *FieldStore) Scoped(tenantID, formID string) uniqueness.Store {
	return uniqueness.StoreFunc(func(ctx context.Context, q uniqueness.Lookup) (bool, error) {
		return s.Exists(ctx, tenantID, formID, q)
	})
}

// Exists reports whether a field of the tenant outside formID matches q.
// q.Exclude is not applied: a field id read from a request is not proof that
// the row belongs to the form, and the form's own rows are already left out
// through formID.
func (s *FieldStore) Exists(ctx context.Context, tenantID, formID string, q uniqueness.Lookup) (bool, error) {
	col, ok := fieldColumns[q.Attribute]
	if !ok {
		return false, fmt.Errorf("%w: unknown field attribute %q", uniqueness.ErrInvalidArgument, q.Attribute)
	}

	exprs := []clause.Expression{clause.Eq{Column: clause.Column{Name: "tenant_id"}, Value: tenantID}}
	if formID != "" {
		exprs = append(exprs, clause.Neq{Column: clause.Column{Name: "form_id"}, Value: formID})
	}
	if q.CaseInsensitive {
		exprs = append(exprs, clause.Expr{SQL: "LOWER(?) = LOWER(?)", Vars: []any{clause.Column{Name: col}, q.Value}})
	} else {
		exprs = append(exprs, clause.Eq{Column: clause.Column{Name: col}, Value: q.Value})
	}
	for _, cond := range q.Scope {
		scopeCol, ok := fieldColumns[cond.Attribute]
		if !ok {
			return false, fmt.Errorf("%w: unknown scope attribute %q", uniqueness.ErrInvalidArgument, cond.Attribute)
		}
		exprs = append(exprs, clause.Eq{Column: clause.Column{Name: scopeCol}, Value: cond.Value})
	}

	var count int64
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&fieldModel{}).Clauses(clause.Where{Exprs: exprs}).Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("count fields: %w", err)
	}
	return count > 0, nil
}
