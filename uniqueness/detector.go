package uniqueness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/sirupsen/logrus"
)

// key is a composite lookup key. Nesting keeps any number of scope values
// comparable as a single map key.
type key struct {
	value any
	next  any
}

// Detector partitions records into first occurrences and duplicates. It keeps
// the first occurrence of every key between Detect calls, so consecutive
// calls share one duplicate-key space.
type Detector[R Record] struct {
	parent Record
	field  Field[R]
	opts   Options[R]
	seen   map[any]R
	log    logrus.FieldLogger
}

// NewDetector checks the configuration and returns a detector that reports
// conflicts on parent.
func NewDetector[R Record](parent Record, field Field[R], opts Options[R]) (*Detector[R], error) {
	if isNil(parent) {
		return nil, invalidArgument("parent is nil")
	}
	if parent.ValidationErrors() == nil {
		return nil, invalidArgument("parent %T has no error collection", parent)
	}
	if err := opts.check(field); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Detector[R]{
		parent: parent,
		field:  field,
		opts:   opts,
		seen:   make(map[any]R),
		log:    opts.Logger.WithField("attribute", field.Name),
	}, nil
}

// Seen returns the number of distinct keys recorded so far.
func (d *Detector[R]) Seen() int {
	return len(d.seen)
}

// Detect checks records in order. It reports false when at least one record
// was flagged as a duplicate.
func (d *Detector[R]) Detect(ctx context.Context, records []R) (bool, error) {
	clean := true
	collection := ""
	for i, rec := range records {
		if isNil(rec) {
			return false, invalidArgument("record %d is nil", i)
		}
		errs := rec.ValidationErrors()
		if errs == nil {
			return false, invalidArgument("record %T has no error collection", rec)
		}
		if rec.MarkedForRemoval() || len(errs.On(d.field.Name)) > 0 {
			continue
		}

		raw := d.field.Value(rec)
		k, scope, err := d.key(rec, raw)
		if err != nil {
			return false, err
		}

		if _, dup := d.seen[k]; !dup {
			exists, err := d.persisted(ctx, rec, raw, scope)
			if err != nil {
				return false, err
			}
			if !exists {
				d.seen[k] = rec
				continue
			}
		}

		if collection == "" {
			collection = d.opts.CollectionName
			if collection == "" {
				collection = collectionName(records)
			}
		}
		d.flag(rec, collection)
		clean = false
	}
	return clean, nil
}

func (d *Detector[R]) key(rec R, raw any) (any, []Condition, error) {
	value := raw
	if d.opts.CaseInsensitive {
		s, ok := raw.(string)
		if !ok {
			return nil, nil, invalidArgument("field %q returned %T, want string", d.field.Name, raw)
		}
		value = strings.ToLower(s)
	}

	values := make([]any, 0, len(d.opts.Scope)+1)
	values = append(values, value)
	scope := make([]Condition, 0, len(d.opts.Scope))
	for _, s := range d.opts.Scope {
		v := s.Value(rec)
		values = append(values, v)
		scope = append(scope, Condition{Attribute: s.Name, Value: v})
	}

	var k any
	for i := len(values) - 1; i >= 0; i-- {
		v := values[i]
		if v != nil && !reflect.TypeOf(v).Comparable() {
			return nil, nil, invalidArgument("value of type %T is not comparable", v)
		}
		k = key{value: v, next: k}
	}
	return k, scope, nil
}

func (d *Detector[R]) persisted(ctx context.Context, rec R, raw any, scope []Condition) (bool, error) {
	if d.opts.Store == nil {
		return false, nil
	}
	q := Lookup{
		Attribute:       d.field.Name,
		Value:           raw,
		CaseInsensitive: d.opts.CaseInsensitive,
		Scope:           scope,
	}
	if p, ok := any(rec).(Persisted); ok {
		if id, saved := p.PersistedID(); saved {
			q.Exclude = id
		}
	}
	exists, err := d.opts.Store.Exists(ctx, q)
	if err != nil {
		return false, fmt.Errorf("lookup persisted %s: %w", d.field.Name, err)
	}
	return exists, nil
}

func (d *Detector[R]) flag(rec R, collection string) {
	rec.ValidationErrors().Add(d.field.Name, d.opts.Message)

	msg := d.opts.ParentMessage
	if msg == "" {
		msg = collection + " not valid"
	}
	base := d.parent.ValidationErrors()
	if !base.Has(Base, msg) {
		base.Add(Base, msg)
	}
	d.log.WithFields(logrus.Fields{
		"collection": collection,
		"value":      d.field.Value(rec),
	}).Debug("duplicate nested value")
}
