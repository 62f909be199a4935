package uniqueness

import (
	"context"
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"
	"github.com/sirupsen/logrus"
)

// DefaultMessage is attached to a duplicate record when Options.Message is empty.
const DefaultMessage = "has already been taken"

// Record is a child candidate checked for duplicates. The validator only
// reads records and appends to their errors.
type Record interface {
	ValidationErrors() *Errors
	MarkedForRemoval() bool
}

// Persisted is implemented by records that may already be saved. The store
// lookup for such a record excludes its own row.
type Persisted interface {
	PersistedID() (id any, ok bool)
}

// Named lets a record choose the model name used in the parent message.
type Named interface {
	ModelName() string
}

// Field reads one attribute of a record.
type Field[R any] struct {
	Name  string
	Value func(R) any

	text bool
}

// StringField returns a field that may be compared case-insensitively.
func StringField[R any](name string, value func(R) string) Field[R] {
	f := Field[R]{Name: name, text: true}
	if value != nil {
		f.Value = func(r R) any { return value(r) }
	}
	return f
}

// ValueField returns a field compared by equality; it cannot be case folded.
func ValueField[R any, V comparable](name string, value func(R) V) Field[R] {
	f := Field[R]{Name: name}
	if value != nil {
		f.Value = func(r R) any { return value(r) }
	}
	return f
}

func (f Field[R]) check() error {
	if f.Name == "" {
		return invalidArgument("field name is empty")
	}
	if f.Value == nil {
		return invalidArgument("field %q has no accessor", f.Name)
	}
	return nil
}

// Condition is one attribute = value pair of a store lookup.
type Condition struct {
	Attribute string
	Value     any
}

// Lookup asks whether a persisted row holds Attribute = Value and matches
// every Scope condition. Value is passed as read from the record; when
// CaseInsensitive is set the store compares it case-insensitively. Exclude,
// when not nil, is the identity of the record's own persisted row.
type Lookup struct {
	Attribute       string
	Value           any
	CaseInsensitive bool
	Scope           []Condition
	Exclude         any
}

// Store answers existence queries against already persisted records.
type Store interface {
	Exists(ctx context.Context, q Lookup) (bool, error)
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, q Lookup) (bool, error)

// Exists calls f.
func (f StoreFunc) Exists(ctx context.Context, q Lookup) (bool, error) {
	return f(ctx, q)
}

// Options configures one validation.
type Options[R any] struct {
	// Scope lists attributes whose values must also match for two records
	// to conflict.
	Scope []Field[R]

	// CaseInsensitive lower-cases the checked value before comparing. Only
	// fields built with StringField support it.
	CaseInsensitive bool

	// Message is added to each duplicate record. Defaults to DefaultMessage.
	Message string

	// ParentMessage is added once to the parent's base errors. Defaults to
	// "<collection name> not valid".
	ParentMessage string

	// CollectionName overrides the pluralized model name of the records.
	CollectionName string

	// Store, when set, is consulted for every first occurrence.
	Store Store

	Logger logrus.FieldLogger
}

func (o Options[R]) check(field Field[R]) error {
	if err := field.check(); err != nil {
		return err
	}
	for _, s := range o.Scope {
		if err := s.check(); err != nil {
			return err
		}
	}
	if o.CaseInsensitive && !field.text {
		return invalidArgument("case-insensitive comparison requires a string field, %q is not", field.Name)
	}
	return nil
}

func (o Options[R]) withDefaults() Options[R] {
	if o.Message == "" {
		o.Message = DefaultMessage
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// collectionName derives the pluralized model name of the records.
func collectionName[R any](records []R) string {
	for _, rec := range records {
		if isNil(rec) {
			continue
		}
		if n, ok := any(rec).(Named); ok && n.ModelName() != "" {
			return inflection.Plural(n.ModelName())
		}
		t := reflect.TypeOf(rec)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if name := t.Name(); name != "" {
			return inflection.Plural(strings.ToUpper(name[:1]) + name[1:])
		}
		break
	}
	return "Records"
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
