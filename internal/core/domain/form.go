package domain

import (
	"errors"
	"regexp"
	"time"

	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

var (
	ErrInvalidName    = errors.New("invalid name")
	ErrInvalidDataset = errors.New("invalid dataset")
	ErrInvalidTenant  = errors.New("invalid tenant")
	ErrInvalidForm    = errors.New("invalid form")
	ErrNotFound       = errors.New("not found")
)

var identPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

const (
	ComponentSection = "section"
	ComponentGroup   = "group"

	ContainerForm  = "form"
	ContainerGroup = "group"
	ContainerField = "field"
)

// Container is anything that links to components: forms, groups and fields.
type Container interface {
	Links() []*Content
}

// Component is the polymorphic target of a Content link.
type Component interface {
	ComponentType() string
	ComponentID() string
}

// Form is the parent record. Its contents form a tree of sections and groups;
// every section owns fields and a field may nest further contents.
type Form struct {
	ID        string
	TenantID  string
	Name      string
	Contents  []*Content
	CreatedAt time.Time
	UpdatedAt time.Time

	errors uniqueness.Errors
}

func (f *Form) Links() []*Content                    { return f.Contents }
func (f *Form) ValidationErrors() *uniqueness.Errors { return &f.errors }
func (f *Form) MarkedForRemoval() bool               { return false }

// Content links a container to a component.
type Content struct {
	ID        string
	Component Component
}

func (c *Content) LinkedComponent() uniqueness.Node {
	if c.Component == nil {
		return nil
	}
	return c.Component
}

type Section struct {
	ID     string
	Name   string
	Fields []*Field

	errors uniqueness.Errors
}

func (s *Section) ComponentType() string                { return ComponentSection }
func (s *Section) ComponentID() string                  { return s.ID }
func (s *Section) ValidationErrors() *uniqueness.Errors { return &s.errors }
func (s *Section) MarkedForRemoval() bool               { return false }

// Group only arranges further contents.
type Group struct {
	ID       string
	Name     string
	Contents []*Content
}

func (g *Group) ComponentType() string { return ComponentGroup }
func (g *Group) ComponentID() string   { return g.ID }
func (g *Group) Links() []*Content     { return g.Contents }

// Field writes one column of a tenant dataset. Name is the column, Label is
// what respondents see.
type Field struct {
	ID       string
	Name     string
	Label    string
	Dataset  string
	Remove   bool
	Contents []*Content

	errors uniqueness.Errors
}

func (f *Field) Links() []*Content                    { return f.Contents }
func (f *Field) ValidationErrors() *uniqueness.Errors { return &f.errors }
func (f *Field) MarkedForRemoval() bool               { return f.Remove }
func (f *Field) ModelName() string                    { return "Field" }

func (f *Field) PersistedID() (any, bool) {
	return f.ID, f.ID != ""
}

// Validate checks the shape of the form tree. Uniqueness is checked
// separately since it needs the whole tree and the persisted store.
// A component linked from several containers is checked once; linking one
// of its own ancestors is a *uniqueness.CycleError.
func (f *Form) Validate() error {
	if f.Name == "" {
		return ErrInvalidName
	}
	s := &shapeCheck{
		path: make(map[Component]bool),
		done: make(map[Component]bool),
	}
	return s.contents(f.Contents, 0)
}

type shapeCheck struct {
	path map[Component]bool
	done map[Component]bool
}

func (s *shapeCheck) contents(contents []*Content, depth int) error {
	if depth > uniqueness.DefaultMaxDepth {
		return uniqueness.ErrMaxDepthExceeded
	}
	for _, c := range contents {
		if c == nil || c.Component == nil || s.done[c.Component] {
			continue
		}
		if s.path[c.Component] {
			return &uniqueness.CycleError{Node: c.Component, Depth: depth}
		}
		s.path[c.Component] = true

		switch comp := c.Component.(type) {
		case *Section:
			for _, field := range comp.Fields {
				if field == nil {
					continue
				}
				if err := ValidateIdent(field.Name); err != nil {
					return ErrInvalidName
				}
				if err := ValidateIdent(field.Dataset); err != nil {
					return ErrInvalidDataset
				}
				if err := s.contents(field.Contents, depth+1); err != nil {
					return err
				}
			}
		case *Group:
			if err := s.contents(comp.Contents, depth+1); err != nil {
				return err
			}
		}

		delete(s.path, c.Component)
		s.done[c.Component] = true
	}
	return nil
}

func ValidateIdent(s string) error {
	if s == "" || !identPattern.MatchString(s) {
		return ErrInvalidName
	}
	return nil
}
