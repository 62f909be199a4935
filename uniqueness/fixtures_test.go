package uniqueness

import (
	"context"
	"strings"
	"sync"
)

type parent struct {
	errs  Errors
	links []Link
}

func (p *parent) ValidationErrors() *Errors { return &p.errs }
func (p *parent) MarkedForRemoval() bool    { return false }

type child struct {
	Name    string
	Address string
	Removed bool
	ID      any

	errs  Errors
	links []Link
}

func (c *child) ValidationErrors() *Errors { return &c.errs }
func (c *child) MarkedForRemoval() bool    { return c.Removed }
func (c *child) PersistedID() (any, bool)  { return c.ID, c.ID != nil }

// component owns a collection of children.
type component struct {
	name     string
	children []*child
}

// group is a component that only links to further components.
type group struct {
	links []Link
}

type treeNode struct {
	component Node
}

func (n *treeNode) LinkedComponent() Node { return n.component }

func link(c Node) Link { return &treeNode{component: c} }

func testTree() Tree[*component, *child] {
	return Tree[*component, *child]{
		Links: func(n Node) []Link {
			switch v := n.(type) {
			case *parent:
				return v.links
			case *group:
				return v.links
			case *child:
				return v.links
			}
			return nil
		},
		Match: func(n Node) (*component, bool) {
			c, ok := n.(*component)
			return c, ok
		},
		Collection: func(c *component) []*child { return c.children },
	}
}

func nameField() Field[*child] {
	return StringField("name", func(c *child) string { return c.Name })
}

func addressField() Field[*child] {
	return StringField("address", func(c *child) string { return c.Address })
}

// memoryStore is a Store over a fixed set of persisted children.
type memoryStore struct {
	mu      sync.Mutex
	rows    []*child
	lookups []Lookup
}

func (s *memoryStore) Exists(_ context.Context, q Lookup) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, q)
	for _, row := range s.rows {
		if q.Exclude != nil && row.ID == q.Exclude {
			continue
		}
		if !matchValue(row, q.Attribute, q.Value, q.CaseInsensitive) {
			continue
		}
		ok := true
		for _, cond := range q.Scope {
			if !matchValue(row, cond.Attribute, cond.Value, false) {
				ok = false
				break
			}
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchValue(row *child, attribute string, value any, fold bool) bool {
	var got string
	switch attribute {
	case "name":
		got = row.Name
	case "address":
		got = row.Address
	default:
		return false
	}
	want, _ := value.(string)
	if fold {
		return strings.EqualFold(got, want)
	}
	return got == want
}
