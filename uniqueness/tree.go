package uniqueness

import (
	"context"
	"fmt"
	"reflect"
)

// DefaultMaxDepth bounds tree walks when Tree.MaxDepth is zero.
const DefaultMaxDepth = 64

// Node is any element of a container/component tree. Nodes are compared by
// identity, so they must be pointers or other comparable values.
type Node = any

// Link is one row of a polymorphic association that ties a container to a
// component.
type Link interface {
	LinkedComponent() Node
}

// Tree describes a polymorphic container/component structure.
//
// Links lists the links of a container. Match reports whether a component is
// of the kind that owns the checked collection; components that do not match
// are walked as containers themselves. Collection returns the child records
// of a matching component, and every one of those records is walked as a
// container too.
type Tree[C comparable, R Record] struct {
	Links      func(container Node) []Link
	Match      func(component Node) (C, bool)
	Collection func(component C) []R

	// MaxDepth limits nesting. Zero means DefaultMaxDepth.
	MaxDepth int
}

// Branch is one matching component and its collection.
type Branch[C comparable, R Record] struct {
	Component C
	Records   []R
}

func (t Tree[C, R]) check() error {
	switch {
	case t.Links == nil:
		return invalidArgument("tree has no links accessor")
	case t.Match == nil:
		return invalidArgument("tree has no component matcher")
	case t.Collection == nil:
		return invalidArgument("tree has no collection accessor")
	case t.MaxDepth < 0:
		return invalidArgument("negative max depth %d", t.MaxDepth)
	}
	return nil
}

// Collect walks the tree below root depth-first, left to right, and returns
// every matching component with its collection in discovery order. A
// component reached a second time through another path is kept at its first
// position. Reaching one of the current node's ancestors again returns a
// *CycleError.
func (t Tree[C, R]) Collect(ctx context.Context, root Node) ([]Branch[C, R], error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if isNil(root) {
		return nil, invalidArgument("root is nil")
	}
	c := &collector[C, R]{
		tree:     t,
		maxDepth: t.MaxDepth,
		index:    make(map[C]struct{}),
		path:     make(map[any]struct{}),
		done:     make(map[any][]C),
	}
	if c.maxDepth == 0 {
		c.maxDepth = DefaultMaxDepth
	}
	if err := c.collect(ctx, root, 0); err != nil {
		return nil, err
	}
	return c.branches, nil
}

type collector[C comparable, R Record] struct {
	tree     Tree[C, R]
	maxDepth int
	branches []Branch[C, R]
	index    map[C]struct{}
	// path holds the ancestors of the node being walked.
	path map[any]struct{}
	// done maps every fully walked container to its matches, so a container
	// shared by several parents is walked once.
	done map[any][]C
}

func (c *collector[C, R]) collect(ctx context.Context, root Node, depth int) error {
	matches, err := c.components(ctx, root, depth)
	if err != nil {
		return err
	}

	for _, comp := range matches {
		if _, ok := c.path[comp]; ok {
			return &CycleError{Node: comp, Depth: depth}
		}
		if _, ok := c.index[comp]; ok {
			continue
		}
		records := c.tree.Collection(comp)
		c.index[comp] = struct{}{}
		c.branches = append(c.branches, Branch[C, R]{Component: comp, Records: records})

		c.path[comp] = struct{}{}
		for _, rec := range records {
			if isNil(rec) {
				continue
			}
			if err := c.collect(ctx, rec, depth+1); err != nil {
				return err
			}
		}
		delete(c.path, comp)
	}
	return nil
}

// components returns the distinct matching components reachable from
// container through links, descending into components that do not match.
func (c *collector[C, R]) components(ctx context.Context, container Node, depth int) ([]C, error) {
	if t := reflect.TypeOf(container); !t.Comparable() {
		return nil, invalidArgument("node of type %s is not comparable", t)
	}
	if matches, ok := c.done[container]; ok {
		return matches, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth > c.maxDepth {
		return nil, fmt.Errorf("%w: deeper than %d levels", ErrMaxDepthExceeded, c.maxDepth)
	}
	if _, ok := c.path[container]; ok {
		return nil, &CycleError{Node: container, Depth: depth}
	}
	c.path[container] = struct{}{}
	defer delete(c.path, container)

	var out []C
	seen := make(map[C]struct{})
	add := func(m C) {
		if _, ok := seen[m]; !ok {
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	for _, link := range c.tree.Links(container) {
		if isNil(link) {
			continue
		}
		comp := link.LinkedComponent()
		if isNil(comp) {
			continue
		}
		if match, ok := c.tree.Match(comp); ok {
			add(match)
			continue
		}
		nested, err := c.components(ctx, comp, depth+1)
		if err != nil {
			return nil, err
		}
		for _, m := range nested {
			add(m)
		}
	}
	c.done[container] = out
	return out, nil
}

// ValidateTree collects every collection of the matching components below
// parent and checks their union for duplicate values of field, so two
// records conflict even when they belong to different components. Records
// discovered earlier are treated as the first occurrence.
func ValidateTree[C comparable, R Record](ctx context.Context, parent Record, tree Tree[C, R], field Field[R], opts Options[R]) (bool, error) {
	if isNil(parent) {
		return false, invalidArgument("parent is nil")
	}
	branches, err := tree.Collect(ctx, parent)
	if err != nil {
		return false, err
	}
	if len(branches) == 0 {
		return true, nil
	}

	d, err := NewDetector(parent, field, opts)
	if err != nil {
		return false, err
	}
	clean := true
	for _, b := range branches {
		ok, err := d.Detect(ctx, b.Records)
		if err != nil {
			return false, err
		}
		if !ok {
			clean = false
		}
	}
	return clean, nil
}
