package uniqueness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectDepthFirstDiscoveryOrder(t *testing.T) {
	inner := &component{name: "inner"}
	nested := &component{name: "nested"}
	first := &component{name: "first", children: []*child{{Name: "a", links: []Link{link(nested)}}}}
	second := &component{name: "second"}
	p := &parent{links: []Link{
		link(first),
		link(&group{links: []Link{link(inner)}}),
		link(second),
	}}

	branches, err := testTree().Collect(context.Background(), p)
	require.NoError(t, err)

	var names []string
	for _, b := range branches {
		names = append(names, b.Component.name)
	}
	assert.Equal(t, []string{"first", "nested", "inner", "second"}, names)
}

func TestCollectSkipsNilLinksAndComponents(t *testing.T) {
	var missing *component
	only := &component{name: "only"}
	p := &parent{links: []Link{nil, link(nil), link(missing), link(only)}}

	branches, err := testTree().Collect(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Same(t, only, branches[0].Component)
}

func TestCollectSharedComponentOnce(t *testing.T) {
	shared := &component{name: "shared", children: []*child{{Name: "a"}}}
	p := &parent{links: []Link{
		link(&group{links: []Link{link(shared)}}),
		link(&group{links: []Link{link(shared)}}),
	}}

	branches, err := testTree().Collect(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, branches, 1)

	ok, err := ValidateTree(context.Background(), p, testTree(), nameField(), Options[*child]{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCollectWalksSharedContainersOnce(t *testing.T) {
	const levels = 40
	bottom := &component{name: "bottom", children: []*child{{Name: "a"}, {Name: "a"}}}
	var next Node = &group{links: []Link{link(bottom)}}
	for i := 0; i < levels; i++ {
		next = &group{links: []Link{link(next), link(next)}}
	}
	top := &component{name: "top"}
	p := &parent{links: []Link{link(top), link(next)}}

	tree := testTree()
	tree.MaxDepth = levels + 2
	walked := 0
	links := tree.Links
	tree.Links = func(n Node) []Link {
		if _, ok := n.(*group); ok {
			walked++
		}
		return links(n)
	}

	branches, err := tree.Collect(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Same(t, top, branches[0].Component)
	assert.Same(t, bottom, branches[1].Component)
	assert.Equal(t, levels+1, walked)

	ok, err := ValidateTree(context.Background(), p, tree, nameField(), Options[*child]{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{DefaultMessage}, bottom.children[1].errs.On("name"))
}

func TestCollectDetectsCycleThroughWalkedContainer(t *testing.T) {
	comp := &component{name: "loop"}
	shared := &group{links: []Link{link(comp)}}
	comp.children = []*child{{Name: "a", links: []Link{link(shared)}}}
	p := &parent{links: []Link{link(shared)}}

	_, err := testTree().Collect(context.Background(), p)
	require.ErrorIs(t, err, ErrCyclicStructure)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Same(t, comp, cycle.Node)
}

func TestCollectChecksContextWhileDescending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	deep := &group{links: []Link{link(&component{})}}
	p := &parent{links: []Link{link(&group{links: []Link{link(deep)}})}}

	tree := testTree()
	links := tree.Links
	tree.Links = func(n Node) []Link {
		if _, ok := n.(*parent); ok {
			cancel()
		}
		return links(n)
	}

	_, err := tree.Collect(ctx, p)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectDetectsCycleThroughContainers(t *testing.T) {
	g1 := &group{}
	g2 := &group{links: []Link{link(g1)}}
	g1.links = []Link{link(g2)}
	p := &parent{links: []Link{link(g1)}}

	_, err := testTree().Collect(context.Background(), p)
	require.ErrorIs(t, err, ErrCyclicStructure)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Same(t, g1, cycle.Node)
}

func TestCollectDetectsCycleThroughCollection(t *testing.T) {
	comp := &component{name: "loop"}
	c := &child{Name: "a", links: []Link{link(&group{links: []Link{link(comp)}})}}
	comp.children = []*child{c}
	p := &parent{links: []Link{link(comp)}}

	_, err := testTree().Collect(context.Background(), p)
	require.ErrorIs(t, err, ErrCyclicStructure)

	p2 := &parent{links: []Link{link(comp)}}
	ok, err := ValidateTree(context.Background(), p2, testTree(), nameField(), Options[*child]{})
	require.ErrorIs(t, err, ErrCyclicStructure)
	assert.False(t, ok)
	assert.True(t, p2.errs.Empty())
}

func TestCollectMaxDepth(t *testing.T) {
	leaf := &component{name: "leaf"}
	var node Node = leaf
	for i := 0; i < 5; i++ {
		node = &group{links: []Link{link(node)}}
	}
	p := &parent{links: []Link{link(node)}}

	tree := testTree()
	tree.MaxDepth = 3
	_, err := tree.Collect(context.Background(), p)
	require.ErrorIs(t, err, ErrMaxDepthExceeded)

	tree.MaxDepth = 10
	branches, err := tree.Collect(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Same(t, leaf, branches[0].Component)
}

func TestCollectRejectsIncompleteTree(t *testing.T) {
	tree := testTree()
	tree.Match = nil
	_, err := tree.Collect(context.Background(), &parent{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = testTree().Collect(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCollectStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testTree().Collect(ctx, &parent{links: []Link{link(&component{})}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidateTreeNoComponentsIsNoop(t *testing.T) {
	p := &parent{links: []Link{link(&group{})}}

	ok, err := ValidateTree(context.Background(), p, testTree(), nameField(), Options[*child]{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.errs.Empty())
}

func TestValidateTreeMergesAcrossDepths(t *testing.T) {
	deepest := &component{name: "deepest", children: []*child{{Name: "dup", Address: "x"}}}
	middle := &component{name: "middle", children: []*child{{Name: "dup", Address: "x"}}}
	top := &component{name: "top", children: []*child{
		{Name: "dup", Address: "x", links: []Link{link(middle)}},
	}}
	p := &parent{links: []Link{
		link(top),
		link(&group{links: []Link{link(&group{links: []Link{link(deepest)}})}}),
	}}

	ok, err := ValidateTree(context.Background(), p, testTree(), nameField(), Options[*child]{Scope: []Field[*child]{addressField()}})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, top.children[0].errs.Empty())
	assert.Equal(t, []string{DefaultMessage}, middle.children[0].errs.On("name"))
	assert.Equal(t, []string{DefaultMessage}, deepest.children[0].errs.On("name"))
	assert.Equal(t, []string{"Children not valid"}, p.errs.Base())
}

func TestValidateTreeScopeAndCase(t *testing.T) {
	build := func(name, address string) (*parent, *child) {
		c1 := &component{children: []*child{{Name: "sub_container1", Address: "address1"}}}
		dup := &child{Name: name, Address: address}
		c2 := &component{children: []*child{{Name: "sub_container2", Address: "address2"}, dup}}
		return &parent{links: []Link{link(c1), link(c2)}}, dup
	}
	scoped := Options[*child]{Scope: []Field[*child]{addressField()}, CaseInsensitive: true}

	tests := []struct {
		name      string
		record    [2]string
		opts      Options[*child]
		wantValid bool
	}{
		{name: "same parameters", record: [2]string{"sub_container1", "address1"}, opts: scoped, wantValid: false},
		{name: "different parameters", record: [2]string{"sub_container3", "address3"}, opts: scoped, wantValid: true},
		{name: "same name other scope", record: [2]string{"sub_container1", "address3"}, opts: scoped, wantValid: true},
		{name: "same name no scope", record: [2]string{"sub_container1", "address3"}, opts: Options[*child]{CaseInsensitive: true}, wantValid: false},
		{name: "case differs, sensitive", record: [2]string{"SUB_CONTAINER1", "address1"}, opts: Options[*child]{Scope: scoped.Scope}, wantValid: true},
		{name: "case differs, insensitive", record: [2]string{"SUB_CONTAINER1", "address1"}, opts: scoped, wantValid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, dup := build(tt.record[0], tt.record[1])
			ok, err := ValidateTree(context.Background(), p, testTree(), nameField(), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, ok)
			if tt.wantValid {
				assert.Equal(t, 0, p.errs.Count())
				return
			}
			assert.Equal(t, 1, p.errs.Count())
			assert.Equal(t, []string{DefaultMessage}, dup.errs.On("name"))
		})
	}
}

func TestValidateTreePersistedConflict(t *testing.T) {
	store := &memoryStore{rows: []*child{{Name: "sub_container1", Address: "address1", ID: "old-1"}}}
	fresh := &child{Name: "sub_container1", Address: "address1"}
	p := &parent{links: []Link{link(&component{children: []*child{fresh}})}}

	ok, err := ValidateTree(context.Background(), p, testTree(), nameField(), Options[*child]{
		Message: "is already present in top_container",
		Store:   store,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"is already present in top_container"}, fresh.errs.On("name"))
	assert.Equal(t, []string{"Children not valid"}, p.errs.Base())
}

func TestValidateTreeIgnoresRemovedRecords(t *testing.T) {
	c1 := &component{children: []*child{{Name: "a", Removed: true}}}
	c2 := &component{children: []*child{{Name: "a"}}}
	p := &parent{links: []Link{link(c1), link(c2)}}

	ok, err := ValidateTree(context.Background(), p, testTree(), nameField(), Options[*child]{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, c2.children[0].errs.Empty())
}
