/*
hierarchy.go - Leave type hierarchy resolution

PURPOSE:
  Leave types form a forest through ParentID. A child's total is capped by
  its parent's available balance, and a type's usage includes the requests
  of its direct children.

TRAVERSAL:
  Ancestors are collected iteratively, leaf to root, with a visited set.
  A type that reappears in its own ancestor chain is corrupt data and
  yields a *generic.CycleError. A ParentID that no longer resolves ends the
  chain: the type is treated as a root.

KIND RESOLUTION:
  Catalogs that still mark compensatory time with a reserved type id are
  wrapped by KindCatalog, which turns the id into KindCompensatory once at
  the boundary. The rest of the engine only looks at Kind.
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CHAIN WALKING
// =============================================================================

// typeLookup is the subset of catalog access the walkers need. The engine
// passes a per-call memoizing view.
type typeLookup interface {
	GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error)
	Children(ctx context.Context, parentID LeaveTypeID) ([]LeaveType, error)
}

// Ancestry returns the chain from the root down to typeID, typeID last.
// The chain is nil when typeID is unknown.
func Ancestry(ctx context.Context, types typeLookup, typeID LeaveTypeID) ([]LeaveType, error) {
	var chain []LeaveType
	visited := make(map[LeaveTypeID]bool)
	path := []string{}

	id := typeID
	for {
		if visited[id] {
			return nil, &generic.CycleError{TypeID: string(id), Path: append(path, string(id))}
		}
		visited[id] = true
		path = append(path, string(id))

		lt, err := types.GetLeaveType(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get leave type %s: %w", id, err)
		}
		if lt == nil {
			break
		}
		chain = append(chain, *lt)
		if lt.ParentID == nil || *lt.ParentID == "" {
			break
		}
		id = *lt.ParentID
	}

	// Reverse to root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Descendants returns every type below rootID, breadth first, rootID excluded.
func Descendants(ctx context.Context, types typeLookup, rootID LeaveTypeID) ([]LeaveType, error) {
	var out []LeaveType
	seen := map[LeaveTypeID]bool{rootID: true}
	queue := []LeaveTypeID{rootID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := types.Children(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("children of %s: %w", id, err)
		}
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	return out, nil
}

// =============================================================================
// KIND CATALOG - Reserved compensatory id to Kind
// =============================================================================

// KindCatalog decorates a catalog so that every type has a Kind: the
// reserved compensatory id becomes KindCompensatory, anything without a Kind
// becomes KindOrdinary.
type KindCatalog struct {
	inner            LeaveTypeCatalog
	compensatoryType LeaveTypeID
}

func NewKindCatalog(inner LeaveTypeCatalog, compensatoryType LeaveTypeID) *KindCatalog {
	return &KindCatalog{inner: inner, compensatoryType: compensatoryType}
}

func (c *KindCatalog) GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error) {
	lt, err := c.inner.GetLeaveType(ctx, id)
	if err != nil || lt == nil {
		return lt, err
	}
	out := c.tag(*lt)
	return &out, nil
}

func (c *KindCatalog) Children(ctx context.Context, parentID LeaveTypeID) ([]LeaveType, error) {
	children, err := c.inner.Children(ctx, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]LeaveType, len(children))
	for i, lt := range children {
		out[i] = c.tag(lt)
	}
	return out, nil
}

// ListLeaveTypes enumerates the inner catalog when it supports listing.
func (c *KindCatalog) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	lister, ok := c.inner.(ListableCatalog)
	if !ok {
		return nil, fmt.Errorf("catalog %T cannot list leave types", c.inner)
	}
	all, err := lister.ListLeaveTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LeaveType, len(all))
	for i, lt := range all {
		out[i] = c.tag(lt)
	}
	return out, nil
}

func (c *KindCatalog) tag(lt LeaveType) LeaveType {
	switch {
	case c.compensatoryType != "" && lt.ID == c.compensatoryType:
		lt.Kind = KindCompensatory
	case lt.Kind == "":
		lt.Kind = KindOrdinary
	}
	return lt
}

// =============================================================================
// MEMOIZED VIEW - One per resolution
// =============================================================================

// catalogView caches lookups for the duration of one resolution, misses
// included, so a chain shared by a type and its prior year is read once.
type catalogView struct {
	inner    LeaveTypeCatalog
	types    map[LeaveTypeID]*LeaveType
	children map[LeaveTypeID][]LeaveType
}

func newCatalogView(inner LeaveTypeCatalog) *catalogView {
	return &catalogView{
		inner:    inner,
		types:    make(map[LeaveTypeID]*LeaveType),
		children: make(map[LeaveTypeID][]LeaveType),
	}
}

func (v *catalogView) GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error) {
	if lt, ok := v.types[id]; ok {
		return lt, nil
	}
	lt, err := v.inner.GetLeaveType(ctx, id)
	if err != nil {
		return nil, err
	}
	v.types[id] = lt
	return lt, nil
}

func (v *catalogView) Children(ctx context.Context, parentID LeaveTypeID) ([]LeaveType, error) {
	if c, ok := v.children[parentID]; ok {
		return c, nil
	}
	c, err := v.inner.Children(ctx, parentID)
	if err != nil {
		return nil, err
	}
	v.children[parentID] = c
	return c, nil
}
