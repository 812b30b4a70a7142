package domain

import "github.com/google/uuid"

// DeptForest is the department hierarchy of one organization. Departments
// form a forest: zero or more roots, each a tree by ParentID.
type DeptForest struct {
	children map[uuid.UUID][]uuid.UUID
	nodes    map[uuid.UUID]Department
}

func NewDeptForest(depts []Department) *DeptForest {
	f := &DeptForest{
		children: make(map[uuid.UUID][]uuid.UUID),
		nodes:    make(map[uuid.UUID]Department, len(depts)),
	}
	for _, d := range depts {
		f.nodes[d.ID] = d
		if d.ParentID != nil {
			f.children[*d.ParentID] = append(f.children[*d.ParentID], d.ID)
		}
	}
	return f
}

func (f *DeptForest) Contains(id uuid.UUID) bool {
	_, ok := f.nodes[id]
	return ok
}

// Descendants returns id plus every department below it, depth first.
// Unknown ids return nil.
func (f *DeptForest) Descendants(id uuid.UUID) []uuid.UUID {
	if !f.Contains(id) {
		return nil
	}
	out := []uuid.UUID{id}
	for i := 0; i < len(out); i++ {
		out = append(out, f.children[out[i]]...)
	}
	return out
}

// InSubtree reports whether target is root or one of its descendants.
func (f *DeptForest) InSubtree(root, target uuid.UUID) bool {
	for _, id := range f.Descendants(root) {
		if id == target {
			return true
		}
	}
	return false
}
