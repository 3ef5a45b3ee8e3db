// Package cluster holds the transform hierarchy of a fractured collection.
//
// The hierarchy is an arena: transforms are dense indices and parent/child
// links are indices into the same arrays, with -1 meaning no parent.
package cluster

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jinzhu/copier"

	"github.com/pthm-cable/pbd/particles"
)

// None is the parent index of a root transform.
const None = -1

// Transform is a rigid transform.
type Transform struct {
	Rotation    mgl64.Quat
	Translation mgl64.Vec3
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: mgl64.QuatIdent()}
}

// Apply maps a local point into the transform's parent space.
func (t Transform) Apply(p mgl64.Vec3) mgl64.Vec3 {
	return t.Translation.Add(t.Rotation.Rotate(p))
}

// Inverse returns the inverse transform.
func (t Transform) Inverse() Transform {
	inv := t.Rotation.Conjugate()
	return Transform{Rotation: inv, Translation: inv.Rotate(t.Translation).Mul(-1)}
}

// Mul returns t applied after o.
func (t Transform) Mul(o Transform) Transform {
	return Transform{
		Rotation:    t.Rotation.Mul(o.Rotation).Normalize(),
		Translation: t.Apply(o.Translation),
	}
}

// Collection is a transform hierarchy with per-transform simulation data.
// Transforms are in collection space. Leaves carry collision sample points in
// their local frame; cluster transforms are aggregates of their descendants.
type Collection struct {
	Name string

	Transforms     []Transform
	Parent         []int
	Children       [][]int
	Mass           []float64
	Samples        [][]mgl64.Vec3 // Leaf-local collision points
	State          []particles.ObjectState
	CollisionGroup []int32
}

// New creates an empty collection.
func New(name string) *Collection {
	return &Collection{Name: name}
}

// Len returns the number of transforms.
func (c *Collection) Len() int { return len(c.Transforms) }

// AddLeaf appends a leaf transform under parent and returns its index.
func (c *Collection) AddLeaf(t Transform, parent int, mass float64, samples []mgl64.Vec3) int {
	i := c.add(t, parent)
	c.Mass[i] = mass
	c.Samples[i] = samples
	return i
}

// AddCluster appends a cluster transform under parent and returns its index.
// Its mass is the sum of its descendant leaves once they are added.
func (c *Collection) AddCluster(t Transform, parent int) int {
	return c.add(t, parent)
}

func (c *Collection) add(t Transform, parent int) int {
	i := len(c.Transforms)
	c.Transforms = append(c.Transforms, t)
	c.Parent = append(c.Parent, None)
	c.Children = append(c.Children, nil)
	c.Mass = append(c.Mass, 0)
	c.Samples = append(c.Samples, nil)
	c.State = append(c.State, particles.StateDynamic)
	c.CollisionGroup = append(c.CollisionGroup, 0)
	if parent >= 0 && parent < i {
		c.Parent[i] = parent
		c.Children[parent] = append(c.Children[parent], i)
	}
	return i
}

// IsLeaf reports whether transform i has no children.
func (c *Collection) IsLeaf(i int) bool { return len(c.Children[i]) == 0 }

// HierarchyLevel is the number of parent links from i to its root.
func (c *Collection) HierarchyLevel(i int) int {
	level := 0
	for p := c.Parent[i]; p != None; p = c.Parent[p] {
		level++
		if p < 0 || p >= len(c.Parent) || level > len(c.Parent) {
			return -1 // Dangling parent or cycle; Validate reports it
		}
	}
	return level
}

// Roots returns the transforms without a parent.
func (c *Collection) Roots() []int {
	var out []int
	for i, p := range c.Parent {
		if p == None {
			out = append(out, i)
		}
	}
	return out
}

// Leaves appends the leaf descendants of i (i itself if it is a leaf) to dst.
func (c *Collection) Leaves(dst []int, i int) []int {
	if c.IsLeaf(i) {
		return append(dst, i)
	}
	for _, ch := range c.Children[i] {
		dst = c.Leaves(dst, ch)
	}
	return dst
}

// TotalMass returns the mass of i including every descendant leaf.
func (c *Collection) TotalMass(i int) float64 {
	if c.IsLeaf(i) {
		return c.Mass[i]
	}
	m := 0.0
	for _, ch := range c.Children[i] {
		m += c.TotalMass(ch)
	}
	return m
}

// Validate checks that parent and child links agree and contain no cycles.
func (c *Collection) Validate() error {
	n := c.Len()
	var errs []error
	for name, l := range map[string]int{
		"parent": len(c.Parent), "children": len(c.Children), "mass": len(c.Mass),
		"samples": len(c.Samples), "state": len(c.State), "collision_group": len(c.CollisionGroup),
	} {
		if l != n {
			errs = append(errs, fmt.Errorf("%s has %d entries, want %d", name, l, n))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, p := range c.Parent {
		if p != None && (p < 0 || p >= n) {
			errs = append(errs, fmt.Errorf("transform %d: parent %d out of range", i, p))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, p := range c.Parent {
		if p != None && !contains(c.Children[p], i) {
			errs = append(errs, fmt.Errorf("transform %d: not listed as a child of %d", i, p))
		}
		if c.HierarchyLevel(i) < 0 {
			errs = append(errs, fmt.Errorf("transform %d: parent cycle", i))
		}
	}
	for i, children := range c.Children {
		for _, ch := range children {
			if ch < 0 || ch >= n || c.Parent[ch] != i {
				errs = append(errs, fmt.Errorf("transform %d: child %d does not point back", i, ch))
			}
		}
	}
	return errors.Join(errs...)
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Clone returns a deep copy sharing no slices with c.
func (c *Collection) Clone() (*Collection, error) {
	out := &Collection{}
	if err := copier.CopyWithOption(out, c, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("clone collection %q: %w", c.Name, err)
	}
	return out, nil
}
