package cluster

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// twoLevel builds root -> {a -> {l0, l1}, l2}.
func twoLevel() *Collection {
	c := New("test")
	root := c.AddCluster(Identity(), None)
	a := c.AddCluster(Identity(), root)
	c.AddLeaf(Identity(), a, 1, []mgl64.Vec3{{0, 0, 0}})
	c.AddLeaf(Identity(), a, 2, []mgl64.Vec3{{1, 0, 0}, {0, 1, 0}})
	c.AddLeaf(Identity(), root, 3, []mgl64.Vec3{{0, 0, 1}})
	return c
}

func TestHierarchyLevel(t *testing.T) {
	c := twoLevel()
	want := []int{0, 1, 2, 2, 1}
	for i, w := range want {
		if got := c.HierarchyLevel(i); got != w {
			t.Errorf("HierarchyLevel(%d) = %d, want %d", i, got, w)
		}
	}

	c.Parent[1] = 9
	if got := c.HierarchyLevel(2); got != -1 {
		t.Errorf("HierarchyLevel with dangling parent = %d, want -1", got)
	}
}

func TestLeavesAndMass(t *testing.T) {
	c := twoLevel()

	leaves := c.Leaves(nil, 0)
	if len(leaves) != 3 || leaves[0] != 2 || leaves[1] != 3 || leaves[2] != 4 {
		t.Errorf("Leaves(root) = %v", leaves)
	}
	if got := c.TotalMass(0); got != 6 {
		t.Errorf("TotalMass(root) = %v, want 6", got)
	}
	if got := c.TotalMass(1); got != 3 {
		t.Errorf("TotalMass(a) = %v, want 3", got)
	}
	if roots := c.Roots(); len(roots) != 1 || roots[0] != 0 {
		t.Errorf("Roots = %v", roots)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Collection)
		wantErr bool
	}{
		{"valid", func(c *Collection) {}, false},
		{"missing child link", func(c *Collection) { c.Children[1] = c.Children[1][:1] }, true},
		{"cycle", func(c *Collection) { c.Parent[0] = 4; c.Children[4] = []int{0} }, true},
		{"short arrays", func(c *Collection) { c.Mass = c.Mass[:2] }, true},
		{"parent out of range", func(c *Collection) { c.Parent[0] = 5 }, true},
		{"negative parent", func(c *Collection) { c.Parent[3] = -7 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := twoLevel()
			tc.mutate(c)
			err := c.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := twoLevel()
	cp, err := c.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	cp.Samples[3][0] = mgl64.Vec3{9, 9, 9}
	cp.Children[0] = append(cp.Children[0], 99)
	cp.Transforms[2].Translation = mgl64.Vec3{5, 0, 0}

	if c.Samples[3][0] != (mgl64.Vec3{1, 0, 0}) {
		t.Error("clone shares sample storage")
	}
	if len(c.Children[0]) != 2 {
		t.Error("clone shares children storage")
	}
	if c.Transforms[2].Translation != (mgl64.Vec3{}) {
		t.Error("clone shares transforms")
	}
	if cp.Name != "test" || cp.Len() != c.Len() {
		t.Errorf("clone lost data: name=%q len=%d", cp.Name, cp.Len())
	}
}

func TestTransformInverse(t *testing.T) {
	tr := Transform{
		Rotation:    mgl64.QuatRotate(0.8, mgl64.Vec3{0, 1, 1}.Normalize()),
		Translation: mgl64.Vec3{1, -2, 3},
	}
	p := mgl64.Vec3{0.3, 0.4, -5}
	back := tr.Inverse().Apply(tr.Apply(p))
	for k := 0; k < 3; k++ {
		if math.Abs(back[k]-p[k]) > 1e-12 {
			t.Fatalf("inverse round trip = %v, want %v", back, p)
		}
	}

	id := tr.Mul(tr.Inverse())
	if id.Translation.Len() > 1e-12 {
		t.Errorf("t * t^-1 translation = %v", id.Translation)
	}
}
