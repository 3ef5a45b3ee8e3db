package geometry

import "github.com/go-gl/mathgl/mgl64"

// Lanes holds query points and results as parallel component arrays.
// All slices share the same length N.
type Lanes struct {
	X, Y, Z    []float64
	Phi        []float64
	NX, NY, NZ []float64
}

// NewLanes allocates lanes with capacity for n points.
func NewLanes(n int) *Lanes {
	l := &Lanes{}
	l.Resize(n)
	return l
}

// Len returns the number of points in the lanes.
func (l *Lanes) Len() int { return len(l.X) }

// Resize sets the lane length to n, reusing storage when possible.
func (l *Lanes) Resize(n int) {
	l.X = resize(l.X, n)
	l.Y = resize(l.Y, n)
	l.Z = resize(l.Z, n)
	l.Phi = resize(l.Phi, n)
	l.NX = resize(l.NX, n)
	l.NY = resize(l.NY, n)
	l.NZ = resize(l.NZ, n)
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

// EvaluateBatch fills phi and normals for every lane point, using the batch
// query when the shape supports it.
func EvaluateBatch(g Implicit, l *Lanes) {
	if b, ok := g.(BatchImplicit); ok {
		b.PhiWithNormalBatch(l)
		return
	}
	evaluateScalar(g, l)
}

func evaluateScalar(g Implicit, l *Lanes) {
	for i := range l.X {
		phi, n := g.PhiWithNormal(mgl64.Vec3{l.X[i], l.Y[i], l.Z[i]})
		l.Phi[i] = phi
		l.NX[i], l.NY[i], l.NZ[i] = n[0], n[1], n[2]
	}
}
