package collision

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/pbd/geometry"
	"github.com/pthm-cable/pbd/particles"
)

// laneWidth is the number of particles processed per lane batch.
const laneWidth = 256

// scratch holds the component lanes for one batch.
type scratch struct {
	geom *geometry.Lanes

	px, py, pz []float64 // Predicted position
	xx, xy, xz []float64 // Start position
	th, mu     []float64
	eligible   []bool
	match      []bool

	nx, ny, nz []float64 // World normal, zeroed on lanes without contact
	dx, dy, dz []float64 // Object-relative position, then displacement
	sx, sy, sz []float64 // Rotational surface velocity
	pen, w     []float64
	dot, tmp   []float64
	scale      []float64
}

func newScratch(n int) *scratch {
	s := &scratch{geom: geometry.NewLanes(n)}
	s.resize(n)
	return s
}

func (s *scratch) resize(n int) {
	s.geom.Resize(n)
	for _, f := range []*[]float64{
		&s.px, &s.py, &s.pz, &s.xx, &s.xy, &s.xz, &s.th, &s.mu,
		&s.nx, &s.ny, &s.nz, &s.dx, &s.dy, &s.dz, &s.sx, &s.sy, &s.sz,
		&s.pen, &s.w, &s.dot, &s.tmp, &s.scale,
	} {
		if cap(*f) < n {
			*f = make([]float64, n)
		} else {
			*f = (*f)[:n]
		}
	}
	if cap(s.eligible) < n {
		s.eligible = make([]bool, n)
		s.match = make([]bool, n)
	} else {
		s.eligible = s.eligible[:n]
		s.match = s.match[:n]
	}
}

func lane(s []float64) blas64.Vector {
	return blas64.Vector{N: len(s), Data: s, Inc: 1}
}

// ApplyRange resolves collisions for particles [lo, hi) using component lanes.
// It computes the same correction as Apply with fast friction; with the
// deferred model it falls back to Apply per particle.
func (c *Constraint) ApplyRange(p *particles.Buffer, dt float64, lo, hi int) {
	if c.opts.Friction != FrictionFast {
		for i := lo; i < hi; i++ {
			c.Apply(p, dt, i)
		}
		return
	}
	s := c.scratch.Get().(*scratch)
	defer c.scratch.Put(s)

	for start := lo; start < hi; start += laneWidth {
		end := start + laneWidth
		if end > hi {
			end = hi
		}
		c.applyLanes(p, dt, start, end, s)
	}
}

func (c *Constraint) applyLanes(p *particles.Buffer, dt float64, lo, hi int, s *scratch) {
	n := hi - lo
	s.resize(n)

	eligible := false
	for k := 0; k < n; k++ {
		i := lo + k
		s.px[k], s.py[k], s.pz[k] = p.P[i][0], p.P[i][1], p.P[i][2]
		s.xx[k], s.xy[k], s.xz[k] = p.X[i][0], p.X[i][1], p.X[i][2]
		s.th[k], s.mu[k] = c.groupParams(p.Group[i])
		s.eligible[k] = simulated(p, i)
		eligible = eligible || s.eligible[k]
	}
	if !eligible {
		return
	}

	var contacts int64
	for _, j := range c.active {
		geom := c.objects.Geometry[j]
		if geom == nil {
			continue
		}
		matched := false
		for k := 0; k < n; k++ {
			s.match[k] = s.eligible[k] && c.affects(j, p.Group[lo+k])
			matched = matched || s.match[k]
		}
		if !matched {
			continue
		}
		contacts += c.laneObject(j, geom, dt, n, s)
	}

	for k := 0; k < n; k++ {
		p.P[lo+k] = mgl64.Vec3{s.px[k], s.py[k], s.pz[k]}
	}
	if contacts > 0 {
		c.nContacts.Add(contacts)
	}
}

// laneObject resolves every matching lane against object j and returns the
// number of contacts.
func (c *Constraint) laneObject(j int, geom geometry.Implicit, dt float64, n int, s *scratch) int64 {
	q := c.objects.Rotation(j)
	center := c.objects.P[j]
	inv := q.Conjugate().Mat4().Mat3()
	rot := q.Mat4().Mat3()
	l := s.geom

	// Local query points
	blas64.Copy(lane(s.px), lane(s.dx))
	blas64.Copy(lane(s.py), lane(s.dy))
	blas64.Copy(lane(s.pz), lane(s.dz))
	floats.AddConst(-center[0], s.dx)
	floats.AddConst(-center[1], s.dy)
	floats.AddConst(-center[2], s.dz)
	rotate(inv, s.dx, s.dy, s.dz, l.X, l.Y, l.Z)

	geometry.EvaluateBatch(geom, l)

	rotate(rot, l.NX, l.NY, l.NZ, s.nx, s.ny, s.nz)
	floats.SubTo(s.pen, s.th, l.Phi)

	var contacts int64
	for k := 0; k < n; k++ {
		s.w[k] = 0
		local := mgl64.Vec3{l.NX[k], l.NY[k], l.NZ[k]}
		if !s.match[k] || s.pen[k] <= 0 || !geometry.Finite(l.Phi[k]) || !geometry.ValidNormal(local) {
			s.nx[k], s.ny[k], s.nz[k] = 0, 0, 0
			continue
		}
		norm := 1 / math.Sqrt(s.nx[k]*s.nx[k]+s.ny[k]*s.ny[k]+s.nz[k]*s.nz[k])
		s.nx[k] *= norm
		s.ny[k] *= norm
		s.nz[k] *= norm
		s.w[k] = s.pen[k]
		contacts++
	}
	if contacts == 0 {
		return 0
	}

	// Push out along the normal
	addMul(s.px, s.nx, s.w, s.tmp)
	addMul(s.py, s.ny, s.w, s.tmp)
	addMul(s.pz, s.nz, s.w, s.tmp)

	// Rotational surface velocity w x (p - c) at the pushed point
	v := c.objects.V[j]
	omega := c.objects.AngularVelocity(j)
	clear(s.sx)
	clear(s.sy)
	clear(s.sz)
	if omega != (mgl64.Vec3{}) {
		blas64.Copy(lane(s.px), lane(s.dx))
		blas64.Copy(lane(s.py), lane(s.dy))
		blas64.Copy(lane(s.pz), lane(s.dz))
		floats.AddConst(-center[0], s.dx)
		floats.AddConst(-center[1], s.dy)
		floats.AddConst(-center[2], s.dz)
		blas64.Axpy(omega[1], lane(s.dz), lane(s.sx))
		blas64.Axpy(-omega[2], lane(s.dy), lane(s.sx))
		blas64.Axpy(omega[2], lane(s.dx), lane(s.sy))
		blas64.Axpy(-omega[0], lane(s.dz), lane(s.sy))
		blas64.Axpy(omega[0], lane(s.dy), lane(s.sz))
		blas64.Axpy(-omega[1], lane(s.dx), lane(s.sz))
	}

	// Relative displacement over the step
	floats.SubTo(s.dx, s.px, s.xx)
	floats.SubTo(s.dy, s.py, s.xy)
	floats.SubTo(s.dz, s.pz, s.xz)
	floats.AddConst(-v[0]*dt, s.dx)
	floats.AddConst(-v[1]*dt, s.dy)
	floats.AddConst(-v[2]*dt, s.dz)
	blas64.Axpy(-dt, lane(s.sx), lane(s.dx))
	blas64.Axpy(-dt, lane(s.sy), lane(s.dy))
	blas64.Axpy(-dt, lane(s.sz), lane(s.dz))

	// Tangential part
	floats.MulTo(s.dot, s.dx, s.nx)
	floats.Add(s.dot, floats.MulTo(s.tmp, s.dy, s.ny))
	floats.Add(s.dot, floats.MulTo(s.tmp, s.dz, s.nz))
	floats.Sub(s.dx, floats.MulTo(s.tmp, s.nx, s.dot))
	floats.Sub(s.dy, floats.MulTo(s.tmp, s.ny, s.dot))
	floats.Sub(s.dz, floats.MulTo(s.tmp, s.nz, s.dot))

	for k := 0; k < n; k++ {
		s.scale[k] = 0
		if s.w[k] <= 0 {
			continue
		}
		mag := math.Sqrt(s.dx[k]*s.dx[k] + s.dy[k]*s.dy[k] + s.dz[k]*s.dz[k])
		if mag <= frictionEpsilon {
			continue
		}
		s.scale[k] = math.Min(s.w[k]*s.mu[k], mag) / mag
	}

	floats.Sub(s.px, floats.MulTo(s.tmp, s.dx, s.scale))
	floats.Sub(s.py, floats.MulTo(s.tmp, s.dy, s.scale))
	floats.Sub(s.pz, floats.MulTo(s.tmp, s.dz, s.scale))
	return contacts
}

// rotate writes m * (x, y, z) into (ox, oy, oz) lane-wise.
func rotate(m mgl64.Mat3, x, y, z, ox, oy, oz []float64) {
	out := [3][]float64{ox, oy, oz}
	for r := 0; r < 3; r++ {
		floats.ScaleTo(out[r], m.At(r, 0), x)
		floats.AddScaled(out[r], m.At(r, 1), y)
		floats.AddScaled(out[r], m.At(r, 2), z)
	}
}

// addMul computes dst += a * b using tmp as scratch.
func addMul(dst, a, b, tmp []float64) {
	floats.Add(dst, floats.MulTo(tmp, a, b))
}
