package field

import (
	"log/slog"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/parallel"
)

// evalChunk is the smallest sample chunk evaluated on a worker.
const evalChunk = 256

// Source is a collection that commands can be resolved against.
type Source interface {
	NumSamples() int
	SamplePosition(i int) mgl64.Vec3
	// AppendRelevant appends the indices selected by r to dst.
	AppendRelevant(dst []int, r Resolution) []int
	// Passes reports whether index i survives filter f.
	Passes(i int, f Filter) bool
}

// IntegerValue is an integer result for one sample.
type IntegerValue struct {
	Index int
	Value int32
}

// ScalarValue is a scalar result for one sample.
type ScalarValue struct {
	Index int
	Value float64
}

// VectorValue is a vector result for one sample.
type VectorValue struct {
	Index int
	Value mgl64.Vec3
}

// Results are the per-target outputs of one update. Parameter results are
// lists in command order, so a later command overrides an earlier one at the
// same index when applied in order. Forces are dense accumulators.
type Results struct {
	integers [numTargets][]IntegerValue
	scalars  [numTargets][]ScalarValue
	vectors  [numTargets][]VectorValue

	Force  []mgl64.Vec3
	Torque []mgl64.Vec3

	forceTouched bool
}

// Integer returns the integer results for t.
func (r *Results) Integer(t Target) []IntegerValue { return r.integers[t] }

// Scalar returns the scalar results for t.
func (r *Results) Scalar(t Target) []ScalarValue { return r.scalars[t] }

// Vector returns the vector parameter results for t.
func (r *Results) Vector(t Target) []VectorValue { return r.vectors[t] }

// HasForces reports whether any force command wrote into the accumulators.
func (r *Results) HasForces() bool { return r.forceTouched }

// ResetParameters clears every parameter result list.
func (r *Results) ResetParameters() {
	for t := range r.integers {
		r.integers[t] = r.integers[t][:0]
		r.scalars[t] = r.scalars[t][:0]
		r.vectors[t] = r.vectors[t][:0]
	}
}

// ResetForces zeroes the accumulators for n samples.
func (r *Results) ResetForces(n int) {
	r.Force = zeroed(r.Force, n)
	r.Torque = zeroed(r.Torque, n)
	r.forceTouched = false
}

func zeroed(s []mgl64.Vec3, n int) []mgl64.Vec3 {
	if cap(s) < n {
		return make([]mgl64.Vec3, n)
	}
	s = s[:n]
	clear(s)
	return s
}

// System owns queued commands until they are processed or removed. It is not
// safe for concurrent use; the solver goroutine drives it.
type System struct {
	transient  []*Command
	persistent []*Command

	pool              *parallel.Pool
	parallelThreshold int
	logger            *slog.Logger

	indices []int
	samples []Sample
	ints    []int32
	scalars []float64
	vectors []mgl64.Vec3
}

// NewSystem creates a field system. Commands resolving to at least
// parallelThreshold samples are evaluated on pool when it is non-nil.
func NewSystem(pool *parallel.Pool, parallelThreshold int, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{pool: pool, parallelThreshold: parallelThreshold, logger: logger}
}

// AddTransientCommand queues c for a single update.
func (s *System) AddTransientCommand(c *Command) {
	if c == nil {
		return
	}
	c.Lifetime = Transient
	s.transient = append(s.transient, c)
}

// AddPersistentCommand queues c for every update until removed.
func (s *System) AddPersistentCommand(c *Command) {
	if c == nil {
		return
	}
	c.Lifetime = Persistent
	s.persistent = append(s.persistent, c)
}

// AddCommand queues c according to its Lifetime.
func (s *System) AddCommand(c *Command) {
	if c != nil && c.Lifetime == Persistent {
		s.AddPersistentCommand(c)
		return
	}
	s.AddTransientCommand(c)
}

// RemoveTransientCommand removes c if queued.
func (s *System) RemoveTransientCommand(c *Command) {
	s.transient = remove(s.transient, c)
}

// RemovePersistentCommand removes c if queued.
func (s *System) RemovePersistentCommand(c *Command) {
	s.persistent = remove(s.persistent, c)
}

func remove(list []*Command, c *Command) []*Command {
	if i := slices.Index(list, c); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}

// NumTransient returns the number of queued transient commands.
func (s *System) NumTransient() int { return len(s.transient) }

// NumPersistent returns the number of queued persistent commands.
func (s *System) NumPersistent() int { return len(s.persistent) }

// ParameterUpdate resolves and evaluates every parameter command against src
// at solver time now, replacing the parameter results in res. Transient
// parameter commands are consumed.
func (s *System) ParameterUpdate(src Source, now float64, res *Results) {
	res.ResetParameters()
	s.process(src, now, res, false)
}

// ForcesUpdate is ParameterUpdate for force and torque targets. Results are
// summed into zeroed accumulators sized to src.
func (s *System) ForcesUpdate(src Source, now float64, res *Results) {
	res.ResetForces(src.NumSamples())
	s.process(src, now, res, true)
}

// process evaluates persistent commands, then transient ones, each in queue order.
func (s *System) process(src Source, now float64, res *Results, forces bool) {
	s.persistent = s.run(s.persistent, src, now, res, forces)
	s.transient = s.run(s.transient, src, now, res, forces)
}

func (s *System) run(queue []*Command, src Source, now float64, res *Results, forces bool) []*Command {
	keep := queue[:0]
	for _, c := range queue {
		if c.Target.IsForce() != forces || c.Target.Output() == OutputNone {
			keep = append(keep, c)
			continue
		}
		if !c.HasEvaluator() {
			s.logger.Debug("field command dropped", "target", c.Target.String(), "reason", "no evaluator")
			continue
		}
		s.evaluate(src, now, c, res)
		if c.Lifetime == Persistent {
			keep = append(keep, c)
		}
	}
	clear(queue[len(keep):])
	return keep
}

// resolve fills s.indices and s.samples for c.
func (s *System) resolve(src Source, c *Command) {
	s.indices = src.AppendRelevant(s.indices[:0], c.Resolution)
	if c.Filter != FilterAll {
		s.indices = slices.DeleteFunc(s.indices, func(i int) bool {
			return !src.Passes(i, c.Filter)
		})
	}
	s.samples = s.samples[:0]
	for _, i := range s.indices {
		s.samples = append(s.samples, Sample{Index: i, Position: src.SamplePosition(i)})
	}
}

// Resolve returns the indices command c selects from src. It allocates and is
// meant for inspection.
func (s *System) Resolve(src Source, c *Command) []int {
	s.resolve(src, c)
	return slices.Clone(s.indices)
}

func (s *System) evaluate(src Source, now float64, c *Command, res *Results) {
	s.resolve(src, c)
	n := len(s.samples)
	if n == 0 {
		return
	}
	elapsed := now - c.Created

	switch c.Target.Output() {
	case OutputInteger:
		s.ints = grow(s.ints, n)
		s.each(n, elapsed, func(ctx *Context, lo, hi int) {
			c.Integer.EvaluateInteger(ctx, s.ints[lo:hi])
		})
		for k, smp := range s.samples {
			res.integers[c.Target] = append(res.integers[c.Target], IntegerValue{Index: smp.Index, Value: s.ints[k]})
		}

	case OutputScalar:
		s.scalars = grow(s.scalars, n)
		s.each(n, elapsed, func(ctx *Context, lo, hi int) {
			c.Scalar.EvaluateScalar(ctx, s.scalars[lo:hi])
		})
		for k, smp := range s.samples {
			res.scalars[c.Target] = append(res.scalars[c.Target], ScalarValue{Index: smp.Index, Value: s.scalars[k]})
		}

	case OutputVector:
		s.vectors = grow(s.vectors, n)
		s.each(n, elapsed, func(ctx *Context, lo, hi int) {
			c.Vector.EvaluateVector(ctx, s.vectors[lo:hi])
		})
		if !c.Target.IsForce() {
			for k, smp := range s.samples {
				res.vectors[c.Target] = append(res.vectors[c.Target], VectorValue{Index: smp.Index, Value: s.vectors[k]})
			}
			return
		}
		acc := res.Force
		if c.Target == TargetAngularTorque {
			acc = res.Torque
		}
		for k, smp := range s.samples {
			if smp.Index < len(acc) {
				acc[smp.Index] = acc[smp.Index].Add(s.vectors[k])
			}
		}
		res.forceTouched = true
	}
}

// each calls fn over sample chunks, on the pool for large sample sets.
func (s *System) each(n int, elapsed float64, fn func(ctx *Context, lo, hi int)) {
	call := func(lo, hi int) {
		ctx := Context{Time: elapsed, Samples: s.samples[lo:hi]}
		fn(&ctx, lo, hi)
	}
	if s.pool == nil || s.parallelThreshold <= 0 || n < s.parallelThreshold {
		call(0, n)
		return
	}
	s.pool.For(n, evalChunk, call)
}

func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
