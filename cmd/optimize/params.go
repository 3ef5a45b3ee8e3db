// Package main provides CMA-ES calibration of solver contact parameters.
package main

import (
	"math"

	"github.com/pthm-cable/pbd/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
	Integer bool    // Rounded when applied
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of optimizable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Contact
			{Name: "thickness", Path: "groups.thickness", Min: 0.005, Max: 0.15, Default: 0.05},
			{Name: "friction", Path: "groups.friction", Min: 0.0, Max: 1.0, Default: 0.4},
			{Name: "damping", Path: "groups.damping", Min: 0.0, Max: 0.2, Default: 0.01},
			// Solver
			{Name: "iterations", Path: "solver.iterations", Min: 1, Max: 8, Default: 2, Integer: true},
			{Name: "collision_fraction", Path: "proxy.collision_fraction", Min: 0.1, Max: 1.0, Default: 1.0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds. Integer parameters are rounded.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := math.Min(math.Max(v[i], spec.Min), spec.Max)
		if spec.Integer {
			val = math.Round(val)
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.Groups.Thickness = clamped[0]
	cfg.Groups.Friction = clamped[1]
	cfg.Groups.Damping = clamped[2]
	cfg.Solver.Iterations = int(clamped[3])
	cfg.Proxy.CollisionFraction = clamped[4]
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Groups.Thickness,
		cfg.Groups.Friction,
		cfg.Groups.Damping,
		float64(cfg.Solver.Iterations),
		cfg.Proxy.CollisionFraction,
	}
}
