package telemetry

import (
	"log/slog"
	"sort"
)

// StepStats holds aggregated solver statistics for one window of ticks.
type StepStats struct {
	WindowStartTick int64   `csv:"-"`
	WindowEndTick   int64   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Gauges sampled at window end
	Particles       int `csv:"particles"`
	ActiveParticles int `csv:"active_particles"`
	ActiveRanges    int `csv:"active_ranges"`
	Proxies         int `csv:"proxies"`

	// Counters summed over the window
	Contacts int64 `csv:"contacts"`
	CCDHits  int64 `csv:"ccd_hits"`
	Commands int   `csv:"commands"`

	// Particle speed distribution at window end
	SpeedMean float64 `csv:"speed_mean"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`
	SpeedMax  float64 `csv:"speed_max"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lo := int(idx)
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// ComputeSpeedStats returns the mean, median, 90th percentile and maximum of
// values. values is sorted in place.
func ComputeSpeedStats(values []float64) (mean, p50, p90, peak float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	sort.Float64s(values)
	return sum / float64(n), Percentile(values, 0.5), Percentile(values, 0.9), values[n-1]
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("particles", s.Particles),
		slog.Int("active_particles", s.ActiveParticles),
		slog.Int("active_ranges", s.ActiveRanges),
		slog.Int("proxies", s.Proxies),
		slog.Int64("contacts", s.Contacts),
		slog.Int64("ccd_hits", s.CCDHits),
		slog.Int("commands", s.Commands),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("speed_max", s.SpeedMax),
	)
}

// LogStats logs the window at Info level on logger.
func (s StepStats) LogStats(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("steps", "window", s)
}
