package telemetry

// Gauges are solver quantities sampled when a window is flushed.
type Gauges struct {
	Particles       int
	ActiveParticles int
	ActiveRanges    int
	Proxies         int
}

// Collector accumulates per-step counters within windows of ticks and
// produces StepStats.
type Collector struct {
	windowTicks     int64
	windowStartTick int64

	contacts int64
	ccdHits  int64
	commands int
}

// NewCollector creates a collector flushing every windowTicks ticks.
func NewCollector(windowTicks int) *Collector {
	return &Collector{windowTicks: int64(max(1, windowTicks))}
}

// RecordStep adds one step's collision counters.
func (c *Collector) RecordStep(contacts, ccdHits int64) {
	c.contacts += contacts
	c.ccdHits += ccdHits
}

// RecordCommands counts field commands queued during the window.
func (c *Collector) RecordCommands(n int) {
	c.commands += n
}

// ShouldFlush reports whether a full window has passed at tick.
func (c *Collector) ShouldFlush(tick int64) bool {
	return tick-c.windowStartTick >= c.windowTicks
}

// Flush produces the window's stats and resets the counters. speeds are the
// particle speeds at window end; the slice is sorted in place.
func (c *Collector) Flush(tick int64, simTime float64, g Gauges, speeds []float64) StepStats {
	mean, p50, p90, peak := ComputeSpeedStats(speeds)
	s := StepStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   tick,
		SimTimeSec:      simTime,

		Particles:       g.Particles,
		ActiveParticles: g.ActiveParticles,
		ActiveRanges:    g.ActiveRanges,
		Proxies:         g.Proxies,

		Contacts: c.contacts,
		CCDHits:  c.ccdHits,
		Commands: c.commands,

		SpeedMean: mean,
		SpeedP50:  p50,
		SpeedP90:  p90,
		SpeedMax:  peak,
	}
	c.windowStartTick = tick
	c.contacts = 0
	c.ccdHits = 0
	c.commands = 0
	return s
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int64 { return c.windowTicks }
