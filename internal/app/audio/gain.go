package audio

import (
	"math"
	"sync"
	"time"
)

// falloff is the exponent of the distance curve. Below 1 the volume stays
// audible longer near the edge of the range and drops faster up close.
const falloff = 0.8

// SpatialVolume maps a distance to an output volume in [0, master].
// It reaches 0 at distance >= maxDistance.
func SpatialVolume(distance, maxDistance, master float64) float64 {
	if maxDistance <= 0 {
		return 0
	}
	if distance < 0 {
		distance = 0
	}
	v := 1 - math.Pow(distance/maxDistance, falloff)
	if v < 0 {
		v = 0
	}
	return v * clamp01(master)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Context owns the gain nodes of the output graph. It exists only while
// local audio is enabled.
type Context struct {
	now func() time.Time

	mu     sync.Mutex
	nodes  map[*GainNode]struct{}
	closed bool
}

func NewContext(now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	return &Context{now: now, nodes: make(map[*GainNode]struct{})}
}

func (c *Context) Now() time.Time { return c.now() }

// NewGain returns a node at unity gain. Nil if the context is closed.
func (c *Context) NewGain() *GainNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	g := &GainNode{ctx: c, from: 1, target: 1, start: c.now()}
	c.nodes[g] = struct{}{}
	return g
}

func (c *Context) Nodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects every node. Nodes keep reporting their last value.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	clear(c.nodes)
}

func (c *Context) remove(g *GainNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, g)
}

// GainNode is a volume scalar that approaches its target exponentially,
// like an AudioParam driven by setTargetAtTime.
type GainNode struct {
	ctx *Context

	mu     sync.Mutex
	from   float64
	target float64
	start  time.Time
	tau    time.Duration
}

// Value is the gain at the context's current time.
func (g *GainNode) Value() float64 {
	return g.ValueAt(g.ctx.Now())
}

func (g *GainNode) ValueAt(t time.Time) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valueAtLocked(t)
}

func (g *GainNode) valueAtLocked(t time.Time) float64 {
	if g.tau <= 0 {
		return g.target
	}
	if !t.After(g.start) {
		return g.from
	}
	dt := t.Sub(g.start).Seconds() / g.tau.Seconds()
	return g.target + (g.from-g.target)*math.Exp(-dt)
}

// SetTargetAtTime starts a ramp from the current value at start toward
// target with time constant tau.
func (g *GainNode) SetTargetAtTime(target float64, start time.Time, tau time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.from = g.valueAtLocked(start)
	g.target = target
	g.start = start
	g.tau = tau
}

// SetValue jumps to v immediately.
func (g *GainNode) SetValue(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.from, g.target, g.tau = v, v, 0
}

func (g *GainNode) Target() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// Disconnect detaches the node from its context.
func (g *GainNode) Disconnect() {
	g.ctx.remove(g)
}
