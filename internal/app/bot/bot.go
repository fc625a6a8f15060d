// Package bot holds the stateless movement and chatter rules shared by
// every guardian bot. The population loop that owns the bots lives in the
// world package.
package bot

import (
	"time"

	"github.com/dkeye/proxvoice/internal/domain"
)

// Bot is the kinematic state of one bot.
type Bot struct {
	ID        domain.BotID
	Pos       domain.Vec2
	Vel       domain.Vec2
	Heading   float64
	LastSpoke time.Time
	LastSang  time.Time
}

type Params struct {
	// Center is where a bot without a target drifts back to.
	Center domain.Vec2
	// A target pulls only while its distance is inside [MinBand, MaxBand].
	MinBand float64
	MaxBand float64
	Spring  float64
	Impulse float64
	Damping float64
}

func DefaultParams() Params {
	return Params{
		MinBand: 40,
		MaxBand: 400,
		Spring:  0.002,
		Impulse: 0.2,
		Damping: 0.94,
	}
}

// Step advances b by one tick. A target inside the follow band pulls the
// bot like a spring; otherwise it is pulled toward the world center.
func Step(b Bot, target *domain.Vec2, p Params) Bot {
	anchor := p.Center
	if target != nil {
		if d := b.Pos.Dist(*target); d >= p.MinBand && d <= p.MaxBand {
			anchor = *target
		}
	}
	b.Vel = b.Vel.Add(anchor.Sub(b.Pos).Scale(p.Spring))
	b.Vel = b.Vel.Add(domain.FromAngle(b.Heading).Scale(p.Impulse))
	b.Vel = b.Vel.Scale(p.Damping)
	b.Pos = b.Pos.Add(b.Vel)
	return b
}

// Gate is a time-gated probability roll.
type Gate struct {
	Every  time.Duration
	Chance float64
}

var (
	SpeakGate = Gate{Every: 8 * time.Second, Chance: 0.02}
	SingGate  = Gate{Every: 30 * time.Second, Chance: 0.005}
)

// Open reports whether enough time passed since last and roll, a value in
// [0, 1), falls under the chance.
func (g Gate) Open(now, last time.Time, roll float64) bool {
	return now.Sub(last) >= g.Every && roll < g.Chance
}

func ShouldSpeak(b Bot, now time.Time, roll float64) bool {
	return SpeakGate.Open(now, b.LastSpoke, roll)
}

func ShouldSing(b Bot, now time.Time, roll float64) bool {
	return SingGate.Open(now, b.LastSang, roll)
}
