package world

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dkeye/proxvoice/internal/app/bot"
	"github.com/dkeye/proxvoice/internal/domain"
)

type PopulationConfig struct {
	Size        int
	SpawnRadius float64
	// Wander is the maximum heading change per tick, in radians.
	Wander float64
	Params bot.Params
}

// Population keeps a world's bot count at its configured size and steps
// every bot once per tick.
type Population struct {
	cfg    PopulationConfig
	rng    *rand.Rand
	bots   []bot.Bot
	nextID int
}

func NewPopulation(cfg PopulationConfig, seed uint64) *Population {
	return &Population{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *Population) Len() int { return len(p.bots) }

// Step tops the population up, then moves each bot toward the closest of
// members and rolls its chatter gates.
func (p *Population) Step(now time.Time, members []domain.Vec2) []domain.BotEvent {
	p.fill(now)
	var events []domain.BotEvent
	for i := range p.bots {
		b := &p.bots[i]
		b.Heading += (p.rng.Float64()*2 - 1) * p.cfg.Wander
		*b = bot.Step(*b, closest(b.Pos, members), p.cfg.Params)

		if bot.ShouldSpeak(*b, now, p.rng.Float64()) {
			b.LastSpoke = now
			events = append(events, domain.BotEvent{Bot: b.ID, Kind: domain.BotSpeak})
		}
		if bot.ShouldSing(*b, now, p.rng.Float64()) {
			b.LastSang = now
			events = append(events, domain.BotEvent{Bot: b.ID, Kind: domain.BotSing})
		}
	}
	return events
}

func (p *Population) fill(now time.Time) {
	for len(p.bots) < p.cfg.Size {
		p.nextID++
		angle := p.rng.Float64() * 2 * math.Pi
		r := p.rng.Float64() * p.cfg.SpawnRadius
		p.bots = append(p.bots, bot.Bot{
			ID:        domain.BotID(fmt.Sprintf("guardian-%d", p.nextID)),
			Pos:       p.cfg.Params.Center.Add(domain.FromAngle(angle).Scale(r)),
			Heading:   p.rng.Float64() * 2 * math.Pi,
			LastSpoke: now,
			LastSang:  now,
		})
	}
	if len(p.bots) > p.cfg.Size {
		p.bots = p.bots[:p.cfg.Size]
	}
}

func (p *Population) Snapshot() []domain.BotSnapshot {
	out := make([]domain.BotSnapshot, len(p.bots))
	for i, b := range p.bots {
		out[i] = domain.BotSnapshot{ID: b.ID, Position: b.Pos, Heading: b.Heading}
	}
	return out
}

func closest(from domain.Vec2, candidates []domain.Vec2) *domain.Vec2 {
	var best *domain.Vec2
	bestDist := math.Inf(1)
	for i := range candidates {
		if d := from.Dist(candidates[i]); d < bestDist {
			bestDist = d
			best = &candidates[i]
		}
	}
	return best
}
