package world

import (
	"slices"
	"sync"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
)

type Options struct {
	VoiceRange float64
	Population PopulationConfig
	Seed       uint64
}

type Manager struct {
	opts Options

	mu     sync.RWMutex
	worlds map[domain.WorldName]core.WorldService
	seq    uint64
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, worlds: make(map[domain.WorldName]core.WorldService)}
}

func (m *Manager) GetOrCreate(name domain.WorldName) core.WorldService {
	m.mu.RLock()
	w, ok := m.worlds[name]
	m.mu.RUnlock()
	if ok {
		return w
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.worlds[name]; ok {
		return w
	}
	m.seq++
	pop := NewPopulation(m.opts.Population, m.opts.Seed+m.seq)
	w = NewWorldService(&domain.World{Name: name, VoiceRange: m.opts.VoiceRange}, pop)
	m.worlds[name] = w
	return w
}

func (m *Manager) Get(name domain.WorldName) (core.WorldService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.worlds[name]
	return w, ok
}

func (m *Manager) All() []core.WorldService {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.WorldService, 0, len(m.worlds))
	for _, w := range m.worlds {
		out = append(out, w)
	}
	return out
}

func (m *Manager) List() []core.WorldInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.WorldInfo, 0, len(m.worlds))
	for name, w := range m.worlds {
		out = append(out, core.WorldInfo{Name: name, MemberCount: w.MemberCount(), BotCount: m.opts.Population.Size})
	}
	slices.SortFunc(out, func(a, b core.WorldInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func (m *Manager) StopWorld(name domain.WorldName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.worlds, name)
}
