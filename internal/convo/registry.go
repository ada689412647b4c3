package convo

import (
	"sync"

	"github.com/matheus3301/convo/internal/bus"
	"go.uber.org/zap"
)

// Registry hands out one engine per conversation id and closes it when the
// last holder releases it.
type Registry struct {
	agent  Agent
	events EventBus
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	convo *Convo
	refs  int
}

func NewRegistry(agent Agent, eb EventBus, b *bus.Bus, opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	return &Registry{
		agent:   agent,
		events:  eb,
		bus:     b,
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns the engine of convoID, creating and initializing it on
// first use. Every Acquire must be paired with a Release.
func (r *Registry) Acquire(convoID string) *Convo {
	r.mu.Lock()
	e, ok := r.entries[convoID]
	if ok {
		e.refs++
		r.mu.Unlock()
		return e.convo
	}
	c := New(convoID, r.agent, r.events, r.bus, r.opts, r.logger)
	r.entries[convoID] = &registryEntry{convo: c, refs: 1}
	r.mu.Unlock()

	r.logger.Debug("conversation opened", zap.String("convo", convoID))
	c.Init()
	return c
}

// Release drops one reference to convoID and closes its engine with the last.
func (r *Registry) Release(convoID string) {
	r.mu.Lock()
	e, ok := r.entries[convoID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, convoID)
	r.mu.Unlock()

	e.convo.Close()
	r.logger.Debug("conversation closed", zap.String("convo", convoID))
}

// Get returns the open engine of convoID.
func (r *Registry) Get(convoID string) (*Convo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[convoID]
	if !ok {
		return nil, false
	}
	return e.convo, true
}

// Len returns the number of open engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every open engine regardless of references.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.convo.Close()
	}
}
