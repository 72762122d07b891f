package cast

import (
	"fmt"
	"sort"
	"sync"

	"castd/internal/errors"
	"castd/internal/metrics"
	"castd/internal/protocol"
	"castd/util"
)

// Hub is the set of spectators attached to one caster and the fan-out
// of the caster's events to them.  It holds spectators without owning
// them; a spectator leaves the hub before it is released.
type Hub struct {
	owner   *Caster
	max     int
	logger  *util.Logger
	metrics *metrics.Collector

	mu      sync.RWMutex
	members map[*Spectator]struct{}
	joined  int
}

func newHub(owner *Caster, max int, logger *util.Logger, m *metrics.Collector) *Hub {
	return &Hub{
		owner:   owner,
		max:     max,
		logger:  logger,
		metrics: m,
		members: make(map[*Spectator]struct{}),
	}
}

// AddSpectator attaches s.  Adding a member again is a no-op; adding to
// a full hub returns [errors.ErrHubFull].
func (h *Hub) AddSpectator(s *Spectator) error {
	h.mu.Lock()
	if _, ok := h.members[s]; ok {
		h.mu.Unlock()
		return nil
	}
	if len(h.members) >= h.max {
		h.mu.Unlock()
		return errors.ErrHubFull
	}
	h.members[s] = struct{}{}
	h.joined++
	number := h.joined
	h.mu.Unlock()

	s.setName(fmt.Sprintf("Spectator %d", number))
	h.metrics.SpectatorAttached()
	h.logger.Verbose("%s joined %s's cast", s.Name(), h.owner.Name())
	return nil
}

// RemoveSpectator detaches s and clears its reference to the caster, so
// no later relay can reach it.  Removing a non-member is a no-op.
func (h *Hub) RemoveSpectator(s *Spectator) {
	h.mu.Lock()
	_, ok := h.members[s]
	delete(h.members, s)
	h.mu.Unlock()

	s.unbind(h.owner)
	if ok {
		h.metrics.SpectatorDetached()
		h.logger.Verbose("%s left %s's cast", s.Name(), h.owner.Name())
	}
}

// Contains reports whether s is attached.
func (h *Hub) Contains(s *Spectator) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.members[s]
	return ok
}

// Len returns the number of attached spectators.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Full reports whether another spectator would be refused.
func (h *Hub) Full() bool {
	return h.Len() >= h.max
}

// Names lists the attached spectators' display names.
func (h *Hub) Names() []string {
	members := h.snapshot()
	names := make([]string, 0, len(members))
	for _, s := range members {
		names = append(names, s.Name())
	}
	sort.Strings(names)
	return names
}

// Relay mirrors one of the caster's frames to every spectator.  Each
// spectator sees frames in the order the caster produced them; there is
// no ordering across spectators.
func (h *Hub) Relay(payload []byte) {
	members := h.snapshot()
	if len(members) == 0 {
		return
	}
	h.metrics.Broadcast()
	for _, s := range members {
		s.deliver(h.owner, payload)
	}
}

// BroadcastMessage posts text from author on every spectator's cast
// channel.
func (h *Hub) BroadcastMessage(author, text string) {
	h.Relay(channelSay(author, protocol.ChannelCast, text))
}

// Teardown disconnects every spectator with reason and empties the hub.
func (h *Hub) Teardown(reason string) {
	h.mu.Lock()
	members := make([]*Spectator, 0, len(h.members))
	for s := range h.members {
		members = append(members, s)
	}
	h.members = make(map[*Spectator]struct{})
	h.mu.Unlock()

	for _, s := range members {
		s.unbind(h.owner)
		h.metrics.SpectatorDetached()
		s.Disconnect(reason)
	}
	if len(members) > 0 {
		h.logger.Verbose("%s's cast ended, %d spectators disconnected", h.owner.Name(), len(members))
	}
}

func (h *Hub) snapshot() []*Spectator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Spectator, 0, len(h.members))
	for s := range h.members {
		out = append(out, s)
	}
	return out
}
