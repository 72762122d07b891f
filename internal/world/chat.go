package world

import (
	"sort"
	"sync"

	"castd/internal/errors"
)

// ErrNoChannel is returned for unknown channel ids.
var ErrNoChannel = errors.New("no such channel")

// Channel is a snapshot of a chat channel.  Member and invitee names are
// sorted.
type Channel struct {
	ID      uint16
	Name    string
	Members []string
	Invited []string
}

type channel struct {
	id      uint16
	name    string
	members map[uint32]string
	invited map[uint32]string
}

// Chat stores channels and their memberships.
type Chat struct {
	mu       sync.RWMutex
	channels map[uint16]*channel
}

// NewChat returns a chat directory with no channels.
func NewChat() *Chat {
	return &Chat{channels: make(map[uint16]*channel)}
}

// AddChannel creates a channel, or renames an existing one.
func (c *Chat) AddChannel(id uint16, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[id]; ok {
		ch.name = name
		return
	}
	c.channels[id] = &channel{
		id:      id,
		name:    name,
		members: make(map[uint32]string),
		invited: make(map[uint32]string),
	}
}

// Join adds a player to a channel, consuming any invitation.
func (c *Chat) Join(id uint16, playerID uint32, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return ErrNoChannel
	}
	delete(ch.invited, playerID)
	ch.members[playerID] = name
	return nil
}

// Invite records an invitation for a player.
func (c *Chat) Invite(id uint16, playerID uint32, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return ErrNoChannel
	}
	if _, member := ch.members[playerID]; !member {
		ch.invited[playerID] = name
	}
	return nil
}

// LeaveAll removes a player from every channel and invitation list.
func (c *Chat) LeaveAll(playerID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		delete(ch.members, playerID)
		delete(ch.invited, playerID)
	}
}

// ChannelsFor lists the channels a player is a member of, ordered by
// id.
func (c *Chat) ChannelsFor(playerID uint32) []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Channel
	for _, ch := range c.channels {
		if _, ok := ch.members[playerID]; !ok {
			continue
		}
		out = append(out, Channel{
			ID:      ch.id,
			Name:    ch.name,
			Members: sortedNames(ch.members),
			Invited: sortedNames(ch.invited),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedNames(m map[uint32]string) []string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
