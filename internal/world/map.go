// Package world is a small in-memory stand-in for the game simulation:
// accounts, creatures on a map and chat channels.  It provides exactly
// what the session layer consumes.
package world

import (
	"sort"
	"strings"
	"sync"

	"castd/internal/errors"
	"castd/internal/protocol"
)

var (
	// ErrAlreadyOnline is returned when a character logs in twice.
	ErrAlreadyOnline = errors.New("character already online")
	// ErrNoCreature is returned for unknown or removed creature ids.
	ErrNoCreature = errors.New("no such creature")
)

// Kind distinguishes players from monsters.
type Kind uint8

const (
	KindPlayer Kind = iota
	KindMonster
)

// Direction is a walking direction, numbered the way clients do.
type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

// Creature is a snapshot of a creature on the map.
type Creature struct {
	ID        uint32
	Name      string
	Kind      Kind
	Position  protocol.Position
	Health    uint8 // percent
	Direction Direction
}

// Alive reports whether the creature has health left.
func (c Creature) Alive() bool { return c.Health > 0 }

type account struct {
	password string
	playerID uint32
	spawn    protocol.Position
	name     string
}

// Map holds accounts and the creatures currently on the map.
type Map struct {
	mu        sync.RWMutex
	nextID    uint32
	accounts  map[string]*account
	creatures map[uint32]*Creature
}

// Player ids start here; monster ids start at monsterBase.
const (
	playerBase  = 0x10000000
	monsterBase = 0x40000000
)

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{
		nextID:    1,
		accounts:  make(map[string]*account),
		creatures: make(map[uint32]*Creature),
	}
}

// AddAccount registers a character that can log in at spawn.  Names are
// case-insensitive.
func (m *Map) AddAccount(name, password string, spawn protocol.Position) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(name)
	if a, ok := m.accounts[key]; ok {
		a.password, a.spawn = password, spawn
		return a.playerID
	}
	id := playerBase + m.nextID
	m.nextID++
	m.accounts[key] = &account{password: password, playerID: id, spawn: spawn, name: name}
	return id
}

// Authenticate checks credentials and places the character on the map.
func (m *Map) Authenticate(name, password string) (Creature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[strings.ToLower(name)]
	if !ok || a.password != password {
		return Creature{}, errors.ErrAuthFailed
	}
	if _, online := m.creatures[a.playerID]; online {
		return Creature{}, ErrAlreadyOnline
	}
	c := &Creature{
		ID:        a.playerID,
		Name:      a.name,
		Kind:      KindPlayer,
		Position:  a.spawn,
		Health:    100,
		Direction: South,
	}
	m.creatures[c.ID] = c
	return *c, nil
}

// Logout takes a player off the map.
func (m *Map) Logout(id uint32) {
	m.Remove(id)
}

// SpawnMonster places a monster and returns its id.
func (m *Map) SpawnMonster(name string, pos protocol.Position) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := monsterBase + m.nextID
	m.nextID++
	m.creatures[id] = &Creature{ID: id, Name: name, Kind: KindMonster, Position: pos, Health: 100, Direction: South}
	return id
}

// Remove takes any creature off the map.  Unknown ids are ignored.
func (m *Map) Remove(id uint32) {
	m.mu.Lock()
	delete(m.creatures, id)
	m.mu.Unlock()
}

// CreatureByID returns a creature that is still on the map.
func (m *Map) CreatureByID(id uint32) (Creature, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creatures[id]
	if !ok {
		return Creature{}, false
	}
	return *c, true
}

// PlayerByName returns an online player.
func (m *Map) PlayerByName(name string) (Creature, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[strings.ToLower(name)]
	if !ok {
		return Creature{}, false
	}
	c, ok := m.creatures[a.playerID]
	if !ok {
		return Creature{}, false
	}
	return *c, true
}

// CreaturesNear returns the creatures on pos.Z within the given ranges,
// ordered by id.
func (m *Map) CreaturesNear(pos protocol.Position, rangeX, rangeY int) []Creature {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Creature
	for _, c := range m.creatures {
		if c.Position.Z != pos.Z {
			continue
		}
		if abs(int(c.Position.X)-int(pos.X)) <= rangeX && abs(int(c.Position.Y)-int(pos.Y)) <= rangeY {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StackPos is a creature's index on its tile: the ground is 0, then
// creatures in id order.
func (m *Map) StackPos(id uint32) uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.creatures[id]
	if !ok {
		return 0
	}
	pos := uint8(1)
	for _, o := range m.creatures {
		if o.ID < id && o.Position == c.Position {
			pos++
		}
	}
	return pos
}

// Move steps a creature one tile and returns its old and new position.
func (m *Map) Move(id uint32, dir Direction) (from, to protocol.Position, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creatures[id]
	if !ok {
		return from, to, ErrNoCreature
	}
	from = c.Position
	to = from
	switch dir {
	case North:
		to.Y--
	case East:
		to.X++
	case South:
		to.Y++
	case West:
		to.X--
	}
	c.Position = to
	c.Direction = dir
	return from, to, nil
}

// SetHealth changes a creature's health percentage.
func (m *Map) SetHealth(id uint32, health uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creatures[id]
	if !ok {
		return ErrNoCreature
	}
	c.Health = health
	return nil
}

// Online returns the number of players on the map.
func (m *Map) Online() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.creatures {
		if c.Kind == KindPlayer {
			n++
		}
	}
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
