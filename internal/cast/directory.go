package cast

import (
	"sort"
	"strings"
	"sync"
)

// Info describes a live cast for listings.
type Info struct {
	Name       string   `json:"name"`
	Protected  bool     `json:"protected"`
	Spectators []string `json:"spectators"`
}

// Directory maps online player names to their caster sessions.
type Directory struct {
	mu      sync.RWMutex
	casters map[string]*Caster
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{casters: make(map[string]*Caster)}
}

// Register makes c findable by name.  Names are case-insensitive.
func (d *Directory) Register(name string, c *Caster) {
	d.mu.Lock()
	d.casters[strings.ToLower(name)] = c
	d.mu.Unlock()
}

// Unregister removes name if it still refers to c.
func (d *Directory) Unregister(name string, c *Caster) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(name)
	if d.casters[key] == c {
		delete(d.casters, key)
	}
}

// FindLiveSessionByName returns the session of an online player, or nil.
// The player may or may not be casting.
func (d *Directory) FindLiveSessionByName(name string) *Caster {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.casters[strings.ToLower(name)]
}

// LiveCasts lists the players currently casting, ordered by name.
func (d *Directory) LiveCasts() []Info {
	d.mu.RLock()
	casters := make([]*Caster, 0, len(d.casters))
	for _, c := range d.casters {
		casters = append(casters, c)
	}
	d.mu.RUnlock()

	var out []Info
	for _, c := range casters {
		if info, ok := c.Info(); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the listing of one live cast.
func (d *Directory) Lookup(name string) (Info, bool) {
	c := d.FindLiveSessionByName(name)
	if c == nil {
		return Info{}, false
	}
	return c.Info()
}
