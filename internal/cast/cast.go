// Package cast implements live casting: a player session (the caster)
// whose game view is mirrored to read-only spectator sessions attached
// through a per-caster hub.
package cast

import (
	"castd/internal/metrics"
	"castd/internal/world"
	"castd/util"
)

// Messages shown to clients in disconnect frames.
const (
	MsgCastGone        = "Live cast no longer exists. Please relogin to refresh the list."
	MsgWrongPassword   = "Wrong live cast password."
	MsgCastFull        = "The live cast is full."
	MsgCastEnded       = "Live cast has ended."
	MsgBadCredentials  = "Account name or password is not correct."
	MsgAlreadyOnline   = "You are already logged in."
	MsgTooManyAttempts = "Too many login attempts. Please wait and try again."
)

// DefaultMaxSpectators bounds a hub when no limit is configured.
const DefaultMaxSpectators = 50

// View ranges of the client map window.
const (
	viewRangeX = 8
	viewRangeY = 6
)

// Deps are the collaborators shared by every caster and spectator.
type Deps struct {
	World     *world.Map
	Chat      *world.Chat
	Directory *Directory
	Guard     *Guard
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// MaxSpectators bounds each hub.  Zero means DefaultMaxSpectators.
	MaxSpectators int
	// CastOnLogin starts a public cast as soon as a player logs in.
	CastOnLogin bool
}

func (d *Deps) maxSpectators() int {
	if d.MaxSpectators > 0 {
		return d.MaxSpectators
	}
	return DefaultMaxSpectators
}
