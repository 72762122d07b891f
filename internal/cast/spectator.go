package cast

import (
	"sort"
	"sync"

	"castd/internal/errors"
	"castd/internal/protocol"
	"castd/internal/session"
	"castd/util"
)

// Spectator is the session variant of a read-only viewer.  It is bound
// to at most one caster; acceptPackets is true exactly while it is.
type Spectator struct {
	deps *Deps

	mu            sync.Mutex
	sess          *session.Session
	caster        *Caster
	acceptPackets bool
	known         map[uint32]struct{}
	name          string
}

// NewSpectator returns the variant for one spectator connection.
func NewSpectator(deps *Deps) *Spectator {
	return &Spectator{deps: deps, known: make(map[uint32]struct{})}
}

// Name is the display name assigned by the hub.
func (sp *Spectator) Name() string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.name == "" {
		return "Spectator"
	}
	return sp.name
}

func (sp *Spectator) setName(name string) {
	sp.mu.Lock()
	sp.name = name
	sp.mu.Unlock()
}

// Caster returns the caster this spectator watches, or nil.
func (sp *Spectator) Caster() *Caster {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.caster
}

// AcceptsPackets reports whether the spectator is attached.
func (sp *Spectator) AcceptsPackets() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.acceptPackets
}

// Session returns the underlying connection, nil before the handshake.
func (sp *Spectator) Session() *session.Session {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.sess
}

func (sp *Spectator) host() string {
	return util.HostOf(sp.Session().RemoteAddr())
}

// ── Variant ──────────────────────────────────────────────────────────

// OnFirstMessage runs the handshake and queues the login.
func (sp *Spectator) OnFirstMessage(s *session.Session, msg *protocol.Message) error {
	sp.mu.Lock()
	sp.sess = s
	sp.mu.Unlock()

	res, err := s.Handshake(msg)
	if err != nil {
		return err
	}
	if err := sp.deps.Guard.Allow(sp.host()); err != nil {
		return errors.Protocol("login", MsgTooManyAttempts, err)
	}

	name, password := res.Name, res.Password
	if !s.Submit(func() { sp.Login(name, password) }) {
		return errors.ErrSessionClosed
	}
	return nil
}

// ParsePacket handles a spectator's opcodes.  Only a quit is honoured
// while unbound; once bound, a dead or removed caster ends the session.
func (sp *Spectator) ParsePacket(s *session.Session, msg *protocol.Message) error {
	sp.mu.Lock()
	accept, c := sp.acceptPackets, sp.caster
	sp.mu.Unlock()

	if !accept || s.Env().ShuttingDown() || msg.Len() == 0 {
		return nil
	}

	op := msg.ReadU8()
	if c == nil {
		if op == protocol.OpQuit {
			s.Close() //nolint:errcheck
		}
		return nil
	}

	if player, ok := c.Player(); !ok || !player.Alive() {
		s.Close() //nolint:errcheck
		return nil
	}

	switch op {
	case protocol.OpLogout:
		s.Submit(sp.Logout)
	case protocol.OpPingBack:
		s.Submit(func() { sp.send(pingBack()) })
	case protocol.OpPing:
		s.Submit(func() { sp.send(ping()) })
	case protocol.OpSay:
		sp.parseSay(s, msg, c)
	}

	if msg.Overrun() {
		return errors.Protocol("parse", "", errors.ErrOverrun)
	}
	return nil
}

func (sp *Spectator) parseSay(s *session.Session, msg *protocol.Message, c *Caster) {
	if msg.ReadU8() != protocol.TalkChannelY {
		return
	}
	channel := msg.ReadU16()
	text := msg.ReadString()
	if msg.Overrun() || channel != protocol.ChannelCast || len(text) > protocol.MaxSayLength {
		return
	}

	author := sp.Name()
	s.Submit(func() { c.BroadcastSpectatorMessage(author, text) })
}

// Release detaches the spectator after its connection closed.
func (sp *Spectator) Release(*session.Session) {
	sp.detach()
}

// ── Login ────────────────────────────────────────────────────────────

// Login attaches the spectator to the cast of the named player.  It
// runs on the dispatcher.
func (sp *Spectator) Login(name, password string) {
	if s := sp.Session(); s == nil || s.Closed() {
		return
	}
	c := sp.deps.Directory.FindLiveSessionByName(name)
	if c == nil || c.Closed() || !c.IsLiveCaster() {
		sp.Disconnect(MsgCastGone)
		return
	}
	player, ok := c.Player()
	if !ok {
		sp.Disconnect(MsgCastGone)
		return
	}
	if !c.CheckPassword(password) {
		sp.deps.Guard.Failure(sp.host())
		sp.Disconnect(MsgWrongPassword)
		return
	}
	sp.deps.Guard.Success(sp.host())
	if c.Hub().Full() {
		sp.Disconnect(MsgCastFull)
		return
	}

	sp.mu.Lock()
	sp.caster = c
	sp.acceptPackets = true
	sp.known[player.ID] = struct{}{}
	sp.mu.Unlock()

	stackpos := sp.deps.World.StackPos(player.ID)
	sp.send(selfAppear(player.ID))
	sp.send(addCreature(player, player.Position, stackpos, false))
	sp.syncKnownCreatureSets()
	sp.syncChatChannels()

	if err := c.Hub().AddSpectator(sp); err != nil {
		sp.Disconnect(MsgCastFull)
		return
	}
	sp.deps.Logger.Info("%s is watching %s", sp.host(), player.Name)
}

// syncKnownCreatureSets introduces every creature the caster knows and
// the spectator does not.  It returns the number introduced; a second
// call without world changes introduces none.
func (sp *Spectator) syncKnownCreatureSets() int {
	c := sp.Caster()
	if c == nil {
		return 0
	}
	player, ok := c.Player()
	if !ok {
		return 0
	}
	stackpos := sp.deps.World.StackPos(player.ID)

	ids := c.KnownCreatures()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	n := 0
	for _, id := range ids {
		creature, ok := sp.deps.World.CreatureByID(id)
		if !ok {
			continue
		}
		sp.mu.Lock()
		_, seen := sp.known[id]
		sp.known[id] = struct{}{}
		sp.mu.Unlock()
		if seen {
			continue
		}
		sp.send(addThenRemove(creature, player.Position, stackpos))
		n++
	}
	return n
}

// syncChatChannels opens the caster's channels and the cast channel.
func (sp *Spectator) syncChatChannels() {
	c := sp.Caster()
	if c == nil {
		return
	}
	if player, ok := c.Player(); ok {
		for _, ch := range sp.deps.Chat.ChannelsFor(player.ID) {
			sp.send(openChannel(ch.ID, ch.Name, ch.Members, ch.Invited))
		}
	}
	sp.send(openChannel(protocol.ChannelCast, protocol.CastChannelName, nil, nil))
}

// ── Detach ───────────────────────────────────────────────────────────

// Logout leaves the cast and closes the connection.
func (sp *Spectator) Logout() {
	sp.detach()
	if s := sp.Session(); s != nil {
		s.Close() //nolint:errcheck
	}
}

// Disconnect leaves the cast, shows reason to the client and closes the
// connection.  It is safe on a spectator that never attached.
func (sp *Spectator) Disconnect(reason string) {
	sp.detach()
	if s := sp.Session(); s != nil {
		s.Disconnect(reason)
	}
}

func (sp *Spectator) detach() {
	sp.mu.Lock()
	c := sp.caster
	sp.caster = nil
	sp.acceptPackets = false
	sp.mu.Unlock()

	if c != nil {
		c.Hub().RemoveSpectator(sp)
	}
}

// unbind clears the caster reference if it still points at owner.
func (sp *Spectator) unbind(owner *Caster) {
	sp.mu.Lock()
	if sp.caster == owner {
		sp.caster = nil
		sp.acceptPackets = false
	}
	sp.mu.Unlock()
}

// deliver sends a relayed frame if the spectator is still attached to
// owner.
func (sp *Spectator) deliver(owner *Caster, payload []byte) bool {
	sp.mu.Lock()
	ok := sp.acceptPackets && sp.caster == owner
	s := sp.sess
	sp.mu.Unlock()

	if !ok || s == nil {
		return false
	}
	return s.Send(payload) == nil
}

func (sp *Spectator) send(payload []byte) {
	if s := sp.Session(); s != nil {
		s.Send(payload) //nolint:errcheck
	}
}
