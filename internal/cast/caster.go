package cast

import (
	"strings"
	"sync"

	"castd/internal/errors"
	"castd/internal/protocol"
	"castd/internal/session"
	"castd/internal/world"
	"castd/util"
)

// Caster is the session variant of a logged-in player.  Every event it
// sends to its own client is mirrored to its hub while it is casting.
type Caster struct {
	deps *Deps
	hub  *Hub

	mu       sync.Mutex
	sess     *session.Session
	playerID uint32
	name     string
	loggedIn bool
	live     bool
	password string
	known    map[uint32]struct{}
}

// NewCaster returns the variant for one player connection.
func NewCaster(deps *Deps) *Caster {
	c := &Caster{deps: deps, known: make(map[uint32]struct{})}
	c.hub = newHub(c, deps.maxSpectators(), deps.Logger.Named("hub"), deps.Metrics)
	return c
}

// ── Accessors ────────────────────────────────────────────────────────

// Hub returns the caster's spectator hub.
func (c *Caster) Hub() *Hub { return c.hub }

// Name is the player name, empty before login.
func (c *Caster) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Player returns the player's creature while it is on the map.
func (c *Caster) Player() (world.Creature, bool) {
	c.mu.Lock()
	id, ok := c.playerID, c.loggedIn
	c.mu.Unlock()
	if !ok {
		return world.Creature{}, false
	}
	return c.deps.World.CreatureByID(id)
}

// IsLiveCaster reports whether spectators may attach.
func (c *Caster) IsLiveCaster() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live && c.loggedIn
}

// CheckPassword reports whether password opens the cast.  An empty cast
// password admits everyone.
func (c *Caster) CheckPassword(password string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.password == "" || c.password == password
}

// KnownCreatures returns the ids of creatures the caster's client has
// been shown.
func (c *Caster) KnownCreatures() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.known))
	for id := range c.known {
		ids = append(ids, id)
	}
	return ids
}

// Closed reports whether the caster's connection has ended.
func (c *Caster) Closed() bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	return s == nil || s.Closed()
}

// Info describes the cast for listings.  ok is false when not casting.
func (c *Caster) Info() (Info, bool) {
	c.mu.Lock()
	live, name, protected := c.live && c.loggedIn, c.name, c.password != ""
	c.mu.Unlock()
	if !live {
		return Info{}, false
	}
	return Info{Name: name, Protected: protected, Spectators: c.hub.Names()}, true
}

// ── Variant ──────────────────────────────────────────────────────────

// OnFirstMessage runs the handshake and queues the login.
func (c *Caster) OnFirstMessage(s *session.Session, msg *protocol.Message) error {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	res, err := s.Handshake(msg)
	if err != nil {
		return err
	}
	if err := c.deps.Guard.Allow(c.host()); err != nil {
		return errors.Protocol("login", MsgTooManyAttempts, err)
	}

	name, password := res.Name, res.Password
	if !s.Submit(func() { c.Login(name, password) }) {
		return errors.ErrSessionClosed
	}
	return nil
}

// ParsePacket handles the player opcodes this server understands.
func (c *Caster) ParsePacket(s *session.Session, msg *protocol.Message) error {
	player, ok := c.Player()
	if !ok || s.Env().ShuttingDown() || msg.Len() == 0 {
		return nil
	}
	if !player.Alive() {
		s.Close() //nolint:errcheck
		return nil
	}

	switch op := msg.ReadU8(); op {
	case protocol.OpLogout:
		s.Submit(c.Logout)
	case protocol.OpPingBack:
		// answer to our ping, nothing to do
	case protocol.OpPing:
		s.Submit(func() { c.sendOwn(pingBack()) })
	case protocol.OpWalkNorth, protocol.OpWalkEast, protocol.OpWalkSouth, protocol.OpWalkWest:
		dir := world.Direction(op - protocol.OpWalkNorth)
		s.Submit(func() { c.walk(dir) })
	case protocol.OpSay:
		typ := msg.ReadU8()
		var channel uint16
		if typ == protocol.TalkChannelY {
			channel = msg.ReadU16()
		}
		text := msg.ReadString()
		if !msg.Overrun() && len(text) <= protocol.MaxSayLength {
			s.Submit(func() { c.say(typ, channel, text) })
		}
	}

	if msg.Overrun() {
		return errors.Protocol("parse", "", errors.ErrOverrun)
	}
	return nil
}

// Release logs the player out and ends the cast.
func (c *Caster) Release(*session.Session) {
	c.mu.Lock()
	wasLoggedIn, id, name := c.loggedIn, c.playerID, c.name
	c.loggedIn = false
	c.live = false
	c.mu.Unlock()

	if wasLoggedIn {
		c.deps.Directory.Unregister(name, c)
		c.deps.World.Logout(id)
		c.deps.Logger.Info("%s logged out", name)
	}
	c.hub.Teardown(MsgCastEnded)
}

// ── Login ────────────────────────────────────────────────────────────

// Login authenticates the player and sends the initial view.  It runs
// on the dispatcher.
func (c *Caster) Login(name, password string) {
	s := c.session()
	if s == nil || s.Closed() {
		return
	}

	player, err := c.deps.World.Authenticate(name, password)
	switch {
	case errors.Is(err, world.ErrAlreadyOnline):
		s.Disconnect(MsgAlreadyOnline)
		return
	case err != nil:
		c.deps.Guard.Failure(c.host())
		s.Disconnect(MsgBadCredentials)
		return
	}
	c.deps.Guard.Success(c.host())

	c.mu.Lock()
	c.playerID = player.ID
	c.name = player.Name
	c.loggedIn = true
	c.mu.Unlock()
	c.deps.Directory.Register(player.Name, c)

	s.Send(selfAppear(player.ID)) //nolint:errcheck
	for _, cr := range c.deps.World.CreaturesNear(player.Position, viewRangeX, viewRangeY) {
		c.markKnown(cr.ID)
		s.Send(addCreature(cr, cr.Position, c.deps.World.StackPos(cr.ID), false)) //nolint:errcheck
	}
	for _, ch := range c.deps.Chat.ChannelsFor(player.ID) {
		s.Send(openChannel(ch.ID, ch.Name, ch.Members, ch.Invited)) //nolint:errcheck
	}
	c.deps.Logger.Info("%s logged in from %s", player.Name, c.host())

	if c.deps.CastOnLogin {
		c.StartCast("")
	}
}

// Logout closes the player's connection.
func (c *Caster) Logout() {
	if s := c.session(); s != nil {
		s.Close() //nolint:errcheck
	}
}

// ── Casting ──────────────────────────────────────────────────────────

// StartCast lets spectators attach.  An empty password makes the cast
// public.
func (c *Caster) StartCast(password string) {
	c.mu.Lock()
	c.live = true
	c.password = password
	name := c.name
	c.mu.Unlock()

	c.sendOwn(openChannel(protocol.ChannelCast, protocol.CastChannelName, nil, nil))
	c.sendOwn(textMessage("You have started live casting."))
	c.deps.Logger.Info("%s started casting (protected=%v)", name, password != "")
}

// StopCast detaches every spectator.
func (c *Caster) StopCast() {
	c.mu.Lock()
	c.live = false
	c.password = ""
	name := c.name
	c.mu.Unlock()

	c.hub.Teardown(MsgCastEnded)
	c.sendOwn(textMessage("You have stopped live casting."))
	c.deps.Logger.Info("%s stopped casting", name)
}

// BroadcastSpectatorMessage posts text on the cast channel of the
// caster and of every spectator.
func (c *Caster) BroadcastSpectatorMessage(author, text string) {
	c.sendOwn(channelSay(author, protocol.ChannelCast, text))
	c.hub.BroadcastMessage(author, text)
}

// ── Events ───────────────────────────────────────────────────────────

func (c *Caster) walk(dir world.Direction) {
	player, ok := c.Player()
	if !ok {
		return
	}
	stackpos := c.deps.World.StackPos(player.ID)
	from, to, err := c.deps.World.Move(player.ID, dir)
	if err != nil {
		return
	}
	c.write(creatureMove(from, stackpos, to))
}

func (c *Caster) say(typ uint8, channel uint16, text string) {
	player, ok := c.Player()
	if !ok {
		return
	}

	switch {
	case typ == protocol.TalkSay && strings.HasPrefix(text, "!cast"):
		c.command(strings.Fields(text)[1:])
	case typ == protocol.TalkChannelY && channel == protocol.ChannelCast:
		if c.IsLiveCaster() {
			c.BroadcastSpectatorMessage(player.Name, text)
		}
	case typ == protocol.TalkChannelY:
		c.write(channelSay(player.Name, channel, text))
	default:
		c.write(creatureSay(player.Name, player.Position, text))
	}
}

func (c *Caster) command(args []string) {
	if len(args) == 0 {
		c.sendOwn(textMessage("Usage: !cast on [password] | !cast off"))
		return
	}
	switch args[0] {
	case "on":
		password := ""
		if len(args) > 1 {
			password = args[1]
		}
		c.StartCast(password)
	case "off":
		c.StopCast()
	default:
		c.sendOwn(textMessage("Usage: !cast on [password] | !cast off"))
	}
}

// write sends an event to the caster's client and mirrors it to the
// hub.
func (c *Caster) write(payload []byte) {
	c.sendOwn(payload)
	c.hub.Relay(payload)
}

func (c *Caster) sendOwn(payload []byte) {
	if s := c.session(); s != nil {
		s.Send(payload) //nolint:errcheck
	}
}

func (c *Caster) markKnown(id uint32) {
	c.mu.Lock()
	c.known[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Caster) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Caster) host() string {
	if s := c.session(); s != nil {
		return util.HostOf(s.RemoteAddr())
	}
	return ""
}
