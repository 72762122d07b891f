package cast

import (
	"castd/internal/protocol"
	"castd/internal/world"
)

const (
	creatureUnknown uint16 = 0x61
	creatureKnown   uint16 = 0x62
	serverBeat      uint16 = 50
)

func selfAppear(playerID uint32) []byte {
	return protocol.NewBuilder(protocol.OpSelfAppear).
		AddU32(playerID).
		AddU16(serverBeat).
		Bytes()
}

func addCreatureTo(b *protocol.Builder, c world.Creature, pos protocol.Position, stackpos uint8, known bool) {
	b.AddU8(protocol.OpAddTileThing).AddPosition(pos).AddU8(stackpos)
	if known {
		b.AddU16(creatureKnown).AddU32(c.ID)
	} else {
		b.AddU16(creatureUnknown).AddU32(0).AddU32(c.ID).AddString(c.Name)
	}
	b.AddU8(c.Health).AddU8(uint8(c.Direction))
}

func addCreature(c world.Creature, pos protocol.Position, stackpos uint8, known bool) []byte {
	b := &protocol.Builder{}
	addCreatureTo(b, c, pos, stackpos, known)
	return b.Bytes()
}

// addThenRemove introduces c to a client's creature cache by showing it
// on pos and taking it off again in the same frame.
func addThenRemove(c world.Creature, pos protocol.Position, stackpos uint8) []byte {
	b := &protocol.Builder{}
	addCreatureTo(b, c, pos, stackpos, false)
	b.AddU8(protocol.OpRemoveTileThing).AddPosition(pos).AddU8(stackpos)
	return b.Bytes()
}

func creatureMove(from protocol.Position, stackpos uint8, to protocol.Position) []byte {
	return protocol.NewBuilder(protocol.OpCreatureMove).
		AddPosition(from).
		AddU8(stackpos).
		AddPosition(to).
		Bytes()
}

func openChannel(id uint16, name string, members, invited []string) []byte {
	b := protocol.NewBuilder(protocol.OpOpenChannel).AddU16(id).AddString(name)
	b.AddU16(uint16(len(members)))
	for _, m := range members {
		b.AddString(m)
	}
	b.AddU16(uint16(len(invited)))
	for _, m := range invited {
		b.AddString(m)
	}
	return b.Bytes()
}

// channelSay is a chat line on a channel.
func channelSay(author string, channel uint16, text string) []byte {
	return protocol.NewBuilder(protocol.OpCreatureSay).
		AddU32(0).
		AddString(author).
		AddU16(0).
		AddU8(protocol.TalkChannelY).
		AddU16(channel).
		AddString(text).
		Bytes()
}

// creatureSay is a chat line spoken on the map.
func creatureSay(author string, pos protocol.Position, text string) []byte {
	return protocol.NewBuilder(protocol.OpCreatureSay).
		AddU32(0).
		AddString(author).
		AddU16(0).
		AddU8(protocol.TalkSay).
		AddPosition(pos).
		AddString(text).
		Bytes()
}

func textMessage(text string) []byte {
	return protocol.NewBuilder(protocol.OpTextMessage).
		AddU8(protocol.MessageInfo).
		AddString(text).
		Bytes()
}

func ping() []byte     { return []byte{protocol.OpServerPing} }
func pingBack() []byte { return []byte{protocol.OpServerPingBack} }
