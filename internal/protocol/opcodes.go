package protocol

// Client → server opcodes.
const (
	OpQuit      byte = 0x0F
	OpLogout    byte = 0x14
	OpPingBack  byte = 0x1D
	OpPing      byte = 0x1E
	OpWalkNorth byte = 0x65
	OpWalkEast  byte = 0x66
	OpWalkSouth byte = 0x67
	OpWalkWest  byte = 0x68
	OpSay       byte = 0x96
)

// Server → client opcodes.
const (
	OpDisconnect      byte = 0x14
	OpSelfAppear      byte = 0x17
	OpServerPing      byte = 0x1D
	OpServerPingBack  byte = 0x1E
	OpChallenge       byte = 0x1F
	OpExtendedAck     byte = 0x32
	OpAddTileThing    byte = 0x6A
	OpRemoveTileThing byte = 0x6C
	OpCreatureMove    byte = 0x6D
	OpCreatureSay     byte = 0xAA
	OpOpenChannel     byte = 0xAC
	OpTextMessage     byte = 0xB4
)

// Speak classes carried by OpSay and OpCreatureSay.
const (
	TalkSay      uint8 = 0x01
	TalkChannelY uint8 = 0x07
)

// MessageInfo is the text message class for server notices.
const MessageInfo uint8 = 0x16

// ChannelCast is the dedicated chat channel shared by a caster's
// spectators.
const ChannelCast uint16 = 0xFFFF

// CastChannelName is the display name of [ChannelCast].
const CastChannelName = "Live Cast Chat"

// Client operating systems as announced in the first message.  Clients
// at or above OSOTClientLinux expect the extended opcode ack.
const (
	OSClientLinux     uint16 = 1
	OSClientWindows   uint16 = 2
	OSOTClientLinux   uint16 = 10
	OSOTClientWindows uint16 = 11
)

// MaxSayLength bounds chat text accepted from clients.
const MaxSayLength = 255

// DisconnectPayload is the frame body that shows reason to the client
// before the connection closes.
func DisconnectPayload(reason string) []byte {
	return NewBuilder(OpDisconnect).AddString(reason).Bytes()
}

// AckPayload is the extended opcode acknowledgement expected by
// OTClient builds.
func AckPayload() []byte {
	return NewBuilder(OpExtendedAck).AddU8(0x00).AddU16(0x0000).Bytes()
}
