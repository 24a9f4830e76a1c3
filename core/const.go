package core

import "time"

const (
	// ProtocolVersion is the wire version tag of the legacy UDP dialect.
	ProtocolVersion uint32 = 1
	VERSION                = "0.1.0"

	// DefaultPort is the UDP port the legacy protocol family listens on.
	DefaultPort          = 2425
	DefaultBroadcastAddr = "255.255.255.255"

	// Transfer ports are allocated from this range, one per active task.
	DefaultPortRangeLo = 8000
	DefaultPortRangeHi = 9000

	DefaultHeartbeatInterval = 60 * time.Second
	DefaultPeerTimeout       = 180 * time.Second
	DefaultTimeoutCheckEvery = 30 * time.Second
	DefaultCleanupEvery      = 300 * time.Second
	DefaultOfflineRetention  = 24 * time.Hour

	MinHeartbeatInterval = 10 * time.Second
	MaxHeartbeatInterval = 600 * time.Second

	// DefaultChunkSize is the size of one TCP write/read cycle of a transfer.
	DefaultChunkSize = 4096

	maxPacketSize = 64 * 1024
)

// Base operations, low byte of the command word. The numeric values mirror
// the legacy protocol and must not be renumbered.
const (
	CmdNoOperation uint32 = 0x00000000
	CmdBrEntry     uint32 = 0x00000001
	CmdBrExit      uint32 = 0x00000002
	CmdAnsEntry    uint32 = 0x00000003
	CmdBrAbsence   uint32 = 0x00000004
	CmdSendMsg     uint32 = 0x00000020
	CmdRecvMsg     uint32 = 0x00000021
	CmdGetFileData uint32 = 0x00000060
	CmdReleaseFile uint32 = 0x00000061
)

// Option flags, high bits of the command word, independent of the base
// operation. Values mirror the legacy protocol.
const (
	OptSendCheck  uint32 = 0x00000100
	OptBroadcast  uint32 = 0x00000400
	OptFileAttach uint32 = 0x00200000
	OptUTF8       uint32 = 0x00800000

	modeMask uint32 = 0x000000FF
	optMask  uint32 = 0xFFFFFF00
)
