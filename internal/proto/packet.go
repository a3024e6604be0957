// Package proto defines the lanlink wire format: a fixed 7-byte header
// followed by a variable payload, all integers big-endian.
package proto

// Message types.
const (
	MsgHello     uint8 = 0x01
	MsgChat      uint8 = 0x02
	MsgFileMeta  uint8 = 0x03
	MsgFileChunk uint8 = 0x04
	MsgFileAck   uint8 = 0x05
	MsgFileNack  uint8 = 0x06
	MsgPause     uint8 = 0x07
	MsgResume    uint8 = 0x08
	MsgBye       uint8 = 0x09
)

const (
	// HeaderSize is the fixed header: Type(1) + Seq(4) + PayloadLen(2).
	HeaderSize = 7

	// MaxPayload is the largest payload the 2-byte length field can declare.
	MaxPayload = 65535

	// ChunkSize is the file chunk stride. A chunk packet carries the 4-byte
	// transfer id in front of the data, so the stride is MaxPayload - 4:
	// a full chunk must still fit in one declarable payload.
	ChunkSize = MaxPayload - 4
)

// Shared protocol limits and timing.
const (
	MaxPeers     = 32
	MaxTransfers = 16
	MaxHosts     = 32
	MaxRetries   = 3

	DiscoveryPort = 5556
	DataPort      = 5557
)

// Packet is one framed protocol message.
//
// Seq carries the chunk index for FILE_CHUNK and its echo on FILE_ACK/NACK.
// For FILE_META it carries the transfer id, so both ends share one id from
// the first packet of a transfer. Other types leave it zero.
type Packet struct {
	Type    uint8
	Seq     uint32
	Payload []byte
}

// TypeName returns a short human-readable name for a message type.
func TypeName(t uint8) string {
	switch t {
	case MsgHello:
		return "HELLO"
	case MsgChat:
		return "CHAT"
	case MsgFileMeta:
		return "FILE_META"
	case MsgFileChunk:
		return "FILE_CHUNK"
	case MsgFileAck:
		return "FILE_ACK"
	case MsgFileNack:
		return "FILE_NACK"
	case MsgPause:
		return "PAUSE"
	case MsgResume:
		return "RESUME"
	case MsgBye:
		return "BYE"
	}
	return "UNKNOWN"
}
