package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrBadPayload = errors.New("proto: malformed payload")

// ChatPayload builds a CHAT payload: "recipient\0message".
// The hub rewrites the first field to the sender's name before forwarding,
// so the same layout serves both directions.
func ChatPayload(name, message string) []byte {
	buf := make([]byte, 0, len(name)+1+len(message))
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = append(buf, message...)
	return buf
}

// ParseChat splits a CHAT payload into its name field and message body.
func ParseChat(payload []byte) (name, message string, err error) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", "", fmt.Errorf("%w: chat missing separator", ErrBadPayload)
	}
	return string(payload[:i]), string(payload[i+1:]), nil
}

// Meta describes one announced file transfer.
type Meta struct {
	Recipient   string
	Filename    string
	TotalChunks uint32
	FileSize    uint64
}

// MetaPayload builds a FILE_META payload:
// "recipient\0filename\0totalChunks(4B)fileSize(8B)".
func MetaPayload(m Meta) []byte {
	buf := make([]byte, 0, len(m.Recipient)+1+len(m.Filename)+1+12)
	buf = append(buf, m.Recipient...)
	buf = append(buf, 0)
	buf = append(buf, m.Filename...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, m.TotalChunks)
	buf = binary.BigEndian.AppendUint64(buf, m.FileSize)
	return buf
}

// ParseMeta decodes a FILE_META payload.
func ParseMeta(payload []byte) (Meta, error) {
	var m Meta
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return m, fmt.Errorf("%w: meta missing recipient", ErrBadPayload)
	}
	rest := payload[i+1:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return m, fmt.Errorf("%w: meta missing filename", ErrBadPayload)
	}
	tail := rest[j+1:]
	if len(tail) != 12 {
		return m, fmt.Errorf("%w: meta trailer is %d bytes, want 12", ErrBadPayload, len(tail))
	}
	m.Recipient = string(payload[:i])
	m.Filename = string(rest[:j])
	m.TotalChunks = binary.BigEndian.Uint32(tail[:4])
	m.FileSize = binary.BigEndian.Uint64(tail[4:])
	return m, nil
}

// Recipient extracts the leading name field of a CHAT or FILE_META payload
// without parsing the rest. The hub uses it to pick a forwarding target.
func Recipient(payload []byte) (string, bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", false
	}
	return string(payload[:i]), true
}

// ChunkPayload builds a FILE_CHUNK payload: xferID(4B) + data.
func ChunkPayload(xferID uint32, data []byte) []byte {
	buf := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(buf, xferID)
	return append(buf, data...)
}

// ParseChunk splits a FILE_CHUNK payload into its transfer id and data.
// The returned data aliases the payload.
func ParseChunk(payload []byte) (xferID uint32, data []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("%w: chunk payload %d bytes, want >=4", ErrBadPayload, len(payload))
	}
	return binary.BigEndian.Uint32(payload[:4]), payload[4:], nil
}

// ControlPayload builds the xferID(4B) payload shared by
// FILE_ACK, FILE_NACK, PAUSE and RESUME.
func ControlPayload(xferID uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, xferID)
	return buf
}

// ParseControl decodes an xferID-only control payload.
func ParseControl(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("%w: control payload %d bytes, want 4", ErrBadPayload, len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// HelloPayload builds a HELLO payload: "name\0".
func HelloPayload(name string) []byte {
	buf := make([]byte, 0, len(name)+1)
	buf = append(buf, name...)
	return append(buf, 0)
}

// ParseHello decodes a HELLO payload. A missing terminator is tolerated,
// matching what the wire has always carried.
func ParseHello(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		return string(payload[:i])
	}
	return string(payload)
}
