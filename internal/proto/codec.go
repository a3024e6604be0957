package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortHeader     = errors.New("proto: short header")
	ErrPayloadTooLarge = errors.New("proto: payload exceeds 65535 bytes")
	ErrShortPayload    = errors.New("proto: truncated payload")
)

// Marshal serializes a packet into header + payload.
// It fails only when the payload cannot be declared by the length field.
func (p *Packet) Marshal() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.Type
	binary.BigEndian.PutUint32(buf[1:5], p.Seq)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Unmarshal parses a packet from a byte slice. The slice must contain the
// whole packet: a declared length that overruns the slice is a framing error.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortHeader
	}
	plen := int(binary.BigEndian.Uint16(data[5:7]))
	if len(data) < HeaderSize+plen {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrShortPayload, plen, len(data)-HeaderSize)
	}
	p := &Packet{
		Type: data[0],
		Seq:  binary.BigEndian.Uint32(data[1:5]),
	}
	if plen > 0 {
		p.Payload = make([]byte, plen)
		copy(p.Payload, data[HeaderSize:HeaderSize+plen])
	}
	return p, nil
}

// ReadPacket reads exactly one framed packet from r.
// A stream that closes mid-header or mid-payload yields a framing error.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}

	p := &Packet{
		Type: hdr[0],
		Seq:  binary.BigEndian.Uint32(hdr[1:5]),
	}
	plen := int(binary.BigEndian.Uint16(hdr[5:7]))
	if plen > 0 {
		p.Payload = make([]byte, plen)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: declared %d", ErrShortPayload, plen)
			}
			return nil, err
		}
	}
	return p, nil
}

// WritePacket frames and writes one packet to w.
func WritePacket(w io.Writer, p *Packet) error {
	buf, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// IsFramingError reports whether err means the peer's byte stream is no
// longer trustworthy and the connection should be dropped.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrShortHeader) || errors.Is(err, ErrShortPayload)
}
