// Package netx abstracts the byte-stream transport so the hub and agent
// can be exercised against loopback TCP in tests without touching the
// protocol code.
package netx

import (
	"io"
	"time"
)

type Addr string

// Conn is one reliable byte stream to a peer.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
	SetReadDeadline(t time.Time) error
}

// Network listens for and dials peer connections.
type Network interface {
	Listen(bindAddr string) (listenAddr Addr, err error)
	Accept() (Conn, error)
	Dial(addr Addr) (Conn, error)
	Close() error
}
