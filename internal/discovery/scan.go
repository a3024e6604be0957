package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"lanlink/internal/proto"
)

// Scanner listens for beacons on the discovery port and maintains the
// registry of live hosts. Malformed datagrams are dropped without a word;
// discovery only ever affects eventual visibility.
type Scanner struct {
	cfg      Config
	registry *Registry
	stop     chan struct{}
	done     chan struct{}
}

// StartScanner binds the discovery port and begins collecting beacons.
// SO_REUSEADDR/SO_REUSEPORT allow a host and a peer of this protocol to
// coexist on one machine.
func StartScanner(cfg Config) (*Scanner, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			if network == "udp4" || network == "udp" {
				ctrlErr = c.Control(func(fd uintptr) {
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
					// SO_REUSEPORT is not available everywhere, but it's fine if it fails.
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				})
			}
			return ctrlErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("scan listen: %w", err)
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("scan listen: not a UDPConn")
	}

	s := &Scanner{
		cfg:      cfg,
		registry: NewRegistry(proto.MaxHosts),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	cfg.Logger.Info("discovery: scanning", zap.Int("port", cfg.Port))

	go s.loop(udpConn)
	return s, nil
}

func (s *Scanner) loop(conn *net.UDPConn) {
	defer close(s.done)
	defer conn.Close()

	buf := make([]byte, 1024)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(buf)
		if err == nil {
			if b, ok := proto.ParseBeacon(buf[:n]); ok {
				s.registry.Upsert(b.Name, b.IP, b.Port)
			}
		} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			s.cfg.Logger.Debug("discovery: read failed", zap.Error(err))
		}

		if removed := s.registry.Expire(s.cfg.TTL); removed > 0 {
			s.cfg.Logger.Debug("discovery: expired hosts", zap.Int("count", removed))
		}
	}
}

// Hosts returns a snapshot of the currently visible hosts.
func (s *Scanner) Hosts() []Host {
	return s.registry.Snapshot()
}

// Stop halts the scan loop and waits for it to exit.
func (s *Scanner) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
