package discovery

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/proto"
)

// Config controls discovery timing and addressing.
type Config struct {
	Port     int           // UDP discovery port
	Interval time.Duration // announce period
	TTL      time.Duration // host expiry window
	Logger   *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Port:     proto.DiscoveryPort,
		Interval: 2 * time.Second,
		TTL:      10 * time.Second,
		Logger:   zap.NewNop(),
	}
}

// Announcer broadcasts a beacon for one hub at a fixed interval.
// Announcements are fire-and-forget; nobody ever replies.
type Announcer struct {
	cfg    Config
	beacon []byte
	stop   chan struct{}
	done   chan struct{}
}

// StartAnnouncer begins broadcasting {name, ip, dataPort} beacons.
// It stops within one interval of Stop being called.
func StartAnnouncer(cfg Config, name string, dataPort int) (*Announcer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("announce socket: %w", err)
	}

	a := &Announcer{
		cfg: cfg,
		beacon: proto.MarshalBeacon(proto.Beacon{
			Name:    name,
			IP:      LocalIP(),
			Port:    dataPort,
			Version: proto.BeaconVersion,
		}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	cfg.Logger.Info("discovery: announcing",
		zap.String("name", name), zap.Int("port", dataPort))

	go a.loop(conn)
	return a, nil
}

func (a *Announcer) loop(conn *net.UDPConn) {
	defer close(a.done)
	defer conn.Close()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.send(conn)
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.send(conn)
		}
	}
}

func (a *Announcer) send(conn *net.UDPConn) {
	targets := broadcastAddrs(a.cfg.Port)
	if len(targets) == 0 {
		targets = append(targets, &net.UDPAddr{IP: net.IPv4bcast, Port: a.cfg.Port})
	}
	for _, dst := range targets {
		if _, err := conn.WriteToUDP(a.beacon, dst); err != nil {
			a.cfg.Logger.Debug("discovery: broadcast failed",
				zap.String("dst", dst.String()), zap.Error(err))
		}
	}
}

// Stop halts the announce loop and waits for it to exit.
func (a *Announcer) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
	<-a.done
}
