// Package app wires discovery, hub, and agent into one runnable unit.
// A hosting app runs the hub and announcer in-process and joins its own
// hub over loopback, so the host participates like any other peer.
package app

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/client"
	"lanlink/internal/discovery"
	"lanlink/internal/hub"
	"lanlink/internal/netx"
	"lanlink/internal/paths"
	"lanlink/internal/proto"
	"lanlink/internal/storage/xferbolt"
	"lanlink/internal/transfer"
)

type Config struct {
	Name          string // participant name, required
	Host          bool   // run the hub and announcer in-process
	HubAddr       string // join target; empty in join mode means discover
	BindAddr      string // host mode listen address, default ":5557"
	DiscoveryPort int
	SaveDir       string // where received files land
	DataDir       string // journal and state location
	Logger        *zap.Logger
}

// App is one running participant, hosting or joining.
type App struct {
	cfg    Config
	logger *zap.Logger

	hub       *hub.Hub
	agent     *client.Agent
	scanner   *discovery.Scanner
	announcer *discovery.Announcer
	journal   *xferbolt.Store
}

func New(cfg Config) (*App, error) {
	if cfg.Name == "" {
		return nil, errors.New("app: name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DataDir == "" {
		cfg.DataDir = paths.DefaultDataDir()
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = filepath.Join(cfg.DataDir, "received")
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = fmt.Sprintf(":%d", proto.DataPort)
	}
	return &App{cfg: cfg, logger: cfg.Logger}, nil
}

// Start brings everything online. In host mode that is hub + announcer +
// loopback agent; in join mode it is scanner + agent.
func (a *App) Start() error {
	if dir, err := paths.EnsureDir(a.cfg.DataDir); err == nil {
		a.cfg.DataDir = dir
	} else {
		return fmt.Errorf("app: data dir: %w", err)
	}

	// Journal trouble degrades to in-memory transfers, never fatal.
	journal, err := xferbolt.Open(filepath.Join(a.cfg.DataDir, "transfers.db"))
	if err != nil {
		a.logger.Warn("app: journal unavailable, transfers will not resume", zap.Error(err))
	} else {
		a.journal = journal
	}

	dcfg := discovery.DefaultConfig()
	dcfg.Logger = a.logger
	if a.cfg.DiscoveryPort > 0 {
		dcfg.Port = a.cfg.DiscoveryPort
	}

	scanner, err := discovery.StartScanner(dcfg)
	if err != nil {
		a.logger.Warn("app: discovery scan unavailable", zap.Error(err))
	} else {
		a.scanner = scanner
	}

	hubAddr := a.cfg.HubAddr
	if a.cfg.Host {
		h := hub.New(hub.Config{
			Network:  netx.NewTCPNetwork(),
			BindAddr: a.cfg.BindAddr,
			Logger:   a.logger,
		})
		if err := h.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("app: hub: %w", err)
		}
		a.hub = h

		port, err := listenPort(string(h.Addr()))
		if err != nil {
			a.shutdown()
			return fmt.Errorf("app: hub addr: %w", err)
		}
		ann, err := discovery.StartAnnouncer(dcfg, a.cfg.Name, port)
		if err != nil {
			a.logger.Warn("app: announcer unavailable", zap.Error(err))
		} else {
			a.announcer = ann
		}
		hubAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	} else if hubAddr == "" {
		host, err := a.waitForHost(5 * time.Second)
		if err != nil {
			a.shutdown()
			return err
		}
		hubAddr = net.JoinHostPort(host.IP, strconv.Itoa(host.Port))
		a.logger.Info("app: discovered host",
			zap.String("name", host.Name), zap.String("addr", hubAddr))
	}

	agent, err := client.Dial(client.Config{
		Network: netx.NewTCPNetwork(),
		HubAddr: netx.Addr(hubAddr),
		Name:    a.cfg.Name,
		SaveDir: a.cfg.SaveDir,
		Journal: a.journal,
		Logger:  a.logger,
	})
	if err != nil {
		a.shutdown()
		return fmt.Errorf("app: join %s: %w", hubAddr, err)
	}
	a.agent = agent
	return nil
}

// waitForHost polls discovery until a beacon shows up.
func (a *App) waitForHost(timeout time.Duration) (discovery.Host, error) {
	if a.scanner == nil {
		return discovery.Host{}, errors.New("app: no hub address and discovery is unavailable")
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if hosts := a.scanner.Hosts(); len(hosts) > 0 {
			return hosts[0], nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return discovery.Host{}, errors.New("app: no hosts discovered")
}

// Stop tears everything down in dependency order.
func (a *App) Stop() {
	if a.agent != nil {
		_ = a.agent.Close()
		a.agent = nil
	}
	a.shutdown()
}

func (a *App) shutdown() {
	if a.announcer != nil {
		a.announcer.Stop()
		a.announcer = nil
	}
	if a.hub != nil {
		_ = a.hub.Stop()
		a.hub = nil
	}
	if a.scanner != nil {
		a.scanner.Stop()
		a.scanner = nil
	}
	if a.journal != nil {
		_ = a.journal.Close()
		a.journal = nil
	}
}

// Hosts returns the hubs currently visible on the LAN.
func (a *App) Hosts() []discovery.Host {
	if a.scanner == nil {
		return nil
	}
	return a.scanner.Hosts()
}

// Peers returns the names registered on the hub. Only a hosting app can
// see the directory; the wire protocol has no peer-list query.
func (a *App) Peers() []string {
	if a.hub == nil {
		return nil
	}
	return a.hub.PeerNames()
}

func (a *App) SendChat(to, message string) error {
	return a.agent.SendChat(to, message)
}

func (a *App) SendFile(path, to string) (uint32, error) {
	return a.agent.SendFile(path, to)
}

func (a *App) Pause(id uint32) error  { return a.agent.Pause(id) }
func (a *App) Resume(id uint32) error { return a.agent.Resume(id) }

func (a *App) Transfers() []transfer.Status { return a.agent.Transfers() }

func (a *App) PollEvent() (client.Event, bool) { return a.agent.PollEvent() }

// Done is closed when the hub connection is gone.
func (a *App) Done() <-chan struct{} { return a.agent.Done() }

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
