// Package client implements the agent side of a session: one TCP
// connection to the hub, a read loop that feeds chat and transfer
// traffic into the right places, and a polled event queue for whatever
// frontend sits on top.
package client

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/netx"
	"lanlink/internal/proto"
	"lanlink/internal/storage/xferbolt"
	"lanlink/internal/transfer"
)

type Config struct {
	Network    netx.Network
	HubAddr    netx.Addr
	Name       string // how this agent registers with the hub
	SaveDir    string // where received files land
	Journal    *xferbolt.Store
	AckTimeout time.Duration
	Logger     *zap.Logger
}

// Agent is one connected participant. Safe for concurrent use.
type Agent struct {
	cfg  Config
	conn netx.Conn

	wmu sync.Mutex // serializes packet writes on the shared connection

	engine *transfer.Engine
	events eventRing

	seq     atomic.Uint32
	closing atomic.Bool
	done    chan struct{}
}

// Dial connects to the hub, registers the agent's name, and starts the
// read loop.
func Dial(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, errors.New("client: empty name")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	conn, err := cfg.Network.Dial(cfg.HubAddr)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:  cfg,
		conn: conn,
		done: make(chan struct{}),
	}
	a.engine = transfer.NewEngine(transfer.Config{
		SaveDir:    cfg.SaveDir,
		AckTimeout: cfg.AckTimeout,
		Journal:    cfg.Journal,
		Logger:     cfg.Logger,
		OnEvent: func(ev transfer.Event) {
			a.events.push(Event{Type: EventTransfer, Transfer: ev})
		},
	})

	hello := &proto.Packet{Type: proto.MsgHello, Payload: proto.HelloPayload(cfg.Name)}
	if err := a.WritePacket(hello); err != nil {
		_ = conn.Close()
		return nil, err
	}
	cfg.Logger.Info("client: joined", zap.String("name", cfg.Name),
		zap.String("hub", string(cfg.HubAddr)))

	go a.readLoop()
	return a, nil
}

// Name returns the name this agent registered with.
func (a *Agent) Name() string { return a.cfg.Name }

// WritePacket sends one framed packet to the hub.
func (a *Agent) WritePacket(p *proto.Packet) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	return proto.WritePacket(a.conn, p)
}

// SendChat sends a chat line to the named peer. An unknown name is
// still delivered: the hub broadcasts it.
func (a *Agent) SendChat(to, message string) error {
	pkt := &proto.Packet{
		Type:    proto.MsgChat,
		Seq:     a.seq.Add(1),
		Payload: proto.ChatPayload(to, message),
	}
	return a.WritePacket(pkt)
}

// SendFile starts a transfer of path to the named peer and returns its
// transfer id.
func (a *Agent) SendFile(path, to string) (uint32, error) {
	return a.engine.SendFile(a, path, to)
}

// Pause suspends a transfer locally and tells the other side.
func (a *Agent) Pause(id uint32) error {
	if err := a.engine.Pause(id); err != nil {
		return err
	}
	return a.WritePacket(&proto.Packet{Type: proto.MsgPause, Payload: proto.ControlPayload(id)})
}

// Resume reactivates a paused transfer and tells the other side.
func (a *Agent) Resume(id uint32) error {
	if err := a.engine.Resume(id); err != nil {
		return err
	}
	return a.WritePacket(&proto.Packet{Type: proto.MsgResume, Payload: proto.ControlPayload(id)})
}

// Transfers returns the current transfer table.
func (a *Agent) Transfers() []transfer.Status { return a.engine.Snapshot() }

// Transfer returns one transfer's status.
func (a *Agent) Transfer(id uint32) (transfer.Status, bool) { return a.engine.Find(id) }

// PollEvent pops the oldest pending event, if any.
func (a *Agent) PollEvent() (Event, bool) { return a.events.poll() }

// DroppedEvents reports how many events were lost to a slow consumer.
func (a *Agent) DroppedEvents() uint64 { return a.events.droppedCount() }

// Done is closed once the read loop exits.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Close says goodbye and tears down the connection.
func (a *Agent) Close() error {
	a.closing.Store(true)
	_ = a.WritePacket(&proto.Packet{Type: proto.MsgBye})
	err := a.conn.Close()
	<-a.done
	return err
}

func (a *Agent) readLoop() {
	defer close(a.done)

	for {
		pkt, err := proto.ReadPacket(a.conn)
		if err != nil {
			if !a.closing.Load() {
				a.cfg.Logger.Warn("client: connection lost", zap.Error(err))
				a.events.push(Event{Type: EventConnLost})
			}
			// In-flight transfers cannot finish without the hub.
			a.engine.FailActive()
			return
		}
		a.handle(pkt)
	}
}

func (a *Agent) handle(pkt *proto.Packet) {
	switch pkt.Type {
	case proto.MsgChat:
		sender, message, err := proto.ParseChat(pkt.Payload)
		if err != nil {
			a.cfg.Logger.Warn("client: malformed chat", zap.Error(err))
			return
		}
		a.events.push(Event{Type: EventChat, From: sender, Message: message})

	case proto.MsgFileMeta:
		a.handleMeta(pkt)

	case proto.MsgFileChunk:
		a.handleChunk(pkt)

	case proto.MsgFileAck, proto.MsgFileNack, proto.MsgPause, proto.MsgResume:
		id, err := proto.ParseControl(pkt.Payload)
		if err != nil {
			a.cfg.Logger.Warn("client: malformed control packet",
				zap.String("type", proto.TypeName(pkt.Type)), zap.Error(err))
			return
		}
		a.engine.Deliver(id, pkt)

	default:
		a.cfg.Logger.Debug("client: ignoring packet",
			zap.String("type", proto.TypeName(pkt.Type)))
	}
}

// handleMeta sets up the receiving side of an announced transfer and
// answers with the readiness ACK or a NACK.
func (a *Agent) handleMeta(pkt *proto.Packet) {
	m, err := proto.ParseMeta(pkt.Payload)
	if err != nil {
		a.cfg.Logger.Warn("client: malformed file meta", zap.Error(err))
		return
	}
	// Broadcast fallback can land someone else's announcement here.
	if m.Recipient != a.cfg.Name {
		return
	}

	id := pkt.Seq
	typ := proto.MsgFileAck
	if err := a.engine.RecvMeta(id, "", m); err != nil {
		a.cfg.Logger.Warn("client: rejecting transfer",
			zap.Uint32("id", id), zap.Error(err))
		typ = proto.MsgFileNack
	}
	a.reply(typ, id, id)
}

// handleChunk writes one incoming chunk and acknowledges it. Chunks for
// transfers this agent is not part of pass silently: they fan out to
// everyone, and only the addressee may speak.
func (a *Agent) handleChunk(pkt *proto.Packet) {
	id, data, err := proto.ParseChunk(pkt.Payload)
	if err != nil {
		a.cfg.Logger.Warn("client: malformed chunk", zap.Error(err))
		return
	}

	err = a.engine.RecvChunk(id, pkt.Seq, data)
	switch {
	case err == nil:
		a.reply(proto.MsgFileAck, pkt.Seq, id)
	case errors.Is(err, transfer.ErrUnknown):
		// Not ours.
	default:
		a.reply(proto.MsgFileNack, pkt.Seq, id)
	}
}

func (a *Agent) reply(typ uint8, seq, id uint32) {
	pkt := &proto.Packet{Type: typ, Seq: seq, Payload: proto.ControlPayload(id)}
	if err := a.WritePacket(pkt); err != nil {
		a.cfg.Logger.Warn("client: reply failed",
			zap.String("type", proto.TypeName(typ)), zap.Error(err))
	}
}
