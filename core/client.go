package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipmsg-go/ipmsg/logger"
)

// Client wires the codec, registry, heartbeat, supervisor and transfer
// engine around one UDP socket. External layers drive it through the
// command methods and observe it through Subscribe; it has no knowledge
// of UI or persistence.
type Client struct {
	cfg Config
	log logger.Logger

	codec      *Codec
	dispatch   *Dispatcher
	registry   *Registry
	heartbeat  *Heartbeat
	supervisor *Supervisor
	engine     *Engine

	conn     *net.UDPConn
	localIP  net.IP
	bcast    *net.UDPAddr
	packetID atomic.Uint64

	peerTimeout atomic.Int64
	absent      atomic.Bool
}

func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	localIP, err := outboundIP()
	if err != nil {
		return nil, fmt.Errorf("resolving local address: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		codec:   NewCodec(),
		localIP: localIP,
	}
	c.packetID.Store(uint64(time.Now().Unix()))
	c.peerTimeout.Store(int64(cfg.PeerTimeout))

	c.dispatch = NewDispatcher(log)

	local := &Peer{
		Addr:     localIP.String(),
		Port:     cfg.Port,
		Username: cfg.Username,
		Hostname: Hostname(),
		Nickname: cfg.Nickname,
		Groups:   map[string]struct{}{},
	}
	if cfg.Group != "" {
		local.Groups[cfg.Group] = struct{}{}
	}
	c.registry = NewRegistry(local, c.dispatch, log)

	c.heartbeat, err = NewHeartbeat(cfg.HeartbeatInterval, c.registry, c.broadcastPresence, log)
	if err != nil {
		return nil, err
	}

	c.supervisor = NewSupervisor(cfg, c.registry, c.PeerTimeout, log)
	c.engine = NewEngine(cfg, c.dispatch, log, c.sendOffer, c.sendDecline)

	return c, nil
}

// Run binds the UDP socket and drives the receive loop plus the three
// background jobs until ctx is cancelled. Failing to bind is the only
// startup-fatal error; everything after that is contained and reported
// via events.
func (c *Client) Run(ctx context.Context) error {
	if err := c.bind(); err != nil {
		return fmt.Errorf("binding udp socket: %w", err)
	}
	defer c.conn.Close()

	bcast, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.cfg.BroadcastAddr, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return err
	}
	c.bcast = bcast

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receiveLoop(ctx) })
	g.Go(func() error { return c.heartbeat.Run(ctx) })
	g.Go(func() error { return c.supervisor.Run(ctx) })

	err = g.Wait()

	// Best effort: let peers drop us immediately instead of waiting out
	// their timeout.
	if exitErr := c.broadcastExit(); exitErr != nil {
		c.log.WithErr(exitErr).Warn("exit broadcast failed")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) bind() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", c.cfg.Port))
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	if err := conn.SetWriteBuffer(maxPacketSize); err != nil {
		conn.Close()
		return err
	}

	// Reach the fd via SyscallConn rather than File: File switches the
	// socket to blocking mode, which disables the read deadlines the
	// receive loop relies on for shutdown.
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return err
	}

	var sockErr error
	if err := raw.Control(func(fd uintptr) { sockErr = setBroadcast(fd) }); err != nil {
		conn.Close()
		return err
	}
	if sockErr != nil {
		conn.Close()
		return sockErr
	}

	c.conn = conn
	return nil
}

// receiveLoop is the single long-lived UDP reader. Malformed packets are
// dropped and logged; nothing here blocks on transfers or subscribers.
func (c *Client) receiveLoop(ctx context.Context) error {
	buf := make([]byte, maxPacketSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.log.WithErr(err).Warn("udp read failed")
			continue
		}

		// Our own broadcasts echo back from the bound address, or from
		// loopback when the broadcast address points there.
		if src.Port == c.cfg.Port && (src.IP.Equal(c.localIP) || src.IP.IsLoopback()) {
			continue
		}

		pkt, err := c.codec.Decode(buf[:n])
		if err != nil {
			c.log.WithErr(err).WithStr("from", src.String()).Warn("dropping undecodable packet")
			continue
		}

		c.registry.OnPacket(pkt, src.IP.String(), src.Port)
		c.route(pkt, src)
	}
}

func (c *Client) route(pkt *Packet, src *net.UDPAddr) {
	switch pkt.Mode() {
	case CmdBrEntry:
		// Answer unicast so the new peer learns us without waiting for
		// our next heartbeat.
		if err := c.sendTo(c.presencePacket(CmdAnsEntry), src.IP.String()); err != nil {
			c.log.WithErr(err).Warn("entry answer failed")
		}

	case CmdSendMsg:
		if pkt.HasOpt(OptFileAttach) {
			c.engine.OnOffer(pkt, src.IP.String())
			return
		}

		c.dispatch.Emit(MessageReceived{
			From:        src.IP.String(),
			DisplayName: c.displayName(src.IP.String(), pkt.SenderName),
			Content:     pkt.Content,
			PacketID:    pkt.ID,
			At:          time.Now(),
		})

		if pkt.HasOpt(OptSendCheck) {
			ack := c.newPacket(CmdRecvMsg, strconv.FormatUint(pkt.ID, 10))
			if err := c.sendTo(ack, src.IP.String()); err != nil {
				c.log.WithErr(err).Warn("read ack failed")
			}
		}

	case CmdReleaseFile:
		if len(pkt.Extensions) > 0 {
			c.engine.OnDecline(pkt.Extensions[0])
		}
	}
}

// Subscribe exposes the typed event stream; see Dispatcher.Subscribe.
func (c *Client) Subscribe() (<-chan Event, func()) {
	return c.dispatch.Subscribe()
}

// Peers returns a snapshot of the registry.
func (c *Client) Peers() []*Peer {
	return c.registry.Snapshot()
}

// LocalAddr returns the address of the local sentinel peer.
func (c *Client) LocalAddr() string {
	return c.registry.LocalAddr()
}

// HeartbeatTicks reports how many presence broadcasts were attempted.
func (c *Client) HeartbeatTicks() uint64 {
	return c.heartbeat.Ticks()
}

// SendMessage unicasts a chat message to the peer at addr, falling back
// to the legacy charset when the peer has shown no UTF-8 capability. The
// ack-requested flag is set so legacy clients confirm receipt.
func (c *Client) SendMessage(addr, content string) error {
	pkt := c.newPacket(CmdSendMsg|OptSendCheck, content)
	return c.sendTo(pkt, addr)
}

// RequestSend offers the file at path to the peer at addr.
func (c *Client) RequestSend(addr, path string) (*Task, error) {
	return c.engine.RequestSend(addr, path)
}

func (c *Client) Accept(taskID string) error { return c.engine.Accept(taskID) }
func (c *Client) Reject(taskID string) error { return c.engine.Reject(taskID) }
func (c *Client) Cancel(taskID string) error { return c.engine.Cancel(taskID) }
func (c *Client) Pause(taskID string) error  { return c.engine.Pause(taskID) }
func (c *Client) Resume(taskID string) error { return c.engine.Resume(taskID) }

// Task looks up a transfer task by ID.
func (c *Client) Task(taskID string) (*Task, bool) { return c.engine.Task(taskID) }

// Tasks lists all transfer tasks.
func (c *Client) Tasks() []*Task { return c.engine.Tasks() }

// SetHeartbeatInterval reconfigures the heartbeat cadence. The new value
// must stay below the peer timeout; on rejection the previous interval
// remains in effect.
func (c *Client) SetHeartbeatInterval(interval time.Duration) error {
	if interval >= c.PeerTimeout() {
		return fmt.Errorf("%w: heartbeat interval %s must stay below peer timeout %s",
			ErrInvalidConfig, interval, c.PeerTimeout())
	}
	return c.heartbeat.SetInterval(interval)
}

// SetPeerTimeout reconfigures how long a silent peer stays Online. The
// value must exceed the current heartbeat interval.
func (c *Client) SetPeerTimeout(timeout time.Duration) error {
	if timeout <= c.heartbeat.Interval() {
		return fmt.Errorf("%w: peer timeout %s must exceed heartbeat interval %s",
			ErrInvalidConfig, timeout, c.heartbeat.Interval())
	}
	c.peerTimeout.Store(int64(timeout))
	return nil
}

func (c *Client) PeerTimeout() time.Duration {
	return time.Duration(c.peerTimeout.Load())
}

// SetAbsent toggles the self-reported away mode announced by the next
// presence broadcasts.
func (c *Client) SetAbsent(absent bool) {
	c.absent.Store(absent)
}

func (c *Client) nextID() uint64 {
	return c.packetID.Add(1)
}

func (c *Client) newPacket(command uint32, content string) *Packet {
	return &Packet{
		Version:    ProtocolVersion,
		ID:         c.nextID(),
		SenderName: c.cfg.Username,
		SenderHost: c.registry.LocalAddr(),
		Command:    command,
		Content:    content,
	}
}

func (c *Client) presencePacket(mode uint32) *Packet {
	if c.absent.Load() {
		mode = CmdBrAbsence
	}
	content := c.cfg.Nickname + "\x00" + c.cfg.Group
	return c.newPacket(mode, content)
}

// charsetFor picks the outbound charset for a peer: legacy double-byte
// for peers that never flagged UTF-8, canonical UTF-8 otherwise.
func (c *Client) charsetFor(addr string) Charset {
	if peer, ok := c.registry.Get(addr); ok {
		return peer.Charset()
	}
	return CharsetUTF8
}

// sendTo unicasts pkt to the peer at addr, stamping the UTF-8 flag to
// match the charset chosen for that peer.
func (c *Client) sendTo(pkt *Packet, addr string) error {
	cs := c.charsetFor(addr)
	if cs == CharsetUTF8 {
		pkt.Command |= OptUTF8
	}

	port := c.cfg.Port
	if peer, ok := c.registry.Get(addr); ok && peer.Port > 0 {
		port = peer.Port
	}

	dst, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return c.write(pkt, cs, dst)
}

func (c *Client) write(pkt *Packet, cs Charset, dst *net.UDPAddr) error {
	raw, err := c.codec.Encode(pkt, cs)
	if err != nil {
		return err
	}

	_, err = c.conn.WriteToUDP(raw, dst)
	return err
}

// broadcastPresence is the heartbeat's send hook.
func (c *Client) broadcastPresence() error {
	pkt := c.presencePacket(CmdBrEntry)
	pkt.Command |= OptBroadcast | OptUTF8
	return c.write(pkt, CharsetUTF8, c.bcast)
}

func (c *Client) broadcastExit() error {
	pkt := c.newPacket(CmdBrExit|OptBroadcast|OptUTF8, "")
	return c.write(pkt, CharsetUTF8, c.bcast)
}

func (c *Client) sendOffer(peerAddr string, ext []string) error {
	pkt := c.newPacket(CmdSendMsg|OptFileAttach, "")
	pkt.Extensions = ext
	return c.sendTo(pkt, peerAddr)
}

func (c *Client) sendDecline(peerAddr, taskID string) error {
	pkt := c.newPacket(CmdReleaseFile, "")
	pkt.Extensions = []string{taskID}
	return c.sendTo(pkt, peerAddr)
}

func (c *Client) displayName(addr, fallback string) string {
	if peer, ok := c.registry.Get(addr); ok {
		return peer.DisplayName()
	}
	if fallback != "" {
		return fallback
	}
	return addr
}

// outboundIP finds the local address the OS would route LAN traffic
// through; no packets are actually sent.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
