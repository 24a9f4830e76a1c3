package core

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipmsg-go/ipmsg/logger"
)

func newTestClient(t *testing.T, port int) (*Client, <-chan Event) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Port = port
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.Username = "self"
	cfg.Nickname = "selfnick"
	cfg.DownloadDir = t.TempDir()

	client, err := NewClient(cfg, logger.Discard())
	require.NoError(t, err)

	events, cancelSub := client.Subscribe()
	t.Cleanup(cancelSub)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	return client, events
}

func testPeerConn(t *testing.T, port int) *net.UDPConn {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)

	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readPacket(t *testing.T, conn *net.UDPConn) *Packet {
	t.Helper()

	buf := make([]byte, maxPacketSize)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	pkt, err := NewCodec().Decode(buf[:n])
	require.NoError(t, err)
	return pkt
}

func TestClientRegistersPeerAndAnswersEntry(t *testing.T) {
	client, _ := newTestClient(t, 43425)
	conn := testPeerConn(t, 43425)

	entry := []byte(fmt.Sprintf("1:1:alice:host-a:%d:ally\x00devs", CmdBrEntry|OptUTF8))
	_, err := conn.Write(entry)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		peer, ok := findPeer(client, "127.0.0.1")
		return ok && peer.Username == "alice" && peer.Presence == PresenceOnline
	}, 2*time.Second, 20*time.Millisecond)

	peer, _ := findPeer(client, "127.0.0.1")
	assert.Equal(t, "ally", peer.Nickname)
	assert.Contains(t, peer.Groups, "devs")

	// The client answers a fresh entry unicast so the peer learns it
	// without waiting for a heartbeat.
	answer := readPacket(t, conn)
	assert.Equal(t, CmdAnsEntry, answer.Mode())
	assert.Equal(t, "self", answer.SenderName)
}

func TestClientEmitsMessageAndAcks(t *testing.T) {
	_, events := newTestClient(t, 43426)
	conn := testPeerConn(t, 43426)

	msg := []byte(fmt.Sprintf("1:77:bob:host-b:%d:hello there", CmdSendMsg|OptSendCheck|OptUTF8))
	_, err := conn.Write(msg)
	require.NoError(t, err)

	var received MessageReceived
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if m, ok := ev.(MessageReceived); ok {
					received = m
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "hello there", received.Content)
	assert.Equal(t, uint64(77), received.PacketID)
	assert.Equal(t, "127.0.0.1", received.From)

	// Ack-requested flag means the client confirms with the packet id.
	ack := readPacket(t, conn)
	assert.Equal(t, CmdRecvMsg, ack.Mode())
	assert.Equal(t, "77", ack.Content)
}

func TestClientSurvivesMalformedPackets(t *testing.T) {
	_, events := newTestClient(t, 43427)
	conn := testPeerConn(t, 43427)

	_, err := conn.Write([]byte("definitely not a packet"))
	require.NoError(t, err)
	_, err = conn.Write([]byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)

	msg := []byte(fmt.Sprintf("1:5:carol:host-c:%d:still alive", CmdSendMsg|OptUTF8))
	_, err = conn.Write(msg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if m, ok := ev.(MessageReceived); ok {
					return m.Content == "still alive"
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientConfigCommands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DownloadDir = t.TempDir()

	client, err := NewClient(cfg, logger.Discard())
	require.NoError(t, err)

	// Timeout must exceed the heartbeat interval; prior value retained.
	err = client.SetPeerTimeout(30 * time.Second)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, DefaultPeerTimeout, client.PeerTimeout())

	require.NoError(t, client.SetPeerTimeout(5*time.Minute))
	assert.Equal(t, 5*time.Minute, client.PeerTimeout())

	// Heartbeat must stay below the timeout and inside its own bounds.
	assert.ErrorIs(t, client.SetHeartbeatInterval(10*time.Minute), ErrInvalidConfig)
	assert.ErrorIs(t, client.SetHeartbeatInterval(5*time.Second), ErrInvalidConfig)
	require.NoError(t, client.SetHeartbeatInterval(2*time.Minute))
}

func TestClientRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 60 * time.Second
	cfg.PeerTimeout = 30 * time.Second

	_, err := NewClient(cfg, logger.Discard())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func findPeer(c *Client, addr string) (*Peer, bool) {
	for _, p := range c.Peers() {
		if p.Addr == addr {
			return p, true
		}
	}
	return nil, false
}
