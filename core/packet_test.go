package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePresence(t *testing.T) {
	c := NewCodec()

	pkt, err := c.Decode([]byte("1:42:alice:host-a:1:"))
	require.NoError(t, err)

	assert.Equal(t, uint32(1), pkt.Version)
	assert.Equal(t, uint64(42), pkt.ID)
	assert.Equal(t, "alice", pkt.SenderName)
	assert.Equal(t, "host-a", pkt.SenderHost)
	assert.Equal(t, CmdBrEntry, pkt.Mode())
	assert.Empty(t, pkt.Content)
	assert.Empty(t, pkt.Extensions)
}

func TestDecodeContentKeepsDelimiters(t *testing.T) {
	c := NewCodec()

	pkt, err := c.Decode([]byte("1:7:bob:host-b:32:see you at 10:30:ok?"))
	require.NoError(t, err)

	assert.Equal(t, CmdSendMsg, pkt.Mode())
	assert.Equal(t, "see you at 10:30:ok?", pkt.Content)
}

func TestRoundTrip(t *testing.T) {
	c := NewCodec()

	tests := []struct {
		name string
		pkt  *Packet
		cs   Charset
	}{
		{
			name: "presence",
			pkt: &Packet{
				Version:    ProtocolVersion,
				ID:         1,
				SenderName: "alice",
				SenderHost: "host-a",
				Command:    CmdBrEntry | OptBroadcast | OptUTF8,
				Content:    "ally\x00dev",
			},
			cs: CharsetUTF8,
		},
		{
			name: "message with colons",
			pkt: &Packet{
				Version:    ProtocolVersion,
				ID:         99,
				SenderName: "bob",
				SenderHost: "host-b",
				Command:    CmdSendMsg | OptSendCheck | OptUTF8,
				Content:    "ratio is 3:2:1",
			},
			cs: CharsetUTF8,
		},
		{
			name: "utf-8 message",
			pkt: &Packet{
				Version:    ProtocolVersion,
				ID:         7,
				SenderName: "小明",
				SenderHost: "host-c",
				Command:    CmdSendMsg | OptUTF8,
				Content:    "你好，世界",
			},
			cs: CharsetUTF8,
		},
		{
			name: "legacy gbk message",
			pkt: &Packet{
				Version:    ProtocolVersion,
				ID:         8,
				SenderName: "小红",
				SenderHost: "host-d",
				Command:    CmdSendMsg,
				Content:    "早上好",
			},
			cs: CharsetGBK,
		},
		{
			name: "file offer",
			pkt: &Packet{
				Version:    ProtocolVersion,
				ID:         12,
				SenderName: "alice",
				SenderHost: "host-a",
				Command:    CmdSendMsg | OptFileAttach | OptUTF8,
				Extensions: []string{"task-1", "report.pdf", "1048576", "8000"},
			},
			cs: CharsetUTF8,
		},
		{
			name: "decline",
			pkt: &Packet{
				Version:    ProtocolVersion,
				ID:         13,
				SenderName: "bob",
				SenderHost: "host-b",
				Command:    CmdReleaseFile | OptUTF8,
				Extensions: []string{"task-1"},
			},
			cs: CharsetUTF8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := c.Encode(tt.pkt, tt.cs)
			require.NoError(t, err)

			got, err := c.Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.pkt, got)
		})
	}
}

func TestGBKBytesDifferFromUTF8(t *testing.T) {
	c := NewCodec()

	pkt := &Packet{
		Version:    ProtocolVersion,
		ID:         1,
		SenderName: "sender",
		SenderHost: "host",
		Command:    CmdSendMsg,
		Content:    "你好",
	}

	gbk, err := c.Encode(pkt, CharsetGBK)
	require.NoError(t, err)

	utf8Bytes, err := c.Encode(pkt, CharsetUTF8)
	require.NoError(t, err)

	assert.NotEqual(t, utf8Bytes, gbk)

	got, err := c.Decode(gbk)
	require.NoError(t, err)
	assert.Equal(t, "你好", got.Content)
}

func TestDecodeMalformed(t *testing.T) {
	c := NewCodec()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "too few fields", raw: "1:42:alice:host-a"},
		{name: "non-numeric version", raw: "x:42:alice:host-a:1:"},
		{name: "non-numeric id", raw: "1:forty-two:alice:host-a:1:"},
		{name: "non-numeric command", raw: "1:42:alice:host-a:hello:"},
		{name: "negative command", raw: "1:42:alice:host-a:-1:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	c := NewCodec()

	// UTF-8 flag set but the content bytes are not valid UTF-8.
	raw := append([]byte("1:42:alice:host-a:8388640:"), 0xff, 0xfe)
	_, err := c.Decode(raw)
	assert.ErrorIs(t, err, ErrBadCharset)
}

func TestDecodeInvalidLegacyBytes(t *testing.T) {
	c := NewCodec()

	// No UTF-8 flag, and the content bytes are not a valid legacy
	// double-byte sequence. The decoder must reject them instead of
	// substituting replacement runes.
	raw := append([]byte("1:42:alice:host-a:32:"), 0xff, 0x00)
	_, err := c.Decode(raw)
	assert.ErrorIs(t, err, ErrBadCharset)
}

func TestCommandFlagsIndependent(t *testing.T) {
	pkt := &Packet{Command: CmdSendMsg | OptSendCheck | OptFileAttach | OptUTF8}

	assert.Equal(t, CmdSendMsg, pkt.Mode())
	assert.True(t, pkt.HasOpt(OptSendCheck))
	assert.True(t, pkt.HasOpt(OptFileAttach))
	assert.True(t, pkt.HasOpt(OptUTF8))
	assert.False(t, pkt.HasOpt(OptBroadcast))
}

func TestEncodeContentAndExtensionsExclusive(t *testing.T) {
	c := NewCodec()

	pkt := &Packet{
		Version:    ProtocolVersion,
		ID:         1,
		SenderName: "a",
		SenderHost: "b",
		Command:    CmdSendMsg | OptFileAttach | OptUTF8,
		Content:    "text",
		Extensions: []string{"task", "f", "1", "8000"},
	}

	_, err := c.Encode(pkt, CharsetUTF8)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
