package core

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const fieldDelim = ":"

// A packet carries six core fields joined by colons, with any trailing
// fields kept as extensions:
//
//	version:packet_id:sender_name:sender_host:command:content[:ext...]
//
// The content field may itself contain colons, so decoding splits on at
// most the first five delimiters. Extensions are only meaningful for
// file-attach and file-release packets; a packet carries either free-text
// content or extensions, never both.
var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrBadCharset      = errors.New("charset conversion failed")
)

type Packet struct {
	Version    uint32
	ID         uint64
	SenderName string
	SenderHost string
	Command    uint32
	Content    string
	Extensions []string
}

// Mode returns the base operation, the low byte of the command word.
func (p *Packet) Mode() uint32 { return p.Command & modeMask }

// Opt returns the flag set, the high bits of the command word.
func (p *Packet) Opt() uint32 { return p.Command & optMask }

func (p *Packet) HasOpt(opt uint32) bool { return p.Command&opt != 0 }

// hasExtensions reports whether the tail after the fifth delimiter is an
// extension list rather than free-text content.
func (p *Packet) hasExtensions() bool {
	switch {
	case p.HasOpt(OptFileAttach):
		return true
	case p.Mode() == CmdGetFileData, p.Mode() == CmdReleaseFile:
		return true
	}
	return false
}

type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes p using the given charset for the name, host and
// content fields. The caller is responsible for keeping the charset
// coherent with the packet's UTF-8 option flag.
func (c *Codec) Encode(p *Packet, cs Charset) ([]byte, error) {
	tail := p.Content
	if p.hasExtensions() {
		if p.Content != "" {
			return nil, fmt.Errorf("%w: content and extensions are exclusive", ErrMalformedPacket)
		}
		tail = strings.Join(p.Extensions, fieldDelim)
	}

	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(p.Version), 10))
	b.WriteString(fieldDelim)
	b.WriteString(strconv.FormatUint(p.ID, 10))
	b.WriteString(fieldDelim)
	b.WriteString(p.SenderName)
	b.WriteString(fieldDelim)
	b.WriteString(p.SenderHost)
	b.WriteString(fieldDelim)
	b.WriteString(strconv.FormatUint(uint64(p.Command), 10))
	b.WriteString(fieldDelim)
	b.WriteString(tail)

	return cs.encode(b.String())
}

// Decode parses raw UDP payload bytes into a Packet. The charset of the
// text fields is taken from the packet's own UTF-8 option flag; packets
// without it are treated as legacy double-byte encoded. Malformed input
// yields ErrMalformedPacket and no partial result.
func (c *Codec) Decode(raw []byte) (*Packet, error) {
	// The delimiter byte never appears inside a legacy double-byte
	// sequence, so splitting raw octets is safe before charset
	// conversion.
	parts := bytes.SplitN(raw, []byte(fieldDelim), 6)
	if len(parts) < 6 {
		return nil, fmt.Errorf("%w: %d of 6 fields", ErrMalformedPacket, len(parts))
	}

	version, err := strconv.ParseUint(string(parts[0]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrMalformedPacket, err)
	}

	id, err := strconv.ParseUint(string(parts[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: packet id: %v", ErrMalformedPacket, err)
	}

	command, err := strconv.ParseUint(string(parts[4]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: command: %v", ErrMalformedPacket, err)
	}

	p := &Packet{
		Version: uint32(version),
		ID:      id,
		Command: uint32(command),
	}

	cs := CharsetGBK
	if p.HasOpt(OptUTF8) {
		cs = CharsetUTF8
	}

	p.SenderName, err = cs.decode(parts[2])
	if err != nil {
		return nil, err
	}
	p.SenderHost, err = cs.decode(parts[3])
	if err != nil {
		return nil, err
	}

	tail, err := cs.decode(parts[5])
	if err != nil {
		return nil, err
	}

	if p.hasExtensions() {
		if tail != "" {
			p.Extensions = strings.Split(tail, fieldDelim)
		}
	} else {
		p.Content = tail
	}

	return p, nil
}
