package core

import "time"

type Presence int

const (
	PresenceOnline Presence = iota
	PresenceAway
	PresenceOffline
)

func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return "online"
	case PresenceAway:
		return "away"
	case PresenceOffline:
		return "offline"
	}
	return "unknown"
}

// Peer is one known node on the LAN, keyed by IP address. All fields are
// owned by the Registry; callers only ever see copies.
type Peer struct {
	Addr     string
	Port     int
	Username string
	Hostname string
	Nickname string
	Groups   map[string]struct{}
	Presence Presence
	LastSeen time.Time

	// OfflineSince is set on the Online/Away -> Offline transition and
	// drives cleanup retention.
	OfflineSince time.Time

	// LegacyEncoding marks a peer that has sent at least one packet
	// without the UTF-8 option flag; outbound packets to it fall back to
	// the double-byte legacy charset.
	LegacyEncoding bool
}

// DisplayName prefers the self-reported nickname, then the account name,
// then the bare address.
func (p *Peer) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	if p.Username != "" {
		return p.Username
	}
	return p.Addr
}

// Charset returns the charset outbound packets to this peer should use.
func (p *Peer) Charset() Charset {
	if p.LegacyEncoding {
		return CharsetGBK
	}
	return CharsetUTF8
}

func (p *Peer) clone() *Peer {
	c := *p
	c.Groups = make(map[string]struct{}, len(p.Groups))
	for g := range p.Groups {
		c.Groups[g] = struct{}{}
	}
	return &c
}
