package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidConfig wraps every configuration rejection. Invalid values are
// refused synchronously; the previous configuration stays in effect.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Username is the account name announced in presence broadcasts.
	// Defaults to the OS hostname.
	Username string
	Nickname string
	Group    string

	// Port is the UDP port presence and handshake packets use.
	Port          int
	BroadcastAddr string

	// PortRangeLo/Hi bound the TCP ports allocated for file transfers.
	PortRangeLo int
	PortRangeHi int

	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	TimeoutCheckEvery time.Duration
	CleanupEvery      time.Duration
	OfflineRetention  time.Duration

	// DownloadDir is where accepted incoming files are written.
	DownloadDir string
	ChunkSize   int
}

func DefaultConfig() Config {
	return Config{
		Username:          Hostname(),
		Port:              DefaultPort,
		BroadcastAddr:     DefaultBroadcastAddr,
		PortRangeLo:       DefaultPortRangeLo,
		PortRangeHi:       DefaultPortRangeHi,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PeerTimeout:       DefaultPeerTimeout,
		TimeoutCheckEvery: DefaultTimeoutCheckEvery,
		CleanupEvery:      DefaultCleanupEvery,
		OfflineRetention:  DefaultOfflineRetention,
		DownloadDir:       "./",
		ChunkSize:         DefaultChunkSize,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.Username == "" {
		c.Username = d.Username
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = d.BroadcastAddr
	}
	if c.PortRangeLo == 0 {
		c.PortRangeLo = d.PortRangeLo
	}
	if c.PortRangeHi == 0 {
		c.PortRangeHi = d.PortRangeHi
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PeerTimeout == 0 {
		c.PeerTimeout = d.PeerTimeout
	}
	if c.TimeoutCheckEvery == 0 {
		c.TimeoutCheckEvery = d.TimeoutCheckEvery
	}
	if c.CleanupEvery == 0 {
		c.CleanupEvery = d.CleanupEvery
	}
	if c.OfflineRetention == 0 {
		c.OfflineRetention = d.OfflineRetention
	}
	if c.DownloadDir == "" {
		c.DownloadDir = d.DownloadDir
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: udp port %d", ErrInvalidConfig, c.Port)
	}
	if c.PortRangeLo <= 0 || c.PortRangeHi > 65535 || c.PortRangeLo > c.PortRangeHi {
		return fmt.Errorf("%w: tcp port range %d-%d", ErrInvalidConfig, c.PortRangeLo, c.PortRangeHi)
	}
	if c.HeartbeatInterval < MinHeartbeatInterval || c.HeartbeatInterval > MaxHeartbeatInterval {
		return fmt.Errorf("%w: heartbeat interval %s outside [%s, %s]",
			ErrInvalidConfig, c.HeartbeatInterval, MinHeartbeatInterval, MaxHeartbeatInterval)
	}
	if c.PeerTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: peer timeout %s must exceed heartbeat interval %s",
			ErrInvalidConfig, c.PeerTimeout, c.HeartbeatInterval)
	}
	if c.TimeoutCheckEvery <= 0 || c.CleanupEvery <= 0 || c.OfflineRetention <= 0 {
		return fmt.Errorf("%w: supervisor intervals must be positive", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidConfig, c.ChunkSize)
	}
	return nil
}

// Hostname returns the OS hostname, or a uuid-suffixed placeholder when it
// cannot be read.
func Hostname() string {
	hn, err := os.Hostname()
	if err != nil {
		hn = fmt.Sprintf("unknown-%s", uuid.NewString())
	}
	return hn
}
