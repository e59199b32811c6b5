// Package device reports the power state of the player hardware.
package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"signage/internal/config"
)

// ErrUnavailable means no power status source is configured or reachable.
var ErrUnavailable = errors.New("device: power status unavailable")

// Status is the UPS state.
type Status struct {
	Percent   int       `json:"percent"`
	VoltageMv int       `json:"voltage_mv"`
	ReadAt    time.Time `json:"read_at"`
}

// Reader reads the power status.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

type unavailableReader struct{}

func (unavailableReader) Read(context.Context) (Status, error) {
	return Status{}, ErrUnavailable
}

// Unavailable is the Reader used when no UPS is configured.
var Unavailable Reader = unavailableReader{}

// PiSugar-style register map.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// UPSReader reads a PiSugar-style UPS over I2C.
type UPSReader struct {
	bus  string
	addr uint16

	initOnce sync.Once
	initErr  error
}

// NewUPSReader creates a reader for the UPS at addr on bus ("" for the
// default bus). The host is initialised on first read.
func NewUPSReader(bus string, addr uint16) *UPSReader {
	return &UPSReader{bus: bus, addr: addr}
}

func (r *UPSReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, fmt.Errorf("%w: i2c needs linux", ErrUnavailable)
	}
	r.initOnce.Do(func() {
		_, r.initErr = host.Init()
	})
	if r.initErr != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, r.initErr)
	}

	bus, err := i2creg.Open(r.bus)
	if err != nil {
		return Status{}, fmt.Errorf("%w: open bus: %v", ErrUnavailable, err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	reg := func(addr byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{addr}, buf); err != nil {
			return 0, fmt.Errorf("device: read register %#x: %w", addr, err)
		}
		return buf[0], nil
	}

	high, err := reg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := reg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := reg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   min(int(pct), 100),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
		ReadAt:    time.Now(),
	}, nil
}

// FromConfig returns the UPS reader when an address is configured, and
// Unavailable otherwise.
func FromConfig(cfg config.DeviceConfig) Reader {
	if cfg.UPSI2CAddr == 0 {
		return Unavailable
	}
	return NewUPSReader(cfg.UPSI2CBus, cfg.UPSI2CAddr)
}

// CachedReader serves a status for ttl before reading again. Errors are not
// cached.
type CachedReader struct {
	reader Reader
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	status Status
	at     time.Time
}

func NewCachedReader(r Reader, ttl time.Duration) *CachedReader {
	return &CachedReader{reader: r, ttl: ttl, now: time.Now}
}

func (c *CachedReader) Read(ctx context.Context) (Status, error) {
	now := c.now()

	c.mu.RLock()
	if !c.at.IsZero() && now.Sub(c.at) < c.ttl {
		st := c.status
		c.mu.RUnlock()
		return st, nil
	}
	c.mu.RUnlock()

	st, err := c.reader.Read(ctx)
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	c.status = st
	c.at = now
	c.mu.Unlock()
	return st, nil
}
