// Package modbus writes device status blocks into the holding registers of
// the rack's status memory endpoint.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/rack-manager/internal/config"
)

// MaxRegistersPerWrite is the FC16 limit of one Modbus TCP request.
const MaxRegistersPerWrite = 123

var (
	ErrNoEndpoint = errors.New("status memory: endpoint required")
	ErrTooLarge   = errors.New("status memory: too many registers for one write")
)

// StatusMemory is the single TCP connection to the status memory endpoint.
// Writes are serialized because each one sets the handler's unit id.
type StatusMemory struct {
	mu       sync.Mutex
	endpoint string
	handler  *modbus.TCPClientHandler
	client   modbus.Client
}

// Dial connects to the configured endpoint.
func Dial(cfg config.StatusMemoryConfig) (*StatusMemory, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout()
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("status memory %s: %w", cfg.Endpoint, err)
	}

	return &StatusMemory{
		endpoint: cfg.Endpoint,
		handler:  h,
		client:   modbus.NewClient(h),
	}, nil
}

func (s *StatusMemory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Close()
}

// WriteRegisters stores regs from slot addr on unit unitID (FC 16).
func (s *StatusMemory) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	switch {
	case len(regs) == 0:
		return nil
	case len(regs) > MaxRegistersPerWrite:
		return fmt.Errorf("%w: %d", ErrTooLarge, len(regs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler.SlaveId = unitID
	if _, err := s.client.WriteMultipleRegisters(addr, uint16(len(regs)), PackRegisters(regs)); err != nil {
		// drop the connection; the handler redials on the next send
		_ = s.handler.Close()
		return fmt.Errorf("status memory %s: write slot %d: %w", s.endpoint, addr, err)
	}
	return nil
}

// PackRegisters lays registers out big-endian, as Modbus carries them.
func PackRegisters(regs []uint16) []byte {
	out := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		out = binary.BigEndian.AppendUint16(out, r)
	}
	return out
}
