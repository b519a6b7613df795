// internal/transport/transport.go
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/tamzrod/rack-manager/internal/config"
)

// Transport is one exclusive byte conduit to a physical bus.
// Callers serialize access; implementations are not safe for concurrent use.
//
// Write hands over a request frame addressed to one device on the bus.
// Read returns the matching response frame or an error wrapping ErrTimeout.
type Transport interface {
	Write(addr uint8, frame []byte) error
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

var (
	ErrTimeout     = errors.New("transport: timeout")
	ErrEmptyFrame  = errors.New("transport: empty frame")
	ErrNoRequest   = errors.New("transport: read without pending request")
	ErrClosed      = errors.New("transport: closed")
	ErrFrameLength = errors.New("transport: frame length out of range")
	ErrChecksum    = errors.New("transport: checksum mismatch")
)

// Open builds the transport for one configured bus.
// The sim kind needs a handler and is built with NewLoopback instead.
func Open(b config.BusConfig) (Transport, error) {
	switch b.Kind {
	case config.BusModbusRTU:
		return NewModbusRTU(b)
	case config.BusModbusTCP:
		return NewModbusTCP(b)
	case config.BusSerial:
		return NewSerial(b)
	default:
		return nil, fmt.Errorf("transport: bus %q: kind %q cannot be opened directly", b.ID, b.Kind)
	}
}

// asTimeout normalizes the timeout flavors of the underlying drivers.
func asTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || !isTimeout(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTimeout, err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// goburrow/serial reports read timeouts as a plain error value
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
