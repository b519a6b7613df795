// internal/transport/serial.go
package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/goburrow/serial"

	"github.com/tamzrod/rack-manager/internal/config"
)

//
// ---- Rack serial link frame (LOCKED) ----
//
// 0     Start byte 0xA5
// 1     Device address
// 2     Body length (1..255)
// 3..n  Body (request or response frame)
// n+1   XOR of bytes 1..n
//

const (
	linkStart   byte = 0xA5
	linkHeader       = 3
	linkMaxBody      = 255
)

// SerialTransport speaks the rack link framing over a raw serial port.
type SerialTransport struct {
	port io.ReadWriteCloser
	addr uint8
	sent bool
}

// NewSerial opens the serial device named by the bus address.
func NewSerial(b config.BusConfig) (*SerialTransport, error) {
	port, err := serial.Open(&serial.Config{
		Address:  b.Address,
		BaudRate: b.BaudRate,
		DataBits: b.DataBits,
		StopBits: b.StopBits,
		Parity:   b.Parity,
		Timeout:  b.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("transport serial: bus %q: %w", b.ID, err)
	}
	return NewSerialPort(port), nil
}

// NewSerialPort wraps an already opened port.
func NewSerialPort(port io.ReadWriteCloser) *SerialTransport {
	return &SerialTransport{port: port}
}

func (t *SerialTransport) Write(addr uint8, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	pkt, err := buildLinkFrame(addr, frame)
	if err != nil {
		return err
	}
	if err := writeAll(t.port, pkt); err != nil {
		return fmt.Errorf("transport serial: write: %w", err)
	}
	t.addr = addr
	t.sent = true
	return nil
}

// Read waits for one link frame from the addressed device. The port's
// own read timeout applies per read call; a positive timeout bounds the
// whole frame. With timeout <= 0 the first empty port read times out.
func (t *SerialTransport) Read(timeout time.Duration) ([]byte, error) {
	if !t.sent {
		return nil, ErrNoRequest
	}
	t.sent = false

	r := &deadlineReader{r: t.port}
	if timeout > 0 {
		r.deadline = time.Now().Add(timeout)
	}

	var hdr [linkHeader]byte
	if err := r.readStart(); err != nil {
		return nil, err
	}
	hdr[0] = linkStart
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		return nil, asTimeout(fmt.Errorf("transport serial: read header: %w", err))
	}
	if hdr[1] != t.addr {
		return nil, fmt.Errorf("transport serial: address mismatch: got=%d want=%d", hdr[1], t.addr)
	}

	n := int(hdr[2])
	if n == 0 {
		return nil, ErrFrameLength
	}
	rest := make([]byte, n+1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, asTimeout(fmt.Errorf("transport serial: read body: %w", err))
	}

	body := rest[:n]
	if checksum(hdr[1], hdr[2], body) != rest[n] {
		return nil, ErrChecksum
	}
	return body, nil
}

func (t *SerialTransport) Close() error {
	if t == nil || t.port == nil {
		return nil
	}
	return t.port.Close()
}

func buildLinkFrame(addr uint8, body []byte) ([]byte, error) {
	if len(body) == 0 || len(body) > linkMaxBody {
		return nil, fmt.Errorf("%w: %d", ErrFrameLength, len(body))
	}
	pkt := make([]byte, 0, linkHeader+len(body)+1)
	pkt = append(pkt, linkStart, addr, byte(len(body)))
	pkt = append(pkt, body...)
	return append(pkt, checksum(addr, byte(len(body)), body)), nil
}

func checksum(addr, n byte, body []byte) byte {
	x := addr ^ n
	for _, b := range body {
		x ^= b
	}
	return x
}

//
// ---- helpers ----
//

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// deadlineReader keeps retrying short port reads until the frame deadline.
// A zero deadline leaves the bound to the port's own read timeout.
type deadlineReader struct {
	r        io.Reader
	deadline time.Time
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	for {
		if !d.deadline.IsZero() && time.Now().After(d.deadline) {
			return 0, ErrTimeout
		}
		n, err := d.r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !isTimeout(err) {
			return 0, err
		}
		if d.deadline.IsZero() {
			return 0, ErrTimeout
		}
		// a port-level timeout with no data: try again until the deadline
	}
}

// readStart skips line noise up to the start byte.
func (d *deadlineReader) readStart() error {
	var b [1]byte
	for {
		if _, err := io.ReadFull(d, b[:]); err != nil {
			return asTimeout(fmt.Errorf("transport serial: read start: %w", err))
		}
		if b[0] == linkStart {
			return nil
		}
	}
}
