// internal/transport/modbus.go
package transport

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/rack-manager/internal/config"
)

// exceptionBit marks a Modbus exception response function code.
const exceptionBit = 0x80

// ModbusTransport carries rack frames as Modbus PDUs through a gateway.
// The frame's first byte is the PDU function code, the rest is PDU data;
// the response PDU data is handed back verbatim.
//
// Modbus handlers are request/response, so the exchange runs on Read.
type ModbusTransport struct {
	handler modbus.ClientHandler
	slaveID *byte
	close   func() error

	pending []byte
	fc      byte
}

// NewModbusRTU opens a Modbus RTU bus over a serial line.
func NewModbusRTU(b config.BusConfig) (*ModbusTransport, error) {
	if b.Address == "" {
		return nil, fmt.Errorf("transport modbus-rtu: bus %q: address required", b.ID)
	}

	h := modbus.NewRTUClientHandler(b.Address)
	h.BaudRate = b.BaudRate
	h.DataBits = b.DataBits
	h.StopBits = b.StopBits
	h.Parity = b.Parity
	h.Timeout = b.Timeout()

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("transport modbus-rtu: bus %q: %w", b.ID, err)
	}

	return newModbus(h, &h.SlaveId, h.Close), nil
}

// NewModbusTCP opens a Modbus TCP gateway (serial/I2C bridge on the network).
func NewModbusTCP(b config.BusConfig) (*ModbusTransport, error) {
	if b.Address == "" {
		return nil, fmt.Errorf("transport modbus-tcp: bus %q: address required", b.ID)
	}

	h := modbus.NewTCPClientHandler(b.Address)
	h.Timeout = b.Timeout()

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("transport modbus-tcp: bus %q: %w", b.ID, err)
	}

	return newModbus(h, &h.SlaveId, h.Close), nil
}

func newModbus(h modbus.ClientHandler, slaveID *byte, closeFn func() error) *ModbusTransport {
	return &ModbusTransport{handler: h, slaveID: slaveID, close: closeFn}
}

func (t *ModbusTransport) Write(addr uint8, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}

	// The handler addresses one slave at a time; the channel lock
	// guarantees nobody else changes it mid-exchange.
	*t.slaveID = addr

	adu, err := t.handler.Encode(&modbus.ProtocolDataUnit{
		FunctionCode: frame[0],
		Data:         frame[1:],
	})
	if err != nil {
		return fmt.Errorf("transport modbus: encode: %w", err)
	}

	t.pending = adu
	t.fc = frame[0]
	return nil
}

// Read performs the exchange. The per-bus handler timeout bounds it; the
// timeout argument is not applied separately because an abandoned exchange
// would leave the line busy under the next command.
func (t *ModbusTransport) Read(_ time.Duration) ([]byte, error) {
	if t.pending == nil {
		return nil, ErrNoRequest
	}
	req := t.pending
	t.pending = nil

	raw, err := t.handler.Send(req)
	if err != nil {
		return nil, asTimeout(fmt.Errorf("transport modbus: send: %w", err))
	}
	if err := t.handler.Verify(req, raw); err != nil {
		return nil, fmt.Errorf("transport modbus: verify: %w", err)
	}

	pdu, err := t.handler.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("transport modbus: decode: %w", err)
	}

	if pdu.FunctionCode != t.fc {
		if pdu.FunctionCode == t.fc|exceptionBit && len(pdu.Data) > 0 {
			return nil, &modbus.ModbusError{
				FunctionCode:  pdu.FunctionCode,
				ExceptionCode: pdu.Data[0],
			}
		}
		return nil, fmt.Errorf("transport modbus: function mismatch: got=%d want=%d", pdu.FunctionCode, t.fc)
	}

	return pdu.Data, nil
}

func (t *ModbusTransport) Close() error {
	if t == nil || t.close == nil {
		return nil
	}
	return t.close()
}
