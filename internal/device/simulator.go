// internal/device/simulator.go
package device

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/tamzrod/rack-manager/internal/codec"
)

// Simulator plays every device family of a rack behind a loopback bus.
// It is the device side of the wire: it parses request frames and builds
// response frames by hand.
type Simulator struct {
	mu sync.Mutex

	fans     map[uint8]uint8 // pwm
	leds     map[uint8]bool
	watchdog map[uint8]uint16
	sockets  map[uint8]bool
	blades   map[bladeKey]uint8
	disks    map[uint8][]byte
	faults   map[faultKey]codec.CompletionCode
	now      func() time.Time
}

type bladeKey struct {
	addr  uint8
	blade uint8
}

type faultKey struct {
	fn   codec.FunctionCode
	addr uint8
}

// RpmPerPercent converts fan duty cycle to simulated speed.
const RpmPerPercent = 60

func NewSimulator() *Simulator {
	return &Simulator{
		fans:     make(map[uint8]uint8),
		leds:     make(map[uint8]bool),
		watchdog: make(map[uint8]uint16),
		sockets:  make(map[uint8]bool),
		blades:   make(map[bladeKey]uint8),
		disks:    make(map[uint8][]byte),
		faults:   make(map[faultKey]codec.CompletionCode),
		now:      time.Now,
	}
}

// Fail makes every request fn to addr answer with code until cleared
// with Success.
func (s *Simulator) Fail(fn codec.FunctionCode, addr uint8, code codec.CompletionCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := faultKey{fn: fn, addr: addr}
	if code == codec.Success {
		delete(s.faults, k)
		return
	}
	s.faults[k] = code
}

// SetDisks installs the disk status bytes of a JBOD.
func (s *Simulator) SetDisks(addr uint8, states ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disks[addr] = append([]byte(nil), states...)
}

// SetBlade installs a raw blade status byte.
func (s *Simulator) SetBlade(addr, blade, status uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blades[bladeKey{addr, blade}] = status
}

// Handle answers one request frame; it satisfies transport.Handler.
func (s *Simulator) Handle(addr uint8, frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("device: simulator got empty frame")
	}
	fn := codec.FunctionCode(frame[0])
	body := frame[1:]

	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.faults[faultKey{fn, addr}]; ok {
		return []byte{byte(code)}, nil
	}

	ok := []byte{byte(codec.Success)}
	switch fn {
	case FnSetFanSpeed:
		if len(body) < 1 {
			return invalidLength(), nil
		}
		if body[0] > 100 {
			return []byte{byte(codec.InvalidField)}, nil
		}
		s.fans[addr] = body[0]
		return ok, nil
	case FnGetFanSpeed:
		return binary.LittleEndian.AppendUint16(ok, uint16(s.fans[addr])*RpmPerPercent), nil

	case FnTurnOnLed:
		s.leds[addr] = true
		return ok, nil
	case FnTurnOffLed:
		s.leds[addr] = false
		return ok, nil
	case FnGetLedStatus:
		return append(ok, boolByte(s.leds[addr])), nil

	case FnEnableWatchdog:
		if len(body) < 2 {
			return invalidLength(), nil
		}
		s.watchdog[addr] = binary.LittleEndian.Uint16(body)
		return ok, nil
	case FnDisableWatchdog:
		delete(s.watchdog, addr)
		return ok, nil
	case FnResetWatchdog:
		if _, armed := s.watchdog[addr]; !armed {
			return []byte{byte(codec.InvalidCommand)}, nil
		}
		return ok, nil

	case FnTurnOnAcSocket:
		s.sockets[addr] = true
		return ok, nil
	case FnTurnOffAcSocket:
		s.sockets[addr] = false
		return ok, nil
	case FnGetAcSocketStatus:
		return append(ok, boolByte(s.sockets[addr])), nil

	case FnSetBladePowerOn, FnSetBladePowerOff, FnGetBladePowerStatus:
		if len(body) < 1 {
			return invalidLength(), nil
		}
		k := bladeKey{addr, body[0]}
		st, present := s.blades[k]
		if !present {
			st = bladePresent | bladeEnabled
		}
		switch fn {
		case FnSetBladePowerOn:
			s.blades[k] = st | bladePowered
			return ok, nil
		case FnSetBladePowerOff:
			s.blades[k] = st &^ bladePowered
			return ok, nil
		}
		return append(ok, st), nil

	case FnGetDiskStatus:
		d := s.disks[addr]
		out := append(ok, byte(len(d)))
		return append(out, d...), nil
	case FnGetDiskInfo:
		if len(body) < 1 {
			return invalidLength(), nil
		}
		if int(body[0]) >= len(s.disks[addr]) {
			return []byte{byte(codec.InvalidField)}, nil
		}
		out := binary.LittleEndian.AppendUint32(ok, 4000)
		out = append(out, 35)
		serial := fmt.Sprintf("SIM%02d%03d", addr, body[0])
		return append(out, serial[:8]...), nil

	case FnGetNodeManagerStatistics, FnGetCpuTemperature:
		if len(body) < 4 || [3]byte(body[:3]) != IntelManufacturerID {
			return []byte{byte(codec.InvalidField)}, nil
		}
		out := append(ok, IntelManufacturerID[:]...)
		if fn == FnGetCpuTemperature {
			return append(out, 40+body[3]), nil
		}
		for _, w := range []uint16{180, 120, 240, 175} {
			out = binary.LittleEndian.AppendUint16(out, w)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(s.now().Unix()))
		out = binary.LittleEndian.AppendUint32(out, 60)
		return append(out, 0x01), nil
	}
	return []byte{byte(codec.InvalidCommand)}, nil
}

func invalidLength() []byte { return []byte{byte(codec.InvalidLength)} }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
