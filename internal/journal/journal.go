// Package journal keeps an append-only CBOR record of every command the
// dispatcher finished.
package journal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
)

// Record is one finished command. Integer keys keep the file compact.
type Record struct {
	Time      time.Time     `cbor:"1,keyasint"`
	ID        string        `cbor:"2,keyasint"`
	Channel   string        `cbor:"3,keyasint,omitempty"`
	Type      uint8         `cbor:"4,keyasint"`
	Address   uint8         `cbor:"5,keyasint"`
	Functions []uint8       `cbor:"6,keyasint"`
	Priority  uint8         `cbor:"7,keyasint"`
	State     string        `cbor:"8,keyasint"`
	Code      uint8         `cbor:"9,keyasint"`
	Attempts  int           `cbor:"10,keyasint,omitempty"`
	Queued    time.Duration `cbor:"11,keyasint"`
	Elapsed   time.Duration `cbor:"12,keyasint"`
	Error     string        `cbor:"13,keyasint,omitempty"`
}

// OK reports a Success completion.
func (r Record) OK() bool { return codec.CompletionCode(r.Code) == codec.Success }

// NewRecord flattens an envelope.
func NewRecord(e dispatch.Envelope) Record {
	r := Record{
		Time:     e.FinishedAt,
		ID:       e.ID.String(),
		Channel:  e.Channel,
		Type:     uint8(e.Target.Type),
		Address:  e.Target.ID,
		Priority: uint8(e.Priority),
		State:    e.State.String(),
		Code:     uint8(e.Code),
		Attempts: e.Attempts,
		Queued:   e.Waited(),
		Elapsed:  e.Elapsed(),
	}
	for _, fn := range e.Functions {
		r.Functions = append(r.Functions, uint8(fn))
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	return r
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("journal: cbor decoder mode: %v", err))
	}
}

// Journal is a dispatcher Observer appending records to a file.
// It is safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	w       io.WriteCloser
	enc     *cbor.Encoder
	closed  bool
	log     zerolog.Logger
	written int
}

// Open appends to path, creating it with mode 0644.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return New(f, log), nil
}

// New journals into w. Close closes w.
func New(w io.WriteCloser, log zerolog.Logger) *Journal {
	return &Journal{w: w, enc: encMode.NewEncoder(w), log: log}
}

// Observe writes one record. Encoding failures are logged, never returned:
// the journal must not disturb the command path.
func (j *Journal) Observe(e dispatch.Envelope) {
	rec := NewRecord(e)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if err := j.enc.Encode(rec); err != nil {
		j.log.Error().Err(err).Str("id", rec.ID).Msg("journal write failed")
		return
	}
	j.written++
}

// Written is the number of records written since open.
func (j *Journal) Written() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}

// Close is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.w.Close()
}

var _ dispatch.Observer = (*Journal)(nil)
