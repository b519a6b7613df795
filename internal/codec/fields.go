// internal/codec/fields.go
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/tamzrod/rack-manager/internal/layout"
)

// Writer writes named fields into a request payload laid out by its table.
// The first misuse is kept and reported by Encode.
type Writer struct {
	l   *layout.Layout
	buf []byte
	err error
}

// Reader reads named fields out of a response frame.
type Reader struct {
	l   *layout.Layout
	buf []byte
	err error
}

func (w *Writer) field(name string, width int) []byte {
	if w.err != nil {
		return nil
	}
	b, err := slot(w.l, w.buf, name, width)
	if err != nil {
		w.err = err
		return nil
	}
	return b
}

func (r *Reader) field(name string, width int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := slot(r.l, r.buf, name, width)
	if err != nil {
		r.err = err
		return nil
	}
	return b
}

// slot returns the byte range of a fixed field.
func slot(l *layout.Layout, buf []byte, name string, width int) ([]byte, error) {
	f, ok := l.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: no field %q in function 0x%02x", ErrFieldMismatch, name, byte(l.Function()))
	}
	if f.Variable() || f.Length != width {
		return nil, fmt.Errorf("%w: field %q is %d bytes, accessed as %d", ErrFieldMismatch, name, f.Length, width)
	}
	if f.Offset+f.Length > len(buf) {
		return nil, fmt.Errorf("%w: field %q", ErrFrameTooShort, name)
	}
	return buf[f.Offset : f.Offset+f.Length], nil
}

func (w *Writer) Uint8(name string, v uint8) {
	if b := w.field(name, 1); b != nil {
		b[0] = v
	}
}

func (w *Writer) Uint16(name string, v uint16) {
	if b := w.field(name, 2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *Writer) Uint32(name string, v uint32) {
	if b := w.field(name, 4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *Writer) Uint64(name string, v uint64) {
	if b := w.field(name, 8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

// Bytes writes a fixed array field, or the trailing variable field.
// A short value is zero-padded; a long value is an error.
func (w *Writer) Bytes(name string, v []byte) {
	if w.err != nil {
		return
	}
	f, ok := w.l.Field(name)
	if !ok || f.Kind != layout.Array {
		w.err = fmt.Errorf("%w: no array field %q in function 0x%02x", ErrFieldMismatch, name, byte(w.l.Function()))
		return
	}
	if f.Variable() {
		// the variable field starts where the fixed part ends
		w.buf = append(w.buf[:f.Offset], v...)
		return
	}
	if len(v) > f.Length {
		w.err = fmt.Errorf("%w: field %q holds %d bytes, got %d", ErrFieldMismatch, name, f.Length, len(v))
		return
	}
	copy(w.buf[f.Offset:f.Offset+f.Length], v)
}

func (r *Reader) Uint8(name string) uint8 {
	if b := r.field(name, 1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) Uint16(name string) uint16 {
	if b := r.field(name, 2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) Uint32(name string) uint32 {
	if b := r.field(name, 4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) Uint64(name string) uint64 {
	if b := r.field(name, 8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Bytes returns a copy of an array field. The trailing variable field
// receives every byte after its offset, possibly none.
func (r *Reader) Bytes(name string) []byte {
	if r.err != nil {
		return nil
	}
	f, ok := r.l.Field(name)
	if !ok || f.Kind != layout.Array {
		r.err = fmt.Errorf("%w: no array field %q in function 0x%02x", ErrFieldMismatch, name, byte(r.l.Function()))
		return nil
	}
	end := f.Offset + f.Length
	if f.Variable() {
		end = len(r.buf)
	}
	if f.Offset > len(r.buf) || end > len(r.buf) {
		r.err = fmt.Errorf("%w: field %q", ErrFrameTooShort, name)
		return nil
	}
	out := make([]byte, end-f.Offset)
	copy(out, r.buf[f.Offset:end])
	return out
}

// Err returns the first field access failure.
func (r *Reader) Err() error { return r.err }
