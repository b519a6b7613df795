// internal/layout/layout.go
package layout

import (
	"errors"
	"fmt"
)

// FunctionCode tags one request/response pair on the wire.
type FunctionCode byte

// Kind tells the codec how a field is read and written.
type Kind uint8

const (
	Scalar Kind = iota
	Array
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Direction separates request layouts from response layouts.
type Direction uint8

const (
	Request Direction = iota
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "request"
}

// Field binds one named message field to its byte range in the payload.
// Length 0 means variable: the field consumes the rest of the frame.
type Field struct {
	Name   string
	Offset int
	Length int
	Kind   Kind
}

// Variable reports whether the field consumes the remainder of the frame.
func (f Field) Variable() bool { return f.Length == 0 }

func (f Field) end() int { return f.Offset + f.Length }

// U8, U16, U32, U64 and Bytes are shorthands for declaring tables.
func U8(name string, offset int) Field  { return Field{Name: name, Offset: offset, Length: 1} }
func U16(name string, offset int) Field { return Field{Name: name, Offset: offset, Length: 2} }
func U32(name string, offset int) Field { return Field{Name: name, Offset: offset, Length: 4} }
func U64(name string, offset int) Field { return Field{Name: name, Offset: offset, Length: 8} }

// Bytes declares a fixed array; length 0 declares the trailing variable field.
func Bytes(name string, offset, length int) Field {
	return Field{Name: name, Offset: offset, Length: length, Kind: Array}
}

// CompletionOffset is the byte every response frame reserves for its completion code.
const CompletionOffset = 0

var (
	ErrOverlap         = errors.New("layout: fields overlap")
	ErrOutOfOrder      = errors.New("layout: offsets out of declaration order")
	ErrVariableNotLast = errors.New("layout: variable-length field must be last")
	ErrBadScalarLength = errors.New("layout: scalar length must be 1, 2, 4 or 8")
	ErrNegativeOffset  = errors.New("layout: negative offset")
	ErrDuplicateField  = errors.New("layout: duplicate field name")
	ErrReservedOffset  = errors.New("layout: response offset 0 is reserved for the completion code")
	ErrDuplicateLayout = errors.New("layout: duplicate layout")
)

// LayoutError reports the message and field a registration failed on.
type LayoutError struct {
	Function  FunctionCode
	Direction Direction
	Field     string
	Err       error
}

func (e *LayoutError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v (function=0x%02x %s)", e.Err, byte(e.Function), e.Direction)
	}
	return fmt.Sprintf("%v (function=0x%02x %s field=%q)", e.Err, byte(e.Function), e.Direction, e.Field)
}

func (e *LayoutError) Unwrap() error { return e.Err }

// Layout is the immutable byte layout of one message type.
type Layout struct {
	function  FunctionCode
	direction Direction
	fields    []Field
	index     map[string]int
	fixedLen  int
}

// New validates a field table and returns its layout.
// Validation happens here, once, before any command can be sent.
func New(fn FunctionCode, dir Direction, fields ...Field) (*Layout, error) {
	l := &Layout{
		function:  fn,
		direction: dir,
		fields:    make([]Field, len(fields)),
		index:     make(map[string]int, len(fields)),
	}
	copy(l.fields, fields)

	fail := func(f Field, err error) (*Layout, error) {
		return nil, &LayoutError{Function: fn, Direction: dir, Field: f.Name, Err: err}
	}

	// Response payloads start after the completion code.
	l.fixedLen = 0
	if dir == Response {
		l.fixedLen = CompletionOffset + 1
	}

	prevEnd := l.fixedLen
	prevOffset := -1
	for i, f := range l.fields {
		if _, dup := l.index[f.Name]; dup || f.Name == "" {
			return fail(f, ErrDuplicateField)
		}
		l.index[f.Name] = i

		if f.Offset < 0 {
			return fail(f, ErrNegativeOffset)
		}
		if dir == Response && f.Offset == CompletionOffset {
			return fail(f, ErrReservedOffset)
		}
		if f.Offset < prevOffset {
			return fail(f, ErrOutOfOrder)
		}
		// touching ranges are allowed, overlapping ones are not
		if f.Offset < prevEnd {
			return fail(f, ErrOverlap)
		}

		if f.Variable() {
			if f.Kind != Array {
				return fail(f, ErrBadScalarLength)
			}
			if i != len(l.fields)-1 {
				return fail(f, ErrVariableNotLast)
			}
			prevOffset = f.Offset
			if f.Offset > l.fixedLen {
				l.fixedLen = f.Offset
			}
			continue
		}

		if f.Kind == Scalar {
			switch f.Length {
			case 1, 2, 4, 8:
			default:
				return fail(f, ErrBadScalarLength)
			}
		}

		prevOffset = f.Offset
		prevEnd = f.end()
		if prevEnd > l.fixedLen {
			l.fixedLen = prevEnd
		}
	}

	return l, nil
}

// MustNew is New for package-level tables. It panics on an invalid table.
func MustNew(fn FunctionCode, dir Direction, fields ...Field) *Layout {
	l, err := New(fn, dir, fields...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Layout) Function() FunctionCode { return l.function }
func (l *Layout) Direction() Direction   { return l.direction }

// Fields returns the fields in declaration order.
func (l *Layout) Fields() []Field {
	out := make([]Field, len(l.fields))
	copy(out, l.fields)
	return out
}

// Field looks a field up by name.
func (l *Layout) Field(name string) (Field, bool) {
	i, ok := l.index[name]
	if !ok {
		return Field{}, false
	}
	return l.fields[i], true
}

// FixedLen is the minimum frame length that holds every fixed field.
// For responses it includes the completion code byte.
func (l *Layout) FixedLen() int { return l.fixedLen }

// Variable returns the trailing variable field, if the layout has one.
func (l *Layout) Variable() (Field, bool) {
	if n := len(l.fields); n > 0 && l.fields[n-1].Variable() {
		return l.fields[n-1], true
	}
	return Field{}, false
}
