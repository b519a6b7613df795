// internal/codec/codec.go
package codec

import (
	"errors"
	"fmt"

	"github.com/tamzrod/rack-manager/internal/layout"
)

// FunctionCode is the wire tag pairing a request with its response.
type FunctionCode = layout.FunctionCode

var (
	ErrFrameTooShort   = errors.New("codec: frame too short")
	ErrUnknownFunction = errors.New("codec: unknown function code")
	ErrFieldMismatch   = errors.New("codec: field does not match layout")
)

// Request is a typed command. EncodeFields writes the payload by field name.
type Request interface {
	Function() FunctionCode
	EncodeFields(w *Writer)
}

// Response is a typed reply. DecodeFields only runs on Success frames.
type Response interface {
	Function() FunctionCode
	Result() *Completion
	DecodeFields(r *Reader) error
}

// Codec turns typed messages into frames and back.
// It holds no mutable state and is safe for concurrent use.
//
// Request frame:  [function][payload...]
// Response frame: [completion][payload...]
type Codec struct {
	reg *layout.Registry
}

func New(reg *layout.Registry) *Codec {
	return &Codec{reg: reg}
}

// Encode builds the request frame. Fields the request does not set stay zero.
func (c *Codec) Encode(req Request) ([]byte, error) {
	fn := req.Function()
	l, ok := c.reg.Lookup(layout.Request, fn)
	if !ok {
		return nil, fmt.Errorf("%w: request 0x%02x", ErrUnknownFunction, byte(fn))
	}

	w := &Writer{l: l, buf: make([]byte, l.FixedLen())}
	req.EncodeFields(w)
	if w.err != nil {
		return nil, w.err
	}

	frame := make([]byte, 0, 1+len(w.buf))
	frame = append(frame, byte(fn))
	return append(frame, w.buf...), nil
}

// Decode fills resp from a response frame.
//
// A non-Success completion code decodes successfully with the payload left
// untouched: drivers must not read it. A Success frame shorter than the
// fixed layout fails with ErrFrameTooShort and sets no payload field.
func (c *Codec) Decode(frame []byte, resp Response) error {
	fn := resp.Function()
	l, ok := c.reg.Lookup(layout.Response, fn)
	if !ok {
		return fmt.Errorf("%w: response 0x%02x", ErrUnknownFunction, byte(fn))
	}
	if len(frame) < layout.CompletionOffset+1 {
		return fmt.Errorf("%w: empty frame for function 0x%02x", ErrFrameTooShort, byte(fn))
	}

	code := CompletionCode(frame[layout.CompletionOffset])
	if code != Success {
		resp.Result().Code = code
		return nil
	}

	if len(frame) < l.FixedLen() {
		return fmt.Errorf("%w: function 0x%02x got %d bytes, need %d",
			ErrFrameTooShort, byte(fn), len(frame), l.FixedLen())
	}

	r := &Reader{l: l, buf: frame}
	if err := resp.DecodeFields(r); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	resp.Result().Code = Success
	return nil
}
