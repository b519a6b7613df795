// internal/journal/reader.go
package journal

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Type       *uint8
	Address    *uint8
	FailedOnly bool
	Since      time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Type != nil && r.Type != *f.Type {
		return false
	}
	if f.Address != nil && r.Address != *f.Address {
		return false
	}
	if f.FailedOnly && r.OK() {
		return false
	}
	if !f.Since.IsZero() && r.Time.Before(f.Since) {
		return false
	}
	return true
}

// Reader streams records from a journal file.
type Reader struct {
	rc     io.ReadCloser
	dec    *cbor.Decoder
	filter Filter
}

func NewReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{rc: f, dec: decMode.NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

func (r *Reader) Close() error { return r.rc.Close() }
