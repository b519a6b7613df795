// internal/device/jbod.go
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnGetDiskStatus codec.FunctionCode = 0x60
	FnGetDiskInfo   codec.FunctionCode = 0x61
)

var jbodLayouts = []*layout.Layout{
	layout.MustNew(FnGetDiskStatus, layout.Request),
	layout.MustNew(FnGetDiskStatus, layout.Response,
		layout.U8("count", 1),
		layout.Bytes("disks", 2, 0),
	),
	layout.MustNew(FnGetDiskInfo, layout.Request, layout.U8("disk", 0)),
	layout.MustNew(FnGetDiskInfo, layout.Response,
		layout.U32("size_gb", 1),
		layout.U8("temp_c", 5),
		layout.Bytes("serial", 6, 8),
	),
}

var ErrDiskCount = errors.New("jbod: disk count does not match payload")

// DiskState is the health of one JBOD slot. The zero value is NA.
type DiskState uint8

const (
	DiskNA DiskState = iota
	DiskHealthy
	DiskFailed
	DiskMissing
)

func (s DiskState) String() string {
	switch s {
	case DiskHealthy:
		return "healthy"
	case DiskFailed:
		return "failed"
	case DiskMissing:
		return "missing"
	default:
		return "na"
	}
}

func diskFromWire(b byte) DiskState {
	switch b {
	case 0:
		return DiskHealthy
	case 1:
		return DiskFailed
	case 2:
		return DiskMissing
	default:
		return DiskNA
	}
}

type GetDiskStatusResponse struct {
	codec.Completion
	Count uint8
	Disks []byte
}

func (*GetDiskStatusResponse) Function() codec.FunctionCode { return FnGetDiskStatus }

func (r *GetDiskStatusResponse) DecodeFields(rd *codec.Reader) error {
	r.Count = rd.Uint8("count")
	r.Disks = rd.Bytes("disks")
	if err := rd.Err(); err != nil {
		return err
	}
	if int(r.Count) != len(r.Disks) {
		return fmt.Errorf("%w: count=%d bytes=%d", ErrDiskCount, r.Count, len(r.Disks))
	}
	return nil
}

type GetDiskInfoRequest struct {
	Disk uint8
}

func (GetDiskInfoRequest) Function() codec.FunctionCode { return FnGetDiskInfo }

func (r GetDiskInfoRequest) EncodeFields(w *codec.Writer) { w.Uint8("disk", r.Disk) }

type GetDiskInfoResponse struct {
	codec.Completion
	SizeGB       uint32
	TemperatureC uint8
	Serial       []byte
}

func (*GetDiskInfoResponse) Function() codec.FunctionCode { return FnGetDiskInfo }

func (r *GetDiskInfoResponse) DecodeFields(rd *codec.Reader) error {
	r.SizeGB = rd.Uint32("size_gb")
	r.TemperatureC = rd.Uint8("temp_c")
	r.Serial = rd.Bytes("serial")
	return rd.Err()
}

// DiskInfo is the inventory record of one disk.
type DiskInfo struct {
	SizeGB       uint32
	TemperatureC uint8
	Serial       string
}

// Jbod is a disk enclosure controller.
type Jbod struct {
	s Sender
	t dispatch.Target
}

func NewJbod(s Sender, id uint8) *Jbod {
	return &Jbod{s: s, t: dispatch.Target{Type: TypeJbod, ID: id}}
}

// DiskStatus returns one state per slot, or nil on failure.
func (j *Jbod) DiskStatus(ctx context.Context) ([]DiskState, codec.CompletionCode) {
	var resp GetDiskStatusResponse
	code := j.s.SendReceive(ctx, j.t, bare(FnGetDiskStatus), &resp, dispatch.User)
	if code != codec.Success {
		return nil, code
	}
	out := make([]DiskState, len(resp.Disks))
	for i, b := range resp.Disks {
		out[i] = diskFromWire(b)
	}
	return out, code
}

func (j *Jbod) DiskInfo(ctx context.Context, disk uint8) (DiskInfo, codec.CompletionCode) {
	var resp GetDiskInfoResponse
	code := j.s.SendReceive(ctx, j.t, GetDiskInfoRequest{Disk: disk}, &resp, dispatch.User)
	if code != codec.Success {
		return DiskInfo{}, code
	}
	return DiskInfo{
		SizeGB:       resp.SizeGB,
		TemperatureC: resp.TemperatureC,
		Serial:       string(bytes.TrimRight(resp.Serial, "\x00 ")),
	}, code
}
