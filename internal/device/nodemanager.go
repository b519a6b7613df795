// internal/device/nodemanager.go
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnGetNodeManagerStatistics codec.FunctionCode = 0x70
	FnGetCpuTemperature        codec.FunctionCode = 0x71
)

// IntelManufacturerID prefixes every Node Manager request and response,
// least significant byte first.
var IntelManufacturerID = [3]byte{0x57, 0x01, 0x00}

var ErrManufacturerID = errors.New("nodemanager: unexpected manufacturer id")

// Statistics modes.
const (
	StatsGlobalPower   uint8 = 0x01
	StatsGlobalInlet   uint8 = 0x02
	StatsPolicyPower   uint8 = 0x11
	StatsPolicyTrigger uint8 = 0x12
)

var nodeManagerLayouts = []*layout.Layout{
	layout.MustNew(FnGetNodeManagerStatistics, layout.Request,
		layout.Bytes("mfr", 0, 3),
		layout.U8("mode", 3),
		layout.U8("domain", 4),
		layout.U8("policy", 5),
	),
	layout.MustNew(FnGetNodeManagerStatistics, layout.Response,
		layout.Bytes("mfr", 1, 3),
		layout.U16("current", 4),
		layout.U16("minimum", 6),
		layout.U16("maximum", 8),
		layout.U16("average", 10),
		layout.U32("timestamp", 12),
		layout.U32("period", 16),
		layout.U8("state", 20),
	),
	layout.MustNew(FnGetCpuTemperature, layout.Request,
		layout.Bytes("mfr", 0, 3),
		layout.U8("cpu", 3),
	),
	layout.MustNew(FnGetCpuTemperature, layout.Response,
		layout.Bytes("mfr", 1, 3),
		layout.U8("temp_c", 4),
	),
}

func checkManufacturer(rd *codec.Reader) error {
	got := rd.Bytes("mfr")
	if err := rd.Err(); err != nil {
		return err
	}
	if !bytes.Equal(got, IntelManufacturerID[:]) {
		return fmt.Errorf("%w: % x", ErrManufacturerID, got)
	}
	return nil
}

type GetNodeManagerStatisticsRequest struct {
	Mode   uint8
	Domain uint8
	Policy uint8
}

func (GetNodeManagerStatisticsRequest) Function() codec.FunctionCode {
	return FnGetNodeManagerStatistics
}

func (r GetNodeManagerStatisticsRequest) EncodeFields(w *codec.Writer) {
	w.Bytes("mfr", IntelManufacturerID[:])
	w.Uint8("mode", r.Mode)
	w.Uint8("domain", r.Domain)
	w.Uint8("policy", r.Policy)
}

type GetNodeManagerStatisticsResponse struct {
	codec.Completion
	Current   uint16
	Minimum   uint16
	Maximum   uint16
	Average   uint16
	Timestamp uint32
	Period    uint32
	State     uint8
}

func (*GetNodeManagerStatisticsResponse) Function() codec.FunctionCode {
	return FnGetNodeManagerStatistics
}

func (r *GetNodeManagerStatisticsResponse) DecodeFields(rd *codec.Reader) error {
	if err := checkManufacturer(rd); err != nil {
		return err
	}
	r.Current = rd.Uint16("current")
	r.Minimum = rd.Uint16("minimum")
	r.Maximum = rd.Uint16("maximum")
	r.Average = rd.Uint16("average")
	r.Timestamp = rd.Uint32("timestamp")
	r.Period = rd.Uint32("period")
	r.State = rd.Uint8("state")
	return rd.Err()
}

type GetCpuTemperatureRequest struct {
	CPU uint8
}

func (GetCpuTemperatureRequest) Function() codec.FunctionCode { return FnGetCpuTemperature }

func (r GetCpuTemperatureRequest) EncodeFields(w *codec.Writer) {
	w.Bytes("mfr", IntelManufacturerID[:])
	w.Uint8("cpu", r.CPU)
}

type GetCpuTemperatureResponse struct {
	codec.Completion
	TemperatureC uint8
}

func (*GetCpuTemperatureResponse) Function() codec.FunctionCode { return FnGetCpuTemperature }

func (r *GetCpuTemperatureResponse) DecodeFields(rd *codec.Reader) error {
	if err := checkManufacturer(rd); err != nil {
		return err
	}
	r.TemperatureC = rd.Uint8("temp_c")
	return rd.Err()
}

// Statistics is one Node Manager reading over a sampling period.
type Statistics struct {
	Current   uint16
	Minimum   uint16
	Maximum   uint16
	Average   uint16
	Timestamp time.Time
	Period    time.Duration
	Active    bool
}

// TemperatureNA is returned when no CPU temperature could be read.
const TemperatureNA = -1

// NodeManager is the blade management controller's power and thermal
// telemetry interface. Telemetry is background work at User priority.
type NodeManager struct {
	s Sender
	t dispatch.Target
}

func NewNodeManager(s Sender, id uint8) *NodeManager {
	return &NodeManager{s: s, t: dispatch.Target{Type: TypeNodeManager, ID: id}}
}

func (n *NodeManager) Statistics(ctx context.Context, mode, domain, policy uint8) (Statistics, codec.CompletionCode) {
	var resp GetNodeManagerStatisticsResponse
	req := GetNodeManagerStatisticsRequest{Mode: mode, Domain: domain, Policy: policy}
	code := n.s.SendReceive(ctx, n.t, req, &resp, dispatch.User)
	if code != codec.Success {
		return Statistics{}, code
	}
	return Statistics{
		Current:   resp.Current,
		Minimum:   resp.Minimum,
		Maximum:   resp.Maximum,
		Average:   resp.Average,
		Timestamp: time.Unix(int64(resp.Timestamp), 0).UTC(),
		Period:    time.Duration(resp.Period) * time.Second,
		Active:    resp.State&0x01 != 0,
	}, code
}

// CpuTemperature returns degrees Celsius, or TemperatureNA on failure.
func (n *NodeManager) CpuTemperature(ctx context.Context, cpu uint8) (int, codec.CompletionCode) {
	var resp GetCpuTemperatureResponse
	code := n.s.SendReceive(ctx, n.t, GetCpuTemperatureRequest{CPU: cpu}, &resp, dispatch.User)
	if code != codec.Success {
		return TemperatureNA, code
	}
	return int(resp.TemperatureC), code
}
