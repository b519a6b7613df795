// Package rack assembles a configured rack: buses, channels, the
// dispatcher and its observers, and the health pipeline.
package rack

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/config"
	"github.com/tamzrod/rack-manager/internal/device"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/journal"
	"github.com/tamzrod/rack-manager/internal/status"
	"github.com/tamzrod/rack-manager/internal/transport"
)

var ErrUnknownDevice = errors.New("rack: unknown device")

// Rack owns everything built from one config.
type Rack struct {
	cfg        config.RackConfig
	log        zerolog.Logger
	dispatcher *dispatch.Dispatcher
	channels   map[string]*dispatch.Channel
	sims       map[string]*device.Simulator
	devices    map[string]config.DeviceConfig
	tracker    *status.Tracker
	journal    *journal.Journal
}

// Build opens every bus and wires the dispatcher. cfg must be validated
// and normalized. On error everything opened so far is closed.
func Build(cfg *config.Config, log zerolog.Logger) (_ *Rack, err error) {
	rc := cfg.Rack
	r := &Rack{
		cfg:      rc,
		log:      log,
		channels: make(map[string]*dispatch.Channel),
		sims:     make(map[string]*device.Simulator),
		devices:  make(map[string]config.DeviceConfig),
		tracker:  status.NewTracker(3 * rc.PollInterval()),
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	reg, err := device.Registry()
	if err != nil {
		return nil, err
	}

	for _, b := range rc.Buses {
		var tr transport.Transport
		if b.Kind == config.BusSim {
			sim := device.NewSimulator()
			r.sims[b.ID] = sim
			tr = transport.NewLoopback(sim.Handle)
		} else if tr, err = transport.Open(b); err != nil {
			return nil, fmt.Errorf("rack: bus %q: %w", b.ID, err)
		}
		r.channels[b.ID] = dispatch.NewChannel(b.ID, tr)
		log.Debug().Str("bus", b.ID).Str("kind", b.Kind).Msg("bus open")
	}

	routes := make(map[dispatch.Target]*dispatch.Channel, len(rc.Devices))
	for _, d := range rc.Devices {
		typ, perr := device.ParseType(d.Type)
		if perr != nil {
			return nil, perr
		}
		routes[dispatch.Target{Type: typ, ID: d.ID}] = r.channels[d.Bus]
		r.devices[d.Name] = d
		r.tracker.Track(d.Name, d.Disabled)
	}

	opts := []dispatch.Option{dispatch.WithLogger(log.With().Str("component", "dispatch").Logger())}
	if rc.Journal.Path != "" {
		j, jerr := journal.Open(rc.Journal.Path, log)
		if jerr != nil {
			return nil, jerr
		}
		r.journal = j
		opts = append(opts, dispatch.WithObserver(j))
	}

	r.dispatcher = dispatch.New(codec.New(reg), routes, dispatch.Options{
		Timeout:      rc.CommandTimeout(),
		QueueTimeout: rc.QueueTimeout(),
		Retries:      rc.Dispatch.Retries,
	}, opts...)

	return r, nil
}

func (r *Rack) Tracker() *status.Tracker { return r.tracker }

// Simulator returns the simulator behind a sim bus.
func (r *Rack) Simulator(bus string) (*device.Simulator, bool) {
	s, ok := r.sims[bus]
	return s, ok
}

// Device looks up a configured device by name and checks its type.
func (r *Rack) Device(name, typ string) (config.DeviceConfig, error) {
	d, ok := r.devices[name]
	if !ok {
		return config.DeviceConfig{}, fmt.Errorf("%w %q", ErrUnknownDevice, name)
	}
	if typ != "" && d.Type != typ {
		return config.DeviceConfig{}, fmt.Errorf("rack: device %q is a %s, not a %s", name, d.Type, typ)
	}
	return d, nil
}

func (r *Rack) Fan(name string) (*device.Fan, error) {
	d, err := r.Device(name, config.DeviceFan)
	if err != nil {
		return nil, err
	}
	return device.NewFan(r.dispatcher, d.ID), nil
}

func (r *Rack) StatusLed(name string) (*device.StatusLed, error) {
	d, err := r.Device(name, config.DeviceLed)
	if err != nil {
		return nil, err
	}
	return device.NewStatusLed(r.dispatcher, d.ID), nil
}

func (r *Rack) WatchDog(name string) (*device.WatchDogTimer, error) {
	d, err := r.Device(name, config.DeviceWatchdog)
	if err != nil {
		return nil, err
	}
	return device.NewWatchDogTimer(r.dispatcher, d.ID), nil
}

func (r *Rack) AcSocket(name string) (*device.AcSocket, error) {
	d, err := r.Device(name, config.DeviceAcSocket)
	if err != nil {
		return nil, err
	}
	return device.NewAcSocket(r.dispatcher, d.ID, r.cfg.PowerOffSettle()), nil
}

func (r *Rack) BladePower(name string) (*device.BladePowerSwitch, error) {
	d, err := r.Device(name, config.DeviceBladePower)
	if err != nil {
		return nil, err
	}
	return device.NewBladePowerSwitch(r.dispatcher, d.ID), nil
}

func (r *Rack) Jbod(name string) (*device.Jbod, error) {
	d, err := r.Device(name, config.DeviceJbod)
	if err != nil {
		return nil, err
	}
	return device.NewJbod(r.dispatcher, d.ID), nil
}

func (r *Rack) NodeManager(name string) (*device.NodeManager, error) {
	d, err := r.Device(name, config.DeviceNodeManager)
	if err != nil {
		return nil, err
	}
	return device.NewNodeManager(r.dispatcher, d.ID), nil
}

// Close closes every bus and the journal. It returns the last error.
func (r *Rack) Close() error {
	var last error
	for id, ch := range r.channels {
		if err := ch.Close(); err != nil {
			r.log.Warn().Str("bus", id).Err(err).Msg("bus close failed")
			last = err
		}
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			last = err
		}
	}
	return last
}
