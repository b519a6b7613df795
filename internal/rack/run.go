// internal/rack/run.go
package rack

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/rack-manager/internal/poller"
	"github.com/tamzrod/rack-manager/internal/writer"
)

// Run probes every bus and publishes device health until ctx is done.
// One poller goroutine per bus, one consumer, one 1 Hz status clock.
func (r *Rack) Run(ctx context.Context) error {
	pub, closePub, err := writer.Build(r.cfg, r.tracker, r.log.With().Str("component", "status").Logger())
	if err != nil {
		return err
	}
	defer closePub()

	var pollers []*poller.Poller
	for _, b := range r.cfg.Buses {
		p, err := poller.Build(b.ID, r.cfg.PollInterval(), r.cfg.Devices, r.dispatcher)
		if err != nil {
			return err
		}
		if p != nil {
			pollers = append(pollers, p)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	out := make(chan poller.PollResult)

	for _, p := range pollers {
		p := p
		g.Go(func() error {
			p.Run(ctx, out)
			return nil
		})
	}

	// Full block write on start (identity re-assert).
	var publish func()
	if pub != nil {
		pub.Publish()
		publish = pub.Publish
	}

	g.Go(func() error {
		r.tracker.Run(ctx, publish)
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case res := <-out:
				r.consume(res, pub)
			}
		}
	})

	r.log.Info().Int("pollers", len(pollers)).Bool("status_memory", pub != nil).Msg("rack running")
	return g.Wait()
}

func (r *Rack) consume(res poller.PollResult, pub *writer.Publisher) {
	if res.Err != nil {
		r.log.Warn().Str("bus", res.BusID).Err(res.Err).Msg("poll cycle failed")
	}
	for _, pr := range res.Probes {
		snap, changed := r.tracker.Record(pr.Device, pr.Outcome)
		if !changed {
			continue
		}
		r.log.Info().
			Str("device", pr.Device).
			Uint16("health", snap.Health).
			Uint16("last_error", snap.LastErrorCode).
			Msg("device health changed")
		if pub != nil {
			pub.PublishDevice(pr.Device)
		}
	}
}
