// internal/writer/publisher.go
package writer

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tamzrod/rack-manager/internal/status"
)

// Publisher pushes tracker snapshots to the status writers of the devices
// that have a status block. Writers are not safe for concurrent use, so
// every delivery goes through mu.
type Publisher struct {
	mu      sync.Mutex
	tracker *status.Tracker
	writers map[string]StatusWriter
	names   []string
	log     zerolog.Logger
}

func NewPublisher(tr *status.Tracker, log zerolog.Logger) *Publisher {
	return &Publisher{
		tracker: tr,
		writers: make(map[string]StatusWriter),
		log:     log,
	}
}

// Add binds a device to its writer.
func (p *Publisher) Add(device string, w StatusWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.writers[device]; !ok {
		p.names = append(p.names, device)
	}
	p.writers[device] = w
}

// Publish delivers the current snapshot of every bound device.
// Writers only put changed slots on the wire, so this is cheap at 1 Hz.
func (p *Publisher) Publish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.names {
		p.deliver(name)
	}
}

// PublishDevice delivers one device's snapshot, if it has a block.
func (p *Publisher) PublishDevice(device string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.writers[device]; ok {
		p.deliver(device)
	}
}

func (p *Publisher) deliver(name string) {
	snap, ok := p.tracker.Snapshot(name)
	if !ok {
		return
	}
	if err := p.writers[name].WriteStatus(snap); err != nil {
		p.log.Warn().Str("device", name).Err(err).Msg("status write failed")
	}
}
