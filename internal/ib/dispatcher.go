package ib

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"
)

// PollEventQueue drains the device's event queue and then polls every
// completion queue the device owns. This is the only path by which
// completions are ever discovered; delivery is entirely pull-based.
func (d *Device) PollEventQueue() {
	d.ops.PollEventQueue(d)

	for _, cq := range d.cqs {
		d.PollCQ(cq)
	}

	if d.metrics != nil {
		d.metrics.EventQueuePolled(d.Name)
	}
}

// LinkStateChanged is invoked by driver backends when the physical link
// state changes. The notification is forwarded to the network-device
// layer; the core does not evaluate link state itself.
func (d *Device) LinkStateChanged() {
	log.Debug().Str("device", d.Name).Msg("Link state changed")
	if d.netdrv != nil {
		d.netdrv.LinkStateChanged(d)
	}
}

// Dispatcher drives the cooperative polling loop. One Step polls every
// registered device once; Run repeats steps at a fixed rate until the
// context is done. All core work, including completion callbacks and
// refills, happens synchronously inside a step, so a step must never
// block.
type Dispatcher struct {
	// AfterStep, when set, runs after every step, still on the
	// dispatcher goroutine. Periodic work that must not race the core
	// hooks in here.
	AfterStep func()

	reg     *Registry
	limiter ratelimit.Limiter
}

// NewDispatcher creates a dispatcher stepping stepsPerSecond times a
// second over the registry's devices.
func NewDispatcher(reg *Registry, stepsPerSecond int) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		limiter: ratelimit.New(stepsPerSecond),
	}
}

// Step polls the event queue of every registered device once.
func (p *Dispatcher) Step() {
	for _, dev := range p.reg.Devices() {
		dev.PollEventQueue()
	}
}

// Run steps the dispatcher at its configured rate until ctx is done.
func (p *Dispatcher) Run(ctx context.Context) {
	log.Info().Msg("Dispatcher running")
	for {
		p.limiter.Take()
		select {
		case <-ctx.Done():
			log.Info().Msg("Dispatcher stopped")
			return
		default:
		}
		p.Step()
		if p.AfterStep != nil {
			p.AfterStep()
		}
	}
}
