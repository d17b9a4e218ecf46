package telemetry

import "github.com/anubani/ibnet/internal/ib"

type fanout []ib.MetricHook

// Fanout combines several metric hooks into one, so the core can feed
// the scrape endpoint and the OTLP pipeline at the same time.
func Fanout(hooks ...ib.MetricHook) ib.MetricHook {
	return fanout(hooks)
}

func (f fanout) EventQueuePolled(dev string) {
	for _, h := range f {
		h.EventQueuePolled(dev)
	}
}

func (f fanout) SendCompleted(dev string, canceled bool) {
	for _, h := range f {
		h.SendCompleted(dev, canceled)
	}
}

func (f fanout) RecvCompleted(dev string, canceled bool) {
	for _, h := range f {
		h.RecvCompleted(dev, canceled)
	}
}

func (f fanout) RecvRefilled(dev string, posted int) {
	for _, h := range f {
		h.RecvRefilled(dev, posted)
	}
}
