package metrics

import (
	"context"

	"github.com/radiant-proxy/rxdproxy/internal/eventbus"
)

// Run subscribes to bus and updates m's counters/gauges from every
// event until ctx is cancelled. Run this in its own goroutine.
func (m *Metrics) Run(ctx context.Context, bus *eventbus.Bus) {
	id, events := bus.Subscribe()
	defer bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case eventbus.KindShare:
				if evt.Accepted {
					m.SharesAccepted.Inc()
					m.ShareDifficulty.Observe(evt.ShareDifficulty)
				} else {
					m.SharesRejected.WithLabelValues("rejected").Inc()
				}
			case eventbus.KindBlock:
				m.BlocksFound.Inc()
			case eventbus.KindConnect:
				m.RecordConnect()
			case eventbus.KindDisconnect:
				m.RecordDisconnect()
			}
		}
	}
}
