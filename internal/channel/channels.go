package channel

import (
	"orderflow/internal/channel/trades"
)

type Channels struct {
	Trades *trades.Channels
}

func NewChannels(rawBufferSize, batchBufferSize, snapshotBufferSize int) *Channels {
	return &Channels{
		Trades: trades.NewChannels(rawBufferSize, batchBufferSize, snapshotBufferSize),
	}
}

func (c *Channels) Close() {
	if c.Trades != nil {
		c.Trades.Close()
	}
}

// Utilization aggregates fill levels across all channel bundles keyed by
// bundle and channel name.
func (c *Channels) Utilization() map[string][2]int {
	out := map[string][2]int{}
	if c.Trades != nil {
		for name, lc := range c.Trades.Utilization() {
			out["trades_"+name] = lc
		}
	}
	return out
}
