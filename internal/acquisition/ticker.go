package acquisition

import "time"

// Ticker paces the acquisition loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every period.
type TickerFactory func(period time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker is the default TickerFactory, backed by time.Ticker.
func NewTimeTicker(period time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(period)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }

func (t *timeTicker) Stop() { t.t.Stop() }
