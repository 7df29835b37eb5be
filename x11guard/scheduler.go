package x11guard

import "time"

// Scheduler drives the periodic triggers. Its tickers run independently of
// the Notifier and are never reset by it, so a leak is noticed within one
// fallback period even if no descriptor change is ever reported.
type Scheduler struct {
	fallback *time.Ticker
	scan     *time.Ticker
}

// NewScheduler starts both tickers.
func NewScheduler(fallback, scan time.Duration) *Scheduler {
	return &Scheduler{
		fallback: time.NewTicker(fallback),
		scan:     time.NewTicker(scan),
	}
}

// Fallback ticks every fallback poll interval.
func (s *Scheduler) Fallback() <-chan time.Time { return s.fallback.C }

// Scan ticks every scan interval.
func (s *Scheduler) Scan() <-chan time.Time { return s.scan.C }

// Stop stops both tickers.
func (s *Scheduler) Stop() {
	s.fallback.Stop()
	s.scan.Stop()
}
