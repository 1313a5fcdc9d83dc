package scan

import "time"

// TimeProvider is the clock a scan reads elapsed time and progress ticks from.
type TimeProvider interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the part of time.Ticker the progress reporter uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealTimeProvider is the wall clock.
type RealTimeProvider struct{}

// Now returns time.Now.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// NewTicker wraps time.NewTicker.
func (RealTimeProvider) NewTicker(d time.Duration) Ticker { return wallTicker{time.NewTicker(d)} }

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }

func (w wallTicker) Stop() { w.t.Stop() }

// MockTimeProvider is a stopped clock for tests. Progress fires only when the test sends
// on Ticker.TickChan.
type MockTimeProvider struct {
	Ticker  *MockTicker
	Current time.Time
}

// MockTicker is the ticker every MockTimeProvider.NewTicker call returns.
type MockTicker struct {
	TickChan chan time.Time
}

// NewMockTimeProvider creates a clock stopped at start.
func NewMockTimeProvider(start time.Time) *MockTimeProvider {
	return &MockTimeProvider{
		Ticker:  &MockTicker{TickChan: make(chan time.Time, 1)},
		Current: start,
	}
}

func (m *MockTimeProvider) Now() time.Time { return m.Current }

func (m *MockTimeProvider) NewTicker(time.Duration) Ticker { return m.Ticker }

func (m *MockTicker) C() <-chan time.Time { return m.TickChan }

// Stop leaves TickChan open; the test owns it.
func (m *MockTicker) Stop() {}
