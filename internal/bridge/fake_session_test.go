package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidemark/mdbridge/internal/schema"
)

// fakeSession scripts one venue session. Fetch methods pop pre-loaded pages
// in order and return empty pages once exhausted.
type fakeSession struct {
	mu sync.Mutex

	readyErr error
	fetchErr error

	tickPages [][]schema.Record
	barPages  [][]schema.Bar

	tickFetches    int
	barFetches     int
	barDurations   []string
	tickTimeouts   []time.Duration
	tickSubs       []schema.TickKind
	tickUnsubs     []schema.TickKind
	realtimeSubs   int
	realtimeUnsubs int
	histSubs       int
	histUnsubs     int
	subscribeErr   error
	mdType         schema.MarketDataType
	stopped        bool
}

func (s *fakeSession) AwaitReady(context.Context, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyErr
}

func (s *fakeSession) SetMarketDataType(_ context.Context, t schema.MarketDataType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mdType = t
	return nil
}

func (s *fakeSession) SubscribeTicks(_ context.Context, _ schema.Instrument, kind schema.TickKind, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.tickSubs = append(s.tickSubs, kind)
	return nil
}

func (s *fakeSession) UnsubscribeTicks(_ context.Context, _ schema.Instrument, kind schema.TickKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickUnsubs = append(s.tickUnsubs, kind)
	return nil
}

func (s *fakeSession) SubscribeRealtimeBars(context.Context, schema.BarSpec, schema.Instrument, bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.realtimeSubs++
	return nil
}

func (s *fakeSession) SubscribeHistoricalBars(context.Context, schema.BarSpec, schema.Instrument, bool, bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.histSubs++
	return nil
}

func (s *fakeSession) UnsubscribeRealtimeBars(context.Context, schema.Instrument, schema.BarSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realtimeUnsubs++
	return nil
}

func (s *fakeSession) UnsubscribeHistoricalBars(context.Context, schema.Instrument, schema.BarSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histUnsubs++
	return nil
}

func (s *fakeSession) FetchHistoricalTicks(_ context.Context, _ schema.Instrument, _ schema.TickKind, _ time.Time, _ bool, timeout time.Duration) ([]schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickFetches++
	s.tickTimeouts = append(s.tickTimeouts, timeout)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if len(s.tickPages) == 0 {
		return nil, nil
	}
	page := s.tickPages[0]
	s.tickPages = s.tickPages[1:]
	return page, nil
}

func (s *fakeSession) FetchHistoricalBars(_ context.Context, _ schema.BarSpec, _ schema.Instrument, _ bool, _ time.Time, duration string, _ time.Duration) ([]schema.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barFetches++
	s.barDurations = append(s.barDurations, duration)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if len(s.barPages) == 0 {
		return nil, nil
	}
	page := s.barPages[0]
	s.barPages = s.barPages[1:]
	return page, nil
}

func (s *fakeSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func quoteAt(instrument schema.InstrumentID, event, ingest time.Time) schema.QuoteTick {
	return schema.QuoteTick{
		Instrument: instrument,
		BidPrice:   decimal.NewFromFloat(1.10),
		AskPrice:   decimal.NewFromFloat(1.11),
		BidSize:    decimal.NewFromInt(100),
		AskSize:    decimal.NewFromInt(120),
		EventTS:    event,
		IngestTS:   ingest,
	}
}

func barAt(instrument schema.InstrumentID, spec schema.BarSpec, event time.Time, closePrice float64) schema.Bar {
	return schema.Bar{
		Instrument: instrument,
		Spec:       spec,
		Open:       decimal.NewFromFloat(closePrice - 0.5),
		High:       decimal.NewFromFloat(closePrice + 1),
		Low:        decimal.NewFromFloat(closePrice - 1),
		Close:      decimal.NewFromFloat(closePrice),
		Volume:     decimal.NewFromInt(1000),
		EventTS:    event,
		IngestTS:   event.Add(time.Second),
	}
}

func testInstrument(id schema.InstrumentID, secType string) schema.Instrument {
	return schema.Instrument{
		ID: id,
		Contract: schema.Contract{
			Symbol:       string(id),
			SecurityType: secType,
			Exchange:     "SMART",
			Currency:     "USD",
		},
		TickSize: decimal.NewFromFloat(0.01),
	}
}
