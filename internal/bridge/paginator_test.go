package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/directory"
	"github.com/tidemark/mdbridge/internal/schema"
)

var paginatorBase = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestPaginator(t *testing.T, sess *fakeSession, tickCapacity int) *Paginator {
	t.Helper()
	dir := directory.NewMemoryDirectory(directory.Options{TickCapacity: tickCapacity})
	p := NewPaginator(PaginatorConfig{}, sess, dir, nil, nil)
	p.clock = func() time.Time { return paginatorBase }
	return p
}

func TestTickPaginationStopsOnEmptyPage(t *testing.T) {
	instrument := testInstrument("EURUSD.IDEALPRO", "CASH")
	page := []schema.Record{
		quoteAt(instrument.ID, paginatorBase.Add(-2*time.Minute), paginatorBase.Add(-2*time.Minute)),
		quoteAt(instrument.ID, paginatorBase.Add(-time.Minute), paginatorBase.Add(-time.Minute)),
	}
	sess := &fakeSession{tickPages: [][]schema.Record{page}}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	req.Start = paginatorBase.Add(-24 * time.Hour)

	records, err := p.FetchTicks(context.Background(), req, instrument, schema.TickBidAsk)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// One page plus the empty page that terminates the walk.
	if sess.tickFetches != 2 {
		t.Fatalf("tick fetches = %d, want 2", sess.tickFetches)
	}
}

func TestTickPaginationTerminatesAtWindowStart(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	start := paginatorBase.Add(-10 * time.Minute)
	pages := [][]schema.Record{
		{
			quoteAt(instrument.ID, paginatorBase.Add(-4*time.Minute), paginatorBase.Add(-4*time.Minute)),
			quoteAt(instrument.ID, paginatorBase.Add(-2*time.Minute), paginatorBase.Add(-2*time.Minute)),
		},
		{
			// Oldest ingest at or before the window start ends the walk.
			quoteAt(instrument.ID, start.Add(-time.Second), start.Add(-time.Second)),
		},
	}
	sess := &fakeSession{tickPages: pages}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	req.Start = start

	records, err := p.FetchTicks(context.Background(), req, instrument, schema.TickBidAsk)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if sess.tickFetches != 2 {
		t.Fatalf("tick fetches = %d, want 2", sess.tickFetches)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
}

func TestTickPagesSortedByIngestTime(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	// Event times deliberately disagree with ingest times; ordering must
	// follow ingest.
	pages := [][]schema.Record{
		{
			quoteAt(instrument.ID, paginatorBase.Add(-time.Minute), paginatorBase.Add(-3*time.Minute)),
			quoteAt(instrument.ID, paginatorBase.Add(-5*time.Minute), paginatorBase.Add(-2*time.Minute)),
		},
		{
			quoteAt(instrument.ID, paginatorBase.Add(-2*time.Minute), paginatorBase.Add(-8*time.Minute)),
		},
	}
	sess := &fakeSession{tickPages: pages}
	p := newTestPaginator(t, sess, 3)

	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	records, err := p.FetchTicks(context.Background(), req, instrument, schema.TickBidAsk)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].IngestTime().Before(records[i-1].IngestTime()) {
			t.Fatalf("records out of ingest order at %d: %v before %v",
				i, records[i].IngestTime(), records[i-1].IngestTime())
		}
	}
}

func TestTickLimitDefaultsToDirectoryCapacity(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	page := []schema.Record{
		quoteAt(instrument.ID, paginatorBase.Add(-2*time.Minute), paginatorBase.Add(-2*time.Minute)),
		quoteAt(instrument.ID, paginatorBase.Add(-time.Minute), paginatorBase.Add(-time.Minute)),
	}
	sess := &fakeSession{tickPages: [][]schema.Record{page}}
	p := newTestPaginator(t, sess, 2)

	// No start and no limit: the directory tick capacity caps the walk, so
	// one full page satisfies it without a second fetch.
	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	records, err := p.FetchTicks(context.Background(), req, instrument, schema.TickBidAsk)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if sess.tickFetches != 1 {
		t.Fatalf("tick fetches = %d, want 1", sess.tickFetches)
	}
}

func TestTickPaginationRoundCap(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	// Every fetch returns one fresh tick but never reaches the window
	// start, so only the round cap ends the walk.
	pages := make([][]schema.Record, maxFetchRounds+10)
	for i := range pages {
		ts := paginatorBase.Add(-time.Duration(i+1) * time.Second)
		pages[i] = []schema.Record{quoteAt(instrument.ID, ts, ts)}
	}
	sess := &fakeSession{tickPages: pages}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	req.Start = paginatorBase.Add(-365 * 24 * time.Hour)

	records, err := p.FetchTicks(context.Background(), req, instrument, schema.TickBidAsk)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if sess.tickFetches != maxFetchRounds {
		t.Fatalf("tick fetches = %d, want %d", sess.tickFetches, maxFetchRounds)
	}
	if len(records) != maxFetchRounds {
		t.Fatalf("records = %d, want %d", len(records), maxFetchRounds)
	}
}

func TestTickPaginationCancelled(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	sess := &fakeSession{}
	p := newTestPaginator(t, sess, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	if _, err := p.FetchTicks(ctx, req, instrument, schema.TickBidAsk); err == nil {
		t.Fatal("expected cancellation error")
	}
	if sess.tickFetches != 0 {
		t.Fatalf("tick fetches = %d, want 0", sess.tickFetches)
	}
}

func TestBarOrderingUsesEventTime(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	spec := schema.BarSpec{Interval: time.Minute, Aggregation: schema.AggregationTime}
	pages := [][]schema.Bar{
		{
			barAt(instrument.ID, spec, paginatorBase.Add(-time.Minute), 101),
			barAt(instrument.ID, spec, paginatorBase.Add(-2*time.Minute), 100),
		},
	}
	sess := &fakeSession{barPages: pages}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.BarKind(spec))
	req.Limit = 2

	bars, err := p.FetchBars(context.Background(), req, instrument)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].EventTS.Before(bars[i-1].EventTS) {
			t.Fatalf("bars out of event order at %d", i)
		}
	}
}

func TestBarDeduplicationAtPageBoundary(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	spec := schema.BarSpec{Interval: time.Minute, Aggregation: schema.AggregationTime}
	boundary := barAt(instrument.ID, spec, paginatorBase.Add(-3*time.Minute), 100)
	pages := [][]schema.Bar{
		{
			boundary,
			barAt(instrument.ID, spec, paginatorBase.Add(-2*time.Minute), 101),
		},
		{
			barAt(instrument.ID, spec, paginatorBase.Add(-4*time.Minute), 99),
			boundary,
		},
	}
	sess := &fakeSession{barPages: pages}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.BarKind(spec))
	req.Limit = 3

	bars, err := p.FetchBars(context.Background(), req, instrument)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3 after dedup", len(bars))
	}
	seen := make(map[string]struct{}, len(bars))
	for _, bar := range bars {
		if _, dup := seen[bar.Key()]; dup {
			t.Fatalf("duplicate bar %s survived", bar.Key())
		}
		seen[bar.Key()] = struct{}{}
	}
}

func TestBarExplicitStartIssuesSingleFetch(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	spec := schema.BarSpec{Interval: time.Minute, Aggregation: schema.AggregationTime}
	page := make([]schema.Bar, 0, 30)
	for i := 30; i >= 1; i-- {
		page = append(page, barAt(instrument.ID, spec, paginatorBase.Add(-time.Duration(i)*time.Minute), 100+float64(i)))
	}
	sess := &fakeSession{barPages: [][]schema.Bar{page}}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.BarKind(spec))
	req.Start = paginatorBase.Add(-30 * time.Minute)
	req.End = paginatorBase

	bars, err := p.FetchBars(context.Background(), req, instrument)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if sess.barFetches != 1 {
		t.Fatalf("bar fetches = %d, want 1", sess.barFetches)
	}
	if len(bars) != 30 {
		t.Fatalf("bars = %d, want 30", len(bars))
	}
	if got := sess.barDurations[0]; got != "1800 S" {
		t.Fatalf("duration = %q, want \"1800 S\"", got)
	}
}

func TestBarDefaultDurationByInterval(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	cases := []struct {
		name     string
		interval time.Duration
		want     string
	}{
		{"minute bars walk a week at a time", time.Minute, "7 D"},
		{"sub-minute bars walk a day at a time", 10 * time.Second, "1 D"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := schema.BarSpec{Interval: tc.interval, Aggregation: schema.AggregationTime}
			page := []schema.Bar{barAt(instrument.ID, spec, paginatorBase.Add(-tc.interval), 100)}
			sess := &fakeSession{barPages: [][]schema.Bar{page}}
			p := newTestPaginator(t, sess, 100)

			req := schema.NewHistoricalRequest(instrument.ID, schema.BarKind(spec))
			bars, err := p.FetchBars(context.Background(), req, instrument)
			if err != nil {
				t.Fatalf("FetchBars: %v", err)
			}
			if len(bars) != 1 {
				t.Fatalf("bars = %d, want 1", len(bars))
			}
			if got := sess.barDurations[0]; got != tc.want {
				t.Fatalf("duration = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBarNonTimeAggregationNeverFetches(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	spec := schema.BarSpec{Interval: time.Minute, Aggregation: schema.AggregationVolume}
	sess := &fakeSession{}
	p := newTestPaginator(t, sess, 100)

	req := schema.NewHistoricalRequest(instrument.ID, schema.BarKind(spec))
	_, err := p.FetchBars(context.Background(), req, instrument)
	if errs.CodeOf(err) != errs.CodeUnsupportedAggregation {
		t.Fatalf("code = %q, want %q", errs.CodeOf(err), errs.CodeUnsupportedAggregation)
	}
	if sess.barFetches != 0 {
		t.Fatalf("bar fetches = %d, want 0", sess.barFetches)
	}
}

func TestPaginationNotReadyYieldsAccumulated(t *testing.T) {
	instrument := testInstrument("AAPL.NASDAQ", "STK")
	sess := &fakeSession{readyErr: errs.New("session.await-ready", errs.CodeSessionNotReady)}
	p := newTestPaginator(t, sess, 100)

	// Readiness never arrives: the walk aborts without a venue call and
	// yields what it has, here nothing.
	req := schema.NewHistoricalRequest(instrument.ID, schema.QuoteKind())
	records, err := p.FetchTicks(context.Background(), req, instrument, schema.TickBidAsk)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %d, want 0", len(records))
	}
	if sess.tickFetches != 0 {
		t.Fatalf("tick fetches = %d, want 0", sess.tickFetches)
	}
}
