package bridge

import (
	"context"
	"sort"
	"time"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
	"github.com/tidemark/mdbridge/internal/session"
	"github.com/tidemark/mdbridge/internal/telemetry"
)

const (
	// maxFetchRounds bounds pagination against a venue that keeps returning
	// pages without ever reaching the window start.
	maxFetchRounds = 120

	// defaultBarLimit caps fully unbounded bar requests.
	defaultBarLimit = 1000

	// defaultReadyTimeout bounds the readiness wait before each page fetch.
	defaultReadyTimeout = 10 * time.Second
)

// PaginatorConfig tunes historical pagination.
type PaginatorConfig struct {
	UseRTH       bool
	ReadyTimeout time.Duration
}

func (c PaginatorConfig) normalize() PaginatorConfig {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	return c
}

// Paginator walks venue history backwards one page at a time until a
// request's window or record cap is satisfied. The venue serves at most one
// page per call, newest data first, so the paginator repeatedly re-anchors
// the request end at the oldest record seen and fetches again.
type Paginator struct {
	cfg       PaginatorConfig
	session   session.Session
	directory capacitySource
	metrics   *telemetry.BridgeMetrics
	log       observability.Logger
	clock     func() time.Time
}

// capacitySource is the slice of the instrument directory the paginator
// needs.
type capacitySource interface {
	TickCapacity() int
}

// NewPaginator builds a paginator over the shared session.
func NewPaginator(cfg PaginatorConfig, sess session.Session, dir capacitySource, metrics *telemetry.BridgeMetrics, log observability.Logger) *Paginator {
	if log == nil {
		log = observability.Log()
	}
	return &Paginator{
		cfg:       cfg.normalize(),
		session:   sess,
		directory: dir,
		metrics:   metrics,
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// FetchTicks collects historical ticks for the request, paging backwards
// from the request end. Returned ticks ascend by ingest time. Pages are not
// deduplicated: the venue pages ticks by ingest clock, so adjacent pages
// never overlap.
func (p *Paginator) FetchTicks(ctx context.Context, req schema.HistoricalRequest, instrument schema.Instrument, kind schema.TickKind) ([]schema.Record, error) {
	limit := req.Limit
	if req.Start.IsZero() && limit == 0 {
		limit = p.directory.TickCapacity()
	}
	end := req.End
	if end.IsZero() {
		end = p.clock()
	}

	var records []schema.Record
	rounds := 0
	for p.wantMore(req.Start, end, limit, len(records)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rounds >= maxFetchRounds {
			p.log.Warn("tick pagination round cap reached",
				observability.F("instrument", string(instrument.ID)),
				observability.F("rounds", rounds),
				observability.F("records", len(records)))
			break
		}
		rounds++

		if err := p.session.AwaitReady(ctx, p.readyTimeout(req)); err != nil {
			p.log.Warn("session not ready, finishing tick request with accumulated records",
				observability.F("instrument", string(instrument.ID)),
				observability.F("records", len(records)),
				observability.F("error", err.Error()))
			break
		}
		started := p.clock()
		page, err := p.session.FetchHistoricalTicks(ctx, instrument, kind, end, p.cfg.UseRTH, req.Timeout)
		p.metrics.RecordFetchRound(ctx, kind.HistoricalQuery(), p.clock().Sub(started))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		records = append(records, page...)
		end = oldestIngest(page)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].IngestTime().Before(records[j].IngestTime())
	})
	return records, nil
}

// FetchBars collects historical bars for the request. Returned bars ascend
// by event time. Adjacent pages can overlap at the boundary bar, so bars are
// deduplicated by structural identity. A request with an explicit start
// issues a single fetch whose duration covers the whole window.
func (p *Paginator) FetchBars(ctx context.Context, req schema.HistoricalRequest, instrument schema.Instrument) ([]schema.Bar, error) {
	const op = "bridge/paginator.fetch-bars"
	spec := req.Kind.Bar
	if !spec.IsTimeAggregated() {
		return nil, errs.New(op, errs.CodeUnsupportedAggregation,
			errs.WithMessage("historical bars require time aggregation"))
	}

	limit := req.Limit
	if req.Start.IsZero() && limit == 0 {
		limit = defaultBarLimit
	}
	end := req.End
	if end.IsZero() {
		end = p.clock()
	}

	seen := make(map[string]struct{})
	var bars []schema.Bar
	rounds := 0
	for p.wantMore(req.Start, end, limit, len(bars)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rounds >= maxFetchRounds {
			p.log.Warn("bar pagination round cap reached",
				observability.F("instrument", string(instrument.ID)),
				observability.F("rounds", rounds),
				observability.F("bars", len(bars)))
			break
		}
		rounds++

		if err := p.session.AwaitReady(ctx, p.readyTimeout(req)); err != nil {
			p.log.Warn("session not ready, finishing bar request with accumulated records",
				observability.F("instrument", string(instrument.ID)),
				observability.F("bars", len(bars)),
				observability.F("error", err.Error()))
			break
		}
		duration := p.barDuration(req, spec, end)
		started := p.clock()
		page, err := p.session.FetchHistoricalBars(ctx, spec, instrument, p.cfg.UseRTH, end, duration, req.Timeout)
		p.metrics.RecordFetchRound(ctx, string(schema.KindBar), p.clock().Sub(started))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, bar := range page {
			key := bar.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			bars = append(bars, bar)
		}
		// An explicit window resolves in one call: the duration already
		// spans back to the start.
		if !req.Start.IsZero() {
			break
		}
		end = oldestEvent(bars)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].EventTS.Before(bars[j].EventTS)
	})
	return bars, nil
}

// wantMore is the pagination continuation predicate: keep fetching while the
// window start has not been reached, or while a record cap remains
// unsatisfied.
func (p *Paginator) wantMore(start, end time.Time, limit, have int) bool {
	if !start.IsZero() && end.After(start) {
		return true
	}
	return limit > 0 && have < limit
}

// barDuration computes the venue duration string for the next page: the
// elapsed window when a start is given, otherwise a fixed slice sized to the
// bar interval.
func (p *Paginator) barDuration(req schema.HistoricalRequest, spec schema.BarSpec, end time.Time) string {
	if !req.Start.IsZero() {
		return DurationString(end.Sub(req.Start))
	}
	if spec.Interval >= time.Minute {
		return "7 D"
	}
	return "1 D"
}

// readyTimeout bounds the readiness wait: the request's own timeout when
// set, the configured default otherwise.
func (p *Paginator) readyTimeout(req schema.HistoricalRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return p.cfg.ReadyTimeout
}

func oldestIngest(page []schema.Record) time.Time {
	oldest := page[0].IngestTime()
	for _, rec := range page[1:] {
		if ts := rec.IngestTime(); ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest
}

func oldestEvent(bars []schema.Bar) time.Time {
	oldest := bars[0].EventTS
	for _, bar := range bars[1:] {
		if bar.EventTS.Before(oldest) {
			oldest = bar.EventTS
		}
	}
	return oldest
}
