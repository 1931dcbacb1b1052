// Package bridge exposes the uniform market data surface: streaming
// subscriptions and bounded historical requests over one shared venue
// session.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/bus/databus"
	instrumentdir "github.com/tidemark/mdbridge/internal/directory"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
	"github.com/tidemark/mdbridge/internal/session"
	"github.com/tidemark/mdbridge/internal/telemetry"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 60 * time.Second
)

// Config assembles the bridge facade.
type Config struct {
	// ClientID names this logical client on the shared session.
	ClientID string
	// ConnectTimeout bounds the readiness wait during Connect.
	ConnectTimeout time.Duration
	// RequestTimeout is applied to historical requests that carry no
	// per-request timeout of their own.
	RequestTimeout time.Duration
	// MarketDataType selects the venue feed mode applied at connect.
	MarketDataType schema.MarketDataType

	Paginator PaginatorConfig
}

func (c Config) normalize() Config {
	if c.ClientID == "" {
		c.ClientID = "mdbridge"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MarketDataType == "" {
		c.MarketDataType = schema.MarketDataRealtime
	}
	return c
}

// Bridge is the facade over the session, directory, and bus. Subscriptions
// are idempotent and keyed per (instrument, kind); historical requests page
// venue history and terminate with exactly one status event.
type Bridge struct {
	cfg       Config
	session   session.Session
	directory instrumentdir.Directory
	registry  *Registry
	paginator *Paginator
	publisher *Publisher
	metrics   *telemetry.BridgeMetrics
	log       observability.Logger

	mu        sync.Mutex
	connected bool
}

// New assembles a bridge over the given registry, directory, and bus. The
// registry carries the shared venue session; bridges for distinct logical
// clients of one session must share one registry so the session is stopped
// only when the last of them disconnects.
func New(cfg Config, reg *Registry, dir instrumentdir.Directory, bus databus.Bus, metrics *telemetry.BridgeMetrics, log observability.Logger) *Bridge {
	if log == nil {
		log = observability.Log()
	}
	cfg = cfg.normalize()
	return &Bridge{
		cfg:       cfg,
		session:   reg.session,
		directory: dir,
		registry:  reg,
		paginator: NewPaginator(cfg.Paginator, reg.session, dir, metrics, log),
		publisher: NewPublisher(bus, metrics, log),
		metrics:   metrics,
		log:       log,
	}
}

// Connect waits for session readiness, attaches this client, applies the
// configured market data type, and publishes the known instrument universe.
// Connect is idempotent.
func (b *Bridge) Connect(ctx context.Context) error {
	const op = "bridge.connect"
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.session.AwaitReady(ctx, b.cfg.ConnectTimeout); err != nil {
		return errs.New(op, errs.CodeSessionNotReady,
			errs.WithMessage("session not ready within connect timeout"),
			errs.WithCause(err))
	}
	b.registry.Attach(b.cfg.ClientID)
	if err := b.session.SetMarketDataType(ctx, b.cfg.MarketDataType); err != nil {
		return err
	}

	instruments, err := b.directory.ListAll(ctx)
	if err != nil {
		b.log.Warn("instrument warm load failed", observability.F("error", err.Error()))
	}
	for _, instrument := range instruments {
		if err := b.publisher.PublishInstrument(ctx, instrument); err != nil {
			b.log.Warn("instrument publish failed",
				observability.F("instrument", string(instrument.ID)),
				observability.F("error", err.Error()))
		}
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.log.Info("bridge connected",
		observability.F("client", b.cfg.ClientID),
		observability.F("market_data_type", string(b.cfg.MarketDataType)),
		observability.F("instruments", len(instruments)))
	return nil
}

// Disconnect detaches this client. The shared session is stopped only when
// the last client detaches. Disconnect is idempotent.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	b.mu.Unlock()

	if remaining := b.registry.Detach(b.cfg.ClientID); remaining == 0 {
		b.session.Stop()
	}
	b.log.Info("bridge disconnected", observability.F("client", b.cfg.ClientID))
	return nil
}

// Subscribe establishes a streaming subscription for the pair. Precondition
// failures are returned to the caller and never reach the bus.
func (b *Bridge) Subscribe(ctx context.Context, id schema.InstrumentID, kind schema.DataKind) error {
	instrument, err := b.directory.Resolve(ctx, id)
	if err != nil {
		b.log.Error("subscribe rejected",
			observability.F("instrument", string(id)),
			observability.F("kind", kind.Canonical()),
			observability.F("error", err.Error()))
		return err
	}
	if b.registry.IsActive(id, kind) {
		return nil
	}
	if err := b.registry.Subscribe(ctx, instrument, kind); err != nil {
		b.log.Error("subscribe failed",
			observability.F("instrument", string(id)),
			observability.F("kind", kind.Canonical()),
			observability.F("error", err.Error()))
		return err
	}
	b.metrics.SubscriptionStarted(ctx, string(kind.Name))
	return nil
}

// Unsubscribe tears down a streaming subscription for the pair.
func (b *Bridge) Unsubscribe(ctx context.Context, id schema.InstrumentID, kind schema.DataKind) error {
	instrument, err := b.directory.Resolve(ctx, id)
	if err != nil {
		b.log.Error("unsubscribe rejected",
			observability.F("instrument", string(id)),
			observability.F("kind", kind.Canonical()),
			observability.F("error", err.Error()))
		return err
	}
	if !b.registry.IsActive(id, kind) {
		return nil
	}
	if err := b.registry.Unsubscribe(ctx, instrument, kind); err != nil {
		b.log.Error("unsubscribe failed",
			observability.F("instrument", string(id)),
			observability.F("kind", kind.Canonical()),
			observability.F("error", err.Error()))
		return err
	}
	b.metrics.SubscriptionStopped(ctx, string(kind.Name))
	return nil
}

// RequestQuoteTicks pages historical quote ticks for the request window and
// publishes them, then emits the terminal status event.
func (b *Bridge) RequestQuoteTicks(ctx context.Context, req schema.HistoricalRequest) error {
	req.Kind = schema.QuoteKind()
	return b.request(ctx, req)
}

// RequestTradeTicks pages historical trade ticks for the request window and
// publishes them, then emits the terminal status event.
func (b *Bridge) RequestTradeTicks(ctx context.Context, req schema.HistoricalRequest) error {
	req.Kind = schema.TradeKind()
	return b.request(ctx, req)
}

// RequestBars pages historical bars for the request window and publishes
// them, then emits the terminal status event. The request kind must be a bar
// kind.
func (b *Bridge) RequestBars(ctx context.Context, req schema.HistoricalRequest) error {
	return b.request(ctx, req)
}

// RequestInstrument refreshes, resolves, and publishes one instrument
// definition, then emits the terminal status event. Time-range fields on the
// request are ignored.
func (b *Bridge) RequestInstrument(ctx context.Context, req schema.HistoricalRequest) error {
	// The terminal status must reach the bus even when the request context
	// was cancelled mid-flight.
	statusCtx := context.WithoutCancel(ctx)
	status := schema.StatusFailed
	defer func() {
		b.publisher.PublishStatus(statusCtx, req, status)
		b.metrics.RecordRequest(statusCtx, "INSTRUMENT", strings.ToLower(string(status)))
	}()

	if !req.Start.IsZero() {
		b.log.Warn("instrument requests ignore the start field",
			observability.F("request", req.ID.String()),
			observability.F("instrument", string(req.Instrument)))
	}
	if !req.End.IsZero() {
		b.log.Warn("instrument requests ignore the end field",
			observability.F("request", req.ID.String()),
			observability.F("instrument", string(req.Instrument)))
	}

	b.directory.LoadAsync(ctx, req.Instrument)
	instrument, err := b.directory.Resolve(ctx, req.Instrument)
	if err != nil {
		return err
	}
	if err := b.publisher.PublishRequestInstrument(ctx, req, instrument); err != nil {
		return err
	}
	status = schema.StatusSuccess
	return nil
}

// request runs one historical request end to end. Exactly one status event
// is published per request regardless of outcome.
func (b *Bridge) request(ctx context.Context, req schema.HistoricalRequest) error {
	const op = "bridge.request"
	if req.Timeout <= 0 {
		req.Timeout = b.cfg.RequestTimeout
	}
	// The terminal status must reach the bus even when the request context
	// was cancelled mid-flight.
	statusCtx := context.WithoutCancel(ctx)
	status := schema.StatusFailed
	defer func() {
		b.publisher.PublishStatus(statusCtx, req, status)
		b.metrics.RecordRequest(statusCtx, string(req.Kind.Name), strings.ToLower(string(status)))
	}()

	if err := req.Kind.Validate(); err != nil {
		return err
	}
	if !req.Start.IsZero() && !req.End.IsZero() && !req.End.After(req.Start) {
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage("request end must be after start"))
	}
	instrument, err := b.directory.Resolve(ctx, req.Instrument)
	if err != nil {
		return err
	}

	var (
		payload any
		count   int
		first   time.Time
		last    time.Time
	)
	switch req.Kind.Name {
	case schema.KindQuote:
		records, ferr := b.paginator.FetchTicks(ctx, req, instrument, schema.TickBidAsk)
		if ferr != nil {
			return ferr
		}
		payload, count = records, len(records)
		if count > 0 {
			first, last = records[0].IngestTime(), records[count-1].IngestTime()
		}
	case schema.KindTrade:
		if instrument.IsCurrencyPair() {
			return errs.New(op, errs.CodeUnsupportedInstrument,
				errs.WithMessage(fmt.Sprintf("venue reports no trade prints for currency pair %s", instrument.ID)))
		}
		records, ferr := b.paginator.FetchTicks(ctx, req, instrument, schema.TickAllLast)
		if ferr != nil {
			return ferr
		}
		payload, count = records, len(records)
		if count > 0 {
			first, last = records[0].IngestTime(), records[count-1].IngestTime()
		}
	case schema.KindBar:
		bars, ferr := b.paginator.FetchBars(ctx, req, instrument)
		if ferr != nil {
			return ferr
		}
		payload, count = bars, len(bars)
		if count > 0 {
			first, last = bars[0].EventTS, bars[count-1].EventTS
		}
	default:
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown data kind %q", req.Kind.Name)))
	}

	// An empty result is failed-empty: no data event, terminal status
	// Failed, but no error back to the caller.
	if count == 0 {
		b.log.Info("request returned no data",
			observability.F("request", req.ID.String()),
			observability.F("instrument", string(req.Instrument)),
			observability.F("kind", req.Kind.Canonical()))
		return nil
	}

	b.publisher.WarnOutsideWindow(req, first, last)
	if err := b.publisher.PublishRequestData(ctx, req, payload, count); err != nil {
		return err
	}
	status = schema.StatusSuccess
	b.log.Info("request completed",
		observability.F("request", req.ID.String()),
		observability.F("instrument", string(req.Instrument)),
		observability.F("kind", req.Kind.Canonical()),
		observability.F("records", count))
	return nil
}
