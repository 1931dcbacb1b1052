package bridge

import (
	"context"
	"time"

	"github.com/tidemark/mdbridge/internal/bus/databus"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
	"github.com/tidemark/mdbridge/internal/telemetry"
)

// Publisher delivers bridge events to the data bus. It owns topic layout and
// the request time-window advisory; exactly-once status delivery is the
// caller's contract.
type Publisher struct {
	bus     databus.Bus
	metrics *telemetry.BridgeMetrics
	log     observability.Logger
}

// NewPublisher builds a publisher over the given bus.
func NewPublisher(bus databus.Bus, metrics *telemetry.BridgeMetrics, log observability.Logger) *Publisher {
	if log == nil {
		log = observability.Log()
	}
	return &Publisher{bus: bus, metrics: metrics, log: log}
}

// PublishStatus emits the terminal status event for a request on its status
// topic.
func (p *Publisher) PublishStatus(ctx context.Context, req schema.HistoricalRequest, status schema.Status) {
	event := schema.StatusEvent{RequestID: req.ID, Status: status}
	if err := p.bus.Publish(ctx, RequestTopic(req.ID), event); err != nil {
		p.log.Warn("status publish failed",
			observability.F("request", req.ID.String()),
			observability.F("status", string(status)),
			observability.F("error", err.Error()))
	}
}

// PublishRequestData delivers a request's payload on the instrument's kind
// topic, tagged with the request correlation id.
func (p *Publisher) PublishRequestData(ctx context.Context, req schema.HistoricalRequest, payload any, count int) error {
	event := schema.DataEvent{
		RequestID:  req.ID,
		Instrument: req.Instrument,
		Kind:       req.Kind.Canonical(),
		Payload:    payload,
	}
	if err := p.bus.Publish(ctx, DataTopic(req.Instrument, req.Kind), event); err != nil {
		return err
	}
	p.metrics.RecordPublished(ctx, string(req.Kind.Name), count)
	return nil
}

// PublishInstrument delivers an instrument definition on the instrument
// topic.
func (p *Publisher) PublishInstrument(ctx context.Context, instrument schema.Instrument) error {
	return p.bus.Publish(ctx, InstrumentTopic, instrument)
}

// PublishRequestInstrument delivers an instrument definition on the
// instrument topic tagged with the request correlation id.
func (p *Publisher) PublishRequestInstrument(ctx context.Context, req schema.HistoricalRequest, instrument schema.Instrument) error {
	event := schema.DataEvent{
		RequestID:  req.ID,
		Instrument: instrument.ID,
		Kind:       "INSTRUMENT",
		Payload:    instrument,
	}
	return p.bus.Publish(ctx, InstrumentTopic, event)
}

// WarnOutsideWindow logs when returned records spill outside the requested
// window. The venue pages by its own clocks, so a page anchored at the
// window edge can carry records just past it; callers deliver the data
// anyway and leave trimming to consumers.
func (p *Publisher) WarnOutsideWindow(req schema.HistoricalRequest, first, last time.Time) {
	outsideStart := !req.Start.IsZero() && first.Before(req.Start)
	outsideEnd := !req.End.IsZero() && last.After(req.End)
	if !outsideStart && !outsideEnd {
		return
	}
	p.log.Warn("records outside requested window",
		observability.F("request", req.ID.String()),
		observability.F("instrument", string(req.Instrument)),
		observability.F("first", first.Format(time.RFC3339Nano)),
		observability.F("last", last.Format(time.RFC3339Nano)))
}
