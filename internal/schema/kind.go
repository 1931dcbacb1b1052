package schema

import (
	"fmt"
	"time"

	"github.com/tidemark/mdbridge/errs"
)

// KindName enumerates the closed set of streamable data kinds.
type KindName string

const (
	KindQuote KindName = "QUOTE"
	KindTrade KindName = "TRADE"
	KindBar   KindName = "BAR"
)

// Aggregation describes how bars are built from raw events.
type Aggregation string

const (
	// AggregationTime aggregates bars over fixed wall-clock intervals.
	AggregationTime Aggregation = "time"
	// AggregationTick aggregates bars over fixed tick counts.
	AggregationTick Aggregation = "tick"
	// AggregationVolume aggregates bars over fixed traded volume.
	AggregationVolume Aggregation = "volume"
)

// BarSpec describes one bar stream: its interval and aggregation source.
type BarSpec struct {
	Interval    time.Duration
	Aggregation Aggregation
}

// IsTimeAggregated reports whether the venue can serve this bar spec.
// The gateway only aggregates bars over fixed time intervals.
func (s BarSpec) IsTimeAggregated() bool {
	return s.Aggregation == AggregationTime && s.Interval > 0
}

// String renders the spec as interval plus aggregation, e.g. "1m0s-time".
func (s BarSpec) String() string {
	return fmt.Sprintf("%s-%s", s.Interval, s.Aggregation)
}

// DataKind is a closed tagged variant over quote, trade, and bar streams.
type DataKind struct {
	Name KindName
	Bar  BarSpec
}

// QuoteKind returns the quote stream variant.
func QuoteKind() DataKind { return DataKind{Name: KindQuote} }

// TradeKind returns the trade stream variant.
func TradeKind() DataKind { return DataKind{Name: KindTrade} }

// BarKind returns the bar stream variant for the given spec.
func BarKind(spec BarSpec) DataKind { return DataKind{Name: KindBar, Bar: spec} }

// Canonical renders the kind as a stable string usable in keys and topics.
func (k DataKind) Canonical() string {
	if k.Name == KindBar {
		return fmt.Sprintf("%s.%s", k.Name, k.Bar)
	}
	return string(k.Name)
}

// Validate checks that the variant is well formed.
func (k DataKind) Validate() error {
	switch k.Name {
	case KindQuote, KindTrade:
		return nil
	case KindBar:
		if k.Bar.Interval <= 0 {
			return errs.New("schema/data-kind", errs.CodeInvalid, errs.WithMessage("bar interval required"))
		}
		return nil
	default:
		return errs.New("schema/data-kind", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown data kind %q", k.Name)))
	}
}

// SubscriptionKey identifies one active venue subscription. At most one
// venue subscription exists per key regardless of how many logical clients
// requested it.
type SubscriptionKey struct {
	Instrument InstrumentID
	Kind       string
}

// NewSubscriptionKey builds the key for an (instrument, data-kind) pair.
func NewSubscriptionKey(id InstrumentID, kind DataKind) SubscriptionKey {
	return SubscriptionKey{Instrument: id, Kind: kind.Canonical()}
}

// TickKind selects the venue tick stream flavour.
type TickKind string

const (
	// TickBidAsk streams top-of-book quote updates.
	TickBidAsk TickKind = "BidAsk"
	// TickAllLast streams trade prints.
	TickAllLast TickKind = "AllLast"
)

// HistoricalQuery returns the venue query name for historical fetches of
// this tick kind.
func (t TickKind) HistoricalQuery() string {
	if t == TickAllLast {
		return "TRADES"
	}
	return "BID_ASK"
}
