package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Record is any timestamped market data element returned by a historical
// request. EventTime is the venue-reported event clock; IngestTime is the
// local receipt clock. Ticks order by ingest time, bars by event time.
type Record interface {
	EventTime() time.Time
	IngestTime() time.Time
}

// QuoteTick is a single top-of-book quote update.
type QuoteTick struct {
	Instrument InstrumentID
	BidPrice   decimal.Decimal
	AskPrice   decimal.Decimal
	BidSize    decimal.Decimal
	AskSize    decimal.Decimal
	EventTS    time.Time
	IngestTS   time.Time
}

func (t QuoteTick) EventTime() time.Time  { return t.EventTS }
func (t QuoteTick) IngestTime() time.Time { return t.IngestTS }

// TradeTick is a single trade print.
type TradeTick struct {
	Instrument InstrumentID
	Price      decimal.Decimal
	Size       decimal.Decimal
	TradeID    string
	EventTS    time.Time
	IngestTS   time.Time
}

func (t TradeTick) EventTime() time.Time  { return t.EventTS }
func (t TradeTick) IngestTime() time.Time { return t.IngestTS }

// Bar is an aggregated price/volume record over a fixed interval.
type Bar struct {
	Instrument InstrumentID
	Spec       BarSpec
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	EventTS    time.Time
	IngestTS   time.Time
}

func (b Bar) EventTime() time.Time  { return b.EventTS }
func (b Bar) IngestTime() time.Time { return b.IngestTS }

// Key returns the structural identity of the bar. Two bars for the same
// instant, interval, and prices are the same bar; overlapping page
// boundaries can return it twice.
func (b Bar) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		b.Instrument,
		b.Spec,
		b.EventTS.UnixNano(),
		b.Open.String(),
		b.High.String(),
		b.Low.String(),
		b.Close.String(),
		b.Volume.String(),
	)
}
