package session

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/schema"
)

// frame is the gateway wire envelope. Requests carry an op plus params and a
// correlation id; replies echo the id and carry either data or an error.
type frame struct {
	Op     string         `json:"op"`
	ID     uint64         `json:"id,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Error  *frameError    `json:"error,omitempty"`
	Ticks  []wireTick     `json:"ticks,omitempty"`
	Bars   []wireBar      `json:"bars,omitempty"`
}

type frameError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

const (
	opHello             = "hello"
	opSetMarketDataType = "set_market_data_type"
	opSubscribeTicks    = "subscribe_ticks"
	opUnsubscribeTicks  = "unsubscribe_ticks"
	opSubscribeBars     = "subscribe_bars"
	opUnsubscribeBars   = "unsubscribe_bars"
	opFetchTicks        = "fetch_ticks"
	opFetchBars         = "fetch_bars"
)

// wireTick is one tick record as the gateway encodes it. Prices and sizes
// arrive as strings to preserve venue precision.
type wireTick struct {
	Bid     string `json:"bid,omitempty"`
	Ask     string `json:"ask,omitempty"`
	BidSize string `json:"bidSize,omitempty"`
	AskSize string `json:"askSize,omitempty"`
	Price   string `json:"price,omitempty"`
	Size    string `json:"size,omitempty"`
	TradeID string `json:"tradeId,omitempty"`
	TS      int64  `json:"ts"`
}

type wireBar struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	TS     int64  `json:"ts"`
}

func contractParams(instrument schema.Instrument) map[string]any {
	params := map[string]any{
		"symbol":   instrument.Contract.Symbol,
		"secType":  instrument.Contract.SecurityType,
		"exchange": instrument.Contract.Exchange,
		"currency": instrument.Contract.Currency,
	}
	if len(instrument.Contract.Attributes) > 0 {
		params["attributes"] = instrument.Contract.Attributes
	}
	return params
}

func decodeTicks(instrument schema.InstrumentID, kind schema.TickKind, ticks []wireTick, ingest time.Time) ([]schema.Record, error) {
	out := make([]schema.Record, 0, len(ticks))
	for i, wt := range ticks {
		eventTS := time.UnixMilli(wt.TS).UTC()
		if kind == schema.TickAllLast {
			price, err := parseDecimal(wt.Price, "price", i)
			if err != nil {
				return nil, err
			}
			size, err := parseDecimal(wt.Size, "size", i)
			if err != nil {
				return nil, err
			}
			out = append(out, schema.TradeTick{
				Instrument: instrument,
				Price:      price,
				Size:       size,
				TradeID:    wt.TradeID,
				EventTS:    eventTS,
				IngestTS:   ingest,
			})
			continue
		}
		bid, err := parseDecimal(wt.Bid, "bid", i)
		if err != nil {
			return nil, err
		}
		ask, err := parseDecimal(wt.Ask, "ask", i)
		if err != nil {
			return nil, err
		}
		bidSize, err := parseDecimal(wt.BidSize, "bidSize", i)
		if err != nil {
			return nil, err
		}
		askSize, err := parseDecimal(wt.AskSize, "askSize", i)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.QuoteTick{
			Instrument: instrument,
			BidPrice:   bid,
			AskPrice:   ask,
			BidSize:    bidSize,
			AskSize:    askSize,
			EventTS:    eventTS,
			IngestTS:   ingest,
		})
	}
	return out, nil
}

func decodeBars(instrument schema.InstrumentID, spec schema.BarSpec, bars []wireBar, ingest time.Time) ([]schema.Bar, error) {
	out := make([]schema.Bar, 0, len(bars))
	for i, wb := range bars {
		open, err := parseDecimal(wb.Open, "open", i)
		if err != nil {
			return nil, err
		}
		high, err := parseDecimal(wb.High, "high", i)
		if err != nil {
			return nil, err
		}
		low, err := parseDecimal(wb.Low, "low", i)
		if err != nil {
			return nil, err
		}
		closePx, err := parseDecimal(wb.Close, "close", i)
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(wb.Volume, "volume", i)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Bar{
			Instrument: instrument,
			Spec:       spec,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closePx,
			Volume:     volume,
			EventTS:    time.UnixMilli(wb.TS).UTC(),
			IngestTS:   ingest,
		})
	}
	return out, nil
}

func parseDecimal(raw, field string, index int) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errs.New("session/decode", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("record %d: bad %s %q", index, field, raw)),
			errs.WithCause(err))
	}
	return value, nil
}
