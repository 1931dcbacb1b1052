// Package session defines the venue session surface consumed by the bridge
// and provides the websocket gateway implementation.
package session

import (
	"context"
	"time"

	"github.com/tidemark/mdbridge/internal/schema"
)

// Session owns the physical venue connection. One session is shared by all
// logical clients; implementations serialize and rate-limit physical calls.
type Session interface {
	// AwaitReady blocks until the session is connected and authenticated,
	// the timeout elapses, or ctx is cancelled.
	AwaitReady(ctx context.Context, timeout time.Duration) error

	// SetMarketDataType selects the venue feed mode for this session.
	SetMarketDataType(ctx context.Context, mdType schema.MarketDataType) error

	SubscribeTicks(ctx context.Context, instrument schema.Instrument, kind schema.TickKind, ignoreSize bool) error
	UnsubscribeTicks(ctx context.Context, instrument schema.Instrument, kind schema.TickKind) error

	SubscribeRealtimeBars(ctx context.Context, spec schema.BarSpec, instrument schema.Instrument, useRTH bool) error
	SubscribeHistoricalBars(ctx context.Context, spec schema.BarSpec, instrument schema.Instrument, useRTH, handleRevisions bool) error
	UnsubscribeRealtimeBars(ctx context.Context, instrument schema.Instrument, spec schema.BarSpec) error
	UnsubscribeHistoricalBars(ctx context.Context, instrument schema.Instrument, spec schema.BarSpec) error

	// FetchHistoricalTicks returns at most one venue page of ticks ending at
	// end. An empty page means no more data is available before end.
	FetchHistoricalTicks(ctx context.Context, instrument schema.Instrument, kind schema.TickKind, end time.Time, useRTH bool, timeout time.Duration) ([]schema.Record, error)

	// FetchHistoricalBars returns at most one venue page of bars covering
	// duration back from end. Duration strings use venue units ("60 S", "7 D").
	FetchHistoricalBars(ctx context.Context, spec schema.BarSpec, instrument schema.Instrument, useRTH bool, end time.Time, duration string, timeout time.Duration) ([]schema.Bar, error)

	// Stop tears the session down. Safe to call more than once.
	Stop()
}
