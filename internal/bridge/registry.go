package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
	"github.com/tidemark/mdbridge/internal/session"
)

// realtimeBarInterval is the only bar interval the venue serves from its
// native realtime bar stream; every other interval is synthesized from the
// historical bar feed with keep-up-to-date enabled.
const realtimeBarInterval = 5 * time.Second

// RegistryConfig tunes venue subscription behaviour.
type RegistryConfig struct {
	// UseRTH restricts bar data to regular trading hours.
	UseRTH bool
	// HandleBarRevisions forwards in-progress bar updates on historical
	// keep-up-to-date streams instead of only completed bars.
	HandleBarRevisions bool
	// IgnoreQuoteSize suppresses size-only quote updates.
	IgnoreQuoteSize bool
}

// Registry tracks which (instrument, kind) pairs hold a live venue
// subscription and which logical clients share the session. All operations
// are idempotent: subscribing an active key or unsubscribing an inactive one
// is a no-op.
type Registry struct {
	cfg     RegistryConfig
	session session.Session
	log     observability.Logger

	mu      sync.Mutex
	active  map[schema.SubscriptionKey]struct{}
	clients map[string]struct{}
}

// NewRegistry builds a registry over the shared venue session.
func NewRegistry(cfg RegistryConfig, sess session.Session, log observability.Logger) *Registry {
	if log == nil {
		log = observability.Log()
	}
	return &Registry{
		cfg:     cfg,
		session: sess,
		log:     log,
		active:  make(map[schema.SubscriptionKey]struct{}),
		clients: make(map[string]struct{}),
	}
}

// Attach registers a logical client as a user of the shared session and
// returns the attached client count.
func (r *Registry) Attach(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = struct{}{}
	return len(r.clients)
}

// Detach removes a logical client and returns how many remain. The session
// outlives any single client; callers stop it only when zero remain.
func (r *Registry) Detach(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	return len(r.clients)
}

// Subscribe establishes the venue subscription for the pair if it is not
// already active.
func (r *Registry) Subscribe(ctx context.Context, instrument schema.Instrument, kind schema.DataKind) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	key := schema.NewSubscriptionKey(instrument.ID, kind)

	r.mu.Lock()
	if _, ok := r.active[key]; ok {
		r.mu.Unlock()
		r.log.Debug("subscription already active",
			observability.F("instrument", string(instrument.ID)),
			observability.F("kind", key.Kind))
		return nil
	}
	r.mu.Unlock()

	if err := r.establish(ctx, instrument, kind); err != nil {
		return err
	}

	r.mu.Lock()
	r.active[key] = struct{}{}
	r.mu.Unlock()
	r.log.Info("subscribed",
		observability.F("instrument", string(instrument.ID)),
		observability.F("kind", key.Kind))
	return nil
}

// Unsubscribe tears down the venue subscription for the pair if it is
// active.
func (r *Registry) Unsubscribe(ctx context.Context, instrument schema.Instrument, kind schema.DataKind) error {
	key := schema.NewSubscriptionKey(instrument.ID, kind)

	r.mu.Lock()
	if _, ok := r.active[key]; !ok {
		r.mu.Unlock()
		r.log.Debug("subscription not active",
			observability.F("instrument", string(instrument.ID)),
			observability.F("kind", key.Kind))
		return nil
	}
	r.mu.Unlock()

	if err := r.teardown(ctx, instrument, kind); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.active, key)
	r.mu.Unlock()
	r.log.Info("unsubscribed",
		observability.F("instrument", string(instrument.ID)),
		observability.F("kind", key.Kind))
	return nil
}

// IsActive reports whether the pair currently holds a venue subscription.
func (r *Registry) IsActive(id schema.InstrumentID, kind schema.DataKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[schema.NewSubscriptionKey(id, kind)]
	return ok
}

// Active returns the current subscription keys ordered by instrument then
// kind.
func (r *Registry) Active() []schema.SubscriptionKey {
	r.mu.Lock()
	keys := make([]schema.SubscriptionKey, 0, len(r.active))
	for key := range r.active {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Instrument != keys[j].Instrument {
			return keys[i].Instrument < keys[j].Instrument
		}
		return keys[i].Kind < keys[j].Kind
	})
	return keys
}

func (r *Registry) establish(ctx context.Context, instrument schema.Instrument, kind schema.DataKind) error {
	const op = "bridge/registry.establish"
	switch kind.Name {
	case schema.KindQuote:
		return r.session.SubscribeTicks(ctx, instrument, schema.TickBidAsk, r.cfg.IgnoreQuoteSize)
	case schema.KindTrade:
		if instrument.IsCurrencyPair() {
			return errs.New(op, errs.CodeUnsupportedInstrument,
				errs.WithMessage(fmt.Sprintf("venue reports no trade prints for currency pair %s", instrument.ID)))
		}
		return r.session.SubscribeTicks(ctx, instrument, schema.TickAllLast, false)
	case schema.KindBar:
		if !kind.Bar.IsTimeAggregated() {
			return errs.New(op, errs.CodeUnsupportedAggregation,
				errs.WithMessage(fmt.Sprintf("venue cannot aggregate bars by %s", kind.Bar.Aggregation)))
		}
		if kind.Bar.Interval == realtimeBarInterval {
			return r.session.SubscribeRealtimeBars(ctx, kind.Bar, instrument, r.cfg.UseRTH)
		}
		return r.session.SubscribeHistoricalBars(ctx, kind.Bar, instrument, r.cfg.UseRTH, r.cfg.HandleBarRevisions)
	default:
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown data kind %q", kind.Name)))
	}
}

func (r *Registry) teardown(ctx context.Context, instrument schema.Instrument, kind schema.DataKind) error {
	const op = "bridge/registry.teardown"
	switch kind.Name {
	case schema.KindQuote:
		return r.session.UnsubscribeTicks(ctx, instrument, schema.TickBidAsk)
	case schema.KindTrade:
		return r.session.UnsubscribeTicks(ctx, instrument, schema.TickAllLast)
	case schema.KindBar:
		if kind.Bar.Interval == realtimeBarInterval {
			return r.session.UnsubscribeRealtimeBars(ctx, instrument, kind.Bar)
		}
		return r.session.UnsubscribeHistoricalBars(ctx, instrument, kind.Bar)
	default:
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown data kind %q", kind.Name)))
	}
}
