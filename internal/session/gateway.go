package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
)

const (
	defaultCallsPerSecond = 45.0 // venue pacing: 50 msg/s with headroom
	defaultCallBurst      = 5
	defaultWriteTimeout   = 5 * time.Second
	defaultFetchTimeout   = 60 * time.Second
)

// GatewayConfig configures the websocket gateway session.
type GatewayConfig struct {
	URL            string
	ClientID       string
	CallsPerSecond float64
	CallBurst      int

	// StreamHandler receives decoded live stream payloads keyed by topic.
	// Nil drops stream data on the floor.
	StreamHandler func(topic string, payload any)
}

func (c GatewayConfig) normalize() GatewayConfig {
	if c.CallsPerSecond <= 0 {
		c.CallsPerSecond = defaultCallsPerSecond
	}
	if c.CallBurst <= 0 {
		c.CallBurst = defaultCallBurst
	}
	return c
}

// Gateway is a Session backed by a JSON-over-websocket venue gateway
// connection. It reconnects with exponential backoff, restores
// subscriptions after reconnect, and paces outbound calls.
type Gateway struct {
	cfg GatewayConfig

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	readyMu sync.Mutex
	readyCh chan struct{}

	msgID     atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan *frame

	subsMu sync.Mutex
	subs   map[string]frame

	limiter   *rate.Limiter
	lifecycle conc.WaitGroup
	stopOnce  sync.Once
	clock     func() time.Time
	log       observability.Logger
}

// NewGateway constructs a gateway session. Call Start to begin connecting.
func NewGateway(cfg GatewayConfig) *Gateway {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	g := new(Gateway)
	g.cfg = cfg
	g.ctx = ctx
	g.cancel = cancel
	g.readyCh = make(chan struct{})
	g.pending = make(map[uint64]chan *frame)
	g.subs = make(map[string]frame)
	g.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), cfg.CallBurst)
	g.clock = time.Now
	g.log = observability.Log()
	return g
}

// Start launches the connection loop. It returns immediately; use
// AwaitReady to gate on the handshake.
func (g *Gateway) Start() {
	g.lifecycle.Go(func() {
		if err := g.connectLoop(); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Error("gateway connection loop exited", observability.F("error", err))
		}
	})
}

// AwaitReady blocks until the session handshake completes, the timeout
// elapses, or ctx is cancelled.
func (g *Gateway) AwaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-g.ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await ready: %w", ctx.Err())
	case <-g.ctx.Done():
		return errs.New("session/await-ready", errs.CodeUnavailable, errs.WithMessage("session stopped"))
	case <-timer.C:
		return errs.New("session/await-ready", errs.CodeSessionNotReady,
			errs.WithMessage(fmt.Sprintf("gateway not ready within %s", timeout)))
	}
}

// SetMarketDataType selects the venue feed mode.
func (g *Gateway) SetMarketDataType(ctx context.Context, mdType schema.MarketDataType) error {
	_, err := g.request(ctx, frame{
		Op:     opSetMarketDataType,
		Params: map[string]any{"type": mdType.Code()},
	}, defaultWriteTimeout)
	return err
}

// SubscribeTicks opens a live tick stream for the instrument.
func (g *Gateway) SubscribeTicks(ctx context.Context, instrument schema.Instrument, kind schema.TickKind, ignoreSize bool) error {
	params := contractParams(instrument)
	params["tickType"] = string(kind)
	params["ignoreSize"] = ignoreSize
	fr := frame{Op: opSubscribeTicks, Params: params}
	return g.subscribe(ctx, tickSubKey(instrument.ID, kind), fr)
}

// UnsubscribeTicks closes the live tick stream for the instrument.
func (g *Gateway) UnsubscribeTicks(ctx context.Context, instrument schema.Instrument, kind schema.TickKind) error {
	params := contractParams(instrument)
	params["tickType"] = string(kind)
	return g.unsubscribe(ctx, tickSubKey(instrument.ID, kind), frame{Op: opUnsubscribeTicks, Params: params})
}

// SubscribeRealtimeBars opens a continuous bar stream.
func (g *Gateway) SubscribeRealtimeBars(ctx context.Context, spec schema.BarSpec, instrument schema.Instrument, useRTH bool) error {
	params := contractParams(instrument)
	params["barSpec"] = spec.String()
	params["useRTH"] = useRTH
	params["realtime"] = true
	fr := frame{Op: opSubscribeBars, Params: params}
	return g.subscribe(ctx, barSubKey(instrument.ID, spec), fr)
}

// SubscribeHistoricalBars opens a polling bar stream with optional
// revision handling.
func (g *Gateway) SubscribeHistoricalBars(ctx context.Context, spec schema.BarSpec, instrument schema.Instrument, useRTH, handleRevisions bool) error {
	params := contractParams(instrument)
	params["barSpec"] = spec.String()
	params["useRTH"] = useRTH
	params["realtime"] = false
	params["handleRevisions"] = handleRevisions
	fr := frame{Op: opSubscribeBars, Params: params}
	return g.subscribe(ctx, barSubKey(instrument.ID, spec), fr)
}

// UnsubscribeRealtimeBars closes a continuous bar stream.
func (g *Gateway) UnsubscribeRealtimeBars(ctx context.Context, instrument schema.Instrument, spec schema.BarSpec) error {
	params := contractParams(instrument)
	params["barSpec"] = spec.String()
	return g.unsubscribe(ctx, barSubKey(instrument.ID, spec), frame{Op: opUnsubscribeBars, Params: params})
}

// UnsubscribeHistoricalBars closes a polling bar stream.
func (g *Gateway) UnsubscribeHistoricalBars(ctx context.Context, instrument schema.Instrument, spec schema.BarSpec) error {
	return g.UnsubscribeRealtimeBars(ctx, instrument, spec)
}

// FetchHistoricalTicks requests one page of historical ticks ending at end.
func (g *Gateway) FetchHistoricalTicks(ctx context.Context, instrument schema.Instrument, kind schema.TickKind, end time.Time, useRTH bool, timeout time.Duration) ([]schema.Record, error) {
	params := contractParams(instrument)
	params["tickType"] = kind.HistoricalQuery()
	params["end"] = end.UnixMilli()
	params["useRTH"] = useRTH
	reply, err := g.request(ctx, frame{Op: opFetchTicks, Params: params}, timeout)
	if err != nil {
		return nil, err
	}
	return decodeTicks(instrument.ID, kind, reply.Ticks, g.clock().UTC())
}

// FetchHistoricalBars requests one page of historical bars covering
// duration back from end.
func (g *Gateway) FetchHistoricalBars(ctx context.Context, spec schema.BarSpec, instrument schema.Instrument, useRTH bool, end time.Time, duration string, timeout time.Duration) ([]schema.Bar, error) {
	params := contractParams(instrument)
	params["barSpec"] = spec.String()
	params["end"] = end.UnixMilli()
	params["duration"] = duration
	params["useRTH"] = useRTH
	reply, err := g.request(ctx, frame{Op: opFetchBars, Params: params}, timeout)
	if err != nil {
		return nil, err
	}
	return decodeBars(instrument.ID, spec, reply.Bars, g.clock().UTC())
}

// Stop closes the connection and cancels all in-flight work.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.cancel()
		g.connMu.Lock()
		if g.conn != nil {
			_ = g.conn.Close(websocket.StatusNormalClosure, "shutdown")
			g.conn = nil
		}
		g.connMu.Unlock()
		g.lifecycle.Wait()
	})
}

func tickSubKey(id schema.InstrumentID, kind schema.TickKind) string {
	return fmt.Sprintf("ticks:%s:%s", id, kind)
}

func barSubKey(id schema.InstrumentID, spec schema.BarSpec) string {
	return fmt.Sprintf("bars:%s:%s", id, spec)
}

func (g *Gateway) subscribe(ctx context.Context, key string, fr frame) error {
	g.subsMu.Lock()
	g.subs[key] = fr
	g.subsMu.Unlock()
	_, err := g.request(ctx, fr, defaultWriteTimeout)
	if err != nil {
		g.subsMu.Lock()
		delete(g.subs, key)
		g.subsMu.Unlock()
	}
	return err
}

func (g *Gateway) unsubscribe(ctx context.Context, key string, fr frame) error {
	g.subsMu.Lock()
	delete(g.subs, key)
	g.subsMu.Unlock()
	_, err := g.request(ctx, fr, defaultWriteTimeout)
	return err
}

// request sends the frame and waits for the correlated reply.
func (g *Gateway) request(ctx context.Context, fr frame, timeout time.Duration) (*frame, error) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := g.msgID.Add(1)
	fr.ID = id
	replyCh := make(chan *frame, 1)
	g.pendingMu.Lock()
	g.pending[id] = replyCh
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, id)
		g.pendingMu.Unlock()
	}()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, errs.New("session/request", errs.CodeRateLimited,
			errs.WithMessage("pacing wait aborted"), errs.WithCause(err))
	}
	if err := g.write(ctx, fr); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s request: %w", fr.Op, ctx.Err())
	case <-g.ctx.Done():
		return nil, errs.New("session/request", errs.CodeUnavailable, errs.WithMessage("session stopped"))
	case reply := <-replyCh:
		if reply.Error != nil {
			return nil, errs.New("session/"+fr.Op, errs.CodeVenue,
				errs.WithRawCode(fmt.Sprintf("%d", reply.Error.Code)),
				errs.WithRawMessage(reply.Error.Msg))
		}
		return reply, nil
	}
}

func (g *Gateway) write(ctx context.Context, fr frame) error {
	g.connMu.RLock()
	conn := g.conn
	g.connMu.RUnlock()
	if conn == nil {
		return errs.New("session/write", errs.CodeNetwork, errs.WithMessage("gateway not connected"))
	}
	data, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", fr.Op, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New("session/write", errs.CodeNetwork,
			errs.WithMessage("write "+fr.Op), errs.WithCause(err))
	}
	return nil
}

// connectLoop maintains the connection with automatic reconnection and
// exponential backoff, restoring subscriptions after each reconnect.
func (g *Gateway) connectLoop() error {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-g.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(g.ctx, g.cfg.URL, nil)
		if err != nil {
			g.log.Warn("gateway dial failed",
				observability.F("url", g.cfg.URL),
				observability.F("error", err))
			sleep := backoffCfg.NextBackOff()
			select {
			case <-g.ctx.Done():
				return context.Canceled
			case <-time.After(sleep):
				continue
			}
		}

		g.connMu.Lock()
		g.conn = conn
		g.connMu.Unlock()

		backoffCfg.Reset()

		if err := g.handshake(); err != nil {
			g.log.Error("gateway handshake failed", observability.F("error", err))
		}

		if err := g.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			g.log.Warn("gateway read loop ended", observability.F("error", err))
		}

		g.markNotReady()
		g.connMu.Lock()
		g.conn = nil
		g.connMu.Unlock()

		sleep := backoffCfg.NextBackOff()
		select {
		case <-g.ctx.Done():
			return context.Canceled
		case <-time.After(sleep):
		}
	}
}

func (g *Gateway) handshake() error {
	return g.write(g.ctx, frame{
		Op:     opHello,
		Params: map[string]any{"clientId": g.cfg.ClientID},
	})
}

// resubscribe restores the active subscription set after a reconnect.
func (g *Gateway) resubscribe() {
	g.subsMu.Lock()
	frames := make([]frame, 0, len(g.subs))
	for _, fr := range g.subs {
		frames = append(frames, fr)
	}
	g.subsMu.Unlock()

	for _, fr := range frames {
		if _, err := g.request(g.ctx, fr, defaultWriteTimeout); err != nil {
			g.log.Error("resubscribe after reconnect failed",
				observability.F("op", fr.Op),
				observability.F("error", err))
		}
	}
}

func (g *Gateway) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(g.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var fr frame
		if err := json.Unmarshal(data, &fr); err != nil {
			g.log.Warn("gateway frame decode failed", observability.F("error", err))
			continue
		}

		switch {
		case fr.Op == opHello:
			g.markReady()
			g.lifecycle.Go(g.resubscribe)
		case fr.ID > 0:
			g.pendingMu.Lock()
			replyCh, ok := g.pending[fr.ID]
			g.pendingMu.Unlock()
			if ok {
				replyCh <- &fr
			}
		default:
			g.handleStream(&fr)
		}
	}
}

// handleStream routes live stream frames to the configured handler.
func (g *Gateway) handleStream(fr *frame) {
	if g.cfg.StreamHandler == nil {
		return
	}
	instrument, _ := fr.Params["instrument"].(string)
	ingest := g.clock().UTC()
	switch fr.Op {
	case "ticks":
		kind := schema.TickBidAsk
		if tickType, _ := fr.Params["tickType"].(string); tickType == string(schema.TickAllLast) {
			kind = schema.TickAllLast
		}
		records, err := decodeTicks(schema.InstrumentID(instrument), kind, fr.Ticks, ingest)
		if err != nil {
			g.log.Warn("stream tick decode failed", observability.F("error", err))
			return
		}
		topic := "data.quotes." + instrument
		if kind == schema.TickAllLast {
			topic = "data.trades." + instrument
		}
		g.cfg.StreamHandler(topic, records)
	case "bars":
		bars, err := decodeBars(schema.InstrumentID(instrument), schema.BarSpec{}, fr.Bars, ingest)
		if err != nil {
			g.log.Warn("stream bar decode failed", observability.F("error", err))
			return
		}
		g.cfg.StreamHandler("data.bars."+instrument, bars)
	}
}

func (g *Gateway) ready() <-chan struct{} {
	g.readyMu.Lock()
	defer g.readyMu.Unlock()
	return g.readyCh
}

func (g *Gateway) markReady() {
	g.readyMu.Lock()
	select {
	case <-g.readyCh:
	default:
		close(g.readyCh)
	}
	g.readyMu.Unlock()
}

func (g *Gateway) markNotReady() {
	g.readyMu.Lock()
	select {
	case <-g.readyCh:
		g.readyCh = make(chan struct{})
	default:
	}
	g.readyMu.Unlock()
}
