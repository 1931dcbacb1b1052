package databus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusPublishAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 1})
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, ch, err := bus.Subscribe(ctx, "data.trades.AAPL.NASDAQ")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Publish(ctx, "data.trades.AAPL.NASDAQ", "payload"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Topic != "data.trades.AAPL.NASDAQ" {
			t.Fatalf("unexpected topic %q", msg.Topic)
		}
		if msg.Payload != "payload" {
			t.Fatalf("unexpected payload %v", msg.Payload)
		}
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}

	bus.Unsubscribe(id)
	// Publishing after unsubscribe drops the message but must not error.
	if err := bus.Publish(ctx, "data.trades.AAPL.NASDAQ", "payload"); err != nil {
		t.Fatalf("Publish() after unsubscribe error = %v", err)
	}
}

func TestMemoryBusTopicsAreIsolated(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 4})
	t.Cleanup(bus.Close)

	ctx := context.Background()
	_, quotes, err := bus.Subscribe(ctx, "data.quotes.X")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Publish(ctx, "data.trades.X", 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-quotes:
		t.Fatalf("quote subscriber received trade message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusBufferFull(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 1})
	t.Cleanup(bus.Close)

	ctx := context.Background()
	_, _, err := bus.Subscribe(ctx, "requests.abc")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Publish(ctx, "requests.abc", 1); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	if err := bus.Publish(ctx, "requests.abc", 2); err == nil {
		t.Fatal("expected buffer-full error on second publish")
	}
}

func TestMemoryBusPublishRequiresTopic(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	t.Cleanup(bus.Close)
	if err := bus.Publish(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestMemoryBusCloseClosesChannels(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	_, ch, err := bus.Subscribe(context.Background(), "requests.x")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	bus.Close()
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after bus Close")
	}
}
