package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/momentumscan/internal/models"
	"github.com/rewired-gh/momentumscan/internal/retry"
)

type fakeMessenger struct {
	mu       sync.Mutex
	failures int
	sent     []string
	dests    []string
	block    chan struct{}
}

func (f *fakeMessenger) SendMessage(ctx context.Context, destination, text string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("429 too many requests")
	}
	f.sent = append(f.sent, text)
	f.dests = append(f.dests, destination)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func plain(event models.AlertEvent) string {
	return string(event.Direction) + " " + event.Contract.TradingSymbol
}

func testEvent() models.AlertEvent {
	return models.AlertEvent{
		ID:        "a1",
		Direction: models.Bullish,
		Contract:  models.TrackedContract{Token: "1", TradingSymbol: "INFY25NOVFUT"},
	}
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	var delays []time.Duration
	m := &fakeMessenger{failures: 2}
	d := NewDispatcher(m, plain, Config{
		Destination: "-100123",
		Policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
			Sleep: func(_ context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			},
		},
	})

	if err := d.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(m.sent) != 1 || m.dests[0] != "-100123" {
		t.Errorf("sent = %v to %v", m.sent, m.dests)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
	if s := d.Stats(); s.Delivered != 1 || s.Failed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestSend_ExhaustedSurfacesError(t *testing.T) {
	m := &fakeMessenger{failures: 5}
	d := NewDispatcher(m, plain, Config{Destination: "x", Policy: retry.Policy{Sleep: noSleep}})

	err := d.Send(context.Background(), "hello")
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if m.failures != 2 {
		t.Errorf("expected 3 attempts, %d failures left", m.failures)
	}
	if d.Stats().Failed != 1 {
		t.Errorf("failed counter = %d", d.Stats().Failed)
	}
}

func TestSend_NoDestinationIsNoop(t *testing.T) {
	m := &fakeMessenger{}
	d := NewDispatcher(m, plain, Config{})

	if err := d.Send(context.Background(), "hello"); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
	d.Dispatch(context.Background(), testEvent())
	d.Wait()

	if len(m.sent) != 0 {
		t.Errorf("nothing should be sent, got %v", m.sent)
	}
	if d.Stats().Skipped != 2 {
		t.Errorf("skipped = %d, want 2", d.Stats().Skipped)
	}
}

func TestDispatch_DoesNotBlockCaller(t *testing.T) {
	m := &fakeMessenger{block: make(chan struct{})}
	var delivered []string
	var mu sync.Mutex
	d := NewDispatcher(m, plain, Config{
		Destination: "x",
		Policy:      retry.Policy{Sleep: noSleep},
		OnDelivered: func(e models.AlertEvent) {
			mu.Lock()
			delivered = append(delivered, e.ID)
			mu.Unlock()
		},
	})

	returned := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), testEvent())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow messenger")
	}

	close(m.block)
	d.Wait()

	if len(m.sent) != 1 || m.sent[0] != "BULLISH INFY25NOVFUT" {
		t.Errorf("sent = %v", m.sent)
	}
	if len(delivered) != 1 || delivered[0] != "a1" {
		t.Errorf("OnDelivered calls = %v", delivered)
	}
}

func TestDispatch_AbandonedOnCancel(t *testing.T) {
	m := &fakeMessenger{block: make(chan struct{})}
	d := NewDispatcher(m, plain, Config{Destination: "x", Policy: retry.Policy{Sleep: noSleep}})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, testEvent())
	cancel()
	d.Wait()

	if len(m.sent) != 0 {
		t.Errorf("cancelled dispatch should not deliver, got %v", m.sent)
	}
}
