// Package notify delivers formatted messages through a messaging backend with retry.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/models"
	"github.com/rewired-gh/momentumscan/internal/retry"
)

// ErrNoDestination is reported by Send when no destination is configured. The
// dispatcher itself treats it as a warning.
var ErrNoDestination = errors.New("no notification destination configured")

// Messenger sends one text message to a destination.
type Messenger interface {
	SendMessage(ctx context.Context, destination, text string) error
}

// FormatFunc renders an alert for the messenger.
type FormatFunc func(event models.AlertEvent) string

// Config for a Dispatcher.
type Config struct {
	Destination string
	Policy      retry.Policy
	// OnDelivered runs after an alert is delivered.
	OnDelivered func(event models.AlertEvent)
}

// Stats counts dispatch outcomes since start.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Skipped   uint64
}

// Dispatcher sends alerts without blocking the caller.
type Dispatcher struct {
	messenger Messenger
	format    FormatFunc
	config    Config
	wg        sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// NewDispatcher creates a dispatcher. A zero Policy means retry.DefaultPolicy.
func NewDispatcher(messenger Messenger, format FormatFunc, config Config) *Dispatcher {
	if config.Policy.MaxAttempts <= 0 {
		sleep := config.Policy.Sleep
		config.Policy = retry.DefaultPolicy()
		config.Policy.Sleep = sleep
	}
	if config.Destination == "" {
		logger.Warn("Notification destination not configured, alerts will only be logged")
	}
	return &Dispatcher{messenger: messenger, format: format, config: config}
}

// Dispatch delivers event in its own goroutine and returns immediately.
// Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.AlertEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Send(ctx, d.format(event)); err != nil {
			if errors.Is(err, ErrNoDestination) {
				logger.Warn("Alert %s for %s not sent: %v", event.Direction, event.Contract.TradingSymbol, err)
				return
			}
			logger.Error("Failed to deliver %s alert for %s: %v", event.Direction, event.Contract.TradingSymbol, err)
			return
		}
		logger.Info("Delivered %s alert for %s", event.Direction, event.Contract.TradingSymbol)
		if d.config.OnDelivered != nil {
			d.config.OnDelivered(event)
		}
	}()
}

// Send delivers text synchronously under the retry policy.
func (d *Dispatcher) Send(ctx context.Context, text string) error {
	if d.config.Destination == "" || d.messenger == nil {
		d.skipped.Add(1)
		return ErrNoDestination
	}
	err := d.config.Policy.Do(ctx, func(ctx context.Context) error {
		return d.messenger.SendMessage(ctx, d.config.Destination, text)
	})
	if err != nil {
		d.failed.Add(1)
		return fmt.Errorf("failed to send to %s: %w", d.config.Destination, err)
	}
	d.delivered.Add(1)
	return nil
}

// Wait blocks until every dispatched alert has finished or been abandoned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns a snapshot of delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Skipped:   d.skipped.Load(),
	}
}
