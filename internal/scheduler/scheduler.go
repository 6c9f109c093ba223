// Package scheduler drives the universe-refresh and data cycles on independent
// timers and owns the contract cache they share.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/momentumscan/internal/cache"
	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/marketdata"
	"github.com/rewired-gh/momentumscan/internal/models"
	"github.com/rewired-gh/momentumscan/internal/storage"
)

// ErrCycleInProgress is returned when a cycle is triggered while the same cycle
// is still running.
var ErrCycleInProgress = errors.New("cycle already in progress")

// ErrNotRunning is returned by SendCustom before Start or after Stop.
var ErrNotRunning = errors.New("scheduler not running")

// ErrEmptyMessage is returned by SendCustom for blank text.
var ErrEmptyMessage = errors.New("message must not be empty")

const (
	cycleRefresh = "Refresh"
	cycleData    = "Data"
)

// Universe resolves the current movers into contracts.
type Universe interface {
	Refresh(ctx context.Context) ([]models.TrackedContract, error)
}

// Poller fetches market data for a cache generation.
type Poller interface {
	Poll(ctx context.Context, gen *cache.Generation, withBars bool) ([]marketdata.Observation, error)
}

// Evaluator turns observations into alerts.
type Evaluator interface {
	ProcessPoll(observations []marketdata.Observation) []models.AlertEvent
}

// Notifier delivers alerts and plain messages.
type Notifier interface {
	Dispatch(ctx context.Context, event models.AlertEvent)
	Send(ctx context.Context, text string) error
	Wait()
}

// Journal records emitted alerts. It may be nil.
type Journal interface {
	AddAlert(event *models.AlertEvent) error
	RecentAlerts(limit int) ([]storage.Record, error)
}

// Notices renders operator messages. Nil funcs disable that notice.
type Notices struct {
	Custom   func(text string) string
	Error    func(cycle string, err error) string
	Recovery func(cycle string, failures int) string
}

type Config struct {
	RefreshInterval time.Duration
	DataInterval    time.Duration
	WithBars        bool
	Notices         Notices
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval: 3 * time.Minute,
		DataInterval:    time.Minute,
		WithBars:        true,
	}
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running           bool      `json:"running"`
	Generation        uint64    `json:"generation"`
	Contracts         int       `json:"contracts"`
	GenerationBuiltAt time.Time `json:"generation_built_at"`
	LastRefreshAt     time.Time `json:"last_refresh_at"`
	LastDataAt        time.Time `json:"last_data_at"`
	RefreshCycles     uint64    `json:"refresh_cycles"`
	DataCycles        uint64    `json:"data_cycles"`
	SkippedTicks      uint64    `json:"skipped_ticks"`
	AlertsEmitted     uint64    `json:"alerts_emitted"`
	RefreshFailures   int       `json:"refresh_failures"`
	DataFailures      int       `json:"data_failures"`
}

type customMessage struct {
	ctx    context.Context
	text   string
	result chan error
}

// failureTracker counts consecutive failures of one cycle.
type failureTracker struct {
	mu    sync.Mutex
	count int
}

// record returns the count before this result and the count after it.
func (f *failureTracker) record(err error) (before, after int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before = f.count
	if err != nil {
		f.count++
	} else {
		f.count = 0
	}
	return before, f.count
}

func (f *failureTracker) get() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Scheduler sequences refresh and data cycles.
type Scheduler struct {
	cache    *cache.ContractCache
	universe Universe
	poller   Poller
	engine   Evaluator
	notifier Notifier
	journal  Journal
	config   Config

	refreshing atomic.Bool
	polling    atomic.Bool
	running    atomic.Bool

	refreshCycles atomic.Uint64
	dataCycles    atomic.Uint64
	skippedTicks  atomic.Uint64
	alerts        atomic.Uint64
	lastRefresh   atomic.Int64
	lastData      atomic.Int64

	refreshFailures failureTracker
	dataFailures    failureTracker

	commands chan customMessage
	stopped  chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// New creates a scheduler around an empty cache. journal may be nil.
func New(universe Universe, poller Poller, engine Evaluator, notifier Notifier, journal Journal, config Config) *Scheduler {
	def := DefaultConfig()
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = def.RefreshInterval
	}
	if config.DataInterval <= 0 {
		config.DataInterval = def.DataInterval
	}
	return &Scheduler{
		cache:    cache.New(),
		universe: universe,
		poller:   poller,
		engine:   engine,
		notifier: notifier,
		journal:  journal,
		config:   config,
		commands: make(chan customMessage),
	}
}

// Cache exposes the shared cache for read-only consumers.
func (s *Scheduler) Cache() *cache.ContractCache {
	return s.cache
}

// Generation returns the current cache generation. Its ID and contracts always
// belong together.
func (s *Scheduler) Generation() *cache.Generation {
	return s.cache.Snapshot()
}

// Start launches the refresh loop, the data loop and the command loop. The
// first refresh runs immediately; the first data cycle follows one
// DataInterval later.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running.Store(true)

	logger.Info("Starting scheduler (refresh every %v, data every %v)", s.config.RefreshInterval, s.config.DataInterval)

	s.wg.Add(3)
	go s.loop(ctx, cycleRefresh, s.config.RefreshInterval, true, s.RefreshUniverse)
	go s.loop(ctx, cycleData, s.config.DataInterval, false, s.RunDataCycle)
	go s.commandLoop(ctx)
	return nil
}

// Stop cancels both loops, waits for them and for in-flight notifications.
// Notifications still retrying are abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	s.running.Store(false)
	s.cancel()
	close(s.stopped)
	s.mu.Unlock()

	s.wg.Wait()
	if s.notifier != nil {
		s.notifier.Wait()
	}
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, immediate bool, run func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		s.runTick(ctx, name, run)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx, name, run)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, name string, run func(context.Context) error) {
	err := run(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		s.skippedTicks.Add(1)
		logger.Warn("%s tick skipped: previous cycle still running", name)
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.handleCycleResult(ctx, name, err)
}

func (s *Scheduler) handleCycleResult(ctx context.Context, name string, err error) {
	tracker := &s.dataFailures
	if name == cycleRefresh {
		tracker = &s.refreshFailures
	}
	before, after := tracker.record(err)

	if err != nil {
		logger.Error("%s cycle failed: %v", name, err)
		if after == 1 && s.config.Notices.Error != nil {
			s.notice(ctx, s.config.Notices.Error(name, err))
		}
		return
	}
	if before > 0 && s.config.Notices.Recovery != nil {
		s.notice(ctx, s.config.Notices.Recovery(name, before))
	}
}

func (s *Scheduler) notice(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, text); err != nil {
		logger.Warn("Failed to send notice: %v", err)
	}
}

// RefreshUniverse resolves the movers and swaps in a new cache generation. On
// failure the previous generation stays in place.
func (s *Scheduler) RefreshUniverse(ctx context.Context) error {
	if !s.refreshing.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer s.refreshing.Store(false)

	start := time.Now()
	logger.Debug("Starting universe refresh")

	contracts, err := s.universe.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("universe refresh: %w", err)
	}

	gen := s.cache.Replace(contracts)
	s.refreshCycles.Add(1)
	s.lastRefresh.Store(time.Now().UnixNano())
	logger.Info("Universe refreshed: generation %d with %d contracts in %v", gen.ID(), gen.Len(), time.Since(start))
	return nil
}

// RunDataCycle polls the current generation, evaluates it and dispatches
// alerts. Dispatch does not block the cycle.
func (s *Scheduler) RunDataCycle(ctx context.Context) error {
	if !s.polling.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer s.polling.Store(false)

	gen := s.cache.Snapshot()
	if gen.Len() == 0 {
		logger.Info("No contracts in universe yet, waiting for refresh")
		return nil
	}

	start := time.Now()
	logger.Debug("Starting data cycle on generation %d (%d contracts)", gen.ID(), gen.Len())

	observations, err := s.poller.Poll(ctx, gen, s.config.WithBars)
	if err != nil {
		return fmt.Errorf("data cycle: %w", err)
	}

	alerts := s.engine.ProcessPoll(observations)
	for i := range alerts {
		event := alerts[i]
		logger.Info("Alert %s: %s %+.2f%% (ltp %.2f)", event.Key(), event.Contract.TradingSymbol, event.PercentMove, event.LastPrice)
		if s.journal != nil {
			if err := s.journal.AddAlert(&event); err != nil {
				logger.Warn("Failed to journal alert %s: %v", event.ID, err)
			}
		}
		if s.notifier != nil {
			s.notifier.Dispatch(ctx, event)
		}
	}

	s.alerts.Add(uint64(len(alerts)))
	s.dataCycles.Add(1)
	s.lastData.Store(time.Now().UnixNano())
	logger.Info("Data cycle completed: %d observed, %d alerts in %v", len(observations), len(alerts), time.Since(start))
	return nil
}

func (s *Scheduler) commandLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.commands:
			text := msg.text
			if s.config.Notices.Custom != nil {
				text = s.config.Notices.Custom(text)
			}
			var err error
			if s.notifier == nil {
				err = errors.New("no notifier configured")
			} else {
				err = s.notifier.Send(msg.ctx, text)
			}
			msg.result <- err
		}
	}
}

// SendCustom queues an operator message and waits for its delivery result.
func (s *Scheduler) SendCustom(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	running, stopped := s.running.Load(), s.stopped
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	msg := customMessage{ctx: ctx, text: text, result: make(chan error, 1)}
	select {
	case s.commands <- msg:
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current status.
func (s *Scheduler) Snapshot() Status {
	gen := s.cache.Snapshot()
	return Status{
		Running:           s.running.Load(),
		Generation:        gen.ID(),
		Contracts:         gen.Len(),
		GenerationBuiltAt: gen.BuiltAt(),
		LastRefreshAt:     unixNano(s.lastRefresh.Load()),
		LastDataAt:        unixNano(s.lastData.Load()),
		RefreshCycles:     s.refreshCycles.Load(),
		DataCycles:        s.dataCycles.Load(),
		SkippedTicks:      s.skippedTicks.Load(),
		AlertsEmitted:     s.alerts.Load(),
		RefreshFailures:   s.refreshFailures.get(),
		DataFailures:      s.dataFailures.get(),
	}
}

// StatusText renders Snapshot for chat replies.
func (s *Scheduler) StatusText() string {
	st := s.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Running: %t\n", st.Running)
	fmt.Fprintf(&b, "Universe: generation %d, %d contracts\n", st.Generation, st.Contracts)
	fmt.Fprintf(&b, "Last refresh: %s\n", ago(st.LastRefreshAt))
	fmt.Fprintf(&b, "Last data cycle: %s\n", ago(st.LastDataAt))
	fmt.Fprintf(&b, "Cycles: %s refresh, %s data, %s skipped\n",
		humanize.Comma(int64(st.RefreshCycles)), humanize.Comma(int64(st.DataCycles)), humanize.Comma(int64(st.SkippedTicks)))
	fmt.Fprintf(&b, "Alerts emitted: %s", humanize.Comma(int64(st.AlertsEmitted)))
	if st.RefreshFailures > 0 || st.DataFailures > 0 {
		fmt.Fprintf(&b, "\nFailing: refresh x%d, data x%d", st.RefreshFailures, st.DataFailures)
	}
	for _, c := range s.cache.Snapshot().Contracts() {
		fmt.Fprintf(&b, "\n• %s %s (%s)", c.TradingSymbol, c.Category, c.Exchange)
	}
	return b.String()
}

// HistoryText renders the latest journaled alerts for chat replies.
func (s *Scheduler) HistoryText(limit int) string {
	if s.journal == nil {
		return "Alert journal disabled"
	}
	records, err := s.journal.RecentAlerts(limit)
	if err != nil {
		logger.Warn("Failed to read alert history: %v", err)
		return "Failed to read alert history"
	}
	if len(records) == 0 {
		return "No alerts yet"
	}
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s %+.2f%% @ %.2f, %s",
			r.Direction, r.Contract.TradingSymbol, r.PercentMove, r.LastPrice, humanize.Time(r.EmittedAt))
	}
	return b.String()
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
