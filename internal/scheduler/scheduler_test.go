package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/momentumscan/internal/cache"
	"github.com/rewired-gh/momentumscan/internal/marketdata"
	"github.com/rewired-gh/momentumscan/internal/models"
	"github.com/rewired-gh/momentumscan/internal/storage"
)

type fakeUniverse struct {
	mu        sync.Mutex
	contracts []models.TrackedContract
	err       error
	block     chan struct{}
	entered   chan struct{}
}

func (f *fakeUniverse) Refresh(context.Context) ([]models.TrackedContract, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contracts, f.err
}

func (f *fakeUniverse) set(contracts []models.TrackedContract, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts, f.err = contracts, err
}

type fakePoller struct {
	mu       sync.Mutex
	err      error
	calls    int
	gens     []uint64
	withBars bool
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakePoller) Poll(_ context.Context, gen *cache.Generation, withBars bool) ([]marketdata.Observation, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gens = append(f.gens, gen.ID())
	f.withBars = withBars
	if f.err != nil {
		return nil, f.err
	}
	var obs []marketdata.Observation
	for _, c := range gen.Contracts() {
		obs = append(obs, marketdata.Observation{Contract: c, Quote: models.Quote{Token: c.Token, LastPrice: 101, Open: 100}})
	}
	return obs, nil
}

type fakeEngine struct{}

func (fakeEngine) ProcessPoll(observations []marketdata.Observation) []models.AlertEvent {
	var out []models.AlertEvent
	for _, o := range observations {
		out = append(out, models.AlertEvent{
			ID:          "id-" + o.Contract.Token,
			Contract:    o.Contract,
			Direction:   models.Bullish,
			PercentMove: 1,
			LastPrice:   o.Quote.LastPrice,
			EmittedAt:   time.Now(),
		})
	}
	return out
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []models.AlertEvent
	sent       []string
	sendErr    error
}

func (f *fakeNotifier) Dispatch(_ context.Context, event models.AlertEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, event)
}

func (f *fakeNotifier) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeNotifier) Wait() {}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeJournal struct {
	mu      sync.Mutex
	records []storage.Record
}

func (f *fakeJournal) AddAlert(event *models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append([]storage.Record{{AlertEvent: *event}}, f.records...)
	return nil
}

func (f *fakeJournal) RecentAlerts(limit int) ([]storage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

func contract(token string) models.TrackedContract {
	return models.TrackedContract{
		Token:          token,
		TradingSymbol:  "SYM" + token + "FUT",
		RootSymbol:     "SYM",
		Exchange:       models.ExchangeNFO,
		InstrumentType: models.Future,
		Category:       models.Gainer,
	}
}

type harness struct {
	universe *fakeUniverse
	poller   *fakePoller
	notifier *fakeNotifier
	journal  *fakeJournal
	s        *Scheduler
}

func newHarness(config Config) *harness {
	h := &harness{
		universe: &fakeUniverse{contracts: []models.TrackedContract{contract("1"), contract("2")}},
		poller:   &fakePoller{},
		notifier: &fakeNotifier{},
		journal:  &fakeJournal{},
	}
	h.s = New(h.universe, h.poller, fakeEngine{}, h.notifier, h.journal, config)
	return h
}

func TestRefreshUniverse(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	if err := h.s.RefreshUniverse(ctx); err != nil {
		t.Fatalf("RefreshUniverse: %v", err)
	}
	gen := h.s.Cache().Snapshot()
	if gen.ID() != 1 || gen.Len() != 2 {
		t.Fatalf("generation = %d with %d contracts", gen.ID(), gen.Len())
	}
	if h.s.Generation() != gen {
		t.Error("Generation should return the published snapshot")
	}

	h.universe.set(nil, errors.New("both movers queries failed"))
	if err := h.s.RefreshUniverse(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if h.s.Cache().Snapshot() != gen {
		t.Error("failed refresh must keep the previous generation")
	}
}

func TestRunDataCycle_EmptyUniverse(t *testing.T) {
	h := newHarness(Config{})
	if err := h.s.RunDataCycle(context.Background()); err != nil {
		t.Fatalf("RunDataCycle: %v", err)
	}
	if h.poller.calls != 0 {
		t.Error("poller should not run against an empty universe")
	}
}

func TestRunDataCycle_DispatchesAndJournals(t *testing.T) {
	h := newHarness(Config{WithBars: true})
	ctx := context.Background()
	if err := h.s.RefreshUniverse(ctx); err != nil {
		t.Fatalf("RefreshUniverse: %v", err)
	}
	if err := h.s.RunDataCycle(ctx); err != nil {
		t.Fatalf("RunDataCycle: %v", err)
	}

	if len(h.notifier.dispatched) != 2 {
		t.Errorf("dispatched %d alerts, want 2", len(h.notifier.dispatched))
	}
	if len(h.journal.records) != 2 {
		t.Errorf("journaled %d alerts, want 2", len(h.journal.records))
	}
	if !h.poller.withBars {
		t.Error("withBars not passed through")
	}
	st := h.s.Snapshot()
	if st.AlertsEmitted != 2 || st.DataCycles != 1 || st.RefreshCycles != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestRunDataCycle_PollFailure(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()
	_ = h.s.RefreshUniverse(ctx)
	h.poller.err = errors.New("quote 503")

	if err := h.s.RunDataCycle(ctx); err == nil {
		t.Fatal("expected data cycle error")
	}
	if len(h.notifier.dispatched) != 0 {
		t.Error("no alerts should be dispatched")
	}
}

func TestSameCycleNeverOverlaps(t *testing.T) {
	h := newHarness(Config{})
	h.universe.block = make(chan struct{})
	h.universe.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.s.RefreshUniverse(context.Background()) }()
	<-h.universe.entered

	if err := h.s.RefreshUniverse(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("second refresh = %v, want ErrCycleInProgress", err)
	}
	if err := h.s.RunDataCycle(context.Background()); err != nil {
		t.Errorf("data cycle must not be blocked by a running refresh: %v", err)
	}

	close(h.universe.block)
	if err := <-done; err != nil {
		t.Fatalf("first refresh: %v", err)
	}
}

func TestDataCycleKeepsItsSnapshotAcrossRefresh(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()
	_ = h.s.RefreshUniverse(ctx)

	h.poller.block = make(chan struct{})
	h.poller.entered = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- h.s.RunDataCycle(ctx) }()
	<-h.poller.entered

	h.universe.set([]models.TrackedContract{contract("9")}, nil)
	if err := h.s.RefreshUniverse(ctx); err != nil {
		t.Fatalf("refresh during data cycle: %v", err)
	}
	close(h.poller.block)
	if err := <-done; err != nil {
		t.Fatalf("data cycle: %v", err)
	}

	if h.poller.gens[0] != 1 {
		t.Errorf("in-flight cycle polled generation %d, want 1", h.poller.gens[0])
	}
	if len(h.notifier.dispatched) != 2 {
		t.Errorf("in-flight cycle should finish on the old universe, dispatched %d", len(h.notifier.dispatched))
	}
	if h.s.Cache().Snapshot().ID() != 2 {
		t.Error("next cycle should see generation 2")
	}
}

func TestFailureAndRecoveryNotices(t *testing.T) {
	h := newHarness(Config{Notices: Notices{
		Error:    func(cycle string, err error) string { return cycle + " error: " + err.Error() },
		Recovery: func(cycle string, n int) string { return cycle + " recovered" },
	}})
	ctx := context.Background()
	cause := errors.New("boom")

	h.s.handleCycleResult(ctx, cycleData, cause)
	h.s.handleCycleResult(ctx, cycleData, cause)
	h.s.handleCycleResult(ctx, cycleData, nil)
	h.s.handleCycleResult(ctx, cycleData, nil)

	got := h.notifier.messages()
	want := []string{"Data error: boom", "Data recovered"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("notices = %v, want %v", got, want)
	}
}

func TestStartStopAndSendCustom(t *testing.T) {
	h := newHarness(Config{
		RefreshInterval: 20 * time.Millisecond,
		DataInterval:    10 * time.Millisecond,
		Notices:         Notices{Custom: func(text string) string { return "> " + text }},
	})
	ctx := context.Background()

	if err := h.s.SendCustom(ctx, "hello"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendCustom before Start = %v", err)
	}
	if err := h.s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	if err := h.s.SendCustom(ctx, "  hello  "); err != nil {
		t.Fatalf("SendCustom: %v", err)
	}
	if err := h.s.SendCustom(ctx, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message error = %v, want ErrEmptyMessage", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.s.Snapshot().DataCycles == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.s.Stop()
	h.s.Stop()

	st := h.s.Snapshot()
	if st.Running || st.RefreshCycles == 0 || st.DataCycles == 0 {
		t.Errorf("status after run = %+v", st)
	}
	found := false
	for _, m := range h.notifier.messages() {
		if m == "> hello" {
			found = true
		}
	}
	if !found {
		t.Errorf("custom message not sent: %v", h.notifier.messages())
	}
	if err := h.s.SendCustom(ctx, "late"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendCustom after Stop = %v", err)
	}
}

func TestStatusAndHistoryText(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	if got := h.s.HistoryText(5); got != "No alerts yet" {
		t.Errorf("HistoryText = %q", got)
	}
	if got := h.s.StatusText(); !strings.Contains(got, "Last refresh: never") {
		t.Errorf("StatusText = %q", got)
	}

	_ = h.s.RefreshUniverse(ctx)
	_ = h.s.RunDataCycle(ctx)

	status := h.s.StatusText()
	for _, want := range []string{"generation 1, 2 contracts", "Alerts emitted: 2", "SYM1FUT GAINER (NFO)"} {
		if !strings.Contains(status, want) {
			t.Errorf("StatusText missing %q:\n%s", want, status)
		}
	}
	history := h.s.HistoryText(1)
	if strings.Count(history, "\n") != 0 || !strings.Contains(history, "BULLISH") {
		t.Errorf("HistoryText(1) = %q", history)
	}

	noJournal := New(h.universe, h.poller, fakeEngine{}, h.notifier, nil, Config{})
	if got := noJournal.HistoryText(5); got != "Alert journal disabled" {
		t.Errorf("HistoryText without journal = %q", got)
	}
}
