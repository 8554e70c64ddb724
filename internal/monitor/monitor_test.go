package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/notify"
	"github.com/rewired-gh/pricewatch/internal/storage"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fail   map[string]error
}

func (f *fakeSource) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[symbol]; ok {
		return decimal.Zero, err
	}
	return f.prices[symbol], nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

// countingAlerts counts evaluation passes.
type countingAlerts struct {
	AlertStore
	finds atomic.Int32
}

func (c *countingAlerts) FindActiveAlerts(ctx context.Context, symbol string) ([]models.Alert, error) {
	c.finds.Add(1)
	return c.AlertStore.FindActiveAlerts(ctx, symbol)
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []models.PriceObservation
}

func (r *recordingPublisher) Publish(obs models.PriceObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, obs)
}

type brokenPriceStore struct{}

func (brokenPriceStore) SaveObservation(context.Context, models.PriceObservation) error {
	return errors.New("disk full")
}

func (brokenPriceStore) LatestObservation(context.Context, string) (*models.PriceObservation, error) {
	return nil, errors.New("disk full")
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	store     *storage.Storage
	alerts    *countingAlerts
	notifier  *recordingNotifier
	publisher *recordingPublisher
	cache     *PriceCache
	metrics   *Metrics
	ingestor  *PriceIngestor
}

func newHarness(t *testing.T, source PriceSource) *harness {
	t.Helper()
	s, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		store:     s,
		alerts:    &countingAlerts{AlertStore: s},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		cache:     NewPriceCache(),
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	matcher := NewAlertMatcher(h.alerts, h.notifier, h.metrics)
	h.ingestor = NewPriceIngestor(source, s, h.cache, matcher, h.publisher, h.metrics)
	return h
}

func (h *harness) addAlert(t *testing.T, symbol string, target string, cond models.Condition) *models.Alert {
	t.Helper()
	a := &models.Alert{
		Symbol:      symbol,
		TargetPrice: decimal.RequireFromString(target),
		Condition:   cond,
		UserEmail:   "a@x.com",
	}
	if err := h.store.SaveAlert(context.Background(), a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}
	return a
}

func (h *harness) observations(t *testing.T, symbol string) int {
	t.Helper()
	n, err := h.store.CountObservations(context.Background(), symbol)
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}
	return n
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ─── PriceCache ─────────────────────────────────────────────────────────────

func TestPriceCache_CompareAndUpdate(t *testing.T) {
	c := NewPriceCache()

	if !c.CompareAndUpdate("BTCUSDT", dec("1.50")) {
		t.Error("first price must report changed")
	}
	if c.CompareAndUpdate("BTCUSDT", dec("1.5")) {
		t.Error("numerically equal price must report unchanged")
	}
	if !c.CompareAndUpdate("BTCUSDT", dec("1.51")) {
		t.Error("different price must report changed")
	}
	if p, ok := c.Get("BTCUSDT"); !ok || !p.Equal(dec("1.51")) {
		t.Errorf("Get = %s, %v", p, ok)
	}
	if _, ok := c.Get("ETHUSDT"); ok {
		t.Error("unknown symbol must miss")
	}

	snap := c.Snapshot()
	snap["BTCUSDT"] = dec("0")
	if p, _ := c.Get("BTCUSDT"); !p.Equal(dec("1.51")) {
		t.Error("Snapshot must return a copy")
	}
}

func TestPriceCache_ConcurrentSamePrice(t *testing.T) {
	c := NewPriceCache()
	var changed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.CompareAndUpdate("BTCUSDT", dec("42")) {
				changed.Add(1)
			}
		}()
	}
	wg.Wait()
	if changed.Load() != 1 {
		t.Errorf("%d callers saw a change, want 1", changed.Load())
	}
}

// ─── PriceIngestor ──────────────────────────────────────────────────────────

func TestProcessPrice_Idempotent(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.ingestor.ProcessPrice(ctx, "BTCUSDT", dec("100")); err != nil {
			t.Fatalf("ProcessPrice: %v", err)
		}
	}

	if n := h.observations(t, "BTCUSDT"); n != 1 {
		t.Errorf("persisted %d observations, want 1", n)
	}
	if n := h.alerts.finds.Load(); n != 1 {
		t.Errorf("%d evaluation passes, want 1", n)
	}
	if got := testutil.ToFloat64(h.metrics.ObservationsSaved); got != 1 {
		t.Errorf("observations_saved_total = %v, want 1", got)
	}
}

func TestProcessPrice_ChangeDetection(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ctx := context.Background()

	for _, p := range []string{"100", "101"} {
		if err := h.ingestor.ProcessPrice(ctx, "BTCUSDT", dec(p)); err != nil {
			t.Fatalf("ProcessPrice(%s): %v", p, err)
		}
	}

	if n := h.observations(t, "BTCUSDT"); n != 2 {
		t.Errorf("persisted %d observations, want 2", n)
	}
	if n := h.alerts.finds.Load(); n != 2 {
		t.Errorf("%d evaluation passes, want 2", n)
	}
	if len(h.publisher.got) != 2 {
		t.Errorf("published %d observations, want 2", len(h.publisher.got))
	}
}

func TestProcessPrice_FireOnce(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ctx := context.Background()
	a := h.addAlert(t, "BTCUSDT", "100", models.ConditionAbove)

	for _, p := range []string{"99", "101", "102"} {
		if err := h.ingestor.ProcessPrice(ctx, "BTCUSDT", dec(p)); err != nil {
			t.Fatalf("ProcessPrice(%s): %v", p, err)
		}
	}

	got := h.notifier.all()
	if len(got) != 1 {
		t.Fatalf("notified %d times, want 1", len(got))
	}
	if !got[0].Price.Equal(dec("101")) {
		t.Errorf("notified at %s, want 101", got[0].Price)
	}

	stored, err := h.store.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !stored.Triggered {
		t.Error("alert not marked triggered")
	}
	if got := testutil.ToFloat64(h.metrics.AlertsTriggered); got != 1 {
		t.Errorf("alerts_triggered_total = %v, want 1", got)
	}
}

func TestProcessPrice_BoundaryInclusion(t *testing.T) {
	tests := []struct {
		name string
		cond models.Condition
	}{
		{"above at target", models.ConditionAbove},
		{"below at target", models.ConditionBelow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeSource{})
			h.addAlert(t, "ETHUSDT", "100", tt.cond)

			if err := h.ingestor.ProcessPrice(context.Background(), "ETHUSDT", dec("100.00")); err != nil {
				t.Fatalf("ProcessPrice: %v", err)
			}
			if n := len(h.notifier.all()); n != 1 {
				t.Errorf("notified %d times, want 1", n)
			}
		})
	}
}

func TestProcessPrice_NoMatchLeavesAlertActive(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ctx := context.Background()
	h.addAlert(t, "ETHUSDT", "100", models.ConditionAbove)
	h.addAlert(t, "ETHUSDT", "90", models.ConditionBelow)

	if err := h.ingestor.ProcessPrice(ctx, "ETHUSDT", dec("95")); err != nil {
		t.Fatalf("ProcessPrice: %v", err)
	}
	if n := len(h.notifier.all()); n != 0 {
		t.Errorf("notified %d times, want 0", n)
	}
	active, _ := h.store.FindActiveAlerts(ctx, "ETHUSDT")
	if len(active) != 2 {
		t.Errorf("active alerts = %d, want 2", len(active))
	}
}

func TestProcessPrice_Scenario(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ctx := context.Background()
	a := h.addAlert(t, "BTCUSDT", "50000", models.ConditionAbove)

	if err := h.ingestor.ProcessPrice(ctx, "BTCUSDT", dec("50000")); err != nil {
		t.Fatalf("ProcessPrice: %v", err)
	}

	stored, _ := h.store.GetAlert(ctx, a.ID)
	if !stored.Triggered {
		t.Error("alert.triggered = false, want true")
	}
	got := h.notifier.all()
	if len(got) != 1 {
		t.Fatalf("notified %d times, want 1", len(got))
	}
	n := got[0]
	if n.Recipient != "a@x.com" || n.Symbol != "BTCUSDT" || !n.Price.Equal(dec("50000")) || n.AlertID != a.ID {
		t.Errorf("notification = %+v", n)
	}
}

func TestProcessPrice_PersistenceFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	h.ingestor.prices = brokenPriceStore{}

	err := h.ingestor.ProcessPrice(context.Background(), "BTCUSDT", dec("1"))
	if !errs.Is(err, errs.CodePersistence) {
		t.Errorf("error = %v, want persistence error", err)
	}
	if len(h.publisher.got) != 0 {
		t.Error("unpersisted observation must not be published")
	}
}

// flakyAlerts fails FindActiveAlerts.
type flakyAlerts struct{ AlertStore }

func (flakyAlerts) FindActiveAlerts(context.Context, string) ([]models.Alert, error) {
	return nil, errors.New("connection reset")
}

func TestProcessPrice_ScanFailureStillPersists(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	h.ingestor.matcher = NewAlertMatcher(flakyAlerts{h.store}, h.notifier, h.metrics)

	err := h.ingestor.ProcessPrice(context.Background(), "BTCUSDT", dec("1"))
	if !errs.Is(err, errs.CodePersistence) {
		t.Errorf("error = %v, want the scan failure reported", err)
	}
	if n := h.observations(t, "BTCUSDT"); n != 1 {
		t.Errorf("persisted %d observations, want 1", n)
	}
}

// ─── AlertMatcher ───────────────────────────────────────────────────────────

// scriptedAlerts returns fixed alerts and scripted MarkTriggered outcomes.
type scriptedAlerts struct {
	alerts []models.Alert
	flip   map[string]bool
	fail   map[string]error
	marks  atomic.Int32
}

func (s *scriptedAlerts) FindActiveAlerts(context.Context, string) ([]models.Alert, error) {
	return s.alerts, nil
}

func (s *scriptedAlerts) MarkTriggered(_ context.Context, id string, _ time.Time) (bool, error) {
	s.marks.Add(1)
	if err := s.fail[id]; err != nil {
		return false, err
	}
	return s.flip[id], nil
}

func TestCheckAlarms_LostFlipIsNotNotified(t *testing.T) {
	store := &scriptedAlerts{
		alerts: []models.Alert{{ID: "a1", Symbol: "BTCUSDT", TargetPrice: dec("10"), Condition: models.ConditionAbove, UserEmail: "a@x.com"}},
		flip:   map[string]bool{"a1": false},
	}
	n := &recordingNotifier{}
	m := NewAlertMatcher(store, n, nil)

	if err := m.CheckAlarms(context.Background(), "BTCUSDT", dec("20")); err != nil {
		t.Fatalf("CheckAlarms: %v", err)
	}
	if len(n.all()) != 0 {
		t.Error("alert flipped elsewhere must not be notified")
	}
}

func TestCheckAlarms_FailureDoesNotStopOthers(t *testing.T) {
	store := &scriptedAlerts{
		alerts: []models.Alert{
			{ID: "bad", Symbol: "BTCUSDT", TargetPrice: dec("10"), Condition: models.ConditionAbove, UserEmail: "a@x.com"},
			{ID: "good", Symbol: "BTCUSDT", TargetPrice: dec("30"), Condition: models.ConditionBelow, UserEmail: "b@x.com"},
		},
		flip: map[string]bool{"good": true},
		fail: map[string]error{"bad": errors.New("deadlock detected")},
	}
	n := &recordingNotifier{}
	m := NewAlertMatcher(store, n, nil)

	err := m.CheckAlarms(context.Background(), "BTCUSDT", dec("20"))
	if !errs.Is(err, errs.CodePersistence) {
		t.Errorf("error = %v, want persistence error", err)
	}
	got := n.all()
	if len(got) != 1 || got[0].AlertID != "good" || got[0].Recipient != "b@x.com" {
		t.Errorf("notifications = %+v, want only good", got)
	}
	if store.marks.Load() != 2 {
		t.Errorf("MarkTriggered called %d times, want 2", store.marks.Load())
	}
}

// ─── LatestPrice ────────────────────────────────────────────────────────────

func TestLatestPrice(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ctx := context.Background()

	_, err := h.ingestor.LatestPrice(ctx, "BTCUSDT")
	if !errs.IsNotFound(err) {
		t.Errorf("empty LatestPrice error = %v, want not found", err)
	}

	if err := h.store.SaveObservation(ctx, models.PriceObservation{
		Symbol: "BTCUSDT", Price: dec("48000"), ObservedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveObservation: %v", err)
	}
	p, err := h.ingestor.LatestPrice(ctx, "btcusdt")
	if err != nil || !p.Equal(dec("48000")) {
		t.Errorf("fallback LatestPrice = %s, %v; want 48000", p, err)
	}
	if _, ok := h.cache.Get("BTCUSDT"); ok {
		t.Error("fallback must not populate the cache")
	}

	h.cache.Set("BTCUSDT", dec("49000"))
	p, err = h.ingestor.LatestPrice(ctx, "BTCUSDT")
	if err != nil || !p.Equal(dec("49000")) {
		t.Errorf("cached LatestPrice = %s, %v; want 49000", p, err)
	}
}

func TestLatestPrice_StoreFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	h.ingestor.prices = brokenPriceStore{}

	_, err := h.ingestor.LatestPrice(context.Background(), "BTCUSDT")
	if !errs.Is(err, errs.CodePersistence) {
		t.Errorf("error = %v, want persistence error", err)
	}
}

// ─── FetchOrchestrator ──────────────────────────────────────────────────────

func TestRunCycle_Isolation(t *testing.T) {
	source := &fakeSource{
		prices: map[string]decimal.Decimal{"BTCUSDT": dec("50000"), "ETHUSDT": dec("3000"), "SOLUSDT": dec("150")},
		fail:   map[string]error{"ETHUSDT": errs.New(errs.CodeFetchStatus, "binance.FetchPrice", "HTTP 502")},
	}
	h := newHarness(t, source)
	o := NewFetchOrchestrator(Config{
		Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		Period:  time.Second,
	}, h.ingestor, h.metrics)

	res := o.RunCycle(context.Background())

	if res.Symbols != 3 || res.Failures != 1 {
		t.Errorf("result = %+v, want 3 symbols 1 failure", res)
	}
	if !errs.IsFetch(res.Err) {
		t.Errorf("cycle error = %v, want fetch error", res.Err)
	}
	if res.AllFailed() {
		t.Error("AllFailed = true")
	}
	for _, s := range []string{"BTCUSDT", "SOLUSDT"} {
		if n := h.observations(t, s); n != 1 {
			t.Errorf("%s observations = %d, want 1", s, n)
		}
	}
	if n := h.observations(t, "ETHUSDT"); n != 0 {
		t.Errorf("ETHUSDT observations = %d, want 0", n)
	}
	if o.LastCycleDuration() <= 0 {
		t.Error("LastCycleDuration not recorded")
	}
	if got := testutil.ToFloat64(h.metrics.Fetches.WithLabelValues("error")); got != 1 {
		t.Errorf("fetch errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.Fetches.WithLabelValues("ok")); got != 2 {
		t.Errorf("fetch ok = %v, want 2", got)
	}
}

type slowProcessor struct {
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
}

func (p *slowProcessor) FetchAndProcess(context.Context, string) error {
	p.calls.Add(1)
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(p.delay)
	return nil
}

func TestRun_OverlapsAndDrains(t *testing.T) {
	proc := &slowProcessor{delay: 40 * time.Millisecond}
	o := NewFetchOrchestrator(Config{
		Symbols: []string{"BTCUSDT"},
		Period:  5 * time.Millisecond,
	}, proc, nil)

	var cycles atomic.Int32
	o.OnCycle(func(CycleResult) { cycles.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	o.Run(ctx)

	if proc.maxSeen.Load() < 2 {
		t.Errorf("max concurrent cycles = %d, want overlap", proc.maxSeen.Load())
	}
	if proc.active.Load() != 0 {
		t.Error("Run returned with cycles still in flight")
	}
	if cycles.Load() != proc.calls.Load() {
		t.Errorf("completed %d cycles, started %d", cycles.Load(), proc.calls.Load())
	}
}

func TestRun_CancelDuringInitialDelay(t *testing.T) {
	proc := &slowProcessor{}
	o := NewFetchOrchestrator(Config{
		Symbols:      []string{"BTCUSDT"},
		Period:       time.Millisecond,
		InitialDelay: time.Hour,
	}, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Run(ctx)

	if proc.calls.Load() != 0 {
		t.Errorf("ran %d fetches before the initial delay elapsed", proc.calls.Load())
	}
}
