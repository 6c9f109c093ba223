package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/momentumscan/internal/models"
)

func newTestStorage(t *testing.T, maxAlerts int) *Storage {
	t.Helper()
	s, err := New(maxAlerts, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAlert(id string, emittedAt time.Time) *models.AlertEvent {
	return &models.AlertEvent{
		ID: id,
		Contract: models.TrackedContract{
			Token:          "52219",
			TradingSymbol:  "TATASTEEL25NOV25FUT",
			RootSymbol:     "TATASTEEL",
			Exchange:       models.ExchangeNFO,
			InstrumentType: models.Future,
			Category:       models.Gainer,
		},
		Direction:   models.Bullish,
		Mode:        "confirmed",
		PercentMove: 0.1,
		LastPrice:   100.1,
		Open:        100,
		EMA:         100,
		VWAP:        99.9,
		Reasons: []models.Reason{
			{Kind: models.ReasonMomentum, Text: "Move +0.10%", Value: 0.1, Reference: 0.05},
			{Kind: models.ReasonEMA, Text: "LTP above EMA", Value: 100.1, Reference: 100},
		},
		EmittedAt: emittedAt,
	}
}

func TestStorage_AddAndRecent(t *testing.T) {
	s := newTestStorage(t, 100)
	now := time.Now()

	if err := s.AddAlert(testAlert("a1", now.Add(-time.Minute))); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := s.AddAlert(testAlert("a2", now)); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}

	records, err := s.RecentAlerts(10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "a2" {
		t.Errorf("newest first: got %s", records[0].ID)
	}
	got := records[1]
	if got.Contract.Exchange != models.ExchangeNFO || got.Contract.InstrumentType != models.Future || got.Direction != models.Bullish {
		t.Errorf("enum fields not restored: %+v", got)
	}
	if len(got.Reasons) != 2 || got.Reasons[1].Kind != models.ReasonEMA || got.Reasons[1].Reference != 100 {
		t.Errorf("reasons not restored: %+v", got.Reasons)
	}
	if !got.EmittedAt.Equal(now.Add(-time.Minute)) {
		t.Errorf("emitted_at = %v", got.EmittedAt)
	}
	if got.Notified {
		t.Error("new alert should not be notified")
	}
}

func TestStorage_AddAlert_Invalid(t *testing.T) {
	s := newTestStorage(t, 100)
	if err := s.AddAlert(testAlert("", time.Now())); err == nil {
		t.Error("expected error for empty id")
	}
	bad := testAlert("x", time.Now())
	bad.Contract.Token = ""
	if err := s.AddAlert(bad); err == nil {
		t.Error("expected error for invalid contract")
	}
	if err := s.AddAlert(testAlert("dup", time.Now())); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := s.AddAlert(testAlert("dup", time.Now())); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestStorage_MarkNotified(t *testing.T) {
	s := newTestStorage(t, 100)
	if err := s.AddAlert(testAlert("a1", time.Now())); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := s.MarkNotified("a1"); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	records, _ := s.RecentAlerts(1)
	if !records[0].Notified {
		t.Error("alert should be notified")
	}
	if err := s.MarkNotified("missing"); err == nil {
		t.Error("expected error for unknown alert")
	}
}

func TestStorage_Cap(t *testing.T) {
	s := newTestStorage(t, 3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		if err := s.AddAlert(testAlert(fmt.Sprintf("a%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
	}
	n, err := s.CountAlerts()
	if err != nil {
		t.Fatalf("CountAlerts: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	records, _ := s.RecentAlerts(10)
	if records[2].ID != "a2" {
		t.Errorf("oldest kept = %s, want a2", records[2].ID)
	}
}

func TestStorage_RecentAlertsEmpty(t *testing.T) {
	s := newTestStorage(t, 10)
	records, err := s.RecentAlerts(0)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", records)
	}
}

func TestStorage_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.AddAlert(testAlert("a1", time.Now())); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(10, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.CountAlerts(); n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
}

func TestNewStorage_ClosesDatabaseOnSchemaFailure(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	// A view named alerts cannot be indexed, so schema creation fails.
	if _, err := db.Exec(`CREATE VIEW alerts AS SELECT 1 AS id`); err != nil {
		t.Fatalf("create view: %v", err)
	}

	if _, err := newStorage(db, 10); err == nil {
		t.Fatal("expected schema creation to fail")
	}
	if err := db.Ping(); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("database should be closed after a failed init, Ping() = %v", err)
	}
}

func TestNew_DirectoryPath(t *testing.T) {
	if s, err := New(10, t.TempDir()); err == nil {
		_ = s.Close()
		t.Error("expected error when the database path is a directory")
	}
}
