package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/session"
)

func testSummary(id string, start time.Time) session.Summary {
	avg := 30
	return session.Summary{
		ID:             id,
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		MaxPersons:     8,
		AvgPersons:     4.5,
		TotalEntradas:  12,
		TotalSalidas:   10,
		AvgTimeBetween: &avg,
		Stats: session.Stats{
			MaxPersons:    8,
			TotalEntradas: 12,
			TotalSalidas:  10,
		},
		Events: []session.Event{
			{ID: id + "-ev", Type: session.EventTypeEntry, Message: "+2 persona(s) entraron (total: 2)", Time: start},
		},
		ChartData: []session.Sample{
			{Count: 2, Timestamp: start},
		},
	}
}

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStorePersistAndLoad(t *testing.T) {
	db := openTestDatabase(t)
	log := logger.NewNopLogger()

	s := New(db, 10, log)
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	if err := s.Persist(testSummary("sess-1", start)); err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}
	if err := s.Persist(testSummary("sess-2", start.Add(time.Hour))); err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}

	// a fresh store over the same database sees the persisted history
	reloaded := New(db, 10, log)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	sessions := reloaded.List()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "sess-2" {
		t.Errorf("Expected most recent session first, got %s", sessions[0].ID)
	}

	got := sessions[1]
	if got.MaxPersons != 8 || got.TotalEntradas != 12 {
		t.Errorf("Round trip lost aggregates: %+v", got)
	}
	if got.AvgTimeBetween == nil || *got.AvgTimeBetween != 30 {
		t.Error("Round trip lost avg time between arrivals")
	}
	if len(got.Events) != 1 || got.Events[0].Type != session.EventTypeEntry {
		t.Errorf("Round trip lost events: %+v", got.Events)
	}
	if len(got.ChartData) != 1 || got.ChartData[0].Count != 2 {
		t.Errorf("Round trip lost chart data: %+v", got.ChartData)
	}
}

func TestStoreEvictsBeyondCap(t *testing.T) {
	db := openTestDatabase(t)
	log := logger.NewNopLogger()

	s := New(db, 3, log)
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("sess-%d", i)
		if err := s.Persist(testSummary(id, start.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Failed to persist %s: %v", id, err)
		}
	}

	if s.Count() != 3 {
		t.Errorf("Expected retention cap of 3, got %d", s.Count())
	}
	sessions := s.List()
	if sessions[0].ID != "sess-4" || sessions[2].ID != "sess-2" {
		t.Errorf("Expected the 3 most recent sessions, got %v", sessions)
	}

	// eviction reaches the database too
	reloaded := New(db, 10, log)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if reloaded.Count() != 3 {
		t.Errorf("Expected 3 rows after eviction, got %d", reloaded.Count())
	}
	if _, ok := reloaded.Get("sess-0"); ok {
		t.Error("Evicted session should not survive reload")
	}
}

func TestStoreGetAndDelete(t *testing.T) {
	db := openTestDatabase(t)
	log := logger.NewNopLogger()

	s := New(db, 10, log)
	start := time.Now().UTC()
	if err := s.Persist(testSummary("sess-1", start)); err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}

	if _, ok := s.Get("sess-1"); !ok {
		t.Error("Expected to find persisted session")
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Unexpected hit for unknown id")
	}

	if !s.Delete("sess-1") {
		t.Error("Expected delete to report success")
	}
	if s.Delete("sess-1") {
		t.Error("Second delete should be a no-op")
	}
	if s.Count() != 0 {
		t.Errorf("Expected empty store, got %d", s.Count())
	}

	reloaded := New(db, 10, log)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if reloaded.Count() != 0 {
		t.Error("Delete should remove the database row")
	}
}

func TestStoreLoadSkipsCorruptRows(t *testing.T) {
	db := openTestDatabase(t)
	log := logger.NewNopLogger()

	s := New(db, 10, log)
	start := time.Now().UTC()
	if err := s.Persist(testSummary("sess-good", start)); err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}

	_, err := db.GetDB().Exec(`
		INSERT INTO sessions (id, start_time, end_time, max_persons, avg_persons,
			total_entradas, total_salidas, avg_time_between, stats, events, chart_data)
		VALUES (?, ?, ?, 0, 0, 0, 0, NULL, 'not json', '[]', '[]')
	`, "sess-corrupt", start.Add(time.Hour), start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Failed to insert corrupt row: %v", err)
	}

	reloaded := New(db, 10, log)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Load should not fail on corrupt rows: %v", err)
	}
	if reloaded.Count() != 1 {
		t.Fatalf("Expected corrupt row to be skipped, got %d sessions", reloaded.Count())
	}
	if _, ok := reloaded.Get("sess-good"); !ok {
		t.Error("Readable session should survive a corrupt neighbor")
	}
}

func TestStoreUpdateNotes(t *testing.T) {
	db := openTestDatabase(t)
	log := logger.NewNopLogger()

	s := New(db, 10, log)
	start := time.Now().UTC()
	if err := s.Persist(testSummary("sess-1", start)); err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}

	if !s.UpdateNotes("sess-1", "turno de tarde") {
		t.Fatal("Expected notes update to succeed")
	}
	if s.UpdateNotes("missing", "x") {
		t.Error("Unknown id should be a no-op")
	}

	got, ok := s.Get("sess-1")
	if !ok || got.Notes != "turno de tarde" {
		t.Errorf("Expected notes in memory, got %q", got.Notes)
	}

	// notes survive a reload
	reloaded := New(db, 10, log)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	got, ok = reloaded.Get("sess-1")
	if !ok || got.Notes != "turno de tarde" {
		t.Errorf("Expected notes after reload, got %q", got.Notes)
	}
}

func TestStoreTodayStats(t *testing.T) {
	log := logger.NewNopLogger()
	s := New(nil, 10, log)

	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	todaySession := testSummary("sess-today", today)
	todaySession.ChartData = []session.Sample{
		{Count: 2, Timestamp: today},
		{Count: 6, Timestamp: today.Add(time.Hour)},
	}
	oldSession := testSummary("sess-old", yesterday)
	oldSession.ChartData = []session.Sample{
		{Count: 40, Timestamp: yesterday},
	}
	s.Persist(oldSession)
	s.Persist(todaySession)

	stats := s.TodayStats(now)
	if stats.TotalSamples != 2 {
		t.Errorf("Expected 2 samples from today, got %d", stats.TotalSamples)
	}
	if stats.MaxCount != 6 || stats.MinCount != 2 {
		t.Errorf("Unexpected extremes: max %d min %d", stats.MaxCount, stats.MinCount)
	}
	if stats.AvgCount != 4.0 {
		t.Errorf("Expected avg 4.0, got %v", stats.AvgCount)
	}
	if stats.Sessions != 1 {
		t.Errorf("Expected 1 contributing session, got %d", stats.Sessions)
	}

	empty := New(nil, 10, log).TodayStats(now)
	if empty.TotalSamples != 0 || empty.AvgCount != 0 {
		t.Errorf("Empty store should yield zero stats, got %+v", empty)
	}
}

func TestStoreWeeklyHeatmap(t *testing.T) {
	log := logger.NewNopLogger()
	s := New(nil, 10, log)

	// 2025-03-10 is a Monday
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	monday9 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sunday14 := time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)
	stale := now.AddDate(0, 0, -8)

	summary := testSummary("sess-1", sunday14)
	summary.ChartData = []session.Sample{
		{Count: 3, Timestamp: monday9},
		{Count: 5, Timestamp: monday9.Add(10 * time.Minute)},
		{Count: 7, Timestamp: sunday14},
		{Count: 99, Timestamp: stale}, // older than 7 days, excluded
	}
	s.Persist(summary)

	heatmap := s.WeeklyHeatmap(now)
	if len(heatmap) != 2 {
		t.Fatalf("Expected 2 cells, got %d", len(heatmap))
	}

	// sorted by day then hour: Sunday (0) before Monday (1)
	if heatmap[0].Day != 0 || heatmap[0].Hour != 14 || heatmap[0].AvgCount != 7.0 {
		t.Errorf("Unexpected first cell: %+v", heatmap[0])
	}
	if heatmap[1].Day != 1 || heatmap[1].Hour != 9 || heatmap[1].AvgCount != 4.0 {
		t.Errorf("Unexpected second cell: %+v", heatmap[1])
	}
}

func TestStoreMemoryOnly(t *testing.T) {
	log := logger.NewNopLogger()

	s := New(nil, 2, log)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Memory-only load should be a no-op: %v", err)
	}

	start := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := s.Persist(testSummary(fmt.Sprintf("sess-%d", i), start.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Failed to persist: %v", err)
		}
	}
	if s.Count() != 2 {
		t.Errorf("Expected cap of 2, got %d", s.Count())
	}
	if !s.Delete("sess-2") {
		t.Error("Expected delete to succeed without a database")
	}
}
