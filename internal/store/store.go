package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/session"
)

// DefaultMaxSessions is the retention cap when none is configured
const DefaultMaxSessions = 50

// Store keeps completed session summaries, most recent first. The in-memory
// list is authoritative for the running process; the database is a
// best-effort mirror so the history survives restarts. Write failures are
// logged and otherwise swallowed.
type Store struct {
	mu          sync.RWMutex
	sessions    []session.Summary
	maxSessions int
	db          *Database
	logger      *logger.Logger
}

// New creates a session store backed by the given database. A nil database
// yields a memory-only store.
func New(db *Database, maxSessions int, log *logger.Logger) *Store {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{
		maxSessions: maxSessions,
		db:          db,
		logger:      log,
	}
}

// Load reads persisted summaries into memory. Rows that fail to decode are
// skipped; a history that cannot be read at all leaves the store empty.
// Called once at startup before any Persist.
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	query := `
		SELECT id, start_time, end_time, max_persons, avg_persons,
		       total_entradas, total_salidas, avg_time_between,
		       stats, events, chart_data, notes
		FROM sessions
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := s.db.GetDB().QueryContext(ctx, query, s.maxSessions)
	if err != nil {
		s.logger.Warn("Failed to load session history, starting empty", "error", err)
		return nil
	}
	defer rows.Close()

	var sessions []session.Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			s.logger.Warn("Skipping unreadable session row", "error", err)
			continue
		}
		sessions = append(sessions, summary)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("Session history read incomplete", "error", err)
	}

	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()

	s.logger.Info("Session history loaded", "sessions", len(sessions))
	return nil
}

// Persist prepends a summary to the history, evicts beyond the retention
// cap and mirrors the change to disk. The in-memory update always succeeds.
func (s *Store) Persist(summary session.Summary) error {
	s.mu.Lock()
	s.sessions = append([]session.Summary{summary}, s.sessions...)
	var evicted []session.Summary
	if len(s.sessions) > s.maxSessions {
		evicted = s.sessions[s.maxSessions:]
		s.sessions = s.sessions[:s.maxSessions]
	}
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.write(summary, evicted); err != nil {
		s.logger.Warn("Failed to persist session summary", "session_id", summary.ID, "error", err)
	}
	return nil
}

// List returns all stored summaries, most recent first
func (s *Store) List() []session.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Summary, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Get returns the summary with the given id
func (s *Store) Get(id string) (session.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, summary := range s.sessions {
		if summary.ID == id {
			return summary, true
		}
	}
	return session.Summary{}, false
}

// Delete removes the summary with the given id. Unknown ids are a no-op.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	found := false
	for i, summary := range s.sessions {
		if summary.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found && s.db != nil {
		if _, err := s.db.GetDB().Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
			s.logger.Warn("Failed to delete session row", "session_id", id, "error", err)
		}
	}
	return found
}

// UpdateNotes attaches free-form notes to a stored summary. Unknown ids are
// a no-op; the database mirror is best-effort like Persist.
func (s *Store) UpdateNotes(id, notes string) bool {
	s.mu.Lock()
	found := false
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions[i].Notes = notes
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found && s.db != nil {
		if _, err := s.db.GetDB().Exec(`UPDATE sessions SET notes = ? WHERE id = ?`, notes, id); err != nil {
			s.logger.Warn("Failed to update session notes", "session_id", id, "error", err)
		}
	}
	return found
}

// Count returns the number of stored summaries
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// write inserts the new summary and removes evicted rows
func (s *Store) write(summary session.Summary, evicted []session.Summary) error {
	statsJSON, err := json.Marshal(summary.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	eventsJSON, err := json.Marshal(summary.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	chartJSON, err := json.Marshal(summary.ChartData)
	if err != nil {
		return fmt.Errorf("failed to marshal chart data: %w", err)
	}

	tx, err := s.db.GetDB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sessions (id, start_time, end_time, max_persons, avg_persons,
			total_entradas, total_salidas, avg_time_between, stats, events, chart_data, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			max_persons = excluded.max_persons,
			avg_persons = excluded.avg_persons,
			total_entradas = excluded.total_entradas,
			total_salidas = excluded.total_salidas,
			avg_time_between = excluded.avg_time_between,
			stats = excluded.stats,
			events = excluded.events,
			chart_data = excluded.chart_data,
			notes = excluded.notes
	`
	_, err = tx.Exec(query,
		summary.ID, summary.StartTime, summary.EndTime,
		summary.MaxPersons, summary.AvgPersons,
		summary.TotalEntradas, summary.TotalSalidas, summary.AvgTimeBetween,
		string(statsJSON), string(eventsJSON), string(chartJSON), summary.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, old := range evicted {
		if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, old.ID); err != nil {
			return fmt.Errorf("failed to evict session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rowScanner matches *sql.Rows and *sql.Row
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (session.Summary, error) {
	var summary session.Summary
	var avgTimeBetween *int
	var statsJSON, eventsJSON, chartJSON string

	if err := row.Scan(
		&summary.ID, &summary.StartTime, &summary.EndTime,
		&summary.MaxPersons, &summary.AvgPersons,
		&summary.TotalEntradas, &summary.TotalSalidas, &avgTimeBetween,
		&statsJSON, &eventsJSON, &chartJSON, &summary.Notes,
	); err != nil {
		return session.Summary{}, err
	}
	summary.AvgTimeBetween = avgTimeBetween

	if err := json.Unmarshal([]byte(statsJSON), &summary.Stats); err != nil {
		return session.Summary{}, fmt.Errorf("failed to decode stats: %w", err)
	}
	if err := json.Unmarshal([]byte(eventsJSON), &summary.Events); err != nil {
		return session.Summary{}, fmt.Errorf("failed to decode events: %w", err)
	}
	if err := json.Unmarshal([]byte(chartJSON), &summary.ChartData); err != nil {
		return session.Summary{}, fmt.Errorf("failed to decode chart data: %w", err)
	}
	return summary, nil
}
