package store

import (
	"math"
	"sort"
	"time"
)

// TodayStats aggregates every count sample recorded since local midnight,
// across all stored sessions.
type TodayStats struct {
	AvgCount     float64 `json:"avgCount"`
	MaxCount     int     `json:"maxCount"`
	MinCount     int     `json:"minCount"`
	TotalSamples int     `json:"totalSamples"`
	Sessions     int     `json:"sessions"`
}

// HeatmapCell is one weekday-by-hour aggregate for the weekly heatmap.
// Day follows time.Weekday: 0 is Sunday.
type HeatmapCell struct {
	Day      int     `json:"day"`
	Hour     int     `json:"hour"`
	AvgCount float64 `json:"avgCount"`
}

// TodayStats computes the current day's aggregate over the stored history
func (s *Store) TodayStats(now time.Time) TodayStats {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats TodayStats
	var total int
	for _, summary := range s.sessions {
		counted := false
		for _, sample := range summary.ChartData {
			if sample.Timestamp.Before(midnight) {
				continue
			}
			if stats.TotalSamples == 0 || sample.Count > stats.MaxCount {
				stats.MaxCount = sample.Count
			}
			if stats.TotalSamples == 0 || sample.Count < stats.MinCount {
				stats.MinCount = sample.Count
			}
			total += sample.Count
			stats.TotalSamples++
			counted = true
		}
		if counted {
			stats.Sessions++
		}
	}

	if stats.TotalSamples > 0 {
		stats.AvgCount = round1(float64(total) / float64(stats.TotalSamples))
	}
	return stats
}

// WeeklyHeatmap aggregates the last seven days of count samples into
// weekday-by-hour cells, ordered by day then hour. Cells with no samples
// are omitted.
func (s *Store) WeeklyHeatmap(now time.Time) []HeatmapCell {
	cutoff := now.AddDate(0, 0, -7)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		total   int
		samples int
	}
	cells := make(map[[2]int]*acc)
	for _, summary := range s.sessions {
		for _, sample := range summary.ChartData {
			if sample.Timestamp.Before(cutoff) {
				continue
			}
			key := [2]int{int(sample.Timestamp.Weekday()), sample.Timestamp.Hour()}
			a, ok := cells[key]
			if !ok {
				a = &acc{}
				cells[key] = a
			}
			a.total += sample.Count
			a.samples++
		}
	}

	heatmap := make([]HeatmapCell, 0, len(cells))
	for key, a := range cells {
		heatmap = append(heatmap, HeatmapCell{
			Day:      key[0],
			Hour:     key[1],
			AvgCount: round1(float64(a.total) / float64(a.samples)),
		})
	}
	sort.Slice(heatmap, func(i, j int) bool {
		if heatmap[i].Day != heatmap[j].Day {
			return heatmap[i].Day < heatmap[j].Day
		}
		return heatmap[i].Hour < heatmap[j].Hour
	})
	return heatmap
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
