package session

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Config bounds the reducer's windows and caps
type Config struct {
	EventCooldown time.Duration
	CapacityLimit int
	ChartWindow   int // live chart samples exposed
	MaxEvents     int
	MaxArrivals   int
	TrendWindow   int
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		EventCooldown: 1500 * time.Millisecond,
		CapacityLimit: 10,
		ChartWindow:   120,
		MaxEvents:     100,
		MaxArrivals:   50,
		TrendWindow:   10,
	}
}

// NewState creates a fresh session state. Stats are zeroed, histories empty,
// the capacity dismiss flag reset.
func NewState(capacityLimit int, now time.Time) State {
	return State{
		ID:            fmt.Sprintf("%d", now.UnixMilli()),
		StartTime:     now,
		CapacityLimit: capacityLimit,
		Stats: Stats{
			HourlyData: make(map[int]*HourBucket),
		},
	}
}

// Reduce folds one observation into the session state, returning the updated
// state and any events emitted by this observation. The input state is not
// modified; every slice or map the update touches is re-allocated first.
func Reduce(s State, obs Observation, cfg Config) (State, []Event) {
	next := s

	// 1. histories
	next.CountHistory = append(cloneInts(s.CountHistory), obs.Count)
	next.ChartData = append(cloneSamples(s.ChartData), Sample{Count: obs.Count, Timestamp: obs.Timestamp})
	next.CurrentCount = obs.Count
	if obs.Frame != "" {
		next.LatestFrame = obs.Frame
	}

	// 2. hour bucket
	hour := obs.Timestamp.Hour()
	next.Stats.HourlyData = cloneHourly(s.Stats.HourlyData)
	bucket, ok := next.Stats.HourlyData[hour]
	if !ok {
		bucket = &HourBucket{Max: obs.Count, Min: obs.Count}
	} else {
		b := *bucket
		bucket = &b
	}
	bucket.Counts = append(cloneInts(bucket.Counts), obs.Count)
	if obs.Count > bucket.Max {
		bucket.Max = obs.Count
	}
	if obs.Count < bucket.Min {
		bucket.Min = obs.Count
	}
	next.Stats.HourlyData[hour] = bucket

	// 3. peak and valley; hours are scanned ascending, so the lowest hour
	// wins ties
	next.Stats.PeakHour, next.Stats.ValleyHour = scanExtremes(next.Stats.HourlyData)

	// 4. running max and mean over the full history
	if obs.Count > next.Stats.MaxPersons {
		next.Stats.MaxPersons = obs.Count
	}
	next.Stats.AvgPersons = mean(next.CountHistory)

	// 5. trend over the two most recent windows
	next.Trend = trend(next.CountHistory, cfg.TrendWindow)

	// 6. derived events under the cooldown rule
	var emitted []Event
	if !s.primed {
		// first observation primes the comparison baseline without
		// emitting an event
		next.primed = true
	} else if obs.Count != s.previousCount && allowEvent(s.lastEventAt, obs.Timestamp, cfg.EventCooldown) {
		diff := obs.Count - s.previousCount
		if diff > 0 {
			next.Stats.TotalEntradas = s.Stats.TotalEntradas + diff
			next.arrivals = recordArrivals(s.arrivals, obs.Timestamp, diff, cfg.MaxArrivals)
			emitted = append(emitted, Event{
				ID:      uuid.New().String(),
				Type:    EventTypeEntry,
				Icon:    "👤",
				Message: fmt.Sprintf("+%d persona(s) entraron (total: %d)", diff, obs.Count),
				Time:    obs.Timestamp,
			})
			if obs.Count >= s.CapacityLimit && !s.CapacityAlerted && !s.CapacityDismissed {
				next.CapacityAlerted = true
				emitted = append(emitted, Event{
					ID:      uuid.New().String(),
					Type:    EventTypeCapacityAlert,
					Icon:    "⚠️",
					Message: fmt.Sprintf("Aforo máximo alcanzado: %d/%d", obs.Count, s.CapacityLimit),
					Time:    obs.Timestamp,
				})
			}
		} else {
			next.Stats.TotalSalidas = s.Stats.TotalSalidas - diff
			emitted = append(emitted, Event{
				ID:      uuid.New().String(),
				Type:    EventTypeExit,
				Icon:    "🚪",
				Message: fmt.Sprintf("-%d persona(s) salieron (total: %d)", -diff, obs.Count),
				Time:    obs.Timestamp,
			})
		}
		next.lastEventAt = obs.Timestamp
	}

	// 7. the baseline always advances, even when the cooldown swallowed the
	// transition; debounced events are preferred over an exact ledger
	next.previousCount = obs.Count

	if len(emitted) > 0 {
		next.Events = prependEvents(s.Events, emitted, cfg.MaxEvents)
	}

	return next, emitted
}

// Finalize freezes the session and produces its persistable summary
func Finalize(s State, endTime time.Time, cfg Config) Summary {
	return Summary{
		ID:             s.ID,
		StartTime:      s.StartTime,
		EndTime:        endTime,
		MaxPersons:     s.Stats.MaxPersons,
		AvgPersons:     s.Stats.AvgPersons,
		TotalEntradas:  s.Stats.TotalEntradas,
		TotalSalidas:   s.Stats.TotalSalidas,
		AvgTimeBetween: s.AvgTimeBetween(),
		Stats:          s.Stats,
		Events:         s.Events,
		ChartData:      lastSamples(s.ChartData, cfg.ChartWindow),
	}
}

// allowEvent applies the global per-session cooldown: an event may be
// emitted only when at least cooldown has elapsed since the last emitted one
func allowEvent(lastEventAt, now time.Time, cooldown time.Duration) bool {
	if lastEventAt.IsZero() {
		return true
	}
	return now.Sub(lastEventAt) >= cooldown
}

// recordArrivals appends one arrival timestamp per entering person, capped
// to the most recent max entries
func recordArrivals(arrivals []time.Time, ts time.Time, n, max int) []time.Time {
	out := cloneTimes(arrivals)
	for i := 0; i < n; i++ {
		out = append(out, ts)
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// prependEvents inserts newly emitted events at the head, newest first,
// capped to max
func prependEvents(events []Event, emitted []Event, max int) []Event {
	out := make([]Event, 0, len(events)+len(emitted))
	for i := len(emitted) - 1; i >= 0; i-- {
		out = append(out, emitted[i])
	}
	out = append(out, events...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// scanExtremes re-derives the peak and valley hour buckets. Hours are
// visited in ascending order 0..23, which makes the tie-break deterministic.
func scanExtremes(hourly map[int]*HourBucket) (peak, valley *HourStat) {
	for hour := 0; hour < 24; hour++ {
		bucket, ok := hourly[hour]
		if !ok {
			continue
		}
		if peak == nil || bucket.Max > peak.Max {
			peak = &HourStat{Hour: hour, Max: bucket.Max, Min: bucket.Min}
		}
		if valley == nil || bucket.Min < valley.Min {
			valley = &HourStat{Hour: hour, Max: bucket.Max, Min: bucket.Min}
		}
	}
	return peak, valley
}

// trend compares the mean of the most recent window against the mean of the
// window before it. With fewer than two full windows the previous window
// defaults to the recent mean, yielding zero.
func trend(history []int, window int) int {
	if len(history) == 0 {
		return 0
	}

	recentStart := len(history) - window
	if recentStart < 0 {
		recentStart = 0
	}
	recent := mean(history[recentStart:])

	previous := recent
	if len(history) >= 2*window {
		previous = mean(history[len(history)-2*window : len(history)-window])
	}

	return int(math.Round(recent - previous))
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func lastSamples(samples []Sample, n int) []Sample {
	if len(samples) <= n {
		return cloneSamples(samples)
	}
	return cloneSamples(samples[len(samples)-n:])
}

func cloneInts(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	return out
}

func cloneSamples(in []Sample) []Sample {
	out := make([]Sample, len(in))
	copy(out, in)
	return out
}

func cloneTimes(in []time.Time) []time.Time {
	out := make([]time.Time, len(in))
	copy(out, in)
	return out
}

func cloneHourly(in map[int]*HourBucket) map[int]*HourBucket {
	out := make(map[int]*HourBucket, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
