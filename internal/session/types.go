package session

import (
	"time"
)

// EventType classifies a derived session event
type EventType string

const (
	EventTypeEntry         EventType = "entry"
	EventTypeExit          EventType = "exit"
	EventTypeCapacityAlert EventType = "capacity-alert"
)

// Event is a discrete, debounced entry/exit/capacity notification derived
// from count changes. Immutable once created.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Icon    string    `json:"icon"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Observation is one detection-service report consumed by the engine
type Observation struct {
	Count     int
	Timestamp time.Time
	Frame     string // annotated frame, base64 JPEG
}

// Sample is one {count, timestamp} chart point
type Sample struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// HourBucket aggregates the counts observed within one hour of day
type HourBucket struct {
	Counts []int `json:"counts"`
	Max    int   `json:"max"`
	Min    int   `json:"min"`
}

// HourStat identifies the peak or valley hour bucket
type HourStat struct {
	Hour int `json:"hour"`
	Max  int `json:"max"`
	Min  int `json:"min"`
}

// Stats is the derived aggregate over one session
type Stats struct {
	MaxPersons    int                 `json:"maxPersons"`
	AvgPersons    float64             `json:"avgPersons"`
	TotalEntradas int                 `json:"totalEntradas"`
	TotalSalidas  int                 `json:"totalSalidas"`
	HourlyData    map[int]*HourBucket `json:"hourlyData"`
	PeakHour      *HourStat           `json:"peakHour,omitempty"`
	ValleyHour    *HourStat           `json:"valleyHour,omitempty"`
}

// State is the live session accumulated by the reducer. It is replaced, not
// mutated, on every observation; snapshots handed to the view never alias
// state the reducer will touch again.
type State struct {
	ID           string
	StartTime    time.Time
	CountHistory []int
	ChartData    []Sample
	Events       []Event // newest first, capped
	Stats        Stats
	Trend        int
	CurrentCount int
	LatestFrame  string

	CapacityLimit     int
	CapacityAlerted   bool
	CapacityDismissed bool

	previousCount int
	primed        bool // previousCount holds a real observation
	lastEventAt   time.Time
	arrivals      []time.Time // capped, for inter-arrival stats
}

// Summary is the finalized, persistable form of a finished session
type Summary struct {
	ID             string    `json:"id"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	MaxPersons     int       `json:"maxPersons"`
	AvgPersons     float64   `json:"avgPersons"`
	TotalEntradas  int       `json:"totalEntradas"`
	TotalSalidas   int       `json:"totalSalidas"`
	AvgTimeBetween *int      `json:"avgTimeBetween,omitempty"` // seconds
	Stats          Stats     `json:"stats"`
	Events         []Event   `json:"events"`
	ChartData      []Sample  `json:"chartData"`
	Notes          string    `json:"notes,omitempty"`
}

// Snapshot is the read-only projection of engine state handed to the
// presentation layer
type Snapshot struct {
	Active            bool      `json:"active"`
	SessionID         string    `json:"sessionId,omitempty"`
	StartTime         time.Time `json:"startTime,omitzero"`
	CurrentCount      int       `json:"currentCount"`
	Frame             string    `json:"frame,omitempty"`
	ChartData         []Sample  `json:"chartData"`
	Events            []Event   `json:"events"`
	Stats             Stats     `json:"stats"`
	Trend             int       `json:"trend"`
	AvgTimeBetween    *int      `json:"avgTimeBetween,omitempty"`
	CapacityLimit     int       `json:"capacityLimit"`
	CapacityDismissed bool      `json:"capacityDismissed"`
	Connected         bool      `json:"connected"`
}

// AvgTimeBetween returns the mean gap between recorded arrivals in whole
// seconds, or nil when fewer than two arrivals were recorded
func (s *State) AvgTimeBetween() *int {
	return avgTimeBetween(s.arrivals)
}

func avgTimeBetween(arrivals []time.Time) *int {
	if len(arrivals) < 2 {
		return nil
	}
	var total time.Duration
	for i := 1; i < len(arrivals); i++ {
		total += arrivals[i].Sub(arrivals[i-1])
	}
	mean := total / time.Duration(len(arrivals)-1)
	secs := int(mean.Round(time.Second) / time.Second)
	return &secs
}
