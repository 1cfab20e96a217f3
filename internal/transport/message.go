package transport

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Message types on the detection service socket
const (
	MessageTypeDetection = "detection"
	MessageTypeFrame     = "frame"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Observation is one inbound detection report: a person count, the instant
// it was produced, and the annotated frame as base64 JPEG
type Observation struct {
	Count     int
	Timestamp time.Time
	Frame     string
}

// detectionMessage is the wire form of an inbound detection report
type detectionMessage struct {
	Type      string `json:"type"`
	Count     *int   `json:"count"`
	Timestamp string `json:"timestamp,omitempty"`
	Frame     string `json:"frame,omitempty"`
}

// frameMessage is the wire form of an outbound frame submission
type frameMessage struct {
	Type  string `json:"type"`
	Frame string `json:"frame"`
}

// controlMessage covers ping/pong traffic
type controlMessage struct {
	Type string `json:"type"`
}

// toObservation validates a detection message and converts it. The count is
// required and non-negative; a missing or unparseable timestamp defaults to
// the receipt time.
func (m *detectionMessage) toObservation(receivedAt time.Time) (Observation, error) {
	if m.Count == nil {
		return Observation{}, fmt.Errorf("detection message missing count")
	}
	if *m.Count < 0 {
		return Observation{}, fmt.Errorf("detection message has negative count: %d", *m.Count)
	}

	ts := receivedAt
	if m.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
			ts = parsed
		}
	}

	return Observation{
		Count:     *m.Count,
		Timestamp: ts,
		Frame:     stripDataURI(m.Frame),
	}, nil
}

// encodeFrame builds the outbound frame payload: base64 JPEG with any
// data-URI prefix stripped
func encodeFrame(jpeg []byte) frameMessage {
	return frameMessage{
		Type:  MessageTypeFrame,
		Frame: base64.StdEncoding.EncodeToString(jpeg),
	}
}

// stripDataURI removes a data-URI prefix from an already-encoded frame
func stripDataURI(b64 string) string {
	if i := strings.Index(b64, "base64,"); i >= 0 {
		return b64[i+len("base64,"):]
	}
	return b64
}
