// detector-sim is a development stand-in for the person detection service.
// It serves the /ws/detect websocket endpoint: every frame message gets a
// detection reply carrying a synthetic random-walk person count and the
// frame echoed back.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/numia-vision/edge-counter/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundMessage struct {
	Type  string `json:"type"`
	Frame string `json:"frame,omitempty"`
}

type detectionMessage struct {
	Type      string `json:"type"`
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
	Frame     string `json:"frame,omitempty"`
}

func main() {
	var addr string
	var maxCount int
	flag.StringVar(&addr, "addr", ":8000", "Listen address")
	flag.IntVar(&maxCount, "max", 15, "Upper bound for the simulated person count")
	flag.Parse()

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	http.HandleFunc("/ws/detect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		log.Info("Agent connected", "remote", conn.RemoteAddr().String())
		serve(conn, maxCount, log)
		log.Info("Agent disconnected", "remote", conn.RemoteAddr().String())
	})

	log.Info("Detector simulator listening", "addr", addr, "endpoint", "/ws/detect")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// serve answers one agent connection until it closes
func serve(conn *websocket.Conn, maxCount int, log *logger.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	count := rng.Intn(maxCount/2 + 1)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("Skipping malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}

		case "frame":
			// random walk: drift by -1, 0 or +1, clamped to [0, maxCount]
			count += rng.Intn(3) - 1
			if count < 0 {
				count = 0
			}
			if count > maxCount {
				count = maxCount
			}

			reply := detectionMessage{
				Type:      "detection",
				Count:     count,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Frame:     msg.Frame,
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}

		default:
			// unknown message types are ignored
		}
	}
}
