package session

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// ExportCSV renders a session summary as a CSV report. The report lists the
// session's events first, then the recorded count samples, under a shared
// header. Times use the local wall clock in HH:MM:SS form.
func ExportCSV(summary Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Hora", "Personas", "Tipo", "Mensaje"}); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, ev := range summary.Events {
		row := []string{clockTime(ev.Time), "", string(ev.Type), ev.Message}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write event row: %w", err)
		}
	}

	for _, sample := range summary.ChartData {
		row := []string{clockTime(sample.Timestamp), strconv.Itoa(sample.Count), "data", ""}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write sample row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportFilename builds the download filename for a session report
func ExportFilename(summary Summary) string {
	return fmt.Sprintf("sesion_%s.csv", summary.StartTime.Format("2006-01-02_15-04-05"))
}

func clockTime(t time.Time) string {
	return t.Local().Format("15:04:05")
}
