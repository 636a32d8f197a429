// Package export writes pump history in JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/infra/kpi"
)

// WriteJSON writes v to w as JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

// WriteRunsCSV writes the runs to w in CSV format.
func WriteRunsCSV(w io.Writer, runs []runlog.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"pump", "start", "end", "duration_seconds"}); err != nil {
		return err
	}
	for _, r := range runs {
		rec := []string{
			r.Pump,
			r.Start.Format(time.RFC3339),
			r.End.Format(time.RFC3339),
			strconv.FormatFloat(r.Duration, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDailyCSV writes daily totals to w in CSV format.
func WriteDailyCSV(w io.Writer, days []kpi.Daily) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"pump", "day", "runtime_seconds", "runs"}); err != nil {
		return err
	}
	for _, d := range days {
		rec := []string{
			d.Pump,
			d.Day.Format(time.DateOnly),
			strconv.FormatFloat(d.RuntimeSeconds, 'f', -1, 64),
			strconv.Itoa(d.Runs),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
