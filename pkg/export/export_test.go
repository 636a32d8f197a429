package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/infra/kpi"
)

func TestWriteRunsCSV(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := WriteRunsCSV(&buf, []runlog.Record{{Pump: "main", Start: start, End: start.Add(90 * time.Minute), Duration: 5400}})
	require.NoError(t, err)
	assert.Equal(t, "pump,start,end,duration_seconds\nmain,2026-06-01T09:00:00Z,2026-06-01T10:30:00Z,5400\n", buf.String())
}

func TestWriteDailyCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteDailyCSV(&buf, []kpi.Daily{{Pump: "aux", Day: time.Date(2026, 6, 1, 0, 0, 0, 0, time.Local), RuntimeSeconds: 1800.5, Runs: 2}})
	require.NoError(t, err)
	assert.Equal(t, "pump,day,runtime_seconds,runs\naux,2026-06-01,1800.5,2\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []int{1, 2}))
	assert.Equal(t, "[1,2]\n", buf.String())
}
