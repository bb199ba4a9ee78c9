package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/mockstore"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVectorctl_SeedDumpReset(t *testing.T) {
	t.Setenv("BACKEND", "local")
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("STORE_PATH", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "seed", "--start", "2030-01-07", "--days", "5", "--providers", "2", "--members", "4", "--seed", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "@vector.health")
	assert.Contains(t, out, "appointments")

	out, err = run(t, "seed", "--start", "2030-01-07")
	require.NoError(t, err)
	assert.Contains(t, out, "already initialized")

	out, err = run(t, "dump")
	require.NoError(t, err)
	var doc mockstore.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.True(t, doc.Init)
	assert.Len(t, doc.Appointments, 2*5*16)

	_, err = run(t, "reset")
	assert.ErrorContains(t, err, "--yes")

	_, err = run(t, "reset", "--yes")
	require.NoError(t, err)

	out, err = run(t, "dump")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Empty(t, doc.Appointments)
}

func TestVectorctl_SlotsGenerate(t *testing.T) {
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("STORE_PATH", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "slots", "generate",
		"--provider", "dr.house@vector.health",
		"--from", "2030-01-07", "--to", "2030-01-13",
		"--weekdays", "mon,wed",
		"--day-start", "09:00", "--day-end", "10:00",
		"--video", "no")
	require.NoError(t, err)

	var slots []domain.Appointment
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	require.Len(t, slots, 4)
	for _, s := range slots {
		assert.Contains(t, []time.Weekday{time.Monday, time.Wednesday}, s.StartTime.Weekday())
		assert.False(t, s.IsVideo)
	}

	_, err = run(t, "slots", "generate", "--provider", "member@example.com", "--from", "2030-01-07")
	assert.Error(t, err)
}

func TestParseWeekdays(t *testing.T) {
	days, err := parseWeekdays([]string{"Monday", "fri", " sat "})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday, time.Saturday}, days)

	_, err = parseWeekdays([]string{"someday"})
	assert.Error(t, err)
}
