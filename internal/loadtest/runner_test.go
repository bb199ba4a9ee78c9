package loadtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/app"
	"github.com/hackgods/project-vector/internal/config"
	"github.com/hackgods/project-vector/internal/seed"
)

func TestRunner_AgainstLocalAPI(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := app.Build(ctx, config.Config{
		Env:         "test",
		Backend:     config.BackendLocal,
		StoreDriver: config.StoreMemory,
		SessionTTL:  time.Hour,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	data, err := seed.Generate(seed.Options{Start: time.Now().Add(48 * time.Hour), Days: 7, Providers: 2, Seed: 3})
	require.NoError(t, err)
	_, err = a.Store.Seed(ctx, data.Data)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler("test"))
	t.Cleanup(srv.Close)

	r, err := NewRunner(Config{
		BaseURL:      srv.URL,
		Duration:     300 * time.Millisecond,
		Workers:      4,
		Members:      []string{"load.one@example.com", "load.two@example.com", "load.three@example.com"},
		BookingRatio: 0.6,
		CancelRatio:  0.1,
		ReadRatio:    0.3,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, r.Prepare(ctx))

	r.Run(ctx)

	assert.GreaterOrEqual(t, r.Metrics.Booking.Success, int64(1))
	assert.Zero(t, r.Metrics.Booking.Error)
	assert.Zero(t, r.Metrics.ListMine.Error)
	assert.Zero(t, r.Metrics.ListOpen.Error)

	var out bytes.Buffer
	r.WriteReport(&out)
	assert.Contains(t, out.String(), "LOAD TEST REPORT")
	assert.Contains(t, out.String(), "Booking:")
}

func TestRunner_PrepareWithoutSlots(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := app.Build(ctx, config.Config{Env: "test", StoreDriver: config.StoreMemory, SessionTTL: time.Hour}, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	srv := httptest.NewServer(a.Handler("test"))
	t.Cleanup(srv.Close)

	r, err := NewRunner(Config{BaseURL: srv.URL, Duration: time.Second, Workers: 1, Members: []string{"m@example.com"}}, logger)
	require.NoError(t, err)
	assert.ErrorContains(t, r.Prepare(ctx), "no open slots")
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Config{BaseURL: "http://x", Duration: time.Second, Workers: 1, Members: []string{"a@b.c"}, BookingRatio: 2, ReadRatio: 2}
	require.NoError(t, cfg.normalize())
	assert.InDelta(t, 0.5, cfg.BookingRatio, 1e-9)
	assert.InDelta(t, 0.5, cfg.ReadRatio, 1e-9)
	assert.NotNil(t, cfg.Client)

	for _, bad := range []Config{
		{Duration: time.Second, Workers: 1, Members: []string{"a@b.c"}},
		{BaseURL: "http://x", Workers: 1, Members: []string{"a@b.c"}},
		{BaseURL: "http://x", Duration: time.Second, Members: []string{"a@b.c"}},
		{BaseURL: "http://x", Duration: time.Second, Workers: 1},
	} {
		assert.Error(t, bad.normalize())
	}
}

func TestOperationMetrics_Stats(t *testing.T) {
	var om OperationMetrics
	for i := 1; i <= 20; i++ {
		om.Record(time.Duration(i)*time.Millisecond, i%2 == 0, i%5 == 0)
	}
	st := om.Stats()
	assert.Equal(t, int64(20), om.Total)
	assert.Equal(t, int64(10), om.Success)
	assert.Equal(t, int64(2), om.Conflict) // 5 and 15
	assert.Equal(t, int64(8), om.Error)
	assert.Equal(t, time.Millisecond, st.Min)
	assert.Equal(t, 20*time.Millisecond, st.Max)
	assert.Equal(t, 11*time.Millisecond, st.P50)
	assert.Equal(t, 20*time.Millisecond, st.P95)
	assert.Equal(t, 10500*time.Microsecond, st.Avg)

	var empty OperationMetrics
	assert.Equal(t, LatencyStats{}, empty.Stats())
}
