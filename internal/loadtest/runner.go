// Package loadtest drives concurrent members against a running API: they
// book open slots, cancel some of their bookings and read their schedules.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	BaseURL  string
	Duration time.Duration
	Workers  int
	// Members are the emails the workers sign in as.
	Members      []string
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	Client       *http.Client
}

func (c *Config) normalize() error {
	if c.BaseURL == "" {
		return errors.New("loadtest: base url is required")
	}
	if c.Workers <= 0 {
		return errors.New("loadtest: workers must be > 0")
	}
	if c.Duration <= 0 {
		return errors.New("loadtest: duration must be > 0")
	}
	if len(c.Members) == 0 {
		return errors.New("loadtest: at least one member is required")
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	total := c.BookingRatio + c.CancelRatio + c.ReadRatio
	if total <= 0 {
		c.BookingRatio, c.CancelRatio, c.ReadRatio, total = 0.5, 0.2, 0.3, 1
	}
	c.BookingRatio /= total
	c.CancelRatio /= total
	c.ReadRatio /= total
	return nil
}

type member struct {
	email string
	token string
}

type booking struct {
	id    uuid.UUID
	token string
}

// pool holds the shared, mutable view of what the workers have done.
type pool struct {
	mu       sync.RWMutex
	slots    []uuid.UUID
	bookings []booking
}

func (p *pool) randomSlot(rng *rand.Rand) (uuid.UUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.slots) == 0 {
		return uuid.Nil, false
	}
	return p.slots[rng.Intn(len(p.slots))], true
}

func (p *pool) addBooking(b booking) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, b)
}

// takeBooking removes and returns a random booking.
func (p *pool) takeBooking(rng *rand.Rand) (booking, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bookings) == 0 {
		return booking{}, false
	}
	i := rng.Intn(len(p.bookings))
	b := p.bookings[i]
	p.bookings[i] = p.bookings[len(p.bookings)-1]
	p.bookings = p.bookings[:len(p.bookings)-1]
	return b, true
}

type Runner struct {
	cfg     Config
	logger  *slog.Logger
	members []member
	pool    pool

	Metrics Metrics
}

func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Prepare signs every member in and loads the open slots.
func (r *Runner) Prepare(ctx context.Context) error {
	r.members = r.members[:0]
	for _, email := range r.cfg.Members {
		var sess struct {
			AccessToken string `json:"access_token"`
		}
		status, err := r.call(ctx, http.MethodPost, "/auth/sign-in", "", map[string]string{"email": email}, &sess)
		if err != nil {
			return fmt.Errorf("sign in %s: %w", email, err)
		}
		if status != http.StatusOK || sess.AccessToken == "" {
			return fmt.Errorf("sign in %s: status %d", email, status)
		}
		r.members = append(r.members, member{email: email, token: sess.AccessToken})
	}

	var slots []struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := r.call(ctx, http.MethodGet, "/slots", r.members[0].token, nil, &slots)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("load slots: status %d", status)
	}
	if len(slots) == 0 {
		return errors.New("no open slots to book")
	}
	r.pool.slots = r.pool.slots[:0]
	for _, s := range slots {
		r.pool.slots = append(r.pool.slots, s.ID)
	}

	r.logger.Info("load test prepared", "members", len(r.members), "slots", len(r.pool.slots))
	return nil
}

// Run fans out the workers until Duration elapses or ctx is cancelled.
// Requests in flight when the run ends are allowed to finish.
func (r *Runner) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	r.logger.Info("starting load test", "duration", r.cfg.Duration, "workers", r.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	r.logger.Info("load test complete")
}

func (r *Runner) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	reqCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m := r.members[rng.Intn(len(r.members))]
		x := rng.Float64()
		switch {
		case x < r.cfg.BookingRatio:
			r.doBooking(reqCtx, rng, m)
		case x < r.cfg.BookingRatio+r.cfg.CancelRatio:
			r.doCancel(reqCtx, rng)
		case rng.Intn(2) == 0:
			r.doRead(reqCtx, m.token, "/appointments", &r.Metrics.ListMine)
		default:
			r.doRead(reqCtx, m.token, "/slots", &r.Metrics.ListOpen)
		}
	}
}

func (r *Runner) doBooking(ctx context.Context, rng *rand.Rand, m member) {
	slotID, ok := r.pool.randomSlot(rng)
	if !ok {
		return
	}

	start := time.Now()
	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := r.call(ctx, http.MethodPost, "/slots/"+slotID.String()+"/book", m.token,
		map[string]string{"notes": "load test"}, &appt)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	if success && appt.ID != uuid.Nil {
		r.pool.addBooking(booking{id: appt.ID, token: m.token})
	}
	r.Metrics.Booking.Record(latency, success, err == nil && status == http.StatusConflict)
}

func (r *Runner) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := r.pool.takeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := r.call(ctx, http.MethodPost, "/appointments/"+b.id.String()+"/cancel", b.token,
		map[string]string{"reason": "load test"}, nil)
	latency := time.Since(start)

	r.Metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (r *Runner) doRead(ctx context.Context, token, path string, om *OperationMetrics) {
	start := time.Now()
	status, err := r.call(ctx, http.MethodGet, path, token, nil, nil)
	om.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// call sends body as JSON and decodes a 2xx response into out when out is
// non-nil.
func (r *Runner) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
