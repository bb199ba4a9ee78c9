package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/appointment"
	"github.com/hackgods/project-vector/internal/auth"
	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/lock"
	"github.com/hackgods/project-vector/internal/mockstore"
	"github.com/hackgods/project-vector/internal/notes"
	"github.com/hackgods/project-vector/internal/support"
	"github.com/hackgods/project-vector/internal/waitlist"
)

var clock = func() time.Time { return time.Date(2025, 10, 19, 8, 0, 0, 0, time.UTC) }

func newTestServer(t *testing.T, checks ...Check) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	kvs := kv.NewMemoryStore()
	store := mockstore.New(kvs, mockstore.WithClock(clock))
	require.NoError(t, store.Load(ctx))

	sim, err := auth.NewSimulator(kvs, "test-secret", auth.WithClock(clock))
	require.NoError(t, err)

	locker := lock.NewLocal()
	router := NewRouter(RouterConfig{
		Auth:         sim,
		Appointments: appointment.NewService(store, sim, locker, nil, appointment.WithClock(clock)),
		Notes:        notes.NewService(store, sim, locker, nil, notes.WithClock(clock)),
		Support:      support.NewService(store, sim, nil, support.WithClock(clock)),
		Waitlist:     waitlist.NewService(store, sim, locker, nil, waitlist.WithClock(clock)),
		Checks:       checks,
		Env:          "test",
		Version:      "v0.0.0",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func (c client) signIn(email string) client {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/auth/sign-in", SignInRequest{Email: email})
	require.Equal(c.t, http.StatusOK, status, string(body))
	var sess domain.Session
	require.NoError(c.t, json.Unmarshal(body, &sess))
	require.NotEmpty(c.t, sess.AccessToken)
	c.token = sess.AccessToken
	return c
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Error
}

func TestAPI_BookingFlow(t *testing.T) {
	srv := newTestServer(t)
	anon := client{t: t, base: srv.URL}

	provider := anon.signIn("dr.smith@vector.health")
	noVideo := false
	status, body := provider.do(http.MethodPost, "/slots/generate", GenerateSlotsRequest{
		From:            "2025-10-20",
		To:              "2025-10-20",
		DayStart:        "09:00",
		DayEnd:          "11:00",
		DurationMinutes: 30,
		Location:        "Room 4",
		IsVideo:         &noVideo,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var slots []domain.Appointment
	require.NoError(t, json.Unmarshal(body, &slots))
	require.Len(t, slots, 4)
	providerID := slots[0].ProviderID

	member := anon.signIn("alex.member@example.com")

	status, body = member.do(http.MethodGet, "/slots?provider_id="+providerID.String()+"&from=2025-10-20", nil)
	require.Equal(t, http.StatusOK, status)
	var open []domain.Appointment
	require.NoError(t, json.Unmarshal(body, &open))
	assert.Len(t, open, 4)

	status, body = member.do(http.MethodPost, "/slots/"+open[0].ID.String()+"/book", BookRequest{Notes: "Urgent Pain"})
	require.Equal(t, http.StatusOK, status, string(body))
	var booked domain.Appointment
	require.NoError(t, json.Unmarshal(body, &booked))
	assert.Equal(t, domain.StatusConfirmed, booked.Status)
	assert.Equal(t, "Urgent Pain", booked.Notes)
	assert.Equal(t, "Room 4", booked.Location)

	status, body = member.do(http.MethodPost, "/slots/"+open[1].ID.String()+"/book", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", errorCode(t, body))

	status, body = member.do(http.MethodGet, "/appointments", nil)
	require.Equal(t, http.StatusOK, status)
	var mine []domain.Appointment
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine, 1)

	status, body = member.do(http.MethodGet, "/members/me/availability?date=2025-10-20", nil)
	require.Equal(t, http.StatusOK, status)
	var avail AvailabilityResponse
	require.NoError(t, json.Unmarshal(body, &avail))
	assert.False(t, avail.Available)

	status, body = provider.do(http.MethodGet, "/providers/me/schedule?from=2025-10-20&to=2025-10-21", nil)
	require.Equal(t, http.StatusOK, status)
	var schedule []domain.Appointment
	require.NoError(t, json.Unmarshal(body, &schedule))
	require.Len(t, schedule, 4)
	assert.Equal(t, "Urgent Pain", schedule[0].Notes)

	status, body = member.do(http.MethodPost, "/appointments/"+booked.ID.String()+"/reschedule", RescheduleRequest{TargetSlotID: open[2].ID.String()})
	require.Equal(t, http.StatusOK, status, string(body))
	var moved domain.Appointment
	require.NoError(t, json.Unmarshal(body, &moved))
	assert.Equal(t, open[2].StartTime, moved.StartTime)
	assert.Equal(t, "Urgent Pain", moved.Notes)

	status, body = member.do(http.MethodPost, "/appointments/"+moved.ID.String()+"/cancel", ReasonRequest{Reason: "feeling better"})
	require.Equal(t, http.StatusOK, status, string(body))
	var cancelled domain.Appointment
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
}

func TestAPI_Errors(t *testing.T) {
	srv := newTestServer(t)
	anon := client{t: t, base: srv.URL}

	status, body := anon.do(http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "not_authenticated", errorCode(t, body))

	bad := client{t: t, base: srv.URL, token: "garbage"}
	status, _ = bad.do(http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	member := anon.signIn("alex.member@example.com")

	status, body = member.do(http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", errorCode(t, body))

	status, body = member.do(http.MethodGet, "/appointments/6f1c1a52-8d7e-4c55-9a8b-2f0d4a3e9b10", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(t, body))

	status, body = member.do(http.MethodPost, "/slots/generate", GenerateSlotsRequest{
		From: "2025-10-20", To: "2025-10-20", DayStart: "09:00", DayEnd: "10:00", DurationMinutes: 30,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(t, body))

	status, _ = member.do(http.MethodPost, "/admin/normalize", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = member.do(http.MethodPost, "/help", "not an object")
	assert.Equal(t, http.StatusBadRequest, status)

	admin := anon.signIn("admin@vector.health")
	status, body = admin.do(http.MethodPost, "/admin/normalize", nil)
	require.Equal(t, http.StatusOK, status)
	var norm NormalizeResponse
	require.NoError(t, json.Unmarshal(body, &norm))
	assert.Zero(t, norm.Changed)
}

func TestAPI_NotesHelpWaitlist(t *testing.T) {
	srv := newTestServer(t)
	anon := client{t: t, base: srv.URL}

	member := anon.signIn("alex.member@example.com")
	memberID := auth.UserIDFor("alex.member@example.com")
	provider := anon.signIn("dr.smith@vector.health")
	providerID := auth.UserIDFor("dr.smith@vector.health")

	status, body := provider.do(http.MethodPost, "/notes", CreateNoteRequest{
		MemberID: memberID.String(),
		Category: "medication",
		Content:  "Start ibuprofen",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var note domain.EncounterNote
	require.NoError(t, json.Unmarshal(body, &note))

	status, body = provider.do(http.MethodGet, "/notes/statistics?period=2025-10", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var stats domain.NoteStatistics
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.TotalNotes)

	status, _ = provider.do(http.MethodPost, "/notes/"+note.ID.String()+"/archive", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = member.do(http.MethodGet, "/members/me/notes", nil)
	require.Equal(t, http.StatusOK, status)
	var visible []domain.EncounterNote
	require.NoError(t, json.Unmarshal(body, &visible))
	assert.Empty(t, visible)

	status, body = member.do(http.MethodGet, "/members/me/notes?include_archived=true", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &visible))
	assert.Len(t, visible, 1)

	status, body = member.do(http.MethodPost, "/help", CreateHelpRequest{Subject: "Billing", Message: "Charged twice"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var help domain.HelpRequest
	require.NoError(t, json.Unmarshal(body, &help))

	status, _ = member.do(http.MethodGet, "/help", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = provider.do(http.MethodPost, "/help/"+help.ID.String()+"/status", StatusRequest{Status: "resolved", Resolution: "Refunded"})
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &help))
	assert.Equal(t, domain.HelpResolved, help.Status)

	status, body = member.do(http.MethodPost, "/waitlist", JoinWaitlistRequest{ProviderID: providerID.String()})
	require.Equal(t, http.StatusCreated, status, string(body))
	status, body = member.do(http.MethodPost, "/waitlist", JoinWaitlistRequest{ProviderID: providerID.String()})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", errorCode(t, body))

	status, body = provider.do(http.MethodGet, "/providers/me/waitlist", nil)
	require.Equal(t, http.StatusOK, status)
	var entries []domain.WaitlistEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)

	status, _ = provider.do(http.MethodPost, "/waitlist/"+entries[0].ID.String()+"/fulfill", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_AuthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	anon := client{t: t, base: srv.URL}
	member := anon.signIn("alex.member@example.com")

	status, body := member.do(http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, status)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, domain.RoleMember, sess.Role)
	assert.Empty(t, sess.AccessToken)

	status, _ = member.do(http.MethodPost, "/auth/pin", PINRequest{PIN: "2468"})
	require.Equal(t, http.StatusNoContent, status)

	status, body = member.do(http.MethodPost, "/auth/pin/verify", PINRequest{PIN: "2468"})
	require.Equal(t, http.StatusOK, status)
	var pin PINResponse
	require.NoError(t, json.Unmarshal(body, &pin))
	assert.True(t, pin.Valid)

	status, _ = member.do(http.MethodPost, "/auth/sign-out", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = anon.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_TokenlessRequestsShareCurrentSession(t *testing.T) {
	srv := newTestServer(t)
	anon := client{t: t, base: srv.URL}
	first := anon.signIn("alex.member@example.com")
	second := anon.signIn("sam.member@example.com")

	session := func(c client) domain.Session {
		t.Helper()
		status, body := c.do(http.MethodGet, "/auth/session", nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var sess domain.Session
		require.NoError(t, json.Unmarshal(body, &sess))
		return sess
	}

	firstSess := session(first)
	secondSess := session(second)
	assert.Equal(t, secondSess.UserID, session(anon).UserID)

	status, body := first.do(http.MethodGet, "/members/"+secondSess.UserID.String()+"/availability?date=2025-10-20", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(t, body))

	status, _ = second.do(http.MethodPost, "/auth/sign-out", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = anon.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, firstSess.UserID, session(first).UserID, "bearer tokens keep working")
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	srv := newTestServer(t, Check{Name: "store", Required: true, Ping: ok}, Check{Name: "nats", Ping: down})
	anon := client{t: t, base: srv.URL}

	status, _ := anon.do(http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := anon.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, status)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(body, &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"store": "ok", "nats": "down"}, ready.Dependencies)

	status, body = anon.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body), `vector_http_requests_total{method="GET",route="/health/ready",status="200"} 1`), string(body))

	failing := newTestServer(t, Check{Name: "store", Required: true, Ping: down})
	status, _ = client{t: t, base: failing.URL}.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
