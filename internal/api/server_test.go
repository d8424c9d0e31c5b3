package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

type fakeCheckpoints struct {
	cursor string
	found  bool
	count  int
	err    error
}

func (f *fakeCheckpoints) LastCursor(context.Context, string) (string, bool, error) {
	return f.cursor, f.found, f.err
}

func (f *fakeCheckpoints) Count(context.Context, string) (int, error) {
	return f.count, f.err
}

type fakeClaims struct {
	done bool
	lock harvest.LockState
	err  error
}

func (f *fakeClaims) IsComplete(context.Context, string) (bool, error) {
	return f.done, f.err
}

func (f *fakeClaims) Inspect(context.Context, string) (harvest.LockState, error) {
	if f.err != nil {
		return harvest.LockState{}, f.err
	}
	return f.lock, nil
}

type fakeHistory struct {
	events    []harvest.OutcomeEvent
	err       error
	lastLimit int
}

func (f *fakeHistory) History(_ context.Context, _ string, limit int) ([]harvest.OutcomeEvent, error) {
	f.lastLimit = limit
	return f.events, f.err
}

func serve(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, nil, zap.NewNop())
	rec := serve(t, server, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, nil, nil)
	serve(t, server, "/healthz")
	rec := serve(t, server, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "harvester_http_requests_total")
}

func TestServer_GetUnit_InProgress(t *testing.T) {
	t.Parallel()

	checkpoints := &fakeCheckpoints{cursor: "c-150", found: true, count: 150}
	claims := &fakeClaims{lock: harvest.LockState{Held: true, Age: 90 * time.Second, Owner: "Locked by w1"}}
	server := NewServer(checkpoints, claims, nil, zap.NewNop())

	rec := serve(t, server, "/v1/units/1234")
	require.Equal(t, http.StatusOK, rec.Code)

	var status UnitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, UnitStatus{
		UnitID:         "1234",
		Locked:         true,
		LockAgeSeconds: 90,
		LockOwner:      "Locked by w1",
		LastCursor:     "c-150",
		Records:        150,
	}, status)
}

func TestServer_GetUnit_Completed(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{cursor: "c-9", found: true, count: 9}, &fakeClaims{done: true}, nil, zap.NewNop())
	rec := serve(t, server, "/v1/units/77")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unit_id":"77","completed":true,"locked":false,"last_cursor":"c-9","records":9}`, rec.Body.String())
}

func TestServer_GetUnit_Unknown(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, nil, zap.NewNop())
	rec := serve(t, server, "/v1/units/55")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unit_id":"55","completed":false,"locked":false,"records":0}`, rec.Body.String())
}

func TestServer_GetUnit_InvalidID(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, nil, zap.NewNop())
	rec := serve(t, server, "/v1/units/a..b")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid unit id")
}

func TestServer_GetUnit_StoreError(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{err: errors.New("stat failed")}, nil, zap.NewNop())
	rec := serve(t, server, "/v1/units/1234")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "stat failed")
}

func TestServer_GetHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{events: []harvest.OutcomeEvent{
		{UnitID: "1234", Outcome: harvest.OutcomeSuccessCompleted, RecordsAppended: 10},
		{UnitID: "1234", Outcome: harvest.OutcomeIncomplete, RecordsAppended: 50, ErrorText: "rate limited"},
	}}
	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, history, zap.NewNop())

	rec := serve(t, server, "/v1/units/1234/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.lastLimit)

	var body struct {
		UnitID   string                 `json:"unit_id"`
		Outcomes []harvest.OutcomeEvent `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1234", body.UnitID)
	require.Len(t, body.Outcomes, 2)
	assert.Equal(t, harvest.OutcomeSuccessCompleted, body.Outcomes[0].Outcome)
}

func TestServer_GetHistory_Limits(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{}
	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, history, zap.NewNop())

	rec := serve(t, server, "/v1/units/1234/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, history.lastLimit)
	assert.JSONEq(t, `{"unit_id":"1234","outcomes":[]}`, rec.Body.String())

	serve(t, server, "/v1/units/1234/history?limit=100000")
	assert.Equal(t, maxHistoryLimit, history.lastLimit)

	rec = serve(t, server, "/v1/units/1234/history?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetHistory_Errors(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, nil, zap.NewNop())
	rec := serve(t, server, "/v1/units/1234/history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	server = NewServer(&fakeCheckpoints{}, &fakeClaims{}, &fakeHistory{err: errors.New("db down")}, zap.NewNop())
	rec = serve(t, server, "/v1/units/1234/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeCheckpoints{}, &fakeClaims{}, nil, zap.NewNop())
	handler := server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	limit, err := parseLimit("")
	require.NoError(t, err)
	assert.Equal(t, defaultHistoryLimit, limit)

	limit, err = parseLimit("7")
	require.NoError(t, err)
	assert.Equal(t, 7, limit)

	_, err = parseLimit("abc")
	require.Error(t, err)
	_, err = parseLimit("0")
	require.Error(t, err)
}
