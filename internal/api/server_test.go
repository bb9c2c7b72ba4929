package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anonchat/pkg/types"
)

type fakeStore struct{ err error }

func (f fakeStore) HealthCheck(ctx context.Context) error { return f.err }

type fixedSize int

func (n fixedSize) Size() int  { return int(n) }
func (n fixedSize) Count() int { return int(n) }

func newTestServer(storeErr error) *Server {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "anonchat_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	return NewServer(Deps{
		Store:       fakeStore{err: storeErr},
		Queue:       fixedSize(3),
		Connections: fixedSize(5),
		WebSocket: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
		Gatherer: reg,
	}, zap.NewNop())
}

func TestServer_Health(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		code   int
		status string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"store down", errors.New("disk gone"), http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestServer(tc.err).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tc.code, rec.Code)
			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, 3, body.Waiting)
			assert.NotContains(t, rec.Body.String(), "disk gone", "internal errors are not exposed")
		})
	}
}

func TestServer_Stats(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Waiting)
	assert.Equal(t, 5, body.Connections)
}

func TestServer_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "anonchat_test_total 1")
}

func TestServer_WebSocketRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?user_id=1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	newTestServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeSessions struct {
	meta    map[string]*types.Session
	reports map[string][]*types.Report
	err     error
}

func (f *fakeSessions) GetSessionMeta(ctx context.Context, sessionID string) (*types.Session, error) {
	return f.meta[sessionID], f.err
}

func (f *fakeSessions) ListReports(ctx context.Context, sessionID string) ([]*types.Report, error) {
	return f.reports[sessionID], f.err
}

func newModerationServer(sessions *fakeSessions, token string) *Server {
	return NewServer(Deps{
		Store:       fakeStore{},
		Queue:       fixedSize(0),
		Connections: fixedSize(0),
		Sessions:    sessions,
		AdminToken:  token,
	}, zap.NewNop())
}

func getSession(s *Server, id, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_SessionModeration(t *testing.T) {
	ended := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sessions := &fakeSessions{
		meta: map[string]*types.Session{
			"s-1": {ID: "s-1", UserA: 1, UserB: 2, StartedAt: ended.Add(-time.Minute), EndedAt: &ended},
			"s-2": {ID: "s-2", UserA: 3, UserB: 4, StartedAt: ended},
		},
		reports: map[string][]*types.Report{
			"s-1": {{ID: 1, SessionID: "s-1", Reporter: "aa", Reported: "bb", CreatedAt: ended}},
		},
	}
	server := newModerationServer(sessions, "moderator")

	testCases := []struct {
		name    string
		id      string
		auth    string
		code    int
		reports int
	}{
		{"missing token", "s-1", "", http.StatusUnauthorized, 0},
		{"wrong token", "s-1", "Bearer nope", http.StatusUnauthorized, 0},
		{"not bearer", "s-1", "moderator", http.StatusUnauthorized, 0},
		{"unknown session", "s-9", "Bearer moderator", http.StatusNotFound, 0},
		{"with reports", "s-1", "Bearer moderator", http.StatusOK, 1},
		{"without reports", "s-2", "Bearer moderator", http.StatusOK, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := getSession(server, tc.id, tc.auth)
			require.Equal(t, tc.code, rec.Code)
			if tc.code != http.StatusOK {
				return
			}
			var body SessionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotNil(t, body.Session)
			assert.Equal(t, tc.id, body.Session.ID)
			assert.NotNil(t, body.Reports)
			assert.Len(t, body.Reports, tc.reports)
		})
	}
}

func TestServer_SessionModerationErrors(t *testing.T) {
	server := newModerationServer(&fakeSessions{err: errors.New("disk gone")}, "moderator")
	rec := getSession(server, "s-1", "Bearer moderator")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk gone")

	unmounted := newModerationServer(&fakeSessions{}, "")
	assert.Equal(t, http.StatusNotFound, getSession(unmounted, "s-1", "Bearer ").Code)
}
