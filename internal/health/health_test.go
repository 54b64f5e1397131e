package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChecker struct {
	name string
	err  error
}

func (f fakeChecker) Name() string                  { return f.name }
func (f fakeChecker) Check(_ context.Context) error { return f.err }

func TestCheckAllAggregates(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(fakeChecker{name: "a"})
	m.Register(fakeChecker{name: "b", err: errors.New("down")})

	healthy, results := m.CheckAll(context.Background())

	assert.False(t, healthy)
	require.Len(t, results, 2)
	assert.True(t, results[0].Healthy)
	assert.False(t, results[1].Healthy)
	assert.Equal(t, "down", results[1].Error)
}

func TestReadinessEndpoint(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(fakeChecker{name: "a"})
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)

	m.Register(fakeChecker{name: "b", err: errors.New("down")})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessAlwaysOK(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(fakeChecker{name: "a", err: errors.New("down")})
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionsDirChecker(t *testing.T) {
	c := SessionsDirChecker{Dir: t.TempDir()}
	assert.NoError(t, c.Check(context.Background()))
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := HTTPChecker{CheckName: "llm_service", URL: srv.URL}
	assert.NoError(t, c.Check(context.Background()))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	c.URL = bad.URL
	assert.Error(t, c.Check(context.Background()))
}
