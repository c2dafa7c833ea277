package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-gateway/pkg/backend"
	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/upstream"
)

const (
	usersBody  = `[{"id":1,"name":"Sanyog"},{"id":2,"name":"John"}]`
	ordersBody = `[{"id":100,"item":"Laptop","qty":1},{"id":101,"item":"Mouse","qty":2}]`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	gateway *Gateway
	metrics *Metrics
	handler http.Handler
}

func newFixture(t testing.TB, userURL, orderURL string, timeout time.Duration) *fixture {
	t.Helper()

	routes, err := config.NewRouteTable([]config.RouteConfig{
		{Path: "/users", Domain: "user", URL: userURL},
		{Path: "/orders", Domain: "order", URL: orderURL},
	})
	require.NoError(t, err)

	metrics := NewMetrics()
	gw, err := New(Options{
		Routes: routes,
		Client: upstream.NewClient(upstream.Config{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			Logger:    discardLogger(),
		}),
		Logger:  discardLogger(),
		Metrics: metrics,
		Version: "1.0.0",
	})
	require.NoError(t, err)

	return &fixture{gateway: gw, metrics: metrics, handler: gw.Handler()}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func backendServer(t testing.TB, name string) *httptest.Server {
	t.Helper()
	svc, err := backend.Lookup(name)
	require.NoError(t, err)
	ts := httptest.NewServer(backend.NewHandler(svc, discardLogger()))
	t.Cleanup(ts.Close)
	return ts
}

// closedURL returns the address of a server that is no longer listening.
func closedURL(t testing.TB) string {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	u := ts.URL
	ts.Close()
	return u
}

func countingServer(t testing.TB, handler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestNew_RequiresDependencies(t *testing.T) {
	routes, err := config.NewRouteTable(nil)
	require.NoError(t, err)

	_, err = New(Options{Client: upstream.NewClient(upstream.Config{})})
	assert.Error(t, err)

	_, err = New(Options{Routes: routes})
	assert.Error(t, err)

	gw, err := New(Options{Routes: routes, Client: upstream.NewClient(upstream.Config{}), Logger: discardLogger()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"api-gateway","version":"1.0.0"}`, rec.Body.String())
}

func TestHealth_DoesNotProbeBackends(t *testing.T) {
	users, userHits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f := newFixture(t, users.URL, closedURL(t), time.Second)

	rec := f.get("/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok","service":"api-gateway","version":"1.0.0"}`, rec.Body.String())
	assert.Zero(t, userHits.Load())
}

func TestHealth_StableAcrossCalls(t *testing.T) {
	f := newFixture(t, closedURL(t), closedURL(t), time.Second)

	first := f.get("/health").Body.String()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.get("/health").Body.String())
	}
}

func TestUsers_RelaysBackendBodyVerbatim(t *testing.T) {
	users := backendServer(t, "user")
	f := newFixture(t, users.URL, closedURL(t), time.Second)

	direct, err := http.Get(users.URL + "/users")
	require.NoError(t, err)
	want, err := io.ReadAll(direct.Body)
	require.NoError(t, err)
	require.NoError(t, direct.Body.Close())

	rec := f.get("/users")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, string(want), rec.Body.String())
	assert.JSONEq(t, usersBody, rec.Body.String())
}

func TestOrders_RelaysBackendBody(t *testing.T) {
	orders := backendServer(t, "order")
	f := newFixture(t, closedURL(t), orders.URL, time.Second)

	rec := f.get("/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, ordersBody, rec.Body.String())
}

func TestOrders_ConnectionRefused(t *testing.T) {
	f := newFixture(t, closedURL(t), closedURL(t), time.Second)

	rec := f.get("/orders")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":"Order service unavailable"}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.upstreamFailures.WithLabelValues("order", "connect")))
}

func TestUsers_UpstreamErrorStatusIsMasked(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			users, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = io.WriteString(w, `{"detail":"internal backend detail"}`)
			})
			f := newFixture(t, users.URL, closedURL(t), time.Second)

			rec := f.get("/users")

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"User service unavailable"}`, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "internal backend detail")
			assert.Equal(t, int64(1), hits.Load(), "failed calls must not be retried")
		})
	}
}

func TestUsers_MalformedBodyIsMasked(t *testing.T) {
	users, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	})
	f := newFixture(t, users.URL, closedURL(t), time.Second)

	rec := f.get("/users")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"User service unavailable"}`, rec.Body.String())
}

func TestOrders_TimeoutIsMasked(t *testing.T) {
	orders, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	f := newFixture(t, closedURL(t), orders.URL, 50*time.Millisecond)

	start := time.Now()
	rec := f.get("/orders")

	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Order service unavailable"}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.upstreamFailures.WithLabelValues("order", "timeout")))
}

func TestRoutesAreIsolated(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	orders, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	t.Cleanup(func() { close(release) })
	users := backendServer(t, "user")

	f := newFixture(t, users.URL, orders.URL, 5*time.Second)

	var wg sync.WaitGroup
	var orderRec *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		orderRec = f.get("/orders")
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("order backend never received the request")
	}

	start := time.Now()
	userRec := f.get("/users")
	assert.Less(t, time.Since(start), time.Second, "users must not wait on a hanging orders call")
	require.Equal(t, http.StatusOK, userRec.Code)
	assert.JSONEq(t, usersBody, userRec.Body.String())

	release <- struct{}{}
	wg.Wait()
	require.Equal(t, http.StatusInternalServerError, orderRec.Code)
	assert.JSONEq(t, `{"error":"Order service unavailable"}`, orderRec.Body.String())
}

func TestConcurrentMixedOutcomes(t *testing.T) {
	users := backendServer(t, "user")
	f := newFixture(t, users.URL, closedURL(t), time.Second)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan string, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if rec := f.get("/users"); rec.Code != http.StatusOK || rec.Body.String() == "" {
				errs <- "users: " + rec.Body.String()
			}
		}()
		go func() {
			defer wg.Done()
			if rec := f.get("/orders"); rec.Code != http.StatusInternalServerError {
				errs <- "orders: " + rec.Body.String()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	assert.Equal(t, float64(n), testutil.ToFloat64(f.metrics.httpRequestsTotal.WithLabelValues("GET", "/users", "200")))
	assert.Equal(t, float64(n), testutil.ToFloat64(f.metrics.httpRequestsTotal.WithLabelValues("GET", "/orders", "500")))
}

func TestUnknownPathAndMethod(t *testing.T) {
	f := newFixture(t, closedURL(t), closedURL(t), time.Second)

	assert.Equal(t, http.StatusNotFound, f.get("/payments").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.httpRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBoundPathMatchesExactly(t *testing.T) {
	users, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, usersBody)
	})
	f := newFixture(t, users.URL, closedURL(t), time.Second)

	assert.Equal(t, http.StatusNotFound, f.get("/users/1").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/users/").Code)
	assert.Zero(t, hits.Load())
}

func TestRequestIDPropagation(t *testing.T) {
	var seen atomic.Value
	users, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(upstream.RequestIDHeader))
		_, _ = io.WriteString(w, usersBody)
	})
	f := newFixture(t, users.URL, closedURL(t), time.Second)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set(upstream.RequestIDHeader, "trace-abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-abc-123", rec.Header().Get(upstream.RequestIDHeader))
	assert.Equal(t, "trace-abc-123", seen.Load())

	generated := f.get("/users")
	id := generated.Header().Get(upstream.RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Equal(t, id, seen.Load())
}

func TestValidRequestID(t *testing.T) {
	assert.True(t, validRequestID("abc-123"))
	assert.False(t, validRequestID(""))
	assert.False(t, validRequestID("has space"))
	assert.False(t, validRequestID("line\nbreak"))
	assert.False(t, validRequestID(string(make([]byte, maxRequestIDLength+1))))
}

func TestRecoverer(t *testing.T) {
	h := recoverer(discardLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(t, closedURL(t), closedURL(t), time.Second)
	f.get("/health")
	f.get("/orders")

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gateway_http_requests_total{method="GET",route="/health",status_code="200"} 1`)
	assert.Contains(t, body, `gateway_upstream_failures_total{domain="order",reason="connect"} 1`)
	assert.Contains(t, body, "gateway_http_request_duration_seconds")
}

func TestEmptyRouteTableServesOnlyHealth(t *testing.T) {
	routes, err := config.NewRouteTable(nil)
	require.NoError(t, err)
	gw, err := New(Options{Routes: routes, Client: upstream.NewClient(upstream.Config{}), Logger: discardLogger()})
	require.NoError(t, err)
	h := gw.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Whatever a backend answers, the client sees either the backend's 2xx body
// unchanged or exactly the fixed unavailable message for that route.
func TestForwardingProperties(t *testing.T) {
	var status atomic.Int64
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		switch r.URL.Path {
		case "/users":
			_, _ = io.WriteString(w, usersBody)
		case "/orders":
			_, _ = io.WriteString(w, ordersBody)
		}
	}))
	defer stub.Close()

	f := newFixture(t, stub.URL, stub.URL, time.Second)

	rapid.Check(t, func(t *rapid.T) {
		code := rapid.SampledFrom([]int{200, 201, 202, 301, 400, 401, 403, 404, 409, 429, 500, 502, 503, 504}).Draw(t, "status")
		path := rapid.SampledFrom([]string{"/users", "/orders"}).Draw(t, "path")
		status.Store(int64(code))

		rec := f.get(path)

		want := map[string]string{"/users": usersBody, "/orders": ordersBody}[path]
		message := map[string]string{"/users": "User service unavailable", "/orders": "Order service unavailable"}[path]

		if code >= 200 && code <= 299 {
			if rec.Code != http.StatusOK || rec.Body.String() != want {
				t.Fatalf("status %d on %s: got %d %q", code, path, rec.Code, rec.Body.String())
			}
			return
		}

		var body map[string]string
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status %d on %s: expected 500, got %d", code, path, rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("error body is not JSON: %v", err)
		}
		if len(body) != 1 || body["error"] != message {
			t.Fatalf("status %d on %s: unexpected error body %v", code, path, body)
		}
	})
}
