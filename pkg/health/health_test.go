package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type probeResponse struct {
	Code   int
	Status string
	Checks map[string]string
}

func get(t *testing.T, endpoint http.HandlerFunc) probeResponse {
	t.Helper()

	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := probeResponse{Code: w.Code}
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			resp.Status = v
			return err
		case "checks":
			resp.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				resp.Checks[name] = v
				return err
			})
		}
		return d.Skip()
	}))
	return resp
}

func pass(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// runN drives a probe synchronously n times.
func runN(p *probe, n int) {
	for range n {
		p.run(context.Background(), zap.NewNop())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("goroutines", time.Second, pass)
	h.AddLivenessCheck("db", time.Second, fail("connection refused"))

	// Checks start healthy and need three consecutive failures to flip.
	runN(h.liveness[1], 2)
	resp := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Checks)

	runN(h.liveness[1], 1)
	resp = get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, map[string]string{"db": "connection refused"}, resp.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		ready    bool
		optional bool
		failing  bool
		code     int
		status   string
		checks   []string
	}{
		{name: "ReadyPassing", ready: true, code: http.StatusOK, status: StatusOK},
		{name: "NotReady", ready: false, code: http.StatusServiceUnavailable, status: StatusUnhealthy, checks: []string{"_readiness"}},
		{name: "RequiredFailing", ready: true, failing: true, code: http.StatusServiceUnavailable, status: StatusUnhealthy, checks: []string{"dep"}},
		{name: "OptionalFailing", ready: true, failing: true, optional: true, code: http.StatusOK, status: StatusDegraded, checks: []string{"dep"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			check := pass
			if tt.failing {
				check = fail("unreachable")
			}
			var opts []Option
			if tt.optional {
				opts = append(opts, Optional())
			}
			h.AddReadinessCheck("postgres", time.Second, pass)
			h.AddReadinessCheck("dep", time.Second, check, opts...)
			h.SetReady(tt.ready)
			runN(h.readiness[1], 3)

			resp := get(t, h.ReadyEndpoint)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			for _, name := range tt.checks {
				assert.Contains(t, resp.Checks, name)
			}
			assert.Equal(t, tt.code == http.StatusOK, h.IsReady())
		})
	}
}

func TestThresholds(t *testing.T) {
	failing := true
	h := New(nil)
	h.AddReadinessCheck("cache", time.Second, func(context.Context) error {
		if failing {
			return errors.New("timeout")
		}
		return nil
	}, Thresholds(1, 2))
	h.SetReady(true)
	p := h.readiness[0]

	runN(p, 1)
	assert.False(t, h.IsReady())
	assert.Equal(t, "timeout", p.failure())

	failing = false
	runN(p, 1)
	assert.False(t, h.IsReady(), "one success is below the success threshold")
	runN(p, 1)
	assert.True(t, h.IsReady())
}

func TestTransitionsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	failing := true
	p := newProbe("kafka", time.Second, func(context.Context) error {
		if failing {
			return errors.New("broker down")
		}
		return nil
	}, []Option{Optional(), Thresholds(1, 1)})

	lg := zap.New(core)
	p.run(context.Background(), lg)
	p.run(context.Background(), lg)
	failing = false
	p.run(context.Background(), lg)

	entries := logs.All()
	require.Len(t, entries, 2, "repeated failures log once")
	assert.Equal(t, "Health check failing", entries[0].Message)
	assert.Equal(t, "kafka", entries[0].ContextMap()["check"])
	assert.Equal(t, "Health check recovered", entries[1].Message)
}

func TestStartStop(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("live", time.Second, fail("err"), Thresholds(1, 1))
	h.AddReadinessCheck("ready", time.Second, pass)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
		return w.Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				w := httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()

	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(PingFunc(func(context.Context) error { return nil }))
	require.NoError(t, ok(context.Background()))

	down := PingCheck(PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))
	err := down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping")
}
