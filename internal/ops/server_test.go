package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "newsbot/pkg/logx"
)

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "newsbot_test_total", Help: "test"}).Inc()

	var down atomic.Bool
	s := New(Config{}, reg, func(context.Context) error {
		if down.Load() {
			return errors.New("storage down")
		}
		return nil
	}, logx.Nop())
	srv := httptest.NewServer(s.Handler(Config{Pprof: true}))
	t.Cleanup(srv.Close)

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, body := get("/metrics"); code != http.StatusOK || !strings.Contains(body, "newsbot_test_total 1") {
		t.Fatalf("metrics: %d %q", code, body)
	}
	if code, _ := get("/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("pprof index: %d", code)
	}

	down.Store(true)
	if code, body := get("/healthz"); code != http.StatusServiceUnavailable || !strings.Contains(body, "storage down") {
		t.Fatalf("unhealthy: %d %q", code, body)
	}
}

func TestHandlerAuthAndNoPprof(t *testing.T) {
	t.Parallel()
	s := New(Config{}, prometheus.NewRegistry(), nil, logx.Nop())
	srv := httptest.NewServer(s.Handler(Config{Token: "s3cret"}))
	t.Cleanup(srv.Close)

	tests := []struct {
		path   string
		header string
		want   int
	}{
		{"/healthz", "", http.StatusUnauthorized},
		{"/healthz?token=s3cret", "", http.StatusOK},
		{"/healthz", "Bearer s3cret", http.StatusOK},
		{"/healthz", "Bearer nope", http.StatusUnauthorized},
		{"/debug/pprof/?token=s3cret", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("%s (%q): status %d want %d", tt.path, tt.header, resp.StatusCode, tt.want)
		}
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v want ErrInsecureBind", err)
	}
}

func TestStartStopLoopback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, prometheus.NewRegistry(), nil, logx.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("no addr after start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	s.Stop(ctx)
	if s.Addr() != "" {
		t.Fatalf("addr kept after stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"bogus":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}
