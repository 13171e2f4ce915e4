package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/kfcemployee/joyofenergy/server/engine"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.ConnOpened()
	c.ConnOpened()
	c.ConnClosed(engine.ErrPeerClosed)
	c.RequestServed("GET", "/readings/read/{meterId}", 200, time.Millisecond)
	c.RequestServed("GET", "/readings/read/{meterId}", 404, time.Millisecond)
	c.RequestServed("GET", "", 404, time.Millisecond)
	c.ProtocolError(431)
	c.HandlerPanicked()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"open", testutil.ToFloat64(c.connsOpen), 1},
		{"accepted", testutil.ToFloat64(c.connsAccepted), 2},
		{"closed by peer", testutil.ToFloat64(c.connsClosed.WithLabelValues("peer")), 1},
		{"read ok", testutil.ToFloat64(c.requests.WithLabelValues("GET", "/readings/read/{meterId}", "200")), 1},
		{"read not found", testutil.ToFloat64(c.requests.WithLabelValues("GET", "/readings/read/{meterId}", "404")), 1},
		{"unmatched", testutil.ToFloat64(c.requests.WithLabelValues("GET", "unmatched", "404")), 1},
		{"431", testutil.ToFloat64(c.protoErrors.WithLabelValues("431")), 1},
		{"panics", testutil.ToFloat64(c.panics), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(c.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestCloseLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "server"},
		{engine.ErrPeerClosed, "peer"},
		{fmt.Errorf("read: %w", engine.ErrTimeout), "timeout"},
		{engine.ErrEngineClosed, "shutdown"},
		{errors.New("reset"), "error"},
	}
	for _, tt := range tests {
		if got := closeLabel(tt.err); got != tt.want {
			t.Errorf("closeLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.RequestServed("POST", "/readings/store", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`joyofenergy_http_requests_total{method="POST",route="/readings/store",status="200"} 1`,
		"joyofenergy_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output lacks %q", want)
		}
	}
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, addr, zerolog.Nop()) }()

	var resp *http.Response
	for range 100 {
		if resp, err = http.Get("http://" + addr + "/metrics"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || !strings.Contains(string(body), "joyofenergy_http_connections_open") {
		t.Errorf("status %d, body %.200s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
