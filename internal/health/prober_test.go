package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/rollout/internal/config"
)

func probeAgainst(t *testing.T, handler http.HandlerFunc) bool {
	t.Helper()
	srv := httptest.NewServer(handler)
	defer srv.Close()
	p := New(config.HealthConfig{URL: srv.URL, GracePeriod: time.Second}, nil)
	return p.Healthy(context.Background())
}

func TestHealthyStatusOK(t *testing.T) {
	ok := probeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	if !ok {
		t.Fatalf("expected healthy")
	}
}

func TestUnhealthyStatusValue(t *testing.T) {
	ok := probeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	})
	if ok {
		t.Fatalf("degraded status must be unhealthy")
	}
}

func TestUnhealthyNon200(t *testing.T) {
	ok := probeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if ok {
		t.Fatalf("non-200 must be unhealthy")
	}
}

func TestUnhealthyBadPayload(t *testing.T) {
	ok := probeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	if ok {
		t.Fatalf("undecodable payload must be unhealthy")
	}
}

func TestUnhealthyUnreachable(t *testing.T) {
	p := New(config.HealthConfig{URL: "http://127.0.0.1:1/health", Timeout: 200 * time.Millisecond}, nil)
	if p.Healthy(context.Background()) {
		t.Fatalf("unreachable endpoint must be unhealthy")
	}
}

func TestGracePeriod(t *testing.T) {
	p := New(config.HealthConfig{GracePeriod: 3 * time.Second}, nil)
	if p.GracePeriod() != 3*time.Second {
		t.Fatalf("grace period: got %v", p.GracePeriod())
	}
}
