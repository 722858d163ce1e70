package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(zerolog.Nop(), func() any { return nil })

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("неожиданное тело ответа: %q", rec.Body.String())
	}
}

func TestStatusServesSnapshot(t *testing.T) {
	srv := NewServer(zerolog.Nop(), func() any {
		return map[string]any{"state": "running", "next_id": 42}
	})

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("ожидали application/json, получили %q", ct)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("ответ не разбирается: %v", err)
	}
	if got["state"] != "running" {
		t.Fatalf("ожидали state running, получили %v", got["state"])
	}
	if got["next_id"] != float64(42) {
		t.Fatalf("ожидали next_id 42, получили %v", got["next_id"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(zerolog.Nop(), func() any { return nil })

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("ожидали непустой вывод метрик")
	}
}
