package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/half-blood-labs/route-shield/internal/config"
)

func TestForwardsWithProxyHeaders(t *testing.T) {
	var seen struct {
		xff   string
		proto string
		path  string
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.xff = r.Header.Get("X-Forwarded-For")
		seen.proto = r.Header.Get("X-Forwarded-Proto")
		seen.path = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("backend"))
	}))
	defer backend.Close()

	p, err := New(config.UpstreamConfig{Address: backend.URL})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/users/1", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted || rec.Body.String() != "backend" {
		t.Fatalf("got (%d, %q)", rec.Code, rec.Body.String())
	}
	if seen.path != "/api/users/1" {
		t.Errorf("path = %q", seen.path)
	}
	if seen.xff != "203.0.113.9" {
		t.Errorf("X-Forwarded-For = %q", seen.xff)
	}
	if seen.proto != "http" {
		t.Errorf("X-Forwarded-Proto = %q", seen.proto)
	}
}

func TestSchemeDefaultsToHTTP(t *testing.T) {
	p, err := New(config.UpstreamConfig{Address: "127.0.0.1:3000"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Upstream != "127.0.0.1:3000" {
		t.Fatalf("Upstream = %q", p.Upstream)
	}
}

func TestUnreachableUpstreamAnswers502JSON(t *testing.T) {
	// a closed backend: grab a port, then shut it down
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := backend.URL
	backend.Close()

	p, err := New(config.UpstreamConfig{Address: addr, TimeoutSeconds: 1})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body["error"] != "upstream unavailable" {
		t.Fatalf("body = %v", body)
	}
}
