package enforce

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"peer only", "192.0.2.1:4711", "", "", "192.0.2.1"},
		{"peer without port", "192.0.2.1", "", "", "192.0.2.1"},
		{"xff single", "127.0.0.1:1", "203.0.113.5", "", "203.0.113.5"},
		{"xff chain takes first", "127.0.0.1:1", "203.0.113.5, 10.0.0.1, 10.0.0.2", "", "203.0.113.5"},
		{"xff padded", "127.0.0.1:1", "  203.0.113.5 , 10.0.0.1", "", "203.0.113.5"},
		{"real ip fallback", "127.0.0.1:1", "", "198.51.100.7", "198.51.100.7"},
		{"xff beats real ip", "127.0.0.1:1", "203.0.113.5", "198.51.100.7", "203.0.113.5"},
		{"empty xff falls through", "127.0.0.1:1", "   ", "198.51.100.7", "198.51.100.7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
