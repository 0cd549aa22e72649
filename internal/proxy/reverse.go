// Package proxy forwards admitted requests to the protected application.
// The transport is built from the upstream section of the config; upstream
// failures surface as a 502 with the same JSON error shape the block
// responses use, never as a raw transport error.
package proxy

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/half-blood-labs/route-shield/internal/config"
	"github.com/half-blood-labs/route-shield/internal/logging"
	"github.com/half-blood-labs/route-shield/internal/metrics"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultMaxIdle     = 100
	defaultIdleTimeout = 90 * time.Second
)

// UpstreamProxy is the single-host hop behind the shield.
type UpstreamProxy struct {
	rp       *httputil.ReverseProxy
	Upstream string
}

// New builds a reverse proxy to cfg.Address. The address may omit a scheme;
// plain host:port means http.
func New(cfg config.UpstreamConfig) (*UpstreamProxy, error) {
	addr := cfg.Address
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	target, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		Transport:    newTransport(cfg),
		ErrorHandler: upstreamError(target.Host),
	}
	return &UpstreamProxy{rp: rp, Upstream: target.Host}, nil
}

func newTransport(cfg config.UpstreamConfig) *http.Transport {
	dialTimeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	idleTimeout := time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          maxIdle,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// upstreamError keeps transport failures inside the shield's response
// vocabulary: log, count, answer 502 JSON.
func upstreamError(upstream string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.UpstreamErrorsTotal.Inc()
		logging.Errorf("upstream %s failed for %s %s: %v", upstream, r.Method, r.URL.Path, err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
}

func (p *UpstreamProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}
