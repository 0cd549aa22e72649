// Package enforce runs the per-request check chain: global blacklist, route
// lookup, then each rule's IP filter, time window, rate limit and concurrent
// limit in priority order.
//
// The pipeline is fail-open: a fault inside an evaluator is logged and scored
// as allowed for that evaluator. Misconfigured rules must never take the
// application down.
package enforce

import (
	"net/http"
	"time"

	"github.com/half-blood-labs/route-shield/internal/conlimit"
	"github.com/half-blood-labs/route-shield/internal/ipfilter"
	"github.com/half-blood-labs/route-shield/internal/logging"
	"github.com/half-blood-labs/route-shield/internal/metrics"
	"github.com/half-blood-labs/route-shield/internal/model"
	"github.com/half-blood-labs/route-shield/internal/ratelimit"
	"github.com/half-blood-labs/route-shield/internal/routeindex"
	"github.com/half-blood-labs/route-shield/internal/rulestore"
	"github.com/half-blood-labs/route-shield/internal/timewindow"
)

// Shield is the enforcement middleware. All fields are required.
type Shield struct {
	rules      *rulestore.Store
	routes     *routeindex.Index
	rate       *ratelimit.Limiter
	concurrent *conlimit.Limiter
	clock      func() time.Time
}

// New assembles a shield over the shared stores and limiters.
func New(rules *rulestore.Store, routes *routeindex.Index, rate *ratelimit.Limiter, concurrent *conlimit.Limiter) *Shield {
	return &Shield{
		rules:      rules,
		routes:     routes,
		rate:       rate,
		concurrent: concurrent,
		clock:      time.Now,
	}
}

// SetClock injects a clock for tests.
func (s *Shield) SetClock(clock func() time.Time) { s.clock = clock }

// decision is the outcome of running the check chain for one request.
type decision struct {
	reason   model.Reason
	ruleID   int64
	routed   bool // a protected route matched
	releases []func()
}

func (d *decision) release() {
	for _, fn := range d.releases {
		fn()
	}
	d.releases = nil
}

// Wrap mounts the shield in front of next. Concurrent-limit slots acquired
// for an admitted request are released when next finishes, error or not.
func (s *Shield) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock()
		metrics.RequestsTotal.Inc()

		ip := ClientIP(r)
		d := s.safeEvaluate(r.Method, r.URL.Path, ip, start)

		rec := &responseRecorder{ResponseWriter: w}
		defer func() {
			d.release()
			metrics.RequestDuration.Observe(time.Since(start).Seconds())
			s.logRequest(r, ip, rec.status, start, d)
		}()

		if d.reason != model.ReasonAllowed {
			metrics.BlockedTotal.WithLabelValues(string(d.reason)).Inc()
			writeBlock(rec, d.reason, s.customResponse(d))
			return
		}

		if d.routed {
			metrics.AllowedTotal.Inc()
		} else {
			metrics.PassthroughTotal.Inc()
		}
		next.ServeHTTP(rec, r)
	})
}

// safeEvaluate is the last line of fail-open defense: a fault anywhere in
// the chain admits the request rather than surfacing a 5xx.
func (s *Shield) safeEvaluate(method, path, ip string, now time.Time) (d *decision) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("enforcement pipeline panicked, allowing request: %v", r)
			d = &decision{reason: model.ReasonAllowed}
		}
	}()
	return s.evaluate(method, path, ip, now)
}

// evaluate runs the full chain and returns the block decision plus any
// release hooks for acquired concurrent-limit slots. On a block, slots
// acquired by earlier rules are released immediately.
func (s *Shield) evaluate(method, path, ip string, now time.Time) *decision {
	d := &decision{reason: model.ReasonAllowed}
	view := s.rules.View()

	for _, entry := range view.GlobalBlacklist(now) {
		if safeMatch(entry.IPSpec, ip) {
			d.reason = model.ReasonIPBlacklisted
			return d
		}
	}

	route, ok := s.routes.Lookup(method, path)
	if !ok {
		return d
	}
	d.routed = true

	for _, rule := range view.RulesForRoute(route.ID) {
		reason := s.checkRule(view, rule, ip, now, d)
		if reason != model.ReasonAllowed {
			d.release()
			d.reason = reason
			d.ruleID = rule.ID
			return d
		}
	}
	return d
}

// checkRule runs one rule's evaluators in order: IP filter, time window,
// rate limit, concurrent limit.
func (s *Shield) checkRule(view *rulestore.View, rule model.Rule, ip string, now time.Time, d *decision) model.Reason {
	if reason := safeCheck(rule.ID, "ip_filter", func() model.Reason {
		return ipfilter.Evaluate(ip, view.IPFilters(rule.ID))
	}); reason != model.ReasonAllowed {
		return reason
	}

	if reason := safeCheck(rule.ID, "time_window", func() model.Reason {
		return timewindow.Evaluate(view.TimeRestrictions(rule.ID), now)
	}); reason != model.ReasonAllowed {
		return reason
	}

	if cfg, ok := view.RateLimit(rule.ID); ok {
		if reason := safeCheck(rule.ID, "rate_limit", func() model.Reason {
			return s.rate.Check(ip, rule.ID, cfg)
		}); reason != model.ReasonAllowed {
			return reason
		}
	}

	if cfg, ok := view.ConcurrentLimit(rule.ID); ok {
		var token string
		reason := safeCheck(rule.ID, "concurrent_limit", func() model.Reason {
			var r model.Reason
			token, r = s.concurrent.Acquire(ip, rule.ID, cfg.MaxConcurrent)
			return r
		})
		if reason != model.ReasonAllowed {
			return reason
		}
		ruleID := rule.ID
		d.releases = append(d.releases, func() {
			s.concurrent.Release(ip, ruleID, token)
		})
	}

	return model.ReasonAllowed
}

// customResponse resolves the blocking rule's custom response, if the block
// came from a rule at all (the global blacklist has none).
func (s *Shield) customResponse(d *decision) *model.CustomResponse {
	if d.ruleID == 0 {
		return nil
	}
	if cr, ok := s.rules.View().CustomResponse(d.ruleID); ok {
		return &cr
	}
	return nil
}

func (s *Shield) logRequest(r *http.Request, ip string, status int, start time.Time, d *decision) {
	blocked := d.reason != model.ReasonAllowed
	if !blocked && !d.routed {
		return
	}
	logging.Infow("request",
		"remote_ip", ip,
		"method", r.Method,
		"uri", r.URL.RequestURI(),
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
		"blocked", blocked,
		"reason", string(d.reason),
		"rule_id", d.ruleID,
	)
}

// safeCheck shields the pipeline from evaluator faults: a panic is logged
// and scored as allowed.
func safeCheck(ruleID int64, evaluator string, fn func() model.Reason) (reason model.Reason) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("evaluator %s panicked on rule %d, allowing: %v", evaluator, ruleID, r)
			reason = model.ReasonAllowed
		}
	}()
	return fn()
}

// safeMatch is the fail-open wrapper for global blacklist matching.
func safeMatch(spec, ip string) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("blacklist match panicked on %q, skipping: %v", spec, r)
			matched = false
		}
	}()
	return ipfilter.Matches(spec, ip)
}

// responseRecorder captures the status code for the access log.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
