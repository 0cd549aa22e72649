// Package rulestore holds the in-memory rule graph the pipeline reads on
// every request.
//
// The store publishes immutable views behind a single atomic pointer: a
// request takes the pointer once and keeps that view for its whole lifetime,
// so a concurrent refresh can never show it a mixture of old and new data.
// Reads are wait-free; writers rebuild off to the side and swap.
package rulestore

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/half-blood-labs/route-shield/internal/model"
)

// Loader produces rule-graph snapshots from durable storage.
type Loader interface {
	LoadSnapshot() (*model.Snapshot, error)
	LoadRule(ruleID int64) (*model.RuleSubgraph, error)
}

// View is one published, immutable index of the rule graph. Callers must not
// mutate anything reachable from it.
type View struct {
	rulesByRoute     map[int64][]model.Rule
	ipFiltersByRule  map[int64][]model.IPFilter
	rateLimitByRule  map[int64]model.RateLimitConfig
	concurrentByRule map[int64]model.ConcurrentLimitConfig
	timeByRule       map[int64][]model.TimeRestriction
	responseByRule   map[int64]model.CustomResponse
	globalBlacklist  []model.GlobalBlacklistEntry
	routes           []model.Route
}

// RulesForRoute returns the enabled rules for a route, priority descending,
// ties by ascending id.
func (v *View) RulesForRoute(routeID int64) []model.Rule { return v.rulesByRoute[routeID] }

// IPFilters returns the enabled filters for a rule.
func (v *View) IPFilters(ruleID int64) []model.IPFilter { return v.ipFiltersByRule[ruleID] }

// RateLimit returns the enabled rate-limit config for a rule, if any.
func (v *View) RateLimit(ruleID int64) (model.RateLimitConfig, bool) {
	cfg, ok := v.rateLimitByRule[ruleID]
	return cfg, ok
}

// ConcurrentLimit returns the enabled concurrent-limit config for a rule, if any.
func (v *View) ConcurrentLimit(ruleID int64) (model.ConcurrentLimitConfig, bool) {
	cfg, ok := v.concurrentByRule[ruleID]
	return cfg, ok
}

// TimeRestrictions returns the enabled time restrictions for a rule.
func (v *View) TimeRestrictions(ruleID int64) []model.TimeRestriction { return v.timeByRule[ruleID] }

// CustomResponse returns the enabled custom response for a rule, if any.
func (v *View) CustomResponse(ruleID int64) (model.CustomResponse, bool) {
	r, ok := v.responseByRule[ruleID]
	return r, ok
}

// GlobalBlacklist returns entries that are enabled and unexpired as of now.
func (v *View) GlobalBlacklist(now time.Time) []model.GlobalBlacklistEntry {
	active := v.globalBlacklist[:0:0]
	for _, e := range v.globalBlacklist {
		if e.Active(now) {
			active = append(active, e)
		}
	}
	return active
}

// Routes returns every route in the view.
func (v *View) Routes() []model.Route { return v.routes }

// Store owns the published view and refreshes it from the Loader.
type Store struct {
	loader  Loader
	current atomic.Pointer[View]

	mu    sync.Mutex // serializes publications
	group singleflight.Group
}

// New creates a store with an empty view. Call RefreshAll before serving.
func New(loader Loader) *Store {
	s := &Store{loader: loader}
	s.current.Store(buildView(&model.Snapshot{}))
	return s
}

// View returns the current published view. Take it once per request.
func (s *Store) View() *View {
	return s.current.Load()
}

// RefreshAll atomically replaces the entire rule graph from the loader.
// Concurrent callers are coalesced into a single load. On loader error the
// prior view remains in force.
func (s *Store) RefreshAll() error {
	_, err, _ := s.group.Do("refresh_all", func() (interface{}, error) {
		snap, err := s.loader.LoadSnapshot()
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		view := buildView(snap)
		s.mu.Lock()
		s.current.Store(view)
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// RefreshRule replaces the sub-graph of a single rule, leaving everything
// else in the current view untouched. The swap is atomic for readers.
func (s *Store) RefreshRule(ruleID int64) error {
	sub, err := s.loader.LoadRule(ruleID)
	if err != nil {
		return fmt.Errorf("load rule %d: %w", ruleID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().clone()
	next.dropRule(ruleID)
	if sub.Rule != nil && sub.Rule.Enabled {
		next.addRule(*sub.Rule, sub)
	}
	s.current.Store(next)
	return nil
}

// buildView indexes a snapshot, keeping only enabled entities and rules. A
// disabled rule contributes nothing, exactly as if it were absent.
func buildView(snap *model.Snapshot) *View {
	v := emptyView()

	enabledRules := make(map[int64]bool, len(snap.Rules))
	for _, r := range snap.Rules {
		if !r.Enabled {
			continue
		}
		enabledRules[r.ID] = true
		v.rulesByRoute[r.RouteID] = append(v.rulesByRoute[r.RouteID], r)
	}
	for routeID := range v.rulesByRoute {
		sortRules(v.rulesByRoute[routeID])
	}

	for _, f := range snap.IPFilters {
		if f.Enabled && enabledRules[f.RuleID] {
			v.ipFiltersByRule[f.RuleID] = append(v.ipFiltersByRule[f.RuleID], f)
		}
	}
	for _, cfg := range sortedByID(snap.RateLimits) {
		if !cfg.Enabled || !enabledRules[cfg.RuleID] {
			continue
		}
		// at most one active config per rule; lowest id wins
		if _, exists := v.rateLimitByRule[cfg.RuleID]; !exists {
			v.rateLimitByRule[cfg.RuleID] = cfg
		}
	}
	for _, cfg := range snap.ConcurrentLimits {
		if !cfg.Enabled || !enabledRules[cfg.RuleID] {
			continue
		}
		if _, exists := v.concurrentByRule[cfg.RuleID]; !exists {
			v.concurrentByRule[cfg.RuleID] = cfg
		}
	}
	for _, tr := range snap.TimeRestrictions {
		if tr.Enabled && enabledRules[tr.RuleID] {
			v.timeByRule[tr.RuleID] = append(v.timeByRule[tr.RuleID], tr)
		}
	}
	for _, cr := range snap.CustomResponses {
		if !cr.Enabled || !enabledRules[cr.RuleID] {
			continue
		}
		if _, exists := v.responseByRule[cr.RuleID]; !exists {
			v.responseByRule[cr.RuleID] = cr
		}
	}
	for _, e := range snap.GlobalBlacklist {
		if e.Enabled {
			v.globalBlacklist = append(v.globalBlacklist, e)
		}
	}
	v.routes = append(v.routes, snap.Routes...)
	return v
}

func emptyView() *View {
	return &View{
		rulesByRoute:     map[int64][]model.Rule{},
		ipFiltersByRule:  map[int64][]model.IPFilter{},
		rateLimitByRule:  map[int64]model.RateLimitConfig{},
		concurrentByRule: map[int64]model.ConcurrentLimitConfig{},
		timeByRule:       map[int64][]model.TimeRestriction{},
		responseByRule:   map[int64]model.CustomResponse{},
	}
}

// clone copies the view's maps shallowly. Slices inside are immutable by
// convention, so sharing them between generations is safe.
func (v *View) clone() *View {
	next := emptyView()
	for k, val := range v.rulesByRoute {
		next.rulesByRoute[k] = val
	}
	for k, val := range v.ipFiltersByRule {
		next.ipFiltersByRule[k] = val
	}
	for k, val := range v.rateLimitByRule {
		next.rateLimitByRule[k] = val
	}
	for k, val := range v.concurrentByRule {
		next.concurrentByRule[k] = val
	}
	for k, val := range v.timeByRule {
		next.timeByRule[k] = val
	}
	for k, val := range v.responseByRule {
		next.responseByRule[k] = val
	}
	next.globalBlacklist = v.globalBlacklist
	next.routes = v.routes
	return next
}

func (v *View) dropRule(ruleID int64) {
	for routeID, rules := range v.rulesByRoute {
		kept := rules[:0:0]
		for _, r := range rules {
			if r.ID != ruleID {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(v.rulesByRoute, routeID)
		} else if len(kept) != len(rules) {
			v.rulesByRoute[routeID] = kept
		}
	}
	delete(v.ipFiltersByRule, ruleID)
	delete(v.rateLimitByRule, ruleID)
	delete(v.concurrentByRule, ruleID)
	delete(v.timeByRule, ruleID)
	delete(v.responseByRule, ruleID)
}

func (v *View) addRule(rule model.Rule, sub *model.RuleSubgraph) {
	rules := append(v.rulesByRoute[rule.RouteID][:0:0], v.rulesByRoute[rule.RouteID]...)
	rules = append(rules, rule)
	sortRules(rules)
	v.rulesByRoute[rule.RouteID] = rules

	for _, f := range sub.IPFilters {
		if f.Enabled {
			v.ipFiltersByRule[rule.ID] = append(v.ipFiltersByRule[rule.ID], f)
		}
	}
	if sub.RateLimit != nil && sub.RateLimit.Enabled {
		v.rateLimitByRule[rule.ID] = *sub.RateLimit
	}
	if sub.ConcurrentLimit != nil && sub.ConcurrentLimit.Enabled {
		v.concurrentByRule[rule.ID] = *sub.ConcurrentLimit
	}
	for _, tr := range sub.TimeRestrictions {
		if tr.Enabled {
			v.timeByRule[rule.ID] = append(v.timeByRule[rule.ID], tr)
		}
	}
	if sub.CustomResponse != nil && sub.CustomResponse.Enabled {
		v.responseByRule[rule.ID] = *sub.CustomResponse
	}
}

func sortRules(rules []model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func sortedByID(configs []model.RateLimitConfig) []model.RateLimitConfig {
	out := append(configs[:0:0], configs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
