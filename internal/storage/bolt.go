// Package storage is the durable record of routes, rules and their configs,
// backed by bbolt. It implements rulestore.Loader; the enforcement plane only
// ever reads snapshots from here, never individual records on the hot path.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/half-blood-labs/route-shield/internal/model"
)

const (
	bucketRoutes           = "routes"
	bucketRules            = "rules"
	bucketIPFilters        = "ip_filters"
	bucketRateLimits       = "rate_limits"
	bucketConcurrentLimits = "concurrent_limits"
	bucketTimeRestrictions = "time_restrictions"
	bucketCustomResponses  = "custom_responses"
	bucketGlobalBlacklist  = "global_blacklist"
)

var allBuckets = []string{
	bucketRoutes, bucketRules, bucketIPFilters, bucketRateLimits,
	bucketConcurrentLimits, bucketTimeRestrictions, bucketCustomResponses,
	bucketGlobalBlacklist,
}

// Store wraps the bolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path and ensures all
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// PutRoute inserts or updates a route. A zero id is assigned from the bucket
// sequence. (Method, PathPattern) stays unique: an existing route with the
// same pair is overwritten in place, or replaced when r carries another id.
func (s *Store) PutRoute(r *model.Route) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRoutes))
		existing := findRouteByKey(b, r.Method, r.PathPattern)
		if r.ID == 0 {
			if existing != nil {
				r.ID = existing.ID
			} else {
				seq, err := b.NextSequence()
				if err != nil {
					return err
				}
				r.ID = int64(seq)
			}
		} else if existing != nil && existing.ID != r.ID {
			// the pair moves to the explicit id; the old record is dropped
			if err := b.Delete(itob(existing.ID)); err != nil {
				return err
			}
		}
		return putJSON(b, r.ID, r)
	})
}

// PutRoutes batch-inserts discovered routes.
func (s *Store) PutRoutes(routes []model.Route) error {
	for i := range routes {
		if err := s.PutRoute(&routes[i]); err != nil {
			return err
		}
	}
	return nil
}

// PutRule inserts or updates a rule.
func (s *Store) PutRule(r *model.Rule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSequenced(tx, bucketRules, &r.ID, r)
	})
}

// PutIPFilter inserts or updates an IP filter.
func (s *Store) PutIPFilter(f *model.IPFilter) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSequenced(tx, bucketIPFilters, &f.ID, f)
	})
}

// PutRateLimit inserts or updates a rate-limit config. At most one enabled
// config may exist per rule; inserting a second enabled one is rejected.
func (s *Store) PutRateLimit(cfg *model.RateLimitConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if cfg.Enabled {
			b := tx.Bucket([]byte(bucketRateLimits))
			err := b.ForEach(func(_, v []byte) error {
				var existing model.RateLimitConfig
				if json.Unmarshal(v, &existing) != nil {
					return nil
				}
				if existing.Enabled && existing.RuleID == cfg.RuleID && existing.ID != cfg.ID {
					return fmt.Errorf("rule %d already has an enabled rate limit (config %d)", cfg.RuleID, existing.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return putSequenced(tx, bucketRateLimits, &cfg.ID, cfg)
	})
}

// PutConcurrentLimit inserts or updates a concurrent-limit config.
func (s *Store) PutConcurrentLimit(cfg *model.ConcurrentLimitConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSequenced(tx, bucketConcurrentLimits, &cfg.ID, cfg)
	})
}

// PutTimeRestriction inserts or updates a time restriction.
func (s *Store) PutTimeRestriction(tr *model.TimeRestriction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSequenced(tx, bucketTimeRestrictions, &tr.ID, tr)
	})
}

// PutCustomResponse inserts or updates a custom response.
func (s *Store) PutCustomResponse(cr *model.CustomResponse) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSequenced(tx, bucketCustomResponses, &cr.ID, cr)
	})
}

// PutBlacklistEntry inserts or updates a global blacklist entry.
func (s *Store) PutBlacklistEntry(e *model.GlobalBlacklistEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSequenced(tx, bucketGlobalBlacklist, &e.ID, e)
	})
}

// DeleteRule removes a rule and every config that references it.
func (s *Store) DeleteRule(ruleID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketRules)).Delete(itob(ruleID)); err != nil {
			return err
		}
		for _, name := range []string{bucketIPFilters, bucketRateLimits, bucketConcurrentLimits, bucketTimeRestrictions, bucketCustomResponses} {
			b := tx.Bucket([]byte(name))
			var stale [][]byte
			err := b.ForEach(func(k, v []byte) error {
				var ref struct {
					RuleID int64 `json:"rule_id"`
				}
				if json.Unmarshal(v, &ref) == nil && ref.RuleID == ruleID {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadSnapshot reads the full rule graph in one read transaction, giving the
// rule store an internally consistent snapshot.
func (s *Store) LoadSnapshot() (*model.Snapshot, error) {
	snap := &model.Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := loadAll(tx, bucketRoutes, &snap.Routes); err != nil {
			return err
		}
		if err := loadAll(tx, bucketRules, &snap.Rules); err != nil {
			return err
		}
		if err := loadAll(tx, bucketIPFilters, &snap.IPFilters); err != nil {
			return err
		}
		if err := loadAll(tx, bucketRateLimits, &snap.RateLimits); err != nil {
			return err
		}
		if err := loadAll(tx, bucketConcurrentLimits, &snap.ConcurrentLimits); err != nil {
			return err
		}
		if err := loadAll(tx, bucketTimeRestrictions, &snap.TimeRestrictions); err != nil {
			return err
		}
		if err := loadAll(tx, bucketCustomResponses, &snap.CustomResponses); err != nil {
			return err
		}
		return loadAll(tx, bucketGlobalBlacklist, &snap.GlobalBlacklist)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// LoadRule reads one rule's sub-graph in one read transaction.
func (s *Store) LoadRule(ruleID int64) (*model.RuleSubgraph, error) {
	sub := &model.RuleSubgraph{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketRules)).Get(itob(ruleID)); v != nil {
			var rule model.Rule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			sub.Rule = &rule
		}

		var filters []model.IPFilter
		if err := loadAll(tx, bucketIPFilters, &filters); err != nil {
			return err
		}
		for _, f := range filters {
			if f.RuleID == ruleID {
				sub.IPFilters = append(sub.IPFilters, f)
			}
		}

		var limits []model.RateLimitConfig
		if err := loadAll(tx, bucketRateLimits, &limits); err != nil {
			return err
		}
		for i := range limits {
			if limits[i].RuleID == ruleID && limits[i].Enabled {
				if sub.RateLimit == nil || limits[i].ID < sub.RateLimit.ID {
					sub.RateLimit = &limits[i]
				}
			}
		}

		var conc []model.ConcurrentLimitConfig
		if err := loadAll(tx, bucketConcurrentLimits, &conc); err != nil {
			return err
		}
		for i := range conc {
			if conc[i].RuleID == ruleID && conc[i].Enabled {
				sub.ConcurrentLimit = &conc[i]
				break
			}
		}

		var restrictions []model.TimeRestriction
		if err := loadAll(tx, bucketTimeRestrictions, &restrictions); err != nil {
			return err
		}
		for _, tr := range restrictions {
			if tr.RuleID == ruleID {
				sub.TimeRestrictions = append(sub.TimeRestrictions, tr)
			}
		}

		var responses []model.CustomResponse
		if err := loadAll(tx, bucketCustomResponses, &responses); err != nil {
			return err
		}
		for i := range responses {
			if responses[i].RuleID == ruleID && responses[i].Enabled {
				sub.CustomResponse = &responses[i]
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load rule %d: %w", ruleID, err)
	}
	return sub, nil
}

// Routes lists all stored routes.
func (s *Store) Routes() ([]model.Route, error) {
	var routes []model.Route
	err := s.db.View(func(tx *bolt.Tx) error {
		return loadAll(tx, bucketRoutes, &routes)
	})
	return routes, err
}

func putSequenced(tx *bolt.Tx, bucket string, id *int64, v interface{}) error {
	b := tx.Bucket([]byte(bucket))
	if *id == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		*id = int64(seq)
	}
	return putJSON(b, *id, v)
}

func putJSON(b *bolt.Bucket, id int64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(itob(id), data)
}

// loadAll decodes every value of a bucket into *[]T. Undecodable records are
// skipped; one corrupt row must not poison a snapshot.
func loadAll[T any](tx *bolt.Tx, bucket string, out *[]T) error {
	return tx.Bucket([]byte(bucket)).ForEach(func(_, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return nil
		}
		*out = append(*out, item)
		return nil
	})
}

func findRouteByKey(b *bolt.Bucket, method, pattern string) *model.Route {
	var found *model.Route
	_ = b.ForEach(func(_, v []byte) error {
		var r model.Route
		if json.Unmarshal(v, &r) == nil && r.Method == method && r.PathPattern == pattern {
			found = &r
		}
		return nil
	})
	return found
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
