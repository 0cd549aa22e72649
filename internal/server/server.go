// Package server assembles the enforcement plane into a runnable reverse
// proxy: listeners, admin endpoints, background sweeps and reload handling.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/half-blood-labs/route-shield/internal/config"
	"github.com/half-blood-labs/route-shield/internal/conlimit"
	"github.com/half-blood-labs/route-shield/internal/enforce"
	"github.com/half-blood-labs/route-shield/internal/logging"
	"github.com/half-blood-labs/route-shield/internal/metrics"
	"github.com/half-blood-labs/route-shield/internal/proxy"
	"github.com/half-blood-labs/route-shield/internal/ratelimit"
	"github.com/half-blood-labs/route-shield/internal/routeindex"
	"github.com/half-blood-labs/route-shield/internal/rulestore"
	"github.com/half-blood-labs/route-shield/internal/storage"
)

// Options carries the invocation parameters that are not config-file state.
type Options struct {
	ConfigPath string
}

// Run starts the shield and blocks until a listener fails or the process is
// signalled to stop.
func Run(cfg *config.Config, opts Options) error {
	store, err := storage.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rules := rulestore.New(store)
	if err := rules.RefreshAll(); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	metrics.SnapshotRefreshTotal.WithLabelValues("ok").Inc()

	routes := routeindex.New()
	if err := loadRoutes(routes, store); err != nil {
		return err
	}
	logging.Infof("loaded %d routes from %s", routes.Len(), cfg.Store.Path)

	rate := ratelimit.New()
	rate.TTLSeconds = cfg.Sweep.BucketTTLSeconds
	concurrent := conlimit.New()
	if cfg.Sweep.StaleConnSeconds > 0 {
		concurrent.StaleTTL = time.Duration(cfg.Sweep.StaleConnSeconds) * time.Second
	}

	shield := enforce.New(rules, routes, rate, concurrent)
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	handler := shield.Wrap(app)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, cfg, rate, concurrent)
	go refreshOnSignal(ctx, rules)
	go watchConfig(ctx, opts.ConfigPath, rules)

	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminListen,
		Handler:           adminHandler(opts.ConfigPath, rules),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 4)
	go func() {
		logging.Infof("admin listening on %s", cfg.Server.AdminListen)
		errCh <- adminSrv.ListenAndServe()
	}()

	var publicSrvs []*http.Server
	if cfg.Server.EnableTLS {
		mgr, err := newAutocert(cfg)
		if err != nil {
			return err
		}
		tlsCfg := mgr.TLSConfig()

		httpsSrv := &http.Server{
			Addr:              cfg.Server.HTTPSListen,
			Handler:           handler,
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
		}
		httpSrv := &http.Server{
			Addr:              cfg.Server.HTTPListen,
			Handler:           mgr.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		publicSrvs = append(publicSrvs, httpsSrv, httpSrv)

		go func() {
			logging.Infof("https listening on %s", cfg.Server.HTTPSListen)
			errCh <- httpsSrv.ListenAndServeTLS("", "")
		}()
		go func() {
			logging.Infof("http (acme/redirect) listening on %s", cfg.Server.HTTPListen)
			errCh <- httpSrv.ListenAndServe()
		}()

		if cfg.Server.EnableH3 {
			go serveH3(cfg.Server.HTTPSListen, handler, tlsCfg, errCh)
		}
	} else {
		httpSrv := &http.Server{
			Addr:              cfg.Server.HTTPListen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		publicSrvs = append(publicSrvs, httpSrv)
		go func() {
			logging.Infof("http listening on %s", cfg.Server.HTTPListen)
			errCh <- httpSrv.ListenAndServe()
		}()
	}

	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = nil
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range publicSrvs {
		_ = srv.Shutdown(shutCtx)
	}
	_ = adminSrv.Shutdown(shutCtx)
	return err
}

func buildApp(cfg *config.Config) (http.Handler, error) {
	if cfg.Upstream.Address == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
		}), nil
	}
	return proxy.New(cfg.Upstream)
}

func loadRoutes(ix *routeindex.Index, store *storage.Store) error {
	routes, err := store.Routes()
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}
	for _, r := range routes {
		ix.Store(r)
	}
	return nil
}

func serveH3(addr string, handler http.Handler, tlsCfg *tls.Config, errCh chan<- error) {
	h3 := &http3.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsCfg,
	}
	logging.Infof("http/3 listening on %s", addr)
	errCh <- h3.ListenAndServe()
}

// adminHandler serves health, metrics, config reload and the snapshot
// refresh endpoint. Mutating endpoints require the ADMIN_TOKEN bearer token.
func adminHandler(configPath string, rules *rulestore.Store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/reload", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("reloaded"))
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err := rules.RefreshAll(); err != nil {
			metrics.SnapshotRefreshTotal.WithLabelValues("error").Inc()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.SnapshotRefreshTotal.WithLabelValues("ok").Inc()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("refreshed"))
	})
	return mux
}

func authorized(r *http.Request) bool {
	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		return false
	}
	return r.Header.Get("Authorization") == "Bearer "+token
}

func newAutocert(cfg *config.Config) (*autocert.Manager, error) {
	if cfg.ACME.Email == "" {
		return nil, fmt.Errorf("ACME_EMAIL is required when TLS is enabled")
	}
	mgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache(cfg.ACME.StoragePath),
		Email:  cfg.ACME.Email,
	}
	if cfg.Server.Hostname != "" {
		mgr.HostPolicy = autocert.HostWhitelist(cfg.Server.Hostname)
	}
	if cfg.ACME.CA != "" || cfg.ACME.Staging {
		url := cfg.ACME.CA
		if url == "" {
			url = "https://acme-staging-v02.api.letsencrypt.org/directory"
		}
		mgr.Client = &acme.Client{DirectoryURL: url}
	}
	return mgr, nil
}

// sweepLoop reclaims idle buckets and stale concurrent acquisitions and
// refreshes the live-state gauges.
func sweepLoop(ctx context.Context, cfg *config.Config, rate *ratelimit.Limiter, concurrent *conlimit.Limiter) {
	interval := time.Duration(cfg.Sweep.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate.Cleanup()
			concurrent.Sweep()
			metrics.Buckets.Set(float64(rate.Len()))
			metrics.ActiveConnections.Set(float64(concurrent.Len()))
		}
	}
}

// refreshOnSignal re-publishes the rule snapshot on SIGHUP.
func refreshOnSignal(ctx context.Context, rules *rulestore.Store) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := rules.RefreshAll(); err != nil {
				metrics.SnapshotRefreshTotal.WithLabelValues("error").Inc()
				logging.Errorf("sighup refresh failed, keeping prior snapshot: %v", err)
				continue
			}
			metrics.SnapshotRefreshTotal.WithLabelValues("ok").Inc()
			logging.Infof("rule snapshot refreshed on sighup")
		}
	}
}

// watchConfig hot-reloads the ambient settings when the config file is
// rewritten: log level/format are re-initialized and the rule snapshot is
// re-published. Listener and store changes still need a restart.
func watchConfig(ctx context.Context, path string, rules *rulestore.Store) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warnf("config watch unavailable: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logging.Warnf("cannot watch %s: %v", path, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				logging.Errorf("config reload failed, keeping current settings: %v", err)
				continue
			}
			if _, err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
				logging.Errorf("logger reinit failed: %v", err)
			}
			if err := rules.RefreshAll(); err != nil {
				logging.Errorf("refresh after config change failed: %v", err)
				continue
			}
			logging.Infof("config and rule snapshot reloaded after %s changed", ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("config watch error: %v", err)
		}
	}
}
