package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path over the built-in defaults, then lets
// the environment override individual fields.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHIELD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SHIELD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SHIELD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SHIELD_HTTP_LISTEN"); v != "" {
		cfg.Server.HTTPListen = v
	}
	if v := os.Getenv("SHIELD_HTTPS_LISTEN"); v != "" {
		cfg.Server.HTTPSListen = v
	}
	if v := os.Getenv("SHIELD_ADMIN_LISTEN"); v != "" {
		cfg.Server.AdminListen = v
	}
	if v := os.Getenv("SHIELD_ENABLE_TLS"); v != "" {
		cfg.Server.EnableTLS = isTrue(v)
	}
	if v := os.Getenv("SHIELD_ENABLE_H3"); v != "" {
		cfg.Server.EnableH3 = isTrue(v)
	}
	if v := os.Getenv("SHIELD_HOSTNAME"); v != "" {
		cfg.Server.Hostname = v
	}
	if v := os.Getenv("ACME_EMAIL"); v != "" {
		cfg.ACME.Email = v
	}
	if v := os.Getenv("ACME_CA"); v != "" {
		cfg.ACME.CA = v
	}
	if v := os.Getenv("ACME_STAGING"); v != "" {
		cfg.ACME.Staging = isTrue(v)
	}
	if v := os.Getenv("ACME_STORAGE"); v != "" {
		cfg.ACME.StoragePath = v
	}
	if v := os.Getenv("SHIELD_UPSTREAM"); v != "" {
		cfg.Upstream.Address = v
	}
	if v := os.Getenv("SHIELD_SWEEP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.IntervalSeconds = n
		}
	}
	if v := os.Getenv("SHIELD_BUCKET_TTL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sweep.BucketTTLSeconds = n
		}
	}
	if v := os.Getenv("SHIELD_STALE_CONN_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.StaleConnSeconds = n
		}
	}
}

func isTrue(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}
