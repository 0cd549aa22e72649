package config

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	ACME     ACMEConfig     `yaml:"acme"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	HTTPListen  string `yaml:"http_listen"`
	HTTPSListen string `yaml:"https_listen"`
	AdminListen string `yaml:"admin_listen"`
	EnableTLS   bool   `yaml:"enable_tls"`
	EnableH3    bool   `yaml:"enable_h3"`
	Hostname    string `yaml:"hostname"`
}

type ACMEConfig struct {
	Email       string `yaml:"email"`
	CA          string `yaml:"ca"`
	Staging     bool   `yaml:"staging"`
	StoragePath string `yaml:"storage_path"`
}

type SweepConfig struct {
	IntervalSeconds  int   `yaml:"interval_seconds"`
	BucketTTLSeconds int64 `yaml:"bucket_ttl_seconds"`
	StaleConnSeconds int   `yaml:"stale_conn_seconds"`
}

type UpstreamConfig struct {
	Address            string `yaml:"address"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds"`
}

func defaultConfig() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{Path: "route-shield.db"},
		Server: ServerConfig{
			HTTPListen:  ":8080",
			HTTPSListen: ":8443",
			AdminListen: ":9090",
		},
		ACME: ACMEConfig{StoragePath: "acme-cache"},
		Sweep: SweepConfig{
			IntervalSeconds:  30,
			StaleConnSeconds: 300,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds:     10,
			MaxIdleConns:       100,
			IdleTimeoutSeconds: 90,
		},
	}
}
