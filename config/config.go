package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/viper"
	"github.com/technoratimedia/pbs-technorati/errortypes"
)

// Configuration specifies the static application config.
type Configuration struct {
	ExternalURL    string `mapstructure:"external_url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	AdminPort      int    `mapstructure:"admin_port"`
	EnableGzip     bool   `mapstructure:"enable_gzip"`
	StatusResponse string `mapstructure:"status_response"`
	// DefaultTimeout is used when an /auction request does not ask for a timeout.
	DefaultTimeout uint64 `mapstructure:"default_timeout_ms"`
	// MaxTimeout caps the timeout an /auction request may ask for. 0 disables the cap.
	MaxTimeout uint64 `mapstructure:"max_timeout_ms"`

	HTTPClient HTTPClient         `mapstructure:"http_client"`
	DataCache  DataCache          `mapstructure:"datacache"`
	Metrics    Metrics            `mapstructure:"metrics"`
	Adapters   map[string]Adapter `mapstructure:"adapters"`
}

type HTTPClient struct {
	MaxConnsPerHost int `mapstructure:"max_connections_per_host"`
	MaxIdleConns    int `mapstructure:"max_idle_connections"`
	// IdleConnTimeout is in seconds.
	IdleConnTimeout int `mapstructure:"idle_connection_timeout_seconds"`
	// TimeoutMillis bounds every outbound bidder call, on top of the auction deadline. 0 means no bound.
	TimeoutMillis int `mapstructure:"timeout_ms"`
}

type DataCache struct {
	Type       string `mapstructure:"type"`
	Filename   string `mapstructure:"filename"`
	Database   string `mapstructure:"dbname"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	CacheSize  int    `mapstructure:"cache_size"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

func (cfg *DataCache) validate(errs []error) []error {
	switch cfg.Type {
	case "dummy":
	case "filecache":
		if cfg.Filename == "" {
			errs = append(errs, fmt.Errorf("datacache.filename must be set when datacache.type is filecache"))
		}
	case "postgres":
		if cfg.CacheSize <= 0 {
			errs = append(errs, fmt.Errorf("datacache.cache_size must be positive. Got %d", cfg.CacheSize))
		}
	default:
		errs = append(errs, fmt.Errorf("datacache.type must be one of dummy, filecache or postgres. Got %q", cfg.Type))
	}
	return errs
}

type Metrics struct {
	Influxdb   InfluxMetrics     `mapstructure:"influxdb"`
	Prometheus PrometheusMetrics `mapstructure:"prometheus"`
}

type InfluxMetrics struct {
	Host     string `mapstructure:"host"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Interval int    `mapstructure:"interval_seconds"`
}

type PrometheusMetrics struct {
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
	// TimeoutMillis bounds a scrape of the prometheus endpoint.
	TimeoutMillis int `mapstructure:"timeout_ms"`
}

func (cfg *PrometheusMetrics) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutMillis) * time.Millisecond
}

func (cfg *Metrics) validate(errs []error) []error {
	if cfg.Influxdb.Host != "" && cfg.Influxdb.Interval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.influxdb.interval_seconds must be positive. Got %d", cfg.Influxdb.Interval))
	}
	if cfg.Prometheus.Port > 0 && cfg.Prometheus.TimeoutMillis <= 0 {
		errs = append(errs, fmt.Errorf("metrics.prometheus.timeout_ms must be positive. Got %d", cfg.Prometheus.TimeoutMillis))
	}
	return errs
}

// LimitAuctionTimeout returns the timeout an auction should run with.
// A zero request gets the default; anything above the max is clamped to the max.
func (cfg *Configuration) LimitAuctionTimeout(requested time.Duration) time.Duration {
	if requested == 0 && cfg.DefaultTimeout != 0 {
		requested = time.Duration(cfg.DefaultTimeout) * time.Millisecond
	}
	if cfg.MaxTimeout > 0 {
		maxTimeout := time.Duration(cfg.MaxTimeout) * time.Millisecond
		if requested > maxTimeout {
			return maxTimeout
		}
	}
	return requested
}

func (cfg *Configuration) validate() []error {
	var errs []error
	if cfg.Port == cfg.AdminPort {
		errs = append(errs, fmt.Errorf("port and admin_port must differ. Both are %d", cfg.Port))
	}
	if cfg.Metrics.Prometheus.Port != 0 && (cfg.Metrics.Prometheus.Port == cfg.Port || cfg.Metrics.Prometheus.Port == cfg.AdminPort) {
		errs = append(errs, fmt.Errorf("metrics.prometheus.port %d collides with another listener", cfg.Metrics.Prometheus.Port))
	}
	if cfg.MaxTimeout > 0 && cfg.DefaultTimeout > cfg.MaxTimeout {
		errs = append(errs, fmt.Errorf("default_timeout_ms (%d) cannot exceed max_timeout_ms (%d)", cfg.DefaultTimeout, cfg.MaxTimeout))
	}
	errs = cfg.DataCache.validate(errs)
	errs = cfg.Metrics.validate(errs)
	errs = validateAdapters(cfg.Adapters, errs)
	return errs
}

// New uses viper to get our server configurations.
func New(v *viper.Viper) (*Configuration, error) {
	var c Configuration
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("viper failed to unmarshal app config: %v", err)
	}
	glog.Info("Logging the resolved configuration:")
	logGeneral(v)

	if errs := c.validate(); len(errs) > 0 {
		return &c, errortypes.NewAggregateErrors("validation errors", errs)
	}
	return &c, nil
}

// SetupViper sets the defaults, config paths and env bindings on v.
// An empty filename skips reading a config file.
func SetupViper(v *viper.Viper, filename string) {
	if filename != "" {
		v.SetConfigName(filename)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/config")
	}

	v.SetDefault("external_url", "http://localhost:8000")
	v.SetDefault("host", "")
	v.SetDefault("port", 8000)
	v.SetDefault("admin_port", 6060)
	v.SetDefault("enable_gzip", false)
	v.SetDefault("status_response", "")
	v.SetDefault("default_timeout_ms", 250)
	v.SetDefault("max_timeout_ms", 0)
	v.SetDefault("http_client.max_connections_per_host", 0)
	v.SetDefault("http_client.max_idle_connections", 400)
	v.SetDefault("http_client.idle_connection_timeout_seconds", 60)
	v.SetDefault("http_client.timeout_ms", 0)
	v.SetDefault("datacache.type", "dummy")
	v.SetDefault("datacache.filename", "")
	v.SetDefault("datacache.dbname", "")
	v.SetDefault("datacache.host", "")
	v.SetDefault("datacache.port", 0)
	v.SetDefault("datacache.user", "")
	v.SetDefault("datacache.password", "")
	v.SetDefault("datacache.cache_size", 10*1024*1024)
	v.SetDefault("datacache.ttl_seconds", 3600)
	v.SetDefault("metrics.influxdb.host", "")
	v.SetDefault("metrics.influxdb.database", "")
	v.SetDefault("metrics.influxdb.username", "")
	v.SetDefault("metrics.influxdb.password", "")
	v.SetDefault("metrics.influxdb.interval_seconds", 20)
	v.SetDefault("metrics.prometheus.port", 0)
	v.SetDefault("metrics.prometheus.namespace", "")
	v.SetDefault("metrics.prometheus.subsystem", "")
	v.SetDefault("metrics.prometheus.timeout_ms", 10000)
	v.SetDefault("adapters.technorati.endpoint", "http{{if .Secure}}s://uat-secure{{else}}://uat-net{{end}}.technoratimedia.com/openrtb/bids/{{.PublisherID}}")
	v.SetDefault("adapters.technorati.disabled", false)

	v.SetEnvPrefix("PBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		if err := v.ReadInConfig(); err != nil {
			glog.Warningf("No config file read, running on defaults and env: %v", err)
		}
	}
}

func logGeneral(v *viper.Viper) {
	for _, key := range []string{"external_url", "host", "port", "admin_port", "default_timeout_ms", "max_timeout_ms", "datacache.type"} {
		glog.Infof("config.%s: %v", key, v.Get(key))
	}
}
