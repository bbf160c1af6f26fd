// Package settings loads edgewatch server configuration from an optional
// YAML file, overridden by environment variables.
package settings

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// ConfigDir is the default configuration directory
var ConfigDir = "/etc/edgewatch"

// Settings holds the full server configuration
type Settings struct {
	// DatabaseURL is the Postgres DSN for the relational store
	DatabaseURL string `yaml:"database_url"`

	// EncryptionKey seals device credentials: 32 bytes, url-safe base64.
	// Never log this value.
	EncryptionKey string `yaml:"encryption_key"`

	Elasticsearch ElasticsearchSettings `yaml:"elasticsearch"`
	Ingest        IngestSettings        `yaml:"ingest"`
	Redis         RedisSettings         `yaml:"redis"`
	Correlation   CorrelationSettings   `yaml:"correlation"`
	Metrics       MetricsSettings       `yaml:"metrics"`
	Log           LogSettings           `yaml:"log"`
	Audit         AuditSettings         `yaml:"audit"`
}

// ElasticsearchSettings locates the document store
type ElasticsearchSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Address returns the single-node URL for the client
func (e ElasticsearchSettings) Address() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// IngestSettings configures the UDP listeners
type IngestSettings struct {
	// SyslogAddr is the syslog listen address
	SyslogAddr string `yaml:"syslog_addr"`

	// NetflowAddr is the NetFlow listen address
	NetflowAddr string `yaml:"netflow_addr"`

	// Workers is the per-listener handler pool size
	Workers int `yaml:"workers"`
}

// RedisSettings locates the offence cooldown store
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CorrelationSettings configures the rule engine scheduler
type CorrelationSettings struct {
	// Interval between correlation cycles
	Interval Duration `yaml:"interval"`
}

// MetricsSettings configures the Prometheus endpoint.
// An empty Addr disables the endpoint.
type MetricsSettings struct {
	Addr string `yaml:"addr"`
}

// LogSettings configures the process logger
type LogSettings struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// AuditSettings configures the response audit trail.
// An empty Path disables the trail.
type AuditSettings struct {
	Path       string `yaml:"path"`
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// Duration accepts both duration strings ("90s", "5m") and bare integer
// seconds in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := unmarshal(&secs); err != nil {
		return err
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the baseline configuration before file and environment
// overrides are applied.
func Default() *Settings {
	return &Settings{
		Elasticsearch: ElasticsearchSettings{
			Host:   "localhost",
			Port:   9200,
			Scheme: "http",
		},
		Ingest: IngestSettings{
			SyslogAddr:  ":514",
			NetflowAddr: ":2055",
			Workers:     4,
		},
		Redis: RedisSettings{
			Addr: "localhost:6379",
		},
		Correlation: CorrelationSettings{
			Interval: Duration(60 * time.Second),
		},
		Metrics: MetricsSettings{
			Addr: ":2112",
		},
		Log: LogSettings{
			Level: "info",
		},
		Audit: AuditSettings{
			MaxSize:    50 * 1024 * 1024,
			MaxBackups: 5,
		},
	}
}

// DefaultConfigPath returns the config file location, honoring
// EDGEWATCH_CONFIG.
func DefaultConfigPath() string {
	if v := os.Getenv("EDGEWATCH_CONFIG"); v != "" {
		return v
	}
	return ConfigDir + "/config.yaml"
}

// Load reads configuration from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom reads configuration from a specific path. A missing file is not
// an error: defaults plus environment overrides still apply.
func LoadFrom(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := s.applyEnv(); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Settings) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		s.DatabaseURL = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		s.EncryptionKey = v
	}
	if v := os.Getenv("ELASTICSEARCH_HOST"); v != "" {
		s.Elasticsearch.Host = v
	}
	if v := os.Getenv("ELASTICSEARCH_PORT_API"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ELASTICSEARCH_PORT_API: %v", util.ErrInvalidConfig, err)
		}
		s.Elasticsearch.Port = port
	}
	if v := os.Getenv("ELASTICSEARCH_SCHEME"); v != "" {
		s.Elasticsearch.Scheme = v
	}
	if v := os.Getenv("EDGEWATCH_SYSLOG_ADDR"); v != "" {
		s.Ingest.SyslogAddr = v
	}
	if v := os.Getenv("EDGEWATCH_NETFLOW_ADDR"); v != "" {
		s.Ingest.NetflowAddr = v
	}
	if v := os.Getenv("EDGEWATCH_INGEST_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: EDGEWATCH_INGEST_WORKERS: %v", util.ErrInvalidConfig, err)
		}
		s.Ingest.Workers = workers
	}
	if v := os.Getenv("EDGEWATCH_REDIS_ADDR"); v != "" {
		s.Redis.Addr = v
	}
	if v := os.Getenv("EDGEWATCH_REDIS_PASSWORD"); v != "" {
		s.Redis.Password = v
	}
	if v := os.Getenv("EDGEWATCH_CORRELATION_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("%w: EDGEWATCH_CORRELATION_INTERVAL: %v", util.ErrInvalidConfig, err)
		}
		s.Correlation.Interval = Duration(d)
	}
	if v := os.Getenv("EDGEWATCH_METRICS_ADDR"); v != "" {
		s.Metrics.Addr = v
	}
	if v := os.Getenv("EDGEWATCH_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
	if v := os.Getenv("EDGEWATCH_LOG_FILE"); v != "" {
		s.Log.File = v
	}
	if v := os.Getenv("EDGEWATCH_AUDIT_LOG"); v != "" {
		s.Audit.Path = v
	}
	return nil
}

// parseInterval accepts "90s"-style durations and bare integer seconds,
// mirroring the YAML forms.
func parseInterval(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("not a duration or integer seconds: %q", v)
	}
	return time.Duration(secs) * time.Second, nil
}

// Validate checks the configuration for internal consistency. The
// encryption key is checked for shape only when set; commands that seal or
// unseal credentials require it via Key.
func (s *Settings) Validate() error {
	v := &util.ValidationBuilder{}

	v.Add(s.Elasticsearch.Host != "", "elasticsearch host is required")
	v.Add(s.Elasticsearch.Port > 0 && s.Elasticsearch.Port < 65536,
		fmt.Sprintf("elasticsearch port %d out of range", s.Elasticsearch.Port))
	if s.Elasticsearch.Scheme != "http" && s.Elasticsearch.Scheme != "https" {
		v.AddErrorf("elasticsearch scheme must be http or https, got %q", s.Elasticsearch.Scheme)
	}
	v.Add(s.Ingest.SyslogAddr != "", "ingest syslog_addr is required")
	v.Add(s.Ingest.NetflowAddr != "", "ingest netflow_addr is required")
	v.Add(s.Ingest.Workers >= 1, "ingest workers must be at least 1")
	v.Add(s.Correlation.Interval > 0, "correlation interval must be positive")

	if s.EncryptionKey != "" {
		if _, err := decodeKey(s.EncryptionKey); err != nil {
			v.AddError(err.Error())
		}
	}

	return v.Build()
}

// Key decodes the encryption key for the credential store. It fails when
// the key is unset or malformed.
func (s *Settings) Key() (*[32]byte, error) {
	if s.EncryptionKey == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not set", util.ErrInvalidConfig)
	}
	return decodeKey(s.EncryptionKey)
}

// decodeKey accepts padded and unpadded url-safe base64. Error messages
// must not echo the key material.
func decodeKey(encoded string) (*[32]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not url-safe base64", util.ErrInvalidConfig)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY must decode to 32 bytes, got %d", util.ErrInvalidConfig, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// RedactedDatabaseURL returns the DSN with any userinfo password masked,
// safe for startup logs.
func (s *Settings) RedactedDatabaseURL() string {
	if s.DatabaseURL == "" {
		return ""
	}
	u, err := url.Parse(s.DatabaseURL)
	if err != nil {
		return "(unparseable url)"
	}
	return u.Redacted()
}

// LogFields returns the effective configuration for startup logging.
// The encryption key is never included.
func (s *Settings) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"database_url":         s.RedactedDatabaseURL(),
		"elasticsearch":        s.Elasticsearch.Address(),
		"syslog_addr":          s.Ingest.SyslogAddr,
		"netflow_addr":         s.Ingest.NetflowAddr,
		"ingest_workers":       s.Ingest.Workers,
		"redis_addr":           s.Redis.Addr,
		"correlation_interval": s.Correlation.Interval.Std().String(),
		"metrics_addr":         s.Metrics.Addr,
		"encryption_key_set":   s.EncryptionKey != "",
	}
}
