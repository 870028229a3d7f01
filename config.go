package pulse

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Tap30/pulse-go/adapters"
)

// Storage backends selectable from a config file.
const (
	StorageFile   = "file"
	StoragePebble = "pebble"
	StorageRedis  = "redis"
	StorageNone   = "none"
)

// FileConfig is the file and environment form of a client configuration.
type FileConfig struct {
	AppKey     string `yaml:"app_key"`
	URL        string `yaml:"url"`
	DeviceID   string `yaml:"device_id"`
	AppVersion string `yaml:"app_version"`

	CountryCode string `yaml:"country_code"`
	City        string `yaml:"city"`
	IPAddress   string `yaml:"ip_address"`

	Interval          time.Duration `yaml:"interval"`
	QueueSize         int           `yaml:"queue_size"`
	FailTimeout       time.Duration `yaml:"fail_timeout"`
	SessionUpdate     time.Duration `yaml:"session_update"`
	MaxEvents         int           `yaml:"max_events"`
	ConsentSyncWindow time.Duration `yaml:"consent_sync_window"`

	ForcePost      bool `yaml:"force_post"`
	RequireConsent bool `yaml:"require_consent"`
	Debug          bool `yaml:"debug"`

	// LogLevel overrides the level implied by Debug.
	LogLevel string `yaml:"log_level"`

	Metrics map[string]string `yaml:"metrics"`
	Headers map[string]string `yaml:"headers"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is one of file (default), pebble, redis or none.
	Type string `yaml:"type"`
	// Path is the directory for file and pebble storage.
	Path string `yaml:"path"`
	// Compress enables zstd compression of file storage blobs.
	Compress bool `yaml:"compress"`

	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// LoadConfig reads a YAML config file and overlays PULSE_* environment
// variables.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	ConfigFromEnv(&cfg)
	return &cfg, nil
}

// ConfigFromEnv overlays PULSE_* environment variables onto cfg. Values
// that fail to parse are ignored.
func ConfigFromEnv(cfg *FileConfig) {
	strs := map[string]*string{
		"PULSE_APP_KEY":      &cfg.AppKey,
		"PULSE_URL":          &cfg.URL,
		"PULSE_DEVICE_ID":    &cfg.DeviceID,
		"PULSE_APP_VERSION":  &cfg.AppVersion,
		"PULSE_COUNTRY_CODE": &cfg.CountryCode,
		"PULSE_CITY":         &cfg.City,
		"PULSE_IP_ADDRESS":   &cfg.IPAddress,
		"PULSE_LOG_LEVEL":    &cfg.LogLevel,
		"PULSE_STORAGE_TYPE": &cfg.Storage.Type,
		"PULSE_STORAGE_PATH": &cfg.Storage.Path,
		"PULSE_REDIS_ADDR":   &cfg.Storage.RedisAddr,
		"PULSE_REDIS_PREFIX": &cfg.Storage.RedisPrefix,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"PULSE_INTERVAL":            &cfg.Interval,
		"PULSE_FAIL_TIMEOUT":        &cfg.FailTimeout,
		"PULSE_SESSION_UPDATE":      &cfg.SessionUpdate,
		"PULSE_CONSENT_SYNC_WINDOW": &cfg.ConsentSyncWindow,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	ints := map[string]*int{
		"PULSE_QUEUE_SIZE": &cfg.QueueSize,
		"PULSE_MAX_EVENTS": &cfg.MaxEvents,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	bools := map[string]*bool{
		"PULSE_FORCE_POST":       &cfg.ForcePost,
		"PULSE_REQUIRE_CONSENT":  &cfg.RequireConsent,
		"PULSE_DEBUG":            &cfg.Debug,
		"PULSE_STORAGE_COMPRESS": &cfg.Storage.Compress,
	}
	for name, dst := range bools {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	if v := os.Getenv("PULSE_HEADERS"); v != "" {
		cfg.Headers = parsePairs(v)
	}
}

// parsePairs parses "k1=v1,k2=v2".
func parsePairs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// OpenStorage builds the storage adapter described by cfg. The returned
// close function releases backend resources.
func OpenStorage(cfg StorageConfig) (StorageAdapter, func() error, error) {
	noop := func() error { return nil }
	path := cfg.Path
	if path == "" {
		path = DefaultStoragePath
	}

	switch strings.ToLower(cfg.Type) {
	case "", StorageFile:
		var opts []adapters.FileStorageOption
		if cfg.Compress {
			opts = append(opts, adapters.WithCompression())
		}
		fs, err := adapters.NewFileStorageAdapter(path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		return fs, noop, nil
	case StoragePebble:
		ps, err := adapters.NewPebbleStorageAdapter(adapters.PebbleOptions{Dir: path})
		if err != nil {
			return nil, nil, fmt.Errorf("open pebble storage: %w", err)
		}
		return ps, ps.Close, nil
	case StorageRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("redis storage requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return adapters.NewRedisStorageAdapter(client, cfg.RedisPrefix, 0), client.Close, nil
	case StorageNone:
		return adapters.NewNoOpStorageAdapter(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// ClientConfig converts f into a ClientConfig with its storage opened. The
// returned close function releases the storage backend.
func (f *FileConfig) ClientConfig() (ClientConfig, func() error, error) {
	storage, closeStorage, err := OpenStorage(f.Storage)
	if err != nil {
		return ClientConfig{}, nil, err
	}

	config := ClientConfig{
		AppKey:            f.AppKey,
		URL:               f.URL,
		DeviceID:          f.DeviceID,
		AppVersion:        f.AppVersion,
		CountryCode:       f.CountryCode,
		City:              f.City,
		IPAddress:         f.IPAddress,
		Interval:          f.Interval,
		QueueSize:         f.QueueSize,
		FailTimeout:       f.FailTimeout,
		SessionUpdate:     f.SessionUpdate,
		MaxEvents:         f.MaxEvents,
		ConsentSyncWindow: f.ConsentSyncWindow,
		ForcePost:         f.ForcePost,
		RequireConsent:    f.RequireConsent,
		Debug:             f.Debug,
		Metrics:           f.Metrics,
		Headers:           f.Headers,
		StoragePath:       f.Storage.Path,
		StorageAdapter:    storage,
	}
	if f.LogLevel != "" {
		level, err := adapters.ParseLogLevel(f.LogLevel)
		if err != nil {
			_ = closeStorage()
			return ClientConfig{}, nil, err
		}
		config.LoggerAdapter = adapters.NewPrintLoggerAdapter(level)
	}
	return config, closeStorage, nil
}
