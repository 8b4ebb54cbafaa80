package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/backoffice/internal/eventbus"
)

// Driver names accepted by the Storage, Bus and Analytics sections.
const (
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

// Config holds the complete application configuration, loadable from
// environment variables (BACKOFFICE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (BACKOFFICE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Storage      StorageConfig
	Bus          BusConfig
	Analytics    AnalyticsConfig
	Worker       WorkerConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StorageConfig selects the document store holding users, orders and promo
// codes.
type StorageConfig struct {
	Driver        string `default:"mongo"      usage:"Storage driver: mongo or memory"`
	MongoURI      string `usage:"MongoDB connection URI (BACKOFFICE_STORAGE_MONGO_URI or MONGODB_URI)" flag:"mongo-uri"`
	MongoDatabase string `default:"backoffice" usage:"MongoDB database name" flag:"mongo-database"`
}

// BusConfig selects the event queue.
type BusConfig struct {
	Driver        string `default:"redis"  usage:"Event bus driver: redis or memory"`
	RedisAddr     string `usage:"Redis address or redis:// URL (BACKOFFICE_BUS_REDIS_ADDR or REDIS_URL)" flag:"redis-addr"`
	RedisPassword string `usage:"Redis password" flag:"redis-password"`
	RedisDB       int    `default:"0"      usage:"Redis database number" flag:"redis-db"`
	Queue         string `default:"events" usage:"Queue name, used as the Redis key prefix"`
	Concurrency   int    `default:"4"      usage:"Concurrent workers"`
	Policy        eventbus.Policy
}

// AnalyticsConfig selects where consumed events are stored.
type AnalyticsConfig struct {
	Driver      string `default:"postgres"  usage:"Analytics sink: postgres or file"`
	DatabaseURL string `usage:"PostgreSQL URL of the analytics warehouse (BACKOFFICE_ANALYTICS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Dir         string `default:"analytics" usage:"Output directory of the file sink" flag:"analytics-dir"`
}

// WorkerConfig controls the analytics worker, embedded in the API process or
// run standalone.
type WorkerConfig struct {
	Embedded   bool   `default:"false"        usage:"Consume events inside the API process" flag:"embedded-worker"`
	HealthAddr string `default:"0.0.0.0:8081" usage:"Standalone worker health endpoint address" flag:"worker-health-addr"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BACKOFFICE",
		Files:     []string{"config.yaml", "/etc/backoffice/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// Validate checks the settings the API process uses. Analytics settings are
// checked only when the worker is embedded.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			return errors.New("mongo URI is required: set BACKOFFICE_STORAGE_MONGO_URI or MONGODB_URI")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if c.EmbeddedWorker() {
		return c.validateAnalytics()
	}
	return nil
}

// ValidateWorker checks the settings the standalone worker uses. It needs a
// shared bus to consume from.
func (c *Config) ValidateWorker() error {
	if c.Bus.Driver != DriverRedis {
		return errors.Errorf("standalone worker requires the %s bus, got %q", DriverRedis, c.Bus.Driver)
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	return c.validateAnalytics()
}

func (c *Config) validateBus() error {
	switch c.Bus.Driver {
	case DriverRedis:
		if c.Bus.RedisAddr == "" {
			return errors.New("redis address is required: set BACKOFFICE_BUS_REDIS_ADDR or REDIS_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown bus driver %q", c.Bus.Driver)
	}
	return nil
}

func (c *Config) validateAnalytics() error {
	switch c.Analytics.Driver {
	case DriverPostgres:
		if c.Analytics.DatabaseURL == "" {
			return errors.New("database URL is required: set BACKOFFICE_ANALYTICS_DATABASE_URL or DATABASE_URL")
		}
	case DriverFile:
	default:
		return errors.Errorf("unknown analytics driver %q", c.Analytics.Driver)
	}
	return nil
}

// EmbeddedWorker reports whether the API process consumes events itself.
// An in-memory bus cannot be shared with another process.
func (c *Config) EmbeddedWorker() bool {
	return c.Worker.Embedded || c.Bus.Driver == DriverMemory
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BACKOFFICE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	for _, v := range []struct {
		dst *string
		env string
	}{
		{&c.Storage.MongoURI, "MONGODB_URI"},
		{&c.Bus.RedisAddr, "REDIS_URL"},
		{&c.Analytics.DatabaseURL, "DATABASE_URL"},
	} {
		if *v.dst == "" {
			*v.dst = os.Getenv(v.env)
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Bus.Policy == (eventbus.Policy{}) {
		c.Bus.Policy = eventbus.DefaultPolicy()
	}
}
