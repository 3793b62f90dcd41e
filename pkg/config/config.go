package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimit       struct {
			Enabled      bool    `yaml:"enabled" default:"true"`
			Burst        float64 `yaml:"burst" default:"50"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"25"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	FMP struct {
		APIKey          string        `yaml:"api_key" validate:"required"`
		BaseURL         string        `yaml:"base_url" default:"https://financialmodelingprep.com/api/v3"`
		WebSocketURL    string        `yaml:"websocket_url" default:"wss://websockets.financialmodelingprep.com"`
		EnableStreaming *bool         `yaml:"enable_streaming" default:"true"`
		PingInterval    time.Duration `yaml:"ping_interval" default:"25s"`
		RequestTimeout  time.Duration `yaml:"request_timeout" default:"15s"`
		Reconnect       struct {
			BaseDelay   time.Duration `yaml:"base_delay" default:"1s"`
			MaxDelay    time.Duration `yaml:"max_delay" default:"30s"`
			MaxAttempts int           `yaml:"max_attempts" default:"10"`
		} `yaml:"reconnect"`
	} `yaml:"fmp"`
	Cache struct {
		QuoteTTL      time.Duration `yaml:"quote_ttl" default:"10s"`
		ExtendedTTL   time.Duration `yaml:"extended_ttl" default:"10s"`
		NewsTTL       time.Duration `yaml:"news_ttl" default:"5m"`
		HistoricalTTL time.Duration `yaml:"historical_ttl" default:"1h"`
		SearchTTL     time.Duration `yaml:"search_ttl" default:"24h"`
		ProfileTTL    time.Duration `yaml:"profile_ttl" default:"24h"`
		DividendTTL   time.Duration `yaml:"dividend_ttl" default:"168h"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"2000"`
	} `yaml:"cache"`
	Budget struct {
		DailyCallLimit   int64   `yaml:"daily_call_limit" default:"5000"`
		MonthlyCallLimit int64   `yaml:"monthly_call_limit" default:"100000"`
		CostPerCallUSD   float64 `yaml:"cost_per_call_usd" default:"0.0004"`
	} `yaml:"budget"`
	Breaker struct {
		FailureThreshold int           `yaml:"failure_threshold" default:"5"`
		Cooldown         time.Duration `yaml:"cooldown" default:"60s"`
		HalfOpenProbes   int           `yaml:"half_open_probes" default:"2"`
	} `yaml:"breaker"`
	Queue struct {
		RequestSpacing time.Duration `yaml:"request_spacing" default:"250ms"`
		MaxRetries     int           `yaml:"max_retries" default:"3"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay" default:"500ms"`
	} `yaml:"queue"`
	Polling struct {
		Interval time.Duration `yaml:"interval" default:"15s"`
		// Symbols the stream cannot push (index-tracking instruments etc).
		PollOnlySymbols []string `yaml:"poll_only_symbols"`
	} `yaml:"polling"`
	Quote struct {
		// Synthetic half-spread applied when the provider omits bid/ask.
		// Zero disables the fallback.
		SyntheticSpread float64 `yaml:"synthetic_spread" default:"0.01"`
	} `yaml:"quote"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"stock-updates"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
	} `yaml:"kafka"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if v := os.Getenv("FMP_API_KEY"); v != "" {
		c.FMP.APIKey = v
	}
	if v := os.Getenv("FMP_WEBSOCKET_URL"); v != "" {
		c.FMP.WebSocketURL = v
	}
	if v := os.Getenv("FMP_ENABLE_STREAMING"); v != "" {
		enabled, perr := strconv.ParseBool(v)
		if perr != nil {
			return nil, fmt.Errorf("FMP_ENABLE_STREAMING: %w", perr)
		}
		c.FMP.EnableStreaming = &enabled
	}
	if v := os.Getenv("POLL_ONLY_SYMBOLS"); v != "" {
		c.Polling.PollOnlySymbols = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, perr := splitHostPort(v)
		if perr != nil {
			return nil, fmt.Errorf("REDIS_ADDR: %w", perr)
		}
		c.Redis.Enabled = true
		c.Redis.Host = host
		c.Redis.Port = port
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks if the configuration is valid. A missing API key is a
// construction-time failure, never a degraded runtime mode.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if c.FMP.Reconnect.BaseDelay <= 0 || c.FMP.Reconnect.MaxDelay < c.FMP.Reconnect.BaseDelay {
		return fmt.Errorf("fmp.reconnect delays invalid: base=%s max=%s",
			c.FMP.Reconnect.BaseDelay, c.FMP.Reconnect.MaxDelay)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	return nil
}

// StreamingEnabled reports whether the push stream should be used at all.
func (c *Config) StreamingEnabled() bool {
	return c.FMP.EnableStreaming == nil || *c.FMP.EnableStreaming
}

func splitHostPort(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, 6379, nil
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q", addr)
	}
	return addr[:i], port, nil
}
