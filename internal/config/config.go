package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration.
// It is built once at startup and passed by value to the components.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	RabbitMQ       RabbitMQConfig       `yaml:"rabbitmq"`
	Redis          RedisConfig          `yaml:"redis"`
	Logging        LoggingConfig        `yaml:"logging"`
	App            AppConfig            `yaml:"app"`
	Dispatcher     DispatcherConfig     `yaml:"dispatcher"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Sending        SendingConfig        `yaml:"sending"`
	Transport      TransportConfig      `yaml:"transport"`
	Deliverability DeliverabilityConfig `yaml:"deliverability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// RabbitMQ only carries wake-up notifications; an empty host disables it.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the Redis connection used by the shared rate limiter.
// An empty URL selects the in-process limiter.
type RedisConfig struct {
	URL         string        `yaml:"url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	KeyPrefix   string        `yaml:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// DispatcherConfig holds the worker loop settings
type DispatcherConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	BatchSize       int           `yaml:"batch_size"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	ParkInterval    time.Duration `yaml:"park_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig holds campaign and automation tick settings
type SchedulerConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	AutomationBatchSize int           `yaml:"automation_batch_size"`
}

// SendingConfig holds the global send policy
type SendingConfig struct {
	RatePerMinute    int           `yaml:"rate_per_minute"`
	RatePerHour      int           `yaml:"rate_per_hour"`
	DryRunMode       bool          `yaml:"dry_run_mode"`
	TestSendMode     bool          `yaml:"test_send_mode"`
	TestAllowlist    []string      `yaml:"test_allowlist"`
	LockTTLMinutes   int           `yaml:"lock_ttl_minutes"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// LockTTL returns the stale-claim recovery window.
func (s SendingConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLMinutes) * time.Minute
}

// TransportConfig selects and configures the mail-submission collaborator
type TransportConfig struct {
	Provider string     `yaml:"provider"` // smtp, ses
	SMTP     SMTPConfig `yaml:"smtp"`
	SES      SESConfig  `yaml:"ses"`
}

// SMTPConfig holds SMTP submission settings
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	UseTLS    bool   `yaml:"use_tls"`
}

// Configured reports whether host and credentials are all set.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.User != "" && s.Password != ""
}

// SESConfig holds AWS SES v2 settings
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// Configured reports whether static credentials are set.
func (s SESConfig) Configured() bool {
	return s.AccessKey != "" && s.SecretKey != ""
}

// DeliverabilityConfig holds sender-domain settings and DNS fallback flags
type DeliverabilityConfig struct {
	Domain          string        `yaml:"domain"`
	DKIMSelector    string        `yaml:"dkim_selector"`
	PublicURL       string        `yaml:"public_url"`
	SPFConfigured   bool          `yaml:"spf_configured"`
	DKIMConfigured  bool          `yaml:"dkim_configured"`
	DMARCConfigured bool          `yaml:"dmarc_configured"`
	WarningsEnabled bool          `yaml:"warnings_enabled"`
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
}

// Settings converts the file settings into the domain model.
func (d DeliverabilityConfig) Settings() domain.DeliverabilityConfig {
	return domain.DeliverabilityConfig{
		Domain:          d.Domain,
		DKIMSelector:    d.DKIMSelector,
		PublicURL:       d.PublicURL,
		SPFConfigured:   d.SPFConfigured,
		DKIMConfigured:  d.DKIMConfigured,
		DMARCConfigured: d.DMARCConfigured,
		WarningsEnabled: d.WarningsEnabled,
	}
}

// Load reads and parses the configuration file, fills defaults and applies
// environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Dispatcher.Concurrency == 0 {
		c.Dispatcher.Concurrency = 4
	}
	if c.Dispatcher.BatchSize == 0 {
		c.Dispatcher.BatchSize = 50
	}
	if c.Dispatcher.TickInterval == 0 {
		c.Dispatcher.TickInterval = 5 * time.Second
	}
	if c.Dispatcher.SendTimeout == 0 {
		c.Dispatcher.SendTimeout = 30 * time.Second
	}
	if c.Dispatcher.ParkInterval == 0 {
		c.Dispatcher.ParkInterval = 5 * time.Minute
	}
	if c.Dispatcher.ShutdownTimeout == 0 {
		c.Dispatcher.ShutdownTimeout = 30 * time.Second
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = 30 * time.Second
	}
	if c.Scheduler.AutomationBatchSize == 0 {
		c.Scheduler.AutomationBatchSize = 100
	}
	if c.Sending.LockTTLMinutes == 0 {
		c.Sending.LockTTLMinutes = 10
	}
	if c.Sending.MaxAttempts == 0 {
		c.Sending.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.Sending.BackoffBase == 0 {
		c.Sending.BackoffBase = time.Minute
	}
	if c.Sending.BackoffMax == 0 {
		c.Sending.BackoffMax = time.Hour
	}
	if c.Sending.FailureThreshold == 0 {
		c.Sending.FailureThreshold = domain.DefaultFailureThreshold
	}
	if c.Transport.Provider == "" {
		c.Transport.Provider = "smtp"
	}
	if c.Transport.SMTP.Port == 0 {
		c.Transport.SMTP.Port = 587
	}
	if c.Deliverability.DKIMSelector == "" {
		c.Deliverability.DKIMSelector = "default"
	}
	if c.Deliverability.LookupTimeout == 0 {
		c.Deliverability.LookupTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "email-delivery"
	}
}

// ApplyEnv overlays the process-wide environment variables on top of the
// file configuration. lookup is os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"SEND_RATE_PER_MINUTE": &c.Sending.RatePerMinute,
		"SEND_RATE_PER_HOUR":   &c.Sending.RatePerHour,
		"LOCK_TTL_MINUTES":     &c.Sending.LockTTLMinutes,
		"SMTP_PORT":            &c.Transport.SMTP.Port,
	}
	for key, dest := range ints {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dest = n
		}
	}

	bools := map[string]*bool{
		"DRY_RUN_MODE":                    &c.Sending.DryRunMode,
		"TEST_SEND_MODE":                  &c.Sending.TestSendMode,
		"DELIVERABILITY_WARNINGS_ENABLED": &c.Deliverability.WarningsEnabled,
		"SPF_CONFIGURED":                  &c.Deliverability.SPFConfigured,
		"DKIM_CONFIGURED":                 &c.Deliverability.DKIMConfigured,
		"DMARC_CONFIGURED":                &c.Deliverability.DMARCConfigured,
	}
	for key, dest := range bools {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dest = b
		}
	}

	strs := map[string]*string{
		"DELIVERABILITY_DOMAIN": &c.Deliverability.Domain,
		"DKIM_SELECTOR":         &c.Deliverability.DKIMSelector,
		"PUBLIC_URL":            &c.Deliverability.PublicURL,
		"SMTP_HOST":             &c.Transport.SMTP.Host,
		"SMTP_USER":             &c.Transport.SMTP.User,
		"SMTP_PASS":             &c.Transport.SMTP.Password,
		"SMTP_FROM":             &c.Transport.SMTP.FromEmail,
		"REDIS_URL":             &c.Redis.URL,
	}
	for key, dest := range strs {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dest = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("TEST_SEND_ALLOWLIST"); ok {
		c.Sending.TestAllowlist = splitList(v)
	}

	return nil
}

// parseBool accepts the usual strconv forms plus yes/no and on/off.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host != "" {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	if c.Sending.RatePerMinute < 0 || c.Sending.RatePerHour < 0 {
		return fmt.Errorf("send rates must not be negative")
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher concurrency must be greater than 0")
	}

	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher batch_size must be greater than 0")
	}

	if c.Dispatcher.TickInterval <= 0 {
		return fmt.Errorf("dispatcher tick_interval must be greater than 0")
	}

	if c.Dispatcher.SendTimeout <= 0 {
		return fmt.Errorf("dispatcher send_timeout must be greater than 0")
	}

	if c.Sending.MaxAttempts <= 0 {
		return fmt.Errorf("sending max_attempts must be greater than 0")
	}

	// a claim must outlive the send it protects, with room for the guard
	// and limiter calls around it
	if ttl := c.Sending.LockTTL(); ttl > 0 && 2*c.Dispatcher.SendTimeout > ttl {
		return fmt.Errorf("dispatcher send_timeout %s must be at most half of lock ttl %s",
			c.Dispatcher.SendTimeout, ttl)
	}

	switch c.Transport.Provider {
	case "smtp", "ses":
	default:
		return fmt.Errorf("unknown transport provider: %s", c.Transport.Provider)
	}

	return c.Validate()
}
