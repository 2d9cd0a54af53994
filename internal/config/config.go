// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
	Quota         QuotaConfig         `yaml:"quota" mapstructure:"quota"`
	Prediction    PredictionConfig    `yaml:"prediction" mapstructure:"prediction"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis      RedisConfig           `yaml:"redis" mapstructure:"redis"`
	Prediction PredictionCacheConfig `yaml:"prediction" mapstructure:"prediction"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// PredictionCacheConfig 预测结果缓存配置
type PredictionCacheConfig struct {
	// Backend 缓存后端：memory（单进程）或 redis（多进程共享）
	Backend    string        `yaml:"backend" mapstructure:"backend"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
}

// LLMConfig 外部预测服务配置
type LLMConfig struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxResponseTokens 单次响应的 Token 上限
	MaxResponseTokens int `yaml:"max_response_tokens" mapstructure:"max_response_tokens"`
	// Temperature 采样温度，取低值以保证输出稳定
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	// MaxRetries 单次执行内的最大尝试次数
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	// BaseBackoff 尝试间指数退避的基础时长
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	// MaxBackoff 单次退避的上限
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen        int           `yaml:"max_len" mapstructure:"max_len"`
	BlockTimeout  time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit    int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff  BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// RateLimitConfig 固定窗口限流配置，按操作类别区分
type RateLimitConfig struct {
	// Backend 窗口存储后端：memory 或 redis
	Backend string `yaml:"backend" mapstructure:"backend"`

	General   WindowConfig `yaml:"general" mapstructure:"general"`
	Diagnosis WindowConfig `yaml:"diagnosis" mapstructure:"diagnosis"`
	Emergency WindowConfig `yaml:"emergency" mapstructure:"emergency"`

	// SweepInterval 内存后端过期窗口清理周期
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// WindowConfig 单个操作类别的窗口配置
type WindowConfig struct {
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
}

// QuotaConfig Token 配额配置
type QuotaConfig struct {
	MaxTokensPerRequest int64 `yaml:"max_tokens_per_request" mapstructure:"max_tokens_per_request"`
	MaxTokensPerDay     int64 `yaml:"max_tokens_per_day" mapstructure:"max_tokens_per_day"`
	MaxTokensPerMonth   int64 `yaml:"max_tokens_per_month" mapstructure:"max_tokens_per_month"`

	// CostPer1KTokens 每千 Token 的美元单价
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens" mapstructure:"cost_per_1k_tokens"`
	// CharsPerToken Token 估算的字符数启发值
	CharsPerToken int `yaml:"chars_per_token" mapstructure:"chars_per_token"`
	// PromptOverheadTokens 系统提示词的固定 Token 开销
	PromptOverheadTokens int `yaml:"prompt_overhead_tokens" mapstructure:"prompt_overhead_tokens"`
	// ExpectedResponseTokens 预估响应 Token 数
	ExpectedResponseTokens int `yaml:"expected_response_tokens" mapstructure:"expected_response_tokens"`
}

// PredictionConfig 预测结果约束配置
type PredictionConfig struct {
	MaxPredictions int     `yaml:"max_predictions" mapstructure:"max_predictions"`
	MinConfidence  float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxConfidence  float64 `yaml:"max_confidence" mapstructure:"max_confidence"`
	IntervalMargin float64 `yaml:"interval_margin" mapstructure:"interval_margin"`

	// MaxRunRetries 失败重试工作流的最大重试次数
	MaxRunRetries int `yaml:"max_run_retries" mapstructure:"max_run_retries"`
	// RetryBaseDelay 失败重试工作流的基础延迟
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
	// RetryMaxDelay 失败重试工作流的延迟上限
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" mapstructure:"retry_max_delay"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter   string  `yaml:"exporter" mapstructure:"exporter"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// WindowFor 返回操作类别对应的窗口配置
func (c *RateLimitConfig) WindowFor(class string) WindowConfig {
	switch class {
	case "diagnosis":
		return c.Diagnosis
	case "emergency":
		return c.Emergency
	default:
		return c.General
	}
}
