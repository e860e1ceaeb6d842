package configs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/tradeflux/internal/risk"
)

// EnvPrefix prefixes every environment override, e.g. TRADEFLUX_EXCHANGE_API_KEY.
const EnvPrefix = "TRADEFLUX_"

type Config struct {
	// 基础配置
	Symbols  []string `json:"symbols" yaml:"symbols" env:"SYMBOLS" envSeparator:","` // 交易对列表
	LogLevel string   `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	Proxy    string   `json:"proxy" yaml:"proxy" env:"PROXY"`

	Database Database `json:"database" yaml:"database" envPrefix:"DATABASE_"`

	// 风险控制参数
	RiskParams risk.RiskParameters `json:"risk_parameters" yaml:"risk_params" envPrefix:"RISK_"`

	// 交易参数
	TradingConfig TradingConfig `json:"trading_config" yaml:"trading_config" envPrefix:"TRADING_"`

	// 交易所配置
	ExchangeConfig ExchangeConfig `json:"exchange_config" yaml:"exchange_config" envPrefix:"EXCHANGE_"`

	Reconnect Reconnect `json:"reconnect" yaml:"reconnect" envPrefix:"RECONNECT_"`
	Discovery Discovery `json:"discovery" yaml:"discovery" envPrefix:"DISCOVERY_"`
	HTTP      HTTP      `json:"http" yaml:"http" envPrefix:"HTTP_"`
}

type TradingConfig struct {
	HistorySize        int    `json:"history_size" yaml:"history_size" env:"HISTORY_SIZE"`                      // 成交历史长度
	CorrelationTimeout string `json:"correlation_timeout" yaml:"correlation_timeout" env:"CORRELATION_TIMEOUT"` // 下单确认超时
	OrderType          string `json:"order_type" yaml:"order_type" env:"ORDER_TYPE"`                            // 订单类型(market/limit)
}

type Database struct {
	ConnStr string `json:"conn_str" yaml:"conn_str" env:"CONN_STR"` // 数据库连接字符串, 为空时不记录审计日志
}

type ExchangeConfig struct {
	Debug     bool   `json:"debug" yaml:"debug" env:"DEBUG"`
	APIKey    string `json:"api_key" yaml:"api_key" env:"API_KEY"`          // 交易所API密钥
	SecretKey string `json:"secret_key" yaml:"secret_key" env:"SECRET_KEY"` // 交易所密钥
	WSURL     string `json:"ws_url" yaml:"ws_url" env:"WS_URL"`
	// RESTProvider is "bitfinex", "binance" or empty for none.
	RESTProvider string `json:"rest_provider" yaml:"rest_provider" env:"REST_PROVIDER"`
	RESTURL      string `json:"rest_url" yaml:"rest_url" env:"REST_URL"`
	QuoteAsset   string `json:"quote_asset" yaml:"quote_asset" env:"QUOTE_ASSET"`
}

type Reconnect struct {
	Attempts int    `json:"attempts" yaml:"attempts" env:"ATTEMPTS"`
	MinWait  string `json:"min_wait" yaml:"min_wait" env:"MIN_WAIT"`
	MaxWait  string `json:"max_wait" yaml:"max_wait" env:"MAX_WAIT"`
}

type Discovery struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Interval string `json:"interval" yaml:"interval" env:"INTERVAL"`
}

type HTTP struct {
	Addr string `json:"addr" yaml:"addr" env:"ADDR"` // 为空时不启动
}

// Load reads the config file (JSON, or YAML by extension), then applies
// environment overrides, a .env file included, and fills in defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RiskParams.MinOrderValue <= 0 {
		c.RiskParams.MinOrderValue = risk.DefaultMinOrderValue
	}
	if c.TradingConfig.HistorySize <= 0 {
		c.TradingConfig.HistorySize = 100
	}
	if c.TradingConfig.CorrelationTimeout == "" {
		c.TradingConfig.CorrelationTimeout = "30s"
	}
	if c.TradingConfig.OrderType == "" {
		c.TradingConfig.OrderType = "limit"
	}
	if c.Reconnect.MinWait == "" {
		c.Reconnect.MinWait = "1s"
	}
	if c.Reconnect.MaxWait == "" {
		c.Reconnect.MaxWait = "30s"
	}
	if c.Discovery.Interval == "" {
		c.Discovery.Interval = "12h"
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"trading_config.correlation_timeout": c.TradingConfig.CorrelationTimeout,
		"reconnect.min_wait":                 c.Reconnect.MinWait,
		"reconnect.max_wait":                 c.Reconnect.MaxWait,
		"discovery.interval":                 c.Discovery.Interval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}

	switch strings.ToLower(c.TradingConfig.OrderType) {
	case "limit", "market":
	default:
		return fmt.Errorf("invalid trading_config.order_type %q, try one of market, limit", c.TradingConfig.OrderType)
	}

	switch strings.ToLower(c.ExchangeConfig.RESTProvider) {
	case "", "bitfinex", "binance":
	default:
		return fmt.Errorf("unknown exchange_config.rest_provider %q", c.ExchangeConfig.RESTProvider)
	}

	if c.ExchangeConfig.APIKey == "" || c.ExchangeConfig.SecretKey == "" {
		return fmt.Errorf("exchange_config.api_key and exchange_config.secret_key are required")
	}
	return nil
}

// Duration parses a validated duration string.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
