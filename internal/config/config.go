package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// 雪花算法机器ID
	WorkerID int64 `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	RechargeCompleted string `mapstructure:"recharge_completed"`
}

// GatewayConfig 支付网关配置
// KeySecret 用于同步校验签名，WebhookSecret 只用于 webhook，两者不能混用
type GatewayConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	KeyID           string        `mapstructure:"key_id"`
	KeySecret       string        `mapstructure:"key_secret"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SignatureHeader string        `mapstructure:"signature_header"`
	Currency        string        `mapstructure:"currency"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer"`
	JWTAudience    string        `mapstructure:"jwt_audience"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type BusinessConfig struct {
	// pending 状态的充值单超过该时间未发起支付则取消
	PendingTimeoutMinutes int `mapstructure:"pending_timeout_minutes"`
	// processing 状态停留超过该时间交给补偿任务
	ProcessingTimeoutMinutes int           `mapstructure:"processing_timeout_minutes"`
	LedgerTimeout            time.Duration `mapstructure:"ledger_timeout"`
	MaxRechargeAmount        string        `mapstructure:"max_recharge_amount"`
	MaxRetryCount            int           `mapstructure:"max_retry_count"`
}

type LogConfig struct {
	Env string `mapstructure:"env"`
}

const envPrefix = "RECHARGE"

// LoadConfig 加载配置文件，环境变量 RECHARGE_XXX_YYY 覆盖 xxx.yyy
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("gateway.signature_header", "X-Razorpay-Signature")
	v.SetDefault("gateway.currency", "INR")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("auth.access_token_ttl", 2*time.Hour)
	v.SetDefault("business.pending_timeout_minutes", 30)
	v.SetDefault("business.processing_timeout_minutes", 5)
	v.SetDefault("business.ledger_timeout", 5*time.Second)
	v.SetDefault("business.max_recharge_amount", "500000")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("kafka.topic.recharge_completed", "wallet.recharge.completed")
	v.SetDefault("log.env", "prod")

	// AutomaticEnv 只对已知 key 生效，密钥类配置没有默认值，需要显式绑定
	for _, key := range []string{
		"gateway.key_id", "gateway.key_secret", "gateway.webhook_secret",
		"auth.jwt_secret", "mysql.password", "redis.password",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate 校验启动必需的配置
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.KeyID == "" {
		errs = append(errs, errors.New("gateway.key_id is required"))
	}
	if c.Gateway.KeySecret == "" {
		errs = append(errs, errors.New("gateway.key_secret is required"))
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, errors.New("gateway.webhook_secret is required"))
	}
	if c.Gateway.WebhookSecret != "" && c.Gateway.WebhookSecret == c.Gateway.KeySecret {
		errs = append(errs, errors.New("gateway.webhook_secret must differ from gateway.key_secret"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Business.ProcessingTimeoutMinutes <= 0 {
		errs = append(errs, errors.New("business.processing_timeout_minutes must be positive"))
	}
	// 补偿阈值必须长于实时路径查单加入账的最长耗时，否则补偿会和还在处理的请求并发
	live := c.Gateway.Timeout + c.Business.LedgerTimeout
	if c.Business.ProcessingTimeoutMinutes > 0 && time.Duration(c.Business.ProcessingTimeoutMinutes)*time.Minute <= live {
		errs = append(errs, fmt.Errorf("business.processing_timeout_minutes must exceed gateway.timeout + business.ledger_timeout (%s)", live))
	}
	return errors.Join(errs...)
}
